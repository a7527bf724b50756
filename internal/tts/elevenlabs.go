package tts

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const elevenLabsStreamURL = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=ulaw_8000"

// ElevenLabs streams synthesized speech over the stream-input WebSocket.
// Audio arrives base64-encoded inside JSON frames. ElevenLabs closes the
// stream after each final generation, so the receive loop reconnects in the
// background whenever a generation completes or the stream drops; sends
// issued meanwhile wait for the reconnect.
type ElevenLabs struct {
	apiKey  string
	voiceID string
	modelID string

	audio       chan []byte
	stopCh      chan struct{}
	audioMu     sync.Mutex
	audioClosed bool

	mu      sync.Mutex
	conn    *websocket.Conn
	running bool
	writeMu sync.Mutex

	gate      reconnectGate
	closeOnce sync.Once
}

type elevenLabsFrame struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewElevenLabs creates an ElevenLabs synthesis client.
func NewElevenLabs(apiKey, voiceID, modelID string) *ElevenLabs {
	if modelID == "" {
		modelID = "eleven_turbo_v2_5"
	}
	return &ElevenLabs{
		apiKey:  apiKey,
		voiceID: voiceID,
		modelID: modelID,
		audio:   make(chan []byte, 4096),
		stopCh:  make(chan struct{}),
	}
}

func (e *ElevenLabs) openWS() (*websocket.Conn, error) {
	if e.apiKey == "" || e.voiceID == "" {
		return nil, fmt.Errorf("elevenlabs tts: api key or voice id missing")
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.Dial(fmt.Sprintf(elevenLabsStreamURL, e.voiceID, e.modelID), nil)
	if err != nil {
		if resp != nil {
			log.Printf("elevenlabs tts: connection failed with status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect to ElevenLabs: %w", err)
	}
	init := map[string]any{
		"text": " ",
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.75,
		},
		"xi_api_key": e.apiKey,
	}
	if err := conn.WriteJSON(init); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("elevenlabs tts: init message: %w", err)
	}
	return conn, nil
}

// Connect opens the synthesis stream.
func (e *ElevenLabs) Connect() error {
	conn, err := e.openWS()
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.conn = conn
	e.running = true
	e.mu.Unlock()
	go e.receiveLoop(conn)
	return nil
}

func (e *ElevenLabs) receiveLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			e.mu.Lock()
			running := e.running
			e.mu.Unlock()
			if running {
				log.Printf("elevenlabs tts: stream lost: %v", err)
				e.startReconnect()
			}
			return
		}
		var frame elevenLabsFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			log.Printf("elevenlabs tts: unmarshal frame: %v", err)
			continue
		}
		if frame.Error != "" || frame.Message != "" {
			log.Printf("elevenlabs tts: upstream notice: %s %s", frame.Error, frame.Message)
		}
		if frame.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(frame.Audio)
			if err != nil {
				log.Printf("elevenlabs tts: decode audio: %v", err)
				continue
			}
			e.enqueue(chunk)
		}
		if frame.IsFinal {
			// The provider ends the stream after a final generation; open a
			// fresh one so the next reply can be spoken.
			e.startReconnect()
			return
		}
	}
}

func (e *ElevenLabs) enqueue(chunk []byte) {
	e.audioMu.Lock()
	defer e.audioMu.Unlock()
	if e.audioClosed {
		return
	}
	select {
	case e.audio <- chunk:
	default:
		log.Println("elevenlabs tts: audio queue full, dropping chunk")
	}
}

func (e *ElevenLabs) closeAudio() {
	e.audioMu.Lock()
	if !e.audioClosed {
		e.audioClosed = true
		close(e.audio)
	}
	e.audioMu.Unlock()
}

func (e *ElevenLabs) startReconnect() {
	finish, ok := e.gate.Begin()
	if !ok {
		return
	}
	go func() {
		defer finish()
		e.mu.Lock()
		old := e.conn
		e.mu.Unlock()
		if old != nil {
			_ = old.Close()
		}
		conn, err := e.openWS()
		if err != nil {
			log.Printf("elevenlabs tts: reconnect failed: %v", err)
			e.mu.Lock()
			e.running = false
			e.mu.Unlock()
			return
		}
		e.mu.Lock()
		e.conn = conn
		e.mu.Unlock()
		go e.receiveLoop(conn)
	}()
}

func (e *ElevenLabs) write(msg map[string]any) error {
	e.gate.Wait()
	e.mu.Lock()
	conn := e.conn
	running := e.running
	e.mu.Unlock()
	if !running || conn == nil {
		return nil
	}
	e.writeMu.Lock()
	err := conn.WriteJSON(msg)
	e.writeMu.Unlock()
	return err
}

// SendText forwards a chunk of reply text to the synthesizer.
func (e *ElevenLabs) SendText(text string) error {
	if err := e.write(map[string]any{"text": text, "try_trigger_generation": true}); err != nil {
		log.Printf("elevenlabs tts: send text failed: %v", err)
		e.startReconnect()
	}
	return nil
}

// Flush forces generation of everything sent so far. ElevenLabs treats an
// empty text frame as the end-of-sequence trigger.
func (e *ElevenLabs) Flush() error {
	if err := e.write(map[string]any{"text": ""}); err != nil {
		log.Printf("elevenlabs tts: flush failed: %v", err)
		e.startReconnect()
	}
	return nil
}

// Interrupt discards queued audio and drops the in-flight generation by
// cycling the connection.
func (e *ElevenLabs) Interrupt() error {
	for {
		select {
		case _, ok := <-e.audio:
			if !ok {
				// Already closed; nothing left to clear.
				return nil
			}
		default:
			e.startReconnect()
			return nil
		}
	}
}

// Audio returns the synthesized audio sequence.
func (e *ElevenLabs) Audio() <-chan []byte { return e.audio }

// Close releases the connection. Idempotent.
func (e *ElevenLabs) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.running = false
		conn := e.conn
		e.conn = nil
		e.mu.Unlock()
		close(e.stopCh)
		if conn != nil {
			// End-of-sequence frame so the provider finalizes cleanly.
			e.writeMu.Lock()
			_ = conn.WriteJSON(map[string]any{"text": ""})
			e.writeMu.Unlock()
			_ = conn.Close()
		}
		e.closeAudio()
	})
	return nil
}
