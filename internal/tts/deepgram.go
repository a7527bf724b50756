package tts

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const deepgramSpeakURL = "wss://api.deepgram.com/v1/speak?encoding=mulaw&sample_rate=8000&model=%s"

// deepgramKeepalive keeps the speak socket open between replies.
const deepgramKeepalive = 8 * time.Second

// Deepgram streams synthesized speech over the Speak WebSocket protocol.
// Audio comes back as binary mu-law 8kHz frames. On an unexpected
// disconnect while running it reconnects in the background; sends issued
// meanwhile wait for the reconnect to complete.
type Deepgram struct {
	apiKey string
	model  string

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

// NewDeepgram creates a Deepgram synthesis client.
func NewDeepgram(apiKey, model string) *Deepgram {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	return &Deepgram{
		apiKey: apiKey,
		model:  model,
		audio:  make(chan []byte, 4096),
		stopCh: make(chan struct{}),
	}
}

func (d *Deepgram) openWS() (*websocket.Conn, error) {
	if d.apiKey == "" {
		return nil, fmt.Errorf("deepgram tts: API key is empty")
	}
	headers := map[string][]string{"Authorization": {"Token " + d.apiKey}}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.Dial(fmt.Sprintf(deepgramSpeakURL, d.model), headers)
	if err != nil {
		if resp != nil {
			log.Printf("deepgram tts: connection failed with status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect to Deepgram TTS: %w", err)
	}
	return conn, nil
}

// Connect opens the synthesis stream.
func (d *Deepgram) Connect() error {
	conn, err := d.openWS()
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.conn = conn
	d.running = true
	d.mu.Unlock()
	go d.receiveLoop(conn)
	go d.keepaliveLoop()
	return nil
}

func (d *Deepgram) keepaliveLoop() {
	ticker := time.NewTicker(deepgramKeepalive)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.mu.Lock()
			conn := d.conn
			running := d.running
			d.mu.Unlock()
			if !running || conn == nil {
				return
			}
			d.writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			d.writeMu.Unlock()
			if err != nil {
				log.Printf("deepgram tts: keepalive failed: %v", err)
			}
		}
	}
}

func (d *Deepgram) receiveLoop(conn *websocket.Conn) {
	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			d.mu.Lock()
			running := d.running
			d.mu.Unlock()
			if running {
				log.Printf("deepgram tts: stream lost: %v", err)
				d.startReconnect()
			}
			return
		}
		if msgType == websocket.BinaryMessage {
			d.enqueue(message)
			continue
		}
		var data map[string]any
		if json.Unmarshal(message, &data) == nil {
			if errVal, ok := data["error"]; ok {
				log.Printf("deepgram tts: upstream error: %v", errVal)
			}
		}
	}
}

func (d *Deepgram) enqueue(chunk []byte) {
	d.audioMu.Lock()
	defer d.audioMu.Unlock()
	if d.audioClosed {
		return
	}
	select {
	case d.audio <- chunk:
	default:
		log.Println("deepgram tts: audio queue full, dropping chunk")
	}
}

func (d *Deepgram) closeAudio() {
	d.audioMu.Lock()
	if !d.audioClosed {
		d.audioClosed = true
		close(d.audio)
	}
	d.audioMu.Unlock()
}

func (d *Deepgram) startReconnect() {
	finish, ok := d.gate.Begin()
	if !ok {
		return
	}
	go func() {
		defer finish()
		d.mu.Lock()
		old := d.conn
		d.mu.Unlock()
		if old != nil {
			_ = old.Close()
		}
		conn, err := d.openWS()
		if err != nil {
			log.Printf("deepgram tts: reconnect failed: %v", err)
			d.mu.Lock()
			d.running = false
			d.mu.Unlock()
			return
		}
		d.mu.Lock()
		d.conn = conn
		d.mu.Unlock()
		go d.receiveLoop(conn)
		log.Println("deepgram tts: reconnected")
	}()
}

func (d *Deepgram) writeControl(msg map[string]string) error {
	d.gate.Wait()
	d.mu.Lock()
	conn := d.conn
	running := d.running
	d.mu.Unlock()
	if !running || conn == nil {
		return nil
	}
	d.writeMu.Lock()
	err := conn.WriteJSON(msg)
	d.writeMu.Unlock()
	return err
}

// SendText forwards a chunk of reply text to the synthesizer.
func (d *Deepgram) SendText(text string) error {
	if err := d.writeControl(map[string]string{"type": "Speak", "text": text}); err != nil {
		log.Printf("deepgram tts: send text failed: %v", err)
		d.startReconnect()
	}
	return nil
}

// Flush prompts synthesis of everything sent so far.
func (d *Deepgram) Flush() error {
	if err := d.writeControl(map[string]string{"type": "Flush"}); err != nil {
		log.Printf("deepgram tts: flush failed: %v", err)
		d.startReconnect()
	}
	return nil
}

// Interrupt discards queued audio and cancels in-flight synthesis.
func (d *Deepgram) Interrupt() error {
	for {
		select {
		case _, ok := <-d.audio:
			if !ok {
				// Already closed; nothing left to clear.
				return nil
			}
		default:
			return d.writeControl(map[string]string{"type": "Clear"})
		}
	}
}

// Audio returns the synthesized audio sequence.
func (d *Deepgram) Audio() <-chan []byte { return d.audio }

// Close sends the Close courtesy message and releases the connection.
// Idempotent.
func (d *Deepgram) Close() error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.running = false
		conn := d.conn
		d.conn = nil
		d.mu.Unlock()
		close(d.stopCh)
		if conn != nil {
			d.writeMu.Lock()
			_ = conn.WriteJSON(map[string]string{"type": "Close"})
			d.writeMu.Unlock()
			_ = conn.Close()
		}
		d.closeAudio()
	})
	return nil
}
