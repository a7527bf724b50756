package stt

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// keepaliveInterval is how often a KeepAlive message is sent so Deepgram
// does not drop an idle connection between utterances.
const keepaliveInterval = 8 * time.Second

const deepgramListenURL = "wss://api.deepgram.com/v1/listen"

// DeepgramService is a streaming speech recognizer over one WebSocket
// connection. It emits coalesced, finalized utterance transcripts and a
// speech-activity signal used for barge-in. Mid-call stream loss is fatal:
// the transcript channel closes and no reconnect is attempted, since the
// stream cannot be resumed mid-utterance without losing words.
type DeepgramService struct {
	apiKey      string
	transcripts chan string
	speech      chan struct{}
	audioData   chan []byte
	stopCh      chan struct{}

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool

	// gorilla websocket permits one concurrent writer; the audio sender
	// and the keepalive loop share writeMu.
	writeMu sync.Mutex

	// utterance accumulation: finalized fragments of the current utterance,
	// flushed once per utterance boundary
	accMu sync.Mutex
	parts []string

	teardownOnce sync.Once
}

type resultsMessage struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type errorMessage struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

// NewDeepgramService creates a new streaming recognition client.
func NewDeepgramService(apiKey string) *DeepgramService {
	return &DeepgramService{
		apiKey:      apiKey,
		transcripts: make(chan string, 100),
		speech:      make(chan struct{}, 1),
		audioData:   make(chan []byte, 1000),
		stopCh:      make(chan struct{}),
	}
}

// Connect opens the streaming recognition connection for linear PCM at the
// given sample rate. A handshake failure is fatal to the call leg; callers
// must not retry inline.
func (s *DeepgramService) Connect(sampleRate int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}
	if s.apiKey == "" {
		return fmt.Errorf("deepgram API key is empty")
	}

	params := url.Values{}
	params.Set("encoding", "linear16")
	params.Set("sample_rate", fmt.Sprintf("%d", sampleRate))
	params.Set("channels", "1")
	params.Set("model", "nova-2")
	params.Set("punctuate", "true")
	params.Set("interim_results", "true")
	params.Set("endpointing", "200")
	params.Set("vad_events", "true")
	params.Set("utterance_end_ms", "1000")

	wsURL := fmt.Sprintf("%s?%s", deepgramListenURL, params.Encode())
	headers := map[string][]string{
		"Authorization": {"Token " + s.apiKey},
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, resp, err := dialer.Dial(wsURL, headers)
	if err != nil {
		if resp != nil {
			log.Printf("deepgram stt: connection failed with status %d", resp.StatusCode)
		}
		return fmt.Errorf("failed to connect to Deepgram: %w", err)
	}

	s.conn = conn
	s.connected = true

	go s.handleMessages()
	go s.sendAudioData()
	go s.keepaliveLoop()

	log.Printf("deepgram stt: connected (sample_rate=%d)", sampleRate)
	return nil
}

// SendAudio queues linear PCM for recognition. It is fire-and-forget while
// connected; frames sent after Close are silently dropped.
func (s *DeepgramService) SendAudio(pcm []byte) error {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	if !connected {
		return nil
	}
	select {
	case s.audioData <- pcm:
	default:
		log.Println("deepgram stt: audio buffer full, dropping frame")
	}
	return nil
}

// Transcripts returns the channel of finalized utterance transcripts. The
// channel closes when the connection is closed or lost.
func (s *DeepgramService) Transcripts() <-chan string { return s.transcripts }

// SpeechActivity signals detected speech onset. Receiving from the channel
// consumes (clears) the signal. It fires on any detected speech energy,
// whether or not a transcript follows.
func (s *DeepgramService) SpeechActivity() <-chan struct{} { return s.speech }

// ClearSpeechActivity drops any pending speech-activity signal.
func (s *DeepgramService) ClearSpeechActivity() {
	select {
	case <-s.speech:
	default:
	}
}

// Close tears the connection down. It is idempotent and safe to call after a
// prior failure.
func (s *DeepgramService) Close() error {
	s.teardown(true)
	return nil
}

// teardown closes the connection and, after a best-effort flush of the
// pending utterance, the transcript channel. Runs at most once.
func (s *DeepgramService) teardown(courtesy bool) {
	s.teardownOnce.Do(func() {
		close(s.stopCh)
		s.mu.Lock()
		if s.conn != nil {
			if courtesy {
				s.writeMu.Lock()
				_ = s.conn.WriteJSON(map[string]string{"type": "CloseStream"})
				s.writeMu.Unlock()
			}
			_ = s.conn.Close()
			s.conn = nil
		}
		s.connected = false
		s.mu.Unlock()
		s.flushPendingUtterance()
		close(s.transcripts)
		log.Println("deepgram stt: connection closed")
	})
}

func (s *DeepgramService) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn == nil {
				return
			}
			s.writeMu.Lock()
			err := conn.WriteJSON(map[string]string{"type": "KeepAlive"})
			s.writeMu.Unlock()
			if err != nil {
				// Logged only; if the connection is really gone the read
				// loop will notice and tear the stream down.
				log.Printf("deepgram stt: keepalive failed: %v", err)
			}
		}
	}
}

func (s *DeepgramService) sendAudioData() {
	for {
		select {
		case <-s.stopCh:
			return
		case pcm := <-s.audioData:
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn == nil {
				return
			}
			s.writeMu.Lock()
			err := conn.WriteMessage(websocket.BinaryMessage, pcm)
			s.writeMu.Unlock()
			if err != nil {
				log.Printf("deepgram stt: audio send failed: %v", err)
				return
			}
		}
	}
}

func (s *DeepgramService) handleMessages() {
	for {
		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopCh:
				// Normal close.
			default:
				log.Printf("deepgram stt: stream lost: %v", err)
				s.teardown(false)
			}
			return
		}
		s.processMessage(message)
	}
}

func (s *DeepgramService) processMessage(message []byte) {
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &base); err != nil {
		log.Printf("deepgram stt: unmarshal message: %v", err)
		return
	}
	switch base.Type {
	case "SpeechStarted":
		select {
		case s.speech <- struct{}{}:
		default:
		}
	case "Results":
		var msg resultsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("deepgram stt: unmarshal results: %v", err)
			return
		}
		transcript := ""
		if len(msg.Channel.Alternatives) > 0 {
			transcript = strings.TrimSpace(msg.Channel.Alternatives[0].Transcript)
		}
		if msg.IsFinal && transcript != "" {
			s.accMu.Lock()
			s.parts = append(s.parts, transcript)
			s.accMu.Unlock()
		}
		if msg.SpeechFinal {
			s.flushUtterance()
		}
	case "UtteranceEnd":
		s.flushUtterance()
	case "Metadata":
		// connection bookkeeping from Deepgram; nothing to do
	case "Error":
		var msg errorMessage
		_ = json.Unmarshal(message, &msg)
		log.Printf("deepgram stt: upstream error: %s %s", msg.Description, msg.Message)
	default:
		log.Printf("deepgram stt: unknown message type %q", base.Type)
	}
}

// flushUtterance emits the coalesced utterance exactly once per boundary.
// Fragments are joined with single spaces; an empty buffer is a no-op.
func (s *DeepgramService) flushUtterance() {
	s.accMu.Lock()
	utterance := strings.TrimSpace(strings.Join(s.parts, " "))
	s.parts = nil
	s.accMu.Unlock()
	if utterance == "" {
		return
	}
	// Deliver without dropping so no finalized words are lost downstream.
	select {
	case <-s.stopCh:
	case s.transcripts <- utterance:
	}
}

// flushPendingUtterance sends any remaining fragments during teardown. It is
// best-effort and will not block shutdown.
func (s *DeepgramService) flushPendingUtterance() {
	s.accMu.Lock()
	utterance := strings.TrimSpace(strings.Join(s.parts, " "))
	s.parts = nil
	s.accMu.Unlock()
	if utterance == "" {
		return
	}
	select {
	case s.transcripts <- utterance:
	case <-time.After(200 * time.Millisecond):
		log.Println("deepgram stt: timed out delivering final utterance")
	}
}
