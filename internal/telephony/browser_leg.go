package telephony

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/winnie192/voice-agent-healthcare/internal/audio"
)

// browserConfig is the first message a browser client sends.
type browserConfig struct {
	SampleRate int    `json:"sampleRate"`
	CallerID   string `json:"callerId"`
}

// BrowserLeg adapts a browser WebSocket client. Inbound frames are raw PCM16
// at the rate the client announced; outbound mu-law is decoded to PCM16 8kHz
// before sending, since browsers have no mu-law decoder. The browser plays
// audio through speakers next to its own microphone, so this leg is echo
// prone.
type BrowserLeg struct {
	conn       *websocket.Conn
	writeMu    sync.Mutex
	sampleRate int
	callerID   string
}

// NewBrowserLeg performs the config handshake and returns a ready leg.
func NewBrowserLeg(conn *websocket.Conn) (*BrowserLeg, error) {
	_, message, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("browser leg: read config: %w", err)
	}
	var cfg browserConfig
	if err := json.Unmarshal(message, &cfg); err != nil {
		return nil, fmt.Errorf("browser leg: parse config: %w", err)
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	return &BrowserLeg{conn: conn, sampleRate: cfg.SampleRate, callerID: cfg.CallerID}, nil
}

func (l *BrowserLeg) SampleRate() int  { return l.sampleRate }
func (l *BrowserLeg) EchoProne() bool  { return true }
func (l *BrowserLeg) CallerID() string { return l.callerID }

// ReadAudio returns the next binary frame of PCM16 at the client's rate.
func (l *BrowserLeg) ReadAudio() ([]byte, error) {
	for {
		msgType, message, err := l.conn.ReadMessage()
		if err != nil {
			return nil, io.EOF
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		return message, nil
	}
}

// WriteAudio decodes mu-law to PCM16 8kHz and ships it as a binary frame.
func (l *BrowserLeg) WriteAudio(mulaw []byte) error {
	pcm := audio.MuLawToPCM16(mulaw)
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

// ClearPlayback asks the client to drop its playback buffer.
func (l *BrowserLeg) ClearPlayback() error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.conn.WriteJSON(map[string]string{"event": "clear"})
}

func (l *BrowserLeg) Close() error { return l.conn.Close() }
