package telephony

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/winnie192/voice-agent-healthcare/internal/audio"
)

// twilioEvent is the envelope of a Twilio media-stream message.
type twilioEvent struct {
	Event string `json:"event"`
	Start *struct {
		StreamSid        string            `json:"streamSid"`
		CallSid          string            `json:"callSid"`
		CustomParameters map[string]string `json:"customParameters"`
	} `json:"start,omitempty"`
	Media *struct {
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
	StreamSid string `json:"streamSid,omitempty"`
}

// TwilioLeg adapts a Twilio bidirectional media stream. Audio is mu-law
// 8kHz base64 in both directions; barge-in uses the stream's clear event to
// drop audio Twilio has already buffered.
type TwilioLeg struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	streamSid string
	callerID  string
}

// NewTwilioLeg reads media-stream events until the start event arrives, then
// returns a leg ready for audio.
func NewTwilioLeg(conn *websocket.Conn) (*TwilioLeg, error) {
	leg := &TwilioLeg{conn: conn}
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("twilio leg: read start event: %w", err)
		}
		var ev twilioEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			continue
		}
		switch ev.Event {
		case "connected":
			continue
		case "start":
			if ev.Start == nil {
				return nil, fmt.Errorf("twilio leg: start event without payload")
			}
			leg.streamSid = ev.Start.StreamSid
			leg.callerID = ev.Start.CustomParameters["caller"]
			log.Printf("twilio leg: stream %s started", leg.streamSid)
			return leg, nil
		case "stop":
			return nil, io.EOF
		}
	}
}

func (l *TwilioLeg) SampleRate() int  { return 8000 }
func (l *TwilioLeg) EchoProne() bool  { return false }
func (l *TwilioLeg) CallerID() string { return l.callerID }

// ReadAudio returns the next media frame as PCM16 8kHz.
func (l *TwilioLeg) ReadAudio() ([]byte, error) {
	for {
		_, message, err := l.conn.ReadMessage()
		if err != nil {
			return nil, io.EOF
		}
		var ev twilioEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			continue
		}
		switch ev.Event {
		case "media":
			if ev.Media == nil {
				continue
			}
			pcm, err := audio.DecodeTelephonyMedia(ev.Media.Payload)
			if err != nil {
				log.Printf("twilio leg: bad media payload: %v", err)
				continue
			}
			return pcm, nil
		case "stop":
			return nil, io.EOF
		}
	}
}

// WriteAudio sends a mu-law chunk back down the stream.
func (l *TwilioLeg) WriteAudio(mulaw []byte) error {
	msg := map[string]any{
		"event":     "media",
		"streamSid": l.streamSid,
		"media":     map[string]string{"payload": base64.StdEncoding.EncodeToString(mulaw)},
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.conn.WriteJSON(msg)
}

// ClearPlayback tells Twilio to drop any audio buffered for playback.
func (l *TwilioLeg) ClearPlayback() error {
	msg := map[string]string{"event": "clear", "streamSid": l.streamSid}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.conn.WriteJSON(msg)
}

func (l *TwilioLeg) Close() error { return l.conn.Close() }
