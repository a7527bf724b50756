package telephony

import (
	"context"

	"github.com/winnie192/voice-agent-healthcare/internal/agent"
)

// Leg is one transport carrying a call's audio. Inbound audio is surfaced as
// PCM16 at SampleRate; outbound audio is accepted as mu-law 8kHz, the format
// every synthesis provider is configured to emit.
type Leg interface {
	// SampleRate is the rate of the PCM returned by ReadAudio.
	SampleRate() int
	// ReadAudio blocks for the next inbound audio frame. It returns io.EOF
	// when the caller hangs up or the transport closes.
	ReadAudio() ([]byte, error)
	// WriteAudio plays a mu-law 8kHz chunk to the caller.
	WriteAudio(mulaw []byte) error
	// ClearPlayback discards audio the transport has buffered for playback.
	// Legs without such a control channel treat it as a no-op.
	ClearPlayback() error
	// EchoProne reports whether the leg feeds the agent's own playback back
	// into the microphone, requiring echo suppression.
	EchoProne() bool
	CallerID() string
	Close() error
}

// Recognizer is the streaming speech-to-text client a call drives.
type Recognizer interface {
	Connect(sampleRate int) error
	SendAudio(pcm []byte) error
	Transcripts() <-chan string
	SpeechActivity() <-chan struct{}
	// ClearSpeechActivity drops a pending speech-activity signal.
	ClearSpeechActivity()
	Close() error
}

// Synthesizer is the streaming text-to-speech client a call drives. It also
// satisfies the orchestrator's text sink.
type Synthesizer interface {
	Connect() error
	SendText(text string) error
	Flush() error
	Interrupt() error
	Audio() <-chan []byte
	Close() error
}

// UtteranceHandler processes one finalized caller utterance.
type UtteranceHandler interface {
	HandleUtterance(ctx context.Context, sess *agent.Session, utterance string, sink agent.TextSink)
}
