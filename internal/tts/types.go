package tts

// Provider is the capability interface for one streaming speech synthesis
// vendor. Text is accumulated with SendText and synthesized on Flush; audio
// arrives on the Audio channel in the provider's native encoding (mu-law
// 8kHz for both concrete providers here).
type Provider interface {
	Connect() error
	// SendText forwards an incremental chunk of reply text for synthesis.
	SendText(text string) error
	// Flush signals a synthesis boundary: emit audio for everything sent so
	// far without waiting for more text.
	Flush() error
	// Interrupt discards all queued audio and cancels in-flight synthesis.
	Interrupt() error
	// Audio returns the per-call audio chunk sequence. It ends only when
	// the provider is closed and its queue drained.
	Audio() <-chan []byte
	Close() error
}
