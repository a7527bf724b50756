package tts

import (
	"fmt"
	"log"
	"sync"
)

// Failover composes a primary/secondary provider pair. Connect tries the
// primary and falls back to the secondary; whichever succeeds is the active
// provider for the remainder of the call. There is no per-utterance
// re-selection.
type Failover struct {
	primary   Provider
	secondary Provider

	mu     sync.Mutex
	active Provider
}

// NewFailover wraps an ordered provider pair.
func NewFailover(primary, secondary Provider) *Failover {
	return &Failover{primary: primary, secondary: secondary}
}

// Connect attempts the primary provider, then the secondary. If both fail
// the error is fatal to the call.
func (f *Failover) Connect() error {
	if err := f.primary.Connect(); err == nil {
		f.mu.Lock()
		f.active = f.primary
		f.mu.Unlock()
		return nil
	} else {
		log.Printf("tts: primary provider failed (%v), trying fallback", err)
	}
	if err := f.secondary.Connect(); err != nil {
		return fmt.Errorf("both TTS providers failed to connect: %w", err)
	}
	f.mu.Lock()
	f.active = f.secondary
	f.mu.Unlock()
	return nil
}

func (f *Failover) current() Provider {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// SendText forwards text to the active provider.
func (f *Failover) SendText(text string) error {
	if p := f.current(); p != nil {
		return p.SendText(text)
	}
	return nil
}

// Flush signals a synthesis boundary to the active provider.
func (f *Failover) Flush() error {
	if p := f.current(); p != nil {
		return p.Flush()
	}
	return nil
}

// Interrupt discards queued audio on the active provider.
func (f *Failover) Interrupt() error {
	if p := f.current(); p != nil {
		return p.Interrupt()
	}
	return nil
}

// Audio returns the active provider's audio sequence. Valid only after a
// successful Connect.
func (f *Failover) Audio() <-chan []byte {
	if p := f.current(); p != nil {
		return p.Audio()
	}
	return nil
}

// Close closes the active provider.
func (f *Failover) Close() error {
	if p := f.current(); p != nil {
		return p.Close()
	}
	return nil
}
