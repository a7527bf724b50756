package audio

import (
	"sync"
	"time"
)

// EchoGate suppresses inbound audio for a fixed window after the last
// outbound audio send, so an open microphone does not feed the agent's own
// voice back into recognition. The window restarts on every outbound send;
// it is not cumulative.
type EchoGate struct {
	mu      sync.Mutex
	window  time.Duration
	lastOut time.Time
	now     func() time.Time
}

// NewEchoGate builds a gate with the given suppression window.
func NewEchoGate(window time.Duration) *EchoGate {
	return &EchoGate{window: window, now: time.Now}
}

// NoteOutbound records that outbound audio was just handed to the call leg.
func (g *EchoGate) NoteOutbound() {
	g.mu.Lock()
	g.lastOut = g.now()
	g.mu.Unlock()
}

// Open reports whether inbound audio may be forwarded to the recognizer.
func (g *EchoGate) Open() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lastOut.IsZero() {
		return true
	}
	return g.now().Sub(g.lastOut) >= g.window
}
