package tts

import "sync"

// reconnectGate is a single-slot "reconnect in progress" future. A provider
// that loses its stream mid-call starts one background reconnect through
// Begin; foreground sends call Wait and block until the reconnect finishes,
// so no text is silently dropped while the connection is down.
type reconnectGate struct {
	mu   sync.Mutex
	done chan struct{}
}

// Begin claims the reconnect slot. It returns a completion func and true if
// the caller should perform the reconnect, or false if one is already in
// flight.
func (g *reconnectGate) Begin() (func(), bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done != nil {
		return nil, false
	}
	done := make(chan struct{})
	g.done = done
	return func() {
		g.mu.Lock()
		g.done = nil
		g.mu.Unlock()
		close(done)
	}, true
}

// Wait blocks until any in-flight reconnect completes.
func (g *reconnectGate) Wait() {
	g.mu.Lock()
	done := g.done
	g.mu.Unlock()
	if done != nil {
		<-done
	}
}
