package agent

import (
	"context"
	"sync"
	"time"

	"github.com/winnie192/voice-agent-healthcare/internal/llm"
	"github.com/winnie192/voice-agent-healthcare/internal/storage"
)

// CallState is the lifecycle of a single call.
type CallState int

const (
	StateConnecting CallState = iota
	StateGreeting
	StateListening
	StateProcessing
	StateSpeaking
	StateClosing
	StateClosed
)

func (s CallState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateGreeting:
		return "greeting"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

const (
	// maxHistoryEntries bounds the conversation window passed downstream.
	maxHistoryEntries = 12
	// recentHistoryWindow bounds the context given to the classifier.
	recentHistoryWindow = 4
)

// Turn is one conversation entry. Role is "caller" or "agent".
type Turn struct {
	Role string
	Text string
}

// Session holds the mutable state of one call. It is owned by the call's own
// units of work; nothing is shared across calls, so a single mutex suffices.
type Session struct {
	Business *storage.Business
	Services []storage.Service
	CallerID string
	Started  time.Time

	mu        sync.Mutex
	state     CallState
	history   []Turn
	draft     map[string]string
	completed bool
	speaking  bool
	cancel    context.CancelFunc
}

// NewSession creates a session for a freshly connected call.
func NewSession(business *storage.Business, services []storage.Service, callerID string) *Session {
	return &Session{
		Business: business,
		Services: services,
		CallerID: callerID,
		Started:  time.Now(),
		state:    StateConnecting,
		draft:    map[string]string{},
	}
}

// State returns the current call state.
func (s *Session) State() CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState transitions the call state.
func (s *Session) SetState(st CallState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// AppendTurn appends a conversation entry in arrival order.
func (s *Session) AppendTurn(role, text string) {
	s.mu.Lock()
	s.history = append(s.history, Turn{Role: role, Text: text})
	s.mu.Unlock()
}

// History returns the bounded tail of the conversation as chat messages,
// caller turns as user and agent turns as assistant.
func (s *Session) History() []llm.Message {
	return s.historyWindow(maxHistoryEntries)
}

// RecentHistory returns the short classifier context window.
func (s *Session) RecentHistory() []llm.Message {
	return s.historyWindow(recentHistoryWindow)
}

func (s *Session) historyWindow(n int) []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := len(s.history) - n
	if start < 0 {
		start = 0
	}
	out := make([]llm.Message, 0, len(s.history)-start)
	for _, t := range s.history[start:] {
		role := "assistant"
		if t.Role == "caller" {
			role = "user"
		}
		out = append(out, llm.Message{Role: role, Content: t.Text})
	}
	return out
}

// Transcript renders the whole conversation for the call log.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out string
	for _, t := range s.history {
		out += t.Role + ": " + t.Text + "\n"
	}
	return out
}

// MergeDraft folds extracted booking fields into the draft. Empty values
// never erase previously known fields.
func (s *Session) MergeDraft(fields map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range fields {
		if v != "" {
			s.draft[k] = v
		}
	}
}

// Draft returns a copy of the current booking draft.
func (s *Session) Draft() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.draft))
	for k, v := range s.draft {
		out[k] = v
	}
	return out
}

// ClearDraft empties the draft atomically, after a confirmed booking.
func (s *Session) ClearDraft() {
	s.mu.Lock()
	s.draft = map[string]string{}
	s.mu.Unlock()
}

// DraftPending reports whether a booking is in progress.
func (s *Session) DraftPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.draft) > 0 && !s.completed
}

// SetCompleted marks the call as having a confirmed booking.
func (s *Session) SetCompleted() {
	s.mu.Lock()
	s.completed = true
	s.mu.Unlock()
}

// Completed reports whether a booking was confirmed earlier in the call.
func (s *Session) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// SetSpeaking sets the speaking flag; it must be cleared on every exit path
// of a reply, or barge-in detection would block forever.
func (s *Session) SetSpeaking(v bool) {
	s.mu.Lock()
	s.speaking = v
	if !v {
		s.cancel = nil
	}
	s.mu.Unlock()
}

// Speaking reports whether the agent is currently producing a reply.
func (s *Session) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// ArmCancel stores the cancel func of the in-flight response task.
func (s *Session) ArmCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
}

// CancelResponse cancels the in-flight response task, if any. Returns true
// when there was one to cancel.
func (s *Session) CancelResponse() bool {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}
