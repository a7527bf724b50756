package agent

import (
	"context"

	"github.com/winnie192/voice-agent-healthcare/internal/llm"
	"github.com/winnie192/voice-agent-healthcare/internal/storage"
)

// Intent is the closed set of caller intents. Anything the classifier
// returns outside this set maps to IntentUnknown.
type Intent int

const (
	IntentUnknown Intent = iota
	IntentBooking
	IntentInquiry
	IntentSearch
	IntentGreeting
	IntentGoodbye
)

func (i Intent) String() string {
	switch i {
	case IntentBooking:
		return "booking"
	case IntentInquiry:
		return "inquiry"
	case IntentSearch:
		return "search"
	case IntentGreeting:
		return "greeting"
	case IntentGoodbye:
		return "goodbye"
	default:
		return "unknown"
	}
}

// ParseIntent maps a raw classifier label onto the closed intent set.
func ParseIntent(label string) Intent {
	switch label {
	case "booking":
		return IntentBooking
	case "inquiry":
		return IntentInquiry
	case "search":
		return IntentSearch
	case "greeting":
		return IntentGreeting
	case "goodbye":
		return IntentGoodbye
	default:
		return IntentUnknown
	}
}

// Classifier runs unified intent classification + booking extraction.
type Classifier interface {
	AnalyzeUtterance(ctx context.Context, utterance string, recent []llm.Message, services []string) (llm.Analysis, error)
}

// Responder streams reply text token by token.
type Responder interface {
	StreamChat(ctx context.Context, messages []llm.Message, onToken func(string)) error
}

// Retriever fetches relevant knowledge passages for an utterance.
type Retriever interface {
	Retrieve(ctx context.Context, businessID, query string) string
}

// Searcher answers a query with a short web-search summary or a sentinel.
type Searcher interface {
	Search(ctx context.Context, query string) string
}

// BookingStore is the persistence collaborator for confirmed bookings.
type BookingStore interface {
	CreateBooking(ctx context.Context, b storage.Booking) (*storage.Booking, error)
}

// TextSink receives reply text chunks as they are assembled. The speech
// synthesis client satisfies this.
type TextSink interface {
	SendText(text string) error
	Flush() error
}
