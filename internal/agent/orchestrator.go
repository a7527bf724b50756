package agent

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/winnie192/voice-agent-healthcare/internal/llm"
)

const (
	// firstChunkSize is smaller so the first audio starts sooner.
	firstChunkSize      = 50
	subsequentChunkSize = 80

	// fillerDelay is how long a slow turn runs before the caller hears a
	// "still working" filler.
	fillerDelay = 4 * time.Second
)

const fallbackReply = "Sorry, I had trouble with that — could you repeat that?"

const delayedFiller = "Still looking, one moment..."

var (
	bookingFillerPattern  = regexp.MustCompile(`(?i)\b(book|appointment|schedule|reschedule|cancel)\b`)
	questionFillerPattern = regexp.MustCompile(`(?i)\b(what|when|where|how|why|who|do you|can you|is there)\b`)
)

// pickFillerPhrase chooses a short acknowledgement matched to what the
// caller asked, spoken while the real reply is being prepared.
func pickFillerPhrase(utterance string) string {
	switch {
	case bookingFillerPattern.MatchString(utterance):
		return "Let me check the calendar."
	case questionFillerPattern.MatchString(utterance):
		return "Good question, give me a second."
	default:
		return "One moment."
	}
}

// simplePattern matches greetings, farewells and bare acknowledgements that
// don't need knowledge retrieval.
var simplePattern = regexp.MustCompile(`(?i)^(hi|hello|hey|thanks|thank you|ok|okay|yes|no|yep|nope|sure|bye|goodbye|see you|sounds good|great|perfect)[.!?, ]*$`)

func isSimpleUtterance(text string) bool {
	return simplePattern.MatchString(strings.TrimSpace(text))
}

// Orchestrator runs the per-utterance loop: classify, gather context,
// dispatch on intent, stream the reply into the synthesis sink.
type Orchestrator struct {
	Classifier Classifier
	Responder  Responder
	Retriever  Retriever
	Searcher   Searcher
	Store      BookingStore
}

// HandleUtterance processes one finalized caller utterance end to end. It
// appends the utterance and, after streaming completes, the full reply to
// history; a cancelled reply contributes no history entry.
func (o *Orchestrator) HandleUtterance(ctx context.Context, sess *Session, utterance string, sink TextSink) {
	sess.AppendTurn("caller", utterance)
	sess.SetState(StateProcessing)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sess.ArmCancel(cancel)
	sess.SetSpeaking(true)
	defer func() {
		sess.SetSpeaking(false)
		if sess.State() == StateSpeaking || sess.State() == StateProcessing {
			sess.SetState(StateListening)
		}
	}()

	simple := isSimpleUtterance(utterance)
	recent := sess.RecentHistory()

	// The delayed filler fires only if no reply token has arrived in time.
	firstToken := make(chan struct{})
	var firstTokenOnce sync.Once
	tokenArrived := func() { firstTokenOnce.Do(func() { close(firstToken) }) }
	defer tokenArrived()
	if !simple {
		_ = sink.SendText(pickFillerPhrase(utterance) + " ")
		_ = sink.Flush()
		go func() {
			select {
			case <-time.After(fillerDelay):
				_ = sink.SendText(delayedFiller + " ")
				_ = sink.Flush()
			case <-firstToken:
			case <-ctx.Done():
			}
		}()
	}

	var serviceNames []string
	for _, svc := range sess.Services {
		serviceNames = append(serviceNames, svc.Name)
	}

	// NLU always runs; retrieval runs concurrently unless the utterance is a
	// simple exchange.
	analysisCh := make(chan llm.Analysis, 1)
	nluErrCh := make(chan error, 1)
	go func() {
		a, err := o.Classifier.AnalyzeUtterance(ctx, utterance, recent, serviceNames)
		if err != nil {
			nluErrCh <- err
			return
		}
		analysisCh <- a
	}()

	knowledgeCh := make(chan string, 1)
	if simple {
		knowledgeCh <- ""
	} else {
		go func() {
			knowledgeCh <- o.Retriever.Retrieve(ctx, sess.Business.ID, utterance)
		}()
	}

	var analysis llm.Analysis
	select {
	case analysis = <-analysisCh:
	case err := <-nluErrCh:
		if ctx.Err() != nil {
			return
		}
		log.Printf("agent: nlu failed: %v", err)
		o.speakFallback(sess, sink)
		return
	case <-ctx.Done():
		return
	}
	var knowledge string
	select {
	case knowledge = <-knowledgeCh:
	case <-ctx.Done():
		return
	}

	intent := ParseIntent(analysis.Intent)
	if sess.DraftPending() && intent != IntentGoodbye {
		intent = IntentBooking
	}

	var contextParts []string
	if knowledge != "" {
		contextParts = append(contextParts, "Relevant business knowledge:\n"+knowledge)
	}

	closing := false
	switch intent {
	case IntentGoodbye:
		contextParts = append(contextParts, "The caller is ending the call. Say a warm, brief goodbye.")
		closing = true
	case IntentBooking:
		sess.MergeDraft(draftFields(analysis.Booking))
		outcome := runBooking(ctx, sess, o.Store)
		if ctx.Err() != nil {
			return
		}
		contextParts = append(contextParts, outcome.instruction)
	case IntentSearch:
		result := o.Searcher.Search(ctx, utterance)
		if ctx.Err() != nil {
			return
		}
		contextParts = append(contextParts, "Web search results:\n"+result)
	}

	if sess.Completed() && intent != IntentBooking {
		contextParts = append(contextParts, "A booking was already confirmed earlier in this call; do not offer to book again.")
	}

	reply, err := o.streamReply(ctx, sess, intent, strings.Join(contextParts, "\n\n"), sink, tokenArrived)
	if err != nil {
		if ctx.Err() != nil {
			// Barge-in cancellation is expected control flow, not a failure.
			return
		}
		log.Printf("agent: response stream failed: %v", err)
		o.speakFallback(sess, sink)
		return
	}
	if ctx.Err() != nil {
		return
	}
	if reply != "" {
		sess.AppendTurn("agent", reply)
	}
	if closing {
		sess.SetState(StateClosing)
	}
}

func (o *Orchestrator) speakFallback(sess *Session, sink TextSink) {
	_ = sink.SendText(fallbackReply)
	_ = sink.Flush()
	sess.AppendTurn("agent", fallbackReply)
}

func (o *Orchestrator) systemPrompt(sess *Session, intent Intent, assembled string) string {
	b := sess.Business
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are the phone receptionist for %s", b.Name)
	if b.Location != "" {
		fmt.Fprintf(&sb, ", located at %s", b.Location)
	}
	sb.WriteString(". Speak naturally and keep replies short; they are read aloud to a caller.\n")
	if b.HoursText != "" {
		fmt.Fprintf(&sb, "Opening hours: %s\n", b.HoursText)
	}
	if b.PoliciesText != "" {
		fmt.Fprintf(&sb, "Policies: %s\n", b.PoliciesText)
	}
	fmt.Fprintf(&sb, "Caller intent: %s\n", intent)
	if assembled != "" {
		sb.WriteString("\n")
		sb.WriteString(assembled)
		sb.WriteString("\n")
	}
	return sb.String()
}

// streamReply invokes the response model and forwards text to the sink in
// chunks: the first chunk is flushed early so audio starts sooner, later
// chunks on a size threshold or trailing sentence punctuation. Returns the
// full reply text.
func (o *Orchestrator) streamReply(ctx context.Context, sess *Session, intent Intent, assembled string, sink TextSink, tokenArrived func()) (string, error) {
	messages := []llm.Message{{Role: "system", Content: o.systemPrompt(sess, intent, assembled)}}
	messages = append(messages, sess.History()...)

	sess.SetState(StateSpeaking)

	var full strings.Builder
	var chunk strings.Builder
	limit := firstChunkSize
	flush := func() {
		if chunk.Len() == 0 {
			return
		}
		_ = sink.SendText(chunk.String())
		_ = sink.Flush()
		chunk.Reset()
		limit = subsequentChunkSize
	}

	err := o.Responder.StreamChat(ctx, messages, func(token string) {
		if ctx.Err() != nil {
			return
		}
		tokenArrived()
		full.WriteString(token)
		chunk.WriteString(token)
		text := chunk.String()
		if chunk.Len() >= limit || endsWithPunctuation(text) {
			flush()
		}
	})
	if err != nil {
		return "", err
	}
	if ctx.Err() != nil {
		// Cancelled: drop buffered text without forwarding it.
		return "", ctx.Err()
	}
	flush()
	return strings.TrimSpace(full.String()), nil
}

func endsWithPunctuation(text string) bool {
	trimmed := strings.TrimRight(text, " ")
	if trimmed == "" {
		return false
	}
	return strings.ContainsRune(".!?,", rune(trimmed[len(trimmed)-1]))
}
