package telephony

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/winnie192/voice-agent-healthcare/internal/agent"
	"github.com/winnie192/voice-agent-healthcare/internal/audio"
	"github.com/winnie192/voice-agent-healthcare/internal/storage"
)

// Directory resolves the business a caller dialed.
type Directory interface {
	GetBusinessByPhone(ctx context.Context, phone string) (*storage.Business, error)
	GetServicesForBusiness(ctx context.Context, businessID string) ([]storage.Service, error)
}

// CallLogger persists a call summary at teardown.
type CallLogger interface {
	LogCall(ctx context.Context, entry storage.CallLog)
}

// sttTargetRate is what wideband legs are resampled to before recognition;
// narrowband legs go through at their native 8kHz.
const sttTargetRate = 16000

// Handler runs one call end to end: provider setup, greeting, and the four
// per-call units (inbound reader, transcript consumer, outbound forwarder,
// barge-in monitor).
type Handler struct {
	Directory      Directory
	Logs           CallLogger
	NewRecognizer  func() Recognizer
	NewSynthesizer func() Synthesizer
	Agent          UtteranceHandler
	EchoWindow     time.Duration
}

// HandleCall services a call on the given leg until the caller hangs up or
// the context is cancelled. Recognition or synthesis connect failures are
// fatal: everything already opened is released and the error returned.
func (h *Handler) HandleCall(ctx context.Context, leg Leg, businessPhone string) error {
	defer leg.Close()

	business, err := h.Directory.GetBusinessByPhone(ctx, businessPhone)
	if err != nil {
		return fmt.Errorf("resolve business: %w", err)
	}
	services, err := h.Directory.GetServicesForBusiness(ctx, business.ID)
	if err != nil {
		log.Printf("call: service lookup failed, continuing without services: %v", err)
	}
	sess := agent.NewSession(business, services, leg.CallerID())

	sttRate := leg.SampleRate()
	var resampler *audio.Resampler
	if sttRate != 8000 {
		resampler = audio.NewResampler(leg.SampleRate(), sttTargetRate)
		sttRate = sttTargetRate
	}

	stt := h.NewRecognizer()
	if err := stt.Connect(sttRate); err != nil {
		return fmt.Errorf("connect recognizer: %w", err)
	}
	tts := h.NewSynthesizer()
	if err := tts.Connect(); err != nil {
		_ = stt.Close()
		return fmt.Errorf("connect synthesizer: %w", err)
	}

	var gate *audio.EchoGate
	if leg.EchoProne() {
		gate = audio.NewEchoGate(h.EchoWindow)
	}

	stopCh := make(chan struct{})
	var wg sync.WaitGroup

	// Outbound audio forwarder.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for chunk := range tts.Audio() {
			if err := leg.WriteAudio(chunk); err != nil {
				log.Printf("call: write audio failed: %v", err)
				return
			}
			if gate != nil {
				gate.NoteOutbound()
			}
		}
	}()

	// Barge-in monitor: speech while the agent is talking cancels the reply
	// and clears everything already queued for playback.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stopCh:
				return
			case <-stt.SpeechActivity():
				if !sess.Speaking() {
					// Caller speech while listening is the normal case; drop
					// any onset that queued meanwhile so it cannot fire a
					// false barge-in once the next reply starts.
					stt.ClearSpeechActivity()
					continue
				}
				log.Println("call: barge-in, interrupting reply")
				sess.CancelResponse()
				_ = tts.Interrupt()
				_ = leg.ClearPlayback()
				sess.SetState(agent.StateListening)
			}
		}
	}()

	// Transcript consumer: processes finalized utterances in arrival order.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case utterance, ok := <-stt.Transcripts():
				if !ok {
					select {
					case <-stopCh:
						// Normal teardown closed the recognizer.
					default:
						// Mid-call recognition loss is fatal: without
						// transcripts the call is deaf, so hang up the leg to
						// unblock the inbound reader and tear down.
						log.Println("call: recognition stream lost, ending call")
						_ = leg.Close()
					}
					return
				}
				if sess.Speaking() {
					log.Printf("call: dropping stale transcript while speaking: %q", utterance)
					continue
				}
				h.Agent.HandleUtterance(ctx, sess, utterance, tts)
			}
		}
	}()

	h.greet(sess, tts)

	// Inbound reader, on the calling goroutine.
	for {
		pcm, err := leg.ReadAudio()
		if err != nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
		if gate != nil && !gate.Open() {
			continue
		}
		if resampler != nil {
			pcm = resampler.Resample(pcm)
		}
		_ = stt.SendAudio(pcm)
	}

	sess.SetState(agent.StateClosing)
	close(stopCh)
	_ = stt.Close()
	_ = tts.Close()
	wg.Wait()
	sess.SetState(agent.StateClosed)

	if h.Logs != nil {
		h.Logs.LogCall(context.Background(), storage.CallLog{
			BusinessID: business.ID,
			CallerID:   leg.CallerID(),
			Transcript: sess.Transcript(),
			DurationMs: time.Since(sess.Started).Milliseconds(),
		})
	}
	return nil
}

func (h *Handler) greet(sess *agent.Session, tts Synthesizer) {
	sess.SetState(agent.StateGreeting)
	greeting := fmt.Sprintf("Hi, thanks for calling %s. How can I help you?", sess.Business.Name)
	_ = tts.SendText(greeting)
	_ = tts.Flush()
	sess.AppendTurn("agent", greeting)
	sess.SetState(agent.StateListening)
}
