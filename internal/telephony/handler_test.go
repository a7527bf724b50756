package telephony

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/winnie192/voice-agent-healthcare/internal/agent"
	"github.com/winnie192/voice-agent-healthcare/internal/storage"
)

type fakeLeg struct {
	rate      int
	echoProne bool
	caller    string
	frames    chan []byte
	hangup    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	writes int
	clears int
	closed bool
}

func newFakeLeg(rate int, echoProne bool) *fakeLeg {
	return &fakeLeg{
		rate:      rate,
		echoProne: echoProne,
		caller:    "+15550199",
		frames:    make(chan []byte, 16),
		hangup:    make(chan struct{}),
	}
}

func (l *fakeLeg) SampleRate() int  { return l.rate }
func (l *fakeLeg) EchoProne() bool  { return l.echoProne }
func (l *fakeLeg) CallerID() string { return l.caller }

func (l *fakeLeg) ReadAudio() ([]byte, error) {
	select {
	case f, ok := <-l.frames:
		if !ok {
			return nil, io.EOF
		}
		return f, nil
	case <-l.hangup:
		return nil, io.EOF
	}
}

func (l *fakeLeg) WriteAudio(mulaw []byte) error {
	l.mu.Lock()
	l.writes++
	l.mu.Unlock()
	return nil
}

func (l *fakeLeg) ClearPlayback() error {
	l.mu.Lock()
	l.clears++
	l.mu.Unlock()
	return nil
}

func (l *fakeLeg) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		close(l.hangup)
	})
	return nil
}

func (l *fakeLeg) clearCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.clears
}

func (l *fakeLeg) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

type fakeRecognizer struct {
	connectErr  error
	connectRate int

	transcripts chan string
	speech      chan struct{}

	mu           sync.Mutex
	audio        [][]byte
	closed       bool
	speechClears int
	closeOnce    sync.Once
}

func newFakeRecognizer() *fakeRecognizer {
	return &fakeRecognizer{transcripts: make(chan string, 8), speech: make(chan struct{}, 1)}
}

func (r *fakeRecognizer) Connect(sampleRate int) error {
	r.connectRate = sampleRate
	return r.connectErr
}

func (r *fakeRecognizer) SendAudio(pcm []byte) error {
	r.mu.Lock()
	r.audio = append(r.audio, pcm)
	r.mu.Unlock()
	return nil
}

func (r *fakeRecognizer) Transcripts() <-chan string      { return r.transcripts }
func (r *fakeRecognizer) SpeechActivity() <-chan struct{} { return r.speech }

func (r *fakeRecognizer) ClearSpeechActivity() {
	r.mu.Lock()
	r.speechClears++
	r.mu.Unlock()
	select {
	case <-r.speech:
	default:
	}
}

func (r *fakeRecognizer) speechClearCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.speechClears
}

func (r *fakeRecognizer) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		close(r.transcripts)
	})
	return nil
}

func (r *fakeRecognizer) audioCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.audio)
}

type fakeSynthesizer struct {
	connectErr error
	audio      chan []byte

	mu         sync.Mutex
	sent       []string
	flushes    int
	interrupts int
	closeOnce  sync.Once
}

func newFakeSynthesizer() *fakeSynthesizer {
	return &fakeSynthesizer{audio: make(chan []byte, 16)}
}

func (s *fakeSynthesizer) Connect() error { return s.connectErr }

func (s *fakeSynthesizer) SendText(text string) error {
	s.mu.Lock()
	s.sent = append(s.sent, text)
	s.mu.Unlock()
	return nil
}

func (s *fakeSynthesizer) Flush() error {
	s.mu.Lock()
	s.flushes++
	s.mu.Unlock()
	return nil
}

func (s *fakeSynthesizer) Interrupt() error {
	s.mu.Lock()
	s.interrupts++
	s.mu.Unlock()
	return nil
}

func (s *fakeSynthesizer) Audio() <-chan []byte { return s.audio }

func (s *fakeSynthesizer) Close() error {
	s.closeOnce.Do(func() { close(s.audio) })
	return nil
}

func (s *fakeSynthesizer) interruptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interrupts
}

type fakeDirectory struct{}

func (fakeDirectory) GetBusinessByPhone(ctx context.Context, phone string) (*storage.Business, error) {
	return &storage.Business{ID: "biz-1", Name: "Riverside Clinic", PhoneNumber: phone}, nil
}

func (fakeDirectory) GetServicesForBusiness(ctx context.Context, businessID string) ([]storage.Service, error) {
	return []storage.Service{{ID: "svc-1", Name: "Consultation", DurationMinutes: 30}}, nil
}

type fakeLogs struct {
	mu      sync.Mutex
	entries []storage.CallLog
}

func (l *fakeLogs) LogCall(ctx context.Context, entry storage.CallLog) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// fakeAgent records utterances; onUtterance lets tests simulate a long reply.
type fakeAgent struct {
	mu          sync.Mutex
	utterances  []string
	onUtterance func(sess *agent.Session)
}

func (a *fakeAgent) HandleUtterance(ctx context.Context, sess *agent.Session, utterance string, sink agent.TextSink) {
	a.mu.Lock()
	a.utterances = append(a.utterances, utterance)
	a.mu.Unlock()
	if a.onUtterance != nil {
		a.onUtterance(sess)
	}
}

func (a *fakeAgent) got() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.utterances...)
}

func newTestHandler(stt *fakeRecognizer, tts *fakeSynthesizer, ag *fakeAgent, logs *fakeLogs) *Handler {
	return &Handler{
		Directory:      fakeDirectory{},
		Logs:           logs,
		NewRecognizer:  func() Recognizer { return stt },
		NewSynthesizer: func() Synthesizer { return tts },
		Agent:          ag,
		EchoWindow:     500 * time.Millisecond,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestHandleCall_GreetsAndProcessesTranscripts(t *testing.T) {
	leg := newFakeLeg(8000, false)
	stt := newFakeRecognizer()
	tts := newFakeSynthesizer()
	ag := &fakeAgent{}
	logs := &fakeLogs{}
	h := newTestHandler(stt, tts, ag, logs)

	done := make(chan error, 1)
	go func() { done <- h.HandleCall(context.Background(), leg, "+15550100") }()

	waitFor(t, func() bool {
		tts.mu.Lock()
		defer tts.mu.Unlock()
		return len(tts.sent) > 0
	})
	tts.mu.Lock()
	greeting := tts.sent[0]
	tts.mu.Unlock()
	if greeting != "Hi, thanks for calling Riverside Clinic. How can I help you?" {
		t.Fatalf("unexpected greeting %q", greeting)
	}

	leg.frames <- make([]byte, 320)
	stt.transcripts <- "what are your hours"
	waitFor(t, func() bool { return len(ag.got()) == 1 })

	close(leg.frames)
	if err := <-done; err != nil {
		t.Fatalf("handle call: %v", err)
	}
	if !stt.closed {
		t.Fatalf("recognizer must be closed at teardown")
	}
	if !leg.closed {
		t.Fatalf("leg must be closed at teardown")
	}
	logs.mu.Lock()
	defer logs.mu.Unlock()
	if len(logs.entries) != 1 || logs.entries[0].BusinessID != "biz-1" {
		t.Fatalf("call log not persisted: %+v", logs.entries)
	}
	if stt.connectRate != 8000 {
		t.Fatalf("narrowband leg must connect recognition at 8000, got %d", stt.connectRate)
	}
}

func TestHandleCall_BargeInWhileSpeaking(t *testing.T) {
	leg := newFakeLeg(8000, false)
	stt := newFakeRecognizer()
	tts := newFakeSynthesizer()
	logs := &fakeLogs{}

	release := make(chan struct{})
	ag := &fakeAgent{}
	ag.onUtterance = func(sess *agent.Session) {
		sess.SetSpeaking(true)
		sess.ArmCancel(func() { close(release) })
		sess.SetState(agent.StateSpeaking)
		<-release
		sess.SetSpeaking(false)
		sess.SetState(agent.StateListening)
	}
	h := newTestHandler(stt, tts, ag, logs)

	done := make(chan error, 1)
	go func() { done <- h.HandleCall(context.Background(), leg, "+15550100") }()

	stt.transcripts <- "tell me a long story"
	waitFor(t, func() bool { return len(ag.got()) == 1 })

	// Caller starts talking over the reply.
	stt.speech <- struct{}{}
	waitFor(t, func() bool { return tts.interruptCount() == 1 })
	waitFor(t, func() bool { return leg.clearCount() == 1 })

	close(leg.frames)
	if err := <-done; err != nil {
		t.Fatalf("handle call: %v", err)
	}
}

func TestHandleCall_SpeechWhileListeningIsNoOp(t *testing.T) {
	leg := newFakeLeg(8000, false)
	stt := newFakeRecognizer()
	tts := newFakeSynthesizer()
	h := newTestHandler(stt, tts, &fakeAgent{}, &fakeLogs{})

	done := make(chan error, 1)
	go func() { done <- h.HandleCall(context.Background(), leg, "+15550100") }()

	stt.speech <- struct{}{}
	waitFor(t, func() bool { return stt.speechClearCount() == 1 })
	if tts.interruptCount() != 0 {
		t.Fatalf("speech while listening must not interrupt")
	}

	close(leg.frames)
	if err := <-done; err != nil {
		t.Fatalf("handle call: %v", err)
	}
}

func TestHandleCall_DropsStaleTranscriptWhileSpeaking(t *testing.T) {
	leg := newFakeLeg(8000, false)
	stt := newFakeRecognizer()
	tts := newFakeSynthesizer()

	release := make(chan struct{})
	first := true
	ag := &fakeAgent{}
	ag.onUtterance = func(sess *agent.Session) {
		if first {
			first = false
			sess.SetSpeaking(true)
			<-release
			sess.SetSpeaking(false)
		}
	}
	h := newTestHandler(stt, tts, ag, &fakeLogs{})

	done := make(chan error, 1)
	go func() { done <- h.HandleCall(context.Background(), leg, "+15550100") }()

	stt.transcripts <- "first question"
	waitFor(t, func() bool { return len(ag.got()) == 1 })
	// Arrives while the agent is still speaking: must be dropped.
	stt.transcripts <- "stale echo of the reply"
	time.Sleep(50 * time.Millisecond)
	close(release)
	stt.transcripts <- "second question"
	waitFor(t, func() bool { return len(ag.got()) == 2 })

	got := ag.got()
	if got[1] != "second question" {
		t.Fatalf("stale transcript was processed: %v", got)
	}

	close(leg.frames)
	if err := <-done; err != nil {
		t.Fatalf("handle call: %v", err)
	}
}

func TestHandleCall_RecognitionLossEndsCall(t *testing.T) {
	leg := newFakeLeg(8000, false)
	stt := newFakeRecognizer()
	tts := newFakeSynthesizer()
	ag := &fakeAgent{}
	logs := &fakeLogs{}
	h := newTestHandler(stt, tts, ag, logs)

	done := make(chan error, 1)
	go func() { done <- h.HandleCall(context.Background(), leg, "+15550100") }()

	stt.transcripts <- "hello"
	waitFor(t, func() bool { return len(ag.got()) == 1 })

	// Recognition stream drops mid-call; the caller is still connected and
	// leg.frames stays open, so only the handler can end the call.
	_ = stt.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("handle call: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("call must end when the recognition stream is lost")
	}
	if !leg.isClosed() {
		t.Fatalf("leg must be hung up after recognition loss")
	}
	logs.mu.Lock()
	defer logs.mu.Unlock()
	if len(logs.entries) != 1 {
		t.Fatalf("call log must still be persisted, got %+v", logs.entries)
	}
}

func TestHandleCall_ConnectFailuresAreFatal(t *testing.T) {
	t.Run("recognizer", func(t *testing.T) {
		leg := newFakeLeg(8000, false)
		stt := newFakeRecognizer()
		stt.connectErr = errors.New("handshake refused")
		h := newTestHandler(stt, newFakeSynthesizer(), &fakeAgent{}, &fakeLogs{})
		if err := h.HandleCall(context.Background(), leg, "+15550100"); err == nil {
			t.Fatalf("expected fatal error")
		}
		if !leg.closed {
			t.Fatalf("leg must be released")
		}
	})
	t.Run("synthesizer", func(t *testing.T) {
		leg := newFakeLeg(8000, false)
		stt := newFakeRecognizer()
		tts := newFakeSynthesizer()
		tts.connectErr = errors.New("both TTS providers failed")
		h := newTestHandler(stt, tts, &fakeAgent{}, &fakeLogs{})
		if err := h.HandleCall(context.Background(), leg, "+15550100"); err == nil {
			t.Fatalf("expected fatal error")
		}
		if !stt.closed {
			t.Fatalf("recognizer must be released when synthesis connect fails")
		}
	})
}

func TestHandleCall_WidebandLegIsResampled(t *testing.T) {
	leg := newFakeLeg(48000, true)
	stt := newFakeRecognizer()
	tts := newFakeSynthesizer()
	h := newTestHandler(stt, tts, &fakeAgent{}, &fakeLogs{})
	h.EchoWindow = 30 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- h.HandleCall(context.Background(), leg, "+15550100") }()

	// 48k frame of 480 samples should come out around 160 samples at 16k.
	leg.frames <- make([]byte, 960)
	waitFor(t, func() bool { return stt.audioCount() == 1 })
	if stt.connectRate != sttTargetRate {
		t.Fatalf("wideband leg must connect recognition at %d, got %d", sttTargetRate, stt.connectRate)
	}
	stt.mu.Lock()
	n := len(stt.audio[0])
	stt.mu.Unlock()
	if n < 300 || n > 340 {
		t.Fatalf("expected ~320 bytes of 16k PCM, got %d", n)
	}

	close(leg.frames)
	if err := <-done; err != nil {
		t.Fatalf("handle call: %v", err)
	}
}

func TestHandleCall_EchoGateBlocksAfterPlayback(t *testing.T) {
	leg := newFakeLeg(48000, true)
	stt := newFakeRecognizer()
	tts := newFakeSynthesizer()
	h := newTestHandler(stt, tts, &fakeAgent{}, &fakeLogs{})
	h.EchoWindow = 80 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- h.HandleCall(context.Background(), leg, "+15550100") }()

	// Play some agent audio, then immediately feed a mic frame: the gate
	// must swallow it as echo.
	tts.audio <- []byte{0xFF, 0xFF}
	waitFor(t, func() bool {
		leg.mu.Lock()
		defer leg.mu.Unlock()
		return leg.writes > 0
	})
	leg.frames <- make([]byte, 960)
	time.Sleep(30 * time.Millisecond)
	if stt.audioCount() != 0 {
		t.Fatalf("frame inside the echo window must be suppressed")
	}

	// After the window passes, the mic opens again.
	time.Sleep(100 * time.Millisecond)
	leg.frames <- make([]byte, 960)
	waitFor(t, func() bool { return stt.audioCount() == 1 })

	close(leg.frames)
	if err := <-done; err != nil {
		t.Fatalf("handle call: %v", err)
	}
}
