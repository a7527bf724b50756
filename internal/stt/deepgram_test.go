package stt

import (
	"fmt"
	"testing"
)

func resultJSON(transcript string, isFinal, speechFinal bool) []byte {
	return []byte(fmt.Sprintf(
		`{"type":"Results","is_final":%t,"speech_final":%t,"channel":{"alternatives":[{"transcript":%q}]}}`,
		isFinal, speechFinal, transcript,
	))
}

func TestCoalescing_JoinsFinalFragmentsWithSingleSpace(t *testing.T) {
	s := NewDeepgramService("key")
	s.processMessage(resultJSON("  hello there ", true, false))
	s.processMessage(resultJSON("how are you", true, false))
	s.processMessage(resultJSON("", true, true))

	select {
	case got := <-s.Transcripts():
		if got != "hello there how are you" {
			t.Fatalf("unexpected utterance: %q", got)
		}
	default:
		t.Fatalf("expected one utterance emitted")
	}
	select {
	case got := <-s.Transcripts():
		t.Fatalf("expected exactly one emission, got extra %q", got)
	default:
	}
}

func TestCoalescing_InterimFragmentsAreNotAccumulated(t *testing.T) {
	s := NewDeepgramService("key")
	s.processMessage(resultJSON("partial guess", false, false))
	s.processMessage(resultJSON("final words", true, true))

	got := <-s.Transcripts()
	if got != "final words" {
		t.Fatalf("interim text leaked into utterance: %q", got)
	}
}

func TestCoalescing_EmptyFlushIsNoOp(t *testing.T) {
	s := NewDeepgramService("key")
	s.processMessage(resultJSON("", true, true))
	s.processMessage([]byte(`{"type":"UtteranceEnd"}`))
	select {
	case got := <-s.Transcripts():
		t.Fatalf("expected no emission for empty flush, got %q", got)
	default:
	}
}

func TestCoalescing_UtteranceEndFlushes(t *testing.T) {
	s := NewDeepgramService("key")
	s.processMessage(resultJSON("see you tomorrow", true, false))
	s.processMessage([]byte(`{"type":"UtteranceEnd"}`))
	got := <-s.Transcripts()
	if got != "see you tomorrow" {
		t.Fatalf("unexpected utterance: %q", got)
	}
}

func TestSpeechActivity_SetAndClear(t *testing.T) {
	s := NewDeepgramService("key")
	s.processMessage([]byte(`{"type":"SpeechStarted"}`))
	// Signal coalesces; a second onset while pending is not queued twice.
	s.processMessage([]byte(`{"type":"SpeechStarted"}`))

	select {
	case <-s.SpeechActivity():
	default:
		t.Fatalf("expected speech activity signal")
	}
	select {
	case <-s.SpeechActivity():
		t.Fatalf("signal must be consumed by first receive")
	default:
	}

	s.processMessage([]byte(`{"type":"SpeechStarted"}`))
	s.ClearSpeechActivity()
	select {
	case <-s.SpeechActivity():
		t.Fatalf("expected cleared signal")
	default:
	}
}

func TestClose_IdempotentAndFlushesPending(t *testing.T) {
	s := NewDeepgramService("key")
	s.processMessage(resultJSON("half finished", true, false))
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	got, ok := <-s.Transcripts()
	if !ok || got != "half finished" {
		t.Fatalf("expected pending utterance flushed on close, got %q ok=%t", got, ok)
	}
	if _, ok := <-s.Transcripts(); ok {
		t.Fatalf("transcript channel must be closed after teardown")
	}
}

func TestSendAudio_DroppedAfterClose(t *testing.T) {
	s := NewDeepgramService("key")
	_ = s.Close()
	if err := s.SendAudio([]byte{0, 0}); err != nil {
		t.Fatalf("frames after close must be silently dropped, got %v", err)
	}
	if len(s.audioData) != 0 {
		t.Fatalf("audio must not be queued after close")
	}
}

func TestConnect_EmptyKeyFails(t *testing.T) {
	s := NewDeepgramService("")
	if err := s.Connect(8000); err == nil {
		t.Fatalf("expected connect error with empty key")
	}
}
