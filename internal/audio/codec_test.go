package audio

import (
	"encoding/base64"
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func TestMuLawRoundTrip(t *testing.T) {
	// mu-law is lossy; round-tripped samples must stay within one
	// quantization interval of the original.
	samples := []int16{0, 1, -1, 100, -100, 1000, -1000, 8000, -8000, 32000, -32000}
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:(i+1)*2], uint16(s))
	}
	back := MuLawToPCM16(PCM16ToMuLaw(pcm))
	if len(back) != len(pcm) {
		t.Fatalf("length mismatch: got %d want %d", len(back), len(pcm))
	}
	for i, want := range samples {
		got := int16(binary.LittleEndian.Uint16(back[i*2 : i*2+2]))
		diff := math.Abs(float64(got) - float64(want))
		// Quantization step grows with magnitude; allow ~3% of |sample|+bias.
		tol := math.Abs(float64(want))*0.04 + 64
		if diff > tol {
			t.Fatalf("sample %d: got %d want %d (diff %.0f > tol %.0f)", i, got, want, diff, tol)
		}
	}
}

func TestMuLawSilenceEncodesToKnownByte(t *testing.T) {
	// Zero PCM must encode to 0xFF, the canonical mu-law silence byte.
	out := PCM16ToMuLaw([]byte{0, 0})
	if len(out) != 1 || out[0] != 0xFF {
		t.Fatalf("expected [0xFF], got %v", out)
	}
}

func TestDecodeTelephonyMedia(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte{0xFF, 0xFF})
	pcm, err := DecodeTelephonyMedia(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(pcm) != 4 {
		t.Fatalf("expected 4 pcm bytes, got %d", len(pcm))
	}
	for i := 0; i < 2; i++ {
		if s := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])); s != 0 {
			t.Fatalf("expected silence, got %d", s)
		}
	}
	if _, err := DecodeTelephonyMedia("not base64!!!"); err == nil {
		t.Fatalf("expected error on invalid base64")
	}
}

func TestResampler_HalvesRate(t *testing.T) {
	r := NewResampler(16000, 8000)
	in := make([]byte, 320*2) // 20ms at 16k
	for i := 0; i < 320; i++ {
		binary.LittleEndian.PutUint16(in[i*2:(i+1)*2], uint16(int16(i)))
	}
	out := r.Resample(in)
	n := len(out) / 2
	if n < 158 || n > 162 {
		t.Fatalf("expected ~160 output samples, got %d", n)
	}
}

func TestResampler_PassThroughOnEqualRates(t *testing.T) {
	r := NewResampler(8000, 8000)
	in := []byte{1, 2, 3, 4}
	out := r.Resample(in)
	if &out[0] != &in[0] {
		t.Fatalf("expected pass-through slice")
	}
}

func TestResampler_CarriesAcrossChunks(t *testing.T) {
	r := NewResampler(48000, 16000)
	total := 0
	for i := 0; i < 10; i++ {
		chunk := make([]byte, 480*2) // 10ms at 48k
		total += len(r.Resample(chunk)) / 2
	}
	// 100ms at 16k is 1600 samples; allow one sample of drift.
	if total < 1599 || total > 1601 {
		t.Fatalf("expected ~1600 samples over 100ms, got %d", total)
	}
}

func TestEchoGate_SuppressionWindow(t *testing.T) {
	g := NewEchoGate(500 * time.Millisecond)
	now := time.Unix(1000, 0)
	g.now = func() time.Time { return now }

	if !g.Open() {
		t.Fatalf("gate should be open before any outbound audio")
	}
	g.NoteOutbound()
	now = now.Add(200 * time.Millisecond)
	if g.Open() {
		t.Fatalf("gate should be closed inside the window")
	}
	now = now.Add(400 * time.Millisecond)
	if !g.Open() {
		t.Fatalf("gate should reopen after the window")
	}

	// A new outbound send restarts the window from scratch.
	g.NoteOutbound()
	now = now.Add(450 * time.Millisecond)
	if g.Open() {
		t.Fatalf("window must restart on every outbound send")
	}
}
