package audio

import "encoding/binary"

// Resampler converts 16-bit mono PCM between sample rates by linear
// interpolation. It keeps the last sample and fractional position across
// calls so chunk boundaries do not click.
type Resampler struct {
	fromRate int
	toRate   int
	// pos is the next output position, in input-sample units, measured
	// from the carried last sample of the previous chunk.
	pos    float64
	last   int16
	primed bool
}

// NewResampler builds a resampler from one rate to another. Equal rates make
// Resample a pass-through.
func NewResampler(fromRate, toRate int) *Resampler {
	return &Resampler{fromRate: fromRate, toRate: toRate}
}

// Resample converts a chunk of 16-bit little-endian mono PCM.
func (r *Resampler) Resample(pcm []byte) []byte {
	if r.fromRate == r.toRate || len(pcm) < 2 {
		return pcm
	}
	n := len(pcm) / 2
	in := make([]int16, n)
	for i := 0; i < n; i++ {
		in[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}
	if !r.primed {
		r.last = in[0]
		r.primed = true
	}

	// Interpolate over the virtual sequence [last, in[0], ..., in[n-1]],
	// so positions that fall between two chunks still have both neighbors.
	at := func(i int) int16 {
		if i <= 0 {
			return r.last
		}
		return in[i-1]
	}

	step := float64(r.fromRate) / float64(r.toRate)
	out := make([]int16, 0, int(float64(n)/step)+2)
	pos := r.pos
	for pos < float64(n) {
		idx := int(pos)
		frac := pos - float64(idx)
		a := float64(at(idx))
		b := float64(at(idx + 1))
		out = append(out, int16(a+(b-a)*frac))
		pos += step
	}
	r.pos = pos - float64(n)
	r.last = in[n-1]

	outBytes := make([]byte, len(out)*2)
	for i, s := range out {
		binary.LittleEndian.PutUint16(outBytes[i*2:(i+1)*2], uint16(s))
	}
	return outBytes
}
