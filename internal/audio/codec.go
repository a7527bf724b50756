package audio

import (
	"encoding/base64"
	"encoding/binary"
)

// G.711 mu-law companding, the wire encoding of the telephony leg.
// Twilio media streams carry 8-bit mu-law at 8kHz; the recognizer wants
// 16-bit little-endian linear PCM.

const (
	muLawBias = 0x84
	muLawClip = 32635
)

func pcmToMuLawSample(s int16) byte {
	v := int32(s)
	sign := byte(0)
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > muLawClip {
		v = muLawClip
	}
	v += muLawBias
	exponent := 7
	for mask := int32(0x4000); v&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((v >> uint(exponent+3)) & 0x0F)
	return ^(sign | byte(exponent)<<4 | mantissa)
}

func muLawToPCMSample(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F
	v := ((int32(mantissa) << 3) + muLawBias) << exponent
	v -= muLawBias
	if sign != 0 {
		v = -v
	}
	return int16(v)
}

// MuLawToPCM16 expands mu-law bytes to 16-bit little-endian linear PCM.
func MuLawToPCM16(mulaw []byte) []byte {
	out := make([]byte, len(mulaw)*2)
	for i, b := range mulaw {
		binary.LittleEndian.PutUint16(out[i*2:(i+1)*2], uint16(muLawToPCMSample(b)))
	}
	return out
}

// PCM16ToMuLaw compands 16-bit little-endian linear PCM down to mu-law.
func PCM16ToMuLaw(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		out[i] = pcmToMuLawSample(s)
	}
	return out
}

// DecodeTelephonyMedia converts a base64 mu-law media payload into linear PCM.
func DecodeTelephonyMedia(payload string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, err
	}
	return MuLawToPCM16(raw), nil
}

// EncodeTelephonyMedia converts linear PCM into a base64 mu-law media payload.
func EncodeTelephonyMedia(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(PCM16ToMuLaw(pcm))
}
