package tts

// ProviderPair builds the failover chain for a call. The configured provider
// is primary; the other becomes the fallback.
func ProviderPair(preferred, deepgramKey, deepgramModel, elevenKey, elevenVoice, elevenModel string) *Failover {
	dg := NewDeepgram(deepgramKey, deepgramModel)
	el := NewElevenLabs(elevenKey, elevenVoice, elevenModel)
	if preferred == "elevenlabs" {
		return NewFailover(el, dg)
	}
	return NewFailover(dg, el)
}
