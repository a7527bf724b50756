package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	DeepgramAPIKey   string
	DeepgramTTSModel string

	ElevenLabsKey     string
	ElevenLabsVoiceID string
	ElevenLabsModelID string

	// TTSProvider selects the primary synthesis provider ("deepgram" or
	// "elevenlabs"); the other becomes the fallback.
	TTSProvider string

	OpenAIKey   string
	OpenAIModel string

	SerperAPIKey string

	TwilioAuthToken string

	SupabaseURL string
	SupabaseKey string

	ChromaURL string

	// EchoSuppressionMs is how long inbound audio is withheld from the
	// recognizer after an outbound send, on legs with an open microphone.
	EchoSuppressionMs int
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found; using process environment")
	}

	addr := getenvDefault("HTTP_ADDRESS", ":8080")

	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	if deepgramKey == "" {
		log.Println("Warning: DEEPGRAM_API_KEY not set - speech recognition will not work")
	}

	elevenKey := os.Getenv("ELEVENLABS_API_KEY")
	if elevenKey == "" {
		log.Println("Warning: ELEVENLABS_API_KEY not set - fallback TTS will not work")
	}

	openAIKey := os.Getenv("OPENAI_API_KEY")
	if openAIKey == "" {
		log.Println("Warning: OPENAI_API_KEY not set - classification and responses will not work")
	}

	if os.Getenv("SERPER_API_KEY") == "" {
		log.Println("Warning: SERPER_API_KEY not set - web search disabled")
	}

	log.Printf("config: HTTP_ADDRESS=%s", addr)
	return Config{
		HTTPAddress:       addr,
		DeepgramAPIKey:    deepgramKey,
		DeepgramTTSModel:  getenvDefault("DEEPGRAM_TTS_MODEL", "aura-2-thalia-en"),
		ElevenLabsKey:     elevenKey,
		ElevenLabsVoiceID: os.Getenv("ELEVENLABS_VOICE_ID"),
		ElevenLabsModelID: getenvDefault("ELEVENLABS_MODEL_ID", "eleven_turbo_v2_5"),
		TTSProvider:       getenvDefault("TTS_PROVIDER", "deepgram"),
		OpenAIKey:         openAIKey,
		OpenAIModel:       getenvDefault("OPENAI_MODEL_ID", "gpt-4o-mini"),
		SerperAPIKey:      os.Getenv("SERPER_API_KEY"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		SupabaseURL:       os.Getenv("SUPABASE_URL"),
		SupabaseKey:       os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		ChromaURL:         getenvDefault("CHROMA_URL", "http://localhost:8100"),
		EchoSuppressionMs: 500,
	}
}
