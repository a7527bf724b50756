package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/winnie192/voice-agent-healthcare/internal/agent"
	"github.com/winnie192/voice-agent-healthcare/internal/config"
	"github.com/winnie192/voice-agent-healthcare/internal/httpserver"
	"github.com/winnie192/voice-agent-healthcare/internal/llm"
	"github.com/winnie192/voice-agent-healthcare/internal/rag"
	"github.com/winnie192/voice-agent-healthcare/internal/search"
	"github.com/winnie192/voice-agent-healthcare/internal/storage"
	"github.com/winnie192/voice-agent-healthcare/internal/stt"
	"github.com/winnie192/voice-agent-healthcare/internal/telephony"
	"github.com/winnie192/voice-agent-healthcare/internal/tts"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	store, err := storage.NewStore(cfg.SupabaseURL, cfg.SupabaseKey)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}

	llmClient := llm.NewClient(cfg.OpenAIKey, cfg.OpenAIModel)
	orchestrator := &agent.Orchestrator{
		Classifier: llmClient,
		Responder:  llmClient,
		Retriever:  rag.NewRetriever(cfg.ChromaURL, llmClient),
		Searcher:   search.NewClient(cfg.SerperAPIKey),
		Store:      store,
	}

	calls := &telephony.Handler{
		Directory: store,
		Logs:      store,
		NewRecognizer: func() telephony.Recognizer {
			return stt.NewDeepgramService(cfg.DeepgramAPIKey)
		},
		NewSynthesizer: func() telephony.Synthesizer {
			return tts.ProviderPair(cfg.TTSProvider,
				cfg.DeepgramAPIKey, cfg.DeepgramTTSModel,
				cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID, cfg.ElevenLabsModelID)
		},
		Agent:      orchestrator,
		EchoWindow: time.Duration(cfg.EchoSuppressionMs) * time.Millisecond,
	}

	srv := httpserver.New(cfg, calls)

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
}
