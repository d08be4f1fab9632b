package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/lokutor-ai/turntaker/internal/config"
	"github.com/lokutor-ai/turntaker/internal/httpapi"
	"github.com/lokutor-ai/turntaker/internal/logging"
	"github.com/lokutor-ai/turntaker/internal/store"
	llmProvider "github.com/lokutor-ai/turntaker/pkg/providers/llm"
	sttProvider "github.com/lokutor-ai/turntaker/pkg/providers/stt"
	ttsProvider "github.com/lokutor-ai/turntaker/pkg/providers/tts"
	"github.com/lokutor-ai/turntaker/pkg/session"
	"github.com/lokutor-ai/turntaker/pkg/turntaking"
	"github.com/lokutor-ai/turntaker/pkg/types"
)

func main() {
	cfg := config.Load()
	logger := logging.New()

	if cfg.LokutorAPIKey == "" {
		log.Fatal("LOKUTOR_API_KEY must be set")
	}

	newSTT := buildSTTFactory(cfg)
	llm := buildLLM(cfg)
	tts := ttsProvider.NewLokutorTTS(cfg.LokutorAPIKey)

	var st store.Store
	if redisAvailable(cfg) {
		st = store.NewRedisStore(cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)
		logger.Info("using redis session store", "host", cfg.RedisHost, "port", cfg.RedisPort)
	} else {
		st = store.NewMemoryStore()
		logger.Info("using in-memory session store")
	}

	sessCfg := session.Config{
		IdleTimeout:        cfg.IdleTimeout,
		MaxSessionDuration: cfg.MaxSessionDuration,
		TurnTaking:         turntaking.DefaultConfig(),
	}

	mgr := httpapi.NewManager(st, sessCfg, httpapi.NewEvaluator(logger), newSTT, llm, tts, types.VoiceF1, types.LanguageEn, logger)
	srv := httpapi.NewServer(cfg.ListenAddr, mgr, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sweepLoop(ctx, mgr, logger)

	logger.Info("turntaker server starting", "addr", cfg.ListenAddr, "stt", cfg.STTProvider, "llm", cfg.LLMProvider)
	if err := srv.Start(ctx); err != nil {
		logger.Error("server exited with error", "err", err)
	}
}

// redisAvailable reports whether Redis configuration looks intentional
// rather than just the zero-value default, so a dev box without Redis
// running falls back to the in-memory store instead of failing every
// request.
func redisAvailable(cfg config.Config) bool {
	return cfg.RedisHost != "" && cfg.RedisHost != "localhost"
}

func sweepLoop(ctx context.Context, mgr *httpapi.Manager, logger types.Logger) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			mgr.SweepIdle(ctx, now)
		}
	}
}

func buildSTTFactory(cfg config.Config) func() types.STTProvider {
	switch cfg.STTProvider {
	case "openai":
		return func() types.STTProvider { return sttProvider.NewOpenAISTT(cfg.OpenAIAPIKey, "whisper-1") }
	case "deepgram":
		return func() types.STTProvider { return sttProvider.NewDeepgramSTT(cfg.DeepgramAPIKey) }
	case "assemblyai":
		return func() types.STTProvider { return sttProvider.NewAssemblyAISTT(cfg.AssemblyAIAPIKey) }
	case "groq":
		fallthrough
	default:
		return func() types.STTProvider { return sttProvider.NewGroqSTT(cfg.GroqAPIKey, "whisper-large-v3-turbo") }
	}
}

func buildLLM(cfg config.Config) types.LLMProvider {
	switch cfg.LLMProvider {
	case "openai":
		return llmProvider.NewOpenAILLM(cfg.OpenAIAPIKey, "gpt-4o")
	case "anthropic":
		return llmProvider.NewAnthropicLLM(cfg.AnthropicAPIKey, "claude-3-5-sonnet-20241022")
	case "google":
		return llmProvider.NewGoogleLLM(cfg.GoogleAPIKey, "gemini-1.5-flash")
	case "groq":
		fallthrough
	default:
		return llmProvider.NewGroqLLM(cfg.GroqAPIKey, "llama-3.3-70b-versatile")
	}
}
