// Package config loads the environment-driven configuration, using
// godotenv for local .env loading.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	IdleTimeout         time.Duration
	MaxSessionDuration  time.Duration
	RedisHost           string
	RedisPort           string
	RedisDB             int
	ListenAddr          string

	STTProvider string
	LLMProvider string

	GroqAPIKey       string
	OpenAIAPIKey     string
	AnthropicAPIKey  string
	GoogleAPIKey     string
	DeepgramAPIKey   string
	AssemblyAIAPIKey string
	LokutorAPIKey    string
}

// Load reads a .env file if present (ignoring its absence) and then
// environment variables, applying defaults
// suitable for local development.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		IdleTimeout:        durationSeconds("IDLE_TIMEOUT", 30),
		MaxSessionDuration: durationSeconds("MAX_SESSION_DURATION", 600),
		RedisHost:          envOr("REDIS_HOST", "localhost"),
		RedisPort:          envOr("REDIS_PORT", "6379"),
		RedisDB:            intOr("REDIS_DB", 0),
		ListenAddr:         envOr("LISTEN_ADDR", ":8080"),

		STTProvider: envOr("STT_PROVIDER", "groq"),
		LLMProvider: envOr("LLM_PROVIDER", "groq"),

		GroqAPIKey:       os.Getenv("GROQ_API_KEY"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		GoogleAPIKey:     os.Getenv("GOOGLE_API_KEY"),
		DeepgramAPIKey:   os.Getenv("DEEPGRAM_API_KEY"),
		AssemblyAIAPIKey: os.Getenv("ASSEMBLYAI_API_KEY"),
		LokutorAPIKey:    os.Getenv("LOKUTOR_API_KEY"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func durationSeconds(key string, fallbackSeconds int) time.Duration {
	return time.Duration(intOr(key, fallbackSeconds)) * time.Second
}
