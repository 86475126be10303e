// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port string

	// Providers lists provider names in failover order. Recognized names:
	// openai, anthropic, groq, ollama.
	Providers []string

	OpenAIAPIKey    string
	AnthropicAPIKey string
	GroqAPIKey      string
	OllamaBaseURL   string

	// DBPath backs the SQLite memory store; empty selects the in-memory store.
	DBPath string

	ConfidenceThreshold float64
	TurnTimeout         time.Duration
	ProviderTimeout     time.Duration
	RecallK             int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		Providers:           splitList(getEnv("PROVIDERS", "openai")),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey:     getEnv("ANTHROPIC_API_KEY", ""),
		GroqAPIKey:          getEnv("GROQ_API_KEY", ""),
		OllamaBaseURL:       getEnv("OLLAMA_BASE_URL", "http://localhost:11434/v1"),
		DBPath:              getEnv("DB_PATH", ""),
		ConfidenceThreshold: getEnvFloat("CONFIDENCE_THRESHOLD", 0.5),
		TurnTimeout:         getEnvDuration("TURN_TIMEOUT", 30*time.Second),
		ProviderTimeout:     getEnvDuration("PROVIDER_TIMEOUT", 30*time.Second),
		RecallK:             getEnvInt("RECALL_K", 5),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("PROVIDERS cannot be empty")
	}
	for _, name := range c.Providers {
		switch name {
		case "openai", "anthropic", "groq", "ollama":
		default:
			return fmt.Errorf("unknown provider %q in PROVIDERS", name)
		}
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be in [0,1]")
	}
	if c.TurnTimeout <= 0 {
		return fmt.Errorf("TURN_TIMEOUT must be > 0")
	}
	if c.RecallK < 0 {
		return fmt.Errorf("RECALL_K must be >= 0")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
