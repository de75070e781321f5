package api

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config carries environment-driven settings for the API process.
type Config struct {
	Port            string
	PostgresDSN     string
	ConflictRetries int
	DeadLetterLimit int
	ProblemBaseURI  string
}

// LoadConfig reads environment variables, applies defaults, and validates basic constraints.
func LoadConfig() (Config, error) {
	cfg := Config{
		Port:            envDefault("PORT", "8080"),
		PostgresDSN:     strings.TrimSpace(os.Getenv("POSTGRES_DSN")),
		ConflictRetries: 3,
		DeadLetterLimit: 100,
		ProblemBaseURI:  strings.TrimSpace(os.Getenv("PROBLEM_BASE_URI")),
	}
	if raw := strings.TrimSpace(os.Getenv("ORDER_CONFLICT_RETRIES")); raw != "" {
		retries, err := strconv.Atoi(raw)
		if err != nil || retries <= 0 {
			return Config{}, fmt.Errorf("ORDER_CONFLICT_RETRIES must be a positive integer")
		}
		cfg.ConflictRetries = retries
	}
	if raw := strings.TrimSpace(os.Getenv("DEAD_LETTER_LIMIT")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return Config{}, fmt.Errorf("DEAD_LETTER_LIMIT must be a positive integer")
		}
		cfg.DeadLetterLimit = limit
	}
	return cfg, nil
}

func envDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
