package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds application configuration values loaded from environment variables.
type Config struct {
	HTTPPort        string
	DatabaseURL     string
	StoreDriver     string
	JWTSecret       string
	TokenExpiration time.Duration
	TrustedOrigins  []string

	AIProvider        string
	AIBaseURL         string
	AIAPIKey          string
	AIModel           string
	GenerationTimeout time.Duration
	MaxPromptLength   int

	LogLevel  string
	LogFormat string

	// EnvFileLoaded is false when no .env file was found; the caller decides whether to mention it.
	EnvFileLoaded bool
}

// LoadConfig loads configuration from environment variables.
// It looks for a .env file first, then checks actual environment variables.
func LoadConfig() (*Config, error) {
	// A missing .env is normal in production.
	envErr := godotenv.Load()

	cfg := &Config{
		HTTPPort:       getEnv("HTTP_PORT", "8080"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		StoreDriver:    strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		TrustedOrigins: splitList(getEnv("TRUSTED_ORIGINS", "http://localhost:5173,http://localhost:3000")),
		AIProvider:     strings.ToLower(getEnv("AI_PROVIDER", "openai")),
		AIBaseURL:      getEnv("AI_BASE_URL", "https://openrouter.ai/api/v1"),
		AIAPIKey:       getEnv("AI_API_KEY", ""),
		AIModel:        getEnv("AI_MODEL", "z-ai/glm-4.5-air:free"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		EnvFileLoaded:  envErr == nil,
	}

	var errs []error

	tokenExpHours, err := strconv.Atoi(getEnv("JWT_EXPIRATION_HOURS", "24"))
	if err != nil || tokenExpHours <= 0 {
		errs = append(errs, fmt.Errorf("JWT_EXPIRATION_HOURS must be a positive integer"))
	}
	cfg.TokenExpiration = time.Hour * time.Duration(tokenExpHours)

	cfg.GenerationTimeout, err = time.ParseDuration(getEnv("GENERATION_TIMEOUT", "3m"))
	if err != nil || cfg.GenerationTimeout <= 0 {
		errs = append(errs, fmt.Errorf("GENERATION_TIMEOUT must be a positive duration such as 90s or 3m"))
	}

	cfg.MaxPromptLength, err = strconv.Atoi(getEnv("MAX_PROMPT_LENGTH", "10000"))
	if err != nil || cfg.MaxPromptLength <= 0 {
		errs = append(errs, fmt.Errorf("MAX_PROMPT_LENGTH must be a positive integer"))
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL environment variable is not set"))
		}
	case StoreDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, cfg.StoreDriver))
	}

	if cfg.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("JWT_SECRET environment variable is not set"))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
