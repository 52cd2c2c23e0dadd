package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kitbuilder587/livesearch-bot/internal/domain"
)

var (
	ErrMissingToken    = errors.New("TELEGRAM_BOT_TOKEN is required")
	ErrInvalidEndpoint = errors.New("XAI_API_ENDPOINT must be an http(s) url")
	ErrNoModels        = errors.New("XAI_MODELS must list at least one model")
)

const (
	DefaultEndpoint = "https://api.x.ai/v1/chat/completions"
	DefaultModels   = "grok-3-latest,grok-2,grok-1"
)

type Config struct {
	Telegram TelegramConfig
	XAI      XAIConfig
	Log      LogConfig
	Metrics  MetricsConfig
	Session  SessionConfig
}

type TelegramConfig struct {
	Token string
	Debug bool
}

type XAIConfig struct {
	Endpoint string
	// Models - список для /model, первый используется по умолчанию
	Models  []string
	Timeout time.Duration
}

type LogConfig struct {
	Level string
	// Format: json или console. Пусто - console для debug, json для остального.
	Format string
}

type MetricsConfig struct {
	Addr string
}

type SessionConfig struct {
	TTL time.Duration
}

func (c XAIConfig) DefaultModel() string {
	if len(c.Models) == 0 {
		return ""
	}
	return c.Models[0]
}

func Load() (*Config, error) {
	cfg := &Config{
		Telegram: TelegramConfig{
			Token: os.Getenv("TELEGRAM_BOT_TOKEN"),
			Debug: getEnvBoolOrDefault("TELEGRAM_DEBUG", false),
		},
		XAI: XAIConfig{
			Endpoint: getEnvOrDefault("XAI_API_ENDPOINT", DefaultEndpoint),
			Models:   parseList(getEnvOrDefault("XAI_MODELS", DefaultModels)),
			Timeout:  time.Duration(getEnvIntOrDefault("XAI_TIMEOUT_SEC", 0)) * time.Second,
		},
		Log: LogConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: os.Getenv("LOG_FORMAT"),
		},
		Metrics: MetricsConfig{
			Addr: getEnvOrDefault("METRICS_ADDR", ":9090"),
		},
		Session: SessionConfig{
			TTL: time.Duration(getEnvIntOrDefault("SESSION_TTL_SEC", 86400)) * time.Second,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return ErrMissingToken
	}
	if domain.ValidateURL(c.XAI.Endpoint) != nil {
		return ErrInvalidEndpoint
	}
	if len(c.XAI.Models) == 0 {
		return ErrNoModels
	}
	return nil
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
