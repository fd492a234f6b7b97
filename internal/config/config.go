package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ent0n29/chatbot/internal/policy"
)

const (
	ModeMock = "mock"
	ModeLLM  = "llm"
)

// Config contains all runtime settings for the chat service.
type Config struct {
	BindAddr          string
	ShutdownTimeout   time.Duration
	MetricsNamespace  string
	AllowAnyOrigin    bool
	ExposeErrorDetail bool

	Mode string

	ModelBaseURL string
	ModelID      string
	ModelTimeout time.Duration

	AuditLogPath    string
	AuditLogEnabled bool

	EvidenceURL string

	HistoryURL        string
	HistoryMaxTurns   int
	HistoryTTL        time.Duration
	StoreProbeTimeout time.Duration

	PolicyPreamble string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("APP_BIND_ADDR", ":8000"),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "chatbot"),
		AllowAnyOrigin:    false,
		ExposeErrorDetail: true,
		Mode:              strings.ToLower(envOrDefault("CHAT_MODE", ModeMock)),
		ModelBaseURL:      strings.TrimRight(envOrDefault("VLLM_BASE", "http://127.0.0.1:8001"), "/"),
		ModelID:           envOrDefault("VLLM_MODEL", "Qwen/Qwen2.5-7B-Instruct"),
		AuditLogPath:      envOrDefault("CHAT_LOG_PATH", "chat_log.jsonl"),
		AuditLogEnabled:   true,
		EvidenceURL:       stringsTrimSpace("DATABASE_URL"),
		HistoryURL:        stringsTrimSpace("REDIS_URL"),
		HistoryMaxTurns:   12,
		PolicyPreamble:    envOrDefault("CHAT_SYSTEM_DEFAULT", policy.DefaultPreamble),
		ShutdownTimeout:   15 * time.Second,
		ModelTimeout:      90 * time.Second,
		HistoryTTL:        24 * time.Hour,
		StoreProbeTimeout: time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ModelTimeout, err = durationFromEnv("VLLM_TIMEOUT", cfg.ModelTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryTTL, err = durationFromEnv("HISTORY_TTL", cfg.HistoryTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.StoreProbeTimeout, err = durationFromEnv("STORE_PROBE_TIMEOUT", cfg.StoreProbeTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryMaxTurns, err = intFromEnv("HISTORY_MAX_MESSAGES", cfg.HistoryMaxTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.AuditLogEnabled, err = boolFromEnv("CHAT_LOG_ENABLE", cfg.AuditLogEnabled)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.ExposeErrorDetail, err = boolFromEnv("APP_EXPOSE_ERROR_DETAIL", cfg.ExposeErrorDetail)
	if err != nil {
		return Config{}, err
	}

	if cfg.Mode != ModeMock && cfg.Mode != ModeLLM {
		return Config{}, fmt.Errorf("CHAT_MODE must be %q or %q, got %q", ModeMock, ModeLLM, cfg.Mode)
	}
	if cfg.HistoryMaxTurns <= 0 {
		return Config{}, fmt.Errorf("HISTORY_MAX_MESSAGES must be positive")
	}
	if cfg.ModelTimeout <= 0 {
		return Config{}, fmt.Errorf("VLLM_TIMEOUT must be positive")
	}
	if cfg.StoreProbeTimeout <= 0 {
		return Config{}, fmt.Errorf("STORE_PROBE_TIMEOUT must be positive")
	}
	if cfg.HistoryTTL < time.Second {
		return Config{}, fmt.Errorf("HISTORY_TTL must be at least 1s")
	}

	return cfg, nil
}

// EvidenceProbeTimeout bounds the evidence store liveness probe.
func (c Config) EvidenceProbeTimeout() time.Duration {
	return 2 * c.StoreProbeTimeout
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
