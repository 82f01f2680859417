package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds all runtime configuration for the VoxGate server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir       string
	HTTPPort      int
	PublicBaseURL string // externally-reachable base URL for webhook callbacks (e.g. "https://voice.example.com")
	WebhookSecret string // shared secret for provider webhook signature validation
	ToolSecret    string // shared secret for signing/verifying AI tool-call JWTs
	PostgresDSN   string // optional; transfer log moves to Postgres when set

	ProviderBaseURL    string // telephony provider call API base URL
	ProviderAccountSID string
	ProviderAuthToken  string
	AIStreamURL        string // media stream endpoint of the AI runtime (wss://...)

	WhisperWindowSeconds int    // agent accept window after the whisper prompt
	AcceptDigit          string // DTMF digit that accepts a warm transfer
	DeclineDigit         string // DTMF digit that declines a warm transfer
	PerTargetMinSeconds  int    // floor for a sequential dial attempt's time budget

	LogLevel  string
	LogFormat string // "text" or "json"
}

// defaults
const (
	defaultDataDir              = "./data"
	defaultHTTPPort             = 8080
	defaultWhisperWindowSeconds = 15
	defaultAcceptDigit          = "1"
	defaultDeclineDigit         = "2"
	defaultPerTargetMinSeconds  = 5
	defaultLogLevel             = "info"
	defaultLogFormat            = "text"
)

// envPrefix is the prefix for all VoxGate environment variables.
const envPrefix = "VOXGATE_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("voxgate", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the embedded database")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.PublicBaseURL, "public-base-url", "", "externally-reachable base URL used in webhook callback URLs")
	fs.StringVar(&cfg.WebhookSecret, "webhook-secret", "", "shared secret for validating telephony provider webhook signatures")
	fs.StringVar(&cfg.ToolSecret, "tool-secret", "", "shared secret for AI tool-call JWT bearer tokens")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", "", "Postgres DSN for the transfer log (embedded SQLite if empty)")
	fs.StringVar(&cfg.ProviderBaseURL, "provider-base-url", "", "telephony provider call API base URL")
	fs.StringVar(&cfg.ProviderAccountSID, "provider-account-sid", "", "telephony provider account SID")
	fs.StringVar(&cfg.ProviderAuthToken, "provider-auth-token", "", "telephony provider API auth token")
	fs.StringVar(&cfg.AIStreamURL, "ai-stream-url", "", "media stream endpoint of the AI runtime")
	fs.IntVar(&cfg.WhisperWindowSeconds, "whisper-window", defaultWhisperWindowSeconds, "seconds an answered agent has to accept or decline a warm transfer")
	fs.StringVar(&cfg.AcceptDigit, "accept-digit", defaultAcceptDigit, "DTMF digit that accepts a warm transfer")
	fs.StringVar(&cfg.DeclineDigit, "decline-digit", defaultDeclineDigit, "DTMF digit that declines a warm transfer")
	fs.IntVar(&cfg.PerTargetMinSeconds, "per-target-min", defaultPerTargetMinSeconds, "minimum seconds each sequential dial attempt gets")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	// CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"data-dir":             envPrefix + "DATA_DIR",
		"http-port":            envPrefix + "HTTP_PORT",
		"public-base-url":      envPrefix + "PUBLIC_BASE_URL",
		"webhook-secret":       envPrefix + "WEBHOOK_SECRET",
		"tool-secret":          envPrefix + "TOOL_SECRET",
		"postgres-dsn":         envPrefix + "POSTGRES_DSN",
		"provider-base-url":    envPrefix + "PROVIDER_BASE_URL",
		"provider-account-sid": envPrefix + "PROVIDER_ACCOUNT_SID",
		"provider-auth-token":  envPrefix + "PROVIDER_AUTH_TOKEN",
		"ai-stream-url":        envPrefix + "AI_STREAM_URL",
		"whisper-window":       envPrefix + "WHISPER_WINDOW",
		"accept-digit":         envPrefix + "ACCEPT_DIGIT",
		"decline-digit":        envPrefix + "DECLINE_DIGIT",
		"per-target-min":       envPrefix + "PER_TARGET_MIN",
		"log-level":            envPrefix + "LOG_LEVEL",
		"log-format":           envPrefix + "LOG_FORMAT",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "public-base-url":
			cfg.PublicBaseURL = val
		case "webhook-secret":
			cfg.WebhookSecret = val
		case "tool-secret":
			cfg.ToolSecret = val
		case "postgres-dsn":
			cfg.PostgresDSN = val
		case "provider-base-url":
			cfg.ProviderBaseURL = val
		case "provider-account-sid":
			cfg.ProviderAccountSID = val
		case "provider-auth-token":
			cfg.ProviderAuthToken = val
		case "ai-stream-url":
			cfg.AIStreamURL = val
		case "whisper-window":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.WhisperWindowSeconds = v
			}
		case "accept-digit":
			cfg.AcceptDigit = val
		case "decline-digit":
			cfg.DeclineDigit = val
		case "per-target-min":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.PerTargetMinSeconds = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.WebhookSecret == "" {
		return fmt.Errorf("webhook-secret is required (provider webhooks cannot be validated without it)")
	}
	if c.ToolSecret == "" {
		return fmt.Errorf("tool-secret is required (tool calls cannot be authenticated without it)")
	}
	if c.WhisperWindowSeconds < 1 || c.WhisperWindowSeconds > 120 {
		return fmt.Errorf("whisper-window must be between 1 and 120 seconds, got %d", c.WhisperWindowSeconds)
	}
	if !isDigit(c.AcceptDigit) || !isDigit(c.DeclineDigit) {
		return fmt.Errorf("accept-digit and decline-digit must each be a single DTMF digit")
	}
	if c.AcceptDigit == c.DeclineDigit {
		return fmt.Errorf("accept-digit and decline-digit must differ, both are %q", c.AcceptDigit)
	}
	if c.PerTargetMinSeconds < 1 {
		return fmt.Errorf("per-target-min must be at least 1 second, got %d", c.PerTargetMinSeconds)
	}
	c.PublicBaseURL = strings.TrimRight(c.PublicBaseURL, "/")

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	return nil
}

// isDigit reports whether s is a single DTMF digit (0-9, *, #).
func isDigit(s string) bool {
	if len(s) != 1 {
		return false
	}
	return (s[0] >= '0' && s[0] <= '9') || s[0] == '*' || s[0] == '#'
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
