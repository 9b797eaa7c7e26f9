// Package config loads the bridge's tunables: environment variables with
// documented defaults, validated up front so a
// misconfiguration fails fast at startup rather than mid-request. A viper
// layer sits underneath so an optional config file (or flags bound by
// cmd/discode) can override the same keys.
package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable named in the hook pipeline's external
// interfaces, each with the documented default applied when unset.
type Config struct {
	// Hook HTTP server
	HookPort  int
	HookToken string
	Hostname  string

	// Router submit timing
	SubmitDelayMs         int
	OpencodeSubmitDelayMs int

	// BufferFallback timing
	BufferFallbackInitialMs int
	BufferFallbackStableMs  int
	BufferFallbackMaxChecks int

	// Interactive timeouts
	ApprovalTimeoutMs int
	QuestionTimeoutMs int

	// Chat platform credentials
	DiscordBotToken string
	SlackBotToken   string
	SlackAppToken   string

	// Persistence
	DatabaseURL string
	SQLitePath  string
	RedisURL    string

	// Ambient toggles
	MetricsEnabled bool
	AuditEnabled   bool
}

func defaults(v *viper.Viper) {
	v.SetDefault("hook_port", 18470)
	v.SetDefault("hook_token", "")
	v.SetDefault("hostname", "127.0.0.1")
	v.SetDefault("submit_delay_ms", 300)
	v.SetDefault("opencode_submit_delay_ms", 75)
	v.SetDefault("buffer_fallback_initial_ms", 3000)
	v.SetDefault("buffer_fallback_stable_ms", 2000)
	v.SetDefault("buffer_fallback_max_checks", 3)
	v.SetDefault("approval_timeout_ms", 120_000)
	v.SetDefault("question_timeout_ms", 300_000)
	v.SetDefault("sqlite_path", "discode.db")
	v.SetDefault("metrics_enabled", true)
	v.SetDefault("audit_enabled", true)
}

// Load builds a Config from environment variables (DISCODE_ prefix) with an
// optional config file overlay at configPath (ignored if empty or absent).
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("discode")
	v.AutomaticEnv()
	defaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
			}
		}
	}

	cfg := &Config{
		HookPort:                v.GetInt("hook_port"),
		HookToken:               v.GetString("hook_token"),
		Hostname:                v.GetString("hostname"),
		SubmitDelayMs:           v.GetInt("submit_delay_ms"),
		OpencodeSubmitDelayMs:   v.GetInt("opencode_submit_delay_ms"),
		BufferFallbackInitialMs: v.GetInt("buffer_fallback_initial_ms"),
		BufferFallbackStableMs:  v.GetInt("buffer_fallback_stable_ms"),
		BufferFallbackMaxChecks: v.GetInt("buffer_fallback_max_checks"),
		ApprovalTimeoutMs:       v.GetInt("approval_timeout_ms"),
		QuestionTimeoutMs:       v.GetInt("question_timeout_ms"),
		DiscordBotToken:         v.GetString("discord_bot_token"),
		SlackBotToken:           v.GetString("slack_bot_token"),
		SlackAppToken:           v.GetString("slack_app_token"),
		DatabaseURL:             v.GetString("database_url"),
		SQLitePath:              v.GetString("sqlite_path"),
		RedisURL:                v.GetString("redis_url"),
		MetricsEnabled:          v.GetBool("metrics_enabled"),
		AuditEnabled:            v.GetBool("audit_enabled"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would fail confusingly later.
func (c *Config) Validate() error {
	if c.HookPort <= 0 || c.HookPort > 65535 {
		return fmt.Errorf("invalid hook port: %d", c.HookPort)
	}
	if c.DiscordBotToken == "" && c.SlackBotToken == "" {
		return fmt.Errorf("at least one chat platform must be configured (DISCODE_DISCORD_BOT_TOKEN or DISCODE_SLACK_BOT_TOKEN)")
	}
	return nil
}

func (c *Config) SubmitDelay(agentType string) time.Duration {
	if agentType == "opencode" {
		return time.Duration(c.OpencodeSubmitDelayMs) * time.Millisecond
	}
	return time.Duration(c.SubmitDelayMs) * time.Millisecond
}

// ParseBoolEnv handles the rare call site that reads a raw env string
// instead of going through viper.
func ParseBoolEnv(value string, fallback bool) bool {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
