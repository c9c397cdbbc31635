// Package config defines the daemon configuration and its loader.
package config

import (
	"encoding/json"
	"fmt"
)

// Config is the main kagent configuration.
type Config struct {
	// Provider credentials and model selection
	Provider ProviderConfig `json:"provider" mapstructure:"provider"`

	// Agent turn loop tuning
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Context budget and compression policy
	Context ContextConfig `json:"context" mapstructure:"context"`

	// Session persistence and cleanup
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`

	// Channels
	Channels ChannelsConfig `json:"channels" mapstructure:"channels"`

	// Tools
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics endpoint
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Workspace path the tools operate in
	WorkspacePath string `json:"workspace_path" mapstructure:"workspace_path"`
}

// ProviderConfig selects the model backend.
type ProviderConfig struct {
	Name   string `json:"name" mapstructure:"name"` // anthropic, openai
	APIKey string `json:"api_key" mapstructure:"api_key"`
}

// AgentConfig tunes the turn loop.
type AgentConfig struct {
	Model       string  `json:"model" mapstructure:"model"`
	MaxRounds   int     `json:"max_rounds" mapstructure:"max_rounds"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
}

// ContextConfig tunes context accounting and compression.
type ContextConfig struct {
	TokenBudget int `json:"token_budget" mapstructure:"token_budget"`
	KeepRecent  int `json:"keep_recent" mapstructure:"keep_recent"`
}

// SessionsConfig controls session storage and cleanup.
type SessionsConfig struct {
	Dir             string `json:"dir" mapstructure:"dir"`
	CleanupMaxDays  int    `json:"cleanup_max_days" mapstructure:"cleanup_max_days"`
	CleanupSchedule string `json:"cleanup_schedule" mapstructure:"cleanup_schedule"`
}

// ChannelsConfig holds channel configuration.
type ChannelsConfig struct {
	Shell    ChannelConfig         `json:"shell" mapstructure:"shell"`
	Telegram TelegramChannelConfig `json:"telegram" mapstructure:"telegram"`
}

// ChannelConfig represents a basic channel toggle.
type ChannelConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// TelegramChannelConfig configures the telegram channel.
type TelegramChannelConfig struct {
	Enabled   bool    `json:"enabled" mapstructure:"enabled"`
	BotToken  string  `json:"bot_token" mapstructure:"bot_token"`
	Allowlist []int64 `json:"allowlist" mapstructure:"allowlist"`
}

// ToolsConfig holds tool execution settings.
type ToolsConfig struct {
	TimeoutSeconds int `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	File   string `json:"file" mapstructure:"file"`
	Pretty bool   `json:"pretty" mapstructure:"pretty"`
}

// MetricsConfig exposes the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// DefaultConfig returns a config with default values.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name: "anthropic",
		},
		Agent: AgentConfig{
			Model:       "claude-sonnet-4",
			MaxRounds:   10,
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		Context: ContextConfig{
			TokenBudget: 140000,
			KeepRecent:  6,
		},
		Sessions: SessionsConfig{
			CleanupMaxDays:  30,
			CleanupSchedule: "@daily",
		},
		Channels: ChannelsConfig{
			Shell:    ChannelConfig{Enabled: true},
			Telegram: TelegramChannelConfig{Enabled: false},
		},
		Tools: ToolsConfig{
			TimeoutSeconds: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
	}
}

// String returns a JSON representation of the config.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Provider.Name {
	case "anthropic", "openai":
	case "":
		return fmt.Errorf("provider name is required")
	default:
		return fmt.Errorf("invalid provider %s (must be: anthropic, openai)", c.Provider.Name)
	}

	if c.Provider.APIKey == "" {
		return fmt.Errorf("provider api_key is required (or set %s)", apiKeyEnvVar(c.Provider.Name))
	}

	if c.Agent.Model == "" {
		return fmt.Errorf("agent model is required")
	}
	if c.Agent.MaxRounds < 0 {
		return fmt.Errorf("agent max_rounds cannot be negative")
	}

	if c.Context.TokenBudget < 0 {
		return fmt.Errorf("context token_budget cannot be negative")
	}
	if c.Context.KeepRecent < 0 {
		return fmt.Errorf("context keep_recent cannot be negative")
	}

	if c.Channels.Telegram.Enabled && c.Channels.Telegram.BotToken == "" {
		return fmt.Errorf("telegram bot token is required when the telegram channel is enabled")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics addr is required when metrics are enabled")
	}

	return nil
}

func apiKeyEnvVar(provider string) string {
	switch provider {
	case "openai":
		return "OPENAI_API_KEY"
	default:
		return "ANTHROPIC_API_KEY"
	}
}
