// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management
// for chatwire.
//
// Supports both TOML and JSON configuration formats, with sensible
// defaults, environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.chatwire/config.toml
//   - ~/.chatwire/config.json
//   - Built-in defaults
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete chatwire configuration.
type Config struct {
	// Server is the connection endpoint configuration.
	Server ServerConfig `toml:"server" json:"server"`

	// Reconnect tunes the backoff schedule after connection loss.
	Reconnect ReconnectConfig `toml:"reconnect" json:"reconnect"`

	// Send tunes outbound message handling.
	Send SendConfig `toml:"send" json:"send"`

	// Storage configures conversation persistence.
	Storage StorageConfig `toml:"storage" json:"storage"`

	// Log configures structured logging.
	Log LogConfig `toml:"log" json:"log"`
}

// ServerConfig contains the chat backend endpoints and credentials.
type ServerConfig struct {
	// URL is the WebSocket endpoint, e.g. wss://chat.example.com/ws
	URL string `toml:"url" json:"url"`
	// TokenEndpoint is the HTTP endpoint that exchanges the session
	// credential for a short-lived connection token.
	TokenEndpoint string `toml:"token_endpoint" json:"token_endpoint"`
	// SessionCredential authenticates against the token endpoint.
	// SECURITY: Prefer the CHATWIRE_CREDENTIAL env var over this field.
	SessionCredential string `toml:"session_credential" json:"session_credential"`
	// ConversationID is the conversation to join on startup. Empty means
	// resume the most recently saved conversation, or start fresh.
	ConversationID string `toml:"conversation_id" json:"conversation_id"`
	// HeartbeatSecs is the application-level ping interval in seconds.
	HeartbeatSecs int `toml:"heartbeat_secs" json:"heartbeat_secs"`
	// OpenTimeoutSecs bounds the token fetch and the socket handshake.
	OpenTimeoutSecs int `toml:"open_timeout_secs" json:"open_timeout_secs"`
}

// ReconnectConfig contains the reconnect backoff schedule.
type ReconnectConfig struct {
	// BaseDelayMs is the first retry delay in milliseconds; each
	// subsequent attempt doubles it.
	BaseDelayMs int `toml:"base_delay_ms" json:"base_delay_ms"`
	// MaxDelayMs caps the doubled delay.
	MaxDelayMs int `toml:"max_delay_ms" json:"max_delay_ms"`
	// MaxAttempts is the number of consecutive failures before the
	// session gives up.
	MaxAttempts int `toml:"max_attempts" json:"max_attempts"`
}

// SendConfig contains outbound message settings.
type SendConfig struct {
	// MaxMessageLen is the maximum message length in characters.
	MaxMessageLen int `toml:"max_message_len" json:"max_message_len"`
	// CollapseDuplicates controls whether identical rapid re-sends
	// collapse into one local message.
	CollapseDuplicates bool `toml:"collapse_duplicates" json:"collapse_duplicates"`
	// RatePerSec caps outbound message frames per second (0 = no limit).
	RatePerSec float64 `toml:"rate_per_sec" json:"rate_per_sec"`
	// Burst is the limiter burst size when RatePerSec is set.
	Burst int `toml:"burst" json:"burst"`
}

// StorageConfig contains conversation persistence settings.
type StorageConfig struct {
	// Dir is the conversations directory (empty = ~/.chatwire/conversations).
	Dir string `toml:"dir" json:"dir"`
	// MaxConversations limits stored conversations (0 = unlimited).
	MaxConversations int `toml:"max_conversations" json:"max_conversations"`
	// SaveDelayMs is the debounce delay between history change and disk
	// write, in milliseconds.
	SaveDelayMs int `toml:"save_delay_ms" json:"save_delay_ms"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is the minimum level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level"`
	// Pretty enables human-readable console output instead of JSON.
	Pretty bool `toml:"pretty" json:"pretty"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL:             "wss://127.0.0.1:8080/ws",
			TokenEndpoint:   "https://127.0.0.1:8080/api/ws-token",
			HeartbeatSecs:   30,
			OpenTimeoutSecs: 10,
		},
		Reconnect: ReconnectConfig{
			BaseDelayMs: 1000,
			MaxDelayMs:  30000,
			MaxAttempts: 5,
		},
		Send: SendConfig{
			MaxMessageLen:      10000,
			CollapseDuplicates: true,
			RatePerSec:         0,
			Burst:              0,
		},
		Storage: StorageConfig{
			Dir:              "",
			MaxConversations: 100,
			SaveDelayMs:      1000,
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the chatwire configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".chatwire"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files should be 0600 (owner read/write only) to
// protect the session credential.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	if tomlPath, err := ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			return LoadFromPath(tomlPath)
		}
	}
	if jsonPath, err := ConfigPathJSON(); err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			return LoadFromPath(jsonPath)
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path with full
// validation. The format is chosen by extension; anything that is not
// .json decodes as TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := loadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := loadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		// Permissions might not be fixable on all systems; carry on.
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

func loadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported variables:
//   - CHATWIRE_SERVER_URL: overrides server.url
//   - CHATWIRE_TOKEN_ENDPOINT: overrides server.token_endpoint
//   - CHATWIRE_CREDENTIAL: overrides server.session_credential
//   - CHATWIRE_CONVERSATION: overrides server.conversation_id
//   - CHATWIRE_STORAGE_DIR: overrides storage.dir
//   - CHATWIRE_LOG_LEVEL: overrides log.level
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CHATWIRE_SERVER_URL"); v != "" {
		c.Server.URL = v
	}
	if v := os.Getenv("CHATWIRE_TOKEN_ENDPOINT"); v != "" {
		c.Server.TokenEndpoint = v
	}
	if v := os.Getenv("CHATWIRE_CREDENTIAL"); v != "" {
		c.Server.SessionCredential = v
	}
	if v := os.Getenv("CHATWIRE_CONVERSATION"); v != "" {
		c.Server.ConversationID = v
	}
	if v := os.Getenv("CHATWIRE_STORAGE_DIR"); v != "" {
		c.Storage.Dir = v
	}
	if v := os.Getenv("CHATWIRE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// =============================================================================
// DEFAULTS AND VALIDATION
// =============================================================================

// SetDefaults fills zero values with defaults after a partial file load.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Server.URL == "" {
		c.Server.URL = defaults.Server.URL
	}
	if c.Server.TokenEndpoint == "" {
		c.Server.TokenEndpoint = defaults.Server.TokenEndpoint
	}
	if c.Server.HeartbeatSecs <= 0 {
		c.Server.HeartbeatSecs = defaults.Server.HeartbeatSecs
	}
	if c.Server.OpenTimeoutSecs <= 0 {
		c.Server.OpenTimeoutSecs = defaults.Server.OpenTimeoutSecs
	}
	if c.Reconnect.BaseDelayMs <= 0 {
		c.Reconnect.BaseDelayMs = defaults.Reconnect.BaseDelayMs
	}
	if c.Reconnect.MaxDelayMs <= 0 {
		c.Reconnect.MaxDelayMs = defaults.Reconnect.MaxDelayMs
	}
	if c.Reconnect.MaxAttempts <= 0 {
		c.Reconnect.MaxAttempts = defaults.Reconnect.MaxAttempts
	}
	if c.Send.MaxMessageLen <= 0 {
		c.Send.MaxMessageLen = defaults.Send.MaxMessageLen
	}
	if c.Storage.MaxConversations < 0 {
		c.Storage.MaxConversations = defaults.Storage.MaxConversations
	}
	if c.Storage.SaveDelayMs <= 0 {
		c.Storage.SaveDelayMs = defaults.Storage.SaveDelayMs
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("server.url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("server.url: scheme must be ws or wss, got %q", u.Scheme)
	}

	t, err := url.Parse(c.Server.TokenEndpoint)
	if err != nil {
		return fmt.Errorf("server.token_endpoint: %w", err)
	}
	if t.Scheme != "http" && t.Scheme != "https" {
		return fmt.Errorf("server.token_endpoint: scheme must be http or https, got %q", t.Scheme)
	}

	if c.Reconnect.BaseDelayMs > c.Reconnect.MaxDelayMs {
		return fmt.Errorf("reconnect: base_delay_ms (%d) exceeds max_delay_ms (%d)",
			c.Reconnect.BaseDelayMs, c.Reconnect.MaxDelayMs)
	}
	if c.Send.RatePerSec < 0 {
		return fmt.Errorf("send.rate_per_sec must not be negative")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}
	return nil
}

// =============================================================================
// SAVE
// =============================================================================

// Save writes the configuration as TOML to the default path.
func (c *Config) Save() error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return c.SaveToPath(path)
}

// SaveToPath writes the configuration as TOML to the given path with
// restrictive permissions.
func (c *Config) SaveToPath(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}
