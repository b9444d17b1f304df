// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/jeranaias/chatwire/internal/model"
	"github.com/jeranaias/chatwire/internal/transport"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CHATWIRE_"

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete chatwire configuration.
type Config struct {
	API        APIConfig        `toml:"api" envPrefix:"API_"`
	Timeouts   TimeoutsConfig   `toml:"timeouts" envPrefix:"TIMEOUT_"`
	Transport  TransportConfig  `toml:"transport" envPrefix:"TRANSPORT_"`
	Transcript TranscriptConfig `toml:"transcript" envPrefix:"TRANSCRIPT_"`
	Log        LogConfig        `toml:"log" envPrefix:"LOG_"`
}

// APIConfig describes the backend and the chat identity.
type APIConfig struct {
	// BaseURL is the backend origin (CHATWIRE_API_URL)
	BaseURL string `toml:"base_url" env:"URL"`
	// UserID identifies the user when creating sessions
	UserID int64 `toml:"user_id" env:"USER_ID"`
	// DefaultMode is the mode used at startup: "normal" or "admin"
	DefaultMode string `toml:"default_mode" env:"MODE"`
	// HistoryLimit is the page size for history loads (1-200)
	HistoryLimit int `toml:"history_limit" env:"HISTORY_LIMIT"`
}

// TimeoutsConfig holds the per-class request budgets.
type TimeoutsConfig struct {
	Default time.Duration `toml:"default" env:"DEFAULT"`
	Chat    time.Duration `toml:"chat" env:"CHAT"`
	Stats   time.Duration `toml:"stats" env:"STATS"`
	Session time.Duration `toml:"session" env:"SESSION"`
	History time.Duration `toml:"history" env:"HISTORY"`
}

// TransportConfig tunes the HTTP client.
type TransportConfig struct {
	// RequestsPerSecond paces outgoing requests (0 = unlimited)
	RequestsPerSecond float64 `toml:"requests_per_second" env:"RPS"`
	Burst             int     `toml:"burst" env:"BURST"`
	UserAgent         string  `toml:"user_agent" env:"USER_AGENT"`
}

// TranscriptConfig controls the local message journal.
type TranscriptConfig struct {
	Enabled bool `toml:"enabled" env:"ENABLED"`
	// Path is the SQLite file (empty = ~/.chatwire/transcript.db)
	Path string `toml:"path" env:"PATH"`
}

// LogConfig controls diagnostic logging.
type LogConfig struct {
	// Level is a zerolog level name: trace, debug, info, warn, error
	Level string `toml:"level" env:"LEVEL"`
	// Format is "console" or "json"
	Format string `toml:"format" env:"FORMAT"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	t := transport.DefaultTimeouts()
	return &Config{
		API: APIConfig{
			BaseURL:      transport.DefaultBaseURL,
			DefaultMode:  string(model.ModeNormal),
			HistoryLimit: 50,
		},
		Timeouts: TimeoutsConfig{
			Default: t.Default,
			Chat:    t.ChatSend,
			Stats:   t.Stats,
			Session: t.SessionCreate,
			History: t.HistoryFetch,
		},
		Transport: TransportConfig{
			Burst:     1,
			UserAgent: transport.DefaultUserAgent,
		},
		Transcript: TranscriptConfig{
			Enabled: true,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "console",
		},
	}
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	d := Default()

	if c.API.BaseURL == "" {
		c.API.BaseURL = d.API.BaseURL
	}
	if c.API.DefaultMode == "" {
		c.API.DefaultMode = d.API.DefaultMode
	}
	if c.API.HistoryLimit == 0 {
		c.API.HistoryLimit = d.API.HistoryLimit
	}

	if c.Timeouts.Default == 0 {
		c.Timeouts.Default = d.Timeouts.Default
	}
	if c.Timeouts.Chat == 0 {
		c.Timeouts.Chat = d.Timeouts.Chat
	}
	if c.Timeouts.Stats == 0 {
		c.Timeouts.Stats = d.Timeouts.Stats
	}
	if c.Timeouts.Session == 0 {
		c.Timeouts.Session = d.Timeouts.Session
	}
	if c.Timeouts.History == 0 {
		c.Timeouts.History = d.Timeouts.History
	}

	if c.Transport.Burst == 0 {
		c.Transport.Burst = d.Transport.Burst
	}
	if c.Transport.UserAgent == "" {
		c.Transport.UserAgent = d.Transport.UserAgent
	}

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns ~/.chatwire.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "could not determine home directory")
	}
	return filepath.Join(home, ".chatwire"), nil
}

// ConfigPath returns the default config file path.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads the default config file when present, then applies the
// environment (including a .env file in the working directory), fills
// defaults and validates.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); statErr != nil {
		path = ""
	}
	return LoadFromPath(path)
}

// LoadFromPath is Load with an explicit file. An empty path skips the file.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		return nil, err
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

// LoadTOML decodes path over cfg. Keys absent from the file keep their
// current values.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return errors.Wrapf(err, "failed to decode config file %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return errors.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are skipped; variables already set win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return errors.Wrapf(err, "failed to load %s", p)
		}
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnv overrides fields from CHATWIRE_* variables. A nil environment
// reads the process environment.
//
// Supported variables:
//   - CHATWIRE_API_URL, CHATWIRE_API_USER_ID, CHATWIRE_API_MODE, CHATWIRE_API_HISTORY_LIMIT
//   - CHATWIRE_TIMEOUT_DEFAULT, _CHAT, _STATS, _SESSION, _HISTORY (Go durations)
//   - CHATWIRE_TRANSPORT_RPS, CHATWIRE_TRANSPORT_BURST, CHATWIRE_TRANSPORT_USER_AGENT
//   - CHATWIRE_TRANSCRIPT_ENABLED, CHATWIRE_TRANSCRIPT_PATH
//   - CHATWIRE_LOG_LEVEL, CHATWIRE_LOG_FORMAT
func (c *Config) ApplyEnv(environment map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environment != nil {
		opts.Environment = environment
	}
	if err := env.Parse(c, opts); err != nil {
		return errors.Wrap(err, "failed to parse environment")
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes cfg as TOML to path, replacing the file atomically.
func Save(cfg *Config, path string) error {
	var sb strings.Builder
	sb.WriteString("# chatwire configuration file\n")
	sb.WriteString("# Environment variables (CHATWIRE_*) override these values.\n\n")
	if err := toml.NewEncoder(&sb).Encode(cfg); err != nil {
		return errors.Wrap(err, "failed to encode config")
	}
	if err := atomicWriteFile(path, []byte(sb.String()), 0600); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}
	return nil
}

// atomicWriteFile writes data to a temp file in the target directory,
// syncs it and renames it over path.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return err
	}
	tempPath := f.Name()

	success := false
	defer func() {
		if !success {
			f.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tempPath, perm); err != nil {
		return err
	}
	if err := os.Rename(tempPath, path); err != nil {
		return err
	}
	success = true
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

var (
	validLevels  = map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true, "disabled": true}
	validFormats = map[string]bool{"console": true, "json": true}
)

// Validate checks every field and returns all problems at once.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if u, err := url.Parse(c.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "api.base_url",
			Message: fmt.Sprintf("invalid URL '%s', must be http(s)://host[:port]", c.API.BaseURL),
		})
	}
	if c.API.UserID < 0 {
		errs = append(errs, ValidationError{Field: "api.user_id", Message: "must not be negative"})
	}
	if _, err := model.ParseMode(c.API.DefaultMode); err != nil {
		errs = append(errs, ValidationError{
			Field:   "api.default_mode",
			Message: fmt.Sprintf("invalid mode '%s', must be one of: normal, admin", c.API.DefaultMode),
		})
	}
	if c.API.HistoryLimit < 1 || c.API.HistoryLimit > 200 {
		errs = append(errs, ValidationError{
			Field:   "api.history_limit",
			Message: fmt.Sprintf("%d is out of range 1-200", c.API.HistoryLimit),
		})
	}

	for field, d := range map[string]time.Duration{
		"timeouts.default": c.Timeouts.Default,
		"timeouts.chat":    c.Timeouts.Chat,
		"timeouts.stats":   c.Timeouts.Stats,
		"timeouts.session": c.Timeouts.Session,
		"timeouts.history": c.Timeouts.History,
	} {
		if d < 0 {
			errs = append(errs, ValidationError{Field: field, Message: "must not be negative"})
		}
	}

	if c.Transport.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{Field: "transport.requests_per_second", Message: "must not be negative"})
	}
	if c.Transport.Burst < 0 {
		errs = append(errs, ValidationError{Field: "transport.burst", Message: "must not be negative"})
	}

	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s'", c.Log.Level),
		})
	}
	if !validFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, ValidationError{
			Field:   "log.format",
			Message: fmt.Sprintf("invalid format '%s', must be console or json", c.Log.Format),
		})
	}

	if len(errs) > 0 {
		sortValidationErrors(errs)
		return errs
	}
	return nil
}

// sortValidationErrors orders errors by field so map iteration does not
// change the message.
func sortValidationErrors(errs ValidateErrors) {
	sort.SliceStable(errs, func(i, j int) bool {
		return errs[i].Field < errs[j].Field
	})
}

// =============================================================================
// DERIVED SETTINGS
// =============================================================================

// Mode returns the parsed default mode.
func (c *Config) Mode() model.Mode {
	if m, err := model.ParseMode(c.API.DefaultMode); err == nil {
		return m
	}
	return model.ModeNormal
}

// TransportTimeouts converts the timeout section.
func (c *Config) TransportTimeouts() transport.Timeouts {
	return transport.Timeouts{
		Default:       c.Timeouts.Default,
		ChatSend:      c.Timeouts.Chat,
		Stats:         c.Timeouts.Stats,
		SessionCreate: c.Timeouts.Session,
		HistoryFetch:  c.Timeouts.History,
	}
}

// ClientConfig builds the transport client configuration.
func (c *Config) ClientConfig() *transport.ClientConfig {
	cc := transport.DefaultConfig()
	cc.BaseURL = c.API.BaseURL
	cc.Timeouts = c.TransportTimeouts()
	cc.RequestsPerSecond = c.Transport.RequestsPerSecond
	cc.Burst = c.Transport.Burst
	cc.UserAgent = c.Transport.UserAgent
	return cc
}

// TranscriptPath returns the journal path, resolving the default.
func (c *Config) TranscriptPath() (string, error) {
	if c.Transcript.Path != "" {
		return c.Transcript.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "transcript.db"), nil
}

// String renders the configuration as TOML.
func (c *Config) String() string {
	var sb strings.Builder
	if err := toml.NewEncoder(&sb).Encode(c); err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return sb.String()
}
