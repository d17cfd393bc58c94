// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/chatline/internal/api"
	"github.com/jeranaias/chatline/internal/secret"
	"github.com/jeranaias/chatline/internal/session"
	"github.com/jeranaias/chatline/internal/util"
)

// CurrentVersion is the config schema version this build reads and writes.
const CurrentVersion = "2"

// PassphraseEnv names the environment variable holding the passphrase for
// an encrypted api_key.
const PassphraseEnv = "CHATLINE_PASSPHRASE"

// ErrNoConfig is returned by Load when no config file exists at the
// resolved location. The returned config is still usable: defaults plus
// environment overrides.
var ErrNoConfig = errors.New("config file not found")

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete chatline configuration.
type Config struct {
	// Version is the schema version of the file this config came from.
	Version string `toml:"version"`

	// Chat holds the endpoint and generation parameters.
	Chat ChatConfig `toml:"chat"`

	// UI holds terminal behavior settings.
	UI UIConfig `toml:"ui"`

	// Usage holds the exchange ledger settings.
	Usage UsageConfig `toml:"usage"`

	// path is where the config was loaded from, empty when no file existed.
	path string
}

// ChatConfig contains the endpoint and generation parameters. Optional
// parameters are pointers; nil means "not sent to the endpoint".
type ChatConfig struct {
	// APIKey authenticates against the endpoint. A value with the ENC:
	// prefix is decrypted on load using the CHATLINE_PASSPHRASE variable.
	APIKey string `toml:"api_key"`
	// Model is the model name sent with every request.
	Model string `toml:"model"`
	// BaseURL is the endpoint base, e.g. https://api.openai.com/v1
	BaseURL string `toml:"base_url"`

	// MaxTokens bounds the response length. Valid range 1-2048.
	MaxTokens int `toml:"max_tokens"`
	// Temperature is the sampling temperature. Valid range 0-1.
	Temperature float64 `toml:"temperature"`
	// TopP is the nucleus sampling mass. Valid range 0-1.
	TopP *float64 `toml:"top_p"`
	// N is the number of completions to request. Valid range 1-10.
	N *int `toml:"n"`
	// Stop lists up to 4 sequences that end the completion.
	Stop []string `toml:"stop"`
	// PresencePenalty penalizes tokens already present. Valid range 0-1.
	PresencePenalty *float64 `toml:"presence_penalty"`
	// FrequencyPenalty penalizes frequent tokens. Valid range 0-1.
	FrequencyPenalty *float64 `toml:"frequency_penalty"`
	// LogitBias maps token IDs to bias values. Valid range -2 to 2.
	LogitBias map[string]float64 `toml:"logit_bias"`

	// RequestsPerMinute paces requests client-side. 0 disables pacing.
	RequestsPerMinute int `toml:"requests_per_minute"`
	// ServerRetries is how often the CLI retries a server-side failure.
	ServerRetries int `toml:"server_retries"`
}

// UIConfig contains terminal behavior settings.
type UIConfig struct {
	// DoubleCtrlC requires a second Ctrl-C at the prompt to exit.
	DoubleCtrlC bool `toml:"double_ctrlc"`
	// HideConfig suppresses the config banner at startup.
	HideConfig bool `toml:"hide_config"`
	// RedactAPIKey replaces the key with a fingerprint in any display.
	RedactAPIKey bool `toml:"redact_api_key"`
	// MultilineInsertions lets a trailing backslash continue the prompt
	// on the next line.
	MultilineInsertions bool `toml:"multiline_insertions"`
	// SaveHistory persists prompt history across invocations.
	SaveHistory bool `toml:"save_history"`
	// HistoryFile overrides the history location. Empty means the default
	// file next to the config.
	HistoryFile string `toml:"history_file"`
	// RenderMarkdown re-renders the completed response as markdown.
	RenderMarkdown bool `toml:"render_markdown"`
	// FixNewlines joins fragments split on a trailing backslash and turns
	// literal \n sequences into real newlines for display.
	FixNewlines bool `toml:"fix_newlines"`
	// WatchConfig reports on-disk config changes before the next prompt.
	WatchConfig bool `toml:"watch_config"`
}

// UsageConfig contains the exchange ledger settings. The ledger records
// metadata only, never prompt or response text.
type UsageConfig struct {
	// Track enables recording exchange metadata.
	Track bool `toml:"track"`
	// Database overrides the ledger location. Empty means the default
	// file next to the config.
	Database string `toml:"database"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with the built-in defaults.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,

		Chat: ChatConfig{
			APIKey:        "",
			Model:         "gpt-4o-mini",
			BaseURL:       api.DefaultBaseURL,
			MaxTokens:     2048,
			Temperature:   0.8,
			ServerRetries: 3,
		},

		UI: UIConfig{
			DoubleCtrlC:  false,
			RedactAPIKey: true,
			SaveHistory:  true,
			FixNewlines:  true,
		},

		Usage: UsageConfig{
			Track: false,
		},
	}
}

// Path returns where the config was loaded from, or "" when no file
// existed.
func (c *Config) Path() string {
	return c.path
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load resolves loc and loads the config: file over defaults, then legacy
// migration, environment overrides, api_key decryption, and validation.
// When no file exists it returns a usable defaults-plus-environment config
// together with ErrNoConfig.
func Load(loc Location) (*Config, error) {
	cfg, err := LoadRaw(loc)
	if err != nil && !errors.Is(err, ErrNoConfig) {
		return nil, err
	}
	noFile := err != nil

	cfg.ApplyEnvOverrides()

	if derr := cfg.decryptAPIKey(); derr != nil {
		return nil, derr
	}
	if verr := cfg.Validate(); verr != nil {
		return nil, verr
	}

	if noFile {
		return cfg, ErrNoConfig
	}
	return cfg, nil
}

// LoadRaw loads the file over defaults and migrates legacy layouts, but
// applies no environment overrides, no decryption, and no validation.
// Used when the file itself is being edited, e.g. to encrypt the key.
func LoadRaw(loc Location) (*Config, error) {
	path, err := loc.Path()
	if err != nil {
		return nil, err
	}

	cfg := Default()
	cfg.path = path

	if _, statErr := os.Stat(path); statErr != nil {
		if os.IsNotExist(statErr) {
			cfg.path = ""
			return cfg, fmt.Errorf("%w: %s", ErrNoConfig, path)
		}
		return nil, fmt.Errorf("reading config %s: %w", path, statErr)
	}

	// A world-readable file holding an API key gets tightened, not
	// rejected.
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("decoding config %s: %w", path, err)
	}

	if isLegacy(md, cfg.Version) {
		legacy, err := decodeLegacy(string(data))
		if err != nil {
			return nil, fmt.Errorf("decoding legacy config %s: %w", path, err)
		}
		cfg = migrate(legacy)
		cfg.path = path
	}

	cfg.fillDefaults()
	return cfg, nil
}

// fillDefaults restores required values a file explicitly blanked.
func (c *Config) fillDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}
	if c.Chat.Model == "" {
		c.Chat.Model = defaults.Chat.Model
	}
	if c.Chat.BaseURL == "" {
		c.Chat.BaseURL = defaults.Chat.BaseURL
	}
	if c.Chat.MaxTokens == 0 {
		c.Chat.MaxTokens = defaults.Chat.MaxTokens
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - CHATLINE_API_KEY: overrides chat.api_key
//   - CHATLINE_MODEL: overrides chat.model
//   - CHATLINE_BASE_URL: overrides chat.base_url
func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv("CHATLINE_API_KEY"); key != "" {
		c.Chat.APIKey = key
	}
	if model := os.Getenv("CHATLINE_MODEL"); model != "" {
		c.Chat.Model = model
	}
	if base := os.Getenv("CHATLINE_BASE_URL"); base != "" {
		c.Chat.BaseURL = base
	}
}

// decryptAPIKey resolves an ENC: value into the plaintext key, in memory
// only. The file keeps the encrypted form.
func (c *Config) decryptAPIKey() error {
	if !secret.IsEncrypted(c.Chat.APIKey) {
		return nil
	}
	passphrase := os.Getenv(PassphraseEnv)
	if passphrase == "" {
		return fmt.Errorf("api_key is encrypted; set %s to decrypt it", PassphraseEnv)
	}
	plain, err := secret.Decrypt(c.Chat.APIKey, passphrase)
	if err != nil {
		return fmt.Errorf("decrypting api_key: %w", err)
	}
	c.Chat.APIKey = plain
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError is one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors collects every validation problem of a config.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every field and returns all problems at once, or nil.
func (c *Config) Validate() error {
	var errs ValidateErrors

	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Chat.BaseURL != "" {
		u, err := url.Parse(c.Chat.BaseURL)
		if err != nil {
			add("chat.base_url", "invalid URL: %v", err)
		} else if u.Scheme != "http" && u.Scheme != "https" {
			add("chat.base_url", "scheme must be http or https, got %q", u.Scheme)
		}
	}

	if c.Chat.MaxTokens < 1 || c.Chat.MaxTokens > 2048 {
		add("chat.max_tokens", "must be between 1 and 2048, got %d", c.Chat.MaxTokens)
	}
	if c.Chat.Temperature < 0 || c.Chat.Temperature > 1 {
		add("chat.temperature", "must be between 0 and 1, got %g", c.Chat.Temperature)
	}
	if c.Chat.TopP != nil && (*c.Chat.TopP < 0 || *c.Chat.TopP > 1) {
		add("chat.top_p", "must be between 0 and 1, got %g", *c.Chat.TopP)
	}
	if c.Chat.N != nil && (*c.Chat.N < 1 || *c.Chat.N > 10) {
		add("chat.n", "must be between 1 and 10, got %d", *c.Chat.N)
	}

	nonEmptyStops := 0
	for _, stop := range c.Chat.Stop {
		if strings.TrimSpace(stop) == "" {
			add("chat.stop", "stop sequences must not be empty")
		} else {
			nonEmptyStops++
		}
	}
	if nonEmptyStops > 4 {
		add("chat.stop", "at most 4 stop sequences allowed, got %d", nonEmptyStops)
	}

	if c.Chat.PresencePenalty != nil && (*c.Chat.PresencePenalty < 0 || *c.Chat.PresencePenalty > 1) {
		add("chat.presence_penalty", "must be between 0 and 1, got %g", *c.Chat.PresencePenalty)
	}
	if c.Chat.FrequencyPenalty != nil && (*c.Chat.FrequencyPenalty < 0 || *c.Chat.FrequencyPenalty > 1) {
		add("chat.frequency_penalty", "must be between 0 and 1, got %g", *c.Chat.FrequencyPenalty)
	}
	for token, bias := range c.Chat.LogitBias {
		if bias < -2 || bias > 2 {
			add("chat.logit_bias", "bias for token %q must be between -2 and 2, got %g", token, bias)
		}
	}

	if c.Chat.RequestsPerMinute < 0 {
		add("chat.requests_per_minute", "must not be negative, got %d", c.Chat.RequestsPerMinute)
	}
	if c.Chat.ServerRetries < 0 || c.Chat.ServerRetries > 10 {
		add("chat.server_retries", "must be between 0 and 10, got %d", c.Chat.ServerRetries)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// SESSION MAPPING
// =============================================================================

// SessionConfig maps the chat section onto the session runner's config.
func (c *Config) SessionConfig() session.Config {
	temp := c.Chat.Temperature
	return session.Config{
		APIKey:            c.Chat.APIKey,
		BaseURL:           c.Chat.BaseURL,
		Model:             c.Chat.Model,
		MaxTokens:         c.Chat.MaxTokens,
		Temperature:       &temp,
		TopP:              c.Chat.TopP,
		N:                 c.Chat.N,
		Stop:              c.Chat.Stop,
		PresencePenalty:   c.Chat.PresencePenalty,
		FrequencyPenalty:  c.Chat.FrequencyPenalty,
		LogitBias:         c.Chat.LogitBias,
		RequestsPerMinute: c.Chat.RequestsPerMinute,
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes the config back to the path it was loaded from.
func (c *Config) Save() error {
	if c.path == "" {
		return errors.New("config has no file path")
	}
	return c.SaveTo(c.path)
}

// SaveTo writes the config as TOML with 0600 permissions, atomically.
func (c *Config) SaveTo(path string) error {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "# chatline configuration file")
	fmt.Fprintln(&buf, "# Values under [chat] are sent with every request.")
	fmt.Fprintln(&buf, "")

	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600, 0700); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	c.path = path
	return nil
}

// ensureSecurePermissions tightens a config file to 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("fixing permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// SCAFFOLDING
// =============================================================================

// exampleConfig is the commented starter file offered on first run.
const exampleConfig = `# chatline configuration file
#
# The api_key is required. Get one from your endpoint provider and either
# paste it here, export CHATLINE_API_KEY, or store it encrypted with
# chatline --encrypt-key.

version = "2"

[chat]
api_key = ""
model = "gpt-4o-mini"
base_url = "https://api.openai.com/v1"
max_tokens = 2048
temperature = 0.8
# top_p = 1.0
# n = 1
# stop = ["\n\n"]
# presence_penalty = 0.0
# frequency_penalty = 0.0
# requests_per_minute = 0
server_retries = 3

[ui]
double_ctrlc = false
hide_config = false
redact_api_key = true
multiline_insertions = false
save_history = true
render_markdown = false
fix_newlines = true
watch_config = false

[usage]
track = false
`

// WriteExample writes the commented starter config to path with 0600
// permissions, creating parent directories as needed. It refuses to
// overwrite an existing file.
func WriteExample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := util.AtomicWriteFile(path, []byte(exampleConfig), 0600, 0700); err != nil {
		return fmt.Errorf("writing example config: %w", err)
	}
	return nil
}
