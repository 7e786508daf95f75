// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for loom.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.loom/config.toml
//   - ~/.loom/config.json
//   - Built-in defaults
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/kestrelworks/loom-tui/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete loom configuration.
type Config struct {
	// General settings
	Version      string `toml:"version" json:"version"`
	DefaultModel string `toml:"default_model" json:"default_model"`

	// Local (Ollama) configuration
	Local LocalConfig `toml:"local" json:"local"`

	// Remote provider configuration
	Providers ProvidersConfig `toml:"providers" json:"providers"`

	// Cache configuration
	Cache CacheConfig `toml:"cache" json:"cache"`

	// Title generation configuration
	Title TitleConfig `toml:"title" json:"title"`

	// UI configuration
	UI UIConfig `toml:"ui" json:"ui"`
}

// LocalConfig contains local Ollama configuration.
type LocalConfig struct {
	// OllamaURL is the URL of the Ollama server
	OllamaURL string `toml:"ollama_url" json:"ollama_url"`
	// OllamaModel is the default model to use with Ollama
	OllamaModel string `toml:"ollama_model" json:"ollama_model"`
	// AutoStart launches the Ollama daemon when it is not running
	AutoStart bool `toml:"auto_start" json:"auto_start"`
	// DeltaPacingMs is the delay between synthesized stream deltas in
	// milliseconds. Local backends return complete token lists; pacing
	// them preserves the streaming feel.
	DeltaPacingMs int `toml:"delta_pacing_ms" json:"delta_pacing_ms"`
}

// ProvidersConfig contains remote provider configuration. API keys live
// in the encrypted keystore, not here.
type ProvidersConfig struct {
	// OpenAIBaseURL overrides the OpenAI endpoint (empty = default)
	OpenAIBaseURL string `toml:"openai_base_url" json:"openai_base_url"`
	// AnthropicBaseURL overrides the Anthropic endpoint
	AnthropicBaseURL string `toml:"anthropic_base_url" json:"anthropic_base_url"`
	// OpenRouterBaseURL overrides the OpenRouter endpoint
	OpenRouterBaseURL string `toml:"openrouter_base_url" json:"openrouter_base_url"`
	// DefaultModel is the default remote model
	DefaultModel string `toml:"default_model" json:"default_model"`
	// Reasoning requests reasoning traces from models that support them
	Reasoning bool `toml:"reasoning" json:"reasoning"`
}

// CacheConfig contains conversation cache configuration.
type CacheConfig struct {
	// Enabled controls whether history caching is active
	Enabled bool `toml:"enabled" json:"enabled"`
	// TTLMinutes is the freshness window for cached histories
	TTLMinutes int `toml:"ttl_minutes" json:"ttl_minutes"`
	// PreloadConcurrency is the preload batch size
	PreloadConcurrency int `toml:"preload_concurrency" json:"preload_concurrency"`
	// RecentLimit is how many recent conversations idle warming loads
	RecentLimit int `toml:"recent_limit" json:"recent_limit"`
}

// TitleConfig contains automatic title generation configuration.
type TitleConfig struct {
	// Enabled controls automatic title generation
	Enabled bool `toml:"enabled" json:"enabled"`
	// ContextDetection enables topic-change title updates
	ContextDetection bool `toml:"context_detection" json:"context_detection"`
}

// UIConfig contains UI configuration.
type UIConfig struct {
	// Theme is the UI theme: "dark", "light", "auto"
	Theme string `toml:"theme" json:"theme"`
	// ShowTokens displays token counts in the UI
	ShowTokens bool `toml:"show_tokens" json:"show_tokens"`
	// ShowReasoning renders reasoning traces in the transcript
	ShowReasoning bool `toml:"show_reasoning" json:"show_reasoning"`
	// CompactMode uses a more compact UI layout
	CompactMode bool `toml:"compact_mode" json:"compact_mode"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version:      "1.0.0",
		DefaultModel: "llama3.1:8b",

		Local: LocalConfig{
			OllamaURL:     "http://127.0.0.1:11434",
			OllamaModel:   "llama3.1:8b",
			AutoStart:     true,
			DeltaPacingMs: 10,
		},

		Providers: ProvidersConfig{
			DefaultModel: "anthropic/claude-3.5-sonnet",
			Reasoning:    false,
		},

		Cache: CacheConfig{
			Enabled:            true,
			TTLMinutes:         5,
			PreloadConcurrency: 2,
			RecentLimit:        5,
		},

		Title: TitleConfig{
			Enabled:          true,
			ContextDetection: true,
		},

		UI: UIConfig{
			Theme:         "dark",
			ShowTokens:    true,
			ShowReasoning: true,
			CompactMode:   false,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the loom configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".loom"), nil
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

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files should be 0600 (owner read/write only).
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	mode := info.Mode().Perm()
	if mode != 0600 {
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
	cfg := Default()
	var loadErr error

	tomlPath, err := ConfigPathTOML()
	if err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			if err := LoadTOML(cfg, tomlPath); err != nil {
				loadErr = fmt.Errorf("failed to load TOML config: %w", err)
			} else {
				return finalize(cfg)
			}
		}
	}

	jsonPath, err := ConfigPathJSON()
	if err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			if err := LoadJSON(cfg, jsonPath); err != nil {
				loadErr = fmt.Errorf("failed to load JSON config: %w", err)
			} else {
				return finalize(cfg)
			}
		}
	}

	cfg, err = finalize(cfg)
	if err != nil {
		return nil, err
	}
	return cfg, loadErr
}

// finalize applies env overrides, defaults, and validation in order.
func finalize(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML loads configuration from a TOML file.
// SECURITY: Checks and fixes file permissions on load.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		// Permissions might not be fixable on all systems.
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON loads configuration from a JSON file.
// SECURITY: Checks and fixes file permissions on load.
func LoadJSON(cfg *Config, path string) error {
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

// LoadFromPath loads configuration from a specific file path with full
// validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	return finalize(cfg)
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file.
// SECURITY: Creates config files with 0600 permissions.
// RELIABILITY: Atomic write with fsync prevents data loss on crash.
func SaveTOML(cfg *Config, path string) error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf strings.Builder
	buf.WriteString("# loom configuration file\n")
	buf.WriteString("# Generated by loom - edit with care\n\n")

	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, []byte(buf.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON saves the configuration to a JSON file.
// SECURITY: Creates config files with 0600 permissions.
// RELIABILITY: Atomic write with fsync prevents data loss on crash.
func SaveJSON(cfg *Config, path string) error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
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
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Local.OllamaURL != "" {
		if u, err := url.Parse(c.Local.OllamaURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "local.ollama_url",
				Message: fmt.Sprintf("invalid URL '%s'", c.Local.OllamaURL),
			})
		}
	}

	if c.Local.DeltaPacingMs < 0 || c.Local.DeltaPacingMs > 1000 {
		errs = append(errs, ValidationError{
			Field:   "local.delta_pacing_ms",
			Message: fmt.Sprintf("must be 0-1000, got %d", c.Local.DeltaPacingMs),
		})
	}

	if c.Cache.TTLMinutes < 0 {
		errs = append(errs, ValidationError{
			Field:   "cache.ttl_minutes",
			Message: "must be non-negative",
		})
	}

	if c.Cache.PreloadConcurrency < 0 || c.Cache.PreloadConcurrency > 16 {
		errs = append(errs, ValidationError{
			Field:   "cache.preload_concurrency",
			Message: fmt.Sprintf("must be 0-16, got %d", c.Cache.PreloadConcurrency),
		})
	}

	if c.Cache.RecentLimit < 0 || c.Cache.RecentLimit > 50 {
		errs = append(errs, ValidationError{
			Field:   "cache.recent_limit",
			Message: fmt.Sprintf("must be 0-50, got %d", c.Cache.RecentLimit),
		})
	}

	validThemes := map[string]bool{"dark": true, "light": true, "auto": true}
	if !validThemes[strings.ToLower(c.UI.Theme)] {
		errs = append(errs, ValidationError{
			Field:   "ui.theme",
			Message: fmt.Sprintf("invalid theme '%s', must be one of: dark, light, auto", c.UI.Theme),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults sets default values for any missing or zero-value
// configuration fields.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}
	if c.DefaultModel == "" {
		c.DefaultModel = defaults.DefaultModel
	}

	if c.Local.OllamaURL == "" {
		c.Local.OllamaURL = defaults.Local.OllamaURL
	}
	if c.Local.OllamaModel == "" {
		c.Local.OllamaModel = defaults.Local.OllamaModel
	}
	if c.Local.DeltaPacingMs == 0 {
		c.Local.DeltaPacingMs = defaults.Local.DeltaPacingMs
	}

	if c.Providers.DefaultModel == "" {
		c.Providers.DefaultModel = defaults.Providers.DefaultModel
	}

	if c.Cache.TTLMinutes == 0 {
		c.Cache.TTLMinutes = defaults.Cache.TTLMinutes
	}
	if c.Cache.PreloadConcurrency == 0 {
		c.Cache.PreloadConcurrency = defaults.Cache.PreloadConcurrency
	}
	if c.Cache.RecentLimit == 0 {
		c.Cache.RecentLimit = defaults.Cache.RecentLimit
	}

	if c.UI.Theme == "" {
		c.UI.Theme = defaults.UI.Theme
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - LOOM_MODEL: overrides default_model
//   - LOOM_OLLAMA_URL: overrides local.ollama_url
//   - LOOM_THEME: overrides ui.theme
//   - LOOM_REASONING: set to "1" or "true" to request reasoning traces
//   - LOOM_NO_TITLES: set to "1" or "true" to disable title generation
func (c *Config) ApplyEnvOverrides() {
	if model := os.Getenv("LOOM_MODEL"); model != "" {
		c.DefaultModel = model
	}

	if url := os.Getenv("LOOM_OLLAMA_URL"); url != "" {
		c.Local.OllamaURL = url
	}

	if theme := os.Getenv("LOOM_THEME"); theme != "" {
		c.UI.Theme = theme
	}

	if reasoning := os.Getenv("LOOM_REASONING"); reasoning != "" {
		c.Providers.Reasoning = reasoning == "1" || strings.ToLower(reasoning) == "true"
	}

	if noTitles := os.Getenv("LOOM_NO_TITLES"); noTitles != "" {
		disabled := noTitles == "1" || strings.ToLower(noTitles) == "true"
		c.Title.Enabled = !disabled
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "cache.ttl_minutes").
func (c *Config) Get(key string) (interface{}, error) {
	parts := strings.Split(key, ".")
	if len(parts) == 0 {
		return nil, errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)

		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})

		if !field.IsValid() {
			return nil, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}

		if i == len(parts)-1 {
			return field.Interface(), nil
		}

		if field.Kind() == reflect.Struct {
			v = field
		} else {
			return nil, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
	}

	return nil, fmt.Errorf("invalid key: %s", key)
}

// Set sets a configuration value using dot notation (e.g., "ui.theme").
func (c *Config) Set(key string, value interface{}) error {
	parts := strings.Split(key, ".")
	if len(parts) == 0 {
		return errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)

		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})

		if !field.IsValid() {
			return fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}

		if i == len(parts)-1 {
			if !field.CanSet() {
				return fmt.Errorf("cannot set field: %s", key)
			}
			return setFieldValue(field, value)
		}

		if field.Kind() == reflect.Struct {
			v = field
		} else {
			return fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
	}

	return fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go
// field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}

	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type
// conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			boolVal := strVal == "1" || strings.ToLower(strVal) == "true" || strings.ToLower(strVal) == "yes"
			field.SetBool(boolVal)
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}

	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}

	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfig = cfg
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk. Thread-safe.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
	return nil
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
