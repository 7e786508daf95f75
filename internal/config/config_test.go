// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
)

// =============================================================================
// DEFAULTS TESTS
// =============================================================================

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Local.OllamaURL != "http://127.0.0.1:11434" {
		t.Errorf("OllamaURL = %q", cfg.Local.OllamaURL)
	}
	if cfg.Cache.TTLMinutes != 5 {
		t.Errorf("TTLMinutes = %d, want 5", cfg.Cache.TTLMinutes)
	}
	if cfg.Cache.PreloadConcurrency != 2 {
		t.Errorf("PreloadConcurrency = %d, want 2", cfg.Cache.PreloadConcurrency)
	}
	if cfg.Local.DeltaPacingMs != 10 {
		t.Errorf("DeltaPacingMs = %d, want 10", cfg.Local.DeltaPacingMs)
	}
	if !cfg.Title.Enabled {
		t.Error("title generation should be enabled by default")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"bad ollama url", func(c *Config) { c.Local.OllamaURL = "not a url" }, true},
		{"negative ttl", func(c *Config) { c.Cache.TTLMinutes = -1 }, true},
		{"pacing too large", func(c *Config) { c.Local.DeltaPacingMs = 5000 }, true},
		{"preload too large", func(c *Config) { c.Cache.PreloadConcurrency = 64 }, true},
		{"bad theme", func(c *Config) { c.UI.Theme = "neon" }, true},
		{"light theme ok", func(c *Config) { c.UI.Theme = "light" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// =============================================================================
// LOAD / SAVE TESTS
// =============================================================================

func TestLoadFromPathTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	content := `
default_model = "qwen2.5:7b"

[local]
ollama_url = "http://127.0.0.1:9999"

[cache]
ttl_minutes = 10
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.DefaultModel != "qwen2.5:7b" {
		t.Errorf("DefaultModel = %q", cfg.DefaultModel)
	}
	if cfg.Local.OllamaURL != "http://127.0.0.1:9999" {
		t.Errorf("OllamaURL = %q", cfg.Local.OllamaURL)
	}
	if cfg.Cache.TTLMinutes != 10 {
		t.Errorf("TTLMinutes = %d, want 10", cfg.Cache.TTLMinutes)
	}
	// Unspecified fields fall back to defaults.
	if cfg.Cache.PreloadConcurrency != 2 {
		t.Errorf("PreloadConcurrency = %d, want default 2", cfg.Cache.PreloadConcurrency)
	}
}

func TestLoadFromPathJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	content := `{"default_model": "llama3.1:70b", "ui": {"theme": "light"}}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.DefaultModel != "llama3.1:70b" {
		t.Errorf("DefaultModel = %q", cfg.DefaultModel)
	}
	if cfg.UI.Theme != "light" {
		t.Errorf("Theme = %q", cfg.UI.Theme)
	}
}

func TestLoadFromPathInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	if err := os.WriteFile(path, []byte("ui.theme = \"neon\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFromPath(path); err == nil {
		t.Error("invalid config should fail to load")
	}
}

func TestSaveTOMLRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	path := filepath.Join(dir, ".loom", "config.toml")

	cfg := Default()
	cfg.DefaultModel = "mistral:7b"
	cfg.Cache.TTLMinutes = 15

	if err := SaveTOML(cfg, path); err != nil {
		t.Fatalf("SaveTOML failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("config file permissions = %o, want 0600", perm)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if loaded.DefaultModel != "mistral:7b" {
		t.Errorf("DefaultModel = %q after round trip", loaded.DefaultModel)
	}
	if loaded.Cache.TTLMinutes != 15 {
		t.Errorf("TTLMinutes = %d after round trip", loaded.Cache.TTLMinutes)
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDE TESTS
// =============================================================================

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("LOOM_MODEL", "deepseek-r1:14b")
	t.Setenv("LOOM_OLLAMA_URL", "http://10.0.0.5:11434")
	t.Setenv("LOOM_THEME", "light")
	t.Setenv("LOOM_REASONING", "true")
	t.Setenv("LOOM_NO_TITLES", "1")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.DefaultModel != "deepseek-r1:14b" {
		t.Errorf("DefaultModel = %q", cfg.DefaultModel)
	}
	if cfg.Local.OllamaURL != "http://10.0.0.5:11434" {
		t.Errorf("OllamaURL = %q", cfg.Local.OllamaURL)
	}
	if cfg.UI.Theme != "light" {
		t.Errorf("Theme = %q", cfg.UI.Theme)
	}
	if !cfg.Providers.Reasoning {
		t.Error("LOOM_REASONING=true should enable reasoning")
	}
	if cfg.Title.Enabled {
		t.Error("LOOM_NO_TITLES=1 should disable title generation")
	}
}

// =============================================================================
// DOT NOTATION TESTS
// =============================================================================

func TestGetSet(t *testing.T) {
	cfg := Default()

	v, err := cfg.Get("cache.ttl_minutes")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v.(int) != 5 {
		t.Errorf("cache.ttl_minutes = %v, want 5", v)
	}

	if err := cfg.Set("ui.theme", "light"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if cfg.UI.Theme != "light" {
		t.Errorf("Theme = %q after Set", cfg.UI.Theme)
	}

	// String-to-int conversion on Set.
	if err := cfg.Set("local.delta_pacing_ms", "25"); err != nil {
		t.Fatalf("Set with string int failed: %v", err)
	}
	if cfg.Local.DeltaPacingMs != 25 {
		t.Errorf("DeltaPacingMs = %d after Set", cfg.Local.DeltaPacingMs)
	}

	if _, err := cfg.Get("nope.nothing"); err == nil {
		t.Error("Get on unknown key should fail")
	}
	if err := cfg.Set("nope.nothing", "x"); err == nil {
		t.Error("Set on unknown key should fail")
	}
}
