// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading for loom.
//
// Configuration is read from ~/.loom/config.toml (or config.json as a
// fallback), merged over built-in defaults, then overridden by LOOM_*
// environment variables and validated. A filesystem watcher reloads the
// global config when the file changes on disk.
//
// # Key Types
//
//   - Config: the complete configuration tree
//   - Watcher: debounced hot-reload of the config file
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (LOOM_*)
//   - ~/.loom/config.toml
//   - ~/.loom/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	cfg := config.Global()      // lazy singleton
//	err := config.Save(cfg)     // atomic TOML write, 0600
package config
