// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/kestrelworks/loom-tui/internal/bus"
	"github.com/kestrelworks/loom-tui/internal/cache"
	"github.com/kestrelworks/loom-tui/internal/config"
	"github.com/kestrelworks/loom-tui/internal/ollama"
	"github.com/kestrelworks/loom-tui/internal/reconcile"
	"github.com/kestrelworks/loom-tui/internal/registry"
	"github.com/kestrelworks/loom-tui/internal/registry/keystore"
	"github.com/kestrelworks/loom-tui/internal/storage"
	"github.com/kestrelworks/loom-tui/internal/title"
	"github.com/kestrelworks/loom-tui/internal/transport"
)

// =============================================================================
// RUNTIME WIRING
// =============================================================================

// Runtime bundles the long-lived application services. The TUI and the
// CLI commands build the same graph.
type Runtime struct {
	Config     *config.Config
	Store      *storage.Store
	Cache      *cache.ConversationCache
	Reconciler *reconcile.Manager
	Titles     *title.Manager
	Registry   *registry.Registry
	Ollama     *ollama.Client
	Transport  *transport.Transport
	Bus        *bus.Bus
}

// BuildRuntime loads config and wires the service graph.
func BuildRuntime(args Args) (*Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	dbPath, err := storage.DefaultPath()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open conversation store: %w", err)
	}

	var histCache *cache.ConversationCache
	if cfg.Cache.TTLMinutes > 0 {
		histCache = cache.NewWithTTL(time.Duration(cfg.Cache.TTLMinutes) * time.Minute)
	} else {
		histCache = cache.New()
	}

	reg := registry.New(endpointsFromConfig(cfg), &keystoreSource{})

	ollamaClient := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:      cfg.Local.OllamaURL,
		DefaultModel: cfg.Local.OllamaModel,
	})

	b := bus.New()
	pacing := time.Duration(cfg.Local.DeltaPacingMs) * time.Millisecond
	tr := transport.New(reg, ollamaClient, nil, b, pacing)

	if args.Model != "" {
		cfg.DefaultModel = args.Model
	}

	return &Runtime{
		Config:     cfg,
		Store:      store,
		Cache:      histCache,
		Reconciler: reconcile.NewManager(store, histCache),
		Titles:     title.NewManager(store),
		Registry:   reg,
		Ollama:     ollamaClient,
		Transport:  tr,
		Bus:        b,
	}, nil
}

// endpointsFromConfig maps the configured base URL overrides onto the
// registry's endpoint table. Empty entries fall back to the provider
// defaults inside the registry.
func endpointsFromConfig(cfg *config.Config) registry.Endpoints {
	return registry.Endpoints{
		OpenAI:     cfg.Providers.OpenAIBaseURL,
		Anthropic:  cfg.Providers.AnthropicBaseURL,
		OpenRouter: cfg.Providers.OpenRouterBaseURL,
	}
}

// Close releases the runtime's resources.
func (r *Runtime) Close() {
	if r.Store != nil {
		_ = r.Store.Close()
	}
}

// EnsureLocalBackend starts the Ollama daemon when config asks for it
// and the selected model is local. Remote-only usage skips the probe.
func (r *Runtime) EnsureLocalBackend(ctx context.Context) error {
	if !r.Config.Local.AutoStart {
		return nil
	}
	if !registry.IsLocalModel(r.ModelID()) {
		return nil
	}
	return r.Ollama.EnsureRunning(ctx)
}

// ModelID resolves the model to use for this invocation.
func (r *Runtime) ModelID() string {
	if r.Config.DefaultModel != "" {
		return r.Config.DefaultModel
	}
	if r.Config.Local.OllamaModel != "" {
		return r.Config.Local.OllamaModel
	}
	return r.Config.Providers.DefaultModel
}

// =============================================================================
// CREDENTIAL SOURCE
// =============================================================================

// keystoreSource opens the encrypted credential store lazily, on the
// first remote-model resolve. Local-only usage never touches it.
type keystoreSource struct {
	mu    sync.Mutex
	store *keystore.Store
	err   error
}

func (s *keystoreSource) Get(provider string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil && s.err == nil {
		s.store, s.err = openKeystore()
	}
	if s.err != nil {
		return "", s.err
	}
	return s.store.Get(provider)
}

// openKeystore opens the default store with the passphrase from the
// environment.
//
// SECURITY: the fallback passphrase only protects against casual file
// disclosure. Set LOOM_PASSPHRASE to bind the store to a real secret.
func openKeystore() (*keystore.Store, error) {
	path, err := keystore.DefaultPath()
	if err != nil {
		return nil, err
	}
	return keystore.Open(path, keystorePassphrase())
}

func keystorePassphrase() string {
	if p := os.Getenv("LOOM_PASSPHRASE"); p != "" {
		return p
	}
	return "loom-local-keystore"
}
