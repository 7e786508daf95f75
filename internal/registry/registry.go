// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package registry resolves model identifiers to callable handles.
//
// A Handle names the model, its adapter kind, and for remote kinds the
// endpoint and credential to use. Credentials are initialized lazily:
// nothing is read from the environment or the keystore until the first
// resolution that needs that provider.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// =============================================================================
// DEFAULTS
// =============================================================================

// Default endpoints for the OpenAI-compatible surface of each provider.
const (
	DefaultOpenAIBaseURL     = "https://api.openai.com/v1"
	DefaultAnthropicBaseURL  = "https://api.anthropic.com/v1"
	DefaultGoogleBaseURL     = "https://generativelanguage.googleapis.com/v1beta/openai"
	DefaultGroqBaseURL       = "https://api.groq.com/openai/v1"
	DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	DefaultDeepSeekBaseURL   = "https://api.deepseek.com/v1"
)

// envVars maps adapter kinds to their credential environment variables,
// checked before the keystore.
var envVars = map[AdapterKind]string{
	KindOpenAI:     "OPENAI_API_KEY",
	KindAnthropic:  "ANTHROPIC_API_KEY",
	KindGoogle:     "GEMINI_API_KEY",
	KindGroq:       "GROQ_API_KEY",
	KindOpenRouter: "OPENROUTER_API_KEY",
	KindDeepSeek:   "DEEPSEEK_API_KEY",
}

// ErrNoCredential indicates no API key could be found for a provider.
var ErrNoCredential = errors.New("no credential for provider")

// =============================================================================
// TYPES
// =============================================================================

// Handle is a resolved, callable model reference.
type Handle struct {
	Model   string
	Kind    AdapterKind
	BaseURL string
	APIKey  string
}

// Local reports whether the handle routes to the local backend.
func (h Handle) Local() bool {
	return IsLocalKind(h.Kind)
}

// CredentialSource supplies stored API keys by provider name. The
// encrypted keystore implements this; tests use a map.
type CredentialSource interface {
	Get(provider string) (string, error)
}

// Endpoints carries per-provider base URL overrides. Zero values fall
// back to the provider defaults.
type Endpoints struct {
	OpenAI     string
	Anthropic  string
	Google     string
	Groq       string
	OpenRouter string
	DeepSeek   string
}

// ChatModel is one entry of the model listing: a model, its adapter
// kind, and whether it is currently usable (installed locally, or a
// credential is available for its provider).
type ChatModel struct {
	Model       string
	AdapterKind AdapterKind
	Enabled     bool
}

// LocalLister is the slice of the local daemon client the registry
// needs for model listing.
type LocalLister interface {
	ListModelNames(ctx context.Context) ([]string, error)
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry maps model identifiers to handles.
type Registry struct {
	mu        sync.Mutex
	endpoints Endpoints
	creds     CredentialSource
	kinds     map[string]AdapterKind // explicit per-model adapter kinds
	credCache map[AdapterKind]string // lazily resolved credentials
}

// New creates a registry. creds may be nil, in which case only
// environment variables supply credentials.
func New(endpoints Endpoints, creds CredentialSource) *Registry {
	return &Registry{
		endpoints: endpoints,
		creds:     creds,
		kinds:     make(map[string]AdapterKind),
		credCache: make(map[AdapterKind]string),
	}
}

// SetAdapterKind pins a model to an adapter kind, overriding the
// classification heuristic. Model listings use this to tag entries.
func (r *Registry) SetAdapterKind(model string, kind AdapterKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[model] = kind
}

// KindFor returns the adapter kind for a model: the pinned kind when
// one was recorded, the heuristic otherwise.
func (r *Registry) KindFor(model string) AdapterKind {
	r.mu.Lock()
	kind, ok := r.kinds[model]
	r.mu.Unlock()
	if ok {
		return kind
	}
	return ClassifyModel(model)
}

// Resolve produces a callable handle for a model. Local models resolve
// without credentials; remote models trigger lazy credential
// initialization and fail with ErrNoCredential when none is found.
func (r *Registry) Resolve(model string) (Handle, error) {
	kind := r.KindFor(model)

	h := Handle{
		Model: model,
		Kind:  kind,
	}
	if IsLocalKind(kind) {
		return h, nil
	}

	h.BaseURL = r.baseURLFor(kind)

	key, err := r.credential(kind)
	if err != nil {
		return Handle{}, err
	}
	h.APIKey = key
	return h, nil
}

// credential returns the API key for a provider, resolving it on first
// use: environment variable first, then the keystore.
func (r *Registry) credential(kind AdapterKind) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if key, ok := r.credCache[kind]; ok {
		return key, nil
	}

	if env := envVars[kind]; env != "" {
		if key := strings.TrimSpace(os.Getenv(env)); key != "" {
			r.credCache[kind] = key
			return key, nil
		}
	}

	if r.creds != nil {
		key, err := r.creds.Get(string(kind))
		if err == nil && key != "" {
			r.credCache[kind] = key
			return key, nil
		}
	}

	return "", fmt.Errorf("%w: %s (set %s or run `loom auth`)", ErrNoCredential, kind, envVars[kind])
}

// EnvCredential returns the credential set in the provider's
// environment variable, or ErrNoCredential when unset. It never
// consults the keystore.
func EnvCredential(provider string) (string, error) {
	env := envVars[AdapterKind(provider)]
	if env == "" {
		return "", fmt.Errorf("%w: unknown provider %s", ErrNoCredential, provider)
	}
	if key := strings.TrimSpace(os.Getenv(env)); key != "" {
		return key, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNoCredential, provider)
}

// HasCredential reports whether a provider is usable, without caching a
// negative result.
func (r *Registry) HasCredential(kind AdapterKind) bool {
	if IsLocalKind(kind) {
		return true
	}
	_, err := r.credential(kind)
	return err == nil
}

// InvalidateCredential drops a cached credential so the next resolve
// re-reads it, used after `loom auth` updates the keystore.
func (r *Registry) InvalidateCredential(kind AdapterKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.credCache, kind)
}

// baseURLFor returns the endpoint for a remote adapter kind.
func (r *Registry) baseURLFor(kind AdapterKind) string {
	pick := func(override, def string) string {
		if override != "" {
			return strings.TrimSuffix(override, "/")
		}
		return def
	}
	switch kind {
	case KindOpenAI:
		return pick(r.endpoints.OpenAI, DefaultOpenAIBaseURL)
	case KindAnthropic:
		return pick(r.endpoints.Anthropic, DefaultAnthropicBaseURL)
	case KindGoogle:
		return pick(r.endpoints.Google, DefaultGoogleBaseURL)
	case KindGroq:
		return pick(r.endpoints.Groq, DefaultGroqBaseURL)
	case KindOpenRouter:
		return pick(r.endpoints.OpenRouter, DefaultOpenRouterBaseURL)
	case KindDeepSeek:
		return pick(r.endpoints.DeepSeek, DefaultDeepSeekBaseURL)
	default:
		return pick(r.endpoints.OpenAI, DefaultOpenAIBaseURL)
	}
}

// =============================================================================
// MODEL LISTING
// =============================================================================

// remoteCatalog is the curated set of remote models offered in the
// model picker. Local models come from the daemon at call time.
var remoteCatalog = []ChatModel{
	{Model: "gpt-4o", AdapterKind: KindOpenAI},
	{Model: "gpt-4o-mini", AdapterKind: KindOpenAI},
	{Model: "o3-mini", AdapterKind: KindOpenAI},
	{Model: "claude-sonnet-4-20250514", AdapterKind: KindAnthropic},
	{Model: "claude-3-5-haiku-20241022", AdapterKind: KindAnthropic},
	{Model: "gemini-2.0-flash", AdapterKind: KindGoogle},
	{Model: "llama-3.3-70b-versatile", AdapterKind: KindGroq},
	{Model: "openrouter/auto", AdapterKind: KindOpenRouter},
	{Model: "deepseek-chat", AdapterKind: KindDeepSeek},
}

// ListChatModels assembles the available models: installed local models
// first (enabled), then the remote catalog with enabled reflecting
// credential availability. A local listing failure degrades to the
// remote catalog alone; the error is returned alongside it so callers
// can tell the user the daemon was unreachable.
func (r *Registry) ListChatModels(ctx context.Context, local LocalLister) ([]ChatModel, error) {
	var out []ChatModel
	var listErr error

	if local != nil {
		names, err := local.ListModelNames(ctx)
		if err != nil {
			listErr = fmt.Errorf("local model listing: %w", err)
		}
		for _, name := range names {
			r.SetAdapterKind(name, KindOllama)
			out = append(out, ChatModel{
				Model:       name,
				AdapterKind: KindOllama,
				Enabled:     true,
			})
		}
	}

	for _, m := range remoteCatalog {
		m.Enabled = r.HasCredential(m.AdapterKind)
		r.SetAdapterKind(m.Model, m.AdapterKind)
		out = append(out, m)
	}

	return out, listErr
}
