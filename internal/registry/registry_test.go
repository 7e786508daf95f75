// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

package registry

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// mapCreds is a CredentialSource backed by a map.
type mapCreds map[string]string

func (m mapCreds) Get(provider string) (string, error) {
	key, ok := m[provider]
	if !ok {
		return "", fmt.Errorf("no key for %s", provider)
	}
	return key, nil
}

// stubLister returns a fixed local model list.
type stubLister struct {
	names []string
	err   error
}

func (s *stubLister) ListModelNames(ctx context.Context) ([]string, error) {
	return s.names, s.err
}

// clearProviderEnv blanks all credential env vars for the test.
func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, env := range envVars {
		t.Setenv(env, "")
	}
}

// =============================================================================
// CLASSIFICATION TESTS
// =============================================================================

func TestClassifyModel(t *testing.T) {
	tests := []struct {
		model string
		want  AdapterKind
	}{
		// Rule 1: vendor-scoped ids
		{"anthropic/claude-3.5-sonnet", KindOpenRouter},
		{"openrouter/auto", KindOpenRouter},
		// Rule 2: name:tag pairs
		{"llama3.1:8b", KindOllama},
		{"qwen2.5-coder:7b", KindOllama},
		{"some-custom-model:latest", KindOllama},
		// Rule 3: remote family prefixes
		{"gpt-4o", KindOpenAI},
		{"o3-mini", KindOpenAI},
		{"claude-3-5-haiku-20241022", KindAnthropic},
		{"gemini-2.0-flash", KindGoogle},
		{"deepseek-chat", KindDeepSeek},
		{"llama-3.3-70b-versatile", KindGroq},
		// Rule 4: local family prefixes without a tag
		{"llama3.1", KindOllama},
		{"qwen2.5", KindOllama},
		{"codellama", KindOllama},
		{"deepseek-r1", KindOllama},
		// Rule 5: default
		{"grok-2", KindOpenAI},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := ClassifyModel(tt.model); got != tt.want {
				t.Errorf("ClassifyModel(%q) = %v, want %v", tt.model, got, tt.want)
			}
		})
	}
}

func TestIsLocalModel(t *testing.T) {
	if !IsLocalModel("llama3.1:8b") {
		t.Error("tagged model should be local")
	}
	if IsLocalModel("gpt-4o") {
		t.Error("gpt-4o should not be local")
	}
}

// =============================================================================
// RESOLUTION TESTS
// =============================================================================

func TestResolveLocal(t *testing.T) {
	clearProviderEnv(t)
	r := New(Endpoints{}, nil)

	h, err := r.Resolve("llama3.1:8b")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !h.Local() {
		t.Error("handle should be local")
	}
	if h.APIKey != "" || h.BaseURL != "" {
		t.Error("local handle should carry no endpoint or credential")
	}
}

func TestResolveFromEnv(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-env")
	r := New(Endpoints{}, nil)

	h, err := r.Resolve("gpt-4o")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if h.Kind != KindOpenAI {
		t.Errorf("kind = %v", h.Kind)
	}
	if h.APIKey != "sk-env" {
		t.Errorf("APIKey = %q", h.APIKey)
	}
	if h.BaseURL != DefaultOpenAIBaseURL {
		t.Errorf("BaseURL = %q", h.BaseURL)
	}
}

func TestResolveFromKeystore(t *testing.T) {
	clearProviderEnv(t)
	r := New(Endpoints{}, mapCreds{"groq": "gsk_stored"})

	h, err := r.Resolve("llama-3.3-70b-versatile")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if h.APIKey != "gsk_stored" {
		t.Errorf("APIKey = %q", h.APIKey)
	}
	if h.BaseURL != DefaultGroqBaseURL {
		t.Errorf("BaseURL = %q", h.BaseURL)
	}
}

func TestResolveEnvBeatsKeystore(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-env")
	r := New(Endpoints{}, mapCreds{"openai": "sk-stored"})

	h, err := r.Resolve("gpt-4o")
	if err != nil {
		t.Fatal(err)
	}
	if h.APIKey != "sk-env" {
		t.Errorf("APIKey = %q, env should win", h.APIKey)
	}
}

func TestResolveNoCredential(t *testing.T) {
	clearProviderEnv(t)
	r := New(Endpoints{}, nil)

	if _, err := r.Resolve("gpt-4o"); !errors.Is(err, ErrNoCredential) {
		t.Errorf("err = %v, want no credential", err)
	}
}

func TestResolveEndpointOverride(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-env")
	r := New(Endpoints{OpenAI: "http://localhost:8080/v1/"}, nil)

	h, err := r.Resolve("gpt-4o")
	if err != nil {
		t.Fatal(err)
	}
	if h.BaseURL != "http://localhost:8080/v1" {
		t.Errorf("BaseURL = %q", h.BaseURL)
	}
}

func TestSetAdapterKindOverridesHeuristic(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENROUTER_API_KEY", "sk-or-x")
	r := New(Endpoints{}, nil)

	// Without metadata this id would classify as openai.
	r.SetAdapterKind("gpt-4o", KindOpenRouter)

	h, err := r.Resolve("gpt-4o")
	if err != nil {
		t.Fatal(err)
	}
	if h.Kind != KindOpenRouter {
		t.Errorf("kind = %v, want pinned openrouter", h.Kind)
	}
}

func TestInvalidateCredential(t *testing.T) {
	clearProviderEnv(t)
	creds := mapCreds{"openai": "sk-old"}
	r := New(Endpoints{}, creds)

	if h, _ := r.Resolve("gpt-4o"); h.APIKey != "sk-old" {
		t.Fatalf("APIKey = %q", h.APIKey)
	}

	creds["openai"] = "sk-new"
	if h, _ := r.Resolve("gpt-4o"); h.APIKey != "sk-old" {
		t.Errorf("cached credential should persist until invalidated, got %q", h.APIKey)
	}

	r.InvalidateCredential(KindOpenAI)
	if h, _ := r.Resolve("gpt-4o"); h.APIKey != "sk-new" {
		t.Errorf("APIKey after invalidate = %q", h.APIKey)
	}
}

// =============================================================================
// MODEL LISTING TESTS
// =============================================================================

func TestListChatModels(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-env")
	r := New(Endpoints{}, nil)

	models, err := r.ListChatModels(context.Background(), &stubLister{names: []string{"llama3.1:8b"}})
	if err != nil {
		t.Fatalf("ListChatModels: %v", err)
	}
	if len(models) == 0 {
		t.Fatal("no models listed")
	}
	if models[0].Model != "llama3.1:8b" || !models[0].Enabled {
		t.Errorf("local model entry = %+v", models[0])
	}

	var sawEnabledOpenAI, sawDisabledGroq bool
	for _, m := range models {
		if m.AdapterKind == KindOpenAI && m.Enabled {
			sawEnabledOpenAI = true
		}
		if m.AdapterKind == KindGroq && !m.Enabled {
			sawDisabledGroq = true
		}
	}
	if !sawEnabledOpenAI {
		t.Error("openai models should be enabled with a credential")
	}
	if !sawDisabledGroq {
		t.Error("groq models should be disabled without a credential")
	}
}

func TestListChatModelsLocalFailure(t *testing.T) {
	clearProviderEnv(t)
	r := New(Endpoints{}, nil)

	models, err := r.ListChatModels(context.Background(), &stubLister{err: errors.New("daemon down")})
	if err == nil {
		t.Error("local listing failure should be reported")
	}
	if len(models) != len(remoteCatalog) {
		t.Errorf("got %d models, want remote catalog only (%d)", len(models), len(remoteCatalog))
	}
}
