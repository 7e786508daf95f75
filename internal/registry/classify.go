// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

package registry

import "strings"

// AdapterKind labels the provider/backend family a model belongs to.
type AdapterKind string

const (
	KindOllama     AdapterKind = "ollama"
	KindOpenAI     AdapterKind = "openai"
	KindAnthropic  AdapterKind = "anthropic"
	KindGoogle     AdapterKind = "google"
	KindGroq       AdapterKind = "groq"
	KindOpenRouter AdapterKind = "openrouter"
	KindDeepSeek   AdapterKind = "deepseek"
)

// localFamilies are model-name prefixes that indicate a locally-hosted
// model even without a tag suffix.
var localFamilies = []string{
	"llama3",
	"llama2",
	"qwen",
	"codellama",
	"mistral",
	"mixtral",
	"phi",
	"gemma",
	"tinyllama",
	"deepseek-r1",
	"deepseek-coder",
}

// remoteFamilies maps model-name prefixes to remote adapter kinds.
// Order matters: more specific prefixes come first.
var remoteFamilies = []struct {
	prefix string
	kind   AdapterKind
}{
	{"gpt-", KindOpenAI},
	{"chatgpt-", KindOpenAI},
	{"o1", KindOpenAI},
	{"o3", KindOpenAI},
	{"o4", KindOpenAI},
	{"claude", KindAnthropic},
	{"gemini", KindGoogle},
	{"deepseek-chat", KindDeepSeek},
	{"deepseek-reasoner", KindDeepSeek},
	{"llama-", KindGroq},
}

// ClassifyModel maps a bare model identifier to an adapter kind using
// naming conventions. The rules, in order:
//
//  1. an id containing "/" is vendor-scoped → openrouter
//  2. an id containing ":" is a name:tag pair → ollama
//  3. a known remote family prefix (gpt-/o1/claude/gemini/
//     deepseek-chat/llama-) → that provider
//  4. a known local family prefix (llama3/qwen/codellama/...) → ollama
//  5. anything else → openai (the compatible-API default)
//
// Explicit adapter-kind metadata, when the registry has it, takes
// precedence over this heuristic; callers go through Registry.Resolve.
func ClassifyModel(modelID string) AdapterKind {
	id := strings.ToLower(strings.TrimSpace(modelID))

	if strings.Contains(id, "/") {
		return KindOpenRouter
	}
	if strings.Contains(id, ":") {
		return KindOllama
	}
	for _, f := range remoteFamilies {
		if strings.HasPrefix(id, f.prefix) {
			return f.kind
		}
	}
	for _, family := range localFamilies {
		if strings.HasPrefix(id, family) {
			return KindOllama
		}
	}
	return KindOpenAI
}

// IsLocalKind reports whether an adapter kind routes to the local
// backend path.
func IsLocalKind(kind AdapterKind) bool {
	return kind == KindOllama
}

// IsLocalModel is the convenience combination of classification and
// locality used by callers that only need the routing decision.
func IsLocalModel(modelID string) bool {
	return IsLocalKind(ClassifyModel(modelID))
}
