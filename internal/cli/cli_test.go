// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"testing"

	"github.com/kestrelworks/loom-tui/internal/config"
)

func TestParseDefaultsToTUI(t *testing.T) {
	cmd, _ := parse(nil)
	if cmd != CmdTUI {
		t.Errorf("cmd = %v, want CmdTUI", cmd)
	}
}

func TestParseAsk(t *testing.T) {
	cmd, args := parse([]string{"ask", "how", "do", "slices", "grow?"})
	if cmd != CmdAsk {
		t.Fatalf("cmd = %v", cmd)
	}
	if args.Query != "how do slices grow?" {
		t.Errorf("query = %q", args.Query)
	}
}

func TestParseBareQuestionIsAsk(t *testing.T) {
	cmd, args := parse([]string{"what", "is", "a", "mutex"})
	if cmd != CmdAsk {
		t.Fatalf("cmd = %v", cmd)
	}
	if args.Query != "what is a mutex" {
		t.Errorf("query = %q", args.Query)
	}
}

func TestParseGlobalFlags(t *testing.T) {
	cmd, args := parse([]string{"--model", "llama3.2:3b", "-q", "chat"})
	if cmd != CmdChat {
		t.Fatalf("cmd = %v", cmd)
	}
	if args.Model != "llama3.2:3b" {
		t.Errorf("model = %q", args.Model)
	}
	if !args.Quiet {
		t.Error("quiet not set")
	}
}

func TestParseAuthSubcommand(t *testing.T) {
	cmd, args := parse([]string{"auth", "set", "openai"})
	if cmd != CmdAuth {
		t.Fatalf("cmd = %v", cmd)
	}
	if args.Subcommand != "set" {
		t.Errorf("subcommand = %q", args.Subcommand)
	}
	if len(args.Raw) != 1 || args.Raw[0] != "openai" {
		t.Errorf("raw = %v", args.Raw)
	}
}

func TestParseSessionsAliases(t *testing.T) {
	for _, alias := range []string{"session", "sessions"} {
		cmd, args := parse([]string{alias, "show", "abc123"})
		if cmd != CmdSessions {
			t.Errorf("%s: cmd = %v", alias, cmd)
		}
		if args.Subcommand != "show" {
			t.Errorf("%s: subcommand = %q", alias, args.Subcommand)
		}
	}
}

func TestParseVersionAndHelp(t *testing.T) {
	if cmd, _ := parse([]string{"version"}); cmd != CmdVersion {
		t.Errorf("version: cmd = %v", cmd)
	}
	if cmd, _ := parse([]string{"help"}); cmd != CmdHelp {
		t.Errorf("help: cmd = %v", cmd)
	}
	if cmd, _ := parse([]string{"-h"}); cmd != CmdHelp {
		t.Errorf("-h: cmd = %v", cmd)
	}
}

func TestParseModelFlagMissingValue(t *testing.T) {
	cmd, args := parse([]string{"--model"})
	if cmd != CmdTUI {
		t.Errorf("cmd = %v", cmd)
	}
	if args.Model != "" {
		t.Errorf("model = %q, want empty", args.Model)
	}
}

func TestResolveShortIDHelpers(t *testing.T) {
	if got := shortID("abcdefghijkl"); got != "abcdefgh" {
		t.Errorf("shortID = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID = %q", got)
	}
}

func TestEndpointsFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Providers.OpenAIBaseURL = "https://openai.corp.example/v1"
	cfg.Providers.AnthropicBaseURL = "https://anthropic.corp.example/v1"
	cfg.Providers.OpenRouterBaseURL = "https://openrouter.corp.example/api/v1"

	eps := endpointsFromConfig(cfg)
	if eps.OpenAI != cfg.Providers.OpenAIBaseURL {
		t.Errorf("OpenAI = %q", eps.OpenAI)
	}
	if eps.Anthropic != cfg.Providers.AnthropicBaseURL {
		t.Errorf("Anthropic = %q", eps.Anthropic)
	}
	if eps.OpenRouter != cfg.Providers.OpenRouterBaseURL {
		t.Errorf("OpenRouter = %q", eps.OpenRouter)
	}

	// Unconfigured providers stay zero so the registry falls back to
	// its defaults.
	if eps.Google != "" || eps.Groq != "" || eps.DeepSeek != "" {
		t.Errorf("unexpected overrides: %+v", eps)
	}
}
