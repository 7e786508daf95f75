// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli parses command-line arguments and implements the
// non-TUI commands: one-shot asks, the line-mode chat REPL, credential
// management, session listing and config access.
package cli

import (
	"fmt"
	"os"
	"strings"
)

// Version information, overridable at build time via -ldflags.
var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command is the top-level CLI command to execute.
type Command int

const (
	CmdTUI Command = iota
	CmdAsk
	CmdChat
	CmdAuth
	CmdSessions
	CmdModels
	CmdConfig
	CmdStatus
	CmdVersion
	CmdHelp
)

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags.
	Model   string
	Quiet   bool
	Verbose bool
	Plain   bool // no markdown rendering

	// Command-specific.
	Query      string
	Subcommand string
	Raw        []string
}

const usageText = `loom - terminal chat for local and remote language models

Loom keeps conversations in a local SQLite store, streams responses
from Ollama or any OpenAI-compatible provider, and names conversations
automatically.

Usage:
  loom                       Start the TUI (default)
  loom ask "question"        Ask a single question and exit
  loom chat                  Line-mode interactive chat
  loom auth <subcommand>     Manage provider API keys
  loom sessions [subcommand] List and manage saved conversations
  loom models                List available models
  loom config [show|set]     Show or change configuration
  loom status                Show backend status
  loom version               Print version

Auth subcommands:
  loom auth set <provider>     Store an API key (prompted, hidden)
  loom auth list               List providers with stored keys
  loom auth delete <provider>  Remove a stored key

  Providers: openai, anthropic, google, groq, openrouter, deepseek

Sessions subcommands:
  loom sessions list           List conversations (default)
  loom sessions show <id>      Print a conversation transcript
  loom sessions delete <id>    Delete a conversation

Global flags:
  -m, --model NAME   Model to use (overrides config)
  -q, --quiet        Minimal output
  -v, --verbose      Verbose output
  --plain            Disable markdown rendering

Version: %s
`

// PrintUsage prints the usage text.
func PrintUsage() {
	fmt.Printf(usageText, Version)
}

// PrintVersion prints version information.
func PrintVersion() {
	fmt.Printf("loom version %s\n", Version)
	fmt.Printf("  Git commit: %s\n", GitCommit)
	fmt.Printf("  Build date: %s\n", BuildDate)
}

// Parse reads os.Args and returns the command plus its arguments.
func Parse() (Command, Args) {
	return parse(os.Args[1:])
}

// parse is the testable core of Parse.
func parse(argv []string) (Command, Args) {
	remaining, args := parseGlobalFlags(argv)

	if len(remaining) == 0 {
		return CmdTUI, args
	}

	cmd := strings.ToLower(remaining[0])
	remaining = remaining[1:]
	args.Raw = remaining

	switch cmd {
	case "tui":
		return CmdTUI, args

	case "ask":
		args.Query = strings.Join(remaining, " ")
		return CmdAsk, args

	case "chat":
		return CmdChat, args

	case "auth":
		if len(remaining) > 0 {
			args.Subcommand = remaining[0]
			args.Raw = remaining[1:]
		}
		return CmdAuth, args

	case "session", "sessions":
		if len(remaining) > 0 {
			args.Subcommand = remaining[0]
			args.Raw = remaining[1:]
		}
		return CmdSessions, args

	case "models", "model":
		return CmdModels, args

	case "config":
		if len(remaining) > 0 {
			args.Subcommand = remaining[0]
			args.Raw = remaining[1:]
		}
		return CmdConfig, args

	case "status", "s":
		return CmdStatus, args

	case "version", "--version", "-V":
		return CmdVersion, args

	case "help", "--help", "-h":
		return CmdHelp, args

	default:
		// An unknown first word is treated as an ask query, so
		// `loom how do I ...` just works.
		args.Query = strings.Join(append([]string{cmd}, remaining...), " ")
		return CmdAsk, args
	}
}

// parseGlobalFlags strips global flags from argv, returning the rest.
func parseGlobalFlags(argv []string) ([]string, Args) {
	var args Args
	var remaining []string

	for i := 0; i < len(argv); i++ {
		switch argv[i] {
		case "-m", "--model":
			if i+1 < len(argv) {
				i++
				args.Model = argv[i]
			}
		case "-q", "--quiet":
			args.Quiet = true
		case "-v", "--verbose":
			args.Verbose = true
		case "--plain":
			args.Plain = true
		default:
			remaining = append(remaining, argv[i])
		}
	}
	return remaining, args
}
