// loom - terminal chat for local and remote language models.
//
// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kestrelworks/loom-tui/internal/cli"
	"github.com/kestrelworks/loom-tui/internal/config"
	"github.com/kestrelworks/loom-tui/internal/ui/chat"
	"github.com/kestrelworks/loom-tui/internal/ui/styles"
)

// Version information, set at build time via -ldflags.
var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	cmd, args := cli.Parse()

	var err error
	switch cmd {
	case cli.CmdTUI:
		err = runTUI(args)
	case cli.CmdAsk:
		err = cli.HandleAsk(args)
	case cli.CmdChat:
		err = cli.HandleChat(args)
	case cli.CmdAuth:
		err = cli.HandleAuth(args)
	case cli.CmdSessions:
		err = cli.HandleSessions(args)
	case cli.CmdModels:
		err = cli.HandleModels(args)
	case cli.CmdConfig:
		err = cli.HandleConfig(args)
	case cli.CmdStatus:
		err = cli.HandleStatus(args)
	case cli.CmdVersion:
		cli.PrintVersion()
	case cli.CmdHelp:
		cli.PrintUsage()
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "loom: "+err.Error())
		os.Exit(1)
	}
}

// runTUI wires the service graph and hands it to bubbletea.
func runTUI(args cli.Args) error {
	rt, err := cli.BuildRuntime(args)
	if err != nil {
		return err
	}
	defer rt.Close()

	styles.ApplyTheme(rt.Config.UI.Theme)

	// Hot-reload the config file while the TUI runs. Only the theme
	// applies immediately; everything else takes effect on restart.
	if watcher, err := config.NewWatcher(func(cfg *config.Config) {
		config.SetGlobal(cfg)
		styles.ApplyTheme(cfg.UI.Theme)
	}); err == nil {
		if err := watcher.Watch(); err == nil {
			defer watcher.Close()
		}
	}

	ctx, cancel := cli.SignalContext()
	defer cancel()
	if err := rt.EnsureLocalBackend(ctx); err != nil {
		// The TUI still works against remote providers; surface the
		// problem and carry on.
		fmt.Fprintln(os.Stderr, "loom: local backend unavailable: "+err.Error())
	}

	m := chat.New(chat.App{
		Store:      rt.Store,
		Cache:      rt.Cache,
		Reconciler: rt.Reconciler,
		Titles:     rt.Titles,
		Transport:  rt.Transport,
		Registry:   rt.Registry,
		Local:      rt.Ollama,
		Bus:        rt.Bus,
		Config:     rt.Config,
	})
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err = p.Run()
	return err
}
