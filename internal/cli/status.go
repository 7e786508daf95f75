// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/kestrelworks/loom-tui/internal/registry"
	"github.com/kestrelworks/loom-tui/internal/ui/styles"
)

// =============================================================================
// MODELS
// =============================================================================

// HandleModels prints every model the picker would offer.
func HandleModels(args Args) error {
	rt, err := BuildRuntime(args)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := SignalContext()
	defer cancel()

	models, err := rt.Registry.ListChatModels(ctx, rt.Ollama)
	if err != nil {
		fmt.Println(styles.RenderWarning("local daemon not reachable; remote catalog only"))
	}

	var lastKind registry.AdapterKind
	for _, m := range models {
		if m.AdapterKind != lastKind {
			fmt.Println(styles.DimText.Render(string(m.AdapterKind)))
			lastKind = m.AdapterKind
		}
		line := "  " + m.Model
		if m.Model == rt.ModelID() {
			line = styles.RenderSuccess(line + "  (current)")
		} else if !m.Enabled {
			line = styles.DimText.Render(line + "  (no credential)")
		}
		fmt.Println(line)
	}
	return nil
}

// =============================================================================
// STATUS
// =============================================================================

// HandleStatus reports backend reachability and store location.
func HandleStatus(args Args) error {
	rt, err := BuildRuntime(args)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := SignalContext()
	defer cancel()

	fmt.Println(styles.Title.Render("loom status"))
	fmt.Println("model: " + rt.ModelID())

	if err := rt.Ollama.CheckRunning(ctx); err != nil {
		fmt.Println(styles.RenderWarning("ollama: not running (" + rt.Config.Local.OllamaURL + ")"))
	} else {
		names, err := rt.Ollama.ListModelNames(ctx)
		if err != nil {
			fmt.Println(styles.RenderWarning("ollama: running, model list failed"))
		} else {
			fmt.Println(styles.RenderSuccess(fmt.Sprintf("ollama: running, %d models", len(names))))
		}
	}

	for _, kind := range []registry.AdapterKind{
		registry.KindOpenAI, registry.KindAnthropic, registry.KindGoogle,
		registry.KindGroq, registry.KindOpenRouter, registry.KindDeepSeek,
	} {
		if rt.Registry.HasCredential(kind) {
			fmt.Println(styles.RenderSuccess(string(kind) + ": credential present"))
		} else if args.Verbose {
			fmt.Println(styles.DimText.Render(string(kind) + ": no credential"))
		}
	}

	convs, err := rt.Store.ListConversations(ctx)
	if err == nil {
		fmt.Printf("conversations: %d\n", len(convs))
	}
	return nil
}
