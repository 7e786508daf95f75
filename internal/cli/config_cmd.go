// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/kestrelworks/loom-tui/internal/config"
	"github.com/kestrelworks/loom-tui/internal/ui/styles"
)

// =============================================================================
// CONFIG
// =============================================================================

// HandleConfig shows or mutates configuration values.
func HandleConfig(args Args) error {
	switch args.Subcommand {
	case "show", "":
		return configShow(args)
	case "get":
		if len(args.Raw) == 0 {
			return fmt.Errorf("usage: loom config get <key>")
		}
		return configGet(args.Raw[0])
	case "set":
		if len(args.Raw) < 2 {
			return fmt.Errorf("usage: loom config set <key> <value>")
		}
		return configSet(args.Raw[0], args.Raw[1])
	case "path":
		path, err := config.ConfigPathTOML()
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	default:
		return fmt.Errorf("unknown config subcommand %q (show, get, set, path)", args.Subcommand)
	}
}

func configShow(args Args) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fmt.Println(styles.Title.Render("loom config"))
	fmt.Println("default_model:       " + display(cfg.DefaultModel))
	fmt.Println("local.ollama_url:    " + cfg.Local.OllamaURL)
	fmt.Println("local.ollama_model:  " + display(cfg.Local.OllamaModel))
	fmt.Printf("local.auto_start:    %v\n", cfg.Local.AutoStart)
	fmt.Printf("cache.enabled:       %v (ttl %dm)\n", cfg.Cache.Enabled, cfg.Cache.TTLMinutes)
	fmt.Printf("title.enabled:       %v (context detection %v)\n", cfg.Title.Enabled, cfg.Title.ContextDetection)
	fmt.Printf("providers.reasoning: %v\n", cfg.Providers.Reasoning)
	fmt.Println("ui.theme:            " + cfg.UI.Theme)
	if args.Verbose {
		path, _ := config.ConfigPathTOML()
		fmt.Println(styles.DimText.Render("file: " + path))
	}
	return nil
}

func configGet(key string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	value, err := cfg.Get(key)
	if err != nil {
		return err
	}
	fmt.Printf("%v\n", value)
	return nil
}

func configSet(key, value string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Set(key, value); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(cfg); err != nil {
		return err
	}
	fmt.Println(styles.RenderSuccess(key + " = " + value))
	return nil
}

func display(s string) string {
	if s == "" {
		return "(unset)"
	}
	return s
}
