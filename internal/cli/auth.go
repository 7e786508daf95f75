// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/kestrelworks/loom-tui/internal/registry"
	"github.com/kestrelworks/loom-tui/internal/registry/keystore"
	"github.com/kestrelworks/loom-tui/internal/ui/styles"
)

// knownProviders are the provider slugs the auth command accepts.
var knownProviders = []string{"openai", "anthropic", "google", "groq", "openrouter", "deepseek"}

// =============================================================================
// AUTH
// =============================================================================

// HandleAuth manages provider API keys in the encrypted keystore.
func HandleAuth(args Args) error {
	switch args.Subcommand {
	case "set":
		return authSet(args)
	case "list", "":
		return authList()
	case "delete", "remove":
		return authDelete(args)
	default:
		return fmt.Errorf("unknown auth subcommand %q (set, list, delete)", args.Subcommand)
	}
}

func authSet(args Args) error {
	if len(args.Raw) == 0 {
		return fmt.Errorf("usage: loom auth set <provider>")
	}
	provider := strings.ToLower(args.Raw[0])
	if !isKnownProvider(provider) {
		return fmt.Errorf("unknown provider %q (want one of %s)", provider, strings.Join(knownProviders, ", "))
	}

	key, err := promptSecret(fmt.Sprintf("API key for %s: ", provider))
	if err != nil {
		return err
	}
	if key == "" {
		return errors.New("empty key, nothing stored")
	}

	store, err := openKeystore()
	if err != nil {
		return fmt.Errorf("failed to open keystore: %w", err)
	}
	if err := store.Set(provider, key); err != nil {
		return fmt.Errorf("failed to store key: %w", err)
	}

	fmt.Println(styles.RenderSuccess("stored key for " + provider))
	return nil
}

func authList() error {
	store, err := openKeystore()
	if err != nil {
		return fmt.Errorf("failed to open keystore: %w", err)
	}

	stored := store.Providers()
	if len(stored) == 0 {
		fmt.Println("no stored keys; run `loom auth set <provider>`")
	}
	for _, p := range stored {
		fmt.Println(styles.RenderSuccess(p))
	}

	// Environment variables take precedence over the keystore; show
	// them so a surprising credential source is visible.
	for _, p := range knownProviders {
		if _, err := registry.EnvCredential(p); err == nil {
			fmt.Println(styles.DimText.Render(p + " (from environment)"))
		}
	}
	return nil
}

func authDelete(args Args) error {
	if len(args.Raw) == 0 {
		return fmt.Errorf("usage: loom auth delete <provider>")
	}
	provider := strings.ToLower(args.Raw[0])

	store, err := openKeystore()
	if err != nil {
		return fmt.Errorf("failed to open keystore: %w", err)
	}
	if err := store.Delete(provider); err != nil {
		if errors.Is(err, keystore.ErrNotFound) {
			fmt.Println("no stored key for " + provider)
			return nil
		}
		return err
	}

	fmt.Println(styles.RenderSuccess("removed key for " + provider))
	return nil
}

// promptSecret reads a line with echo disabled.
func promptSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	if !term.IsTerminal(int(syscall.Stdin)) {
		// Piped input, e.g. `echo $KEY | loom auth set openai`.
		var line string
		if _, err := fmt.Fscanln(os.Stdin, &line); err != nil {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func isKnownProvider(p string) bool {
	for _, k := range knownProviders {
		if k == p {
			return true
		}
	}
	return false
}
