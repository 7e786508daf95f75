// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/kestrelworks/loom-tui/internal/model"
	"github.com/kestrelworks/loom-tui/internal/storage"
	"github.com/kestrelworks/loom-tui/internal/ui/styles"
)

// =============================================================================
// SESSIONS
// =============================================================================

// HandleSessions lists, shows and deletes saved conversations.
func HandleSessions(args Args) error {
	rt, err := BuildRuntime(args)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := SignalContext()
	defer cancel()

	switch args.Subcommand {
	case "list", "":
		return sessionsList(ctx, rt)
	case "show":
		if len(args.Raw) == 0 {
			return fmt.Errorf("usage: loom sessions show <id>")
		}
		return sessionsShow(ctx, rt, args.Raw[0], args)
	case "delete":
		if len(args.Raw) == 0 {
			return fmt.Errorf("usage: loom sessions delete <id>")
		}
		return sessionsDelete(ctx, rt, args.Raw[0])
	default:
		return fmt.Errorf("unknown sessions subcommand %q (list, show, delete)", args.Subcommand)
	}
}

func sessionsList(ctx context.Context, rt *Runtime) error {
	convs, err := rt.Store.ListConversations(ctx)
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Println("no saved conversations")
		return nil
	}

	for _, conv := range convs {
		line := fmt.Sprintf("%s  %s  %s",
			styles.DimText.Render(shortID(conv.ID)),
			conv.CreatedAt.Format("2006-01-02 15:04"),
			conv.DisplayTitle())
		if conv.Model != "" {
			line += styles.DimText.Render("  [" + conv.Model + "]")
		}
		fmt.Println(line)
	}
	return nil
}

func sessionsShow(ctx context.Context, rt *Runtime, id string, args Args) error {
	id, err := resolveConversationID(ctx, rt.Store, id)
	if err != nil {
		return err
	}

	conv, err := rt.Store.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	msgs, err := rt.Store.GetMessages(ctx, id)
	if err != nil {
		return err
	}

	fmt.Println(styles.Title.Render(conv.DisplayTitle()))
	for _, msg := range msgs {
		label := "you"
		if msg.Role == model.RoleAssistant {
			label = "loom"
		}
		fmt.Printf("\n%s:\n", label)
		text := msg.TextContent()
		if !args.Plain {
			if rendered, ok := renderMarkdown(text); ok {
				fmt.Print(rendered)
				continue
			}
		}
		fmt.Println(text)
	}
	return nil
}

func sessionsDelete(ctx context.Context, rt *Runtime, id string) error {
	id, err := resolveConversationID(ctx, rt.Store, id)
	if err != nil {
		return err
	}
	if err := rt.Store.DeleteConversation(ctx, id); err != nil {
		return err
	}
	fmt.Println(styles.RenderSuccess("deleted " + shortID(id)))
	return nil
}

// resolveConversationID accepts a full ID or an unambiguous prefix.
func resolveConversationID(ctx context.Context, store *storage.Store, id string) (string, error) {
	convs, err := store.ListConversations(ctx)
	if err != nil {
		return "", err
	}

	var matches []string
	for _, conv := range convs {
		if conv.ID == id {
			return id, nil
		}
		if strings.HasPrefix(conv.ID, id) {
			matches = append(matches, conv.ID)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", fmt.Errorf("no conversation matches %q", id)
	default:
		return "", fmt.Errorf("%q is ambiguous (%d matches)", id, len(matches))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
