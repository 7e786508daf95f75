// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"

	"github.com/kestrelworks/loom-tui/internal/model"
	"github.com/kestrelworks/loom-tui/internal/transport"
	"github.com/kestrelworks/loom-tui/internal/ui/styles"
)

// =============================================================================
// ASK
// =============================================================================

// HandleAsk answers a single question and exits. The response streams
// to stdout as raw text; when markdown rendering is on, the final text
// is re-rendered once the stream finishes.
func HandleAsk(args Args) error {
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return fmt.Errorf("usage: loom ask \"question\"")
	}

	rt, err := BuildRuntime(args)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := SignalContext()
	defer cancel()

	if err := rt.EnsureLocalBackend(ctx); err != nil {
		return fmt.Errorf("local backend unavailable: %w", err)
	}

	msgs := []model.Message{model.NewUserMessage("ask", "", query)}
	chunks, err := rt.Transport.SendMessages(ctx, rt.ModelID(), msgs, transport.Options{})
	if err != nil {
		return err
	}

	var full strings.Builder
	for c := range chunks {
		switch c.Type {
		case transport.ChunkTextDelta:
			full.WriteString(c.Delta)
			fmt.Print(c.Delta)
		case transport.ChunkWarning:
			fmt.Fprintln(os.Stderr, styles.RenderWarning(c.Warning))
		case transport.ChunkError:
			fmt.Println()
			return fmt.Errorf("%s", c.ErrText)
		case transport.ChunkFinish:
			fmt.Println()
			if args.Verbose && c.Usage != nil {
				fmt.Fprintf(os.Stderr, "tokens: %d in, %d out\n", c.Usage.InputTokens, c.Usage.OutputTokens)
			}
		}
	}

	if !args.Plain && !args.Quiet {
		if rendered, ok := renderMarkdown(full.String()); ok {
			// Replace the raw stream with the pretty version.
			fmt.Print("\n" + rendered)
		}
	}
	return nil
}

// renderMarkdown pretty-prints markdown for terminal display.
func renderMarkdown(text string) (string, bool) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return "", false
	}
	out, err := r.Render(text)
	if err != nil {
		return "", false
	}
	return out, true
}

// SignalContext returns a context cancelled by Ctrl+C.
func SignalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sig:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sig)
	}()
	return ctx, cancel
}
