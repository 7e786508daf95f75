// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/peterh/liner"

	"github.com/kestrelworks/loom-tui/internal/config"
	"github.com/kestrelworks/loom-tui/internal/model"
	"github.com/kestrelworks/loom-tui/internal/transport"
	"github.com/kestrelworks/loom-tui/internal/ui/styles"
)

var (
	promptStyle  = lipgloss.NewStyle().Foreground(styles.Cyan).Bold(true)
	replyStyle   = lipgloss.NewStyle().Foreground(styles.Purple).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(styles.TextDim)
	commandStyle = lipgloss.NewStyle().Foreground(styles.Emerald)
)

// =============================================================================
// CHAT REPL
// =============================================================================

// replInput wraps liner with persistent input history.
type replInput struct {
	line        *liner.State
	historyFile string
}

func newReplInput() *replInput {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	historyFile := filepath.Join(dir, "chat_history")
	if f, err := os.Open(historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		_ = f.Close()
	}
	return &replInput{line: line, historyFile: historyFile}
}

func (r *replInput) close() {
	if f, err := os.Create(r.historyFile); err == nil {
		_, _ = r.line.WriteHistory(f)
		_ = f.Close()
	}
	_ = r.line.Close()
}

// HandleChat runs the line-mode chat REPL. Conversations persist
// through the same reconciler the TUI uses; a session started here
// shows up in the TUI sidebar.
func HandleChat(args Args) error {
	rt, err := BuildRuntime(args)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := SignalContext()
	defer cancel()

	if err := rt.EnsureLocalBackend(ctx); err != nil {
		fmt.Println(styles.RenderWarning("local backend unavailable: " + err.Error()))
	}

	modelID := rt.ModelID()
	input := newReplInput()
	defer input.close()

	if !args.Quiet {
		fmt.Println(replyStyle.Render("loom chat") + infoStyle.Render("  ·  "+modelID))
		fmt.Println(infoStyle.Render("/help for commands, /quit to exit"))
		fmt.Println()
	}

	conv, err := rt.Store.CreateConversation(ctx, model.DefaultTitle, modelID)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	rt.Reconciler.SwitchConversation(conv.ID)

	var transcript []model.Message

	for {
		text, err := input.line.Prompt(promptStyle.Render("you> "))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, liner.ErrInvalidPrompt) {
				continue
			}
			// io.EOF on Ctrl+D.
			fmt.Println()
			return nil
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		input.line.AppendHistory(text)

		if strings.HasPrefix(text, "/") {
			done, newModel := handleReplCommand(text, modelID, transcript)
			if done {
				return nil
			}
			if newModel != "" {
				modelID = newModel
				fmt.Println(styles.RenderSuccess("model: " + modelID))
			}
			if text == "/clear" || text == "/c" {
				transcript = nil
			}
			continue
		}

		userMsg := model.NewUserMessage(uuid.NewString(), conv.ID, text)
		transcript = append(transcript, userMsg)

		reply, usage, err := streamTurn(ctx, rt, modelID, transcript)
		if err != nil {
			fmt.Println(styles.RenderError(err.Error()))
			continue
		}

		asst := model.NewAssistantMessage(uuid.NewString(), conv.ID)
		asst.AppendTextDelta(reply)
		asst.FinalizeText()
		if usage != nil {
			asst.Metadata = &model.Metadata{Usage: usage}
		}
		transcript = append(transcript, asst)

		if merged, err := rt.Reconciler.ProcessLive(ctx, conv.ID, transcript); err != nil {
			fmt.Println(styles.RenderWarning("save failed: " + err.Error()))
		} else {
			transcript = merged
		}

		if rt.Config.Title.Enabled && !rt.Titles.TitleGenerated(conv.ID) {
			gen := rt.Transport.GeneratorFor(modelID)
			if _, err := rt.Titles.GenerateInitialTitle(ctx, gen, conv.ID, userMsg); err != nil && args.Verbose {
				fmt.Println(styles.RenderWarning("title: " + err.Error()))
			}
		}
	}
}

// streamTurn sends the transcript and prints the streamed reply.
func streamTurn(ctx context.Context, rt *Runtime, modelID string, transcript []model.Message) (string, *model.TokenUsage, error) {
	chunks, err := rt.Transport.SendMessages(ctx, modelID, transcript, transport.Options{})
	if err != nil {
		return "", nil, err
	}

	fmt.Print(replyStyle.Render("loom> "))
	var full strings.Builder
	var usage *model.TokenUsage
	for c := range chunks {
		switch c.Type {
		case transport.ChunkTextDelta:
			full.WriteString(c.Delta)
			fmt.Print(c.Delta)
		case transport.ChunkWarning:
			fmt.Fprintln(os.Stderr, styles.RenderWarning(c.Warning))
		case transport.ChunkError:
			fmt.Println()
			return full.String(), nil, errors.New(c.ErrText)
		case transport.ChunkFinish:
			usage = c.Usage
		}
	}
	fmt.Println()
	return full.String(), usage, nil
}

// handleReplCommand processes /commands. It returns done=true to exit
// and a non-empty newModel on a model switch.
func handleReplCommand(text, modelID string, transcript []model.Message) (done bool, newModel string) {
	fields := strings.Fields(text)
	switch fields[0] {
	case "/quit", "/q", "/exit":
		return true, ""

	case "/help", "/h":
		fmt.Println(commandStyle.Render("/model [name]") + "  show or switch model")
		fmt.Println(commandStyle.Render("/history     ") + "  show this session's transcript")
		fmt.Println(commandStyle.Render("/clear, /c   ") + "  start a fresh context")
		fmt.Println(commandStyle.Render("/quit, /q    ") + "  exit")
		return false, ""

	case "/model", "/m":
		if len(fields) > 1 {
			return false, fields[1]
		}
		fmt.Println(infoStyle.Render("model: " + modelID))
		return false, ""

	case "/history":
		for _, msg := range transcript {
			label := "you"
			if msg.Role == model.RoleAssistant {
				label = "loom"
			}
			fmt.Printf("%s: %s\n", label, msg.Preview(80))
		}
		return false, ""

	case "/clear", "/c":
		fmt.Println(infoStyle.Render("context cleared"))
		return false, ""

	default:
		fmt.Println(styles.RenderWarning("unknown command " + fields[0] + "; /help lists commands"))
		return false, ""
	}
}
