// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/kestrelworks/loom-tui/internal/bus"
	"github.com/kestrelworks/loom-tui/internal/cache"
	"github.com/kestrelworks/loom-tui/internal/config"
	"github.com/kestrelworks/loom-tui/internal/model"
	"github.com/kestrelworks/loom-tui/internal/reconcile"
	"github.com/kestrelworks/loom-tui/internal/registry"
	"github.com/kestrelworks/loom-tui/internal/storage"
	"github.com/kestrelworks/loom-tui/internal/title"
	"github.com/kestrelworks/loom-tui/internal/transport"
	"github.com/kestrelworks/loom-tui/internal/ui/components"
	"github.com/kestrelworks/loom-tui/internal/ui/styles"
)

// =============================================================================
// APP DEPENDENCIES
// =============================================================================

// App bundles the long-lived collaborators the chat UI drives. All of
// them are constructed once at startup and shared for the process
// lifetime.
type App struct {
	Store      *storage.Store
	Cache      *cache.ConversationCache
	Reconciler *reconcile.Manager
	Titles     *title.Manager
	Transport  *transport.Transport
	Registry   *registry.Registry
	Local      registry.LocalLister
	Bus        *bus.Bus
	Config     *config.Config
}

// =============================================================================
// MODEL
// =============================================================================

const sidebarWidth = 30

// Model is the bubbletea model for the chat screen.
type Model struct {
	app App

	// Conversation state.
	conversations []model.Conversation
	activeID      string
	sidebarIdx    int

	// transcript is the last reconciled merged view; live is the
	// in-flight turn. displayMessages joins them for rendering.
	transcript []model.Message
	live       []model.Message

	modelID string

	// Streaming state.
	streaming    bool
	streamCancel context.CancelFunc
	chunks       <-chan transport.Chunk
	buffer       *StreamingBuffer
	lastUsage    *model.TokenUsage

	// finished and selected pump bus events into the update loop.
	finished    chan bus.ResponseFinished
	selected    chan bus.ModelSelected
	unsub       func()
	unsubSelect func()

	// Model picker overlay.
	picking   bool
	models    []registry.ChatModel
	pickerIdx int

	// Widgets.
	textarea     textarea.Model
	viewport     viewport.Model
	spin         spinner.Model
	renderer     *glamour.TermRenderer
	focusSidebar bool

	notice components.Notice

	width, height int
	ready         bool
}

// New creates the chat model. The bus subscription lives until Close.
func New(app App) *Model {
	ta := textarea.New()
	ta.Placeholder = "Send a message..."
	ta.ShowLineNumbers = false
	ta.SetHeight(3)
	ta.CharLimit = 0
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = lipgloss.NewStyle().Foreground(styles.Amber)

	m := &Model{
		app:      app,
		modelID:  defaultModelID(app.Config),
		buffer:   NewStreamingBuffer(),
		finished: make(chan bus.ResponseFinished, 4),
		selected: make(chan bus.ModelSelected, 4),
		textarea: ta,
		spin:     sp,
	}

	// The bus publishes from the transport goroutine; hand the event
	// to the update loop instead of touching the model here. A full
	// channel drops the event, and the finish chunk still closes the
	// turn without the authoritative text.
	m.unsub = app.Bus.SubscribeResponseFinished(func(ev bus.ResponseFinished) {
		select {
		case m.finished <- ev:
		default:
		}
	})

	// Model selection travels the same way: the picker (or any other
	// publisher) announces on the bus, and the update loop applies it.
	m.unsubSelect = app.Bus.SubscribeModelSelected(func(ev bus.ModelSelected) {
		select {
		case m.selected <- ev:
		default:
		}
	})

	return m
}

// defaultModelID picks the starting model from config.
func defaultModelID(cfg *config.Config) string {
	if cfg.DefaultModel != "" {
		return cfg.DefaultModel
	}
	if cfg.Local.OllamaModel != "" {
		return cfg.Local.OllamaModel
	}
	return cfg.Providers.DefaultModel
}

// Close releases the bus subscriptions.
func (m *Model) Close() {
	if m.unsub != nil {
		m.unsub()
		m.unsub = nil
	}
	if m.unsubSelect != nil {
		m.unsubSelect()
		m.unsubSelect = nil
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.loadConversationsCmd(),
		m.loadModelsCmd(),
		waitForFinishedCmd(m.finished),
		waitForSelectedCmd(m.selected),
	)
}

// =============================================================================
// DERIVED VIEWS
// =============================================================================

// displayMessages merges the reconciled transcript with the in-flight
// turn. The live copy of a message wins while the turn is open; the
// reconciled copy is authoritative once the turn closes.
func (m *Model) displayMessages() []model.Message {
	if len(m.live) == 0 {
		return m.transcript
	}

	liveIdx := make(map[string]int, len(m.live))
	for i, msg := range m.live {
		liveIdx[msg.ID] = i
	}

	out := make([]model.Message, 0, len(m.transcript)+len(m.live))
	used := make(map[string]bool, len(m.live))
	for _, msg := range m.transcript {
		if i, ok := liveIdx[msg.ID]; ok {
			msg = m.live[i]
			used[msg.ID] = true
		}
		out = append(out, msg)
	}
	for _, msg := range m.live {
		if !used[msg.ID] {
			out = append(out, msg)
		}
	}
	return out
}

// liveAssistant returns a pointer to the in-flight assistant message,
// or nil when no turn is open.
func (m *Model) liveAssistant() *model.Message {
	for i := len(m.live) - 1; i >= 0; i-- {
		if m.live[i].Role == model.RoleAssistant {
			return &m.live[i]
		}
	}
	return nil
}

// activeConversation returns the active conversation row, if loaded.
func (m *Model) activeConversation() *model.Conversation {
	for i := range m.conversations {
		if m.conversations[i].ID == m.activeID {
			return &m.conversations[i]
		}
	}
	return nil
}

// =============================================================================
// CONVERSATION SWITCHING
// =============================================================================

// switchTo binds the UI and the reconciler to a conversation and kicks
// off the history load plus cache warming for its neighbors.
func (m *Model) switchTo(conv model.Conversation) tea.Cmd {
	if m.streaming {
		m.cancelStream()
	}

	m.activeID = conv.ID
	m.transcript = nil
	m.live = nil
	m.lastUsage = nil
	m.app.Reconciler.SwitchConversation(conv.ID)

	// A conversation titled in an earlier session keeps its title; the
	// initial-generation claim must reflect that.
	if conv.Title != "" && conv.Title != model.DefaultTitle {
		m.app.Titles.MarkTitleGenerated(conv.ID)
	}

	for i := range m.conversations {
		if m.conversations[i].ID == conv.ID {
			m.sidebarIdx = i
		}
	}

	return tea.Batch(m.loadHistoryCmd(conv.ID), m.warmCacheCmd())
}

// startNew clears the active conversation; the row is created lazily on
// the first send.
func (m *Model) startNew() {
	if m.streaming {
		m.cancelStream()
	}
	m.activeID = ""
	m.transcript = nil
	m.live = nil
	m.lastUsage = nil
	m.app.Reconciler.SwitchConversation("")
	m.textarea.Reset()
	m.textarea.Focus()
	m.focusSidebar = false
}

// cancelStream aborts the in-flight response. Whatever streamed so far
// stays in the live turn; the next reconcile pass persists nothing for
// it unless a done part exists.
func (m *Model) cancelStream() {
	if m.streamCancel != nil {
		m.streamCancel()
		m.streamCancel = nil
	}
	m.streaming = false
	m.chunks = nil
	m.buffer.Reset()
}
