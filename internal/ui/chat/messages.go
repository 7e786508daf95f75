// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kestrelworks/loom-tui/internal/bus"
	"github.com/kestrelworks/loom-tui/internal/model"
	"github.com/kestrelworks/loom-tui/internal/registry"
	"github.com/kestrelworks/loom-tui/internal/transport"
)

// storeTimeout bounds background storage commands. Local SQLite is
// fast; anything slower than this is stuck.
const storeTimeout = 5 * time.Second

// generateTimeout bounds one-shot generations (titles, drift checks).
const generateTimeout = 30 * time.Second

// =============================================================================
// MESSAGES
// =============================================================================

type conversationsLoadedMsg struct {
	conversations []model.Conversation
	err           error
}

type conversationCreatedMsg struct {
	conversation model.Conversation
	text         string
	err          error
}

type historyLoadedMsg struct {
	conversationID string
	messages       []model.Message
	err            error
}

type streamStartedMsg struct {
	ch     <-chan transport.Chunk
	cancel context.CancelFunc
}

type sendFailedMsg struct{ err error }

type chunkMsg struct {
	chunk transport.Chunk
	ok    bool
}

type reconciledMsg struct {
	conversationID string
	messages       []model.Message
	err            error
}

type responseFinishedMsg bus.ResponseFinished

type modelSelectedMsg bus.ModelSelected

type modelsLoadedMsg struct {
	models []registry.ChatModel
	err    error
}

type titleChangedMsg struct {
	conversationID string
	title          string
}

// =============================================================================
// COMMANDS
// =============================================================================

func (m Model) loadConversationsCmd() tea.Cmd {
	store := m.app.Store
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		convs, err := store.ListConversations(ctx)
		return conversationsLoadedMsg{convs, err}
	}
}

// createConversationCmd creates the row first; the send that triggered
// it resumes once the conversation ID exists.
func (m Model) createConversationCmd(text string) tea.Cmd {
	store, modelID := m.app.Store, m.modelID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		conv, err := store.CreateConversation(ctx, model.DefaultTitle, modelID)
		return conversationCreatedMsg{conv, text, err}
	}
}

func (m Model) loadHistoryCmd(conversationID string) tea.Cmd {
	rec := m.app.Reconciler
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		msgs, err := rec.LoadMessages(ctx, conversationID)
		return historyLoadedMsg{conversationID, msgs, err}
	}
}

// startStreamCmd opens the transport stream. The cancel func travels
// with the started message so Esc can abort mid-response.
func (m Model) startStreamCmd(wire []model.Message) tea.Cmd {
	tr, modelID := m.app.Transport, m.modelID
	opts := transport.Options{
		Reasoning:      m.app.Config.Providers.Reasoning,
		ConversationID: m.activeID,
	}
	return func() tea.Msg {
		ctx, cancel := context.WithCancel(context.Background())
		ch, err := tr.SendMessages(ctx, modelID, wire, opts)
		if err != nil {
			cancel()
			return sendFailedMsg{err}
		}
		return streamStartedMsg{ch, cancel}
	}
}

// waitForChunkCmd receives one transport event. Re-issued after every
// chunk until the channel closes.
func waitForChunkCmd(ch <-chan transport.Chunk) tea.Cmd {
	return func() tea.Msg {
		c, ok := <-ch
		return chunkMsg{c, ok}
	}
}

// waitForFinishedCmd pumps bus completion events into the update loop.
func waitForFinishedCmd(ch chan bus.ResponseFinished) tea.Cmd {
	return func() tea.Msg {
		return responseFinishedMsg(<-ch)
	}
}

// waitForSelectedCmd pumps bus model-selection events into the update
// loop.
func waitForSelectedCmd(ch chan bus.ModelSelected) tea.Cmd {
	return func() tea.Msg {
		return modelSelectedMsg(<-ch)
	}
}

// reconcileCmd runs a persistence pass over a snapshot of the live
// turn. The snapshot is cloned on the update goroutine; the command
// goroutine never touches UI state.
func (m Model) reconcileCmd() tea.Cmd {
	rec, conversationID := m.app.Reconciler, m.activeID
	snapshot := make([]model.Message, len(m.live))
	for i, msg := range m.live {
		snapshot[i] = msg.Clone()
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		merged, err := rec.ProcessLive(ctx, conversationID, snapshot)
		return reconciledMsg{conversationID, merged, err}
	}
}

func (m Model) generateTitleCmd(conversationID string, first model.Message) tea.Cmd {
	titles := m.app.Titles
	gen := m.app.Transport.GeneratorFor(m.modelID)
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), generateTimeout)
		defer cancel()
		title, err := titles.GenerateInitialTitle(ctx, gen, conversationID, first)
		if err != nil || title == "" {
			return nil
		}
		return titleChangedMsg{conversationID, title}
	}
}

func (m Model) detectContextChangeCmd() tea.Cmd {
	titles := m.app.Titles
	gen := m.app.Transport.GeneratorFor(m.modelID)
	conversationID := m.activeID
	snapshot := make([]model.Message, len(m.transcript))
	copy(snapshot, m.transcript)
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), generateTimeout)
		defer cancel()
		title, changed, err := titles.DetectContextChange(ctx, gen, conversationID, snapshot)
		if err != nil || !changed {
			return nil
		}
		return titleChangedMsg{conversationID, title}
	}
}

func (m Model) loadModelsCmd() tea.Cmd {
	reg, lister := m.app.Registry, m.app.Local
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		models, err := reg.ListChatModels(ctx, lister)
		return modelsLoadedMsg{models, err}
	}
}

// warmCacheCmd preloads the neighbors and recents of the active
// conversation so switching feels instant.
func (m Model) warmCacheCmd() tea.Cmd {
	if !m.app.Config.Cache.Enabled {
		return nil
	}
	c, store, active := m.app.Cache, m.app.Store, m.activeID
	limit := m.app.Config.Cache.RecentLimit
	concurrency := m.app.Config.Cache.PreloadConcurrency
	return func() tea.Msg {
		prev, next := c.AdjacentIDs(active)
		var ids []string
		if prev != "" {
			ids = append(ids, prev)
		}
		if next != "" {
			ids = append(ids, next)
		}
		ids = append(ids, c.RecentIDs(active, limit)...)
		c.Preload(context.Background(), ids, store.GetMessages, concurrency)
		return nil
	}
}

type conversationDeletedMsg struct {
	conversationID string
	err            error
}

func (m Model) deleteConversationCmd(conversationID string) tea.Cmd {
	store := m.app.Store
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		err := store.DeleteConversation(ctx, conversationID)
		return conversationDeletedMsg{conversationID, err}
	}
}

func (m Model) updateConversationModelCmd(conversationID, modelID string) tea.Cmd {
	store := m.app.Store
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := store.UpdateConversationModel(ctx, conversationID, modelID); err != nil {
			return conversationsLoadedMsg{nil, err}
		}
		return nil
	}
}
