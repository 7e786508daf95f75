// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/kestrelworks/loom-tui/internal/bus"
	"github.com/kestrelworks/loom-tui/internal/model"
	"github.com/kestrelworks/loom-tui/internal/transport"
	"github.com/kestrelworks/loom-tui/internal/ui/components"
)

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		if !m.streaming {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case StreamTickMsg:
		return m.handleStreamTick()

	case streamStartedMsg:
		m.streamCancel = msg.cancel
		m.chunks = msg.ch
		return m, tea.Batch(waitForChunkCmd(msg.ch), streamTickCmd(), m.spin.Tick)

	case sendFailedMsg:
		m.streaming = false
		m.notice = components.NewNotice(components.NoticeError, msg.err.Error())
		return m, nil

	case chunkMsg:
		return m.handleChunk(msg)

	case responseFinishedMsg:
		return m.handleResponseFinished(bus.ResponseFinished(msg))

	case modelSelectedMsg:
		m.modelID = msg.Model
		return m, waitForSelectedCmd(m.selected)

	case reconciledMsg:
		if msg.err != nil {
			m.notice = components.NewNotice(components.NoticeError, "save failed: "+msg.err.Error())
			return m, nil
		}
		if msg.conversationID != m.activeID {
			return m, nil
		}
		m.transcript = msg.messages
		if !m.streaming {
			m.live = nil
		}
		m.refreshViewport()
		return m, nil

	case conversationsLoadedMsg:
		if msg.err != nil {
			m.notice = components.NewNotice(components.NoticeError, "could not load conversations: "+msg.err.Error())
			return m, nil
		}
		m.conversations = msg.conversations
		m.app.Cache.SetConversations(m.conversations)
		if m.sidebarIdx >= len(m.conversations) {
			m.sidebarIdx = 0
		}
		return m, nil

	case conversationCreatedMsg:
		if msg.err != nil {
			m.notice = components.NewNotice(components.NoticeError, "could not create conversation: "+msg.err.Error())
			return m, nil
		}
		m.conversations = append([]model.Conversation{msg.conversation}, m.conversations...)
		m.app.Cache.SetConversations(m.conversations)
		m.activeID = msg.conversation.ID
		m.app.Reconciler.SwitchConversation(m.activeID)
		m.sidebarIdx = 0
		return m, m.beginTurn(msg.text)

	case historyLoadedMsg:
		if msg.err != nil {
			m.notice = components.NewNotice(components.NoticeError, "could not load history: "+msg.err.Error())
			return m, nil
		}
		if msg.conversationID != m.activeID {
			return m, nil
		}
		m.transcript = msg.messages
		m.refreshViewport()
		return m, nil

	case modelsLoadedMsg:
		if msg.err != nil {
			// The picker degrades to the remote catalog; not fatal.
			m.notice = components.NewNotice(components.NoticeWarning, "model listing incomplete: "+msg.err.Error())
		}
		m.models = msg.models
		return m, nil

	case conversationDeletedMsg:
		if msg.err != nil {
			m.notice = components.NewNotice(components.NoticeError, "delete failed: "+msg.err.Error())
			return m, nil
		}
		m.app.Titles.Reset(msg.conversationID)
		m.app.Cache.Clear(msg.conversationID)
		if msg.conversationID == m.activeID {
			m.startNew()
			m.refreshViewport()
		}
		return m, m.loadConversationsCmd()

	case titleChangedMsg:
		for i := range m.conversations {
			if m.conversations[i].ID == msg.conversationID {
				m.conversations[i].Title = msg.title
			}
		}
		m.app.Cache.SetConversations(m.conversations)
		return m, nil
	}

	// Everything else (cursor blink, mouse wheel) goes to the widgets.
	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// =============================================================================
// KEY HANDLING
// =============================================================================

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.picking {
		return m.handlePickerKey(msg)
	}

	switch msg.String() {
	case "ctrl+c":
		m.cancelStream()
		m.Close()
		return m, tea.Quit

	case "esc":
		if m.streaming {
			m.cancelStream()
			m.notice = components.NewNotice(components.NoticeWarning, "response cancelled")
			m.refreshViewport()
			return m, nil
		}
		if m.focusSidebar {
			m.focusSidebar = false
			m.textarea.Focus()
		}
		return m, nil

	case "ctrl+n":
		m.startNew()
		m.refreshViewport()
		return m, nil

	case "ctrl+p":
		m.picking = true
		m.pickerIdx = m.currentModelIndex()
		if len(m.models) == 0 {
			return m, m.loadModelsCmd()
		}
		return m, nil

	case "tab":
		m.focusSidebar = !m.focusSidebar
		if m.focusSidebar {
			m.textarea.Blur()
		} else {
			m.textarea.Focus()
		}
		return m, nil
	}

	if m.focusSidebar {
		return m.handleSidebarKey(msg)
	}

	switch msg.String() {
	case "enter":
		if m.streaming {
			return m, nil
		}
		text := strings.TrimSpace(m.textarea.Value())
		if text == "" {
			return m, nil
		}
		m.textarea.Reset()
		if m.activeID == "" {
			return m, m.createConversationCmd(text)
		}
		return m, m.beginTurn(text)

	case "alt+enter":
		m.textarea.InsertString("\n")
		return m, nil
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	return m, cmd
}

func (m *Model) handleSidebarKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.sidebarIdx > 0 {
			m.sidebarIdx--
		}
		return m, nil
	case "down", "j":
		if m.sidebarIdx < len(m.conversations)-1 {
			m.sidebarIdx++
		}
		return m, nil
	case "enter":
		if m.sidebarIdx < len(m.conversations) {
			return m, m.switchTo(m.conversations[m.sidebarIdx])
		}
		return m, nil
	case "d":
		if m.sidebarIdx < len(m.conversations) {
			return m, m.deleteConversationCmd(m.conversations[m.sidebarIdx].ID)
		}
		return m, nil
	}
	return m, nil
}

func (m *Model) handlePickerKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "ctrl+p":
		m.picking = false
		return m, nil
	case "up", "k":
		if m.pickerIdx > 0 {
			m.pickerIdx--
		}
		return m, nil
	case "down", "j":
		if m.pickerIdx < len(m.models)-1 {
			m.pickerIdx++
		}
		return m, nil
	case "enter":
		if m.pickerIdx >= len(m.models) {
			m.picking = false
			return m, nil
		}
		choice := m.models[m.pickerIdx]
		m.picking = false
		if !choice.Enabled {
			m.notice = components.NewNotice(components.NoticeWarning, "no credential for "+choice.Model+"; run `loom auth`")
			return m, nil
		}
		// The selection is not applied here: it travels over the bus
		// and lands back in Update as a modelSelectedMsg, so any other
		// subscriber sees the same event the UI acts on.
		m.app.Bus.PublishModelSelected(bus.ModelSelected{
			Model:       choice.Model,
			AdapterKind: string(choice.AdapterKind),
		})
		m.notice = components.NewNotice(components.NoticeSuccess, "model: "+choice.Model)
		if m.activeID != "" {
			return m, m.updateConversationModelCmd(m.activeID, choice.Model)
		}
		return m, nil
	}
	return m, nil
}

// currentModelIndex finds the active model in the picker list.
func (m *Model) currentModelIndex() int {
	for i, cm := range m.models {
		if cm.Model == m.modelID {
			return i
		}
	}
	return 0
}

// =============================================================================
// TURNS
// =============================================================================

// beginTurn appends the user message and an empty assistant message to
// the live turn, starts the stream, and kicks off persistence and
// title work.
func (m *Model) beginTurn(text string) tea.Cmd {
	userMsg := model.NewUserMessage(uuid.NewString(), m.activeID, text)
	asst := model.NewAssistantMessage(uuid.NewString(), m.activeID)
	m.live = append(m.live, userMsg, asst)

	m.streaming = true
	m.buffer.Reset()
	m.lastUsage = nil
	m.refreshViewport()

	// The assistant placeholder has no content yet; the transport
	// drops empty messages from the wire.
	wire := m.displayMessages()

	cmds := []tea.Cmd{
		m.startStreamCmd(wire),
		m.reconcileCmd(),
		m.spin.Tick,
	}

	m.app.Titles.RecordActivity(m.activeID)
	if m.app.Config.Title.Enabled && !m.app.Titles.TitleGenerated(m.activeID) {
		cmds = append(cmds, m.generateTitleCmd(m.activeID, userMsg))
	}

	return tea.Batch(cmds...)
}

func (m *Model) handleStreamTick() (tea.Model, tea.Cmd) {
	if !m.streaming {
		// Drain whatever the last chunk left behind.
		if text := m.buffer.ForceFlush(); text != "" {
			m.applyDelta(text)
			m.refreshViewport()
		}
		return m, nil
	}
	if text := m.buffer.Flush(); text != "" {
		m.applyDelta(text)
		m.refreshViewport()
	}
	return m, streamTickCmd()
}

func (m *Model) handleChunk(msg chunkMsg) (tea.Model, tea.Cmd) {
	if !msg.ok {
		m.chunks = nil
		return m, nil
	}

	var cmds []tea.Cmd
	c := msg.chunk

	switch c.Type {
	case transport.ChunkTextDelta:
		m.buffer.Write(c.Delta)

	case transport.ChunkReasoningDelta:
		if asst := m.liveAssistant(); asst != nil {
			asst.AppendReasoningDelta(c.Delta)
		}

	case transport.ChunkWarning:
		m.notice = components.NewNotice(components.NoticeWarning, c.Warning)

	case transport.ChunkError:
		m.streaming = false
		m.streamCancel = nil
		if text := m.buffer.ForceFlush(); text != "" {
			m.applyDelta(text)
		}
		m.notice = components.NewNotice(components.NoticeError, c.ErrText)
		m.refreshViewport()

	case transport.ChunkFinish:
		m.streaming = false
		m.streamCancel = nil
		if text := m.buffer.ForceFlush(); text != "" {
			m.applyDelta(text)
		}
		if asst := m.liveAssistant(); asst != nil {
			asst.FinalizeText()
			if c.Usage != nil {
				usage := *c.Usage
				m.lastUsage = &usage
				if asst.Metadata == nil {
					asst.Metadata = &model.Metadata{}
				}
				asst.Metadata.Usage = &usage
			}
		}
		m.refreshViewport()
		cmds = append(cmds, m.reconcileCmd())
	}

	if m.chunks != nil {
		cmds = append(cmds, waitForChunkCmd(m.chunks))
	}
	return m, tea.Batch(cmds...)
}

// handleResponseFinished applies the authoritative completion event.
// It may arrive before or after the finish chunk; the reconciler owns
// the ordering rules.
func (m *Model) handleResponseFinished(ev bus.ResponseFinished) (tea.Model, tea.Cmd) {
	cmds := []tea.Cmd{waitForFinishedCmd(m.finished)}

	if ev.ConversationID == m.activeID {
		var lastID string
		if asst := m.liveAssistant(); asst != nil {
			lastID = asst.ID
		}
		m.app.Reconciler.HandleResponseFinished(ev.Text, ev.TotalUsage, lastID)
		m.app.Titles.RecordActivity(m.activeID)

		cmds = append(cmds, m.reconcileCmd(), m.loadConversationsCmd(), m.warmCacheCmd())
		if m.app.Config.Title.Enabled && m.app.Config.Title.ContextDetection {
			cmds = append(cmds, m.detectContextChangeCmd())
		}
	}

	return m, tea.Batch(cmds...)
}

// applyDelta grows the live assistant message.
func (m *Model) applyDelta(text string) {
	if asst := m.liveAssistant(); asst != nil {
		asst.AppendTextDelta(text)
	}
}
