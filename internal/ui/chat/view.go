// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/kestrelworks/loom-tui/internal/model"
	"github.com/kestrelworks/loom-tui/internal/registry"
	"github.com/kestrelworks/loom-tui/internal/ui/styles"
	"github.com/kestrelworks/loom-tui/internal/util"
)

// =============================================================================
// LAYOUT
// =============================================================================

// resize recomputes the layout and rebuilds the markdown renderer for
// the new wrap width.
func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height

	mainWidth := width - sidebarWidth - 4
	if mainWidth < 20 {
		mainWidth = 20
	}

	m.textarea.SetWidth(mainWidth)

	// Header, input box and status bar are fixed-height chrome; the
	// viewport gets the rest.
	vpHeight := height - m.textarea.Height() - 6
	if vpHeight < 3 {
		vpHeight = 3
	}
	if !m.ready {
		m.viewport.Width = mainWidth
		m.viewport.Height = vpHeight
		m.ready = true
	} else {
		m.viewport.Width = mainWidth
		m.viewport.Height = vpHeight
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(mainWidth-2),
	)
	if err == nil {
		m.renderer = renderer
	}

	m.refreshViewport()
}

// refreshViewport re-renders the transcript and pins the scroll to the
// bottom.
func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

// View implements tea.Model.
func (m *Model) View() string {
	if !m.ready {
		return "starting..."
	}
	if m.picking {
		return m.renderPicker()
	}

	main := lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		m.renderInput(),
	)

	body := lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(), main)
	return lipgloss.JoinVertical(lipgloss.Left, body, m.renderStatusBar())
}

// =============================================================================
// PANES
// =============================================================================

func (m *Model) renderHeader() string {
	title := model.DefaultTitle
	if conv := m.activeConversation(); conv != nil {
		title = conv.DisplayTitle()
	}
	return styles.Title.Render(title)
}

func (m *Model) renderInput() string {
	frame := styles.InputBox
	if m.streaming {
		frame = styles.InputBoxStreaming
	}
	return frame.Render(m.textarea.View())
}

func (m *Model) renderSidebar() string {
	height := m.height - 3
	if height < 3 {
		height = 3
	}

	var lines []string
	lines = append(lines, styles.DimText.Render("conversations"))
	for i, conv := range m.conversations {
		if len(lines) >= height {
			break
		}
		title := util.TruncateRunes(conv.DisplayTitle(), sidebarWidth-4)

		marker := "  "
		if conv.ID == m.activeID {
			marker = "▸ "
		}
		if m.focusSidebar && i == m.sidebarIdx {
			marker = "› "
		}

		style := styles.SidebarItem
		switch {
		case conv.ID == m.activeID:
			style = styles.SidebarActive
		case conv.Archived:
			style = styles.SidebarArchived
		}
		lines = append(lines, style.Render(marker+title))
	}
	if len(m.conversations) == 0 {
		lines = append(lines, styles.DimText.Render("  (none yet)"))
	}

	return styles.Sidebar.
		Width(sidebarWidth).
		Height(height).
		Render(strings.Join(lines, "\n"))
}

func (m *Model) renderStatusBar() string {
	left := styles.StatusModel.Render(m.modelID)

	var parts []string
	if m.streaming {
		parts = append(parts, m.spin.View()+" responding")
	}
	if m.app.Config.UI.ShowTokens && m.lastUsage != nil {
		parts = append(parts, fmt.Sprintf("%d→%d tok", m.lastUsage.InputTokens, m.lastUsage.OutputTokens))
	}
	if !m.notice.Expired(time.Now()) {
		parts = append(parts, m.notice.Render())
	}
	if n, _ := m.app.Cache.PreloadingStatus(); n > 0 {
		parts = append(parts, styles.DimText.Render(fmt.Sprintf("warming %d", n)))
	}

	right := styles.StatusBar.Render(strings.Join(parts, "  "))
	return lipgloss.JoinHorizontal(lipgloss.Top, left, right)
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

func (m *Model) renderTranscript() string {
	msgs := m.displayMessages()
	if len(msgs) == 0 {
		return styles.DimText.Render("\n  Start a conversation. Ctrl+P picks a model, Ctrl+N starts fresh.")
	}

	var sb strings.Builder
	for i, msg := range msgs {
		streaming := m.streaming && i == len(msgs)-1 && msg.Role == model.RoleAssistant
		sb.WriteString(m.renderMessage(msg, streaming))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m *Model) renderMessage(msg model.Message, streaming bool) string {
	var sb strings.Builder

	switch msg.Role {
	case model.RoleUser:
		sb.WriteString(styles.UserLabel.Render("You") + "\n")
	default:
		sb.WriteString(styles.AssistantLabel.Render(assistantLabel(m.modelID)) + "\n")
	}

	if m.app.Config.UI.ShowReasoning {
		if reasoning := msg.ReasoningContent(); reasoning != "" {
			sb.WriteString(styles.Reasoning.Render(reasoning) + "\n")
		}
	}

	text := msg.TextContent()
	if streaming {
		// PERFORMANCE: no markdown pass per frame; raw text until the
		// message finishes.
		sb.WriteString(text)
		sb.WriteString(" " + m.spin.View())
		sb.WriteString("\n")
		return sb.String()
	}

	sb.WriteString(m.renderMarkdown(text))
	return sb.String()
}

// renderMarkdown runs glamour, falling back to the raw text.
func (m *Model) renderMarkdown(text string) string {
	if m.renderer == nil {
		return text + "\n"
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return text + "\n"
	}
	return strings.TrimLeft(out, "\n")
}

// assistantLabel shortens namespaced model IDs for the turn label.
func assistantLabel(modelID string) string {
	if modelID == "" {
		return "Assistant"
	}
	if i := strings.LastIndex(modelID, "/"); i >= 0 {
		return modelID[i+1:]
	}
	return modelID
}

// =============================================================================
// MODEL PICKER
// =============================================================================

func (m *Model) renderPicker() string {
	var sb strings.Builder
	sb.WriteString(styles.Title.Render("Select a model") + "\n\n")

	if len(m.models) == 0 {
		sb.WriteString(styles.DimText.Render("  loading models...") + "\n")
	}

	var lastKind registry.AdapterKind
	for i, cm := range m.models {
		if cm.AdapterKind != lastKind {
			sb.WriteString(styles.DimText.Render(kindHeading(cm.AdapterKind)) + "\n")
			lastKind = cm.AdapterKind
		}

		line := "  " + cm.Model
		if !cm.Enabled {
			line += "  (no credential)"
		}
		switch {
		case i == m.pickerIdx:
			line = styles.SidebarActive.Render("›" + line[1:])
		case !cm.Enabled:
			line = styles.SidebarArchived.Render(line)
		default:
			line = styles.SidebarItem.Render(line)
		}
		sb.WriteString(line + "\n")
	}

	sb.WriteString("\n" + styles.DimText.Render("enter select · esc close"))
	return sb.String()
}

func kindHeading(kind registry.AdapterKind) string {
	if kind == registry.KindOllama {
		return "local"
	}
	return string(kind)
}
