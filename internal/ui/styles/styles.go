// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles centralizes the color palette and lipgloss styles for
// the chat TUI. Colors are adaptive: lipgloss picks the light or dark
// variant from the detected terminal background.
package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// =============================================================================
// PALETTE
// =============================================================================

var (
	// Purple is the primary accent, used for the active conversation
	// and the assistant label.
	Purple = lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"}

	// Cyan marks the user's side of the transcript.
	Cyan = lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"}

	// Emerald signals success and connected backends.
	Emerald = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"}

	// Rose signals errors.
	Rose = lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"}

	// Amber signals warnings and in-flight state.
	Amber = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}

	// Surface tones for chrome.
	Surface  = lipgloss.AdaptiveColor{Light: "#F3F4F6", Dark: "#1F2937"}
	Overlay  = lipgloss.AdaptiveColor{Light: "#E5E7EB", Dark: "#374151"}
	TextMain = lipgloss.AdaptiveColor{Light: "#111827", Dark: "#F9FAFB"}
	TextDim  = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
)

// =============================================================================
// CHAT STYLES
// =============================================================================

var (
	// UserLabel and AssistantLabel head each transcript turn.
	UserLabel = lipgloss.NewStyle().
			Foreground(Cyan).
			Bold(true)

	AssistantLabel = lipgloss.NewStyle().
			Foreground(Purple).
			Bold(true)

	// Reasoning renders reasoning traces dimmed and italic so they
	// read as an aside, not as the answer.
	Reasoning = lipgloss.NewStyle().
			Foreground(TextDim).
			Italic(true)

	ErrorText = lipgloss.NewStyle().
			Foreground(Rose)

	WarningText = lipgloss.NewStyle().
			Foreground(Amber)

	DimText = lipgloss.NewStyle().
		Foreground(TextDim)
)

// =============================================================================
// CHROME STYLES
// =============================================================================

var (
	// Sidebar frames the conversation list.
	Sidebar = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Overlay).
		Padding(0, 1)

	// SidebarActive highlights the selected conversation.
	SidebarActive = lipgloss.NewStyle().
			Foreground(Purple).
			Bold(true)

	SidebarItem = lipgloss.NewStyle().
			Foreground(TextMain)

	SidebarArchived = lipgloss.NewStyle().
			Foreground(TextDim).
			Faint(true)

	// InputBox frames the compose area. The border flips to Amber
	// while a response is streaming.
	InputBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Overlay).
			Padding(0, 1)

	InputBoxStreaming = InputBox.
				BorderForeground(Amber)

	// StatusBar is the single-line footer.
	StatusBar = lipgloss.NewStyle().
			Background(Surface).
			Foreground(TextDim).
			Padding(0, 1)

	StatusModel = lipgloss.NewStyle().
			Background(Surface).
			Foreground(Purple).
			Bold(true).
			Padding(0, 1)

	// Title heads the transcript pane.
	Title = lipgloss.NewStyle().
		Foreground(TextMain).
		Bold(true).
		Padding(0, 1)
)

// =============================================================================
// HELPERS
// =============================================================================

// RenderError formats an error line for the transcript or status bar.
func RenderError(msg string) string {
	return ErrorText.Render("✗ " + msg)
}

// RenderWarning formats a non-fatal condition.
func RenderWarning(msg string) string {
	return WarningText.Render("⚠ " + msg)
}

// RenderSuccess formats a confirmation line.
func RenderSuccess(msg string) string {
	return lipgloss.NewStyle().Foreground(Emerald).Render("✓ " + msg)
}

// =============================================================================
// THEME
// =============================================================================

// ApplyTheme pins the light/dark rendering mode. "auto" defers to the
// terminal's detected background.
func ApplyTheme(theme string) {
	switch theme {
	case "dark":
		lipgloss.SetHasDarkBackground(true)
	case "light":
		lipgloss.SetHasDarkBackground(false)
	default:
		lipgloss.SetHasDarkBackground(termenv.HasDarkBackground())
	}
}
