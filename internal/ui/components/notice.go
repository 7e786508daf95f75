// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/kestrelworks/loom-tui/internal/ui/styles"
)

// =============================================================================
// NOTICES
// =============================================================================

// NoticeKind classifies a transient status-line notice.
type NoticeKind int

const (
	NoticeInfo NoticeKind = iota
	NoticeSuccess
	NoticeWarning
	NoticeError
)

// Auto-dismiss windows. Errors linger longer so they can be read.
const (
	infoNoticeDuration    = 4 * time.Second
	warningNoticeDuration = 6 * time.Second
	errorNoticeDuration   = 8 * time.Second
)

// Notice is a non-blocking, auto-expiring status message. The chat
// loop polls Expired on its frame tick; no dedicated timer is needed.
type Notice struct {
	Message   string
	Kind      NoticeKind
	ExpiresAt time.Time
}

// NewNotice creates a notice with the kind's default lifetime.
func NewNotice(kind NoticeKind, message string) Notice {
	d := infoNoticeDuration
	switch kind {
	case NoticeWarning:
		d = warningNoticeDuration
	case NoticeError:
		d = errorNoticeDuration
	}
	return Notice{Message: message, Kind: kind, ExpiresAt: time.Now().Add(d)}
}

// Expired reports whether the notice should no longer be shown.
func (n Notice) Expired(now time.Time) bool {
	return n.Message == "" || now.After(n.ExpiresAt)
}

// Render formats the notice for the status line.
func (n Notice) Render() string {
	switch n.Kind {
	case NoticeError:
		return styles.RenderError(n.Message)
	case NoticeWarning:
		return styles.RenderWarning(n.Message)
	case NoticeSuccess:
		return styles.RenderSuccess(n.Message)
	default:
		return lipgloss.NewStyle().Foreground(styles.Cyan).Render(n.Message)
	}
}
