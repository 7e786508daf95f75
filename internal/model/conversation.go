// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"strings"
	"time"
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds chat metadata. Messages live in the store and in
// the per-conversation cache, not on the conversation itself.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	Archived  bool      `json:"archived"`

	// Model is the last model used in this conversation, if any.
	Model string `json:"model,omitempty"`
}

// DefaultTitle is the placeholder title before generation runs.
const DefaultTitle = "New Chat"

// DisplayTitle returns the conversation title or the default.
func (c Conversation) DisplayTitle() string {
	if strings.TrimSpace(c.Title) != "" {
		return c.Title
	}
	return DefaultTitle
}
