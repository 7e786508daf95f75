// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"time"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// TOKEN USAGE
// =============================================================================

// TokenUsage holds token accounting for a completed model turn.
// It arrives asynchronously after the text stream finishes and is
// attached to the already-rendered assistant message.
type TokenUsage struct {
	InputTokens     int `json:"input_tokens,omitempty"`
	OutputTokens    int `json:"output_tokens,omitempty"`
	ReasoningTokens int `json:"reasoning_tokens,omitempty"`
	CachedTokens    int `json:"cached_tokens,omitempty"`
	TotalTokens     int `json:"total_tokens,omitempty"`
}

// Merge overlays non-zero fields from other onto u and returns the result.
func (u TokenUsage) Merge(other TokenUsage) TokenUsage {
	if other.InputTokens != 0 {
		u.InputTokens = other.InputTokens
	}
	if other.OutputTokens != 0 {
		u.OutputTokens = other.OutputTokens
	}
	if other.ReasoningTokens != 0 {
		u.ReasoningTokens = other.ReasoningTokens
	}
	if other.CachedTokens != 0 {
		u.CachedTokens = other.CachedTokens
	}
	if other.TotalTokens != 0 {
		u.TotalTokens = other.TotalTokens
	}
	return u
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Metadata holds optional per-message metadata.
type Metadata struct {
	Usage *TokenUsage `json:"usage,omitempty"`
}

// Message represents a single message in a conversation.
//
// The ID may be client- or server-generated; it is the identity used to
// de-duplicate the persisted list against the live stream.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Parts          []Part    `json:"parts"`
	Metadata       *Metadata `json:"metadata,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewUserMessage creates a complete user message with a single done
// text part. User messages are complete the instant they are created.
func NewUserMessage(id, conversationID, text string) Message {
	return Message{
		ID:             id,
		ConversationID: conversationID,
		Role:           RoleUser,
		Parts:          []Part{TextPart(text, PartDone)},
		CreatedAt:      time.Now(),
	}
}

// NewAssistantMessage creates an empty assistant message ready to
// receive streamed parts.
func NewAssistantMessage(id, conversationID string) Message {
	return Message{
		ID:             id,
		ConversationID: conversationID,
		Role:           RoleAssistant,
		CreatedAt:      time.Now(),
	}
}

// TextContent returns the concatenated text of all text parts.
func (m Message) TextContent() string {
	return JoinText(m.Parts, PartText)
}

// ReasoningContent returns the concatenated text of all reasoning parts.
func (m Message) ReasoningContent() string {
	return JoinText(m.Parts, PartReasoning)
}

// HasDonePart reports whether any part has reached its final state.
// For assistant messages this is the normal persistence-eligibility
// signal; transports that only deliver a single final block rely on the
// force flag instead.
func (m Message) HasDonePart() bool {
	for _, p := range m.Parts {
		if p.Type == PartText && p.State == PartDone {
			return true
		}
	}
	return false
}

// RenderParts returns the parts that belong in the transcript view
// (text and reasoning only). Persistence operates on the unfiltered
// Parts slice; rendering and persistence are separate views of the
// same message.
func (m Message) RenderParts() []Part {
	return FilterParts(m.Parts, Part.Renderable)
}

// Clone returns a deep copy of the message. Merged render lists are
// built from clones so that cache entries are never mutated in place.
func (m Message) Clone() Message {
	out := m
	if m.Parts != nil {
		out.Parts = make([]Part, len(m.Parts))
		copy(out.Parts, m.Parts)
	}
	if m.Metadata != nil {
		md := *m.Metadata
		if m.Metadata.Usage != nil {
			usage := *m.Metadata.Usage
			md.Usage = &usage
		}
		out.Metadata = &md
	}
	return out
}

// AppendTextDelta grows the trailing streaming text part, creating one
// if the message has none. Delta events are trusted to arrive in
// emission order.
func (m *Message) AppendTextDelta(delta string) {
	for i := len(m.Parts) - 1; i >= 0; i-- {
		if m.Parts[i].Type == PartText && m.Parts[i].State == PartStreaming {
			m.Parts[i].Text += delta
			return
		}
	}
	m.Parts = append(m.Parts, TextPart(delta, PartStreaming))
}

// AppendReasoningDelta grows the trailing reasoning part, creating one
// if the message has none.
func (m *Message) AppendReasoningDelta(delta string) {
	for i := len(m.Parts) - 1; i >= 0; i-- {
		if m.Parts[i].Type == PartReasoning {
			m.Parts[i].Text += delta
			return
		}
	}
	m.Parts = append(m.Parts, ReasoningPart(delta))
}

// FinalizeText marks all streaming text parts done.
func (m *Message) FinalizeText() {
	for i := range m.Parts {
		if m.Parts[i].Type == PartText && m.Parts[i].State == PartStreaming {
			m.Parts[i].State = PartDone
		}
	}
}

// Preview returns a truncated preview of the message text.
// Uses rune-based truncation to handle Unicode correctly.
func (m Message) Preview(maxLen int) string {
	content := m.TextContent()
	runes := []rune(content)
	if len(runes) <= maxLen {
		return content
	}
	return string(runes[:maxLen-3]) + "..."
}
