// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// =============================================================================
// PART TYPES
// =============================================================================

// PartType identifies the kind of content a Part carries.
type PartType string

const (
	// PartText is ordinary message text, possibly still streaming.
	PartText PartType = "text"
	// PartReasoning is model reasoning/thinking content.
	PartReasoning PartType = "reasoning"
	// PartFile is an attached file reference.
	PartFile PartType = "file"
	// PartStepMarker is a structural marker from the transport protocol.
	// It is carried through persistence but never rendered.
	PartStepMarker PartType = "step-marker"
)

// PartState tracks the lifecycle of a text part.
type PartState string

const (
	// PartStreaming means the part's content is still growing.
	PartStreaming PartState = "streaming"
	// PartDone means the part is final and eligible for persistence.
	PartDone PartState = "done"
)

// ErrUnknownPartType is returned when decoding a part with an
// unrecognized type tag.
var ErrUnknownPartType = errors.New("unknown part type")

// =============================================================================
// PART
// =============================================================================

// Part is one element of a message's content.
//
// Part is a closed tagged union: Type selects which of the remaining
// fields are meaningful. Decoding rejects unknown tags explicitly.
//
//   - PartText: Text and State are set
//   - PartReasoning: Text is set
//   - PartFile: Filename and MediaType are set
//   - PartStepMarker: no payload
type Part struct {
	Type PartType `json:"type"`

	// Text content (PartText, PartReasoning)
	Text  string    `json:"text,omitempty"`
	State PartState `json:"state,omitempty"`

	// File attachment (PartFile)
	Filename  string `json:"filename,omitempty"`
	MediaType string `json:"media_type,omitempty"`
}

// TextPart creates a text part in the given state.
func TextPart(text string, state PartState) Part {
	return Part{Type: PartText, Text: text, State: state}
}

// ReasoningPart creates a reasoning part.
func ReasoningPart(text string) Part {
	return Part{Type: PartReasoning, Text: text}
}

// FilePart creates a file attachment part.
func FilePart(filename, mediaType string) Part {
	return Part{Type: PartFile, Filename: filename, MediaType: mediaType}
}

// IsDone reports whether a text part has reached its final state.
// Non-text parts are complete by construction.
func (p Part) IsDone() bool {
	if p.Type != PartText {
		return true
	}
	return p.State == PartDone
}

// Renderable reports whether the part should appear in the rendered
// message list. Structural markers and files are handled elsewhere;
// only text and reasoning flow into the transcript view.
func (p Part) Renderable() bool {
	return p.Type == PartText || p.Type == PartReasoning
}

// Validate checks that the part carries a known type tag.
func (p Part) Validate() error {
	switch p.Type {
	case PartText, PartReasoning, PartFile, PartStepMarker:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPartType, p.Type)
	}
}

// partAlias avoids UnmarshalJSON recursion.
type partAlias Part

// UnmarshalJSON decodes a part and rejects unknown type tags.
func (p *Part) UnmarshalJSON(data []byte) error {
	var a partAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	decoded := Part(a)
	if err := decoded.Validate(); err != nil {
		return err
	}
	*p = decoded
	return nil
}

// =============================================================================
// PART HELPERS
// =============================================================================

// JoinText concatenates the text of all parts with the given type,
// in order.
func JoinText(parts []Part, typ PartType) string {
	var out string
	for _, p := range parts {
		if p.Type == typ {
			out += p.Text
		}
	}
	return out
}

// FilterParts returns the parts matching the predicate, preserving order.
// The input slice is never modified.
func FilterParts(parts []Part, keep func(Part) bool) []Part {
	var out []Part
	for _, p := range parts {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}
