// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"errors"
	"testing"
)

// =============================================================================
// PART UNION TESTS
// =============================================================================

func TestPart_UnmarshalKnownTypes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want PartType
	}{
		{"text", `{"type":"text","text":"hi","state":"done"}`, PartText},
		{"reasoning", `{"type":"reasoning","text":"because"}`, PartReasoning},
		{"file", `{"type":"file","filename":"a.png","media_type":"image/png"}`, PartFile},
		{"step marker", `{"type":"step-marker"}`, PartStepMarker},
	}

	for _, tc := range tests {
		var p Part
		if err := json.Unmarshal([]byte(tc.in), &p); err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
			continue
		}
		if p.Type != tc.want {
			t.Errorf("%s: Type = %q, want %q", tc.name, p.Type, tc.want)
		}
	}
}

func TestPart_UnmarshalRejectsUnknownType(t *testing.T) {
	var p Part
	err := json.Unmarshal([]byte(`{"type":"tool-call","text":"x"}`), &p)
	if err == nil {
		t.Fatal("expected error for unknown part type")
	}
	if !errors.Is(err, ErrUnknownPartType) {
		t.Errorf("error = %v, want ErrUnknownPartType", err)
	}
}

func TestPart_Renderable(t *testing.T) {
	if !TextPart("x", PartDone).Renderable() {
		t.Error("text part should be renderable")
	}
	if !ReasoningPart("x").Renderable() {
		t.Error("reasoning part should be renderable")
	}
	if (Part{Type: PartStepMarker}).Renderable() {
		t.Error("step marker should not be renderable")
	}
	if FilePart("a.png", "image/png").Renderable() {
		t.Error("file part should not be renderable")
	}
}

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestMessage_TextContent(t *testing.T) {
	m := NewAssistantMessage("m1", "c1")
	m.Parts = []Part{
		ReasoningPart("thinking"),
		TextPart("Hello ", PartDone),
		TextPart("world", PartDone),
	}

	if got := m.TextContent(); got != "Hello world" {
		t.Errorf("TextContent = %q, want %q", got, "Hello world")
	}
	if got := m.ReasoningContent(); got != "thinking" {
		t.Errorf("ReasoningContent = %q, want %q", got, "thinking")
	}
}

func TestMessage_AppendTextDelta(t *testing.T) {
	m := NewAssistantMessage("m1", "c1")

	m.AppendTextDelta("He")
	m.AppendTextDelta("llo")

	if len(m.Parts) != 1 {
		t.Fatalf("expected one streaming part, got %d", len(m.Parts))
	}
	if m.Parts[0].Text != "Hello" {
		t.Errorf("streamed text = %q, want %q", m.Parts[0].Text, "Hello")
	}
	if m.Parts[0].State != PartStreaming {
		t.Errorf("state = %q, want streaming", m.Parts[0].State)
	}

	m.FinalizeText()
	if m.Parts[0].State != PartDone {
		t.Errorf("state after finalize = %q, want done", m.Parts[0].State)
	}
	if !m.HasDonePart() {
		t.Error("HasDonePart should be true after finalize")
	}
}

func TestMessage_RenderPartsFiltersStructural(t *testing.T) {
	m := NewAssistantMessage("m1", "c1")
	m.Parts = []Part{
		{Type: PartStepMarker},
		ReasoningPart("r"),
		TextPart("t", PartDone),
		FilePart("a.png", "image/png"),
	}

	rendered := m.RenderParts()
	if len(rendered) != 2 {
		t.Fatalf("RenderParts len = %d, want 2", len(rendered))
	}
	if rendered[0].Type != PartReasoning || rendered[1].Type != PartText {
		t.Errorf("RenderParts kept wrong parts: %+v", rendered)
	}
	// Persistence view is untouched.
	if len(m.Parts) != 4 {
		t.Errorf("original Parts len = %d, want 4", len(m.Parts))
	}
}

func TestMessage_CloneIsDeep(t *testing.T) {
	m := NewAssistantMessage("m1", "c1")
	m.Parts = []Part{TextPart("x", PartStreaming)}
	m.Metadata = &Metadata{Usage: &TokenUsage{TotalTokens: 7}}

	c := m.Clone()
	c.Parts[0].Text = "changed"
	c.Metadata.Usage.TotalTokens = 99

	if m.Parts[0].Text != "x" {
		t.Error("Clone shares Parts backing array")
	}
	if m.Metadata.Usage.TotalTokens != 7 {
		t.Error("Clone shares Metadata")
	}
}

func TestTokenUsage_Merge(t *testing.T) {
	base := TokenUsage{InputTokens: 10, TotalTokens: 15}
	merged := base.Merge(TokenUsage{OutputTokens: 5, TotalTokens: 42})

	if merged.InputTokens != 10 {
		t.Errorf("InputTokens = %d, want 10", merged.InputTokens)
	}
	if merged.OutputTokens != 5 {
		t.Errorf("OutputTokens = %d, want 5", merged.OutputTokens)
	}
	if merged.TotalTokens != 42 {
		t.Errorf("TotalTokens = %d, want 42", merged.TotalTokens)
	}
}

func TestConversation_DisplayTitle(t *testing.T) {
	c := Conversation{}
	if c.DisplayTitle() != DefaultTitle {
		t.Errorf("empty title should display %q", DefaultTitle)
	}
	c.Title = "Go concurrency questions"
	if c.DisplayTitle() != "Go concurrency questions" {
		t.Errorf("DisplayTitle = %q", c.DisplayTitle())
	}
}
