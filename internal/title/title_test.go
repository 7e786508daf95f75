// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

package title

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kestrelworks/loom-tui/internal/model"
)

// =============================================================================
// STUBS
// =============================================================================

// stubGenerator returns a canned response and counts calls.
type stubGenerator struct {
	response string
	err      error
	calls    int
}

func (g *stubGenerator) GenerateText(ctx context.Context, system, prompt string) (string, error) {
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	return g.response, nil
}

// stubStore holds one conversation title in memory.
type stubStore struct {
	title       string
	updateCalls int
	updateErr   error
}

func (s *stubStore) GetConversation(ctx context.Context, id string) (model.Conversation, error) {
	return model.Conversation{ID: id, Title: s.title}, nil
}

func (s *stubStore) UpdateConversationTitle(ctx context.Context, id, title string) (model.Conversation, error) {
	s.updateCalls++
	if s.updateErr != nil {
		return model.Conversation{}, s.updateErr
	}
	s.title = title
	return model.Conversation{ID: id, Title: title}, nil
}

func userMsg(text string) model.Message {
	return model.NewUserMessage("u1", "c1", text)
}

func transcript(n int) []model.Message {
	out := make([]model.Message, n)
	for i := range out {
		out[i] = model.NewUserMessage(string(rune('a'+i)), "c1", "message")
	}
	return out
}

// =============================================================================
// INITIAL TITLE TESTS
// =============================================================================

func TestGenerateInitialTitle(t *testing.T) {
	store := &stubStore{}
	gen := &stubGenerator{response: "Go Error Handling"}
	m := NewManager(store)

	title, err := m.GenerateInitialTitle(context.Background(), gen, "c1", userMsg("how do I wrap errors in Go?"))
	if err != nil {
		t.Fatalf("GenerateInitialTitle failed: %v", err)
	}
	if title != "Go Error Handling" {
		t.Errorf("title = %q", title)
	}
	if store.title != "Go Error Handling" {
		t.Errorf("persisted title = %q", store.title)
	}
	if !m.TitleGenerated("c1") {
		t.Error("conversation should be marked as titled")
	}
}

func TestGenerateInitialTitleOncePerSession(t *testing.T) {
	store := &stubStore{}
	gen := &stubGenerator{response: "A Title"}
	m := NewManager(store)

	if _, err := m.GenerateInitialTitle(context.Background(), gen, "c1", userMsg("hello")); err != nil {
		t.Fatal(err)
	}
	if _, err := m.GenerateInitialTitle(context.Background(), gen, "c1", userMsg("hello")); err != nil {
		t.Fatal(err)
	}

	if gen.calls != 1 {
		t.Errorf("generator called %d times, want 1", gen.calls)
	}
	if store.updateCalls != 1 {
		t.Errorf("store updated %d times, want 1", store.updateCalls)
	}
}

func TestGenerateInitialTitleCapsLength(t *testing.T) {
	long := strings.Repeat("word ", 20) // well past 50 chars
	store := &stubStore{}
	gen := &stubGenerator{response: long}
	m := NewManager(store)

	title, err := m.GenerateInitialTitle(context.Background(), gen, "c1", userMsg("hello"))
	if err != nil {
		t.Fatal(err)
	}

	want := strings.TrimSpace(long)[:47] + "..."
	if title != want {
		t.Errorf("title = %q, want %q", title, want)
	}
	if len(title) != 50 {
		t.Errorf("len(title) = %d, want 50", len(title))
	}
}

func TestGenerateInitialTitleFallbackOnError(t *testing.T) {
	msg := "this message is definitely longer than thirty characters"
	store := &stubStore{}
	gen := &stubGenerator{err: errors.New("model offline")}
	m := NewManager(store)

	title, err := m.GenerateInitialTitle(context.Background(), gen, "c1", userMsg(msg))
	if err != nil {
		t.Fatalf("fallback path should not error: %v", err)
	}

	want := msg[:27] + "..."
	if title != want {
		t.Errorf("title = %q, want %q", title, want)
	}
	if store.title != want {
		t.Errorf("persisted title = %q", store.title)
	}

	// A failed attempt is never retried in this session.
	if _, err := m.GenerateInitialTitle(context.Background(), gen, "c1", userMsg(msg)); err != nil {
		t.Fatal(err)
	}
	if gen.calls != 1 {
		t.Errorf("generator retried after failure: %d calls", gen.calls)
	}
}

func TestGenerateInitialTitleShortMessageFallback(t *testing.T) {
	store := &stubStore{}
	gen := &stubGenerator{err: errors.New("model offline")}
	m := NewManager(store)

	title, err := m.GenerateInitialTitle(context.Background(), gen, "c1", userMsg("short question"))
	if err != nil {
		t.Fatal(err)
	}
	if title != "short question" {
		t.Errorf("title = %q, want the message itself", title)
	}
}

func TestGenerateInitialTitleEmptyMessage(t *testing.T) {
	store := &stubStore{}
	gen := &stubGenerator{response: "should not be called"}
	m := NewManager(store)

	title, err := m.GenerateInitialTitle(context.Background(), gen, "c1", userMsg("   "))
	if err != nil {
		t.Fatal(err)
	}
	if title != model.DefaultTitle {
		t.Errorf("title = %q, want %q", title, model.DefaultTitle)
	}
	if gen.calls != 0 {
		t.Error("generator should not run on empty message")
	}
	if store.updateCalls != 0 {
		t.Error("empty message should not persist a title")
	}
}

func TestGenerateInitialTitleRejectsDegenerate(t *testing.T) {
	store := &stubStore{}
	gen := &stubGenerator{response: "ok"}
	m := NewManager(store)

	title, err := m.GenerateInitialTitle(context.Background(), gen, "c1", userMsg("tell me about goroutines"))
	if err != nil {
		t.Fatal(err)
	}
	// Two characters is below the minimum; the fallback wins.
	if title != "tell me about goroutines" {
		t.Errorf("title = %q", title)
	}
}

// =============================================================================
// CONTEXT CHANGE TESTS
// =============================================================================

// primedManager returns a manager with an established title and the
// clock far enough along for the interval gate.
func primedManager(store *stubStore) *Manager {
	m := NewManager(store)
	m.MarkTitleGenerated("c1")
	base := time.Now()
	m.now = func() time.Time { return base.Add(2 * time.Minute) }
	return m
}

func TestDetectContextChangeThrottledByCount(t *testing.T) {
	store := &stubStore{title: "Old Title"}
	gen := &stubGenerator{response: "NEW_TITLE: Something New"}
	m := primedManager(store)

	// Only 3 messages since the last run: below the threshold.
	for i := 0; i < 3; i++ {
		m.RecordActivity("c1")
	}

	_, changed, err := m.DetectContextChange(context.Background(), gen, "c1", transcript(8))
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("throttled check must not report a change")
	}
	if gen.calls != 0 {
		t.Errorf("generator called %d times during throttled check, want 0", gen.calls)
	}
}

func TestDetectContextChangeThrottledByTotal(t *testing.T) {
	store := &stubStore{title: "Old Title"}
	gen := &stubGenerator{response: "NEW_TITLE: Something New"}
	m := primedManager(store)

	for i := 0; i < 5; i++ {
		m.RecordActivity("c1")
	}

	// Transcript too short.
	if _, changed, _ := m.DetectContextChange(context.Background(), gen, "c1", transcript(4)); changed {
		t.Error("short transcript must not trigger a check")
	}
	if gen.calls != 0 {
		t.Error("generator should not run for short transcripts")
	}
}

func TestDetectContextChangeNoChange(t *testing.T) {
	store := &stubStore{title: "Old Title"}
	gen := &stubGenerator{response: "NO_CHANGE"}
	m := primedManager(store)

	for i := 0; i < 5; i++ {
		m.RecordActivity("c1")
	}

	_, changed, err := m.DetectContextChange(context.Background(), gen, "c1", transcript(8))
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("NO_CHANGE must leave the title alone")
	}
	if store.updateCalls != 0 {
		t.Error("NO_CHANGE must not touch the store")
	}
}

func TestDetectContextChangeNewTitle(t *testing.T) {
	store := &stubStore{title: "Old Title"}
	gen := &stubGenerator{response: `NEW_TITLE: "Rust Borrow Checker"`}
	m := primedManager(store)

	for i := 0; i < 5; i++ {
		m.RecordActivity("c1")
	}

	newTitle, changed, err := m.DetectContextChange(context.Background(), gen, "c1", transcript(8))
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("expected a title change")
	}
	if newTitle != "Rust Borrow Checker" {
		t.Errorf("newTitle = %q", newTitle)
	}
	if store.title != "Rust Borrow Checker" {
		t.Errorf("persisted title = %q", store.title)
	}

	// Counters reset; an immediate second check is throttled.
	if _, changed, _ := m.DetectContextChange(context.Background(), gen, "c1", transcript(8)); changed {
		t.Error("check right after an update must be throttled")
	}
}

func TestDetectContextChangeMalformedOutput(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"freeform text", "I think the topic has shifted to databases"},
		{"same title", "NEW_TITLE: Old Title"},
		{"degenerate title", "NEW_TITLE: x"},
		{"empty title", "NEW_TITLE:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &stubStore{title: "Old Title"}
			gen := &stubGenerator{response: tt.response}
			m := primedManager(store)

			for i := 0; i < 5; i++ {
				m.RecordActivity("c1")
			}

			_, changed, err := m.DetectContextChange(context.Background(), gen, "c1", transcript(8))
			if err != nil {
				t.Fatal(err)
			}
			if changed {
				t.Error("malformed output must not change the title")
			}
			if store.updateCalls != 0 {
				t.Error("malformed output must not touch the store")
			}
		})
	}
}

func TestDetectContextChangeRequiresInitialTitle(t *testing.T) {
	store := &stubStore{title: ""}
	gen := &stubGenerator{response: "NEW_TITLE: Whatever"}
	m := NewManager(store)
	base := time.Now()
	m.now = func() time.Time { return base.Add(2 * time.Minute) }

	for i := 0; i < 5; i++ {
		m.RecordActivity("c1")
	}

	if _, changed, _ := m.DetectContextChange(context.Background(), gen, "c1", transcript(8)); changed {
		t.Error("no check before the initial title exists")
	}
	if gen.calls != 0 {
		t.Error("generator should not run before the initial title exists")
	}
}
