// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

package title

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/kestrelworks/loom-tui/internal/model"
	"github.com/kestrelworks/loom-tui/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// maxTitleLen caps generated titles, ellipsis included.
	maxTitleLen = 50

	// fallbackLen caps fallback titles derived from the message text.
	fallbackLen = 30

	// minTitleLen rejects degenerate model output.
	minTitleLen = 3

	// Context-change throttles.
	minTotalMessages   = 6
	minMessagesBetween = 4
	minCheckInterval   = 60 * time.Second

	// contextWindow is how many trailing messages the change check sees.
	contextWindow = 6
)

const initialTitleSystem = `Generate a concise, descriptive title (3-8 words) for this chat based on the user's first message. Focus on the main topic or question being asked. Return only the title without quotes or extra formatting.`

const contextChangeSystem = `You are analyzing conversation context changes. Be conservative - only suggest title changes when there's a clear, significant shift in the main topic of discussion.`

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// TextGenerator produces a single non-streamed completion.
type TextGenerator interface {
	GenerateText(ctx context.Context, system, prompt string) (string, error)
}

// ConversationStore is the slice of persistence the title manager needs.
type ConversationStore interface {
	GetConversation(ctx context.Context, id string) (model.Conversation, error)
	UpdateConversationTitle(ctx context.Context, id, title string) (model.Conversation, error)
}

// =============================================================================
// MANAGER
// =============================================================================

// convState is the per-conversation title bookkeeping.
type convState struct {
	titleGenerated   bool
	messagesSinceRun int
	lastRun          time.Time
}

// Manager owns title generation state across conversations.
type Manager struct {
	mu     sync.Mutex
	store  ConversationStore
	states map[string]*convState

	// now is injected for throttle tests.
	now func() time.Time
}

// NewManager creates a title manager.
func NewManager(store ConversationStore) *Manager {
	return &Manager{
		store:  store,
		states: make(map[string]*convState),
		now:    time.Now,
	}
}

// state returns (creating if needed) the bookkeeping for a conversation.
// Callers must hold mu.
func (m *Manager) state(conversationID string) *convState {
	st, ok := m.states[conversationID]
	if !ok {
		st = &convState{lastRun: m.now()}
		m.states[conversationID] = st
	}
	return st
}

// Reset clears the bookkeeping for a conversation, e.g. on deletion.
func (m *Manager) Reset(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, conversationID)
}

// TitleGenerated reports whether the initial title attempt has run.
func (m *Manager) TitleGenerated(conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[conversationID]
	return ok && st.titleGenerated
}

// MarkTitleGenerated records that a title already exists, used when
// opening a conversation that was titled in an earlier session.
func (m *Manager) MarkTitleGenerated(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state(conversationID).titleGenerated = true
}

// =============================================================================
// INITIAL TITLE
// =============================================================================

// GenerateInitialTitle derives a title from the first user message and
// persists it. The attempt is claimed before the model call, so a
// failure is not retried within the session: the fallback truncation is
// persisted instead and the conversation keeps it until something
// better comes along.
func (m *Manager) GenerateInitialTitle(ctx context.Context, gen TextGenerator, conversationID string, firstMessage model.Message) (string, error) {
	m.mu.Lock()
	st := m.state(conversationID)
	if st.titleGenerated {
		m.mu.Unlock()
		return "", nil
	}
	st.titleGenerated = true
	m.mu.Unlock()

	messageText := cleanMessageText(firstMessage.TextContent())
	if messageText == "" {
		return model.DefaultTitle, nil
	}

	title := fallbackTitle(messageText)

	raw, err := gen.GenerateText(ctx, initialTitleSystem, messageText)
	if err != nil {
		log.Printf("title: generation failed for %s, using fallback: %v", conversationID, err)
	} else {
		cleaned := util.TruncateRunes(cleanTitle(raw), maxTitleLen)
		if len(cleaned) >= minTitleLen {
			title = cleaned
		}
	}

	if _, err := m.store.UpdateConversationTitle(ctx, conversationID, title); err != nil {
		return title, fmt.Errorf("failed to persist title: %w", err)
	}
	return title, nil
}

// fallbackTitle truncates the message text into a usable title.
func fallbackTitle(messageText string) string {
	if messageText == "" {
		return model.DefaultTitle
	}
	return util.TruncateRunes(messageText, fallbackLen)
}

// cleanMessageText normalizes and flattens message text for prompting.
// UNICODE: NFC normalization keeps combining sequences stable across
// platforms before truncation decisions.
func cleanMessageText(text string) string {
	return strings.TrimSpace(util.SingleLine(norm.NFC.String(text)))
}

// cleanTitle strips wrapping quotes and whitespace from model output.
func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	title = strings.Trim(title, `"'`)
	return strings.TrimSpace(title)
}

// =============================================================================
// CONTEXT CHANGE DETECTION
// =============================================================================

// RecordActivity notes that the merged transcript grew, feeding the
// context-change throttle.
func (m *Manager) RecordActivity(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state(conversationID).messagesSinceRun++
}

// DetectContextChange asks the model whether the conversation has
// drifted from its current title and, when it clearly has, persists the
// suggested replacement.
//
// The check is throttled: it needs the initial title, at least
// minTotalMessages in the transcript, minMessagesBetween messages since
// the last run, and minCheckInterval of wall-clock time. The model's
// reply must be exactly "NO_CHANGE" or a "NEW_TITLE:" line; anything
// else leaves the title untouched.
func (m *Manager) DetectContextChange(ctx context.Context, gen TextGenerator, conversationID string, messages []model.Message) (newTitle string, changed bool, err error) {
	m.mu.Lock()
	st := m.state(conversationID)
	eligible := st.titleGenerated &&
		len(messages) >= minTotalMessages &&
		st.messagesSinceRun >= minMessagesBetween &&
		m.now().Sub(st.lastRun) > minCheckInterval
	m.mu.Unlock()

	if !eligible {
		return "", false, nil
	}

	conv, err := m.store.GetConversation(ctx, conversationID)
	if err != nil {
		return "", false, fmt.Errorf("failed to load conversation: %w", err)
	}
	currentTitle := conv.Title

	raw, err := gen.GenerateText(ctx, contextChangeSystem, contextChangePrompt(currentTitle, messages))
	if err != nil {
		return "", false, fmt.Errorf("context change check failed: %w", err)
	}

	response := strings.TrimSpace(raw)
	if response == "NO_CHANGE" {
		return "", false, nil
	}
	if !strings.HasPrefix(response, "NEW_TITLE:") {
		// Malformed output; keep the current title.
		return "", false, nil
	}

	cleaned := cleanTitle(strings.TrimPrefix(response, "NEW_TITLE:"))
	if len(cleaned) < minTitleLen || cleaned == currentTitle {
		return "", false, nil
	}

	if _, err := m.store.UpdateConversationTitle(ctx, conversationID, cleaned); err != nil {
		return "", false, fmt.Errorf("failed to persist title: %w", err)
	}

	m.mu.Lock()
	st.messagesSinceRun = 0
	st.lastRun = m.now()
	m.mu.Unlock()

	return cleaned, true, nil
}

// contextChangePrompt renders the change-detection prompt over the
// trailing context window.
func contextChangePrompt(currentTitle string, messages []model.Message) string {
	window := messages
	if len(window) > contextWindow {
		window = window[len(window)-contextWindow:]
	}

	var lines []string
	for _, msg := range window {
		lines = append(lines, fmt.Sprintf("%s: %s", msg.Role, msg.TextContent()))
	}

	return fmt.Sprintf(`Current conversation title: %q

Recent conversation:
%s

Based on the recent conversation, has the main topic or context significantly changed from what the title suggests?

If yes, suggest a new title that better reflects the current topic (3-8 words, no quotes).
If no, respond with "NO_CHANGE".

Response format:
- If context changed: NEW_TITLE: [your suggested title]
- If context unchanged: NO_CHANGE`, currentTitle, strings.Join(lines, "\n"))
}
