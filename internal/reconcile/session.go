// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

package reconcile

import (
	"sync"

	"github.com/kestrelworks/loom-tui/internal/model"
)

// =============================================================================
// SESSION
// =============================================================================

// Session holds the reconciliation state for the active conversation.
// A conversation switch resets it wholesale; nothing here survives the
// switch except what storage already has.
type Session struct {
	mu sync.Mutex

	conversationID string

	// seen tracks message IDs whose save has been started. An ID is
	// claimed before the save is awaited, so a second flush pass that
	// runs while the first save is still in flight skips the message.
	seen map[string]struct{}

	// Completion notification state. The final text from the backend
	// supersedes whatever the stream accumulated.
	completeText  string
	completeUsage *model.TokenUsage
	hasCompletion bool

	// forceSave makes the last assistant message flush-eligible even
	// when no part has finished, covering streams that end without a
	// terminal part-state transition.
	forceSave bool
}

// NewSession creates an empty session.
func NewSession() *Session {
	return &Session{seen: make(map[string]struct{})}
}

// Reset clears all state and binds the session to a conversation.
func (s *Session) Reset(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationID = conversationID
	s.seen = make(map[string]struct{})
	s.completeText = ""
	s.completeUsage = nil
	s.hasCompletion = false
	s.forceSave = false
}

// ConversationID returns the conversation this session is bound to.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// =============================================================================
// SEEN SET
// =============================================================================

// MarkSeen claims a message ID for saving. It returns false when the ID
// was already claimed, in which case the caller must not save it again.
func (s *Session) MarkSeen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = struct{}{}
	return true
}

// Unsee releases a claimed ID so a later pass can retry the save, used
// when a save fails or when the completion notification requires the
// last assistant message to be re-saved with its final text.
func (s *Session) Unsee(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, id)
}

// Seen reports whether an ID has been claimed.
func (s *Session) Seen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[id]
	return ok
}

// =============================================================================
// COMPLETION NOTIFICATION
// =============================================================================

// SetCompletion records the backend's authoritative final text and
// usage, and forces the next flush of the last assistant message.
func (s *Session) SetCompletion(text string, usage *model.TokenUsage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completeText = text
	if usage != nil {
		u := *usage
		s.completeUsage = &u
	}
	s.hasCompletion = true
	s.forceSave = true
}

// Completion returns the recorded completion notification, if any.
func (s *Session) Completion() (text string, usage *model.TokenUsage, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completeText, s.completeUsage, s.hasCompletion
}

// ClearCompletion drops a consumed completion notification. Once the
// final text is persisted and re-fetched, leaving it in place would
// make the next turn's assistant message flush-eligible with the prior
// turn's text.
func (s *Session) ClearCompletion() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completeText = ""
	s.completeUsage = nil
	s.hasCompletion = false
	s.forceSave = false
}

// =============================================================================
// MERGE
// =============================================================================

// Merge combines persisted messages with the live streaming view.
//
// Persisted messages come first in their stored order. Live messages
// already present in the persisted set are dropped; the rest are
// appended in live order. When a completion notification is pending,
// the last live assistant message is replaced by a derived view whose
// reasoning parts are kept and whose text collapses to a single done
// part holding the authoritative final text. The inputs are never
// mutated.
func (s *Session) Merge(persisted, live []model.Message) []model.Message {
	persistedIDs := make(map[string]struct{}, len(persisted))
	for _, m := range persisted {
		persistedIDs[m.ID] = struct{}{}
	}

	merged := make([]model.Message, 0, len(persisted)+len(live))
	merged = append(merged, persisted...)

	s.mu.Lock()
	hasCompletion := s.hasCompletion
	completeText := s.completeText
	completeUsage := s.completeUsage
	s.mu.Unlock()

	lastAssistant := lastAssistantIndex(live)
	for i, m := range live {
		if _, dup := persistedIDs[m.ID]; dup {
			continue
		}
		if hasCompletion && i == lastAssistant {
			m = injectCompletion(m, completeText, completeUsage)
		}
		merged = append(merged, m)
	}

	return merged
}

// lastAssistantIndex returns the index of the last assistant message,
// or -1 when there is none.
func lastAssistantIndex(msgs []model.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleAssistant {
			return i
		}
	}
	return -1
}

// injectCompletion builds the derived view of an assistant message with
// the completion notification applied.
func injectCompletion(msg model.Message, text string, usage *model.TokenUsage) model.Message {
	out := msg.Clone()

	parts := make([]model.Part, 0, len(out.Parts))
	for _, p := range out.Parts {
		if p.Type == model.PartReasoning {
			parts = append(parts, p)
		}
	}
	parts = append(parts, model.TextPart(text, model.PartDone))
	out.Parts = parts

	if usage != nil {
		if out.Metadata == nil {
			out.Metadata = &model.Metadata{}
		}
		existing := model.TokenUsage{}
		if out.Metadata.Usage != nil {
			existing = *out.Metadata.Usage
		}
		merged := existing.Merge(*usage)
		out.Metadata.Usage = &merged
	}

	return out
}

// =============================================================================
// FLUSH ELIGIBILITY
// =============================================================================

// FlushEligible reports whether a live message may be persisted now.
// User messages are complete by construction; assistant messages wait
// for a done part unless a completion notification forced the save.
func (s *Session) FlushEligible(msg model.Message) bool {
	if msg.Role == model.RoleUser {
		return true
	}
	if msg.HasDonePart() {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forceSave
}
