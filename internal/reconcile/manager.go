// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

package reconcile

import (
	"context"
	"fmt"
	"log"

	"github.com/kestrelworks/loom-tui/internal/cache"
	"github.com/kestrelworks/loom-tui/internal/model"
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// MessageStore is the slice of the persistence layer the reconciler
// needs.
type MessageStore interface {
	SaveCompleteMessage(ctx context.Context, conversationID string, msg model.Message) error
	GetMessages(ctx context.Context, conversationID string) ([]model.Message, error)
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager drives reconciliation for the active conversation: it loads
// history cache-first, merges it with the live view, flushes completed
// live messages, and refreshes the cache from storage after each flush.
type Manager struct {
	store   MessageStore
	cache   *cache.ConversationCache
	session *Session
}

// NewManager creates a reconciliation manager.
func NewManager(store MessageStore, c *cache.ConversationCache) *Manager {
	return &Manager{
		store:   store,
		cache:   c,
		session: NewSession(),
	}
}

// Session exposes the underlying session, mainly for completion
// notification delivery and tests.
func (m *Manager) Session() *Session {
	return m.session
}

// SwitchConversation resets all per-conversation state. Cached history
// for other conversations is kept; only the reconciliation state is
// scoped to the active conversation.
func (m *Manager) SwitchConversation(conversationID string) {
	m.session.Reset(conversationID)
}

// =============================================================================
// LOADING
// =============================================================================

// LoadMessages returns a conversation's persisted history, serving from
// the cache when fresh and falling back to storage on a miss. The
// fetched history is cached for subsequent loads.
func (m *Manager) LoadMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	if msgs, ok := m.cache.Get(conversationID); ok {
		return msgs, nil
	}

	msgs, err := m.store.GetMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	m.cache.Set(conversationID, msgs, true)
	return msgs, nil
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// ProcessLive reconciles the live streaming view against persisted
// history and returns the merged transcript.
//
// Completed live messages not yet persisted are flushed to storage.
// Each ID is claimed before its save is awaited, so a reconcile pass
// that overlaps an in-flight save never duplicates it. After any flush
// the history is re-fetched from storage and the cache refreshed, so
// the merge that callers see always reflects what actually persisted.
func (m *Manager) ProcessLive(ctx context.Context, conversationID string, live []model.Message) ([]model.Message, error) {
	persisted, err := m.LoadMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	// The seen set, not db presence, gates the flush: the completion
	// notification releases the last assistant's claim so its re-save
	// upserts the authoritative final text over the partial row.
	lastAssistant := lastAssistantIndex(live)
	flushed := false
	completionFlushed := false
	var flushErr error
	for i, msg := range live {
		if !m.session.FlushEligible(msg) {
			continue
		}
		if !m.session.MarkSeen(msg.ID) {
			continue
		}

		toSave := msg
		if i == lastAssistant {
			toSave = m.prepareForSave(msg)
		}
		if err := m.store.SaveCompleteMessage(ctx, conversationID, toSave); err != nil {
			// Release the claim so the next pass retries.
			m.session.Unsee(msg.ID)
			log.Printf("reconcile: save failed for message %s: %v", msg.ID, err)
			if flushErr == nil {
				flushErr = err
			}
			continue
		}
		flushed = true
		if i == lastAssistant {
			if _, _, ok := m.session.Completion(); ok {
				completionFlushed = true
			}
		}
	}

	if flushed {
		fresh, err := m.store.GetMessages(ctx, conversationID)
		if err != nil {
			// The save went through; serve the stale merge rather than
			// failing the whole pass.
			log.Printf("reconcile: refetch after flush failed: %v", err)
		} else {
			m.cache.Set(conversationID, fresh, true)
			persisted = fresh
			// The final text now lives in the persisted list; keeping
			// the completion around would leak it into the next turn's
			// merge and flush eligibility.
			if completionFlushed {
				m.session.ClearCompletion()
			}
		}
	}

	return m.session.Merge(persisted, live), flushErr
}

// prepareForSave applies the completion notification to the message
// about to be persisted, so storage receives the authoritative final
// text instead of the partial stream accumulation.
func (m *Manager) prepareForSave(msg model.Message) model.Message {
	if msg.Role != model.RoleAssistant {
		return msg
	}
	text, usage, ok := m.session.Completion()
	if !ok {
		return msg
	}
	return injectCompletion(msg, text, usage)
}

// =============================================================================
// COMPLETION NOTIFICATION
// =============================================================================

// HandleResponseFinished applies the backend's completion notification:
// the final text and usage are recorded, and the last assistant
// message's save claim is released so the next reconcile pass re-saves
// it with the authoritative content.
func (m *Manager) HandleResponseFinished(text string, usage *model.TokenUsage, lastAssistantID string) {
	m.session.SetCompletion(text, usage)
	if lastAssistantID != "" {
		m.session.Unsee(lastAssistantID)
	}
}
