// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cache provides the in-memory per-conversation message cache.
package cache

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kestrelworks/loom-tui/internal/model"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultTTL is how long a cached history stays fresh.
	DefaultTTL = 5 * time.Minute

	// DefaultPreloadConcurrency is the preload batch size.
	DefaultPreloadConcurrency = 2

	// DefaultRecentLimit is how many recent conversations RecentIDs returns.
	DefaultRecentLimit = 5

	// preloadBatchInterval paces preload batches to bound concurrent
	// backend load.
	preloadBatchInterval = 100 * time.Millisecond
)

// =============================================================================
// CACHE ENTRY
// =============================================================================

// entry is one cached conversation history.
type entry struct {
	messages      []model.Message
	lastFetchedAt time.Time
	isComplete    bool
}

// FetchFunc loads a conversation's messages from the backing store.
type FetchFunc func(ctx context.Context, conversationID string) ([]model.Message, error)

// =============================================================================
// CONVERSATION CACHE
// =============================================================================

// ConversationCache caches per-conversation message histories with a
// freshness TTL, plus a snapshot of the conversation listing used to
// decide which neighbors to preload.
//
// All state is guarded by a single mutex; the cache issues no I/O of
// its own.
type ConversationCache struct {
	mu            sync.Mutex
	entries       map[string]*entry
	conversations []model.Conversation
	preloading    map[string]struct{}

	ttl     time.Duration
	limiter *rate.Limiter

	// now is injected for TTL tests.
	now func() time.Time
}

// New creates a cache with the default TTL.
func New() *ConversationCache {
	return NewWithTTL(DefaultTTL)
}

// NewWithTTL creates a cache with a custom freshness TTL.
func NewWithTTL(ttl time.Duration) *ConversationCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ConversationCache{
		entries:    make(map[string]*entry),
		preloading: make(map[string]struct{}),
		ttl:        ttl,
		limiter:    rate.NewLimiter(rate.Every(preloadBatchInterval), 1),
		now:        time.Now,
	}
}

// =============================================================================
// MESSAGE OPERATIONS
// =============================================================================

// Get returns the cached messages for a conversation if the entry
// exists and is fresh. A stale entry is removed as a side effect and
// reported as absent. The returned slice must be treated as read-only.
func (c *ConversationCache) Get(conversationID string) ([]model.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[conversationID]
	if !ok {
		return nil, false
	}

	if c.now().Sub(e.lastFetchedAt) > c.ttl {
		delete(c.entries, conversationID)
		return nil, false
	}

	return e.messages, true
}

// Set replaces a conversation's entry wholesale, stamping the current
// time. The messages slice is copied so later caller mutations cannot
// reach into the cache.
func (c *ConversationCache) Set(conversationID string, messages []model.Message, isComplete bool) {
	copied := make([]model.Message, len(messages))
	copy(copied, messages)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[conversationID] = &entry{
		messages:      copied,
		lastFetchedAt: c.now(),
		isComplete:    isComplete,
	}
}

// Append optimistically adds one message to an existing entry. It is a
// no-op when no entry exists: the caller must Set after its first
// fetch before appending.
func (c *ConversationCache) Append(conversationID string, msg model.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[conversationID]
	if !ok {
		return
	}
	e.messages = append(e.messages, msg)
	e.lastFetchedAt = c.now()
}

// UpdateMessage replaces the parts of a cached message, used for
// optimistic streaming updates.
func (c *ConversationCache) UpdateMessage(conversationID, messageID string, parts []model.Part) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[conversationID]
	if !ok {
		return
	}
	for i := range e.messages {
		if e.messages[i].ID == messageID {
			updated := e.messages[i].Clone()
			updated.Parts = parts
			e.messages[i] = updated
			return
		}
	}
}

// HasData reports whether any entry exists for the conversation,
// regardless of freshness.
func (c *ConversationCache) HasData(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[conversationID]
	return ok
}

// Clear removes a single conversation's entry, e.g. on deletion.
func (c *ConversationCache) Clear(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, conversationID)
}

// ClearAll resets the cache and the conversation listing.
func (c *ConversationCache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.conversations = nil
}

// =============================================================================
// CONVERSATION LISTING
// =============================================================================

// SetConversations stores the last-known conversation ordering, which
// drives AdjacentIDs and RecentIDs.
func (c *ConversationCache) SetConversations(conversations []model.Conversation) {
	copied := make([]model.Conversation, len(conversations))
	copy(copied, conversations)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversations = copied
}

// Conversations returns the last-known conversation listing.
func (c *ConversationCache) Conversations() []model.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Conversation, len(c.conversations))
	copy(out, c.conversations)
	return out
}

// AdjacentIDs returns the neighbors of currentID in the last-known
// conversation ordering, used to warm the cache for likely-next
// navigation. Empty strings mean no neighbor on that side.
func (c *ConversationCache) AdjacentIDs(currentID string) (prev, next string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, conv := range c.conversations {
		if conv.ID != currentID {
			continue
		}
		if i > 0 {
			prev = c.conversations[i-1].ID
		}
		if i+1 < len(c.conversations) {
			next = c.conversations[i+1].ID
		}
		return prev, next
	}
	return "", ""
}

// RecentIDs returns up to limit most-recently-listed conversation IDs,
// excluding excludeID. Used for idle-time cache warming.
func (c *ConversationCache) RecentIDs(excludeID string, limit int) []string {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var ids []string
	for _, conv := range c.conversations {
		if conv.ID == excludeID {
			continue
		}
		ids = append(ids, conv.ID)
		if len(ids) >= limit {
			break
		}
	}
	return ids
}

// =============================================================================
// PRELOADING
// =============================================================================

// IsPreloading reports whether a conversation fetch is in flight.
func (c *ConversationCache) IsPreloading(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.preloading[conversationID]
	return ok
}

// PreloadingStatus returns the in-flight preload count and IDs.
func (c *ConversationCache) PreloadingStatus() (int, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.preloading))
	for id := range c.preloading {
		ids = append(ids, id)
	}
	return len(ids), ids
}

// Preload fetches and caches the given conversations in the background.
//
// IDs that are already cached or already being preloaded are skipped;
// the in-flight set is claimed under the lock before any fetch starts,
// so concurrent Preload calls invoke fetch at most once per ID. Work
// proceeds in batches of maxConcurrent with paced gaps between batches
// to bound concurrent backend load. One ID's failure never aborts the
// batch: it is logged and the ID stays absent so a later direct fetch
// can retry.
func (c *ConversationCache) Preload(ctx context.Context, ids []string, fetch FetchFunc, maxConcurrent int) {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultPreloadConcurrency
	}

	// Claim IDs before any await point; the check and the claim must
	// not be separated by a suspension or duplicate preloads slip in.
	c.mu.Lock()
	var toPreload []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, cached := c.entries[id]; cached {
			continue
		}
		if _, inFlight := c.preloading[id]; inFlight {
			continue
		}
		c.preloading[id] = struct{}{}
		toPreload = append(toPreload, id)
	}
	c.mu.Unlock()

	if len(toPreload) == 0 {
		return
	}

	for start := 0; start < len(toPreload); start += maxConcurrent {
		end := start + maxConcurrent
		if end > len(toPreload) {
			end = len(toPreload)
		}
		batch := toPreload[start:end]

		var wg sync.WaitGroup
		for _, id := range batch {
			wg.Add(1)
			go func(conversationID string) {
				defer wg.Done()
				defer c.finishPreload(conversationID)

				messages, err := fetch(ctx, conversationID)
				if err != nil {
					log.Printf("cache: preload failed for %s: %v", shortID(conversationID), err)
					return
				}
				c.Set(conversationID, messages, true)
			}(id)
		}
		wg.Wait()

		// Pace between batches; bail out if the caller is gone.
		if end < len(toPreload) {
			if err := c.limiter.Wait(ctx); err != nil {
				c.releasePending(toPreload[end:])
				return
			}
		}
	}
}

// finishPreload removes an ID from the in-flight set.
func (c *ConversationCache) finishPreload(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.preloading, conversationID)
}

// releasePending unclaims IDs whose batches never ran.
func (c *ConversationCache) releasePending(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.preloading, id)
	}
}

// shortID truncates an ID for log lines.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
