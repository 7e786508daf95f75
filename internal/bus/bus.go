// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package bus provides the typed application event bus.
//
// The bus replaces ambient global pub/sub with an explicit, injectable
// emitter owned by the top-level application context and passed down to
// the components that need it. Two event kinds matter to the chat core:
// model selection changes and response-finished notifications.
package bus

import (
	"sync"
	"time"

	"github.com/kestrelworks/loom-tui/internal/model"
)

// =============================================================================
// EVENTS
// =============================================================================

// ModelSelected announces that the user picked a different model.
type ModelSelected struct {
	Model       string
	AdapterKind string
}

// ResponseFinished carries the authoritative final text and token
// accounting for a just-finished model turn. It is delivered separately
// from the incremental token stream and may arrive after the streamed
// message has already been rendered.
type ResponseFinished struct {
	Text           string
	TotalUsage     *model.TokenUsage
	ConversationID string
	Timestamp      time.Time
}

// =============================================================================
// BUS
// =============================================================================

// Bus is a synchronous publish/subscribe hub. Handlers run on the
// publishing goroutine; subscribers are expected to be cheap and to
// schedule their own follow-up work.
//
// Subscriptions are effectively permanent for a component's lifetime;
// the returned unsubscribe func is for teardown only.
type Bus struct {
	mu sync.Mutex

	nextID           int
	modelSelected    map[int]func(ModelSelected)
	responseFinished map[int]func(ResponseFinished)
}

// New creates an empty event bus.
func New() *Bus {
	return &Bus{
		modelSelected:    make(map[int]func(ModelSelected)),
		responseFinished: make(map[int]func(ResponseFinished)),
	}
}

// SubscribeModelSelected registers a handler for model selection events.
// The returned func removes the subscription.
func (b *Bus) SubscribeModelSelected(fn func(ModelSelected)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.modelSelected[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.modelSelected, id)
	}
}

// SubscribeResponseFinished registers a handler for completion
// notifications. The returned func removes the subscription.
func (b *Bus) SubscribeResponseFinished(fn func(ResponseFinished)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.responseFinished[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.responseFinished, id)
	}
}

// PublishModelSelected delivers the event to all current subscribers.
func (b *Bus) PublishModelSelected(ev ModelSelected) {
	for _, fn := range b.snapshotModelSelected() {
		fn(ev)
	}
}

// PublishResponseFinished delivers the event to all current subscribers.
func (b *Bus) PublishResponseFinished(ev ResponseFinished) {
	for _, fn := range b.snapshotResponseFinished() {
		fn(ev)
	}
}

// Handlers are invoked outside the lock so a handler may unsubscribe
// or publish without deadlocking.
func (b *Bus) snapshotModelSelected() []func(ModelSelected) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]func(ModelSelected), 0, len(b.modelSelected))
	for _, fn := range b.modelSelected {
		out = append(out, fn)
	}
	return out
}

func (b *Bus) snapshotResponseFinished() []func(ResponseFinished) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]func(ResponseFinished), 0, len(b.responseFinished))
	for _, fn := range b.responseFinished {
		out = append(out, fn)
	}
	return out
}
