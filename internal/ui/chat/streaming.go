// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// STREAMING BUFFER
// =============================================================================

const (
	// defaultBatchSize flushes after this many tokens regardless of
	// elapsed time.
	defaultBatchSize = 15

	// flushInterval caps the render rate at ~30fps. Re-rendering the
	// viewport per token wastes cycles the terminal cannot display.
	flushInterval = 33 * time.Millisecond
)

// StreamingBuffer batches incoming stream deltas so the transcript
// re-renders at most once per frame instead of once per token.
//
// PERFORMANCE: token streams can run at hundreds of events per second;
// coalescing them is the difference between a smooth transcript and a
// terminal drowning in redraws.
type StreamingBuffer struct {
	mu        sync.Mutex
	pending   strings.Builder
	tokens    int
	lastFlush time.Time
	batchSize int
}

// NewStreamingBuffer creates a buffer with the default batch size.
func NewStreamingBuffer() *StreamingBuffer {
	return &StreamingBuffer{
		batchSize: defaultBatchSize,
		lastFlush: time.Now(),
	}
}

// Write queues one delta for the next flush.
func (b *StreamingBuffer) Write(delta string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending.WriteString(delta)
	b.tokens++
}

// ShouldFlush reports whether a flush is due: enough tokens queued, or
// any tokens queued and a frame interval elapsed.
func (b *StreamingBuffer) ShouldFlush() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tokens == 0 {
		return false
	}
	return b.tokens >= b.batchSize || time.Since(b.lastFlush) >= flushInterval
}

// Flush returns the queued text when a flush is due, or "" otherwise.
func (b *StreamingBuffer) Flush() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tokens == 0 {
		return ""
	}
	if b.tokens < b.batchSize && time.Since(b.lastFlush) < flushInterval {
		return ""
	}
	return b.drainLocked()
}

// ForceFlush returns whatever is queued, due or not. Called at stream
// end so the tail of the response is never stranded in the buffer.
func (b *StreamingBuffer) ForceFlush() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drainLocked()
}

// drainLocked empties the buffer. Callers must hold mu.
func (b *StreamingBuffer) drainLocked() string {
	out := b.pending.String()
	b.pending.Reset()
	b.tokens = 0
	b.lastFlush = time.Now()
	return out
}

// Pending returns the number of queued tokens.
func (b *StreamingBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// Reset discards queued text, used when a stream is cancelled.
func (b *StreamingBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending.Reset()
	b.tokens = 0
	b.lastFlush = time.Now()
}

// =============================================================================
// FRAME TICK
// =============================================================================

// StreamTickMsg drives buffer flushes while a response streams.
type StreamTickMsg time.Time

// streamTickCmd schedules the next frame tick.
func streamTickCmd() tea.Cmd {
	return tea.Tick(flushInterval, func(t time.Time) tea.Msg {
		return StreamTickMsg(t)
	})
}
