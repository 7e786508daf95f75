// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// A Message is a sequence of typed Parts (text, reasoning, file, step
// marker). Parts form a closed tagged union: unknown part types are
// rejected at decode time rather than passed through untyped.
//
// # Key Types
//
//   - Conversation: chat metadata (title, model, archived flag)
//   - Message: one turn, identified by an opaque ID used for de-duplication
//   - Part: tagged union of message content
//   - TokenUsage: token accounting delivered after a turn completes
//
// Message IDs are the de-duplication key across the persisted store and
// the live stream: within one conversation's rendered list each ID appears
// at most once.
package model
