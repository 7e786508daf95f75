// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides conversation persistence for loom.
//
// Conversations and messages live in a single SQLite database (pure Go
// driver, no cgo). Message parts and metadata are stored as JSON
// columns; the persisted form keeps structural parts that rendering
// filters out.
//
// # Key Types
//
//   - Store: the persistence collaborator consumed by the chat core
//
// # Usage
//
//	store, err := storage.Open(path)
//	conv, err := store.CreateConversation(ctx, "", "gpt-4o")
//	err = store.SaveCompleteMessage(ctx, conv.ID, msg)
//	msgs, err := store.GetMessages(ctx, conv.ID)
//
// # Storage Location
//
// The default database lives at ~/.loom/loom.db.
package storage
