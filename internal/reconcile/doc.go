// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package reconcile merges persisted conversation history with the live
// streaming view and decides when live messages are flushed to storage.
//
// The persisted history is authoritative for everything already saved;
// the live view is authoritative for the in-flight tail. Merge produces
// the combined transcript without duplicating messages that exist in
// both, and injects the completion notification's final text into the
// last assistant message once it arrives.
//
// # Key Types
//
//   - Session: per-conversation reconciliation state (seen set,
//     completion notification, force-save flag)
//   - Manager: binds a Session to the message store and the history
//     cache, driving the save-then-refetch flush cycle
//
// # Flush Rules
//
// A live message is flushed once it is complete: user messages
// immediately, assistant messages once any part is done or the
// completion notification forces the save. A message ID is marked
// before its save is awaited so overlapping flush passes never save the
// same message twice.
package reconcile
