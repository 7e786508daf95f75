// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama is the HTTP client for a local Ollama daemon.
//
// It covers the slice of the Ollama API the chat frontend needs: a
// health check with platform-specific daemon autostart, model listing
// and lookup, one-shot chat for title generation, and streaming chat.
// ChatTokens drains a stream into a complete token list so callers can
// re-pace delivery themselves.
//
// Errors are typed (*ClientError) and categorized, with sentinels for
// the common cases: ErrNotRunning, ErrTimeout, ErrModelNotFound.
package ollama
