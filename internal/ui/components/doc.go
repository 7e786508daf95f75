// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package components holds the standalone render helpers the chat
// screen composes: highlighted code blocks, fence parsing for
// streaming markdown, and transient status notices.
package components
