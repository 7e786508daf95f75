// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package title generates and maintains conversation titles.
//
// An initial title is generated once from the first user message, at
// most one attempt per conversation per session. A failed attempt falls
// back to a truncation of the message text and is never retried; the
// next session may try again.
//
// After the initial title exists, topic-change detection periodically
// asks the model whether the conversation has drifted from its title.
// Checks are throttled by message count and wall-clock time, and the
// model's answer is parsed strictly: anything that is not an exact
// NO_CHANGE or a well-formed NEW_TITLE: line leaves the title alone.
package title
