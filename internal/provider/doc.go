// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider is the client for OpenAI-compatible chat-completions
// APIs (OpenAI, OpenRouter, Groq, DeepSeek, and anything else speaking
// the same dialect).
//
// Streaming uses SSE; each event decodes into a Delta carrying a text
// or reasoning fragment, the finish reason, and usage on the final
// chunk. Non-streaming Chat covers one-shot generations such as titles.
package provider
