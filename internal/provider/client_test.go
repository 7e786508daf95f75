// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// =============================================================================
// NON-STREAMING TESTS
// =============================================================================

func TestChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if req.Stream {
			t.Error("non-streaming chat sent stream=true")
		}
		if req.Model != "gpt-4o-mini" {
			t.Errorf("model = %q", req.Model)
		}
		fmt.Fprint(w, `{
			"id": "chatcmpl-1",
			"model": "gpt-4o-mini",
			"choices": [{"message": {"role": "assistant", "content": "Hello!"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 9, "completion_tokens": 2, "total_tokens": 11}
		}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-test")
	resp, err := c.Chat(context.Background(), "gpt-4o-mini", []ChatMessage{NewUserMessage("hi")})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.GetContent() != "Hello!" {
		t.Errorf("content = %q", resp.GetContent())
	}
	if resp.Usage.TotalTokens != 11 {
		t.Errorf("total tokens = %d", resp.Usage.TotalTokens)
	}
}

func TestChatErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"auth failure", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, ErrAuthFailed},
		{"credits", http.StatusPaymentRequired, `{"error":{"message":"top up"}}`, ErrInsufficientCredits},
		{"missing model", http.StatusNotFound, `{"error":{"message":"no such model"}}`, ErrModelNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "sk-test").WithMaxRetries(1)
			_, err := c.Chat(context.Background(), "gpt-4o-mini", nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestChatRetriesServerErrors(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, `{"error":{"message":"upstream hiccup"}}`)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-test")
	resp, err := c.Chat(context.Background(), "gpt-4o-mini", nil)
	if err != nil {
		t.Fatalf("Chat failed after retry: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if resp.GetContent() != "ok" {
		t.Errorf("content = %q", resp.GetContent())
	}
}

func TestChatDoesNotRetryAuthFailure(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-bad")
	if _, err := c.Chat(context.Background(), "gpt-4o-mini", nil); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("err = %v", err)
	}
	if attempts != 1 {
		t.Errorf("auth failure retried: %d attempts", attempts)
	}
}

func TestGenerateText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("messages = %+v", req.Messages)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"Go Error Handling"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-test")
	text, err := c.GenerateText(context.Background(), "gpt-4o-mini", "You title chats.", "how do I wrap errors?")
	if err != nil {
		t.Fatalf("GenerateText failed: %v", err)
	}
	if text != "Go Error Handling" {
		t.Errorf("text = %q", text)
	}
}

// =============================================================================
// STREAMING TESTS
// =============================================================================

// sseChunk renders one data event in chat-completions stream format.
func sseChunk(t *testing.T, content, reasoning, finishReason string, usage *Usage) string {
	t.Helper()
	chunk := map[string]any{
		"id":    "chatcmpl-1",
		"model": "gpt-4o-mini",
	}
	if content != "" || reasoning != "" || finishReason != "" {
		delta := map[string]string{}
		if content != "" {
			delta["content"] = content
		}
		if reasoning != "" {
			delta["reasoning"] = reasoning
		}
		choice := map[string]any{"delta": delta}
		if finishReason != "" {
			choice["finish_reason"] = finishReason
		}
		chunk["choices"] = []any{choice}
	} else {
		chunk["choices"] = []any{}
	}
	if usage != nil {
		chunk["usage"] = usage
	}
	data, err := json.Marshal(chunk)
	if err != nil {
		t.Fatal(err)
	}
	return "data: " + string(data) + "\n\n"
}

func TestChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("streaming request sent stream=false")
		}
		if req.StreamOptions == nil || !req.StreamOptions.IncludeUsage {
			t.Error("stream should request usage reporting")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk(t, "", "thinking about it", "", nil))
		fmt.Fprint(w, sseChunk(t, "Hel", "", "", nil))
		fmt.Fprint(w, sseChunk(t, "lo", "", "", nil))
		fmt.Fprint(w, sseChunk(t, "", "", "stop", nil))
		fmt.Fprint(w, sseChunk(t, "", "", "", &Usage{PromptTokens: 9, CompletionTokens: 2, TotalTokens: 11}))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-test")
	deltas, err := c.ChatStream(context.Background(), "gpt-4o-mini", []ChatMessage{NewUserMessage("hi")})
	if err != nil {
		t.Fatalf("ChatStream failed: %v", err)
	}

	var content, reasoning strings.Builder
	var finishReason string
	var usage *Usage
	for d := range deltas {
		if d.Err != nil {
			t.Fatalf("unexpected stream error: %v", d.Err)
		}
		content.WriteString(d.Content)
		reasoning.WriteString(d.Reasoning)
		if d.FinishReason != "" {
			finishReason = d.FinishReason
		}
		if d.Usage != nil {
			usage = d.Usage
		}
	}

	if content.String() != "Hello" {
		t.Errorf("content = %q", content.String())
	}
	if reasoning.String() != "thinking about it" {
		t.Errorf("reasoning = %q", reasoning.String())
	}
	if finishReason != "stop" {
		t.Errorf("finish reason = %q", finishReason)
	}
	if usage == nil || usage.TotalTokens != 11 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestChatStreamMalformedChunkIsWarning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk(t, "ok", "", "", nil))
		fmt.Fprint(w, "data: not json\n\n")
		fmt.Fprint(w, sseChunk(t, " done", "", "stop", nil))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-test")
	deltas, err := c.ChatStream(context.Background(), "gpt-4o-mini", nil)
	if err != nil {
		t.Fatalf("ChatStream failed: %v", err)
	}

	var content strings.Builder
	warnings := 0
	for d := range deltas {
		if d.Err != nil {
			t.Fatalf("malformed chunk must not kill the stream: %v", d.Err)
		}
		if d.Warning != "" {
			warnings++
			continue
		}
		content.WriteString(d.Content)
	}

	if content.String() != "ok done" {
		t.Errorf("content = %q", content.String())
	}
	if warnings != 1 {
		t.Errorf("warnings = %d, want 1", warnings)
	}
}

func TestChatStreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down"}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-test")
	if _, err := c.ChatStream(context.Background(), "gpt-4o-mini", nil); !errors.Is(err, ErrRateLimited) {
		t.Errorf("err = %v, want rate limited", err)
	}
}

func TestChatStreamNotConfigured(t *testing.T) {
	c := NewClient("https://api.openai.com/v1", "")
	if _, err := c.ChatStream(context.Background(), "gpt-4o-mini", nil); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want not configured", err)
	}
}

// =============================================================================
// SSE READER TESTS
// =============================================================================

func TestSSEReaderMultiLineData(t *testing.T) {
	input := "event: message\ndata: line one\ndata: line two\n\n"
	reader := NewSSEReader(strings.NewReader(input))

	eventType, data, err := reader.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent failed: %v", err)
	}
	if eventType != "message" {
		t.Errorf("event type = %q", eventType)
	}
	if string(data) != "line one\nline two" {
		t.Errorf("data = %q", data)
	}
}

func TestSSEReaderIgnoresComments(t *testing.T) {
	input := ": keepalive\nid: 42\ndata: payload\n\n"
	reader := NewSSEReader(strings.NewReader(input))

	_, data, err := reader.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent failed: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("data = %q", data)
	}
}

func TestSSEReaderEOFWithTrailingData(t *testing.T) {
	reader := NewSSEReader(strings.NewReader("data: tail\n"))

	_, data, err := reader.ReadEvent()
	if err != nil {
		t.Fatalf("ReadEvent failed: %v", err)
	}
	if string(data) != "tail" {
		t.Errorf("data = %q", data)
	}
}
