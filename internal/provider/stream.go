// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// =============================================================================
// STREAMING TYPES
// =============================================================================

// MaxChunkSize is the maximum allowed size for a single SSE event.
const MaxChunkSize = 64 * 1024

// Delta is one normalized fragment of a streaming response. Exactly one
// of Content, Reasoning, Warning, or Err is meaningful per delta;
// FinishReason and Usage arrive on the trailing chunks.
type Delta struct {
	Content      string
	Reasoning    string
	FinishReason string
	Usage        *Usage

	// Warning carries a non-fatal condition (e.g. a malformed chunk
	// that was skipped). The stream continues after a warning.
	Warning string

	// Err terminates the stream.
	Err error
}

// streamChunk is the wire shape of one SSE data payload.
type streamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			Reasoning string `json:"reasoning"`
			Role      string `json:"role,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader parses Server-Sent Events from a stream.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{reader: bufio.NewReader(r)}
}

// ReadEvent reads the next SSE event. Returns the event type, data, and
// any error; io.EOF when the stream ends. Chat-completions endpoints
// leave the event type empty.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte
	var total int

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				if len(dataLines) > 0 {
					return eventType, bytes.Join(dataLines, []byte("\n")), nil
				}
				return "", nil, io.EOF
			}
			return "", nil, err
		}

		line = bytes.TrimRight(line, "\r\n")

		// Empty line signals end of event
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		if bytes.HasPrefix(line, []byte("event:")) {
			eventType = string(bytes.TrimSpace(line[6:]))
		} else if bytes.HasPrefix(line, []byte("data:")) {
			data := bytes.TrimSpace(line[5:])
			total += len(data)
			if total > MaxChunkSize {
				return "", nil, fmt.Errorf("SSE event too large: %d bytes", total)
			}
			dataLines = append(dataLines, data)
		}
		// Ignore other fields (id:, retry:, comments starting with :)
	}
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// ChatStream performs a streaming chat completion and returns a channel
// of deltas. The channel closes when the stream completes; errors are
// delivered as a terminal Delta with Err set. Cancellation comes via
// the context.
func (c *Client) ChatStream(ctx context.Context, model string, messages []ChatMessage) (<-chan Delta, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	reqBody := ChatRequest{
		Model:         model,
		Messages:      messages,
		Stream:        true,
		StreamOptions: &StreamOptions{IncludeUsage: true},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := sharedStreamingClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
		resp.Body.Close()
		return nil, handleErrorResponse(resp.StatusCode, body)
	}

	deltas := make(chan Delta, 64)
	go func() {
		defer close(deltas)
		defer resp.Body.Close()
		c.processStream(ctx, resp.Body, deltas)
	}()

	return deltas, nil
}

// processStream reads SSE events and publishes deltas until the stream
// ends or the context is cancelled.
func (c *Client) processStream(ctx context.Context, body io.Reader, deltas chan<- Delta) {
	reader := NewSSEReader(body)

	for {
		select {
		case <-ctx.Done():
			deltas <- Delta{Err: ctx.Err()}
			return
		default:
		}

		_, data, err := reader.ReadEvent()
		if err != nil {
			if err == io.EOF {
				return
			}
			deltas <- Delta{Err: fmt.Errorf("stream read failed: %w", err)}
			return
		}

		if bytes.Equal(data, []byte("[DONE]")) {
			return
		}

		var chunk streamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			// A single malformed chunk is non-fatal.
			deltas <- Delta{Warning: fmt.Sprintf("skipped malformed chunk: %v", err)}
			continue
		}

		for _, d := range chunkDeltas(&chunk) {
			select {
			case deltas <- d:
			case <-ctx.Done():
				deltas <- Delta{Err: ctx.Err()}
				return
			}
		}
	}
}

// chunkDeltas expands one wire chunk into zero or more deltas. The
// usage-only trailing chunk has no choices.
func chunkDeltas(chunk *streamChunk) []Delta {
	var out []Delta

	for _, choice := range chunk.Choices {
		if choice.Delta.Reasoning != "" {
			out = append(out, Delta{Reasoning: choice.Delta.Reasoning})
		}
		if choice.Delta.Content != "" {
			out = append(out, Delta{Content: choice.Delta.Content})
		}
		if choice.FinishReason != "" {
			out = append(out, Delta{FinishReason: choice.FinishReason})
		}
	}

	if chunk.Usage != nil {
		u := *chunk.Usage
		out = append(out, Delta{Usage: &u})
	}

	return out
}
