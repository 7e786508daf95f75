// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transport turns a chat-send into one normalized chunk stream.
//
// Remote models stream over the provider's SSE API; local models return
// a complete token list from the daemon, which the transport re-paces
// into synthetic deltas so both paths look identical to the UI. Chunk
// is the single event vocabulary: text deltas, reasoning deltas,
// non-fatal warnings, a terminal error, or a finish with usage.
package transport

import (
	"context"
	"strings"
	"time"

	"github.com/kestrelworks/loom-tui/internal/bus"
	"github.com/kestrelworks/loom-tui/internal/model"
	"github.com/kestrelworks/loom-tui/internal/ollama"
	"github.com/kestrelworks/loom-tui/internal/provider"
	"github.com/kestrelworks/loom-tui/internal/registry"
)

// =============================================================================
// CHUNKS
// =============================================================================

// ChunkType discriminates transport events.
type ChunkType string

const (
	// ChunkTextDelta carries a fragment of assistant text.
	ChunkTextDelta ChunkType = "text-delta"
	// ChunkReasoningDelta carries a fragment of reasoning content.
	ChunkReasoningDelta ChunkType = "reasoning-delta"
	// ChunkWarning carries a non-fatal condition; the stream continues.
	ChunkWarning ChunkType = "warning"
	// ChunkError terminates the stream.
	ChunkError ChunkType = "error"
	// ChunkFinish is the final event of a successful stream.
	ChunkFinish ChunkType = "finish"
)

// Chunk is one normalized transport event.
type Chunk struct {
	Type         ChunkType
	Delta        string
	Warning      string
	ErrText      string
	FinishReason string
	Usage        *model.TokenUsage
}

// Options tune a single send.
type Options struct {
	// Reasoning forwards reasoning deltas to the caller. When false
	// they are dropped at the transport boundary.
	Reasoning bool

	// ConversationID tags the response-finished event.
	ConversationID string
}

// =============================================================================
// BACKENDS
// =============================================================================

// LocalBackend is the slice of the daemon client the transport uses.
type LocalBackend interface {
	ChatTokens(ctx context.Context, model string, messages []ollama.Message) (*ollama.TokenResult, error)
}

// RemoteStreamer is the slice of the provider client the transport uses.
type RemoteStreamer interface {
	ChatStream(ctx context.Context, model string, messages []provider.ChatMessage) (<-chan provider.Delta, error)
}

// RemoteFactory builds a streamer for a resolved handle. The default
// constructs a provider client from the handle's endpoint and key;
// tests substitute stubs.
type RemoteFactory func(h registry.Handle) RemoteStreamer

// =============================================================================
// TRANSPORT
// =============================================================================

// DefaultPacing is the delay between synthetic local deltas.
const DefaultPacing = 10 * time.Millisecond

// Transport routes sends to the local or remote path by adapter kind.
type Transport struct {
	registry *registry.Registry
	local    LocalBackend
	remote   RemoteFactory
	bus      *bus.Bus
	pacing   time.Duration
}

// New creates a transport. A nil remote factory gets the default
// provider-client factory; pacing <= 0 gets DefaultPacing.
func New(reg *registry.Registry, local LocalBackend, remote RemoteFactory, b *bus.Bus, pacing time.Duration) *Transport {
	if remote == nil {
		remote = func(h registry.Handle) RemoteStreamer {
			return &providerStreamer{client: provider.NewClient(h.BaseURL, h.APIKey)}
		}
	}
	if pacing <= 0 {
		pacing = DefaultPacing
	}
	return &Transport{
		registry: reg,
		local:    local,
		remote:   remote,
		bus:      b,
		pacing:   pacing,
	}
}

// providerStreamer adapts *provider.Client to RemoteStreamer.
type providerStreamer struct {
	client *provider.Client
}

func (p *providerStreamer) ChatStream(ctx context.Context, model string, messages []provider.ChatMessage) (<-chan provider.Delta, error) {
	return p.client.ChatStream(ctx, model, messages)
}

// SendMessages starts a model turn and returns its chunk stream. The
// handle's adapter kind picks the path; the returned channel closes
// when the turn ends. An error here means the stream never started.
func (t *Transport) SendMessages(ctx context.Context, modelID string, msgs []model.Message, opts Options) (<-chan Chunk, error) {
	handle, err := t.registry.Resolve(modelID)
	if err != nil {
		return nil, err
	}

	if handle.Local() {
		return t.sendLocal(ctx, handle, msgs, opts), nil
	}
	return t.sendRemote(ctx, handle, msgs, opts)
}

// Reconnect would resume a dropped stream mid-turn. The backend offers
// no resumable protocol, so there is never a stream to return; callers
// fall back to a fresh send.
func (t *Transport) Reconnect(ctx context.Context, conversationID string) (<-chan Chunk, error) {
	return nil, nil
}

// =============================================================================
// LOCAL PATH
// =============================================================================

// sendLocal runs the daemon's complete-token-list call and re-paces the
// result into deltas. A backend failure becomes a single terminal error
// chunk.
func (t *Transport) sendLocal(ctx context.Context, handle registry.Handle, msgs []model.Message, opts Options) <-chan Chunk {
	out := make(chan Chunk, 64)

	go func() {
		defer close(out)

		result, err := t.local.ChatTokens(ctx, handle.Model, toOllamaMessages(msgs))
		if err != nil {
			out <- Chunk{Type: ChunkError, ErrText: err.Error()}
			return
		}

		ticker := time.NewTicker(t.pacing)
		defer ticker.Stop()

		for i, token := range result.Tokens {
			// The first token goes out immediately; pacing applies
			// between deltas.
			if i > 0 {
				select {
				case <-ctx.Done():
					out <- Chunk{Type: ChunkError, ErrText: ctx.Err().Error()}
					return
				case <-ticker.C:
				}
			}
			select {
			case <-ctx.Done():
				out <- Chunk{Type: ChunkError, ErrText: ctx.Err().Error()}
				return
			case out <- Chunk{Type: ChunkTextDelta, Delta: token}:
			}
		}

		usage := &model.TokenUsage{
			InputTokens:  result.PromptTokens,
			OutputTokens: result.CompletionTokens,
			TotalTokens:  result.PromptTokens + result.CompletionTokens,
		}
		out <- Chunk{Type: ChunkFinish, FinishReason: "stop", Usage: usage}
		t.publishFinished(result.Text(), usage, opts.ConversationID)
	}()

	return out
}

// =============================================================================
// REMOTE PATH
// =============================================================================

// sendRemote starts the provider SSE stream and normalizes its deltas.
// Warnings pass through without ending the stream; a delta error is
// terminal and suppresses the finish event.
func (t *Transport) sendRemote(ctx context.Context, handle registry.Handle, msgs []model.Message, opts Options) (<-chan Chunk, error) {
	streamer := t.remote(handle)
	deltas, err := streamer.ChatStream(ctx, handle.Model, toProviderMessages(msgs))
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk, 64)
	go func() {
		defer close(out)

		var text strings.Builder
		finishReason := "stop"
		var usage *model.TokenUsage

		for d := range deltas {
			switch {
			case d.Err != nil:
				out <- Chunk{Type: ChunkError, ErrText: d.Err.Error()}
				return
			case d.Warning != "":
				out <- Chunk{Type: ChunkWarning, Warning: d.Warning}
			case d.Reasoning != "":
				if opts.Reasoning {
					out <- Chunk{Type: ChunkReasoningDelta, Delta: d.Reasoning}
				}
			case d.Content != "":
				text.WriteString(d.Content)
				out <- Chunk{Type: ChunkTextDelta, Delta: d.Content}
			}
			if d.FinishReason != "" {
				finishReason = d.FinishReason
			}
			if d.Usage != nil {
				usage = &model.TokenUsage{
					InputTokens:  d.Usage.PromptTokens,
					OutputTokens: d.Usage.CompletionTokens,
					TotalTokens:  d.Usage.TotalTokens,
				}
			}
		}

		out <- Chunk{Type: ChunkFinish, FinishReason: finishReason, Usage: usage}
		t.publishFinished(text.String(), usage, opts.ConversationID)
	}()

	return out, nil
}

// publishFinished announces the authoritative final text and usage.
func (t *Transport) publishFinished(text string, usage *model.TokenUsage, conversationID string) {
	if t.bus == nil {
		return
	}
	t.bus.PublishResponseFinished(bus.ResponseFinished{
		Text:           text,
		TotalUsage:     usage,
		ConversationID: conversationID,
		Timestamp:      time.Now(),
	})
}

// =============================================================================
// MESSAGE FLATTENING
// =============================================================================

// toOllamaMessages flattens rich messages into the daemon's wire shape.
// Reasoning, file, and step-marker parts are not sent back to models.
func toOllamaMessages(msgs []model.Message) []ollama.Message {
	out := make([]ollama.Message, 0, len(msgs))
	for _, m := range msgs {
		text := m.TextContent()
		if text == "" {
			continue
		}
		out = append(out, ollama.Message{Role: string(m.Role), Content: text})
	}
	return out
}

// toProviderMessages flattens rich messages into chat-completions form.
func toProviderMessages(msgs []model.Message) []provider.ChatMessage {
	out := make([]provider.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		text := m.TextContent()
		if text == "" {
			continue
		}
		out = append(out, provider.ChatMessage{Role: string(m.Role), Content: text})
	}
	return out
}

// =============================================================================
// ONE-SHOT GENERATION
// =============================================================================

// Generator binds the transport to one model for one-shot, non-streamed
// generations. Title generation consumes this shape.
type Generator struct {
	t       *Transport
	modelID string
}

// GeneratorFor returns a one-shot generator for a model.
func (t *Transport) GeneratorFor(modelID string) *Generator {
	return &Generator{t: t, modelID: modelID}
}

// GenerateText runs a system+prompt exchange to completion and returns
// the full response text. No bus events are published; one-shot
// generations are not conversation turns.
func (g *Generator) GenerateText(ctx context.Context, system, prompt string) (string, error) {
	handle, err := g.t.registry.Resolve(g.modelID)
	if err != nil {
		return "", err
	}

	if handle.Local() {
		msgs := []ollama.Message{
			ollama.NewSystemMessage(system),
			ollama.NewUserMessage(prompt),
		}
		result, err := g.t.local.ChatTokens(ctx, handle.Model, msgs)
		if err != nil {
			return "", err
		}
		return result.Text(), nil
	}

	msgs := []provider.ChatMessage{
		provider.NewSystemMessage(system),
		provider.NewUserMessage(prompt),
	}
	deltas, err := g.t.remote(handle).ChatStream(ctx, handle.Model, msgs)
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for d := range deltas {
		if d.Err != nil {
			return "", d.Err
		}
		text.WriteString(d.Content)
	}
	return text.String(), nil
}
