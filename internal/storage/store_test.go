// Copyright (c) 2024-2025 Kestrel Works
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelworks/loom-tui/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_CreateAndGetConversation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, "", "gpt-4o")
	require.NoError(t, err)
	require.NotEmpty(t, conv.ID)

	got, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
	assert.Equal(t, "gpt-4o", got.Model)
	assert.False(t, got.Archived)
}

func TestStore_GetConversationNotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetConversation(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestStore_ListConversationsMostRecentFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	a, err := store.CreateConversation(ctx, "first", "")
	require.NoError(t, err)
	b, err := store.CreateConversation(ctx, "second", "")
	require.NoError(t, err)

	list, err := store.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	// Most recent first; ties broken by insertion not guaranteed, so
	// just check both are present when timestamps collide.
	ids := []string{list[0].ID, list[1].ID}
	assert.Contains(t, ids, a.ID)
	assert.Contains(t, ids, b.ID)
}

func TestStore_UpdateTitleAndModel(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, "", "")
	require.NoError(t, err)

	updated, err := store.UpdateConversationTitle(ctx, conv.ID, "Go questions")
	require.NoError(t, err)
	assert.Equal(t, "Go questions", updated.Title)

	require.NoError(t, store.UpdateConversationModel(ctx, conv.ID, "llama3.1:8b"))
	got, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "llama3.1:8b", got.Model)

	_, err = store.UpdateConversationTitle(ctx, "missing", "x")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestStore_ArchiveConversation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, "", "")
	require.NoError(t, err)

	require.NoError(t, store.ArchiveConversation(ctx, conv.ID, true))
	got, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, got.Archived)

	require.NoError(t, store.ArchiveConversation(ctx, conv.ID, false))
	got, _ = store.GetConversation(ctx, conv.ID)
	assert.False(t, got.Archived)
}

func TestStore_SaveAndGetMessages(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, "", "")
	require.NoError(t, err)

	user := model.NewUserMessage("u1", conv.ID, "hello")
	assistant := model.NewAssistantMessage("a1", conv.ID)
	assistant.Parts = []model.Part{
		model.ReasoningPart("thinking"),
		model.TextPart("hi there", model.PartDone),
	}
	assistant.Metadata = &model.Metadata{Usage: &model.TokenUsage{TotalTokens: 42}}

	require.NoError(t, store.SaveCompleteMessage(ctx, conv.ID, user))
	require.NoError(t, store.SaveCompleteMessage(ctx, conv.ID, assistant))

	msgs, err := store.GetMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, "u1", msgs[0].ID)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "a1", msgs[1].ID)
	assert.Equal(t, "hi there", msgs[1].TextContent())
	require.NotNil(t, msgs[1].Metadata)
	require.NotNil(t, msgs[1].Metadata.Usage)
	assert.Equal(t, 42, msgs[1].Metadata.Usage.TotalTokens)
}

func TestStore_SaveSameIDReplaces(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, "", "")
	require.NoError(t, err)

	msg := model.NewAssistantMessage("a1", conv.ID)
	msg.Parts = []model.Part{model.TextPart("Hel", model.PartStreaming)}
	require.NoError(t, store.SaveCompleteMessage(ctx, conv.ID, msg))

	// Completion notification re-save with the authoritative text.
	msg.Parts = []model.Part{model.TextPart("Hello world", model.PartDone)}
	msg.Metadata = &model.Metadata{Usage: &model.TokenUsage{TotalTokens: 42}}
	require.NoError(t, store.SaveCompleteMessage(ctx, conv.ID, msg))

	msgs, err := store.GetMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello world", msgs[0].TextContent())
	assert.Equal(t, 42, msgs[0].Metadata.Usage.TotalTokens)
}

func TestStore_SaveRejectsInvalidMessage(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, "", "")
	require.NoError(t, err)

	err = store.SaveCompleteMessage(ctx, conv.ID, model.Message{})
	assert.ErrorIs(t, err, ErrMessageInvalid)

	bad := model.NewUserMessage("u1", conv.ID, "x")
	bad.Parts = []model.Part{{Type: "bogus"}}
	err = store.SaveCompleteMessage(ctx, conv.ID, bad)
	assert.ErrorIs(t, err, ErrMessageInvalid)
}

func TestStore_DeleteConversationCascades(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, "", "")
	require.NoError(t, err)
	require.NoError(t, store.SaveCompleteMessage(ctx, conv.ID, model.NewUserMessage("u1", conv.ID, "hi")))

	require.NoError(t, store.DeleteConversation(ctx, conv.ID))

	_, err = store.GetConversation(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrConversationNotFound)

	msgs, err := store.GetMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestStore_MessageOrderPreserved(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, "", "")
	require.NoError(t, err)

	// Same-timestamp inserts keep arrival order via seq.
	for _, id := range []string{"1", "2", "3", "4"} {
		require.NoError(t, store.SaveCompleteMessage(ctx, conv.ID, model.NewUserMessage(id, conv.ID, "m"+id)))
	}

	msgs, err := store.GetMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	for i, id := range []string{"1", "2", "3", "4"} {
		assert.Equal(t, id, msgs[i].ID)
	}
}
