package pebble

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	c, err := Open(dir, "sess")
	require.NoError(t, err)
	v, err := c.Get(ctx, "chat_outbox")
	require.NoError(t, err)
	assert.Equal(t, "", v)
	require.NoError(t, c.Set(ctx, "chat_outbox", `[{"conversation_key":"dm-42"}]`))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	c, err = Open(dir, "sess")
	require.NoError(t, err)
	defer c.Close()
	v, err = c.Get(ctx, "chat_outbox")
	require.NoError(t, err)
	assert.Equal(t, `[{"conversation_key":"dm-42"}]`, v)

	require.NoError(t, c.Delete(ctx, "chat_outbox"))
	v, err = c.Get(ctx, "chat_outbox")
	require.NoError(t, err)
	assert.Equal(t, "", v)
}

func TestClientNamespaces(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c, err := Open(dir, "a")
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Set(ctx, "k", "v"))

	other := &Client{db: c.db, prefix: "chatsync:b:"}
	v, err := other.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "", v)
}

func TestClientHonorsCanceledContext(t *testing.T) {
	c, err := Open(t.TempDir(), "")
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, c.Set(ctx, "k", "v"))
	_, err = c.Get(ctx, "k")
	assert.Error(t, err)
}
