package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/storage"
)

func TestMemoryStorePutGet(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	require.NoError(t, store.Put(ctx, "a/b.json", []byte("one"), "application/json"))

	data, err := store.Get(ctx, "a/b.json")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), data)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestMemoryStorePutIfAbsent(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	require.NoError(t, store.PutIfAbsent(ctx, "k", []byte("first"), "text/plain"))

	err := store.PutIfAbsent(ctx, "k", []byte("second"), "text/plain")
	assert.ErrorIs(t, err, storage.ErrObjectExists)

	data, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), data, "losing write must not clobber")
}

func TestMemoryStorePresign(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	require.NoError(t, store.Put(ctx, "k", []byte("v"), "text/plain"))

	url, err := store.Presign(ctx, "k", 0)
	require.NoError(t, err)
	assert.Equal(t, "memory://k", url)
}
