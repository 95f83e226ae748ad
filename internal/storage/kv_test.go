package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]KVStore {
	t.Helper()

	fs, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)

	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)

	t.Cleanup(func() {
		fs.Close()
		db.Close()
	})
	return map[string]KVStore{BackendFile: fs, BackendSQLite: db}
}

func TestKVStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := kv.Get(ctx, "projects")
			assert.ErrorIs(t, err, ErrKeyNotFound)

			require.NoError(t, kv.Set(ctx, "projects", []byte(`[1]`)))
			require.NoError(t, kv.Set(ctx, "projects", []byte(`[1,2]`)))

			got, err := kv.Get(ctx, "projects")
			require.NoError(t, err)
			assert.JSONEq(t, `[1,2]`, string(got))

			require.NoError(t, kv.Delete(ctx, "projects"))
			require.NoError(t, kv.Delete(ctx, "projects"), "删除不存在的键不应报错")

			_, err = kv.Get(ctx, "projects")
			assert.ErrorIs(t, err, ErrKeyNotFound)
		})
	}
}

func TestKVStoreRejectsPathKeys(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, kv.Set(ctx, "../escape", []byte("x")))
			_, err := kv.Get(ctx, "a/b")
			assert.Error(t, err)
		})
	}
}

func TestFileStorageSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := NewFileStorage(dir)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "projects", []byte(`{"version":1}`)))
	first.Close()

	second, err := NewFileStorage(dir)
	require.NoError(t, err)
	defer second.Close()

	got, err := second.Get(ctx, "projects")
	require.NoError(t, err)
	assert.Equal(t, `{"version":1}`, string(got))
}
