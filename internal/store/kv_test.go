package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ochat/internal/domain"
	"ochat/internal/store"
)

func backends(t *testing.T) map[string]domain.KeyValueStore {
	t.Helper()
	ctx := context.Background()

	sq, err := store.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })

	fkv, err := store.NewFileKV(t.TempDir())
	require.NoError(t, err)

	return map[string]domain.KeyValueStore{"sqlite": sq, "file": fkv}
}

func TestKV_Contract(t *testing.T) {
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			v, ok, err := kv.Read(ctx, "absent")
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Nil(t, v)

			require.NoError(t, kv.Save(ctx, "a/1", []byte("old")))
			require.NoError(t, kv.Save(ctx, "a/1", []byte("new")))
			require.NoError(t, kv.Save(ctx, "a/2", []byte{}))
			require.NoError(t, kv.Save(ctx, "b/1", []byte{0xFF}))

			v, ok, err = kv.Read(ctx, "a/1")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, []byte("new"), v)

			_, ok, err = kv.Read(ctx, "a/2")
			require.NoError(t, err)
			assert.True(t, ok)

			keys, err := kv.List(ctx, "a/")
			require.NoError(t, err)
			assert.Equal(t, []string{"a/1", "a/2"}, keys)

			all, err := kv.List(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 3)

			require.NoError(t, kv.Delete(ctx, "a/1"))
			require.NoError(t, kv.Delete(ctx, "a/1"))
			_, ok, err = kv.Read(ctx, "a/1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()
	for _, d := range []string{store.DriverSQLite, store.DriverFile, store.DriverMemory} {
		kv, closeFn, err := store.Open(ctx, d, t.TempDir())
		require.NoError(t, err, d)
		require.NoError(t, kv.Save(ctx, "k", []byte("v")))
		require.NoError(t, closeFn())
	}
	_, _, err := store.Open(ctx, "etcd", t.TempDir())
	assert.Error(t, err)
}
