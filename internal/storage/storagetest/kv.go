// Package storagetest 提供所有 storage.KV 实现共用的行为测试。
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TBXark/mail2telegram/internal/storage"
)

// RunKVTests 对一个 KV 实现运行读写、覆盖、删除和过期测试
//
// 键名带随机前缀，可以在共享的数据库上运行。
func RunKVTests(t *testing.T, kv storage.KV) {
	t.Helper()
	ctx := context.Background()
	prefix := "test:" + uuid.NewString() + ":"

	t.Run("读取不存在的键", func(t *testing.T) {
		_, err := kv.Get(ctx, prefix+"missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("写入覆盖删除", func(t *testing.T) {
		key := prefix + "k"
		require.NoError(t, kv.Put(ctx, key, "v1", time.Hour))
		value, err := kv.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "v1", value)

		require.NoError(t, kv.Put(ctx, key, "v2", 0))
		value, err = kv.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "v2", value)

		require.NoError(t, kv.Delete(ctx, key))
		_, err = kv.Get(ctx, key)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		assert.NoError(t, kv.Delete(ctx, key), "删除不存在的键不报错")
	})

	t.Run("保留值原样", func(t *testing.T) {
		key := prefix + "json"
		raw := `{"text":"多字节 ✓","n":1}` + "\n"
		require.NoError(t, kv.Put(ctx, key, raw, time.Hour))
		value, err := kv.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, raw, value)
	})

	t.Run("过期后不可见", func(t *testing.T) {
		key := prefix + "short"
		require.NoError(t, kv.Put(ctx, key, "v", time.Second))
		time.Sleep(1500 * time.Millisecond)
		_, err := kv.Get(ctx, key)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		if purger, ok := kv.(storage.Purger); ok {
			_, err := purger.PurgeExpired(ctx)
			assert.NoError(t, err)
		}
	})

	t.Run("健康检查", func(t *testing.T) {
		assert.NoError(t, kv.Health())
	})
}
