package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TBXark/mail2telegram/internal/domain"
	"github.com/TBXark/mail2telegram/internal/storage"
	"github.com/TBXark/mail2telegram/internal/storage/memory"
)

func newMailStore(t *testing.T) (*storage.MailStore, *memory.Store) {
	t.Helper()
	kv := memory.NewStore()
	return storage.NewMailStore(kv, nil), kv
}

func TestMailStore_Status(t *testing.T) {
	ctx := context.Background()
	store, kv := newMailStore(t)

	t.Run("未开启 guardian 时忽略已有状态", func(t *testing.T) {
		require.NoError(t, store.SaveStatus(ctx, "<m1@x>", domain.DeliveryStatus{Notified: true, ForwardedTo: []string{"a@b.com"}}, time.Hour))

		status := store.LoadStatus(ctx, "<m1@x>", false)
		assert.False(t, status.Notified)
		assert.Empty(t, status.ForwardedTo)
	})

	t.Run("开启 guardian 时读取已有状态", func(t *testing.T) {
		status := store.LoadStatus(ctx, "<m1@x>", true)
		assert.True(t, status.Notified)
		assert.Equal(t, []string{"a@b.com"}, status.ForwardedTo)
	})

	t.Run("损坏的 JSON 返回默认状态", func(t *testing.T) {
		require.NoError(t, kv.Put(ctx, "mail:status:<bad@x>", "{not json", 0))

		status := store.LoadStatus(ctx, "<bad@x>", true)
		assert.False(t, status.Notified)
		assert.NotNil(t, status.ForwardedTo)
		assert.Empty(t, status.ForwardedTo)
	})

	t.Run("空 Message-ID 不读写状态", func(t *testing.T) {
		require.NoError(t, store.SaveStatus(ctx, "", domain.DeliveryStatus{Notified: true}, time.Hour))
		assert.False(t, store.LoadStatus(ctx, "", true).Notified)
	})
}

func TestMailStore_Cache(t *testing.T) {
	ctx := context.Background()
	store, kv := newMailStore(t)

	record := &domain.EmailRecord{
		ID:        "abc",
		MessageID: "<m@x>",
		From:      "a@x.com",
		To:        "b@y.com",
		Subject:   "hi",
		Text:      "hello",
	}
	require.NoError(t, store.SaveCache(ctx, record, time.Hour))

	loaded, ok := store.LoadCache(ctx, "abc")
	require.True(t, ok)
	assert.Equal(t, record, loaded)

	_, ok = store.LoadCache(ctx, "missing")
	assert.False(t, ok)

	require.NoError(t, kv.Put(ctx, "mail:cache:broken", "[]]", 0))
	_, ok = store.LoadCache(ctx, "broken")
	assert.False(t, ok)
}

func TestMailStore_Lists(t *testing.T) {
	ctx := context.Background()
	store, kv := newMailStore(t)

	t.Run("添加时插入头部并跳过重复", func(t *testing.T) {
		added, err := store.AddToList(ctx, domain.ListBlock, "a@x.com")
		require.NoError(t, err)
		assert.True(t, added)

		added, err = store.AddToList(ctx, domain.ListBlock, "b@x.com")
		require.NoError(t, err)
		assert.True(t, added)

		added, err = store.AddToList(ctx, domain.ListBlock, "a@x.com")
		require.NoError(t, err)
		assert.False(t, added)

		assert.Equal(t, []string{"b@x.com", "a@x.com"}, store.LoadList(ctx, domain.ListBlock))
		assert.Empty(t, store.LoadList(ctx, domain.ListWhite))
	})

	t.Run("按序号删除校验范围", func(t *testing.T) {
		_, err := store.RemoveFromListByIndex(ctx, domain.ListBlock, 0)
		assert.ErrorIs(t, err, storage.ErrInvalidIndex)

		_, err = store.RemoveFromListByIndex(ctx, domain.ListBlock, 3)
		assert.ErrorIs(t, err, storage.ErrInvalidIndex)
		assert.Equal(t, []string{"b@x.com", "a@x.com"}, store.LoadList(ctx, domain.ListBlock))

		removed, err := store.RemoveFromListByIndex(ctx, domain.ListBlock, 1)
		require.NoError(t, err)
		assert.Equal(t, "b@x.com", removed)
		assert.Equal(t, []string{"a@x.com"}, store.LoadList(ctx, domain.ListBlock))
	})

	t.Run("按地址删除", func(t *testing.T) {
		removed, err := store.RemoveFromList(ctx, domain.ListBlock, "nobody@x.com")
		require.NoError(t, err)
		assert.False(t, removed)

		removed, err = store.RemoveFromList(ctx, domain.ListBlock, "a@x.com")
		require.NoError(t, err)
		assert.True(t, removed)
		assert.Empty(t, store.LoadList(ctx, domain.ListBlock))
	})

	t.Run("损坏的名单按空处理", func(t *testing.T) {
		require.NoError(t, kv.Put(ctx, "WHITE_LIST", `{"a":1}`, 0))
		assert.Empty(t, store.LoadList(ctx, domain.ListWhite))
	})
}

func TestMailStore_TelegramMapping(t *testing.T) {
	ctx := context.Background()
	store, _ := newMailStore(t)
	handle := domain.MessageHandle{ChatID: 42, MessageID: 7}

	_, ok := store.LoadTelegramMapping(ctx, handle)
	assert.False(t, ok)

	require.NoError(t, store.SaveTelegramMapping(ctx, handle, "abc", time.Hour))
	id, ok := store.LoadTelegramMapping(ctx, handle)
	assert.True(t, ok)
	assert.Equal(t, "abc", id)
}
