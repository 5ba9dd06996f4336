package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound 键不存在或已过期
	ErrNotFound = errors.New("key not found")
	// ErrInvalidIndex 按序号删除时序号越界
	ErrInvalidIndex = errors.New("invalid index")
)

// KV 是带过期时间的键值存储
//
// 只依赖单键原子性，不使用多键事务。ttl <= 0 表示永不过期。
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Health() error
	Close() error
}

// Purger 由需要主动清理过期键的后端实现
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}
