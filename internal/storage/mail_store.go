package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TBXark/mail2telegram/internal/domain"
)

const (
	statusKeyPrefix = "mail:status:"
	cacheKeyPrefix  = "mail:cache:"
	telegramKeyFmt  = "tg:%d:%d"
)

// MailStore 在 KV 之上保存投递状态、邮件缓存和动态地址名单
//
// 所有读取都容忍键缺失和 JSON 损坏，返回对应类型的零值。
type MailStore struct {
	kv  KV
	log *zap.Logger
}

// NewMailStore 创建邮件存储
func NewMailStore(kv KV, log *zap.Logger) *MailStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &MailStore{kv: kv, log: log}
}

// Health 检查底层存储
func (s *MailStore) Health() error {
	return s.kv.Health()
}

// LoadStatus 读取投递状态
//
// 未开启 guardian 模式时总是返回全新的状态，不读取存储。
func (s *MailStore) LoadStatus(ctx context.Context, messageID string, guardian bool) domain.DeliveryStatus {
	fresh := domain.DeliveryStatus{ForwardedTo: []string{}}
	if !guardian || messageID == "" {
		return fresh
	}
	raw := s.get(ctx, statusKeyPrefix+messageID)
	status, ok := tryDecode[domain.DeliveryStatus](raw)
	if !ok {
		return fresh
	}
	if status.ForwardedTo == nil {
		status.ForwardedTo = []string{}
	}
	return status
}

// SaveStatus 写入投递状态
func (s *MailStore) SaveStatus(ctx context.Context, messageID string, status domain.DeliveryStatus, ttl time.Duration) error {
	if messageID == "" {
		return nil
	}
	return s.putJSON(ctx, statusKeyPrefix+messageID, status, ttl)
}

// LoadCache 按记录 ID 读取邮件缓存
func (s *MailStore) LoadCache(ctx context.Context, id string) (*domain.EmailRecord, bool) {
	if id == "" {
		return nil, false
	}
	raw := s.get(ctx, cacheKeyPrefix+id)
	record, ok := tryDecode[domain.EmailRecord](raw)
	if !ok {
		return nil, false
	}
	return &record, true
}

// SaveCache 写入邮件缓存
func (s *MailStore) SaveCache(ctx context.Context, record *domain.EmailRecord, ttl time.Duration) error {
	return s.putJSON(ctx, cacheKeyPrefix+record.ID, record, ttl)
}

// LoadList 读取动态名单
func (s *MailStore) LoadList(ctx context.Context, name domain.ListName) []string {
	raw := s.get(ctx, listKey(name))
	list, ok := tryDecode[[]string](raw)
	if !ok || list == nil {
		return []string{}
	}
	return list
}

// AddToList 将地址插入名单头部
//
// 返回值:
//   - bool: 地址已存在时为 false，名单不变
//   - error: 写入失败
func (s *MailStore) AddToList(ctx context.Context, name domain.ListName, address string) (bool, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return false, fmt.Errorf("address is required")
	}
	list := s.LoadList(ctx, name)
	for _, item := range list {
		if item == address {
			return false, nil
		}
	}
	list = append([]string{address}, list...)
	if err := s.putJSON(ctx, listKey(name), list, 0); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveFromList 按地址值从名单中删除
func (s *MailStore) RemoveFromList(ctx context.Context, name domain.ListName, address string) (bool, error) {
	list := s.LoadList(ctx, name)
	out := make([]string, 0, len(list))
	for _, item := range list {
		if item != address {
			out = append(out, item)
		}
	}
	if len(out) == len(list) {
		return false, nil
	}
	if err := s.putJSON(ctx, listKey(name), out, 0); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveFromListByIndex 按 1 起始的序号从名单中删除
//
// 序号不在 [1, len] 内时返回 ErrInvalidIndex，名单不变。
func (s *MailStore) RemoveFromListByIndex(ctx context.Context, name domain.ListName, index int) (string, error) {
	list := s.LoadList(ctx, name)
	if index < 1 || index > len(list) {
		return "", ErrInvalidIndex
	}
	removed := list[index-1]
	out := append(list[:index-1:index-1], list[index:]...)
	if err := s.putJSON(ctx, listKey(name), out, 0); err != nil {
		return "", err
	}
	return removed, nil
}

// SaveTelegramMapping 记录机器人消息对应的邮件记录 ID
func (s *MailStore) SaveTelegramMapping(ctx context.Context, handle domain.MessageHandle, recordID string, ttl time.Duration) error {
	return s.kv.Put(ctx, fmt.Sprintf(telegramKeyFmt, handle.ChatID, handle.MessageID), recordID, ttl)
}

// LoadTelegramMapping 查找机器人消息对应的邮件记录 ID
func (s *MailStore) LoadTelegramMapping(ctx context.Context, handle domain.MessageHandle) (string, bool) {
	id := s.get(ctx, fmt.Sprintf(telegramKeyFmt, handle.ChatID, handle.MessageID))
	return id, id != ""
}

func (s *MailStore) get(ctx context.Context, key string) string {
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Warn("store read failed", zap.String("key", key), zap.Error(err))
		}
		return ""
	}
	return raw
}

func (s *MailStore) putJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.kv.Put(ctx, key, string(data), ttl); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func listKey(name domain.ListName) string {
	switch name {
	case domain.ListWhite:
		return "WHITE_LIST"
	default:
		return "BLOCK_LIST"
	}
}
