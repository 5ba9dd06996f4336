package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/TBXark/mail2telegram/internal/domain"
)

var (
	ErrMissingAddress  = errors.New("Missing address or type")
	ErrInvalidListType = errors.New("Invalid type")
	ErrDynamicDisabled = errors.New(msgDynamicDisabled)
)

// AddressStore 是地址名单的持久化操作
type AddressStore interface {
	LoadList(ctx context.Context, name domain.ListName) []string
	AddToList(ctx context.Context, name domain.ListName, address string) (bool, error)
	RemoveFromList(ctx context.Context, name domain.ListName, address string) (bool, error)
}

// AddressLists 是两份动态名单
type AddressLists struct {
	Block []string `json:"block"`
	White []string `json:"white"`
}

// AddressService 管理动态地址名单
type AddressService struct {
	store   AddressStore
	enabled bool
	log     *zap.Logger
}

// NewAddressService 创建名单服务，enabled 为 false 时拒绝修改
func NewAddressService(store AddressStore, enabled bool, log *zap.Logger) *AddressService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AddressService{store: store, enabled: enabled, log: log}
}

// Add 把地址加入名单开头，重复地址被忽略
func (s *AddressService) Add(ctx context.Context, listType, address string) error {
	name, address, err := s.check(listType, address)
	if err != nil {
		return err
	}
	added, err := s.store.AddToList(ctx, name, address)
	if err != nil {
		return err
	}
	s.log.Info("address added", zap.String("list", string(name)), zap.String("address", address), zap.Bool("new", added))
	return nil
}

// Remove 按地址值从名单中删除
func (s *AddressService) Remove(ctx context.Context, listType, address string) error {
	name, address, err := s.check(listType, address)
	if err != nil {
		return err
	}
	removed, err := s.store.RemoveFromList(ctx, name, address)
	if err != nil {
		return err
	}
	s.log.Info("address removed", zap.String("list", string(name)), zap.String("address", address), zap.Bool("found", removed))
	return nil
}

// List 返回两份动态名单
func (s *AddressService) List(ctx context.Context) AddressLists {
	lists := AddressLists{
		Block: s.store.LoadList(ctx, domain.ListBlock),
		White: s.store.LoadList(ctx, domain.ListWhite),
	}
	if lists.Block == nil {
		lists.Block = []string{}
	}
	if lists.White == nil {
		lists.White = []string{}
	}
	return lists
}

func (s *AddressService) check(listType, address string) (domain.ListName, string, error) {
	address = strings.TrimSpace(address)
	if address == "" || listType == "" {
		return "", "", ErrMissingAddress
	}
	name, err := domain.ParseListName(listType)
	if err != nil {
		return "", "", ErrInvalidListType
	}
	if !s.enabled {
		return "", "", ErrDynamicDisabled
	}
	return name, address, nil
}
