// Package policy 根据白名单和黑名单判断邮件地址是否应被拦截。
package policy

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/TBXark/mail2telegram/internal/config"
	"github.com/TBXark/mail2telegram/internal/domain"
)

// ListSource 提供运行时可修改的动态名单
type ListSource interface {
	LoadList(ctx context.Context, name domain.ListName) []string
}

// Lists 是一次判定中使用的完整名单
type Lists struct {
	White []string
	Block []string
}

// Policy 合并静态名单与动态名单后对地址做判定
type Policy struct {
	white  []string
	block  []string
	source ListSource // 为 nil 时不加载动态名单

	mu    sync.RWMutex
	cache map[string]*regexp.Regexp // 无效表达式缓存为 nil
}

// New 创建地址策略
//
// 参数:
//   - cfg: 邮件配置，提供静态名单和动态名单开关
//   - source: 动态名单来源，cfg.DisableLoadFromDB 为 true 时被忽略
func New(cfg config.MailConfig, source ListSource) *Policy {
	p := &Policy{
		white: append([]string(nil), cfg.WhiteList...),
		block: append([]string(nil), cfg.BlockList...),
		cache: make(map[string]*regexp.Regexp),
	}
	if !cfg.DisableLoadFromDB {
		p.source = source
	}
	return p
}

// DynamicEnabled 报告是否启用了动态名单
func (p *Policy) DynamicEnabled() bool {
	return p.source != nil
}

// Lists 返回静态名单后接动态名单
func (p *Policy) Lists(ctx context.Context) Lists {
	lists := Lists{
		White: append([]string(nil), p.white...),
		Block: append([]string(nil), p.block...),
	}
	if p.source != nil {
		lists.White = append(lists.White, p.source.LoadList(ctx, domain.ListWhite)...)
		lists.Block = append(lists.Block, p.source.LoadList(ctx, domain.ListBlock)...)
	}
	return lists
}

// Classify 判定单个地址
func (p *Policy) Classify(ctx context.Context, address string) domain.AddressStatus {
	return p.classify(p.Lists(ctx), address)
}

// ClassifyAll 判定多个地址，名单只加载一次
func (p *Policy) ClassifyAll(ctx context.Context, addresses ...string) map[string]domain.AddressStatus {
	lists := p.Lists(ctx)
	out := make(map[string]domain.AddressStatus, len(addresses))
	for _, addr := range addresses {
		out[addr] = p.classify(lists, addr)
	}
	return out
}

// Evaluate 判定一封邮件是否应被拦截
//
// 先对全部地址做白名单检查，任意地址命中白名单即放行；
// 之后任意地址命中黑名单则拦截。
func (p *Policy) Evaluate(ctx context.Context, addresses ...string) bool {
	lists := p.Lists(ctx)
	for _, addr := range addresses {
		if p.matchAny(lists.White, addr) {
			return false
		}
	}
	for _, addr := range addresses {
		if p.matchAny(lists.Block, addr) {
			return true
		}
	}
	return false
}

func (p *Policy) classify(lists Lists, address string) domain.AddressStatus {
	if p.matchAny(lists.White, address) {
		return domain.AddressAllow
	}
	if p.matchAny(lists.Block, address) {
		return domain.AddressBlock
	}
	return domain.AddressNoMatch
}

func (p *Policy) matchAny(patterns []string, address string) bool {
	if address == "" {
		return false
	}
	for _, pattern := range patterns {
		if p.match(pattern, address) {
			return true
		}
	}
	return false
}

// match 忽略大小写的完全相等或正则匹配，无效正则视为不匹配
func (p *Policy) match(pattern, address string) bool {
	if pattern == "" {
		return false
	}
	if strings.EqualFold(pattern, address) {
		return true
	}
	re := p.compile(pattern)
	return re != nil && re.MatchString(address)
}

func (p *Policy) compile(pattern string) *regexp.Regexp {
	p.mu.RLock()
	re, ok := p.cache[pattern]
	p.mu.RUnlock()
	if ok {
		return re
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		re = nil
	}

	p.mu.Lock()
	p.cache[pattern] = re
	p.mu.Unlock()
	return re
}
