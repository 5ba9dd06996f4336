package domain

import (
	"context"
	"io"
)

// EmailRecord 是一封已接收邮件的缓存副本
//
// ID 每次解析都重新生成，是读取缓存内容的唯一键。
// MessageID 取自原始 Message-ID 头，缺失时回退为 ID，用作投递状态的键。
type EmailRecord struct {
	ID        string `json:"id"`
	MessageID string `json:"messageId"`
	From      string `json:"from"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	HTML      string `json:"html,omitempty"`
	Text      string `json:"text,omitempty"`
}

// DeliveryStatus 记录一封邮件在各通道上已成功的投递
type DeliveryStatus struct {
	Notified    bool     `json:"telegram"`
	ForwardedTo []string `json:"forward"`
}

// HasForwarded 报告是否已经成功转发到 target
func (s *DeliveryStatus) HasForwarded(target string) bool {
	for _, t := range s.ForwardedTo {
		if t == target {
			return true
		}
	}
	return false
}

// MarkForwarded 记录一次成功转发，重复记录会被忽略
func (s *DeliveryStatus) MarkForwarded(target string) {
	if !s.HasForwarded(target) {
		s.ForwardedTo = append(s.ForwardedTo, target)
	}
}

// InboundMessage 是一封等待处理的入站邮件
//
// 每个收件人对应一个实例。Raw 每次调用都返回从头开始的新读取器。
type InboundMessage interface {
	From() string
	To() string
	Header(name string) string
	Size() int64
	Raw() io.Reader
	Reject(reason string)
	Forward(ctx context.Context, target string) error
}

// OverflowPolicy 决定邮件超过大小上限时的处理方式
type OverflowPolicy string

const (
	// OverflowUnhandled 不读取正文，直接返回超限提示
	OverflowUnhandled OverflowPolicy = "unhandled"
	// OverflowTruncate 只读取前 N 字节并尽力解析
	OverflowTruncate OverflowPolicy = "truncate"
)
