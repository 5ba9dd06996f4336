// Package mail 将入站邮件解析为可缓存的记录。
package mail

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"github.com/k3a/html2text"

	"github.com/TBXark/mail2telegram/internal/config"
	"github.com/TBXark/mail2telegram/internal/domain"
)

// Parser 按大小上限和溢出策略解析入站邮件
type Parser struct {
	maxSize        int64
	policy         domain.OverflowPolicy
	useMIMEHeaders bool
	newID          func() string
}

// NewParser 根据邮件配置创建解析器
func NewParser(cfg config.MailConfig) *Parser {
	return &Parser{
		maxSize:        cfg.MaxSize,
		policy:         domain.OverflowPolicy(cfg.MaxSizePolicy),
		useMIMEHeaders: cfg.UseMIMEHeaders,
		newID:          uuid.NewString,
	}
}

// body 是从 MIME 结构中提取出的内容
type body struct {
	text   string
	html   string
	header *gomail.Header
}

// Parse 将入站邮件转换为缓存记录
//
// 解析从不失败：任何错误都会变成记录正文中的提示文字。
func (p *Parser) Parse(msg domain.InboundMessage) *domain.EmailRecord {
	id := p.newID()
	record := &domain.EmailRecord{
		ID:        id,
		MessageID: strings.TrimSpace(msg.Header("Message-ID")),
		From:      msg.From(),
		To:        msg.To(),
		Subject:   decodeHeader(msg.Header("Subject")),
	}
	if record.MessageID == "" {
		record.MessageID = id
	}

	size := msg.Size()
	truncate := false
	if size > p.maxSize {
		switch p.policy {
		case domain.OverflowUnhandled:
			notice := oversizeNotice(size, p.maxSize)
			record.Text = notice
			record.HTML = notice
			return record
		case domain.OverflowTruncate:
			truncate = true
		}
	}

	var src io.Reader = msg.Raw()
	if truncate {
		src = NewBoundedReader(src, p.maxSize)
	}

	b, err := extract(src, truncate)
	if err != nil {
		notice := "Error parsing email: " + err.Error()
		record.Text = notice
		record.HTML = notice
		return record
	}

	if b.html != "" {
		record.HTML = b.html
	}
	if b.text != "" {
		record.Text = b.text
	} else if b.html != "" {
		record.Text = html2text.HTML2Text(b.html)
	}

	if p.useMIMEHeaders && b.header != nil {
		p.applyMIMEHeaders(record, b.header)
	}

	if truncate {
		suffix := "[Truncated] " + oversizeNotice(size, p.maxSize)
		if record.Text == "" {
			record.Text = suffix
		} else {
			record.Text += "\n\n" + suffix
		}
	}

	return record
}

// applyMIMEHeaders 用正文头部覆盖信封字段，缺失的头部保持信封值
func (p *Parser) applyMIMEHeaders(record *domain.EmailRecord, h *gomail.Header) {
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		record.From = from[0].Address
	}
	if to, err := h.AddressList("To"); err == nil && len(to) > 0 {
		addrs := make([]string, 0, len(to))
		for _, a := range to {
			addrs = append(addrs, a.Address)
		}
		record.To = strings.Join(addrs, ", ")
	}
	if subject, err := h.Subject(); err == nil && subject != "" {
		record.Subject = subject
	}
	if id, err := h.MessageID(); err == nil && id != "" {
		record.MessageID = "<" + id + ">"
	}
}

// extract 遍历 MIME 结构，取第一个 text/plain 和 text/html 部分
//
// bestEffort 为 true 时（截断后的数据），读取中途的错误会被忽略，
// 只要已经拿到了头部就返回已读取的内容。
func extract(r io.Reader, bestEffort bool) (*body, error) {
	mr, err := gomail.CreateReader(r)
	if mr == nil {
		if err == nil {
			err = errors.New("empty message")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	b := &body{header: &mr.Header}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && (part == nil || !message.IsUnknownCharset(err)) {
			if bestEffort {
				break
			}
			return nil, err
		}

		h, ok := part.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()

		data, readErr := io.ReadAll(part.Body)
		if readErr != nil && !bestEffort {
			return nil, readErr
		}

		switch strings.ToLower(contentType) {
		case "text/plain", "":
			if b.text == "" {
				b.text = string(data)
			}
		case "text/html":
			if b.html == "" {
				b.html = string(data)
			}
		}

		if readErr != nil {
			break
		}
	}
	return b, nil
}

func oversizeNotice(size, maxSize int64) string {
	return fmt.Sprintf("The original size of the email was %d bytes, which exceeds the maximum size of %d bytes.", size, maxSize)
}
