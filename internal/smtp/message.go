package smtp

import (
	"bufio"
	"bytes"
	"context"
	"io"

	"github.com/emersion/go-message/textproto"

	"github.com/TBXark/mail2telegram/internal/forward"
)

// inboundMessage 是 DATA 阶段收到的邮件在单个收件人上的视图
//
// 同一次事务的所有收件人共享 raw 和 header，只读。
type inboundMessage struct {
	from      string
	to        string
	header    textproto.Header
	raw       []byte
	size      int64
	forwarder forward.Forwarder

	rejected     bool
	rejectReason string
}

// readHeader 解析邮件头部，解析失败时返回空头部
func readHeader(raw []byte) textproto.Header {
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return textproto.Header{}
	}
	return h
}

func (m *inboundMessage) From() string { return m.from }

func (m *inboundMessage) To() string { return m.to }

func (m *inboundMessage) Header(name string) string { return m.header.Get(name) }

// Size 取实际接收字节数和 MAIL FROM 声明的 SIZE 中较大者
func (m *inboundMessage) Size() int64 {
	if n := int64(len(m.raw)); n > m.size {
		return n
	}
	return m.size
}

func (m *inboundMessage) Raw() io.Reader { return bytes.NewReader(m.raw) }

func (m *inboundMessage) Reject(reason string) {
	m.rejected = true
	m.rejectReason = reason
}

func (m *inboundMessage) Forward(ctx context.Context, target string) error {
	if m.forwarder == nil {
		return forward.Noop{}.Forward(ctx, m.from, target, m.raw)
	}
	return m.forwarder.Forward(ctx, m.from, target, m.raw)
}
