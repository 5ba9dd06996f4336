package mail

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TBXark/mail2telegram/internal/config"
	"github.com/TBXark/mail2telegram/internal/domain"
)

type fakeMessage struct {
	from    string
	to      string
	headers map[string]string
	raw     []byte
	size     int64
	reads    int
	consumed int64
}

func newFakeMessage(raw string) *fakeMessage {
	return &fakeMessage{
		from:    "sender@example.com",
		to:      "me@example.com",
		headers: map[string]string{},
		raw:     []byte(raw),
		size:    int64(len(raw)),
	}
}

func (m *fakeMessage) From() string              { return m.from }
func (m *fakeMessage) To() string                { return m.to }
func (m *fakeMessage) Header(name string) string { return m.headers[name] }
func (m *fakeMessage) Size() int64               { return m.size }
func (m *fakeMessage) Reject(string)             {}

func (m *fakeMessage) Forward(context.Context, string) error { return nil }

func (m *fakeMessage) Raw() io.Reader {
	m.reads++
	return &countingReader{r: bytes.NewReader(m.raw), n: &m.consumed}
}

// countingReader 统计从 Raw() 实际读出的字节数
type countingReader struct {
	r io.Reader
	n *int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	*c.n += int64(n)
	return n, err
}

func newTestParser(maxSize int64, policy domain.OverflowPolicy) *Parser {
	p := NewParser(config.MailConfig{MaxSize: maxSize, MaxSizePolicy: string(policy)})
	p.newID = func() string { return "fixed-id" }
	return p
}

const plainMessage = "From: Alice <alice@example.com>\r\n" +
	"To: me@example.com\r\n" +
	"Subject: Hello\r\n" +
	"Message-ID: <abc@example.com>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Hello there\r\n"

const alternativeMessage = "From: alice@example.com\r\n" +
	"Subject: Alt\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=XYZ\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"plain body\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>html body</p>\r\n" +
	"--XYZ--\r\n"

func TestParser_Parse(t *testing.T) {
	t.Run("纯文本邮件", func(t *testing.T) {
		msg := newFakeMessage(plainMessage)
		msg.headers["Message-ID"] = "<abc@example.com>"
		msg.headers["Subject"] = "Hello"

		record := newTestParser(1<<20, domain.OverflowTruncate).Parse(msg)

		assert.Equal(t, "fixed-id", record.ID)
		assert.Equal(t, "<abc@example.com>", record.MessageID)
		assert.Equal(t, "sender@example.com", record.From)
		assert.Equal(t, "me@example.com", record.To)
		assert.Equal(t, "Hello", record.Subject)
		assert.Contains(t, record.Text, "Hello there")
		assert.Empty(t, record.HTML)
	})

	t.Run("多部分邮件同时保留文本和HTML", func(t *testing.T) {
		record := newTestParser(1<<20, domain.OverflowTruncate).Parse(newFakeMessage(alternativeMessage))

		assert.Contains(t, record.Text, "plain body")
		assert.Contains(t, record.HTML, "<p>html body</p>")
	})

	t.Run("只有HTML时生成文本", func(t *testing.T) {
		raw := "Subject: Html\r\nContent-Type: text/html; charset=utf-8\r\n\r\n<p>only <b>html</b></p>\r\n"
		record := newTestParser(1<<20, domain.OverflowTruncate).Parse(newFakeMessage(raw))

		assert.Contains(t, record.HTML, "<b>html</b>")
		assert.Contains(t, record.Text, "only html")
		assert.NotContains(t, record.Text, "<b>")
	})

	t.Run("缺少Message-ID时使用记录ID", func(t *testing.T) {
		record := newTestParser(1<<20, domain.OverflowTruncate).Parse(newFakeMessage(plainMessage))
		assert.Equal(t, "fixed-id", record.MessageID)
	})

	t.Run("解码编码过的主题", func(t *testing.T) {
		msg := newFakeMessage(plainMessage)
		msg.headers["Subject"] = "=?UTF-8?B?5L2g5aW9?="

		record := newTestParser(1<<20, domain.OverflowTruncate).Parse(msg)
		assert.Equal(t, "你好", record.Subject)
	})

	t.Run("超限且不处理时不读取正文", func(t *testing.T) {
		msg := newFakeMessage(plainMessage)
		msg.size = 2048

		record := newTestParser(1024, domain.OverflowUnhandled).Parse(msg)

		want := "The original size of the email was 2048 bytes, which exceeds the maximum size of 1024 bytes."
		assert.Equal(t, want, record.Text)
		assert.Equal(t, want, record.HTML)
		assert.Equal(t, 0, msg.reads)
	})

	t.Run("超限且截断时追加提示", func(t *testing.T) {
		raw := "Subject: Big\r\nContent-Type: text/plain\r\n\r\n" + strings.Repeat("a", 4096)
		msg := newFakeMessage(raw)

		record := newTestParser(512, domain.OverflowTruncate).Parse(msg)

		suffix := "\n\n[Truncated] The original size of the email was " +
			"4138 bytes, which exceeds the maximum size of 512 bytes."
		require.True(t, strings.HasSuffix(record.Text, suffix), record.Text)
		assert.Less(t, len(record.Text), 512+len(suffix))
		assert.LessOrEqual(t, msg.consumed, int64(512), "截断时最多读取 maxSize 字节")
		assert.Positive(t, msg.consumed)
	})

	t.Run("未超限时各策略结果一致", func(t *testing.T) {
		var records []*domain.EmailRecord
		for _, policy := range []domain.OverflowPolicy{domain.OverflowUnhandled, domain.OverflowTruncate, domain.OverflowPolicy("none")} {
			msg := newFakeMessage(plainMessage)
			require.LessOrEqual(t, msg.Size(), int64(1024))

			record := newTestParser(1024, policy).Parse(msg)
			assert.Equal(t, int64(len(plainMessage)), msg.consumed, "策略 %s 应读取完整正文", policy)
			records = append(records, record)
		}

		for _, record := range records[1:] {
			assert.Equal(t, records[0], record)
		}
		assert.NotContains(t, records[0].Text, "[Truncated]")
	})

	t.Run("其他策略下超限仍完整解析", func(t *testing.T) {
		raw := "Subject: Big\r\nContent-Type: text/plain\r\n\r\n" + strings.Repeat("b", 2048)
		record := newTestParser(512, domain.OverflowPolicy("none")).Parse(newFakeMessage(raw))

		assert.Equal(t, strings.Repeat("b", 2048), record.Text)
	})

	t.Run("解析失败时写入错误提示", func(t *testing.T) {
		raw := "this line is not a header\r\n\r\nbody"
		record := newTestParser(1<<20, domain.OverflowTruncate).Parse(newFakeMessage(raw))

		assert.True(t, strings.HasPrefix(record.Text, "Error parsing email: "), record.Text)
		assert.Equal(t, record.Text, record.HTML)
	})

	t.Run("使用正文头覆盖信封地址", func(t *testing.T) {
		p := NewParser(config.MailConfig{MaxSize: 1 << 20, MaxSizePolicy: "truncate", UseMIMEHeaders: true})
		record := p.Parse(newFakeMessage(plainMessage))

		assert.Equal(t, "alice@example.com", record.From)
		assert.Equal(t, "me@example.com", record.To)
		assert.Equal(t, "Hello", record.Subject)
		assert.Equal(t, "<abc@example.com>", record.MessageID)
	})
}

func TestBoundedReader(t *testing.T) {
	t.Run("达到上限后截断", func(t *testing.T) {
		r := NewBoundedReader(strings.NewReader("0123456789"), 4)
		data, err := io.ReadAll(r)

		require.NoError(t, err)
		assert.Equal(t, "0123", string(data))
		assert.Equal(t, int64(4), r.Consumed())
		assert.True(t, r.Truncated())
	})

	t.Run("源数据较短时不算截断", func(t *testing.T) {
		r := NewBoundedReader(strings.NewReader("abc"), 10)
		data, err := io.ReadAll(r)

		require.NoError(t, err)
		assert.Equal(t, "abc", string(data))
		assert.False(t, r.Truncated())
	})
}
