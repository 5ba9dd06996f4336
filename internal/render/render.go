// Package render 生成缓存邮件在机器人中的各种视图。
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/TBXark/mail2telegram/internal/config"
	"github.com/TBXark/mail2telegram/internal/domain"
)

// MaxMessageLength 是机器人单条消息的文本长度上限（字符）
const MaxMessageLength = 4096

const (
	noContent           = "No content"
	summaryNotAvailable = "Sorry, the OpenAI API is not configured properly."
)

// Classifier 对地址做名单判定
type Classifier interface {
	ClassifyAll(ctx context.Context, addresses ...string) map[string]domain.AddressStatus
}

// Renderer 渲染邮件视图
type Renderer struct {
	domain     string
	debug      bool
	targetLang string
	summarizer domain.Summarizer
	classifier Classifier
	log        *zap.Logger
}

// NewRenderer 创建渲染器，summarizer 为 nil 表示未配置摘要服务
func NewRenderer(cfg *config.Config, summarizer domain.Summarizer, classifier Classifier, log *zap.Logger) *Renderer {
	if log == nil {
		log = zap.NewNop()
	}
	targetLang := cfg.Summary.TargetLang
	if targetLang == "" {
		targetLang = "english"
	}
	return &Renderer{
		domain:     cfg.Domain,
		debug:      cfg.Debug,
		targetLang: targetLang,
		summarizer: summarizer,
		classifier: classifier,
		log:        log,
	}
}

// SummaryPrompt 返回发送给摘要服务的用户提示
func SummaryPrompt(targetLang, text string) string {
	return fmt.Sprintf("Summarize the following text in approximately 50 words with %s\n\n%s", targetLang, text)
}

// List 渲染列表视图：主题、收发件人和操作按钮
func (r *Renderer) List(record *domain.EmailRecord) domain.View {
	text := fmt.Sprintf("%s\n\n-----------\nFrom\t:\t%s\nTo\t\t:\t%s", record.Subject, record.From, record.To)

	actions := []domain.Action{callback("Preview", domain.CallbackPreview, record.ID)}
	if r.summarizer != nil {
		actions = append(actions, callback("Summary", domain.CallbackSummary, record.ID))
	}
	if record.Text != "" {
		actions = append(actions, domain.Action{Label: "Text", Kind: domain.ActionURL, Value: r.bodyURL(record.ID, "text")})
	}
	if record.HTML != "" {
		actions = append(actions, domain.Action{Label: "HTML", Kind: domain.ActionURL, Value: r.bodyURL(record.ID, "html")})
	}
	if r.debug {
		actions = append(actions, callback("Debug", domain.CallbackDebug, record.ID))
	}

	return domain.View{Text: text, Actions: actions}
}

// Preview 渲染正文预览，超出长度上限的部分被截掉
func (r *Renderer) Preview(record *domain.EmailRecord) domain.View {
	return detail(truncateRunes(record.Text, MaxMessageLength), record.ID)
}

// Summary 渲染摘要视图，摘要失败只影响视图内容
func (r *Renderer) Summary(ctx context.Context, record *domain.EmailRecord) domain.View {
	if r.summarizer == nil {
		return detail(summaryNotAvailable, record.ID)
	}

	summary, err := r.summarizer.Summarize(ctx, SummaryPrompt(r.targetLang, record.Text))
	if err != nil {
		r.log.Warn("summarize failed", zap.String("id", record.ID), zap.Error(err))
		return detail("Failed to summarize: "+err.Error(), record.ID)
	}
	return detail(truncateRunes(summary, MaxMessageLength), record.ID)
}

type debugView struct {
	ID        string                          `json:"id"`
	MessageID string                          `json:"messageId"`
	From      string                          `json:"from"`
	To        string                          `json:"to"`
	Subject   string                          `json:"subject"`
	Block     map[string]domain.AddressStatus `json:"block"`
}

// Debug 渲染调试视图：元数据和名单判定结果，不含正文
func (r *Renderer) Debug(ctx context.Context, record *domain.EmailRecord) domain.View {
	v := debugView{
		ID:        record.ID,
		MessageID: record.MessageID,
		From:      record.From,
		To:        record.To,
		Subject:   record.Subject,
		Block:     map[string]domain.AddressStatus{},
	}
	if r.classifier != nil {
		v.Block = r.classifier.ClassifyAll(ctx, record.From, record.To)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return detail("Error: "+err.Error(), record.ID)
	}
	text := strings.TrimSuffix(buf.String(), "\n")
	return detail(truncateRunes(text, MaxMessageLength), record.ID)
}

func (r *Renderer) bodyURL(id, mode string) string {
	u := url.URL{
		Scheme:   "https",
		Host:     r.domain,
		Path:     "/email/" + id,
		RawQuery: url.Values{"mode": {mode}}.Encode(),
	}
	return u.String()
}

// detail 为详情视图附加返回和删除按钮
func detail(text, id string) domain.View {
	if text == "" {
		text = noContent
	}
	return domain.View{
		Text: text,
		Actions: []domain.Action{
			callback("Back", domain.CallbackList, id),
			{Label: "Delete", Kind: domain.ActionCallback, Value: domain.CallbackDelete},
		},
	}
}

func callback(label, action, id string) domain.Action {
	return domain.Action{Label: label, Kind: domain.ActionCallback, Value: action + ":" + id}
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
