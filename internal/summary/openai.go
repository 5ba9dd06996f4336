// Package summary 通过 OpenAI 兼容接口生成邮件摘要。
package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/TBXark/mail2telegram/internal/config"
)

const systemPrompt = "You are a professional email summarization assistant."

// ErrEmptyResponse 接口返回了空结果
var ErrEmptyResponse = errors.New("empty response from summarization backend")

// OpenAI 是基于 chat completions 接口的摘要器
type OpenAI struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	log     *zap.Logger
}

// NewOpenAI 根据配置创建摘要器，未配置 API Key 时返回 nil
func NewOpenAI(cfg config.SummaryConfig, log *zap.Logger) *OpenAI {
	if !cfg.Enabled() {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if base := BaseURL(cfg.Endpoint); base != "" {
		clientConfig.BaseURL = base
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	return &OpenAI{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   model,
		timeout: 60 * time.Second,
		log:     log,
	}
}

// BaseURL 把完整的 completions 地址转换为客户端需要的基础地址
func BaseURL(endpoint string) string {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	return strings.TrimSuffix(endpoint, "/chat/completions")
}

// Summarize 发送提示并返回第一条回复
func (o *OpenAI) Summarize(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}

	o.log.Debug("summary generated",
		zap.String("model", o.model),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return resp.Choices[0].Message.Content, nil
}
