package forward

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"go.uber.org/zap"

	"github.com/TBXark/mail2telegram/internal/config"
)

// SendEmailAPI 是 SES v2 SendEmail 操作，测试中可替换
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESForwarder 通过 SES 原始邮件接口转发
type SESForwarder struct {
	sender string
	client SendEmailAPI
	log    *zap.Logger
}

// NewSESForwarder 加载 AWS 配置并创建转发器
func NewSESForwarder(ctx context.Context, cfg config.ForwardSESConfig, log *zap.Logger) (*SESForwarder, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESForwarderWithClient(cfg.Sender, sesv2.NewFromConfig(awsCfg), log), nil
}

// NewSESForwarderWithClient 使用指定客户端创建转发器
func NewSESForwarderWithClient(sender string, client SendEmailAPI, log *zap.Logger) *SESForwarder {
	if log == nil {
		log = zap.NewNop()
	}
	return &SESForwarder{sender: sender, client: client, log: log}
}

func (f *SESForwarder) Name() string { return "ses" }

// Forward 原样发送邮件，只替换信封收件人
func (f *SESForwarder) Forward(ctx context.Context, from, to string, raw []byte) error {
	input := &sesv2.SendEmailInput{
		Destination: &types.Destination{ToAddresses: []string{to}},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		},
	}
	if f.sender != "" {
		input.FromEmailAddress = aws.String(f.sender)
	} else if from != "" {
		input.FromEmailAddress = aws.String(from)
	}

	out, err := f.client.SendEmail(ctx, input)
	if err != nil {
		return &RelayError{Err: fmt.Errorf("SES SendEmail: %w", err), Permanent: false}
	}
	f.log.Debug("message forwarded via SES",
		zap.String("to", to),
		zap.String("ses_message_id", aws.ToString(out.MessageId)),
	)
	return nil
}

var _ Forwarder = (*SESForwarder)(nil)
