package email

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/hitoshi/newsletter/internal/domain"
)

// sesAPI は*sesv2.Clientのうち送信に必要な部分。
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESClient はAmazon SES v2 APIでメールを送信する。
type SESClient struct {
	api    sesAPI
	sender domain.Email
}

// SESConfig はSESクライアントの接続設定。
// AccessKeyが空の場合はSDKのデフォルト認証情報チェーンを使用する。
type SESConfig struct {
	Region    string
	AccessKey string
	SecretKey string
}

// NewSESClient はAWS設定を読み込みSESClientを生成する。
func NewSESClient(ctx context.Context, cfg SESConfig, sender domain.Email) (*SESClient, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &SESClient{api: sesv2.NewFromConfig(awsCfg), sender: sender}, nil
}

// Send はSimpleメッセージとしてHTML本文とテキスト本文を送信する。
func (c *SESClient) Send(ctx context.Context, to domain.Email, subject, htmlBody, textBody string) error {
	body := &types.Body{}
	if htmlBody != "" {
		body.Html = &types.Content{Data: aws.String(htmlBody), Charset: aws.String("UTF-8")}
	}
	if textBody != "" {
		body.Text = &types.Content{Data: aws.String(textBody), Charset: aws.String("UTF-8")}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(c.sender.String()),
		Destination:      &types.Destination{ToAddresses: []string{to.String()}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
	}

	if _, err := c.api.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}
	return nil
}

var _ Client = (*SESClient)(nil)
