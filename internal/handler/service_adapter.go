package handler

import (
	"context"

	"github.com/hitoshi/newsletter/internal/auth"
	"github.com/hitoshi/newsletter/internal/newsletter"
)

// NewsletterServiceAdapter は newsletter.Publisher を NewsletterServiceInterface に適合させるアダプタ。
type NewsletterServiceAdapter struct {
	publisher *newsletter.Publisher
}

// NewNewsletterServiceAdapter はNewsletterServiceAdapterを生成する。
func NewNewsletterServiceAdapter(publisher *newsletter.Publisher) *NewsletterServiceAdapter {
	return &NewsletterServiceAdapter{publisher: publisher}
}

// Publish はニュースレターを配信し、集計結果をhandlerレスポンス型で返す。
// 全宛先が失敗した場合はエラーのみを返す。
func (a *NewsletterServiceAdapter) Publish(ctx context.Context, issue newsletter.Issue, creds auth.Credentials) (*publishResponse, error) {
	report, err := a.publisher.Publish(ctx, issue, creds)
	if err != nil {
		return nil, err
	}
	resp := toPublishResponse(report)
	return &resp, nil
}

// toPublishResponse はnewsletter.Reportをhandlerのレスポンス型に変換する。
func toPublishResponse(report *newsletter.Report) publishResponse {
	resp := publishResponse{
		Recipients: report.Recipients,
		Delivered:  report.Delivered,
		Skipped:    report.Skipped,
		Failed:     report.Failed,
	}
	for _, f := range report.Failures {
		resp.Failures = append(resp.Failures, publishFailure{Recipient: f.Recipient, Reason: f.Reason})
	}
	return resp
}
