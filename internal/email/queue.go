package email

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/newsletter/internal/domain"
	"github.com/hitoshi/newsletter/internal/logger"
	"github.com/hitoshi/newsletter/internal/metrics"
	amqp "github.com/rabbitmq/amqp091-go"
)

// relaySendTimeout はリレーがジョブ1件の送信に使う上限時間。
const relaySendTimeout = 15 * time.Second

// Job はRabbitMQのキューに載せるメール送信ジョブ。
type Job struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html,omitempty"`
	Text    string `json:"text,omitempty"`
}

// amqpPublisher は*amqp.Channelのうち発行に必要な部分。
type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// QueueClient はメールを直接送信せず、RabbitMQのキューにジョブとして発行する。
// 実際の送信はQueueRelayが行う。
type QueueClient struct {
	conn  *amqp.Connection
	ch    amqpPublisher
	queue string
}

// DialQueue はRabbitMQに接続し、永続キューを宣言したQueueClientを返す。
func DialQueue(url, queue string) (*QueueClient, error) {
	conn, ch, err := openQueueChannel(url, queue)
	if err != nil {
		return nil, err
	}
	return &QueueClient{conn: conn, ch: ch, queue: queue}, nil
}

// Send はジョブをJSONにエンコードし、デフォルトエクスチェンジ経由でキューに発行する。
func (c *QueueClient) Send(ctx context.Context, to domain.Email, subject, htmlBody, textBody string) error {
	body, err := json.Marshal(Job{To: to.String(), Subject: subject, HTML: htmlBody, Text: textBody})
	if err != nil {
		return fmt.Errorf("failed to encode email job: %w", err)
	}

	err = c.ch.PublishWithContext(ctx, "", c.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish email job: %w", err)
	}
	return nil
}

// Close は接続を閉じる。
func (c *QueueClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// QueueRelay はRabbitMQのキューからジョブを受け取り、下位のClientで送信する。
// 送信成功でAck、送信失敗で再キュー付きNack、解釈できないジョブは破棄する。
type QueueRelay struct {
	conn       *amqp.Connection
	deliveries <-chan amqp.Delivery
	client     Client
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
}

// NewQueueRelay は受信チャネルと送信用Clientを受け取りQueueRelayを生成する。
func NewQueueRelay(deliveries <-chan amqp.Delivery, client Client, logger *slog.Logger) *QueueRelay {
	return &QueueRelay{deliveries: deliveries, client: client, metrics: metrics.Nop{}, logger: logger}
}

// SetMetrics は送信結果の記録先を設定する。
func (r *QueueRelay) SetMetrics(m metrics.MetricsCollector) {
	if m != nil {
		r.metrics = m
	}
}

// DialQueueRelay はRabbitMQに接続してキューの購読を開始したQueueRelayを返す。
// prefetchは未Ackで受け取る最大メッセージ数。
func DialQueueRelay(url, queue string, prefetch int, client Client, logger *slog.Logger) (*QueueRelay, error) {
	conn, ch, err := openQueueChannel(url, queue)
	if err != nil {
		return nil, err
	}

	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to consume queue: %w", err)
	}

	relay := NewQueueRelay(deliveries, client, logger)
	relay.conn = conn
	return relay, nil
}

// Run はctxがキャンセルされるか受信チャネルが閉じるまでジョブを処理する。
func (r *QueueRelay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-r.deliveries:
			if !ok {
				return nil
			}
			r.handle(ctx, d)
		}
	}
}

// Close は接続を閉じる。
func (r *QueueRelay) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

// handle はジョブ1件を送信する。
// 再配送済みのジョブが再び失敗した場合と恒久的な失敗の場合は再キューせずに破棄する。
func (r *QueueRelay) handle(ctx context.Context, d amqp.Delivery) {
	var job Job
	if err := json.Unmarshal(d.Body, &job); err != nil {
		r.logger.Warn("解釈できないメールジョブを破棄しました", slog.String("error", err.Error()))
		r.metrics.RecordEmailDelivery(metrics.ChannelRelay, metrics.ResultInvalid)
		_ = d.Nack(false, false)
		return
	}

	to, err := domain.ParseEmail(job.To)
	if err != nil {
		r.logger.Warn("宛先が不正なメールジョブを破棄しました", slog.String("error", err.Error()))
		r.metrics.RecordEmailDelivery(metrics.ChannelRelay, metrics.ResultInvalid)
		_ = d.Nack(false, false)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, relaySendTimeout)
	defer cancel()

	if err := r.client.Send(sendCtx, to, job.Subject, job.HTML, job.Text); err != nil {
		if d.Redelivered || IsPermanent(err) {
			r.logger.Error("メールジョブの送信を断念して破棄しました",
				slog.String("to", logger.MaskEmail(job.To)),
				slog.String("error", err.Error()),
			)
			r.metrics.RecordEmailDelivery(metrics.ChannelRelay, metrics.ResultGaveUp)
			_ = d.Nack(false, false)
			return
		}
		r.logger.Warn("メールジョブの送信に失敗したため再キューします",
			slog.String("to", logger.MaskEmail(job.To)),
			slog.String("error", err.Error()),
		)
		r.metrics.RecordEmailDelivery(metrics.ChannelRelay, metrics.ResultFailure)
		_ = d.Nack(false, true)
		return
	}

	r.metrics.RecordEmailDelivery(metrics.ChannelRelay, metrics.ResultSuccess)
	_ = d.Ack(false)
}

func openQueueChannel(url, queue string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("amqp channel: %w", err)
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("queue declare: %w", err)
	}

	return conn, ch, nil
}

var _ Client = (*QueueClient)(nil)
