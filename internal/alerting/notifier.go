package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	apperrors "github.com/ZanzyTHEbar/deal-health-engine/internal/errors"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/resilience"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

// Notifier delivers a created alert to one channel
type Notifier interface {
	Name() string
	Notify(ctx context.Context, alert *types.HealthAlert) error
}

// SlackNotifier posts alerts to an incoming webhook
type SlackNotifier struct {
	webhookURL string
	channel    string
	client     *http.Client
	breaker    *resilience.CircuitBreaker
	retry      resilience.RetryConfig
}

// NewSlackNotifier creates a Slack notifier. channel may be empty to use the
// webhook default.
func NewSlackNotifier(webhookURL, channel string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		channel:    channel,
		client:     &http.Client{Timeout: 10 * time.Second},
		breaker:    resilience.NewCircuitBreaker("slack", resilience.CircuitBreakerConfig{}),
		retry:      resilience.DefaultRetryConfig(),
	}
}

// WithRetry overrides the retry policy
func (s *SlackNotifier) WithRetry(cfg resilience.RetryConfig) *SlackNotifier {
	s.retry = cfg
	return s
}

func (s *SlackNotifier) Name() string { return "slack" }

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields,omitempty"`
	Ts     int64        `json:"ts"`
}

type slackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

var severityColors = map[types.Severity]string{
	types.SeverityLow:      "#439FE0",
	types.SeverityMedium:   "warning",
	types.SeverityHigh:     "#FF8C00",
	types.SeverityCritical: "danger",
}

func slackPayload(channel string, alert *types.HealthAlert) slackMessage {
	text := alert.Message
	if len(alert.SuggestedActions) > 0 {
		text += "\n• " + strings.Join(alert.SuggestedActions, "\n• ")
	}
	return slackMessage{
		Channel: channel,
		Text:    fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Title),
		Attachments: []slackAttachment{{
			Color: severityColors[alert.Severity],
			Title: alert.Title,
			Text:  text,
			Fields: []slackField{
				{Title: "Type", Value: string(alert.AlertType), Short: true},
				{Title: "Priority", Value: string(alert.ActionPriority), Short: true},
				{Title: "Entity", Value: fmt.Sprintf("%s/%s", alert.EntityKind, alert.EntityID), Short: true},
				{Title: "Owner", Value: alert.OwnerID, Short: true},
			},
			Ts: alert.CreatedAt.Unix(),
		}},
	}
}

// Notify posts the alert, retrying transient failures behind a breaker
func (s *SlackNotifier) Notify(ctx context.Context, alert *types.HealthAlert) error {
	body, err := json.Marshal(slackPayload(s.channel, alert))
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	err = resilience.Retry(ctx, s.retry, func(ctx context.Context) error {
		return s.breaker.Call(func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := s.client.Do(req)
			if err != nil {
				return apperrors.NewNetworkError("slack webhook request failed", err)
			}
			defer apperrors.SafeClose(resp.Body, "slack response body")
			return resilience.CheckResponse(resp)
		})
	})
	if err != nil {
		return apperrors.NewNotifierError(s.Name(), err)
	}
	return nil
}

// MessageWriter is the subset of *kafka.Writer used for publishing
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter creates a synchronous writer for the alert topic
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 250 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
}

// KafkaNotifier publishes alerts as JSON keyed by entity id so every alert
// of one entity lands on the same partition
type KafkaNotifier struct {
	writer MessageWriter
}

// NewKafkaNotifier wraps a writer
func NewKafkaNotifier(writer MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: writer}
}

func (k *KafkaNotifier) Name() string { return "kafka" }

// Notify writes one message per alert
func (k *KafkaNotifier) Notify(ctx context.Context, alert *types.HealthAlert) error {
	if err := publishJSON(ctx, k.writer, alert.EntityID, alert); err != nil {
		return apperrors.NewNotifierError(k.Name(), err)
	}
	return nil
}

// Close closes the underlying writer
func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}

func publishJSON(ctx context.Context, writer MessageWriter, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: body,
		Time:  time.Now().UTC(),
	})
}

// LogNotifier writes alerts to the structured log. It is always enabled.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log notifier. logger may be nil for slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Name() string { return "log" }

func (l *LogNotifier) Notify(ctx context.Context, alert *types.HealthAlert) error {
	l.logger.InfoContext(ctx, "Health alert",
		"alert_id", alert.ID,
		"alert_type", alert.AlertType,
		"severity", alert.Severity,
		"priority", alert.ActionPriority,
		"entity_kind", alert.EntityKind,
		"entity_id", alert.EntityID,
		"owner_id", alert.OwnerID,
		"title", alert.Title,
	)
	return nil
}
