package observers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/yoanipalmas/App-ApplyBot/internal/domain"
	"github.com/yoanipalmas/App-ApplyBot/internal/telemetry"
)

var tracer = telemetry.GetTracer("applybot/observers")

// DefaultEventsSubject is where engine events are published.
const DefaultEventsSubject = "applybot.events"

// ConnectNATS dials with unlimited reconnects. The connection is shared by
// the catalog feed and the event publisher.
func ConnectNATS(url string, timeout time.Duration, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("applybot"),
		nats.Timeout(timeout),
		nats.RetryOnFailedConnect(true),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats: disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats: reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes every event as JSON. Job events go to
// <subject>.<kind> so consumers can subscribe selectively.
type NATSPublisher struct {
	conn    Publisher
	subject string
	logger  *zap.Logger
}

func NewNATSPublisher(conn Publisher, subject string, logger *zap.Logger) *NATSPublisher {
	if subject == "" {
		subject = DefaultEventsSubject
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{conn: conn, subject: subject, logger: logger}
}

func (p *NATSPublisher) Name() string { return "nats" }

func (p *NATSPublisher) Subject(kind domain.EventKind) string {
	return p.subject + "." + string(kind)
}

func (p *NATSPublisher) Handle(ctx context.Context, event domain.Event) error {
	_, span := tracer.Start(ctx, "PublishEvent")
	defer span.End()

	data, err := json.Marshal(event)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := p.Subject(event.Kind)
	span.SetAttributes(
		telemetry.String("nats.subject", subject),
		telemetry.Int("message.size", len(data)),
	)

	if err := p.conn.Publish(subject, data); err != nil {
		span.RecordError(err)
		return fmt.Errorf("publish to NATS: %w", err)
	}

	p.logger.Debug("nats: published event",
		zap.String("subject", subject),
		zap.String("job_id", event.JobID))
	return nil
}
