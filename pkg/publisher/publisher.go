package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"swapctl/pkg/metrics"
	"swapctl/pkg/types"
)

const (
	DefaultSubject = "swapctl.outcomes"
	EventType      = "swap.outcome"
)

// msgPublisher is the part of *nats.Conn the publisher needs
type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
}

// Event is the JSON payload published for every outcome
type Event struct {
	EventType string            `json:"event_type"`
	Service   string            `json:"service"`
	Timestamp time.Time         `json:"timestamp"`
	Outcome   types.SwapOutcome `json:"outcome"`
}

// Publisher emits swap outcomes on a NATS subject
type Publisher struct {
	logger  *zap.Logger
	nc      *nats.Conn
	conn    msgPublisher
	subject string
	service string
}

// Connect dials url and returns a publisher for subject
func Connect(logger *zap.Logger, url, subject, service string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name(service),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(5),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	p := New(logger, nc, subject, service)
	p.nc = nc
	return p, nil
}

// New wraps an existing connection
func New(logger *zap.Logger, conn msgPublisher, subject, service string) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{
		logger:  logger,
		conn:    conn,
		subject: subject,
		service: service,
	}
}

// Name identifies the publisher as an outcome sink
func (p *Publisher) Name() string {
	return "nats"
}

// Record publishes the outcome and waits for the server to acknowledge the flush
func (p *Publisher) Record(ctx context.Context, outcome types.SwapOutcome) error {
	msg, err := p.message(outcome, time.Now().UTC())
	if err != nil {
		metrics.IncNATSMessage(p.subject, "error")
		return err
	}

	if err := p.conn.PublishMsg(msg); err != nil {
		metrics.IncNATSMessage(p.subject, "error")
		return fmt.Errorf("failed to publish outcome %s: %w", outcome.RequestID, err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		metrics.IncNATSMessage(p.subject, "error")
		return fmt.Errorf("failed to flush outcome %s: %w", outcome.RequestID, err)
	}

	p.logger.Debug("publisher.publish_success",
		zap.String("subject", p.subject),
		zap.String("request_id", outcome.RequestID))
	metrics.IncNATSMessage(p.subject, "ok")
	return nil
}

func (p *Publisher) message(outcome types.SwapOutcome, now time.Time) (*nats.Msg, error) {
	data, err := json.Marshal(Event{
		EventType: EventType,
		Service:   p.service,
		Timestamp: now,
		Outcome:   outcome,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outcome %s: %w", outcome.RequestID, err)
	}

	result := "success"
	if !outcome.Succeeded() {
		result = string(outcome.Kind())
	}

	return &nats.Msg{
		Subject: p.subject,
		Data:    data,
		Header: nats.Header{
			"event_type":   []string{EventType},
			"request_id":   []string{outcome.RequestID},
			"result":       []string{result},
			"service":      []string{p.service},
			"content_type": []string{"application/json"},
		},
	}, nil
}

// Close drains the connection opened by Connect
func (p *Publisher) Close() {
	if p.nc != nil && p.nc.IsConnected() {
		_ = p.nc.Drain()
	}
}
