package alert

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/mindwall/mindwall/internal/core"
)

// NATSSink publishes alert events to a NATS subject so dashboards and
// notification workers can subscribe.
type NATSSink struct {
	conn    *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewNATSSink connects to the NATS server and creates the sink.
func NewNATSSink(url, subject string, logger *zap.Logger) (*NATSSink, error) {
	conn, err := nats.Connect(url,
		nats.Name("mindwall-alerts"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	logger.Info("Connected to NATS", zap.String("url", url), zap.String("subject", subject))
	return &NATSSink{
		conn:    conn,
		subject: subject,
		logger:  logger,
	}, nil
}

// Publish sends the alert event as JSON.
func (s *NATSSink) Publish(_ context.Context, event *core.AlertEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode alert event: %w", err)
	}
	if err := s.conn.Publish(s.subject, payload); err != nil {
		return fmt.Errorf("failed to publish alert to %s: %w", s.subject, err)
	}
	return nil
}

// Close drains and closes the NATS connection.
func (s *NATSSink) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}
