package alert

import (
	"context"

	"go.uber.org/zap"

	"github.com/mindwall/mindwall/internal/core"
)

// LogSink emits alert events to the structured log. The default sink when
// no broker is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a new log sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Publish logs the alert event.
func (s *LogSink) Publish(_ context.Context, event *core.AlertEvent) error {
	s.logger.Warn("Manipulation alert",
		zap.Int64("alert_id", event.AlertID),
		zap.Int64("analysis_id", event.AnalysisID),
		zap.String("recipient", event.Recipient),
		zap.String("sender", event.Sender),
		zap.String("subject", event.Subject),
		zap.Float64("score", event.AggregateScore),
		zap.String("severity", string(event.Severity)),
		zap.String("recommended_action", string(event.RecommendedAction)),
		zap.String("explanation", event.Explanation))
	return nil
}
