package factory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mindwall/mindwall/internal/adapters/alert"
	"github.com/mindwall/mindwall/internal/config"
	"github.com/mindwall/mindwall/internal/core"
)

// AlertFactory creates alert sinks based on configuration
type AlertFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewAlertFactory creates a new alert factory
func NewAlertFactory(cfg *config.Config, logger *zap.Logger) *AlertFactory {
	return &AlertFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateAlertSink creates an alert sink based on the configuration
func (f *AlertFactory) CreateAlertSink() (core.AlertSink, error) {
	sinkType := f.cfg.GetString("alerts.sink")

	switch sinkType {
	case "log":
		return alert.NewLogSink(f.logger), nil
	case "nats":
		return alert.NewNATSSink(
			f.cfg.GetString("alerts.nats_url"),
			f.cfg.GetString("alerts.nats_subject"),
			f.logger,
		)
	default:
		return nil, fmt.Errorf("unsupported alert sink: %s", sinkType)
	}
}
