package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mindwall/mindwall/internal/config"
	"github.com/mindwall/mindwall/internal/core"
	"github.com/mindwall/mindwall/internal/factory"
	"github.com/mindwall/mindwall/internal/imap"
	"github.com/mindwall/mindwall/internal/logging"
	"github.com/mindwall/mindwall/internal/mime"
	"github.com/mindwall/mindwall/internal/smtp"
	"github.com/mindwall/mindwall/internal/utils"
	"github.com/mindwall/mindwall/internal/whitelist"
)

// BuildContainer creates and configures a dependency injection container
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register text processor
	if err := container.Provide(utils.NewTextProcessor); err != nil {
		return nil, err
	}

	// Register factories
	if err := container.Provide(factory.NewScoringFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewStoreFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewAlertFactory); err != nil {
		return nil, err
	}

	// Register scoring client
	if err := container.Provide(func(f *factory.ScoringFactory) (core.ScoringClient, error) {
		return f.CreateScoringClient()
	}); err != nil {
		return nil, err
	}

	// Register store
	if err := container.Provide(func(f *factory.StoreFactory) (core.Store, error) {
		return f.CreateStore()
	}); err != nil {
		return nil, err
	}

	// Register alert sink
	if err := container.Provide(func(f *factory.AlertFactory) (core.AlertSink, error) {
		return f.CreateAlertSink()
	}); err != nil {
		return nil, err
	}

	// Register trusted-domain checker
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) *whitelist.Checker {
		return whitelist.NewChecker(cfg.GetStringSlice("analysis.trusted_domains"), logger)
	}); err != nil {
		return nil, err
	}

	// Register baseline engine
	if err := container.Provide(func(store core.Store, logger *zap.Logger) *core.BaselineEngine {
		return core.NewBaselineEngine(store, logger)
	}); err != nil {
		return nil, err
	}

	// Register cross-channel detector
	if err := container.Provide(func(store core.Store, logger *zap.Logger) *core.CrossChannelDetector {
		return core.NewCrossChannelDetector(store, logger)
	}); err != nil {
		return nil, err
	}

	// Register analysis pipeline
	if err := container.Provide(func(
		cfg *config.Config,
		scoring core.ScoringClient,
		store core.Store,
		sink core.AlertSink,
		baselines *core.BaselineEngine,
		crossChannel *core.CrossChannelDetector,
		trusted *whitelist.Checker,
		logger *zap.Logger,
	) (*core.Pipeline, error) {
		scoringCfg, err := cfg.GetScoring()
		if err != nil {
			return nil, err
		}
		return core.NewPipeline(scoring, store, sink, baselines, crossChannel,
			trusted, logger, scoringCfg.Timeout), nil
	}); err != nil {
		return nil, err
	}

	// Register content extractor
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) *mime.Extractor {
		return mime.NewExtractor(cfg.GetInt("analysis.min_body_length"), logger)
	}); err != nil {
		return nil, err
	}

	// Register IMAP proxy server
	if err := container.Provide(func(
		cfg *config.Config,
		pipeline *core.Pipeline,
		extractor *mime.Extractor,
		logger *zap.Logger,
	) (*imap.Server, error) {
		proxyCfg, err := cfg.GetProxy()
		if err != nil {
			return nil, err
		}
		dialer := imap.NewUpstreamDialer(proxyCfg, logger)
		return imap.NewServer(proxyCfg, dialer, pipeline, extractor, logger), nil
	}); err != nil {
		return nil, err
	}

	// Register SMTP outbound monitor
	if err := container.Provide(func(cfg *config.Config, store core.Store, logger *zap.Logger) *smtp.Monitor {
		return smtp.NewMonitor(cfg.GetSMTP(), store, logger)
	}); err != nil {
		return nil, err
	}

	return container, nil
}
