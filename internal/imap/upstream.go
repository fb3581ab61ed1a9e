package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/mindwall/mindwall/internal/config"
	"github.com/mindwall/mindwall/internal/core"
)

// UpstreamDialer opens connections to the real IMAP server behind the
// proxy, with implicit TLS by default.
type UpstreamDialer struct {
	cfg    config.ProxyConfig
	logger *zap.Logger
}

// NewUpstreamDialer creates a new upstream dialer.
func NewUpstreamDialer(cfg config.ProxyConfig, logger *zap.Logger) *UpstreamDialer {
	return &UpstreamDialer{cfg: cfg, logger: logger}
}

// Dial connects to the configured upstream. Failures wrap
// ErrUpstreamUnavailable so the session layer can refuse the client.
func (d *UpstreamDialer) Dial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: d.cfg.DialTimeout}

	var conn net.Conn
	var err error
	if d.cfg.UpstreamTLS {
		serverName := d.cfg.UpstreamTLSServerName
		if serverName == "" {
			serverName, _, err = net.SplitHostPort(d.cfg.UpstreamAddress)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid upstream address %q: %v",
					core.ErrUpstreamUnavailable, d.cfg.UpstreamAddress, err)
			}
		}
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config:    &tls.Config{ServerName: serverName},
		}
		conn, err = tlsDialer.DialContext(ctx, "tcp", d.cfg.UpstreamAddress)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", d.cfg.UpstreamAddress)
	}
	if err != nil {
		d.logger.Error("Upstream connection failed",
			zap.String("upstream", d.cfg.UpstreamAddress),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %v", core.ErrUpstreamUnavailable, d.cfg.UpstreamAddress, err)
	}

	d.logger.Info("Connected to upstream",
		zap.String("upstream", d.cfg.UpstreamAddress),
		zap.Bool("tls", d.cfg.UpstreamTLS))
	return conn, nil
}
