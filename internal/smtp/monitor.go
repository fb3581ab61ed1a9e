package smtp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mindwall/mindwall/internal/config"
	"github.com/mindwall/mindwall/internal/core"
	"github.com/mindwall/mindwall/internal/imap"
)

// Monitor observes outbound mail so that cross-channel correlation has a
// record of what each employee sends. Messages are recorded, never scored
// or modified, and optionally relayed to an upstream MTA.
type Monitor struct {
	cfg    config.SMTPConfig
	store  core.AnalysisStore
	logger *zap.Logger
	server *smtp.Server
}

// NewMonitor creates a new outbound monitor.
func NewMonitor(cfg config.SMTPConfig, store core.AnalysisStore, logger *zap.Logger) *Monitor {
	return &Monitor{
		cfg:    cfg,
		store:  store,
		logger: logger,
	}
}

// Start starts the SMTP listener in the background.
func (m *Monitor) Start() error {
	m.server = smtp.NewServer(&backend{monitor: m})
	m.server.Addr = m.cfg.ListenAddress
	m.server.Domain = "localhost"
	m.server.ReadTimeout = 30 * time.Second
	m.server.WriteTimeout = 30 * time.Second
	m.server.MaxMessageBytes = 30 * 1024 * 1024
	m.server.MaxRecipients = 50
	m.server.AllowInsecureAuth = true

	m.logger.Info("SMTP outbound monitor starting", zap.String("address", m.cfg.ListenAddress))

	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != smtp.ErrServerClosed {
			m.logger.Error("SMTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the listener down.
func (m *Monitor) Stop() error {
	if m.server != nil {
		return m.server.Close()
	}
	return nil
}

// relay forwards the message to the configured upstream MTA.
func (m *Monitor) relay(sender string, recipients []string, data []byte) error {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	conn, err := net.DialTimeout("tcp", m.cfg.UpstreamAddress, 10*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to upstream MTA: %w", err)
	}
	if err := conn.SetDeadline(time.Now().Add(30 * time.Second)); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set connection deadline: %w", err)
	}

	c := smtp.NewClient(conn)
	defer c.Close()

	if err := c.Hello(hostname); err != nil {
		return fmt.Errorf("EHLO failed: %w", err)
	}
	if err := c.Mail(sender, nil); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}

	accepted := false
	for _, rcpt := range recipients {
		if err := c.Rcpt(rcpt, nil); err != nil {
			m.logger.Warn("RCPT TO failed", zap.String("recipient", rcpt), zap.Error(err))
		} else {
			accepted = true
		}
	}
	if !accepted {
		return fmt.Errorf("all recipients were rejected")
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA command failed: %w", err)
	}
	if _, err := wc.Write(data); err != nil {
		wc.Close()
		return fmt.Errorf("failed to send message data: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}
	if err := c.Quit(); err != nil {
		m.logger.Warn("QUIT failed", zap.Error(err))
	}
	return nil
}

// record stores an outbound analysis row so the correlation window sees
// smtp-channel traffic. The Message-ID is the record key where present, so
// the inbound copy of the same message is recognizable and client retries
// collapse into one row. Outbound mail is never scored.
func (m *Monitor) record(sender string, recipients []string, subject, messageID string) {
	uid := messageID
	if uid == "" {
		uid = uuid.New().String()
	}

	now := time.Now().UTC()
	for _, rcpt := range recipients {
		scores := make(map[core.Dimension]float64, len(core.Dimensions))
		for _, d := range core.Dimensions {
			scores[d] = 0
		}
		analysis := &core.Analysis{
			MessageUID:        uid,
			Recipient:         strings.ToLower(rcpt),
			Sender:            strings.ToLower(sender),
			Subject:           subject,
			ReceivedAt:        now,
			AnalyzedAt:        now,
			Channel:           "smtp",
			DimensionScores:   scores,
			Severity:          core.SeverityLow,
			Explanation:       "Outbound message recorded for correlation",
			RecommendedAction: core.ActionProceed,
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if _, err := m.store.InsertAnalysis(ctx, analysis); err != nil && !errors.Is(err, core.ErrDuplicateAnalysis) {
			m.logger.Warn("Failed to record outbound message",
				zap.String("sender", sender),
				zap.String("recipient", rcpt),
				zap.Error(err))
		}
		cancel()
	}
}

// backend implements the go-smtp Backend interface
type backend struct {
	monitor *Monitor
}

func (b *backend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &session{
		monitor:    b.monitor,
		recipients: make([]string, 0),
	}, nil
}

// session implements the go-smtp Session interface
type session struct {
	monitor    *Monitor
	sender     string
	recipients []string
}

func (s *session) Reset() {
	s.sender = ""
	s.recipients = make([]string, 0)
}

func (s *session) AuthPlain(_ []byte) error {
	return smtp.ErrAuthUnsupported
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	s.sender = from
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.recipients = append(s.recipients, to)
	return nil
}

// Data records the outbound message and relays it unchanged.
func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		s.monitor.logger.Error("Failed to read message data", zap.Error(err))
		return err
	}

	meta := imap.ParseHeaders(raw)
	if s.monitor.cfg.RecordOutbound {
		s.monitor.record(s.sender, s.recipients, meta.Subject, meta.MessageID)
	}

	if s.monitor.cfg.UpstreamAddress != "" {
		if err := s.monitor.relay(s.sender, s.recipients, raw); err != nil {
			s.monitor.logger.Error("Failed to relay outbound message",
				zap.String("sender", s.sender), zap.Error(err))
			return err
		}
	}

	s.monitor.logger.Info("Outbound message observed",
		zap.String("sender", s.sender),
		zap.Int("recipients", len(s.recipients)),
		zap.String("subject", meta.Subject))
	return nil
}

func (s *session) Logout() error {
	return nil
}
