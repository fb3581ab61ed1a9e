package imap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mindwall/mindwall/internal/config"
	"github.com/mindwall/mindwall/internal/core"
)

// Analyzer produces the verdict for one intercepted message.
type Analyzer interface {
	Analyze(ctx context.Context, msg *core.Message) (*core.Analysis, error)
}

// Extractor turns a raw MIME message into analyzable plain text.
type Extractor interface {
	Extract(raw []byte) (string, error)
}

// Server is the transparent IMAP proxy. Each accepted client gets its own
// upstream connection; traffic passes through byte-for-byte except FETCH
// responses carrying message bodies, which are held, analyzed, and released
// with the verdict injected.
type Server struct {
	cfg       config.ProxyConfig
	dialer    *UpstreamDialer
	analyzer  Analyzer
	extractor Extractor
	logger    *zap.Logger

	ln net.Listener
	wg sync.WaitGroup
}

// NewServer creates a new proxy server.
func NewServer(
	cfg config.ProxyConfig,
	dialer *UpstreamDialer,
	analyzer Analyzer,
	extractor Extractor,
	logger *zap.Logger,
) *Server {
	return &Server{
		cfg:       cfg,
		dialer:    dialer,
		analyzer:  analyzer,
		extractor: extractor,
		logger:    logger,
	}
}

// ListenAndServe accepts clients until ctx is cancelled, then waits for
// open sessions to drain.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddress, err)
	}
	s.ln = ln
	s.logger.Info("IMAP proxy listening",
		zap.String("address", s.cfg.ListenAddress),
		zap.String("upstream", s.cfg.UpstreamAddress))

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, client net.Conn) {
	defer client.Close()

	logger := s.logger.With(zap.String("client", client.RemoteAddr().String()))
	logger.Info("Client connected")

	upstream, err := s.dialer.Dial(ctx)
	if err != nil {
		// refuse the client rather than serve unanalyzed mail
		fmt.Fprintf(client, "* BYE upstream server unavailable\r\n")
		logger.Error("Refusing client", zap.Error(err))
		return
	}
	defer upstream.Close()

	sess := &session{
		cfg:       s.cfg,
		client:    client,
		upstream:  upstream,
		analyzer:  s.analyzer,
		extractor: s.extractor,
		logger:    logger,
	}
	sess.run(ctx)
	logger.Info("Client disconnected")
}

// session proxies one client/upstream pair. The client-side loop watches
// for LOGIN to learn the mailbox owner; the upstream-side loop intercepts
// FETCH responses.
type session struct {
	cfg       config.ProxyConfig
	client    net.Conn
	upstream  net.Conn
	analyzer  Analyzer
	extractor Extractor
	logger    *zap.Logger

	mu        sync.Mutex
	recipient string
}

func (s *session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- s.clientToUpstream() }()
	go func() { errCh <- s.upstreamToClient(ctx) }()

	err := <-errCh
	cancel()
	s.client.Close()
	s.upstream.Close()
	<-errCh

	switch {
	case err == nil || errors.Is(err, io.EOF):
	case errors.Is(err, core.ErrProtocolViolation):
		s.logger.Warn("Session terminated on protocol violation", zap.Error(err))
	case errors.Is(err, net.ErrClosed):
	default:
		s.logger.Warn("Session ended with error", zap.Error(err))
	}
}

func (s *session) setRecipient(user string) {
	s.mu.Lock()
	s.recipient = user
	s.mu.Unlock()
}

func (s *session) getRecipient() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recipient
}

// clientToUpstream forwards client commands verbatim, learning the mailbox
// owner from LOGIN on the way through.
func (s *session) clientToUpstream() error {
	r := NewReader(s.client, s.cfg.MaxLiteralSize)
	for {
		chunk, err := r.Next()
		if err != nil {
			return err
		}
		if user, ok := LoginUsername(chunk.Line); ok {
			s.setRecipient(user)
			s.logger.Debug("Mailbox owner identified", zap.String("recipient", user))
		}
		if _, err := s.upstream.Write(chunk.Bytes()); err != nil {
			return err
		}
	}
}

// upstreamToClient forwards server responses, holding complete FETCH
// responses that carry message bodies until the verdict is injected.
func (s *session) upstreamToClient(ctx context.Context) error {
	r := NewReader(s.upstream, s.cfg.MaxLiteralSize)
	for {
		chunk, err := r.Next()
		if err != nil {
			return err
		}

		if !IsFetchResponse(chunk.Line) {
			if _, err := s.client.Write(chunk.Bytes()); err != nil {
				return err
			}
			continue
		}

		chunks, err := s.collectFetch(r, chunk)
		if err != nil {
			return err
		}
		out, err := s.intercept(ctx, chunks)
		if err != nil {
			return err
		}
		if _, err := s.client.Write(out); err != nil {
			return err
		}
	}
}

// collectFetch buffers the full FETCH response: all chunks until the
// response's parenthesized list closes. Parentheses inside literals do not
// count toward the balance.
func (s *session) collectFetch(r *Reader, first *Chunk) ([]*Chunk, error) {
	chunks := []*Chunk{first}
	depth := parenBalance(first.Line)
	for depth > 0 {
		next, err := r.Next()
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, next)
		depth += parenBalance(next.Line)
	}
	return chunks, nil
}

// intercept analyzes the message carried by a buffered FETCH response and
// rewrites it with the verdict. Responses without body literals, messages
// too short to analyze, and extraction failures pass through unchanged.
func (s *session) intercept(ctx context.Context, chunks []*Chunk) ([]byte, error) {
	bodyIdx := -1
	for i, c := range chunks {
		if c.Literal == nil {
			continue
		}
		if _, ok := BodyLiteralSize(c.Line); ok {
			bodyIdx = i
			break
		}
	}
	if bodyIdx < 0 {
		return joinChunks(chunks), nil
	}

	raw := chunks[bodyIdx].Literal
	meta := ParseHeaders(raw)

	var uid string
	for _, c := range chunks {
		if u := ExtractUID(c.Line); u != "" {
			uid = u
			break
		}
	}
	if uid == "" {
		uid = uuid.New().String()
	}

	body, err := s.extractor.Extract(raw)
	if err != nil {
		s.logger.Warn("Content extraction failed, passing message through",
			zap.String("uid", uid), zap.Error(err))
		return joinChunks(chunks), nil
	}
	if body == "" {
		return joinChunks(chunks), nil
	}

	recipient := s.getRecipient()
	if recipient == "" {
		recipient = meta.ToAddress
	}
	if recipient == "" {
		recipient = "unknown"
	}
	sender := meta.FromAddress
	if sender == "" {
		sender = "unknown"
	}
	receivedAt := meta.Date
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	msg := &core.Message{
		UID:           uid,
		MessageID:     meta.MessageID,
		Recipient:     recipient,
		Sender:        sender,
		SenderDisplay: meta.FromDisplay,
		Subject:       meta.Subject,
		Body:          body,
		ReceivedAt:    receivedAt,
		Channel:       "imap",
	}

	actx, cancel := context.WithTimeout(ctx, s.cfg.AnalysisDeadline)
	defer cancel()

	analysis, err := s.analyzer.Analyze(actx, msg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && actx.Err() != nil {
			// the pipeline degrades well before this; a wedged analysis
			// means the session cannot be served safely
			return nil, fmt.Errorf("%w: analysis exceeded hard deadline for uid %s",
				core.ErrProtocolViolation, uid)
		}
		s.logger.Error("Analysis failed, passing message through",
			zap.String("uid", uid), zap.Error(err))
		return joinChunks(chunks), nil
	}

	if injected, ok := InjectVerdict(raw, analysis.AggregateScore, analysis.Severity); ok {
		chunks[bodyIdx].Literal = injected
		chunks[bodyIdx].Line = RewriteLiteralSize(chunks[bodyIdx].Line, len(injected))
		s.logger.Info("Verdict injected",
			zap.String("uid", uid),
			zap.Float64("score", analysis.AggregateScore),
			zap.String("severity", string(analysis.Severity)))
	}
	return joinChunks(chunks), nil
}

func joinChunks(chunks []*Chunk) []byte {
	size := 0
	for _, c := range chunks {
		size += len(c.Line) + len(c.Literal)
	}
	out := make([]byte, 0, size)
	for _, c := range chunks {
		out = append(out, c.Bytes()...)
	}
	return out
}

// parenBalance counts unquoted parentheses on a protocol line.
func parenBalance(line []byte) int {
	depth := 0
	inQuote := false
	for _, b := range line {
		switch {
		case b == '"':
			inQuote = !inQuote
		case b == '(' && !inQuote:
			depth++
		case b == ')' && !inQuote:
			depth--
		}
	}
	return depth
}
