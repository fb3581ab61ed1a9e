package imap

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mindwall/mindwall/internal/config"
	"github.com/mindwall/mindwall/internal/core"
)

// stubAnalyzer returns a fixed verdict and remembers the messages it saw.
type stubAnalyzer struct {
	mu       sync.Mutex
	score    float64
	severity core.Severity
	messages []*core.Message
}

func (a *stubAnalyzer) Analyze(_ context.Context, msg *core.Message) (*core.Analysis, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, msg)
	return &core.Analysis{
		MessageUID:     msg.UID,
		Recipient:      msg.Recipient,
		Sender:         msg.Sender,
		AggregateScore: a.score,
		Severity:       a.severity,
	}, nil
}

func (a *stubAnalyzer) seen() []*core.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*core.Message(nil), a.messages...)
}

// stubExtractor passes the raw bytes through as the body.
type stubExtractor struct{}

func (stubExtractor) Extract(raw []byte) (string, error) {
	return string(raw), nil
}

func testProxyConfig() config.ProxyConfig {
	return config.ProxyConfig{
		MaxLiteralSize:   1 << 20,
		AnalysisDeadline: 5 * time.Second,
	}
}

// startSession wires a session between two in-memory pipes and returns the
// test-side ends.
func startSession(t *testing.T, analyzer Analyzer) (client, upstream net.Conn, done chan struct{}) {
	t.Helper()

	clientEnd, clientSide := net.Pipe()
	upstreamEnd, upstreamSide := net.Pipe()

	sess := &session{
		cfg:       testProxyConfig(),
		client:    clientSide,
		upstream:  upstreamSide,
		analyzer:  analyzer,
		extractor: stubExtractor{},
		logger:    zap.NewNop(),
	}

	done = make(chan struct{})
	go func() {
		sess.run(context.Background())
		close(done)
	}()

	t.Cleanup(func() {
		clientEnd.Close()
		upstreamEnd.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("session did not shut down")
		}
	})

	return clientEnd, upstreamEnd, done
}

func TestSession_PassthroughBidirectional(t *testing.T) {
	analyzer := &stubAnalyzer{severity: core.SeverityLow}
	client, upstream, _ := startSession(t, analyzer)

	upstreamReader := bufio.NewReader(upstream)
	clientReader := bufio.NewReader(client)

	// greeting flows upstream -> client untouched
	go upstream.Write([]byte("* OK IMAP4rev1 ready\r\n"))
	line, err := clientReader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "* OK IMAP4rev1 ready\r\n", line)

	// commands flow client -> upstream untouched
	go client.Write([]byte("a001 CAPABILITY\r\n"))
	line, err = upstreamReader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "a001 CAPABILITY\r\n", line)

	// untagged non-FETCH responses pass through
	go upstream.Write([]byte("* 18 EXISTS\r\na001 OK done\r\n"))
	line, err = clientReader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "* 18 EXISTS\r\n", line)
	line, err = clientReader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "a001 OK done\r\n", line)

	assert.Empty(t, analyzer.seen())
}

func TestSession_FetchInterception(t *testing.T) {
	analyzer := &stubAnalyzer{score: 72, severity: core.SeverityHigh}
	client, upstream, _ := startSession(t, analyzer)

	clientReader := bufio.NewReader(client)

	literal := "From: dave@vendor.example\r\n" +
		"To: carol@corp.example\r\n" +
		"Subject: Invoice\r\n" +
		"\r\n" +
		"Wire the funds today please.\r\n"
	response := "* 12 FETCH (UID 4827 RFC822 {" + strconv.Itoa(len(literal)) + "}\r\n" +
		literal + ")\r\n"

	go upstream.Write([]byte(response))

	// announce line carries the rewritten size
	line, err := clientReader.ReadString('\n')
	require.NoError(t, err)
	size, ok := BodyLiteralSize([]byte(line))
	require.True(t, ok)
	assert.Greater(t, size, len(literal))

	rewritten := make([]byte, size)
	_, err = io.ReadFull(clientReader, rewritten)
	require.NoError(t, err)

	text := string(rewritten)
	assert.Contains(t, text, "Subject: [RISK:72/HIGH] Invoice\r\n")
	assert.Contains(t, text, "X-MindWall-Score: 72.0\r\n")
	assert.Contains(t, text, "X-MindWall-Severity: high\r\n")
	assert.True(t, strings.HasSuffix(text, "Wire the funds today please.\r\n"))

	line, err = clientReader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ")\r\n", line)

	msgs := analyzer.seen()
	require.Len(t, msgs, 1)
	assert.Equal(t, "4827", msgs[0].UID)
	assert.Equal(t, "dave@vendor.example", msgs[0].Sender)
	assert.Equal(t, "carol@corp.example", msgs[0].Recipient)
	assert.Equal(t, "imap", msgs[0].Channel)
}

func TestSession_LowSeverityPassesThroughUnmodified(t *testing.T) {
	analyzer := &stubAnalyzer{score: 8, severity: core.SeverityLow}
	client, upstream, _ := startSession(t, analyzer)

	clientReader := bufio.NewReader(client)

	literal := "Subject: lunch\r\n\r\nSee you at noon.\r\n"
	response := "* 3 FETCH (UID 9 RFC822 {" + strconv.Itoa(len(literal)) + "}\r\n" +
		literal + ")\r\n"

	go upstream.Write([]byte(response))

	out := make([]byte, len(response))
	_, err := io.ReadFull(clientReader, out)
	require.NoError(t, err)
	assert.Equal(t, response, string(out))
	assert.Len(t, analyzer.seen(), 1)
}

func TestSession_LoginIdentifiesRecipient(t *testing.T) {
	analyzer := &stubAnalyzer{score: 72, severity: core.SeverityHigh}
	client, upstream, _ := startSession(t, analyzer)

	upstreamReader := bufio.NewReader(upstream)
	clientReader := bufio.NewReader(client)

	go client.Write([]byte("a001 LOGIN \"Eve@Corp.example\" hunter2\r\n"))
	_, err := upstreamReader.ReadString('\n')
	require.NoError(t, err)

	// literal has no To header; the LOGIN user becomes the recipient
	literal := "From: dave@vendor.example\r\nSubject: hello\r\n\r\nbody text\r\n"
	response := "* 1 FETCH (UID 2 RFC822 {" + strconv.Itoa(len(literal)) + "}\r\n" +
		literal + ")\r\n"
	go upstream.Write([]byte(response))

	line, err := clientReader.ReadString('\n')
	require.NoError(t, err)
	size, ok := BodyLiteralSize([]byte(line))
	require.True(t, ok)
	buf := make([]byte, size)
	_, err = io.ReadFull(clientReader, buf)
	require.NoError(t, err)
	_, err = clientReader.ReadString('\n')
	require.NoError(t, err)

	msgs := analyzer.seen()
	require.Len(t, msgs, 1)
	assert.Equal(t, "eve@corp.example", msgs[0].Recipient)
}

func TestSession_MultiLineFetchBuffered(t *testing.T) {
	analyzer := &stubAnalyzer{score: 72, severity: core.SeverityHigh}
	client, upstream, _ := startSession(t, analyzer)

	clientReader := bufio.NewReader(client)

	// FLAGS literal-free attribute on its own line before the body literal
	literal := "Subject: check\r\n\r\nbody\r\n"
	response := "* 5 FETCH (FLAGS (\\Seen)\r\n" +
		" UID 77 RFC822 {" + strconv.Itoa(len(literal)) + "}\r\n" +
		literal + ")\r\n"
	go upstream.Write([]byte(response))

	line, err := clientReader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "* 5 FETCH (FLAGS (\\Seen)\r\n", line)

	line, err = clientReader.ReadString('\n')
	require.NoError(t, err)
	size, ok := BodyLiteralSize([]byte(line))
	require.True(t, ok)
	assert.Greater(t, size, len(literal))

	buf := make([]byte, size)
	_, err = io.ReadFull(clientReader, buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf), "[RISK:72/HIGH]")

	msgs := analyzer.seen()
	require.Len(t, msgs, 1)
	assert.Equal(t, "77", msgs[0].UID)
}

func TestParenBalance(t *testing.T) {
	assert.Equal(t, 1, parenBalance([]byte("* 1 FETCH (UID 2 RFC822 {10}\r\n")))
	assert.Equal(t, 0, parenBalance([]byte("* 1 FETCH (FLAGS (\\Seen))\r\n")))
	assert.Equal(t, -1, parenBalance([]byte(")\r\n")))
	// quoted parens do not count
	assert.Equal(t, 1, parenBalance([]byte(`* 1 FETCH (SUBJECT ":-)"` + "\r\n")))
}
