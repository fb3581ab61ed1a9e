package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStore is an in-memory Store for pipeline tests.
type fakeStore struct {
	fakeBaselineStore

	analyses   map[string]*Analysis
	alerts     []Severity
	employees  map[string]bool
	nextID     int64
	insertErrs []error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		fakeBaselineStore: *newFakeBaselineStore(),
		analyses:          make(map[string]*Analysis),
		employees:         make(map[string]bool),
	}
}

func (s *fakeStore) InsertAnalysis(_ context.Context, analysis *Analysis) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.insertErrs) > 0 {
		err := s.insertErrs[0]
		s.insertErrs = s.insertErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	key := analysis.MessageUID + "|" + analysis.Recipient
	if _, ok := s.analyses[key]; ok {
		return 0, ErrDuplicateAnalysis
	}
	s.nextID++
	copied := *analysis
	copied.ID = s.nextID
	s.analyses[key] = &copied
	return s.nextID, nil
}

func (s *fakeStore) AnalysisByMessage(_ context.Context, messageUID, recipient string) (*Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.analyses[messageUID+"|"+recipient]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (s *fakeStore) RecentAnalyses(_ context.Context, recipient, sender string, since time.Time) ([]*Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Analysis
	for _, a := range s.analyses {
		if a.Recipient == recipient && a.Sender == sender && !a.AnalyzedAt.Before(since) {
			copied := *a
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeStore) EnsureEmployee(_ context.Context, email, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.employees[email] = true
	return nil
}

func (s *fakeStore) InsertAlert(_ context.Context, analysisID int64, severity Severity) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, severity)
	return int64(len(s.alerts)), nil
}

func (s *fakeStore) AcknowledgeAlert(_ context.Context, alertID int64, by string) error {
	return nil
}

func (s *fakeStore) analysisCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.analyses)
}

func (s *fakeStore) alertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

// fakeScoring returns a canned result or error, counting calls. An optional
// gate blocks until released, for concurrency tests.
type fakeScoring struct {
	result *ScoringResult
	err    error
	calls  atomic.Int64
	gate   chan struct{}
}

func (f *fakeScoring) ScoreMessage(ctx context.Context, req *ScoringRequest) (*ScoringResult, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeSink struct {
	mu     sync.Mutex
	events []*AlertEvent
}

func (f *fakeSink) Publish(_ context.Context, event *AlertEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type staticTrusted []string

func (s staticTrusted) Trusted(email string) bool {
	for _, v := range s {
		if v == email {
			return true
		}
	}
	return false
}

func uniformResult(score float64, action Action) *ScoringResult {
	scores := make(map[Dimension]float64, len(Dimensions))
	for _, d := range Dimensions {
		scores[d] = score
	}
	return &ScoringResult{
		DimensionScores:   scores,
		PrimaryTactic:     DimArtificialUrgency,
		Explanation:       "test explanation",
		RecommendedAction: action,
		Confidence:        90,
		ModelUsed:         "test-model",
	}
}

func newTestPipeline(scoring ScoringClient, store *fakeStore, sink *fakeSink, trusted TrustedSenders) *Pipeline {
	logger := zap.NewNop()
	return NewPipeline(scoring, store, sink,
		NewBaselineEngine(store, logger),
		NewCrossChannelDetector(store, logger),
		trusted, logger, time.Second)
}

func wireTransferMessage() *Message {
	return &Message{
		UID:        "4201",
		Recipient:  "carol@corp.example",
		Sender:     "ceo-office@corp-payments.example",
		Subject:    "URGENT: Wire Transfer Needed Today",
		Body:       "This is the CEO. I need you to process a wire transfer immediately. Do not tell anyone, keep this confidential.",
		ReceivedAt: time.Date(2026, 3, 10, 3, 15, 0, 0, time.UTC),
		Channel:    "imap",
	}
}

func TestPipeline_HighRiskMessageRaisesAlert(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	scoring := &fakeScoring{result: uniformResult(40, ActionBlock)}
	p := newTestPipeline(scoring, store, sink, nil)

	analysis, err := p.Analyze(context.Background(), wireTransferMessage())
	require.NoError(t, err)
	p.Wait()

	// Uniform 40 plus prefilter boosts lands in the high band
	assert.GreaterOrEqual(t, analysis.AggregateScore, 60.0)
	assert.Less(t, analysis.AggregateScore, 80.0)
	assert.Equal(t, SeverityHigh, analysis.Severity)
	assert.Equal(t, ActionBlock, analysis.RecommendedAction)
	assert.False(t, analysis.LowConfidence)
	assert.True(t, analysis.PrefilterTriggered)
	assert.Contains(t, analysis.PrefilterSignals, "urgency_language_detected")
	assert.Contains(t, analysis.PrefilterSignals, "authority_reference_detected")

	assert.Equal(t, 1, store.analysisCount())
	assert.Equal(t, 1, store.alertCount())
	assert.Equal(t, 1, sink.count())
	assert.Zero(t, p.PersistFailures())
}

func TestPipeline_LowScoreNoAlert(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	scoring := &fakeScoring{result: uniformResult(5, ActionProceed)}
	p := newTestPipeline(scoring, store, sink, nil)

	msg := &Message{
		UID:        "4202",
		Recipient:  "carol@corp.example",
		Sender:     "alice@partner.example",
		Subject:    "Lunch on Friday",
		Body:       "Want to grab lunch on Friday after the review? The new place downstairs looks good.",
		ReceivedAt: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		Channel:    "imap",
	}
	analysis, err := p.Analyze(context.Background(), msg)
	require.NoError(t, err)
	p.Wait()

	assert.Equal(t, SeverityLow, analysis.Severity)
	assert.Equal(t, 1, store.analysisCount())
	assert.Zero(t, store.alertCount())
	assert.Zero(t, sink.count())
}

func TestPipeline_TimeoutFallsBackToHeuristics(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	scoring := &fakeScoring{gate: make(chan struct{})} // never released
	p := NewPipeline(scoring, store, sink,
		NewBaselineEngine(store, zap.NewNop()),
		NewCrossChannelDetector(store, zap.NewNop()),
		nil, zap.NewNop(), 20*time.Millisecond)

	analysis, err := p.Analyze(context.Background(), wireTransferMessage())
	require.NoError(t, err)
	p.Wait()

	assert.True(t, analysis.LowConfidence)
	assert.LessOrEqual(t, analysis.AggregateScore, 79.0)
	assert.Equal(t, ActionVerify, analysis.RecommendedAction)
	assert.Greater(t, analysis.DimensionScores[DimArtificialUrgency], 0.0)
	assert.Greater(t, analysis.DimensionScores[DimAuthorityImpersonation], 0.0)
	assert.Contains(t, analysis.Explanation, "Automated analysis was unavailable")
}

func TestPipeline_ContractViolationFallsBackToHeuristics(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}

	// Missing dimensions violate the response contract
	scoring := &fakeScoring{result: &ScoringResult{
		DimensionScores:   map[Dimension]float64{DimArtificialUrgency: 90},
		RecommendedAction: ActionBlock,
	}}
	p := newTestPipeline(scoring, store, sink, nil)

	analysis, err := p.Analyze(context.Background(), wireTransferMessage())
	require.NoError(t, err)
	p.Wait()

	assert.True(t, analysis.LowConfidence)
	assert.Equal(t, ActionVerify, analysis.RecommendedAction)
}

func TestPipeline_UnknownActionFallsBackToHeuristics(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	result := uniformResult(50, Action("escalate"))
	p := newTestPipeline(&fakeScoring{result: result}, store, sink, nil)

	analysis, err := p.Analyze(context.Background(), wireTransferMessage())
	require.NoError(t, err)
	p.Wait()

	assert.True(t, analysis.LowConfidence)
}

func TestPipeline_StoredVerdictReused(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	scoring := &fakeScoring{result: uniformResult(70, ActionBlock)}
	p := newTestPipeline(scoring, store, sink, nil)

	msg := wireTransferMessage()
	first, err := p.Analyze(context.Background(), msg)
	require.NoError(t, err)
	p.Wait()

	second, err := p.Analyze(context.Background(), msg)
	require.NoError(t, err)
	p.Wait()

	assert.Equal(t, int64(1), scoring.calls.Load())
	assert.Equal(t, first.AggregateScore, second.AggregateScore)
	assert.Equal(t, 1, store.analysisCount())
	assert.Equal(t, 1, store.alertCount())
}

func TestPipeline_ConcurrentRequestsShareOneVerdict(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	scoring := &fakeScoring{result: uniformResult(70, ActionBlock), gate: make(chan struct{})}
	p := newTestPipeline(scoring, store, sink, nil)

	msg := wireTransferMessage()
	const workers = 8

	results := make([]*Analysis, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.Analyze(context.Background(), msg)
		}(i)
	}

	// Let all workers queue up behind the first before the model answers
	time.Sleep(50 * time.Millisecond)
	close(scoring.gate)
	wg.Wait()
	p.Wait()

	assert.Equal(t, int64(1), scoring.calls.Load())
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
	}
	for i := 1; i < workers; i++ {
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, 1, store.analysisCount())
	assert.Equal(t, 1, store.alertCount())
	assert.Equal(t, 1, sink.count())
}

func TestPipeline_SessionCancelDiscardsPartialVerdict(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	scoring := &fakeScoring{gate: make(chan struct{})} // answers only after release
	p := newTestPipeline(scoring, store, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	analysis, err := p.Analyze(ctx, wireTransferMessage())
	p.Wait()

	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, analysis)
	// Nothing from the torn-down session is recorded or learned
	assert.Zero(t, store.analysisCount())
	assert.Zero(t, store.alertCount())
	b, err := store.GetBaseline(context.Background(), "carol@corp.example", "ceo-office@corp-payments.example")
	require.NoError(t, err)
	assert.Nil(t, b)

	// A reconnecting client gets a fresh model verdict, not a degraded one
	scoring.result = uniformResult(5, ActionProceed)
	close(scoring.gate)
	again, err := p.Analyze(context.Background(), wireTransferMessage())
	require.NoError(t, err)
	p.Wait()

	assert.False(t, again.LowConfidence)
	assert.Equal(t, int64(2), scoring.calls.Load())
	assert.Equal(t, 1, store.analysisCount())
}

func TestPipeline_TrustedSenderBypassed(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	scoring := &fakeScoring{result: uniformResult(70, ActionBlock)}
	p := newTestPipeline(scoring, store, sink, staticTrusted{"alice@partner.example"})

	msg := &Message{
		UID:        "4203",
		Recipient:  "carol@corp.example",
		Sender:     "alice@partner.example",
		Subject:    "URGENT: Wire Transfer Needed Today",
		Body:       "Please process the wire transfer immediately per the CEO.",
		ReceivedAt: time.Now().UTC(),
		Channel:    "imap",
	}
	analysis, err := p.Analyze(context.Background(), msg)
	require.NoError(t, err)
	p.Wait()

	assert.Zero(t, scoring.calls.Load())
	assert.Equal(t, SeverityLow, analysis.Severity)
	assert.Equal(t, ActionProceed, analysis.RecommendedAction)
	assert.Zero(t, analysis.AggregateScore)
	// Bypassed verdicts are not persisted, but the baseline still learns
	assert.Zero(t, store.analysisCount())
	b, err := store.GetBaseline(context.Background(), msg.Recipient, msg.Sender)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, 1, b.SampleCount)
}

func TestPipeline_DuplicateInsertIsSilent(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	scoring := &fakeScoring{result: uniformResult(5, ActionProceed)}
	p := newTestPipeline(scoring, store, sink, nil)

	msg := wireTransferMessage()
	// Another writer already recorded this message
	_, err := store.InsertAnalysis(context.Background(), &Analysis{
		MessageUID: msg.UID,
		Recipient:  "someone-else@corp.example",
	})
	require.NoError(t, err)
	store.insertErrs = []error{ErrDuplicateAnalysis}

	_, err = p.Analyze(context.Background(), msg)
	require.NoError(t, err)
	p.Wait()

	assert.Zero(t, p.PersistFailures())
}

func TestPipeline_PersistFailureCounted(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	scoring := &fakeScoring{result: uniformResult(5, ActionProceed)}
	p := newTestPipeline(scoring, store, sink, nil)

	failure := errors.New("disk full")
	store.insertErrs = []error{failure, failure} // initial attempt and the retry

	_, err := p.Analyze(context.Background(), wireTransferMessage())
	require.NoError(t, err)
	p.Wait()

	assert.Equal(t, int64(1), p.PersistFailures())
}

func TestPipeline_CrossChannelFoldedIn(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	scoring := &fakeScoring{result: uniformResult(0, ActionProceed)}
	p := newTestPipeline(scoring, store, sink, nil)

	msg := wireTransferMessage()
	// Same sender reached the same recipient over SMTP within the window
	_, err := store.InsertAnalysis(context.Background(), &Analysis{
		MessageUID: "prior-1",
		Recipient:  msg.Recipient,
		Sender:     msg.Sender,
		Channel:    "smtp",
		AnalyzedAt: msg.ReceivedAt.Add(-2 * time.Hour),
	})
	require.NoError(t, err)

	analysis, err := p.Analyze(context.Background(), msg)
	require.NoError(t, err)
	p.Wait()

	assert.Greater(t, analysis.DimensionScores[DimCrossChannelCoordination], 0.0)
}
