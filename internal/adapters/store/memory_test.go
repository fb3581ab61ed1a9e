package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mindwall/mindwall/internal/core"
)

func testAnalysis(uid, recipient string, at time.Time) *core.Analysis {
	return &core.Analysis{
		MessageUID:        uid,
		Recipient:         recipient,
		Sender:            "dave@vendor.example",
		Subject:           "test",
		Channel:           "imap",
		AnalyzedAt:        at,
		AggregateScore:    42,
		Severity:          core.SeverityMedium,
		RecommendedAction: core.ActionVerify,
	}
}

func TestMemoryStore_InsertAnalysisUniqueness(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()
	at := time.Now().UTC()

	id, err := s.InsertAnalysis(ctx, testAnalysis("100", "carol@corp.example", at))
	require.NoError(t, err)
	assert.Positive(t, id)

	_, err = s.InsertAnalysis(ctx, testAnalysis("100", "carol@corp.example", at))
	assert.ErrorIs(t, err, core.ErrDuplicateAnalysis)

	// same UID for a different recipient is a distinct verdict
	id2, err := s.InsertAnalysis(ctx, testAnalysis("100", "erin@corp.example", at))
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)
}

func TestMemoryStore_AnalysisByMessage(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	_, err := s.AnalysisByMessage(ctx, "100", "carol@corp.example")
	assert.ErrorIs(t, err, core.ErrNotFound)

	id, err := s.InsertAnalysis(ctx, testAnalysis("100", "carol@corp.example", time.Now().UTC()))
	require.NoError(t, err)

	a, err := s.AnalysisByMessage(ctx, "100", "carol@corp.example")
	require.NoError(t, err)
	assert.Equal(t, id, a.ID)
	assert.Equal(t, 42.0, a.AggregateScore)
}

func TestMemoryStore_RecentAnalysesWindowAndOrder(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	for i, offset := range []time.Duration{-30 * time.Hour, -3 * time.Hour, -1 * time.Hour} {
		uid := string(rune('a' + i))
		_, err := s.InsertAnalysis(ctx, testAnalysis(uid, "carol@corp.example", base.Add(offset)))
		require.NoError(t, err)
	}
	// different sender pair is excluded
	other := testAnalysis("z", "carol@corp.example", base)
	other.Sender = "mallory@other.example"
	_, err := s.InsertAnalysis(ctx, other)
	require.NoError(t, err)

	recent, err := s.RecentAnalyses(ctx, "carol@corp.example", "dave@vendor.example", base.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].MessageUID)
	assert.Equal(t, "c", recent[1].MessageUID)
	assert.True(t, recent[0].AnalyzedAt.Before(recent[1].AnalyzedAt))
}

func TestMemoryStore_BaselineConflictSemantics(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	b := &core.SenderBaseline{
		Recipient:    "carol@corp.example",
		Sender:       "dave@vendor.example",
		AvgWordCount: 50,
		TypicalHours: []int{9},
		SampleCount:  1,
	}

	// insert path requires no existing row
	require.NoError(t, s.UpsertBaseline(ctx, b, 0))
	assert.ErrorIs(t, s.UpsertBaseline(ctx, b, 0), core.ErrBaselineConflict)

	// guarded update requires the observed sample count
	b2 := *b
	b2.SampleCount = 2
	assert.ErrorIs(t, s.UpsertBaseline(ctx, &b2, 5), core.ErrBaselineConflict)
	require.NoError(t, s.UpsertBaseline(ctx, &b2, 1))

	got, err := s.GetBaseline(ctx, b.Recipient, b.Sender)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.SampleCount)
}

func TestMemoryStore_GetBaselineFirstContact(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())

	b, err := s.GetBaseline(context.Background(), "nobody@corp.example", "dave@vendor.example")
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestMemoryStore_BaselineReadIsCopy(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.UpsertBaseline(ctx, &core.SenderBaseline{
		Recipient:    "carol@corp.example",
		Sender:       "dave@vendor.example",
		TypicalHours: []int{9, 14},
		SampleCount:  1,
	}, 0))

	first, err := s.GetBaseline(ctx, "carol@corp.example", "dave@vendor.example")
	require.NoError(t, err)
	first.TypicalHours[0] = 23
	first.SampleCount = 99

	second, err := s.GetBaseline(ctx, "carol@corp.example", "dave@vendor.example")
	require.NoError(t, err)
	assert.Equal(t, []int{9, 14}, second.TypicalHours)
	assert.Equal(t, 1, second.SampleCount)
}

func TestMemoryStore_AcknowledgeAlert(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	analysisID, err := s.InsertAnalysis(ctx, testAnalysis("200", "carol@corp.example", time.Now().UTC()))
	require.NoError(t, err)
	alertID, err := s.InsertAlert(ctx, analysisID, core.SeverityHigh)
	require.NoError(t, err)

	require.NoError(t, s.AcknowledgeAlert(ctx, alertID, "analyst-1"))

	alert, ok := s.Alert(alertID)
	require.True(t, ok)
	assert.True(t, alert.Acknowledged)
	assert.Equal(t, "analyst-1", alert.AcknowledgedBy)
	require.NotNil(t, alert.AcknowledgedAt)

	// idempotent: a second acknowledger does not replace the first
	require.NoError(t, s.AcknowledgeAlert(ctx, alertID, "analyst-2"))
	alert, ok = s.Alert(alertID)
	require.True(t, ok)
	assert.Equal(t, "analyst-1", alert.AcknowledgedBy)

	assert.ErrorIs(t, s.AcknowledgeAlert(ctx, 9999, "analyst-1"), core.ErrNotFound)
}

func TestMemoryStore_EnsureEmployeeIdempotent(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.EnsureEmployee(ctx, "carol@corp.example", "Carol"))
	require.NoError(t, s.EnsureEmployee(ctx, "carol@corp.example", "Someone Else"))

	s.mu.RLock()
	defer s.mu.RUnlock()
	assert.Equal(t, "Carol", s.employees["carol@corp.example"])
}
