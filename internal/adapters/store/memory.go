package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mindwall/mindwall/internal/core"
)

// MemoryStore is an in-memory core.Store for one-shot analysis runs and
// tests. Nothing survives a restart.
type MemoryStore struct {
	logger *zap.Logger

	mu        sync.RWMutex
	baselines map[string]*core.SenderBaseline
	analyses  map[string]*core.Analysis // keyed message_uid + "\x00" + recipient
	alerts    map[int64]*core.Alert
	employees map[string]string
	nextID    int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		logger:    logger,
		baselines: make(map[string]*core.SenderBaseline),
		analyses:  make(map[string]*core.Analysis),
		alerts:    make(map[int64]*core.Alert),
		employees: make(map[string]string),
	}
}

func pairKey(recipient, sender string) string {
	return recipient + "\x00" + sender
}

// GetBaseline returns the baseline for a pair, or (nil, nil) on first
// contact.
func (m *MemoryStore) GetBaseline(_ context.Context, recipient, sender string) (*core.SenderBaseline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.baselines[pairKey(recipient, sender)]
	if !ok {
		return nil, nil
	}
	copied := *b
	copied.TypicalHours = append([]int(nil), b.TypicalHours...)
	return &copied, nil
}

// UpsertBaseline writes a baseline guarded by the caller's sample count.
func (m *MemoryStore) UpsertBaseline(_ context.Context, baseline *core.SenderBaseline, expectedSamples int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pairKey(baseline.Recipient, baseline.Sender)
	existing, ok := m.baselines[key]
	if expectedSamples == 0 && ok {
		return core.ErrBaselineConflict
	}
	if expectedSamples > 0 && (!ok || existing.SampleCount != expectedSamples) {
		return core.ErrBaselineConflict
	}

	copied := *baseline
	copied.TypicalHours = append([]int(nil), baseline.TypicalHours...)
	m.baselines[key] = &copied
	return nil
}

// InsertAnalysis stores an analysis, enforcing one verdict per (message
// UID, recipient).
func (m *MemoryStore) InsertAnalysis(_ context.Context, a *core.Analysis) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pairKey(a.MessageUID, a.Recipient)
	if _, ok := m.analyses[key]; ok {
		return 0, core.ErrDuplicateAnalysis
	}

	m.nextID++
	copied := *a
	copied.ID = m.nextID
	m.analyses[key] = &copied
	return copied.ID, nil
}

// AnalysisByMessage returns the stored verdict for a pair, or ErrNotFound.
func (m *MemoryStore) AnalysisByMessage(_ context.Context, messageUID, recipient string) (*core.Analysis, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.analyses[pairKey(messageUID, recipient)]
	if !ok {
		return nil, core.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

// RecentAnalyses returns analyses for a pair since the given time, oldest
// first.
func (m *MemoryStore) RecentAnalyses(_ context.Context, recipient, sender string, since time.Time) ([]*core.Analysis, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*core.Analysis
	for _, a := range m.analyses {
		if a.Recipient == recipient && a.Sender == sender && !a.AnalyzedAt.Before(since) {
			copied := *a
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AnalyzedAt.Before(out[j].AnalyzedAt)
	})
	return out, nil
}

// EnsureEmployee creates the employee row for a recipient if absent.
func (m *MemoryStore) EnsureEmployee(_ context.Context, email, displayName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.employees[email]; !ok {
		m.employees[email] = displayName
	}
	return nil
}

// InsertAlert creates an alert referencing an analysis.
func (m *MemoryStore) InsertAlert(_ context.Context, analysisID int64, severity core.Severity) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	m.alerts[m.nextID] = &core.Alert{
		ID:         m.nextID,
		AnalysisID: analysisID,
		Severity:   severity,
		CreatedAt:  time.Now().UTC(),
	}
	return m.nextID, nil
}

// AcknowledgeAlert marks an alert acknowledged; the first acknowledger is
// kept.
func (m *MemoryStore) AcknowledgeAlert(_ context.Context, alertID int64, by string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert, ok := m.alerts[alertID]
	if !ok {
		return core.ErrNotFound
	}
	if alert.Acknowledged {
		return nil
	}
	now := time.Now().UTC()
	alert.Acknowledged = true
	alert.AcknowledgedBy = by
	alert.AcknowledgedAt = &now
	return nil
}

// Alert returns a stored alert by id. Used in tests.
func (m *MemoryStore) Alert(alertID int64) (*core.Alert, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	alert, ok := m.alerts[alertID]
	if !ok {
		return nil, false
	}
	copied := *alert
	return &copied, true
}
