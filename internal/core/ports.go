package core

import (
	"context"
	"time"
)

// ScoringClient defines the capability interface to the external inference
// boundary. Implementations must respect ctx cancellation and deadlines.
type ScoringClient interface {
	// ScoreMessage scores one message across all twelve dimensions.
	ScoreMessage(ctx context.Context, req *ScoringRequest) (*ScoringResult, error)
}

// BaselineStore persists per-(recipient, sender) behavioral baselines.
type BaselineStore interface {
	// GetBaseline returns the baseline for a pair, or (nil, nil) when no
	// baseline exists yet (first contact).
	GetBaseline(ctx context.Context, recipient, sender string) (*SenderBaseline, error)

	// UpsertBaseline writes a baseline. expectedSamples is the sample
	// count the caller read before computing the update; a mismatch
	// returns ErrBaselineConflict.
	UpsertBaseline(ctx context.Context, baseline *SenderBaseline, expectedSamples int) error
}

// AnalysisStore persists analysis records and employee rows.
type AnalysisStore interface {
	// InsertAnalysis stores an analysis and returns its identifier.
	// Violating the (message UID, recipient) uniqueness invariant returns
	// ErrDuplicateAnalysis.
	InsertAnalysis(ctx context.Context, analysis *Analysis) (int64, error)

	// AnalysisByMessage returns the analysis for a (message UID,
	// recipient) pair, or ErrNotFound.
	AnalysisByMessage(ctx context.Context, messageUID, recipient string) (*Analysis, error)

	// RecentAnalyses returns analyses for a (recipient, sender) pair
	// since the given time, oldest first.
	RecentAnalyses(ctx context.Context, recipient, sender string, since time.Time) ([]*Analysis, error)

	// EnsureEmployee creates the employee row for a recipient if absent.
	EnsureEmployee(ctx context.Context, email, displayName string) error
}

// AlertStore persists alerts referencing analyses.
type AlertStore interface {
	// InsertAlert creates an alert for an analysis and returns its id.
	InsertAlert(ctx context.Context, analysisID int64, severity Severity) (int64, error)

	// AcknowledgeAlert marks an alert acknowledged. Idempotent.
	AcknowledgeAlert(ctx context.Context, alertID int64, by string) error
}

// Store is the full persistence boundary: employees, sender_baselines,
// analyses, and alerts.
type Store interface {
	BaselineStore
	AnalysisStore
	AlertStore
}

// AlertSink receives alert events above threshold. Publish failures must
// never propagate into the protocol path.
type AlertSink interface {
	Publish(ctx context.Context, event *AlertEvent) error
}
