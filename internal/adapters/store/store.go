package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/mindwall/mindwall/internal/core"
)

// SQLStore implements core.Store on database/sql. The SQLite and MySQL
// constructors differ only in driver and DDL dialect; all queries here use
// the portable subset.
type SQLStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// GetBaseline returns the baseline for a pair, or (nil, nil) on first
// contact.
func (s *SQLStore) GetBaseline(ctx context.Context, recipient, sender string) (*core.SenderBaseline, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT recipient_email, sender_email, avg_word_count, avg_sentence_length,
		       typical_hours, formality_score, sample_count, last_updated
		FROM sender_baselines
		WHERE recipient_email = ? AND sender_email = ?`,
		recipient, sender)

	var b core.SenderBaseline
	var hoursJSON string
	err := row.Scan(&b.Recipient, &b.Sender, &b.AvgWordCount, &b.AvgSentenceLength,
		&hoursJSON, &b.FormalityScore, &b.SampleCount, &b.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading baseline: %v", core.ErrPersistenceFailure, err)
	}
	if err := json.Unmarshal([]byte(hoursJSON), &b.TypicalHours); err != nil {
		return nil, fmt.Errorf("%w: decoding typical hours: %v", core.ErrPersistenceFailure, err)
	}
	return &b, nil
}

// UpsertBaseline writes a baseline guarded by the sample count the caller
// read. expectedSamples of zero means first contact; an existing row then
// signals a lost race.
func (s *SQLStore) UpsertBaseline(ctx context.Context, baseline *core.SenderBaseline, expectedSamples int) error {
	hoursJSON, err := json.Marshal(baseline.TypicalHours)
	if err != nil {
		return fmt.Errorf("%w: encoding typical hours: %v", core.ErrPersistenceFailure, err)
	}

	if expectedSamples == 0 {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sender_baselines
				(recipient_email, sender_email, avg_word_count, avg_sentence_length,
				 typical_hours, formality_score, sample_count, last_updated)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			baseline.Recipient, baseline.Sender, baseline.AvgWordCount, baseline.AvgSentenceLength,
			string(hoursJSON), baseline.FormalityScore, baseline.SampleCount, baseline.LastUpdated)
		if isDuplicateErr(err) {
			return core.ErrBaselineConflict
		}
		if err != nil {
			return fmt.Errorf("%w: inserting baseline: %v", core.ErrPersistenceFailure, err)
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sender_baselines
		SET avg_word_count = ?, avg_sentence_length = ?, typical_hours = ?,
		    formality_score = ?, sample_count = ?, last_updated = ?
		WHERE recipient_email = ? AND sender_email = ? AND sample_count = ?`,
		baseline.AvgWordCount, baseline.AvgSentenceLength, string(hoursJSON),
		baseline.FormalityScore, baseline.SampleCount, baseline.LastUpdated,
		baseline.Recipient, baseline.Sender, expectedSamples)
	if err != nil {
		return fmt.Errorf("%w: updating baseline: %v", core.ErrPersistenceFailure, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: updating baseline: %v", core.ErrPersistenceFailure, err)
	}
	if affected == 0 {
		return core.ErrBaselineConflict
	}
	return nil
}

// InsertAnalysis stores an analysis row, enforcing one verdict per
// (message UID, recipient).
func (s *SQLStore) InsertAnalysis(ctx context.Context, a *core.Analysis) (int64, error) {
	signalsJSON, err := json.Marshal(a.PrefilterSignals)
	if err != nil {
		return 0, fmt.Errorf("%w: encoding prefilter signals: %v", core.ErrPersistenceFailure, err)
	}
	scoresJSON, err := json.Marshal(a.DimensionScores)
	if err != nil {
		return 0, fmt.Errorf("%w: encoding dimension scores: %v", core.ErrPersistenceFailure, err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO analyses
			(message_uid, recipient_email, sender_email, sender_display, subject,
			 received_at, analyzed_at, channel, prefilter_triggered, prefilter_signals,
			 dimension_scores, aggregate_score, severity, explanation,
			 recommended_action, low_confidence, processing_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.MessageUID, a.Recipient, a.Sender, a.SenderDisplay, a.Subject,
		a.ReceivedAt, a.AnalyzedAt, a.Channel, a.PrefilterTriggered, string(signalsJSON),
		string(scoresJSON), a.AggregateScore, string(a.Severity), a.Explanation,
		string(a.RecommendedAction), a.LowConfidence, a.ProcessingMs)
	if isDuplicateErr(err) {
		return 0, core.ErrDuplicateAnalysis
	}
	if err != nil {
		return 0, fmt.Errorf("%w: inserting analysis: %v", core.ErrPersistenceFailure, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: inserting analysis: %v", core.ErrPersistenceFailure, err)
	}
	return id, nil
}

// AnalysisByMessage returns the stored verdict for a (message UID,
// recipient) pair, or ErrNotFound.
func (s *SQLStore) AnalysisByMessage(ctx context.Context, messageUID, recipient string) (*core.Analysis, error) {
	row := s.db.QueryRowContext(ctx, selectAnalysis+`
		WHERE message_uid = ? AND recipient_email = ?`,
		messageUID, recipient)
	a, err := scanAnalysis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading analysis: %v", core.ErrPersistenceFailure, err)
	}
	return a, nil
}

// RecentAnalyses returns analyses for a pair since the given time, oldest
// first.
func (s *SQLStore) RecentAnalyses(ctx context.Context, recipient, sender string, since time.Time) ([]*core.Analysis, error) {
	rows, err := s.db.QueryContext(ctx, selectAnalysis+`
		WHERE recipient_email = ? AND sender_email = ? AND analyzed_at >= ?
		ORDER BY analyzed_at ASC`,
		recipient, sender, since)
	if err != nil {
		return nil, fmt.Errorf("%w: reading analyses: %v", core.ErrPersistenceFailure, err)
	}
	defer rows.Close()

	var analyses []*core.Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: reading analyses: %v", core.ErrPersistenceFailure, err)
		}
		analyses = append(analyses, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading analyses: %v", core.ErrPersistenceFailure, err)
	}
	return analyses, nil
}

// EnsureEmployee creates the employee row for a recipient if absent.
func (s *SQLStore) EnsureEmployee(ctx context.Context, email, displayName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (email, display_name, created_at)
		VALUES (?, ?, ?)`,
		email, displayName, time.Now().UTC())
	if isDuplicateErr(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: inserting employee: %v", core.ErrPersistenceFailure, err)
	}
	return nil
}

// InsertAlert creates an alert referencing an analysis.
func (s *SQLStore) InsertAlert(ctx context.Context, analysisID int64, severity core.Severity) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (analysis_id, severity, acknowledged, created_at)
		VALUES (?, ?, ?, ?)`,
		analysisID, string(severity), false, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: inserting alert: %v", core.ErrPersistenceFailure, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: inserting alert: %v", core.ErrPersistenceFailure, err)
	}
	return id, nil
}

// AcknowledgeAlert marks an alert acknowledged. Acknowledging an already
// acknowledged alert is a no-op; the first acknowledger is kept.
func (s *SQLStore) AcknowledgeAlert(ctx context.Context, alertID int64, by string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts
		SET acknowledged = ?, acknowledged_by = ?, acknowledged_at = ?
		WHERE id = ? AND acknowledged = ?`,
		true, by, time.Now().UTC(), alertID, false)
	if err != nil {
		return fmt.Errorf("%w: acknowledging alert: %v", core.ErrPersistenceFailure, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: acknowledging alert: %v", core.ErrPersistenceFailure, err)
	}
	if affected == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM alerts WHERE id = ?`, alertID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("%w: acknowledging alert: %v", core.ErrPersistenceFailure, err)
		}
	}
	return nil
}

const selectAnalysis = `
	SELECT id, message_uid, recipient_email, sender_email, sender_display, subject,
	       received_at, analyzed_at, channel, prefilter_triggered, prefilter_signals,
	       dimension_scores, aggregate_score, severity, explanation,
	       recommended_action, low_confidence, processing_ms
	FROM analyses`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (*core.Analysis, error) {
	var a core.Analysis
	var signalsJSON, scoresJSON, severity, action string
	err := row.Scan(&a.ID, &a.MessageUID, &a.Recipient, &a.Sender, &a.SenderDisplay, &a.Subject,
		&a.ReceivedAt, &a.AnalyzedAt, &a.Channel, &a.PrefilterTriggered, &signalsJSON,
		&scoresJSON, &a.AggregateScore, &severity, &a.Explanation,
		&action, &a.LowConfidence, &a.ProcessingMs)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(signalsJSON), &a.PrefilterSignals); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(scoresJSON), &a.DimensionScores); err != nil {
		return nil, err
	}
	a.Severity = core.Severity(severity)
	a.RecommendedAction = core.Action(action)
	return &a, nil
}

// isDuplicateErr recognizes unique-constraint violations from either
// driver.
func isDuplicateErr(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
