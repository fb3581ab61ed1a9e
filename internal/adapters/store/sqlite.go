package store

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and
// ensures the schema.
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// churn under concurrent baseline updates.
	db.SetMaxOpenConns(1)

	s := &SQLStore{db: db, logger: logger}
	if err := s.initSQLiteSchema(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite store initialized", zap.String("path", dbPath))
	return s, nil
}

func (s *SQLStore) initSQLiteSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS employees (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sender_baselines (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			recipient_email TEXT NOT NULL,
			sender_email TEXT NOT NULL,
			avg_word_count REAL NOT NULL DEFAULT 0,
			avg_sentence_length REAL NOT NULL DEFAULT 0,
			typical_hours TEXT NOT NULL DEFAULT '[]',
			formality_score REAL NOT NULL DEFAULT 0.5,
			sample_count INTEGER NOT NULL DEFAULT 0,
			last_updated TIMESTAMP NOT NULL,
			UNIQUE (recipient_email, sender_email)
		)`,
		`CREATE TABLE IF NOT EXISTS analyses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			message_uid TEXT NOT NULL,
			recipient_email TEXT NOT NULL,
			sender_email TEXT NOT NULL,
			sender_display TEXT NOT NULL DEFAULT '',
			subject TEXT NOT NULL DEFAULT '',
			received_at TIMESTAMP NOT NULL,
			analyzed_at TIMESTAMP NOT NULL,
			channel TEXT NOT NULL DEFAULT 'imap',
			prefilter_triggered BOOLEAN NOT NULL DEFAULT 0,
			prefilter_signals TEXT NOT NULL DEFAULT '[]',
			dimension_scores TEXT NOT NULL DEFAULT '{}',
			aggregate_score REAL NOT NULL DEFAULT 0,
			severity TEXT NOT NULL,
			explanation TEXT NOT NULL DEFAULT '',
			recommended_action TEXT NOT NULL,
			low_confidence BOOLEAN NOT NULL DEFAULT 0,
			processing_ms INTEGER NOT NULL DEFAULT 0,
			UNIQUE (message_uid, recipient_email)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_analyses_recipient_analyzed
			ON analyses (recipient_email, analyzed_at)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			analysis_id INTEGER NOT NULL REFERENCES analyses (id),
			severity TEXT NOT NULL,
			acknowledged BOOLEAN NOT NULL DEFAULT 0,
			acknowledged_by TEXT NOT NULL DEFAULT '',
			acknowledged_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_severity_ack
			ON alerts (severity, acknowledged, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize SQLite schema: %w", err)
		}
	}
	return nil
}
