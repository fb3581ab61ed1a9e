package store

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// NewMySQLStore connects to a MySQL database and ensures the schema. The
// DSN must carry parseTime=true so TIMESTAMP columns scan into time.Time.
func NewMySQLStore(dsn string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &SQLStore{db: db, logger: logger}
	if err := s.initMySQLSchema(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("MySQL store initialized")
	return s, nil
}

func (s *SQLStore) initMySQLSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS employees (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			email VARCHAR(320) NOT NULL UNIQUE,
			display_name VARCHAR(255) NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sender_baselines (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			recipient_email VARCHAR(320) NOT NULL,
			sender_email VARCHAR(320) NOT NULL,
			avg_word_count DOUBLE NOT NULL DEFAULT 0,
			avg_sentence_length DOUBLE NOT NULL DEFAULT 0,
			typical_hours TEXT NOT NULL,
			formality_score DOUBLE NOT NULL DEFAULT 0.5,
			sample_count INT NOT NULL DEFAULT 0,
			last_updated TIMESTAMP NOT NULL,
			UNIQUE KEY uniq_pair (recipient_email, sender_email)
		)`,
		`CREATE TABLE IF NOT EXISTS analyses (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			message_uid VARCHAR(255) NOT NULL,
			recipient_email VARCHAR(320) NOT NULL,
			sender_email VARCHAR(320) NOT NULL,
			sender_display VARCHAR(255) NOT NULL DEFAULT '',
			subject TEXT NOT NULL,
			received_at TIMESTAMP NOT NULL,
			analyzed_at TIMESTAMP NOT NULL,
			channel VARCHAR(32) NOT NULL DEFAULT 'imap',
			prefilter_triggered BOOLEAN NOT NULL DEFAULT FALSE,
			prefilter_signals TEXT NOT NULL,
			dimension_scores TEXT NOT NULL,
			aggregate_score DOUBLE NOT NULL DEFAULT 0,
			severity VARCHAR(16) NOT NULL,
			explanation TEXT NOT NULL,
			recommended_action VARCHAR(16) NOT NULL,
			low_confidence BOOLEAN NOT NULL DEFAULT FALSE,
			processing_ms BIGINT NOT NULL DEFAULT 0,
			UNIQUE KEY uniq_message (message_uid, recipient_email),
			KEY idx_recipient_analyzed (recipient_email, analyzed_at)
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			analysis_id BIGINT NOT NULL,
			severity VARCHAR(16) NOT NULL,
			acknowledged BOOLEAN NOT NULL DEFAULT FALSE,
			acknowledged_by VARCHAR(320) NOT NULL DEFAULT '',
			acknowledged_at TIMESTAMP NULL,
			created_at TIMESTAMP NOT NULL,
			KEY idx_severity_ack (severity, acknowledged, created_at),
			CONSTRAINT fk_alert_analysis FOREIGN KEY (analysis_id) REFERENCES analyses (id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize MySQL schema: %w", err)
		}
	}
	return nil
}
