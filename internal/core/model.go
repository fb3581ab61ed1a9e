package core

import (
	"time"
)

// Severity is the four-tier classification derived from the aggregate score.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Action is the recommended handling for an analyzed message.
type Action string

const (
	ActionProceed Action = "proceed"
	ActionVerify  Action = "verify"
	ActionBlock   Action = "block"
)

// Message is one unit of analyzed content, built per intercepted fetch.
// Immutable once built; the Analysis is the persisted record.
type Message struct {
	UID           string
	MessageID     string // RFC 5322 Message-ID, empty when the header is absent
	Recipient     string
	Sender        string
	SenderDisplay string
	Subject       string
	Body          string
	ReceivedAt    time.Time
	Channel       string
}

// ScoringResult is the structured response from the scoring boundary.
type ScoringResult struct {
	DimensionScores   map[Dimension]float64
	PrimaryTactic     Dimension
	Explanation       string
	RecommendedAction Action
	Confidence        float64
	ModelUsed         string
}

// ScoringRequest carries everything the scoring boundary needs for one
// message: identity, content, baseline context, and prefilter signals.
type ScoringRequest struct {
	Message          *Message
	Baseline         *SenderBaseline
	PrefilterSignals []string
}

// SenderBaseline is the learned communication profile of one sender toward
// one recipient. Updated incrementally, never deleted.
type SenderBaseline struct {
	Recipient         string
	Sender            string
	AvgWordCount      float64
	AvgSentenceLength float64
	TypicalHours      []int
	FormalityScore    float64
	SampleCount       int
	LastUpdated       time.Time
}

// Analysis is the persisted record of one pipeline run, unique per
// (message UID, recipient).
type Analysis struct {
	ID                 int64
	MessageUID         string
	Recipient          string
	Sender             string
	SenderDisplay      string
	Subject            string
	ReceivedAt         time.Time
	AnalyzedAt         time.Time
	Channel            string
	PrefilterTriggered bool
	PrefilterSignals   []string
	DimensionScores    map[Dimension]float64
	AggregateScore     float64
	Severity           Severity
	Explanation        string
	RecommendedAction  Action
	LowConfidence      bool
	ProcessingMs       int64
}

// Alert is created when an analysis crosses the medium threshold. Mutable
// only on acknowledgement.
type Alert struct {
	ID             int64
	AnalysisID     int64
	Severity       Severity
	Acknowledged   bool
	AcknowledgedBy string
	AcknowledgedAt *time.Time
	CreatedAt      time.Time
}

// AlertEvent is the payload pushed to the alert sink.
type AlertEvent struct {
	Event             string                `json:"event"`
	AlertID           int64                 `json:"alert_id"`
	AnalysisID        int64                 `json:"analysis_id"`
	Recipient         string                `json:"recipient_email"`
	Sender            string                `json:"sender_email"`
	Subject           string                `json:"subject"`
	AggregateScore    float64               `json:"manipulation_score"`
	Severity          Severity              `json:"severity"`
	Explanation       string                `json:"explanation"`
	RecommendedAction Action                `json:"recommended_action"`
	DimensionScores   map[Dimension]float64 `json:"dimension_scores"`
	Timestamp         time.Time             `json:"timestamp"`
}
