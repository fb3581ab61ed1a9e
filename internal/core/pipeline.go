package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// fallbackCap bounds the aggregate score a degraded (heuristic) verdict can
// reach. A verdict produced without the model never reports critical.
const fallbackCap = 79.0

// fallbackConfidence is the confidence reported on heuristic verdicts.
const fallbackConfidence = 30.0

// TrustedSenders reports whether a sender address belongs to a trusted
// domain that bypasses analysis.
type TrustedSenders interface {
	Trusted(email string) bool
}

// Pipeline runs the full manipulation analysis for one message: prefilter,
// baseline lookup, behavioral deviation, cross-channel correlation, model
// scoring, aggregation, persistence, and alerting. Persistence and alerting
// run off the caller's path; the verdict itself is synchronous.
type Pipeline struct {
	scoring      ScoringClient
	store        Store
	sink         AlertSink
	baselines    *BaselineEngine
	prefilter    *PreFilter
	deviation    *DeviationScorer
	crossChannel *CrossChannelDetector
	aggregator   *ScoreAggregator
	trusted      TrustedSenders
	logger       *zap.Logger

	scoringTimeout time.Duration

	mu       sync.Mutex
	inflight map[string]*inflightAnalysis

	wg              sync.WaitGroup
	persistFailures atomic.Int64
}

// inflightAnalysis lets concurrent requests for the same message share one
// verdict: the first request computes, the rest wait on done.
type inflightAnalysis struct {
	done     chan struct{}
	analysis *Analysis
	err      error
}

// NewPipeline creates a new analysis pipeline.
func NewPipeline(
	scoring ScoringClient,
	store Store,
	sink AlertSink,
	baselines *BaselineEngine,
	crossChannel *CrossChannelDetector,
	trusted TrustedSenders,
	logger *zap.Logger,
	scoringTimeout time.Duration,
) *Pipeline {
	return &Pipeline{
		scoring:        scoring,
		store:          store,
		sink:           sink,
		baselines:      baselines,
		prefilter:      NewPreFilter(),
		deviation:      NewDeviationScorer(),
		crossChannel:   crossChannel,
		aggregator:     NewScoreAggregator(),
		trusted:        trusted,
		logger:         logger,
		scoringTimeout: scoringTimeout,
		inflight:       make(map[string]*inflightAnalysis),
	}
}

// Analyze produces the verdict for one message. Re-analysis of an already
// persisted message returns the stored verdict unchanged; concurrent
// requests for the same message share a single computation.
func (p *Pipeline) Analyze(ctx context.Context, msg *Message) (*Analysis, error) {
	key := msg.UID + "\x00" + msg.Recipient

	p.mu.Lock()
	if entry, ok := p.inflight[key]; ok {
		p.mu.Unlock()
		select {
		case <-entry.done:
			return entry.analysis, entry.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	entry := &inflightAnalysis{done: make(chan struct{})}
	p.inflight[key] = entry
	p.mu.Unlock()

	analysis, err := p.analyze(ctx, msg)

	entry.analysis, entry.err = analysis, err
	close(entry.done)
	p.mu.Lock()
	delete(p.inflight, key)
	p.mu.Unlock()

	return analysis, err
}

func (p *Pipeline) analyze(ctx context.Context, msg *Message) (*Analysis, error) {
	start := time.Now()

	if existing, err := p.store.AnalysisByMessage(ctx, msg.UID, msg.Recipient); err == nil && existing != nil {
		p.logger.Debug("Reusing stored verdict",
			zap.String("message_uid", msg.UID),
			zap.String("recipient", msg.Recipient))
		return existing, nil
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		p.logger.Warn("Verdict lookup failed, analyzing fresh", zap.Error(err))
	}

	if p.trusted != nil && p.trusted.Trusted(msg.Sender) {
		p.logger.Info("Skipping analysis for trusted sender",
			zap.String("sender", msg.Sender),
			zap.String("action", "trusted_bypass"))
		analysis := p.newAnalysis(msg, start)
		analysis.DimensionScores = p.aggregator.Merge(nil, 0)
		analysis.Severity = SeverityLow
		analysis.Explanation = "Sender domain is trusted"
		analysis.RecommendedAction = ActionProceed
		p.baselines.QueueUpdate(msg)
		return analysis, nil
	}

	pre := p.prefilter.Evaluate(msg.Subject, msg.Body, msg.Sender, msg.ReceivedAt)

	baseline, err := p.baselines.Get(ctx, msg.Recipient, msg.Sender)
	if err != nil {
		p.logger.Warn("Baseline lookup failed, scoring without history",
			zap.String("sender", msg.Sender), zap.Error(err))
		baseline = nil
	}
	dev := p.deviation.Score(msg.Body, msg.ReceivedAt, baseline)

	cc, err := p.crossChannel.Detect(ctx, msg)
	if err != nil {
		p.logger.Warn("Cross-channel lookup failed", zap.Error(err))
	}

	result, lowConfidence, err := p.scoreMessage(ctx, msg, baseline, pre)
	if err != nil {
		// the session is gone; its partial verdict must not be persisted
		// or ever served to a reconnecting client
		p.logger.Warn("Discarding in-flight analysis",
			zap.String("message_uid", msg.UID),
			zap.Error(err))
		return nil, err
	}

	merged := p.aggregator.Merge(result.DimensionScores, dev.DeviationScore)
	if cc.Score > merged[DimCrossChannelCoordination] {
		merged[DimCrossChannelCoordination] = cc.Score
	}

	aggregate := p.aggregator.Aggregate(merged)
	aggregate = round2(min100(aggregate + pre.ScoreBoost))
	if lowConfidence && aggregate > fallbackCap {
		aggregate = fallbackCap
	}
	severity := SeverityFor(aggregate)

	analysis := p.newAnalysis(msg, start)
	analysis.PrefilterTriggered = pre.Triggered
	analysis.PrefilterSignals = pre.Signals
	analysis.DimensionScores = merged
	analysis.AggregateScore = aggregate
	analysis.Severity = severity
	analysis.Explanation = result.Explanation
	analysis.RecommendedAction = result.RecommendedAction
	analysis.LowConfidence = lowConfidence

	p.logger.Info("Analysis complete",
		zap.String("message_uid", msg.UID),
		zap.String("recipient", msg.Recipient),
		zap.String("sender", msg.Sender),
		zap.Float64("score", aggregate),
		zap.String("severity", string(severity)),
		zap.Bool("low_confidence", lowConfidence),
		zap.Int64("processing_ms", analysis.ProcessingMs))

	p.persistAsync(analysis)
	p.baselines.QueueUpdate(msg)

	return analysis, nil
}

func (p *Pipeline) newAnalysis(msg *Message, start time.Time) *Analysis {
	return &Analysis{
		MessageUID:    msg.UID,
		Recipient:     msg.Recipient,
		Sender:        msg.Sender,
		SenderDisplay: msg.SenderDisplay,
		Subject:       msg.Subject,
		ReceivedAt:    msg.ReceivedAt,
		AnalyzedAt:    time.Now().UTC(),
		Channel:       msg.Channel,
		ProcessingMs:  time.Since(start).Milliseconds(),
	}
}

// scoreMessage calls the model under the scoring timeout, validates the
// response contract, and degrades to heuristic scores when either fails.
// A cancelled caller context is not a degradation: the error is returned
// so the partial result is discarded instead of recorded.
func (p *Pipeline) scoreMessage(ctx context.Context, msg *Message, baseline *SenderBaseline, pre PreFilterResult) (*ScoringResult, bool, error) {
	req := &ScoringRequest{
		Message:          msg,
		Baseline:         baseline,
		PrefilterSignals: pre.Signals,
	}

	scoringCtx, cancel := context.WithTimeout(ctx, p.scoringTimeout)
	defer cancel()

	result, err := p.scoring.ScoreMessage(scoringCtx, req)
	if err == nil {
		err = validateResult(result)
	}
	if err == nil {
		return result, false, nil
	}
	if ctx.Err() != nil {
		// the caller's context ended, not the scoring budget
		return nil, false, ctx.Err()
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		err = fmt.Errorf("%w: %v", ErrScoringTimeout, err)
	case !errors.Is(err, ErrScoringContract) && !errors.Is(err, ErrScoringTimeout):
		err = fmt.Errorf("%w: %v", ErrScoringContract, err)
	}
	p.logger.Warn("Model scoring unavailable, using heuristic verdict",
		zap.String("message_uid", msg.UID),
		zap.Error(err))
	return heuristicResult(pre), true, nil
}

// validateResult enforces the scoring response contract: all twelve
// dimensions present and a known recommended action.
func validateResult(r *ScoringResult) error {
	if r == nil {
		return fmt.Errorf("%w: nil result", ErrScoringContract)
	}
	for _, d := range Dimensions {
		if _, ok := r.DimensionScores[d]; !ok {
			return fmt.Errorf("%w: missing dimension %q", ErrScoringContract, d)
		}
	}
	switch r.RecommendedAction {
	case ActionProceed, ActionVerify, ActionBlock:
	default:
		return fmt.Errorf("%w: unknown recommended action %q", ErrScoringContract, r.RecommendedAction)
	}
	return nil
}

// heuristicResult maps triggered prefilter signals onto conservative
// dimension scores when the model cannot be consulted.
func heuristicResult(pre PreFilterResult) *ScoringResult {
	scores := make(map[Dimension]float64, len(Dimensions))
	for _, d := range Dimensions {
		scores[d] = 0
	}

	for _, signal := range pre.Signals {
		switch BaseSignal(signal) {
		case "urgency_language_detected":
			raiseTo(scores, DimArtificialUrgency, 40)
		case "authority_reference_detected":
			raiseTo(scores, DimAuthorityImpersonation, 45)
		case "fear_threat_language_detected":
			raiseTo(scores, DimFearThreatInduction, 40)
		case "emotional_manipulation_detected":
			raiseTo(scores, DimEmotionalEscalation, 35)
		case "spoofed_sender_pattern":
			raiseTo(scores, DimAuthorityImpersonation, 60)
		case "all_caps_subject":
			raiseTo(scores, DimEmotionalEscalation, 20)
		case "suspicious_request_detected":
			raiseTo(scores, DimUnusualActionRequested, 50)
		}
	}

	primary := Dimensions[0]
	for _, d := range Dimensions {
		if scores[d] > scores[primary] {
			primary = d
		}
	}

	action := ActionProceed
	explanation := "Automated analysis was unavailable and no manipulation indicators were found."
	if pre.Triggered {
		action = ActionVerify
		explanation = fmt.Sprintf(
			"Automated analysis was unavailable; rule-based checks flagged this message (%s). Verify the request through a known channel before acting.",
			strings.Join(baseSignals(pre.Signals), ", "))
	}

	return &ScoringResult{
		DimensionScores:   scores,
		PrimaryTactic:     primary,
		Explanation:       explanation,
		RecommendedAction: action,
		Confidence:        fallbackConfidence,
		ModelUsed:         "heuristic-fallback",
	}
}

func raiseTo(scores map[Dimension]float64, d Dimension, v float64) {
	if scores[d] < v {
		scores[d] = v
	}
}

func baseSignals(signals []string) []string {
	out := make([]string, len(signals))
	for i, s := range signals {
		out[i] = BaseSignal(s)
	}
	return out
}

// persistAsync records the verdict and raises the alert off the caller's
// path. Ordering within the chain is strict: the analysis row exists before
// its alert row, and the alert row before the sink publish.
func (p *Pipeline) persistAsync(analysis *Analysis) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := p.store.EnsureEmployee(ctx, analysis.Recipient, ""); err != nil {
			p.logger.Warn("Employee upsert failed", zap.String("recipient", analysis.Recipient), zap.Error(err))
		}

		id, err := p.insertWithRetry(ctx, analysis)
		if err != nil {
			if errors.Is(err, ErrDuplicateAnalysis) {
				// another writer recorded this message first
				return
			}
			p.persistFailures.Add(1)
			p.logger.Error("Dropping analysis record",
				zap.String("message_uid", analysis.MessageUID),
				zap.Int64("persist_failures", p.persistFailures.Load()),
				zap.Error(err))
			return
		}
		analysis.ID = id

		if analysis.AggregateScore < AlertThreshold {
			return
		}

		alertID, err := p.store.InsertAlert(ctx, id, analysis.Severity)
		if err != nil {
			p.persistFailures.Add(1)
			p.logger.Error("Alert insert failed", zap.Int64("analysis_id", id), zap.Error(err))
			return
		}

		event := &AlertEvent{
			Event:             "manipulation_alert",
			AlertID:           alertID,
			AnalysisID:        id,
			Recipient:         analysis.Recipient,
			Sender:            analysis.Sender,
			Subject:           analysis.Subject,
			AggregateScore:    analysis.AggregateScore,
			Severity:          analysis.Severity,
			Explanation:       analysis.Explanation,
			RecommendedAction: analysis.RecommendedAction,
			DimensionScores:   analysis.DimensionScores,
			Timestamp:         time.Now().UTC(),
		}
		if err := p.sink.Publish(ctx, event); err != nil {
			p.logger.Error("Alert publish failed", zap.Int64("alert_id", alertID), zap.Error(err))
		}
	}()
}

func (p *Pipeline) insertWithRetry(ctx context.Context, analysis *Analysis) (int64, error) {
	id, err := p.store.InsertAnalysis(ctx, analysis)
	if err == nil || errors.Is(err, ErrDuplicateAnalysis) {
		return id, err
	}
	p.logger.Warn("Analysis insert failed, retrying once", zap.Error(err))
	return p.store.InsertAnalysis(ctx, analysis)
}

// PersistFailures reports how many verdicts could not be recorded.
func (p *Pipeline) PersistFailures() int64 {
	return p.persistFailures.Load()
}

// Wait blocks until all in-flight persistence work has drained. Used on
// shutdown and in tests.
func (p *Pipeline) Wait() {
	p.wg.Wait()
	p.baselines.Wait()
}

func min100(v float64) float64 {
	if v > 100 {
		return 100
	}
	return v
}
