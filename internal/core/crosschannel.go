package core

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
)

// coordinationWindow is how far back the detector looks for related
// traffic from the same sender to the same recipient.
const coordinationWindow = 24 * time.Hour

// minChannelsForSignal is the distinct channel count that constitutes a
// coordination signal.
const minChannelsForSignal = 2

// CrossChannelResult summarizes coordination evidence for one message.
type CrossChannelResult struct {
	Detected     bool
	Score        float64
	ChannelsUsed []string
	RecentCount  int
}

// CrossChannelDetector looks for the same sender reaching the same
// recipient over multiple channels in a short window, with escalating
// scores treated as corroborating evidence.
type CrossChannelDetector struct {
	analyses AnalysisStore
	logger   *zap.Logger
}

// NewCrossChannelDetector creates a new detector.
func NewCrossChannelDetector(analyses AnalysisStore, logger *zap.Logger) *CrossChannelDetector {
	return &CrossChannelDetector{analyses: analyses, logger: logger}
}

// Detect scores cross-channel coordination for one inbound message.
// Records carrying the message's own Message-ID are ignored: the outbound
// copy of the same mail is not coordination evidence.
func (d *CrossChannelDetector) Detect(ctx context.Context, msg *Message) (CrossChannelResult, error) {
	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	since := receivedAt.Add(-coordinationWindow)

	recent, err := d.analyses.RecentAnalyses(ctx, msg.Recipient, msg.Sender, since)
	if err != nil {
		return CrossChannelResult{ChannelsUsed: []string{msg.Channel}}, err
	}

	related := recent[:0]
	for _, a := range recent {
		if msg.MessageID != "" && a.MessageUID == msg.MessageID {
			continue
		}
		related = append(related, a)
	}
	if len(related) == 0 {
		return CrossChannelResult{ChannelsUsed: []string{msg.Channel}}, nil
	}

	channels := map[string]bool{msg.Channel: true}
	for _, a := range related {
		if a.Channel != "" {
			channels[a.Channel] = true
		}
	}

	detected := len(channels) >= minChannelsForSignal

	var score float64
	if detected {
		score += float64(len(channels)-1) * 25.0
		score += math.Min(float64(len(related))*10.0, 30.0)
		if len(related) >= 2 && related[len(related)-1].AggregateScore > related[0].AggregateScore {
			score += 20.0 // escalation across the window
		}
	}
	score = math.Min(100.0, math.Max(0.0, score))

	used := make([]string, 0, len(channels))
	for ch := range channels {
		used = append(used, ch)
	}
	sort.Strings(used)

	result := CrossChannelResult{
		Detected:     detected,
		Score:        round2(score),
		ChannelsUsed: used,
		RecentCount:  len(related),
	}

	if detected {
		d.logger.Warn("Cross-channel coordination detected",
			zap.String("recipient", msg.Recipient),
			zap.String("sender", msg.Sender),
			zap.Strings("channels", used),
			zap.Float64("score", result.Score))
	}
	return result, nil
}
