package core

import (
	"math"
	"regexp"
	"strings"
	"time"
)

// Deviation component weights. They sum to 1.0.
const (
	wordCountWeight      = 0.30
	sentenceLengthWeight = 0.15
	timingWeight         = 0.25
	formalityWeight      = 0.30
)

// minBaselineSamples is the sample count below which deviation is not
// scored: too little history for a meaningful comparison.
const minBaselineSamples = 3

// DeviationContext is the result of scoring a message against the sender's
// baseline.
type DeviationContext struct {
	DeviationScore          float64
	WordCountDeviation      float64
	SentenceLengthDeviation float64
	TimingDeviation         float64
	FormalityDeviation      float64
}

// DeviationScorer computes how far a message departs from the sender's
// established baseline, as a 0-100 score saturating at 100.
type DeviationScorer struct{}

// NewDeviationScorer creates a new deviation scorer.
func NewDeviationScorer() *DeviationScorer {
	return &DeviationScorer{}
}

// Score compares the message body and receive time against the baseline.
// A nil baseline (first contact) or one with too few samples scores 0.
func (s *DeviationScorer) Score(body string, receivedAt time.Time, baseline *SenderBaseline) DeviationContext {
	if baseline == nil || baseline.SampleCount < minBaselineSamples {
		return DeviationContext{}
	}

	wordCount, avgSentenceLen := textMetrics(body)

	var wcScore float64
	if baseline.AvgWordCount > 0 {
		pct := math.Abs(float64(wordCount)-baseline.AvgWordCount) / baseline.AvgWordCount
		wcScore = math.Min(100.0, pct*100)
	}

	var slScore float64
	if baseline.AvgSentenceLength > 0 {
		pct := math.Abs(avgSentenceLen-baseline.AvgSentenceLength) / baseline.AvgSentenceLength
		slScore = math.Min(100.0, pct*100)
	}

	var timingScore float64
	if !receivedAt.IsZero() && len(baseline.TypicalHours) > 0 {
		sendHour := receivedAt.Hour()
		if !containsHour(baseline.TypicalHours, sendHour) {
			minDistance := 24
			for _, h := range baseline.TypicalHours {
				d := absInt(sendHour - h)
				if 24-d < d {
					d = 24 - d
				}
				if d < minDistance {
					minDistance = d
				}
			}
			// 6+ hours away from every typical hour is maximal deviation
			timingScore = math.Min(100.0, float64(minDistance)/6.0*100)
		}
	}

	formalityDiff := math.Abs(formalityScore(body) - baseline.FormalityScore)
	fScore := math.Min(100.0, formalityDiff*200) // 0.5 difference saturates

	aggregate := wcScore*wordCountWeight +
		slScore*sentenceLengthWeight +
		timingScore*timingWeight +
		fScore*formalityWeight
	aggregate = round2(math.Min(100.0, math.Max(0.0, aggregate)))

	return DeviationContext{
		DeviationScore:          aggregate,
		WordCountDeviation:      round2(wcScore),
		SentenceLengthDeviation: round2(slScore),
		TimingDeviation:         round2(timingScore),
		FormalityDeviation:      round2(fScore),
	}
}

var sentenceSplitRe = regexp.MustCompile(`[.!?]+`)

// textMetrics returns the word count and mean sentence length of a body.
func textMetrics(body string) (wordCount int, avgSentenceLen float64) {
	wordCount = len(strings.Fields(body))
	sentences := 0
	for _, s := range sentenceSplitRe.Split(body, -1) {
		if strings.TrimSpace(s) != "" {
			sentences++
		}
	}
	if sentences == 0 {
		sentences = 1
	}
	return wordCount, float64(wordCount) / float64(sentences)
}

var formalMarkers = []string{
	"dear", "sincerely", "regards", "respectfully", "kindly",
	"hereby", "pursuant", "attached herewith", "please find",
}

var informalMarkers = []string{
	"hey", "hi", "yo", "gonna", "wanna", "gotta", "lol",
	"haha", "btw", "fyi", "thx", "awesome", "cool",
}

// formalityScore estimates register on a 0 (casual) to 1 (formal) scale.
// Neutral text with no markers scores 0.5.
func formalityScore(text string) float64 {
	lower := strings.ToLower(text)
	formal, informal := 0, 0
	for _, m := range formalMarkers {
		if strings.Contains(lower, m) {
			formal++
		}
	}
	for _, m := range informalMarkers {
		if strings.Contains(lower, m) {
			informal++
		}
	}
	total := formal + informal
	if total == 0 {
		return 0.5
	}
	return float64(formal) / float64(total)
}

func containsHour(hours []int, h int) bool {
	for _, v := range hours {
		if v == h {
			return true
		}
	}
	return false
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
