package core

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// PreFilterResult is the outcome of the rule-based prefilter pass.
type PreFilterResult struct {
	Triggered  bool
	Signals    []string
	ScoreBoost float64
}

// PreFilter is a stateless rule-based evaluator over subject, body, sender,
// and timestamp. It performs no I/O; signals are emitted in declaration
// order regardless of where they matched.
type PreFilter struct{}

// NewPreFilter creates a new prefilter.
func NewPreFilter() *PreFilter {
	return &PreFilter{}
}

var urgencyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(immediate(ly)?|urgent(ly)?|asap|right\s+away|time[\s\-]sensitive)\b`),
	regexp.MustCompile(`(?i)\b(act\s+now|don'?t\s+delay|expires?\s+(today|soon|in\s+\d+))\b`),
	regexp.MustCompile(`(?i)\b(within\s+\d+\s+(hour|minute|hr|min)s?|deadline\s+(is\s+)?(today|tomorrow|tonight))\b`),
	regexp.MustCompile(`(?i)\b(last\s+chance|final\s+(notice|warning|reminder))\b`),
}

var authorityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(ceo|cfo|cto|coo|president|director|board\s+member)\b`),
	regexp.MustCompile(`(?i)\b(on\s+behalf\s+of|authorized\s+by|per\s+(the\s+)?(ceo|director|management))\b`),
	regexp.MustCompile(`(?i)\b(executive\s+order|compliance\s+requirement|legal\s+obligation)\b`),
	regexp.MustCompile(`(?i)\b(law\s+enforcement|federal|government\s+agency|irs|fbi|sec)\b`),
}

var fearPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(account\s+(will\s+be\s+)?(suspend|terminat|delet|clos|lock|block))`),
	regexp.MustCompile(`(?i)\b(legal\s+action|lawsuit|prosecution|arrest|penalty|fine)\b`),
	regexp.MustCompile(`(?i)\b(failure\s+to\s+(comply|respond)|consequences|disciplinary)\b`),
	regexp.MustCompile(`(?i)\b(unauthorized\s+access|security\s+breach|compromised)\b`),
}

var suspiciousRequestPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(wire\s+transfer|bank\s+transfer|bitcoin|cryptocurrency|gift\s+card)\b`),
	regexp.MustCompile(`(?i)\b(password|credential|social\s+security|ssn|login\s+detail)`),
	regexp.MustCompile(`(?i)\b(click\s+(here|this\s+link|below)|verify\s+your\s+(account|identity))\b`),
	regexp.MustCompile(`(?i)\b(update\s+your\s+(payment|billing|bank)|confirm\s+your\s+(identity|details))\b`),
	regexp.MustCompile(`(?i)\b(do\s+not\s+(share|tell|mention|inform)|keep\s+this\s+(confidential|secret|between\s+us))\b`),
}

var emotionalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(please\s+help|desperate(ly)?|begging|i\s+need\s+you\s+to)\b`),
	regexp.MustCompile(`(?i)\b(disappointed\s+in\s+you|let\s+(me|us|the\s+team)\s+down)\b`),
	regexp.MustCompile(`(?i)\b(only\s+you\s+can|counting\s+on\s+you|trust(ing)?\s+you)\b`),
}

var spoofedSenderPatterns = []*regexp.Regexp{
	// e.g. paypal.com-verify.xyz
	regexp.MustCompile(`(?i)[a-z0-9]+\.(com|org|net)-[a-z]+\.[a-z]{2,}`),
	regexp.MustCompile(`(?i)(support|admin|helpdesk|security|noreply)@[^.]+\.[a-z]{2,}`),
}

// Evaluate applies the rule set to one message. The signal list is ordered
// by rule family declaration order, not match order, so output is
// deterministic for a given input.
func (f *PreFilter) Evaluate(subject, body, sender string, receivedAt time.Time) PreFilterResult {
	var result PreFilterResult
	combined := subject + " " + body

	if matchAny(urgencyPatterns, combined) {
		result.Signals = append(result.Signals, "urgency_language_detected")
		result.ScoreBoost += 5.0
	}

	if matchAny(authorityPatterns, combined) {
		result.Signals = append(result.Signals, "authority_reference_detected")
		result.ScoreBoost += 8.0
	}

	if matchAny(fearPatterns, combined) {
		result.Signals = append(result.Signals, "fear_threat_language_detected")
		result.ScoreBoost += 7.0
	}

	suspiciousCount := 0
	for _, p := range suspiciousRequestPatterns {
		if p.MatchString(combined) {
			suspiciousCount++
		}
	}
	if suspiciousCount > 0 {
		result.Signals = append(result.Signals, fmt.Sprintf("suspicious_request_detected(count=%d)", suspiciousCount))
		boost := float64(suspiciousCount) * 5.0
		if boost > 20.0 {
			boost = 20.0
		}
		result.ScoreBoost += boost
	}

	if matchAny(emotionalPatterns, combined) {
		result.Signals = append(result.Signals, "emotional_manipulation_detected")
		result.ScoreBoost += 4.0
	}

	if matchAny(spoofedSenderPatterns, sender) {
		result.Signals = append(result.Signals, "spoofed_sender_pattern")
		result.ScoreBoost += 10.0
	}

	if !receivedAt.IsZero() {
		hour := receivedAt.Hour()
		if hour < 5 || hour > 23 {
			result.Signals = append(result.Signals, fmt.Sprintf("unusual_send_hour(%d)", hour))
			result.ScoreBoost += 3.0
		}
	}

	if len(subject) > 5 && subject == strings.ToUpper(subject) && subject != strings.ToLower(subject) {
		result.Signals = append(result.Signals, "all_caps_subject")
		result.ScoreBoost += 3.0
	}

	if n := strings.Count(combined, "!"); n > 3 {
		result.Signals = append(result.Signals, fmt.Sprintf("excessive_exclamation_marks(%d)", n))
		result.ScoreBoost += 2.0
	}

	result.Triggered = len(result.Signals) > 0
	return result
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// BaseSignal strips the parameter suffix from a parameterized signal name,
// e.g. "suspicious_request_detected(count=2)" -> "suspicious_request_detected".
func BaseSignal(signal string) string {
	if i := strings.IndexByte(signal, '('); i >= 0 {
		return signal[:i]
	}
	return signal
}
