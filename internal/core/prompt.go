package core

import (
	"fmt"
	"strings"
)

// promptBodyBudget caps how much body text is embedded in the analysis
// prompt, independent of any adapter-side truncation.
const promptBodyBudget = 4000

// SystemPrompt is the instruction prompt shared by every scoring adapter.
const SystemPrompt = `You are a detection instrument that scores psychological manipulation
tactics in inbound business communications before a human employee reads
and acts on them. You are not a conversational assistant. You do not
speculate, editorialize, or produce anything beyond the structured output
defined below.

You evaluate every message across 12 manipulation dimensions:

  1.  artificial_urgency          - Manufactured time pressure or false deadlines
  2.  authority_impersonation     - Falsely claiming or implying positional authority
  3.  fear_threat_induction       - Threats, consequences, or fear language compelling action
  4.  reciprocity_exploitation    - Leveraging real or fabricated past favors/obligations
  5.  scarcity_tactics            - False scarcity of time, resource, or opportunity
  6.  social_proof_manipulation   - Fabricated peer consensus or organizational momentum
  7.  sender_behavioral_deviation - Deviation from the sender's observed communication style
  8.  cross_channel_coordination  - Indicators of a coordinated multi-channel attack
  9.  emotional_escalation        - Escalating affective intensity to override deliberation
  10. request_context_mismatch    - Request inconsistent with stated context or relationship
  11. unusual_action_requested    - Action atypical for legitimate business communication
  12. timing_anomaly              - Arrival time anomalous for the sender's send patterns

Scores are integers from 0 to 100 and must be evidence-grounded:
0-15 no signal, 16-35 weak, 36-60 moderate, 61-80 strong, 81-100
definitive. A stern but legitimate message scores low. If no behavioral
baseline is supplied, set sender_behavioral_deviation and timing_anomaly
to 0; never infer deviation without prior data. If the body is empty, set
every score to 0 and confidence to 0.

Recommended action: "proceed" when the evidence is weak, "verify" when
the recipient should confirm via a separate pre-established channel
before acting, "block" when the message presents a significant
manipulation risk. Derive it from your holistic reading, not a
mechanical sum; the weighted aggregation happens downstream.

The "explanation" field is written for a non-technical employee in 1-2
plain sentences that identify the specific risk without causing panic.

Respond with a single valid minified JSON object and nothing else:

{"dimension_scores":{"artificial_urgency":0,"authority_impersonation":0,
"fear_threat_induction":0,"reciprocity_exploitation":0,"scarcity_tactics":0,
"social_proof_manipulation":0,"sender_behavioral_deviation":0,
"cross_channel_coordination":0,"emotional_escalation":0,
"request_context_mismatch":0,"unusual_action_requested":0,
"timing_anomaly":0},"primary_tactic":"<highest-scoring dimension key>",
"explanation":"<plain-language warning>",
"recommended_action":"<proceed|verify|block>","confidence":0}

No preamble, no markdown, no code fences, no extra fields. A response
that does not parse against this schema is a critical failure.`

// BuildAnalysisPrompt renders the per-message prompt: prefilter signals,
// baseline context, metadata, and the (budgeted) body.
func BuildAnalysisPrompt(req *ScoringRequest) string {
	var b strings.Builder

	b.WriteString("Analyze the following inbound business email for psychological manipulation tactics.\n")
	b.WriteString("Produce only the JSON output defined in your system prompt. No other output.\n\n")

	if len(req.PrefilterSignals) > 0 {
		b.WriteString("## Rule-Based Pre-Filter Signals (triggered before model analysis)\n")
		for _, s := range req.PrefilterSignals {
			fmt.Fprintf(&b, "  - %s\n", s)
		}
		b.WriteString("These signals are corroborating evidence, not conclusive; they may produce false positives.\n\n")
	}

	msg := req.Message
	receivedHour := msg.ReceivedAt.UTC().Hour()

	if baseline := req.Baseline; baseline != nil {
		b.WriteString("## Sender Behavioral Baseline\n")
		fmt.Fprintf(&b, "Historical communication pattern observed for %s:\n", msg.Sender)
		fmt.Fprintf(&b, "- Average word count per email: %.0f words\n", baseline.AvgWordCount)
		fmt.Fprintf(&b, "- Average sentence length: %.1f words/sentence\n", baseline.AvgSentenceLength)
		fmt.Fprintf(&b, "- Typical send hours (UTC): %v\n", baseline.TypicalHours)
		fmt.Fprintf(&b, "- Formality score (0=casual, 1=formal): %.2f\n", baseline.FormalityScore)
		fmt.Fprintf(&b, "- This email's send hour (UTC): %d\n", receivedHour)
		if baseline.AvgWordCount > 0 {
			current, _ := textMetrics(msg.Body)
			pct := (float64(current) - baseline.AvgWordCount) / baseline.AvgWordCount * 100
			fmt.Fprintf(&b, "- Word count deviation from baseline: %+.0f%%\n", pct)
		}
		b.WriteString("Score sender_behavioral_deviation and timing_anomaly relative to these patterns.\n\n")
	} else {
		b.WriteString("## Sender Behavioral Baseline\n")
		b.WriteString("No historical baseline exists for this sender. Set sender_behavioral_deviation\n")
		b.WriteString("and timing_anomaly scores to 0. Do not infer deviation without prior data.\n\n")
	}

	b.WriteString("## Email Metadata\n")
	fmt.Fprintf(&b, "- Sender: %s <%s>\n", msg.SenderDisplay, msg.Sender)
	fmt.Fprintf(&b, "- Subject: %s\n", msg.Subject)
	fmt.Fprintf(&b, "- Received (UTC): hour %d\n\n", receivedHour)

	body := msg.Body
	if len(body) > promptBodyBudget {
		body = body[:promptBodyBudget]
	}
	b.WriteString("## Email Body\n")
	b.WriteString(body)
	b.WriteString("\n\nScore all 12 manipulation dimensions. Emit the JSON output contract.")

	return b.String()
}
