package core

// Dimension is one of the twelve manipulation-tactic categories scored
// independently for every analyzed message.
type Dimension string

const (
	DimArtificialUrgency         Dimension = "artificial_urgency"
	DimAuthorityImpersonation    Dimension = "authority_impersonation"
	DimFearThreatInduction       Dimension = "fear_threat_induction"
	DimReciprocityExploitation   Dimension = "reciprocity_exploitation"
	DimScarcityTactics           Dimension = "scarcity_tactics"
	DimSocialProofManipulation   Dimension = "social_proof_manipulation"
	DimSenderBehavioralDeviation Dimension = "sender_behavioral_deviation"
	DimCrossChannelCoordination  Dimension = "cross_channel_coordination"
	DimEmotionalEscalation       Dimension = "emotional_escalation"
	DimRequestContextMismatch    Dimension = "request_context_mismatch"
	DimUnusualActionRequested    Dimension = "unusual_action_requested"
	DimTimingAnomaly             Dimension = "timing_anomaly"
)

// Dimensions lists all scoring dimensions in canonical order.
var Dimensions = []Dimension{
	DimArtificialUrgency,
	DimAuthorityImpersonation,
	DimFearThreatInduction,
	DimReciprocityExploitation,
	DimScarcityTactics,
	DimSocialProofManipulation,
	DimSenderBehavioralDeviation,
	DimCrossChannelCoordination,
	DimEmotionalEscalation,
	DimRequestContextMismatch,
	DimUnusualActionRequested,
	DimTimingAnomaly,
}

// DimensionWeights maps each dimension to its contribution weight in the
// aggregate score. The weights sum to 1.0.
var DimensionWeights = map[Dimension]float64{
	DimArtificialUrgency:         0.12,
	DimAuthorityImpersonation:    0.15,
	DimFearThreatInduction:       0.12,
	DimReciprocityExploitation:   0.07,
	DimScarcityTactics:           0.07,
	DimSocialProofManipulation:   0.06,
	DimSenderBehavioralDeviation: 0.12,
	DimCrossChannelCoordination:  0.08,
	DimEmotionalEscalation:       0.07,
	DimRequestContextMismatch:    0.06,
	DimUnusualActionRequested:    0.05,
	DimTimingAnomaly:             0.03,
}

// ValidDimension reports whether name is one of the twelve dimensions.
func ValidDimension(name string) bool {
	_, ok := DimensionWeights[Dimension(name)]
	return ok
}
