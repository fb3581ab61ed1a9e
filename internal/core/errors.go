package core

import "errors"

// Error taxonomy for the interception and analysis paths. Fatal errors
// (protocol violations, unreachable upstreams) terminate the session;
// everything else degrades the verdict for the one message involved.
var (
	// ErrProtocolViolation indicates a malformed command, response, or
	// literal. Fatal for the session.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrUpstreamUnavailable indicates the upstream server could not be
	// reached. Fatal for new sessions.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrExtractionFailure indicates the message body could not be
	// extracted. The message is skipped with a proceed verdict.
	ErrExtractionFailure = errors.New("content extraction failed")

	// ErrScoringTimeout indicates the scoring call exceeded its deadline.
	// The message is scored from heuristics only.
	ErrScoringTimeout = errors.New("scoring call timed out")

	// ErrScoringContract indicates the scoring response was missing
	// required fields. Same degraded path as a timeout, distinct signal.
	ErrScoringContract = errors.New("scoring response violates contract")

	// ErrPersistenceFailure indicates a store write failed. Retried once,
	// then dropped; never blocks the protocol path.
	ErrPersistenceFailure = errors.New("persistence failure")

	// ErrBaselineConflict indicates a concurrent baseline update won the
	// race. The losing update is retried once, then dropped.
	ErrBaselineConflict = errors.New("baseline update conflict")

	// ErrDuplicateAnalysis indicates an analysis already exists for this
	// (message, recipient) pair.
	ErrDuplicateAnalysis = errors.New("analysis already recorded")

	// ErrNotFound is returned by stores when a row does not exist.
	ErrNotFound = errors.New("not found")
)
