package pipeline

// Stage names a pipeline stage in logs and metrics.
type Stage string

const (
	StageCorrection Stage = "correction"
	StageExtraction Stage = "extraction"
)

// Outcome is the terminal result class of a stage run.
type Outcome string

const (
	// OutcomeAccepted means the model output passed every check.
	OutcomeAccepted Outcome = "accepted"

	// OutcomeSalvaged means strict parsing failed and the note was recovered
	// by the salvage parser.
	OutcomeSalvaged Outcome = "salvaged"

	// OutcomeSkipped means the transcript was structurally ineligible for
	// correction and was returned unchanged without a model call.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeFallbackWordMismatch means the model altered the words of the
	// transcript and the original was returned.
	OutcomeFallbackWordMismatch Outcome = "fallback_word_mismatch"

	// OutcomeFallbackExhausted means every attempt produced an empty or
	// unusable answer.
	OutcomeFallbackExhausted Outcome = "fallback_exhausted"

	// OutcomeFallbackError means the last attempt failed with an error
	// such as a transport failure or cancellation.
	OutcomeFallbackError Outcome = "fallback_error"

	// OutcomeEmptyInput means the input was blank.
	OutcomeEmptyInput Outcome = "empty_input"
)

// Degraded reports whether the stage result is a fallback value rather than
// model output.
func (o Outcome) Degraded() bool {
	return o != OutcomeAccepted && o != OutcomeSalvaged
}
