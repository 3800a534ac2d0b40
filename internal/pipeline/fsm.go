package pipeline

import "errors"

// errUndefinedTransition is recorded when a driver feeds an event its state
// does not accept. The run is forced into its fallback state.
var errUndefinedTransition = errors.New("pipeline: undefined transition")

// State is a node in one of the orchestrator state machines.
type State string

const (
	StateIdle              State = "idle"
	StateStructuralCheck   State = "structural_check"
	StateNormalize         State = "normalize"
	StateModelCall         State = "model_call"
	StateSanitize          State = "sanitize"
	StateWordCheck         State = "word_check"
	StateParse             State = "parse"
	StateSchemaRepair      State = "schema_repair"
	StateSalvageAttempt    State = "salvage_attempt"
	StateRetry             State = "retry"
	StateAccepted          State = "accepted"
	StateFallback          State = "fallback"
	StateSkipped           State = "skipped"
	StateEmptyNoteFallback State = "empty_note_fallback"
)

// Event is the observation a driver feeds into a transition function after
// performing the side effect of the current state.
type Event string

const (
	EventStart            Event = "start"
	EventEmptyInput       Event = "empty_input"
	EventStructureOK      Event = "structure_ok"
	EventStructureInvalid Event = "structure_invalid"
	EventNormalized       Event = "normalized"
	EventResponse         Event = "response"
	EventEmptyResponse    Event = "empty_response"
	EventTransportError   Event = "transport_error"
	EventSanitized        Event = "sanitized"
	EventWordsPreserved   Event = "words_preserved"
	EventWordsChanged     Event = "words_changed"
	EventParsed           Event = "parsed"
	EventParseFailed      Event = "parse_failed"
	EventRepaired         Event = "repaired"
	EventSalvaged         Event = "salvaged"
	EventRetry            Event = "retry"
	EventCancelled        Event = "cancelled"
)

type transition struct {
	from State
	on   Event
}

var correctionTransitions = map[transition]State{
	{StateIdle, EventStart}:                       StateStructuralCheck,
	{StateIdle, EventEmptyInput}:                  StateSkipped,
	{StateStructuralCheck, EventStructureOK}:      StateNormalize,
	{StateStructuralCheck, EventStructureInvalid}: StateSkipped,
	{StateNormalize, EventNormalized}:             StateModelCall,
	{StateModelCall, EventResponse}:               StateSanitize,
	{StateModelCall, EventEmptyResponse}:          StateRetry,
	{StateModelCall, EventTransportError}:         StateRetry,
	{StateSanitize, EventSanitized}:               StateWordCheck,
	{StateWordCheck, EventWordsPreserved}:         StateAccepted,
	{StateWordCheck, EventWordsChanged}:           StateFallback,
	{StateRetry, EventCancelled}:                  StateFallback,
}

var extractionTransitions = map[transition]State{
	{StateIdle, EventStart}:               StateNormalize,
	{StateIdle, EventEmptyInput}:          StateEmptyNoteFallback,
	{StateNormalize, EventNormalized}:     StateModelCall,
	{StateModelCall, EventResponse}:       StateSanitize,
	{StateModelCall, EventEmptyResponse}:  StateRetry,
	{StateModelCall, EventTransportError}: StateRetry,
	{StateSanitize, EventSanitized}:       StateParse,
	{StateParse, EventParsed}:             StateSchemaRepair,
	{StateParse, EventParseFailed}:        StateSalvageAttempt,
	{StateSchemaRepair, EventRepaired}:    StateAccepted,
	{StateSalvageAttempt, EventSalvaged}:  StateAccepted,
	{StateRetry, EventCancelled}:          StateEmptyNoteFallback,
}

// nextCorrection is the transition function of the diarization correction
// machine. attempt is the number of model calls made so far. The boolean is
// false when no transition is defined for the pair.
func nextCorrection(s State, e Event, attempt, maxAttempts int) (State, bool) {
	if s == StateRetry && e == EventRetry {
		if attempt < maxAttempts {
			return StateModelCall, true
		}
		return StateFallback, true
	}
	next, ok := correctionTransitions[transition{s, e}]
	return next, ok
}

// nextExtraction is the transition function of the note extraction machine.
func nextExtraction(s State, e Event, attempt, maxAttempts int) (State, bool) {
	if s == StateRetry && e == EventRetry {
		if attempt < maxAttempts {
			return StateModelCall, true
		}
		return StateEmptyNoteFallback, true
	}
	next, ok := extractionTransitions[transition{s, e}]
	return next, ok
}

func correctionTerminal(s State) bool {
	return s == StateAccepted || s == StateFallback || s == StateSkipped
}

func extractionTerminal(s State) bool {
	return s == StateAccepted || s == StateEmptyNoteFallback
}
