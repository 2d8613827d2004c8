/*
errors.go - Centralized error types for the period engine

PURPOSE:
  All error kinds the engine can return, in one place. Every failure is
  returned as a typed value; nothing falls back to a default state and
  nothing is retried internally.

ERROR CATEGORIES:
  1. Configuration errors - Bad frequency or obligation input
  2. Workflow errors - Illegal event, missing justification, actor or
     precondition failures
  3. Store errors - Optimistic-write conflicts, missing records

USAGE:
  period, err := svc.Fire(ctx, id, version, cmd, now)
  switch {
  case errors.Is(err, obligation.ErrConcurrentModification):
      // re-fetch and let the user retry
  case errors.Is(err, obligation.ErrInvalidTransition):
      var te *obligation.TransitionError
      errors.As(err, &te) // te.From, te.Event
  }

SEE ALSO:
  - workflow.go: Produces workflow errors
  - store.go: Produces store errors
  - api/handlers.go: Maps errors to HTTP status codes
*/
package obligation

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidConfiguration is returned for a bad FrequencyPolicy or obligation.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrInvalidTransition is returned when an event is not legal from the current state.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrMissingJustification is returned when reject/requestCorrection carry no text.
	ErrMissingJustification = errors.New("missing justification")

	// ErrConcurrentModification is returned when the stored period changed
	// since the caller read it.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrPreconditionFailed is returned when a legal event's precondition is unmet
	// (no assignee for startWork, no attachment for submit).
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrActorNotPermitted is returned when the actor's role or assignment
	// does not allow the event.
	ErrActorNotPermitted = errors.New("actor not permitted")

	// ErrConflictingDecision is returned when a validation call does not carry
	// exactly one of approve / reject / request correction.
	ErrConflictingDecision = errors.New("validation must carry exactly one decision")

	// ErrAlreadyAssigned is returned when assigning over an existing assignee
	// without a supervisor-level reassignment.
	ErrAlreadyAssigned = errors.New("period already assigned")

	// ErrPeriodNotFound is returned when a referenced period doesn't exist.
	ErrPeriodNotFound = errors.New("period not found")

	// ErrObligationNotFound is returned when a referenced obligation doesn't exist.
	ErrObligationNotFound = errors.New("obligation not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConfigurationError names the offending field.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrInvalidConfiguration }

// TransitionError names the current state and the attempted event.
type TransitionError struct {
	From  State
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: event %q is not allowed from state %q", e.Event, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// JustificationError names the event that required text.
type JustificationError struct {
	Event Event
}

func (e *JustificationError) Error() string {
	field := "note"
	switch e.Event {
	case EventReject:
		field = "rejection reason"
	case EventRequestCorrection:
		field = "correction instructions"
	}
	return fmt.Sprintf("missing justification: %s requires a non-empty %s", e.Event, field)
}

func (e *JustificationError) Unwrap() error { return ErrMissingJustification }

// PreconditionError describes which precondition of a legal event failed.
type PreconditionError struct {
	Event  Event
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed for %s: %s", e.Event, e.Reason)
}

func (e *PreconditionError) Unwrap() error { return ErrPreconditionFailed }

// ActorError describes why the actor may not fire the event.
type ActorError struct {
	Event  Event
	Actor  ActorID
	Reason string
}

func (e *ActorError) Error() string {
	return fmt.Sprintf("actor %q may not %s: %s", e.Actor, e.Event, e.Reason)
}

func (e *ActorError) Unwrap() error { return ErrActorNotPermitted }

// ConflictError reports an optimistic-write version mismatch.
type ConflictError struct {
	PeriodID        PeriodID
	ExpectedVersion int
	ActualVersion   int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrent modification of period %s: expected version %d, stored version %d",
		e.PeriodID, e.ExpectedVersion, e.ActualVersion)
}

func (e *ConflictError) Unwrap() error { return ErrConcurrentModification }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if re-fetching and retrying might succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrMissingJustification) ||
		errors.Is(err, ErrPreconditionFailed) ||
		errors.Is(err, ErrActorNotPermitted) ||
		errors.Is(err, ErrConflictingDecision) ||
		errors.Is(err, ErrAlreadyAssigned)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPeriodNotFound) ||
		errors.Is(err, ErrObligationNotFound)
}
