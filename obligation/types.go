/*
Package obligation provides the reporting-obligation period engine.

PURPOSE:
  An obligation is a recurring regulatory report owed by an entity. This
  package turns an obligation's frequency into concrete periods, drives each
  period through its preparer/supervisor workflow, and derives deadline
  classifications, compliance rates and alerts from period snapshots.

KEY CONCEPTS IN THIS FILE (types.go):
  - Obligation: Catalog record (entity, frequency, activation window)
  - Period: One cycle of an obligation with its own deadline and state
  - State: Closed enumeration of stored workflow states
  - Identifiers: Type-safe ids for obligations, entities, periods, actors

DESIGN PRINCIPLES:
  1. Snapshots in, values out: every component takes periods and an explicit
     "now" and returns a result without holding references
  2. Overdue is a view: the stored state never encodes lateness
  3. One write path: periods change only through Workflow transitions, written
     with an optimistic version check
  4. Typed errors: callers branch with errors.Is / errors.As, never on text

USAGE:
  gen := obligation.PeriodGenerator{}
  out, err := gen.Generate(obligation.GenerateInput{
      Obligation: ob,
      HorizonEnd: obligation.NewDate(2024, time.December, 31),
  })

  status := obligation.Classify(out.Periods[0], time.Now())

SEE ALSO:
  - frequency.go: Interval computation
  - generator.go: Period generation
  - workflow.go: State machine
  - deadline.go, compliance.go, alerts.go: Read-only consumers
  - service.go: Orchestration against a Store
*/
package obligation

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ObligationID string
type EntityID string
type PeriodID string
type ActorID string

// =============================================================================
// OBLIGATION - Owned by the reporting catalog, read-only here
// =============================================================================

type Obligation struct {
	ID        ObligationID
	EntityID  EntityID
	Name      string
	Frequency FrequencyPolicy

	// Activation window. EndDate nil = open-ended.
	ActivationDate Date
	EndDate        *Date

	// DueOffsetDays is the grace period after period end. nil = use the
	// engine default (0 unless configured otherwise).
	DueOffsetDays *int

	// Defaults copied onto freshly generated periods.
	DefaultAssigneeID   ActorID
	DefaultSupervisorID ActorID

	CreatedAt time.Time
}

// Validate checks the obligation's own configuration.
func (o Obligation) Validate() error {
	if o.ID == "" {
		return &ConfigurationError{Field: "id", Reason: "must not be empty"}
	}
	if o.EntityID == "" {
		return &ConfigurationError{Field: "entity_id", Reason: "must not be empty"}
	}
	if o.ActivationDate.IsZero() {
		return &ConfigurationError{Field: "activation_date", Reason: "must be set"}
	}
	if o.EndDate != nil && o.EndDate.Before(o.ActivationDate) {
		return &ConfigurationError{Field: "end_date", Reason: "before activation date"}
	}
	if o.DueOffsetDays != nil && *o.DueOffsetDays < 0 {
		return &ConfigurationError{Field: "due_offset_days", Reason: "must be >= 0"}
	}
	if _, err := o.Frequency.IntervalMonths(); err != nil {
		return err
	}
	return nil
}

// =============================================================================
// PERIOD - One cycle of an obligation
// =============================================================================

type Period struct {
	ID           PeriodID
	ObligationID ObligationID
	EntityID     EntityID

	// Covered interval [Start, End] and the deadline (DueDate >= End).
	Start   Date
	End     Date
	DueDate Date

	State State

	// Optional until assigned.
	AssigneeID   ActorID
	SupervisorID ActorID

	// SubmittedAt survives regression to correction_requested.
	// ResolvedAt is set iff State is approved or rejected.
	SubmittedAt *time.Time
	ResolvedAt  *time.Time

	RejectionReason        string
	CorrectionInstructions string

	// Informational only; evidence files live in the attachment store.
	AttachmentCount int

	// Version is bumped by the store on every committed transition.
	Version int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsOpen returns true while the period still awaits a final decision.
func (p Period) IsOpen() bool {
	return !p.State.IsTerminal()
}

// Contains returns true if the day is within [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// String returns "[start, end]".
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// PeriodIDFor is the deterministic id of an obligation's period starting on start.
// Regenerating the same period always yields the same id.
func PeriodIDFor(obligationID ObligationID, start Date) PeriodID {
	return PeriodID(string(obligationID) + "-" + start.Time.Format("20060102"))
}

// =============================================================================
// STATE - Stored workflow states
// =============================================================================

type State string

const (
	StatePending             State = "pending"
	StateInProgress          State = "in_progress"
	StateSubmitted           State = "submitted"
	StateApproved            State = "approved"
	StateRejected            State = "rejected"
	StateCorrectionRequested State = "correction_requested"
)

// States lists every stored state in workflow order.
func States() []State {
	return []State{
		StatePending, StateInProgress, StateSubmitted,
		StateApproved, StateRejected, StateCorrectionRequested,
	}
}

// IsTerminal reports whether the state closes the cycle.
func (s State) IsTerminal() bool {
	return s == StateApproved || s == StateRejected
}

func (s State) Valid() bool {
	for _, known := range States() {
		if s == known {
			return true
		}
	}
	return false
}
