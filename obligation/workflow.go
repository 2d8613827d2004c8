/*
workflow.go - Period lifecycle state machine

PURPOSE:
  Owns every legal change to a period's stored state. It is stateless
  between calls: it takes the current Period plus an incoming command and
  returns the next Period and an audit record, or a typed error.

STATE FLOW:
  ┌────────────────────────────────────────────────────────────────────┐
  │                                                                    │
  │  pending ──startWork──▶ in_progress ──submit──▶ submitted          │
  │                                                    │               │
  │                        ┌──────────────┬────────────┼──────────┐    │
  │                        ▼              ▼            ▼          │    │
  │                    approved       rejected  correction_requested    │
  │                                                    │          │    │
  │                                                    └─resubmit─┘    │
  │                                                                    │
  └────────────────────────────────────────────────────────────────────┘

  Overdue is not a state. DeadlineClassifier derives it from DueDate and
  "now" for any open period.

ACTORS:
  Preparer:   startWork, submit, resubmit
  Supervisor: approve, reject, requestCorrection

  Whether the caller is the period's assigned preparer or supervisor is
  resolved by the identity provider; the result arrives as Actor.IsAssigned.

SIDE EFFECTS:
  submit / resubmit   SubmittedAt = now
  approve / reject    ResolvedAt = now
  reject              RejectionReason = note
  requestCorrection   CorrectionInstructions = note, clears ResolvedAt and
                      RejectionReason

SEE ALSO:
  - service.go: Loads, fires and commits with a version check
  - deadline.go: Overdue classification
*/
package obligation

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// EVENTS AND ROLES
// =============================================================================

type Event string

const (
	EventStartWork         Event = "start_work"
	EventSubmit            Event = "submit"
	EventApprove           Event = "approve"
	EventReject            Event = "reject"
	EventRequestCorrection Event = "request_correction"
	EventResubmit          Event = "resubmit"

	// EventAssign is recorded in the audit trail but is not a state change.
	EventAssign Event = "assign"
)

// Events lists the state-changing events in table order.
func Events() []Event {
	return []Event{
		EventStartWork, EventSubmit, EventApprove,
		EventReject, EventRequestCorrection, EventResubmit,
	}
}

type Role string

const (
	RolePreparer   Role = "preparer"
	RoleSupervisor Role = "supervisor"
)

// Actor is the caller as resolved by the identity provider.
type Actor struct {
	ID   ActorID
	Role Role

	// IsAssigned is true when the actor is this period's assigned preparer
	// (for preparer events) or supervisor (for supervisor events).
	IsAssigned bool
}

// =============================================================================
// TRANSITION TABLE
// =============================================================================

// Transition is one row of the lifecycle table.
type Transition struct {
	From  State
	Event Event
	To    State
	Actor Role
}

var transitionTable = []Transition{
	{From: StatePending, Event: EventStartWork, To: StateInProgress, Actor: RolePreparer},
	{From: StateInProgress, Event: EventSubmit, To: StateSubmitted, Actor: RolePreparer},
	{From: StateSubmitted, Event: EventApprove, To: StateApproved, Actor: RoleSupervisor},
	{From: StateSubmitted, Event: EventReject, To: StateRejected, Actor: RoleSupervisor},
	{From: StateSubmitted, Event: EventRequestCorrection, To: StateCorrectionRequested, Actor: RoleSupervisor},
	{From: StateCorrectionRequested, Event: EventResubmit, To: StateSubmitted, Actor: RolePreparer},
}

// Transitions returns a copy of the lifecycle table.
func Transitions() []Transition {
	return append([]Transition(nil), transitionTable...)
}

// LookupTransition finds the row for (from, event).
func LookupTransition(from State, event Event) (Transition, bool) {
	for _, t := range transitionTable {
		if t.From == from && t.Event == event {
			return t, true
		}
	}
	return Transition{}, false
}

// =============================================================================
// COMMANDS AND RECORDS
// =============================================================================

// Command asks the workflow to fire one event.
type Command struct {
	Event Event
	Actor Actor

	// AttachmentCount, when set, is the attachment collaborator's current
	// count for the period. It is stored with the transition.
	AttachmentCount *int

	// AttachmentOverride lets submit proceed with zero attachments.
	AttachmentOverride bool

	// Note is the rejection reason or correction instructions.
	Note string
}

// Decision is a supervisor's validation of one submission.
// Exactly one of Approve, Reject, RequestCorrection must be set.
type Decision struct {
	Approve           bool
	Reject            bool
	RequestCorrection bool

	RejectionReason        string
	CorrectionInstructions string
}

// Command converts the decision into the event it stands for.
func (d Decision) Command(actor Actor) (Command, error) {
	n := 0
	var cmd Command
	if d.Approve {
		n++
		cmd = Command{Event: EventApprove, Actor: actor}
	}
	if d.Reject {
		n++
		cmd = Command{Event: EventReject, Actor: actor, Note: d.RejectionReason}
	}
	if d.RequestCorrection {
		n++
		cmd = Command{Event: EventRequestCorrection, Actor: actor, Note: d.CorrectionInstructions}
	}
	if n != 1 {
		return Command{}, ErrConflictingDecision
	}
	return cmd, nil
}

// TransitionRecord is the audit entry for one applied event. The event log
// collaborator persists it; the workflow only produces it.
type TransitionRecord struct {
	ID       string
	PeriodID PeriodID
	Event    Event
	From     State
	To       State
	ActorID  ActorID
	Role     Role
	At       time.Time
	Note     string
}

// Assignment sets the preparer and/or supervisor. Empty fields are left unchanged.
type Assignment struct {
	AssigneeID   ActorID
	SupervisorID ActorID

	// Reassign permits replacing an existing assignment. Only a supervisor
	// may reassign.
	Reassign bool
}

// =============================================================================
// WORKFLOW
// =============================================================================

type Workflow struct{}

// Fire applies cmd to p. The returned period keeps p.Version; the store bumps it.
func (w Workflow) Fire(p Period, cmd Command, now time.Time) (Period, TransitionRecord, error) {
	t, ok := LookupTransition(p.State, cmd.Event)
	if !ok {
		return p, TransitionRecord{}, &TransitionError{From: p.State, Event: cmd.Event}
	}

	if cmd.Actor.Role != t.Actor {
		return p, TransitionRecord{}, &ActorError{Event: cmd.Event, Actor: cmd.Actor.ID, Reason: "requires role " + string(t.Actor)}
	}
	if !cmd.Actor.IsAssigned {
		return p, TransitionRecord{}, &ActorError{Event: cmd.Event, Actor: cmd.Actor.ID, Reason: "not assigned to this period"}
	}

	note := strings.TrimSpace(cmd.Note)
	next := p

	if cmd.AttachmentCount != nil {
		if *cmd.AttachmentCount < 0 {
			return p, TransitionRecord{}, &ConfigurationError{Field: "attachment_count", Reason: "must be >= 0"}
		}
		next.AttachmentCount = *cmd.AttachmentCount
	}

	switch cmd.Event {
	case EventStartWork:
		if p.AssigneeID == "" {
			return p, TransitionRecord{}, &PreconditionError{Event: cmd.Event, Reason: "no assignee"}
		}

	case EventSubmit:
		if next.AttachmentCount < 1 && !cmd.AttachmentOverride {
			return p, TransitionRecord{}, &PreconditionError{Event: cmd.Event, Reason: "no attachments and no override"}
		}
		next.SubmittedAt = timePtr(now)

	case EventResubmit:
		next.SubmittedAt = timePtr(now)

	case EventApprove:
		next.ResolvedAt = timePtr(now)

	case EventReject:
		if note == "" {
			return p, TransitionRecord{}, &JustificationError{Event: cmd.Event}
		}
		next.RejectionReason = note
		next.ResolvedAt = timePtr(now)

	case EventRequestCorrection:
		if note == "" {
			return p, TransitionRecord{}, &JustificationError{Event: cmd.Event}
		}
		next.CorrectionInstructions = note
		next.ResolvedAt = nil
		next.RejectionReason = ""
	}

	next.State = t.To
	next.UpdatedAt = now

	return next, newRecord(p, next, cmd.Event, cmd.Actor, now, note), nil
}

// Validate applies a supervisor decision. A decision naming zero or several
// outcomes fails with ErrConflictingDecision before touching the period.
func (w Workflow) Validate(p Period, actor Actor, d Decision, now time.Time) (Period, TransitionRecord, error) {
	cmd, err := d.Command(actor)
	if err != nil {
		return p, TransitionRecord{}, err
	}
	return w.Fire(p, cmd, now)
}

// Assign sets the period's preparer and/or supervisor. An assignment is set
// once; replacing it needs Reassign from a supervisor.
func (w Workflow) Assign(p Period, actor Actor, a Assignment, now time.Time) (Period, TransitionRecord, error) {
	if a.AssigneeID == "" && a.SupervisorID == "" {
		return p, TransitionRecord{}, &PreconditionError{Event: EventAssign, Reason: "nothing to assign"}
	}
	if p.State.IsTerminal() {
		return p, TransitionRecord{}, &TransitionError{From: p.State, Event: EventAssign}
	}
	if a.Reassign && actor.Role != RoleSupervisor {
		return p, TransitionRecord{}, &ActorError{Event: EventAssign, Actor: actor.ID, Reason: "reassignment requires role supervisor"}
	}

	next := p
	if a.AssigneeID != "" {
		if p.AssigneeID != "" && p.AssigneeID != a.AssigneeID && !a.Reassign {
			return p, TransitionRecord{}, ErrAlreadyAssigned
		}
		next.AssigneeID = a.AssigneeID
	}
	if a.SupervisorID != "" {
		if p.SupervisorID != "" && p.SupervisorID != a.SupervisorID && !a.Reassign {
			return p, TransitionRecord{}, ErrAlreadyAssigned
		}
		next.SupervisorID = a.SupervisorID
	}
	next.UpdatedAt = now

	note := "assignee=" + string(next.AssigneeID) + " supervisor=" + string(next.SupervisorID)
	return next, newRecord(p, next, EventAssign, actor, now, note), nil
}

func newRecord(from, to Period, event Event, actor Actor, at time.Time, note string) TransitionRecord {
	return TransitionRecord{
		ID:       uuid.NewString(),
		PeriodID: from.ID,
		Event:    event,
		From:     from.State,
		To:       to.State,
		ActorID:  actor.ID,
		Role:     actor.Role,
		At:       at,
		Note:     note,
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
