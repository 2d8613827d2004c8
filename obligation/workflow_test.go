package obligation_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reporting-engine/obligation"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	preparer   = obligation.Actor{ID: "prep-1", Role: obligation.RolePreparer, IsAssigned: true}
	supervisor = obligation.Actor{ID: "sup-1", Role: obligation.RoleSupervisor, IsAssigned: true}
	t0         = time.Date(2024, time.March, 20, 10, 0, 0, 0, time.UTC)
)

func periodIn(state obligation.State) obligation.Period {
	return obligation.Period{
		ID:              "ob-iva-20240101",
		ObligationID:    "ob-iva",
		EntityID:        "ent-1",
		Start:           date("2024-01-01"),
		End:             date("2024-03-31"),
		DueDate:         date("2024-03-31"),
		State:           state,
		AssigneeID:      "prep-1",
		SupervisorID:    "sup-1",
		AttachmentCount: 1,
		Version:         3,
	}
}

func commandFor(event obligation.Event) obligation.Command {
	cmd := obligation.Command{Event: event, Actor: preparer, Note: "see attached notes"}
	for _, tr := range obligation.Transitions() {
		if tr.Event == event && tr.Actor == obligation.RoleSupervisor {
			cmd.Actor = supervisor
		}
	}
	return cmd
}

var wf obligation.Workflow

// =============================================================================
// TRANSITION LEGALITY
// =============================================================================

func TestWorkflow_TransitionTable_Exhaustive(t *testing.T) {
	// GIVEN: Every (state, event) pair
	// WHEN: Firing the event with a permitted, assigned actor
	// THEN: Listed pairs reach their target; all others fail with InvalidTransition

	for _, state := range obligation.States() {
		for _, event := range obligation.Events() {
			t.Run(fmt.Sprintf("%s/%s", state, event), func(t *testing.T) {
				p := periodIn(state)
				next, rec, err := wf.Fire(p, commandFor(event), t0)

				want, legal := obligation.LookupTransition(state, event)
				if !legal {
					require.Error(t, err)
					assert.ErrorIs(t, err, obligation.ErrInvalidTransition)
					var te *obligation.TransitionError
					require.ErrorAs(t, err, &te)
					assert.Equal(t, state, te.From)
					assert.Equal(t, event, te.Event)
					assert.Contains(t, err.Error(), string(state))
					assert.Contains(t, err.Error(), string(event))
					assert.Equal(t, p, next, "period must be unchanged")
					return
				}

				require.NoError(t, err)
				assert.Equal(t, want.To, next.State)
				assert.Equal(t, state, rec.From)
				assert.Equal(t, want.To, rec.To)
				assert.Equal(t, event, rec.Event)
				assert.Equal(t, p.ID, rec.PeriodID)
				assert.NotEmpty(t, rec.ID)
				assert.Equal(t, p.Version, next.Version, "the store bumps the version, not the workflow")
			})
		}
	}
}

func TestWorkflow_WrongRole_NotPermitted(t *testing.T) {
	// GIVEN: A submitted period
	// WHEN: The preparer tries to approve their own work
	// THEN: ActorNotPermitted
	_, _, err := wf.Fire(periodIn(obligation.StateSubmitted), obligation.Command{Event: obligation.EventApprove, Actor: preparer}, t0)
	assert.ErrorIs(t, err, obligation.ErrActorNotPermitted)
}

func TestWorkflow_NotAssigned_NotPermitted(t *testing.T) {
	other := obligation.Actor{ID: "prep-2", Role: obligation.RolePreparer, IsAssigned: false}
	_, _, err := wf.Fire(periodIn(obligation.StateInProgress), obligation.Command{Event: obligation.EventSubmit, Actor: other}, t0)
	assert.ErrorIs(t, err, obligation.ErrActorNotPermitted)
}

// =============================================================================
// PRECONDITIONS AND SIDE EFFECTS
// =============================================================================

func TestWorkflow_StartWork_RequiresAssignee(t *testing.T) {
	p := periodIn(obligation.StatePending)
	p.AssigneeID = ""

	_, _, err := wf.Fire(p, obligation.Command{Event: obligation.EventStartWork, Actor: preparer}, t0)
	assert.ErrorIs(t, err, obligation.ErrPreconditionFailed)
}

func TestWorkflow_Submit_RequiresAttachmentOrOverride(t *testing.T) {
	p := periodIn(obligation.StateInProgress)
	p.AttachmentCount = 0

	_, _, err := wf.Fire(p, obligation.Command{Event: obligation.EventSubmit, Actor: preparer}, t0)
	assert.ErrorIs(t, err, obligation.ErrPreconditionFailed)

	next, _, err := wf.Fire(p, obligation.Command{Event: obligation.EventSubmit, Actor: preparer, AttachmentOverride: true}, t0)
	require.NoError(t, err)
	assert.Equal(t, obligation.StateSubmitted, next.State)
	require.NotNil(t, next.SubmittedAt)
	assert.Equal(t, t0, *next.SubmittedAt)
	assert.Nil(t, next.ResolvedAt)
}

func TestWorkflow_Submit_UsesSuppliedAttachmentCount(t *testing.T) {
	// GIVEN: An in-progress period with no stored attachments
	p := periodIn(obligation.StateInProgress)
	p.AttachmentCount = 0

	// WHEN: Submitting with the collaborator's current count
	two := 2
	next, _, err := wf.Fire(p, obligation.Command{Event: obligation.EventSubmit, Actor: preparer, AttachmentCount: &two}, t0)

	// THEN: The precondition passes and the count travels with the period
	require.NoError(t, err)
	assert.Equal(t, obligation.StateSubmitted, next.State)
	assert.Equal(t, 2, next.AttachmentCount)

	// AND: A supplied zero still blocks submit
	zero := 0
	p.AttachmentCount = 3
	_, _, err = wf.Fire(p, obligation.Command{Event: obligation.EventSubmit, Actor: preparer, AttachmentCount: &zero}, t0)
	assert.ErrorIs(t, err, obligation.ErrPreconditionFailed)

	// AND: A negative count is invalid input
	neg := -1
	_, _, err = wf.Fire(p, obligation.Command{Event: obligation.EventSubmit, Actor: preparer, AttachmentCount: &neg}, t0)
	assert.ErrorIs(t, err, obligation.ErrInvalidConfiguration)
}

func TestWorkflow_RejectAndCorrection_RequireJustification(t *testing.T) {
	for _, event := range []obligation.Event{obligation.EventReject, obligation.EventRequestCorrection} {
		t.Run(string(event), func(t *testing.T) {
			_, _, err := wf.Fire(periodIn(obligation.StateSubmitted),
				obligation.Command{Event: event, Actor: supervisor, Note: "   "}, t0)
			assert.ErrorIs(t, err, obligation.ErrMissingJustification)
		})
	}
}

func TestWorkflow_ApproveAndReject_SetResolvedAt(t *testing.T) {
	p := periodIn(obligation.StateSubmitted)

	approved, _, err := wf.Fire(p, obligation.Command{Event: obligation.EventApprove, Actor: supervisor}, t0)
	require.NoError(t, err)
	require.NotNil(t, approved.ResolvedAt)

	rejected, rec, err := wf.Fire(p, obligation.Command{Event: obligation.EventReject, Actor: supervisor, Note: " wrong totals "}, t0)
	require.NoError(t, err)
	require.NotNil(t, rejected.ResolvedAt)
	assert.Equal(t, "wrong totals", rejected.RejectionReason)
	assert.Equal(t, "wrong totals", rec.Note)
}

func TestWorkflow_RejectIsTerminal(t *testing.T) {
	for _, event := range obligation.Events() {
		_, _, err := wf.Fire(periodIn(obligation.StateRejected), commandFor(event), t0)
		assert.ErrorIs(t, err, obligation.ErrInvalidTransition, "event %s", event)
	}
}

func TestWorkflow_ResubmissionLoop(t *testing.T) {
	// GIVEN: A period submitted at t0
	// WHEN: submit -> requestCorrection -> resubmit
	// THEN: submitted again, submittedAt moved to the resubmission, no rejection reason

	p := periodIn(obligation.StateInProgress)
	p.RejectionReason = "stale reason from an old import"
	p.ResolvedAt = &t0

	p, _, err := wf.Fire(p, obligation.Command{Event: obligation.EventSubmit, Actor: preparer}, t0)
	require.NoError(t, err)

	t1 := t0.Add(24 * time.Hour)
	p, _, err = wf.Fire(p, obligation.Command{Event: obligation.EventRequestCorrection, Actor: supervisor, Note: "attach the bank statement"}, t1)
	require.NoError(t, err)
	assert.Equal(t, obligation.StateCorrectionRequested, p.State)
	assert.Nil(t, p.ResolvedAt)
	assert.Empty(t, p.RejectionReason)
	require.NotNil(t, p.SubmittedAt, "submittedAt survives regression")
	assert.Equal(t, t0, *p.SubmittedAt)

	t2 := t1.Add(48 * time.Hour)
	p, _, err = wf.Fire(p, obligation.Command{Event: obligation.EventResubmit, Actor: preparer}, t2)
	require.NoError(t, err)

	assert.Equal(t, obligation.StateSubmitted, p.State)
	require.NotNil(t, p.SubmittedAt)
	assert.Equal(t, t2, *p.SubmittedAt)
	assert.Empty(t, p.RejectionReason)
	assert.Equal(t, "attach the bank statement", p.CorrectionInstructions)
}

// =============================================================================
// VALIDATION DECISIONS
// =============================================================================

func TestWorkflow_Validate_ConflictingDecision(t *testing.T) {
	cases := map[string]obligation.Decision{
		"none":               {},
		"approve and reject": {Approve: true, Reject: true, RejectionReason: "x"},
		"reject and correct": {Reject: true, RequestCorrection: true, RejectionReason: "x", CorrectionInstructions: "y"},
		"all three":          {Approve: true, Reject: true, RequestCorrection: true},
	}
	for name, d := range cases {
		t.Run(name, func(t *testing.T) {
			p := periodIn(obligation.StateSubmitted)
			next, _, err := wf.Validate(p, supervisor, d, t0)
			assert.ErrorIs(t, err, obligation.ErrConflictingDecision)
			assert.Equal(t, p, next)
		})
	}
}

func TestWorkflow_Validate_SingleDecision(t *testing.T) {
	p := periodIn(obligation.StateSubmitted)

	next, _, err := wf.Validate(p, supervisor, obligation.Decision{RequestCorrection: true, CorrectionInstructions: "fix line 4"}, t0)
	require.NoError(t, err)
	assert.Equal(t, obligation.StateCorrectionRequested, next.State)

	next, _, err = wf.Validate(p, supervisor, obligation.Decision{Approve: true}, t0)
	require.NoError(t, err)
	assert.Equal(t, obligation.StateApproved, next.State)
}

// =============================================================================
// ASSIGNMENT
// =============================================================================

func TestWorkflow_Assign_OnceThenAlreadyAssigned(t *testing.T) {
	// GIVEN: An unassigned pending period
	// WHEN: Assigning a preparer, then assigning a different one without reassign
	// THEN: The first succeeds, the second fails with AlreadyAssigned

	p := periodIn(obligation.StatePending)
	p.AssigneeID = ""
	p.SupervisorID = ""

	p, rec, err := wf.Assign(p, supervisor, obligation.Assignment{AssigneeID: "prep-1", SupervisorID: "sup-1"}, t0)
	require.NoError(t, err)
	assert.Equal(t, obligation.ActorID("prep-1"), p.AssigneeID)
	assert.Equal(t, obligation.EventAssign, rec.Event)
	assert.Equal(t, obligation.StatePending, rec.To)

	_, _, err = wf.Assign(p, supervisor, obligation.Assignment{AssigneeID: "prep-2"}, t0)
	assert.ErrorIs(t, err, obligation.ErrAlreadyAssigned)

	// Same value again is a no-op change, not a conflict.
	_, _, err = wf.Assign(p, preparer, obligation.Assignment{AssigneeID: "prep-1"}, t0)
	assert.NoError(t, err)
}

func TestWorkflow_Reassign_SupervisorOnly(t *testing.T) {
	p := periodIn(obligation.StateInProgress)

	_, _, err := wf.Assign(p, preparer, obligation.Assignment{AssigneeID: "prep-2", Reassign: true}, t0)
	assert.ErrorIs(t, err, obligation.ErrActorNotPermitted)

	next, _, err := wf.Assign(p, supervisor, obligation.Assignment{AssigneeID: "prep-2", Reassign: true}, t0)
	require.NoError(t, err)
	assert.Equal(t, obligation.ActorID("prep-2"), next.AssigneeID)
	assert.Equal(t, obligation.StateInProgress, next.State)
}

func TestWorkflow_Assign_TerminalOrEmpty(t *testing.T) {
	_, _, err := wf.Assign(periodIn(obligation.StateApproved), supervisor, obligation.Assignment{AssigneeID: "prep-2", Reassign: true}, t0)
	assert.ErrorIs(t, err, obligation.ErrInvalidTransition)

	_, _, err = wf.Assign(periodIn(obligation.StatePending), supervisor, obligation.Assignment{}, t0)
	assert.ErrorIs(t, err, obligation.ErrPreconditionFailed)
}
