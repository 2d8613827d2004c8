package sqlite_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reporting-engine/obligation"
	"github.com/warp/reporting-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var now = time.Date(2024, time.January, 5, 9, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedObligation(t *testing.T, store *sqlite.Store) obligation.Obligation {
	offset := 15
	end := obligation.MustParseDate("2026-12-31")
	ob := obligation.Obligation{
		ID:                  "ob-iva",
		EntityID:            "ent-1",
		Name:                "IVA",
		Frequency:           obligation.Quarterly(),
		ActivationDate:      obligation.MustParseDate("2024-01-01"),
		EndDate:             &end,
		DueOffsetDays:       &offset,
		DefaultAssigneeID:   "prep-1",
		DefaultSupervisorID: "sup-1",
		CreatedAt:           now,
	}
	require.NoError(t, store.SaveObligation(context.Background(), ob))
	return ob
}

func generatePeriods(t *testing.T, ob obligation.Obligation, horizon string) []obligation.Period {
	out, err := obligation.PeriodGenerator{}.Generate(obligation.GenerateInput{
		Obligation: ob,
		HorizonEnd: obligation.MustParseDate(horizon),
		Now:        now,
	})
	require.NoError(t, err)
	return out.Periods
}

// =============================================================================
// ROUND TRIPS
// =============================================================================

func TestStore_ObligationRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ob := seedObligation(t, store)

	got, err := store.GetObligation(context.Background(), "ob-iva")
	require.NoError(t, err)

	assert.Equal(t, ob.ID, got.ID)
	assert.Equal(t, ob.Frequency, got.Frequency)
	assert.Equal(t, "2024-01-01", got.ActivationDate.String())
	require.NotNil(t, got.EndDate)
	assert.Equal(t, "2026-12-31", got.EndDate.String())
	require.NotNil(t, got.DueOffsetDays)
	assert.Equal(t, 15, *got.DueOffsetDays)
	assert.Equal(t, obligation.ActorID("sup-1"), got.DefaultSupervisorID)
	assert.True(t, now.Equal(got.CreatedAt))

	_, err = store.GetObligation(context.Background(), "missing")
	assert.ErrorIs(t, err, obligation.ErrObligationNotFound)
}

func TestStore_InsertPeriods_Idempotent(t *testing.T) {
	// GIVEN: Four generated quarters stored once
	// WHEN: The same periods are inserted again
	// THEN: Zero new rows; still four periods at version 1

	store := newTestStore(t)
	ctx := context.Background()
	ob := seedObligation(t, store)
	periods := generatePeriods(t, ob, "2024-12-31")

	n, err := store.InsertPeriods(ctx, periods)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = store.InsertPeriods(ctx, periods)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := store.QueryPeriods(ctx, obligation.PeriodFilter{ObligationID: "ob-iva"})
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, 1, got[0].Version)
	assert.Equal(t, "2024-01-01", got[0].Start.String())
	assert.Equal(t, "2024-04-15", got[0].DueDate.String())
	assert.Equal(t, obligation.StatePending, got[0].State)
	assert.Nil(t, got[0].SubmittedAt)
}

func TestStore_QueryPeriods_Filters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ob := seedObligation(t, store)
	_, err := store.InsertPeriods(ctx, generatePeriods(t, ob, "2024-12-31"))
	require.NoError(t, err)

	from := obligation.MustParseDate("2024-07-01")
	to := obligation.MustParseDate("2024-10-31")
	got, err := store.QueryPeriods(ctx, obligation.PeriodFilter{EntityID: "ent-1", DueFrom: &from, DueTo: &to})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2024-07-15", got[0].DueDate.String())
	assert.Equal(t, "2024-10-15", got[1].DueDate.String())

	got, err = store.QueryPeriods(ctx, obligation.PeriodFilter{States: []obligation.State{obligation.StateApproved, obligation.StateRejected}})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = store.QueryPeriods(ctx, obligation.PeriodFilter{AssigneeID: "prep-1"})
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestStore_CommitTransition_AndEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ob := seedObligation(t, store)
	_, err := store.InsertPeriods(ctx, generatePeriods(t, ob, "2024-03-31"))
	require.NoError(t, err)

	p, err := store.GetPeriod(ctx, "ob-iva-20240101")
	require.NoError(t, err)

	actor := obligation.Actor{ID: "prep-1", Role: obligation.RolePreparer, IsAssigned: true}
	next, rec, err := obligation.Workflow{}.Fire(p, obligation.Command{Event: obligation.EventStartWork, Actor: actor}, now)
	require.NoError(t, err)
	next.AttachmentCount = 2

	stored, err := store.CommitTransition(ctx, next, p.Version, rec)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Version)

	got, err := store.GetPeriod(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, obligation.StateInProgress, got.State)
	assert.Equal(t, 2, got.AttachmentCount)
	assert.Equal(t, 2, got.Version)

	submitted, rec2, err := obligation.Workflow{}.Fire(got, obligation.Command{Event: obligation.EventSubmit, Actor: actor}, now.Add(time.Hour))
	require.NoError(t, err)
	_, err = store.CommitTransition(ctx, submitted, got.Version, rec2)
	require.NoError(t, err)

	got, err = store.GetPeriod(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SubmittedAt)
	assert.True(t, now.Add(time.Hour).Equal(*got.SubmittedAt))

	events, err := store.ListEvents(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, obligation.EventStartWork, events[0].Event)
	assert.Equal(t, obligation.StatePending, events[0].From)
	assert.Equal(t, obligation.EventSubmit, events[1].Event)
	assert.Equal(t, obligation.ActorID("prep-1"), events[1].ActorID)
}

func TestStore_ListEvents_CommitOrderWithinOneSecond(t *testing.T) {
	// GIVEN: Three commits whose instants differ only in fractional seconds,
	// written in an order that text-sorted RFC3339Nano would scramble
	store := newTestStore(t)
	ctx := context.Background()
	ob := seedObligation(t, store)
	_, err := store.InsertPeriods(ctx, generatePeriods(t, ob, "2024-03-31"))
	require.NoError(t, err)

	base := time.Date(2024, time.March, 20, 10, 0, 0, 0, time.UTC)
	steps := []struct {
		event obligation.Event
		role  obligation.Role
		at    time.Time
	}{
		{obligation.EventStartWork, obligation.RolePreparer, base},
		{obligation.EventSubmit, obligation.RolePreparer, base.Add(100 * time.Millisecond)},
		{obligation.EventApprove, obligation.RoleSupervisor, base.Add(120 * time.Millisecond)},
	}

	for _, step := range steps {
		p, err := store.GetPeriod(ctx, "ob-iva-20240101")
		require.NoError(t, err)
		id := p.AssigneeID
		if step.role == obligation.RoleSupervisor {
			id = p.SupervisorID
		}
		actor := obligation.ActorFor(p, id, step.role)
		next, rec, err := obligation.Workflow{}.Fire(p, obligation.Command{Event: step.event, Actor: actor, AttachmentOverride: true}, step.at)
		require.NoError(t, err)
		_, err = store.CommitTransition(ctx, next, p.Version, rec)
		require.NoError(t, err)
	}

	// WHEN: Reading the audit trail
	events, err := store.ListEvents(ctx, "ob-iva-20240101")
	require.NoError(t, err)

	// THEN: Commit order, with instants intact
	require.Len(t, events, 3)
	for i, step := range steps {
		assert.Equal(t, step.event, events[i].Event)
		assert.True(t, step.at.Equal(events[i].At), "%s at %s", events[i].Event, events[i].At)
	}
}

func TestStore_CommitTransition_StaleVersion(t *testing.T) {
	// GIVEN: A period at version 1
	// WHEN: Two writers commit against version 1
	// THEN: The second gets ConcurrentModification and its event is not logged

	store := newTestStore(t)
	ctx := context.Background()
	ob := seedObligation(t, store)
	_, err := store.InsertPeriods(ctx, generatePeriods(t, ob, "2024-03-31"))
	require.NoError(t, err)
	p, err := store.GetPeriod(ctx, "ob-iva-20240101")
	require.NoError(t, err)

	a := p
	a.State = obligation.StateInProgress
	_, err = store.CommitTransition(ctx, a, 1, obligation.TransitionRecord{ID: "e1", PeriodID: p.ID, Event: obligation.EventStartWork, At: now})
	require.NoError(t, err)

	b := p
	b.AssigneeID = "prep-2"
	_, err = store.CommitTransition(ctx, b, 1, obligation.TransitionRecord{ID: "e2", PeriodID: p.ID, Event: obligation.EventAssign, At: now})
	require.Error(t, err)
	assert.ErrorIs(t, err, obligation.ErrConcurrentModification)

	var ce *obligation.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 2, ce.ActualVersion)

	events, err := store.ListEvents(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestStore_NotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetPeriod(ctx, "missing")
	assert.ErrorIs(t, err, obligation.ErrPeriodNotFound)

	_, err = store.ListEvents(ctx, "missing")
	assert.ErrorIs(t, err, obligation.ErrPeriodNotFound)

	_, err = store.CommitTransition(ctx, obligation.Period{ID: "missing"}, 1, obligation.TransitionRecord{})
	assert.ErrorIs(t, err, obligation.ErrPeriodNotFound)
}

func TestStore_WithService(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedObligation(t, store)

	svc := obligation.NewService(store, obligation.ServiceOptions{})
	res, err := svc.Generate(ctx, "ob-iva", obligation.MustParseDate("2024-12-31"), now)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Inserted)

	res, err = svc.Generate(ctx, "ob-iva", obligation.MustParseDate("2024-12-31"), now)
	require.NoError(t, err)
	assert.Zero(t, res.Inserted)
}

// =============================================================================
// SQL-LEVEL CONFLICT MAPPING
// =============================================================================

var updatePeriodSQL = regexp.QuoteMeta("UPDATE periods SET")
var selectVersionSQL = regexp.QuoteMeta("SELECT version FROM periods WHERE id = ?")

func TestStore_CommitTransition_ZeroRows_Conflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(updatePeriodSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(selectVersionSQL).
		WithArgs("p-1").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(7))
	mock.ExpectRollback()

	store := sqlite.NewWithDB(db)
	_, err = store.CommitTransition(context.Background(), obligation.Period{ID: "p-1"}, 6, obligation.TransitionRecord{})

	var ce *obligation.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 6, ce.ExpectedVersion)
	assert.Equal(t, 7, ce.ActualVersion)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CommitTransition_ZeroRows_Missing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(updatePeriodSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(selectVersionSQL).
		WithArgs("p-1").
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectRollback()

	store := sqlite.NewWithDB(db)
	_, err = store.CommitTransition(context.Background(), obligation.Period{ID: "p-1"}, 1, obligation.TransitionRecord{})

	assert.ErrorIs(t, err, obligation.ErrPeriodNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CommitTransition_EventInsertFails_RollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(updatePeriodSQL).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO period_events")).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	store := sqlite.NewWithDB(db)
	_, err = store.CommitTransition(context.Background(), obligation.Period{ID: "p-1"}, 1, obligation.TransitionRecord{ID: "e1", PeriodID: "p-1"})

	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}
