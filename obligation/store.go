/*
store.go - Persistence interfaces for obligations, periods and their history

PURPOSE:
  Defines the boundary between the engine and the database. The engine
  itself never blocks on I/O; the Service loads a snapshot through these
  interfaces, runs pure logic, and writes the result back.

KEY INTERFACES:
  ObligationStore: Catalog of obligations (read-mostly)
  PeriodStore:     Period rows, idempotent insert and versioned commit
  EventLog:        Append-only TransitionRecord history

OPTIMISTIC CONCURRENCY:
  CommitTransition is the ONLY way a period changes after insert. It
  succeeds only if the stored version equals expectedVersion, bumps the
  version, and appends the TransitionRecord in the same atomic step.
  A stale caller receives a *ConflictError.

IDEMPOTENT INSERT:
  InsertPeriods skips rows whose (obligation, start) already exist and
  returns how many were actually written.

IMPLEMENTATIONS:
  - obligation/store/memory.go: In-memory for tests and dev
  - store/sqlite/sqlite.go:     SQLite

SEE ALSO:
  - service.go: The only caller of CommitTransition
*/
package obligation

import (
	"context"
	"slices"
)

type ObligationStore interface {
	SaveObligation(ctx context.Context, o Obligation) error
	GetObligation(ctx context.Context, id ObligationID) (Obligation, error)
	ListObligations(ctx context.Context) ([]Obligation, error)
}

type PeriodStore interface {
	// InsertPeriods writes new periods with Version 1. Existing
	// (obligation, start) pairs are left untouched.
	InsertPeriods(ctx context.Context, periods []Period) (int, error)

	GetPeriod(ctx context.Context, id PeriodID) (Period, error)

	// QueryPeriods returns matching periods ordered by DueDate, then ID.
	QueryPeriods(ctx context.Context, filter PeriodFilter) ([]Period, error)

	// CommitTransition replaces the stored period with p when its version is
	// still expectedVersion, and appends rec. Returns the stored result.
	CommitTransition(ctx context.Context, p Period, expectedVersion int, rec TransitionRecord) (Period, error)
}

type EventLog interface {
	ListEvents(ctx context.Context, periodID PeriodID) ([]TransitionRecord, error)
}

// Store is everything the Service needs.
type Store interface {
	ObligationStore
	PeriodStore
	EventLog
}

// =============================================================================
// FILTER
// =============================================================================

// PeriodFilter narrows a period query. Zero fields match everything.
type PeriodFilter struct {
	ObligationID ObligationID
	EntityID     EntityID
	AssigneeID   ActorID
	DueFrom      *Date
	DueTo        *Date
	States       []State
}

// Matches applies the filter in memory. SQL stores translate the same fields
// into a WHERE clause.
func (f PeriodFilter) Matches(p Period) bool {
	if f.ObligationID != "" && p.ObligationID != f.ObligationID {
		return false
	}
	if f.EntityID != "" && p.EntityID != f.EntityID {
		return false
	}
	if f.AssigneeID != "" && p.AssigneeID != f.AssigneeID {
		return false
	}
	if f.DueFrom != nil && p.DueDate.Before(*f.DueFrom) {
		return false
	}
	if f.DueTo != nil && p.DueDate.After(*f.DueTo) {
		return false
	}
	if len(f.States) > 0 && !slices.Contains(f.States, p.State) {
		return false
	}
	return true
}

// SortPeriods orders by DueDate, then ID.
func SortPeriods(periods []Period) {
	slices.SortFunc(periods, func(a, b Period) int {
		if c := a.DueDate.Time.Compare(b.DueDate.Time); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}
