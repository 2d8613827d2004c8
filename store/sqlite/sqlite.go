/*
Package sqlite provides a SQLite-backed implementation of obligation.Store.

PURPOSE:
  Persists obligations, their generated periods and the per-period event
  log. The same SQL runs on PostgreSQL with minor dialect changes.

INTERFACES IMPLEMENTED:
  obligation.ObligationStore: Obligation catalog
  obligation.PeriodStore:     Periods with versioned writes
  obligation.EventLog:        Transition history

KEY TABLES:
  obligations:    Catalog rows (frequency stored as kind + months)
  periods:        One row per (obligation, period_start), with a version column
  period_events:  Append-only TransitionRecords

OPTIMISTIC WRITES:
  CommitTransition runs, inside one SQL transaction:
    UPDATE periods SET ..., version = version + 1 WHERE id = ? AND version = ?
    INSERT INTO period_events ...
  Zero rows updated means either the period is gone (ErrPeriodNotFound) or
  someone else committed first (*obligation.ConflictError). Nothing is
  retried here.

IDEMPOTENT GENERATION:
  InsertPeriods uses ON CONFLICT(obligation_id, period_start) DO NOTHING and
  counts the rows that were actually written.

ENCODING:
  Calendar days are stored as YYYY-MM-DD, instants as fixed-width RFC3339
  UTC with nanoseconds, so text order is time order. Events are read back in
  insertion (rowid) order.

USAGE:
  store, err := sqlite.New("./data/reporting.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := obligation.NewService(store, obligation.ServiceOptions{})

SEE ALSO:
  - obligation/store.go: Interface definitions
  - obligation/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/reporting-engine/obligation"
)

// Store implements obligation.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ obligation.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A :memory: database exists per connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// NewWithDB wraps an existing handle without migrating it.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection (used by the health endpoint).
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS obligations (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		frequency_kind TEXT NOT NULL,
		frequency_months INTEGER NOT NULL DEFAULT 0,
		activation_date TEXT NOT NULL,
		end_date TEXT,
		due_offset_days INTEGER,
		default_assignee_id TEXT NOT NULL DEFAULT '',
		default_supervisor_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_obligations_entity
		ON obligations(entity_id);

	CREATE TABLE IF NOT EXISTS periods (
		id TEXT PRIMARY KEY,
		obligation_id TEXT NOT NULL REFERENCES obligations(id),
		entity_id TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		due_date TEXT NOT NULL,
		state TEXT NOT NULL,
		assignee_id TEXT NOT NULL DEFAULT '',
		supervisor_id TEXT NOT NULL DEFAULT '',
		submitted_at TEXT,
		resolved_at TEXT,
		rejection_reason TEXT NOT NULL DEFAULT '',
		correction_instructions TEXT NOT NULL DEFAULT '',
		attachment_count INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(obligation_id, period_start)
	);

	CREATE INDEX IF NOT EXISTS idx_periods_entity_due
		ON periods(entity_id, due_date);
	CREATE INDEX IF NOT EXISTS idx_periods_assignee
		ON periods(assignee_id);
	CREATE INDEX IF NOT EXISTS idx_periods_due
		ON periods(due_date);

	-- Append-only
	CREATE TABLE IF NOT EXISTS period_events (
		id TEXT PRIMARY KEY,
		period_id TEXT NOT NULL REFERENCES periods(id),
		event TEXT NOT NULL,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		actor_id TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		occurred_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_period_events_period
		ON period_events(period_id, occurred_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// OBLIGATION STORE
// =============================================================================

const obligationColumns = `id, entity_id, name, frequency_kind, frequency_months, activation_date,
	end_date, due_offset_days, default_assignee_id, default_supervisor_id, created_at`

// SaveObligation inserts or replaces an obligation definition.
func (s *Store) SaveObligation(ctx context.Context, o obligation.Obligation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO obligations (` + obligationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			entity_id = excluded.entity_id,
			name = excluded.name,
			frequency_kind = excluded.frequency_kind,
			frequency_months = excluded.frequency_months,
			activation_date = excluded.activation_date,
			end_date = excluded.end_date,
			due_offset_days = excluded.due_offset_days,
			default_assignee_id = excluded.default_assignee_id,
			default_supervisor_id = excluded.default_supervisor_id
	`

	createdAt := o.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var endDate sql.NullString
	if o.EndDate != nil {
		endDate = sql.NullString{String: o.EndDate.String(), Valid: true}
	}
	var offset sql.NullInt64
	if o.DueOffsetDays != nil {
		offset = sql.NullInt64{Int64: int64(*o.DueOffsetDays), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		o.ID, o.EntityID, o.Name,
		o.Frequency.Kind, o.Frequency.Months,
		o.ActivationDate.String(), endDate, offset,
		o.DefaultAssigneeID, o.DefaultSupervisorID,
		formatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save obligation %s: %w", o.ID, err)
	}
	return nil
}

// GetObligation retrieves an obligation by ID.
func (s *Store) GetObligation(ctx context.Context, id obligation.ObligationID) (obligation.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+obligationColumns+" FROM obligations WHERE id = ?", id)
	o, err := scanObligation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return obligation.Obligation{}, obligation.ErrObligationNotFound
	}
	return o, err
}

// ListObligations returns all obligations ordered by ID.
func (s *Store) ListObligations(ctx context.Context) ([]obligation.Obligation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+obligationColumns+" FROM obligations ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []obligation.Obligation
	for rows.Next() {
		o, err := scanObligation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanObligation(row scanner) (obligation.Obligation, error) {
	var (
		o                    obligation.Obligation
		kind, activation     string
		createdAt            string
		endDate              sql.NullString
		offset               sql.NullInt64
		assignee, supervisor string
	)
	err := row.Scan(&o.ID, &o.EntityID, &o.Name, &kind, &o.Frequency.Months, &activation,
		&endDate, &offset, &assignee, &supervisor, &createdAt)
	if err != nil {
		return o, err
	}

	o.Frequency.Kind = obligation.FrequencyKind(kind)
	o.DefaultAssigneeID = obligation.ActorID(assignee)
	o.DefaultSupervisorID = obligation.ActorID(supervisor)
	if o.ActivationDate, err = obligation.ParseDate(activation); err != nil {
		return o, err
	}
	if endDate.Valid {
		d, err := obligation.ParseDate(endDate.String)
		if err != nil {
			return o, err
		}
		o.EndDate = &d
	}
	if offset.Valid {
		n := int(offset.Int64)
		o.DueOffsetDays = &n
	}
	o.CreatedAt = parseTime(createdAt)
	return o, nil
}

// =============================================================================
// PERIOD STORE
// =============================================================================

const periodColumns = `id, obligation_id, entity_id, period_start, period_end, due_date, state,
	assignee_id, supervisor_id, submitted_at, resolved_at, rejection_reason,
	correction_instructions, attachment_count, version, created_at, updated_at`

// InsertPeriods writes new periods at version 1 in one transaction.
func (s *Store) InsertPeriods(ctx context.Context, periods []obligation.Period) (int, error) {
	if len(periods) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	query := `
		INSERT INTO periods (` + periodColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT DO NOTHING
	`

	inserted := 0
	for _, p := range periods {
		res, err := sqlTx.ExecContext(ctx, query,
			p.ID, p.ObligationID, p.EntityID,
			p.Start.String(), p.End.String(), p.DueDate.String(), p.State,
			p.AssigneeID, p.SupervisorID,
			nullTime(p.SubmittedAt), nullTime(p.ResolvedAt),
			p.RejectionReason, p.CorrectionInstructions, p.AttachmentCount,
			formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert period %s: %w", p.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += int(n)
	}

	if err := sqlTx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// GetPeriod retrieves a period by ID.
func (s *Store) GetPeriod(ctx context.Context, id obligation.PeriodID) (obligation.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+periodColumns+" FROM periods WHERE id = ?", id)
	p, err := scanPeriod(row)
	if errors.Is(err, sql.ErrNoRows) {
		return obligation.Period{}, obligation.ErrPeriodNotFound
	}
	return p, err
}

// QueryPeriods translates the filter into a WHERE clause.
func (s *Store) QueryPeriods(ctx context.Context, f obligation.PeriodFilter) ([]obligation.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := periodWhere(f)
	query := "SELECT " + periodColumns + " FROM periods" + where + " ORDER BY due_date, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []obligation.Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func periodWhere(f obligation.PeriodFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.ObligationID != "" {
		clauses = append(clauses, "obligation_id = ?")
		args = append(args, f.ObligationID)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id = ?")
		args = append(args, f.EntityID)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id = ?")
		args = append(args, f.AssigneeID)
	}
	if f.DueFrom != nil {
		clauses = append(clauses, "due_date >= ?")
		args = append(args, f.DueFrom.String())
	}
	if f.DueTo != nil {
		clauses = append(clauses, "due_date <= ?")
		args = append(args, f.DueTo.String())
	}
	if len(f.States) > 0 {
		marks := make([]string, len(f.States))
		for i, st := range f.States {
			marks[i] = "?"
			args = append(args, st)
		}
		clauses = append(clauses, "state IN ("+strings.Join(marks, ", ")+")")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// CommitTransition is the single versioned write path for a period.
func (s *Store) CommitTransition(ctx context.Context, p obligation.Period, expectedVersion int, rec obligation.TransitionRecord) (obligation.Period, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return obligation.Period{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	res, err := sqlTx.ExecContext(ctx, `
		UPDATE periods SET
			state = ?,
			assignee_id = ?,
			supervisor_id = ?,
			submitted_at = ?,
			resolved_at = ?,
			rejection_reason = ?,
			correction_instructions = ?,
			attachment_count = ?,
			updated_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?`,
		p.State, p.AssigneeID, p.SupervisorID,
		nullTime(p.SubmittedAt), nullTime(p.ResolvedAt),
		p.RejectionReason, p.CorrectionInstructions, p.AttachmentCount,
		formatTime(p.UpdatedAt),
		p.ID, expectedVersion,
	)
	if err != nil {
		return obligation.Period{}, fmt.Errorf("failed to update period %s: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return obligation.Period{}, err
	}

	if n == 0 {
		var actual int
		err := sqlTx.QueryRowContext(ctx, "SELECT version FROM periods WHERE id = ?", p.ID).Scan(&actual)
		if errors.Is(err, sql.ErrNoRows) {
			return obligation.Period{}, obligation.ErrPeriodNotFound
		}
		if err != nil {
			return obligation.Period{}, err
		}
		return obligation.Period{}, &obligation.ConflictError{
			PeriodID:        p.ID,
			ExpectedVersion: expectedVersion,
			ActualVersion:   actual,
		}
	}

	if err := appendEvent(ctx, sqlTx, rec); err != nil {
		return obligation.Period{}, err
	}
	if err := sqlTx.Commit(); err != nil {
		return obligation.Period{}, err
	}

	p.Version = expectedVersion + 1
	return p, nil
}

func scanPeriod(row scanner) (obligation.Period, error) {
	var (
		p                       obligation.Period
		start, end, due, state  string
		assignee, supervisor    string
		submittedAt, resolvedAt sql.NullString
		createdAt, updatedAt    string
	)
	err := row.Scan(&p.ID, &p.ObligationID, &p.EntityID, &start, &end, &due, &state,
		&assignee, &supervisor, &submittedAt, &resolvedAt, &p.RejectionReason,
		&p.CorrectionInstructions, &p.AttachmentCount, &p.Version, &createdAt, &updatedAt)
	if err != nil {
		return p, err
	}

	if p.Start, err = obligation.ParseDate(start); err != nil {
		return p, err
	}
	if p.End, err = obligation.ParseDate(end); err != nil {
		return p, err
	}
	if p.DueDate, err = obligation.ParseDate(due); err != nil {
		return p, err
	}
	p.State = obligation.State(state)
	p.AssigneeID = obligation.ActorID(assignee)
	p.SupervisorID = obligation.ActorID(supervisor)
	p.SubmittedAt = parseNullTime(submittedAt)
	p.ResolvedAt = parseNullTime(resolvedAt)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

// =============================================================================
// EVENT LOG
// =============================================================================

func appendEvent(ctx context.Context, db interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, rec obligation.TransitionRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO period_events (id, period_id, event, from_state, to_state, actor_id, role, note, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.PeriodID, rec.Event, rec.From, rec.To,
		rec.ActorID, rec.Role, rec.Note, formatTime(rec.At),
	)
	if err != nil {
		return fmt.Errorf("failed to append event for period %s: %w", rec.PeriodID, err)
	}
	return nil
}

// ListEvents returns a period's history, oldest first.
func (s *Store) ListEvents(ctx context.Context, periodID obligation.PeriodID) ([]obligation.TransitionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM periods WHERE id = ?", periodID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, obligation.ErrPeriodNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, period_id, event, from_state, to_state, actor_id, role, note, occurred_at
		FROM period_events WHERE period_id = ? ORDER BY rowid`, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []obligation.TransitionRecord
	for rows.Next() {
		var (
			rec                          obligation.TransitionRecord
			event, from, to, actor, role string
			occurredAt                   string
		)
		if err := rows.Scan(&rec.ID, &rec.PeriodID, &event, &from, &to, &actor, &role, &rec.Note, &occurredAt); err != nil {
			return nil, err
		}
		rec.Event = obligation.Event(event)
		rec.From = obligation.State(from)
		rec.To = obligation.State(to)
		rec.ActorID = obligation.ActorID(actor)
		rec.Role = obligation.Role(role)
		rec.At = parseTime(occurredAt)
		result = append(result, rec)
	}
	return result, rows.Err()
}

// Helper functions

// timeLayout keeps trailing zeros so stored instants compare as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
