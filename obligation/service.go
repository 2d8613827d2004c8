package obligation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// =============================================================================
// SERVICE - Load, run pure logic, write back
// =============================================================================
// Service is the only component that touches the store. Every write to a
// period goes through commit, which carries the caller's expected version.
// Conflicts are returned, never retried here.

// Observer receives engine outcomes (metrics live in the api package).
type Observer interface {
	PeriodsGenerated(obligationID ObligationID, n int)
	TransitionApplied(rec TransitionRecord)
	ConflictDetected(periodID PeriodID)
}

type nopObserver struct{}

func (nopObserver) PeriodsGenerated(ObligationID, int) {}
func (nopObserver) TransitionApplied(TransitionRecord) {}
func (nopObserver) ConflictDetected(PeriodID)          {}

type Service struct {
	Store      Store
	Generator  PeriodGenerator
	Workflow   Workflow
	Aggregator ComplianceAggregator
	Alerts     AlertDeriver

	// DueOffsetDays applies to obligations without their own offset.
	DueOffsetDays int

	Observer Observer
}

// ServiceOptions are the engine knobs exposed through configuration.
type ServiceOptions struct {
	DueOffsetDays int
	DueSoonDays   int
	AuditWindow   time.Duration
	Observer      Observer
}

func NewService(store Store, opts ServiceOptions) *Service {
	classifier := DeadlineClassifier{DueSoonDays: opts.DueSoonDays}
	obs := opts.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	return &Service{
		Store:         store,
		Aggregator:    ComplianceAggregator{Classifier: classifier},
		Alerts:        AlertDeriver{Classifier: classifier, AuditWindow: opts.AuditWindow},
		DueOffsetDays: opts.DueOffsetDays,
		Observer:      obs,
	}
}

func (s *Service) observer() Observer {
	if s.Observer == nil {
		return nopObserver{}
	}
	return s.Observer
}

// Classifier is the deadline classifier shared by aggregation and alerts.
func (s *Service) Classifier() DeadlineClassifier {
	return s.Aggregator.Classifier
}

// =============================================================================
// OBLIGATIONS AND GENERATION
// =============================================================================

func (s *Service) CreateObligation(ctx context.Context, o Obligation) error {
	if err := o.Validate(); err != nil {
		return err
	}
	return s.Store.SaveObligation(ctx, o)
}

func (s *Service) Obligation(ctx context.Context, id ObligationID) (Obligation, error) {
	return s.Store.GetObligation(ctx, id)
}

func (s *Service) Obligations(ctx context.Context) ([]Obligation, error) {
	return s.Store.ListObligations(ctx)
}

// GenerateResult reports one generation run.
type GenerateResult struct {
	ObligationID ObligationID
	Inserted     int
	Skipped      int
	Periods      []Period
}

// Generate creates the obligation's missing periods up to horizon. Running it
// again with the same horizon inserts nothing.
func (s *Service) Generate(ctx context.Context, id ObligationID, horizon Date, now time.Time) (*GenerateResult, error) {
	ob, err := s.Store.GetObligation(ctx, id)
	if err != nil {
		return nil, err
	}

	existing, err := s.Store.QueryPeriods(ctx, PeriodFilter{ObligationID: id})
	if err != nil {
		return nil, fmt.Errorf("load periods of %s: %w", id, err)
	}

	out, err := s.Generator.Generate(GenerateInput{
		Obligation:    ob,
		HorizonEnd:    horizon,
		DueOffsetDays: s.DueOffsetDays,
		Existing:      existing,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	for i := range out.Periods {
		out.Periods[i].Version = 1
	}
	inserted, err := s.Store.InsertPeriods(ctx, out.Periods)
	if err != nil {
		return nil, fmt.Errorf("insert periods of %s: %w", id, err)
	}

	skipped := out.Skipped + len(out.Periods) - inserted

	zerolog.Ctx(ctx).Debug().
		Str("obligation_id", string(id)).
		Str("horizon", horizon.String()).
		Int("inserted", inserted).
		Int("skipped", skipped).
		Msg("periods generated")
	s.observer().PeriodsGenerated(id, inserted)

	return &GenerateResult{
		ObligationID: id,
		Inserted:     inserted,
		Skipped:      skipped,
		Periods:      out.Periods,
	}, nil
}

// GenerateAll runs Generate for every obligation still active on now's day.
// A failing obligation is logged and does not stop the others; the first
// error is returned.
func (s *Service) GenerateAll(ctx context.Context, horizon Date, now time.Time) ([]GenerateResult, error) {
	obligations, err := s.Store.ListObligations(ctx)
	if err != nil {
		return nil, err
	}

	today := DateOf(now)
	var (
		results  []GenerateResult
		firstErr error
	)
	for _, ob := range obligations {
		if ob.EndDate != nil && ob.EndDate.Before(today) {
			continue
		}
		res, err := s.Generate(ctx, ob.ID, horizon, now)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("obligation_id", string(ob.ID)).Msg("generation failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		results = append(results, *res)
	}
	return results, firstErr
}

// =============================================================================
// WORKFLOW
// =============================================================================

// ActorFor resolves whether id is the assigned preparer or supervisor of p
// for the given role.
func ActorFor(p Period, id ActorID, role Role) Actor {
	a := Actor{ID: id, Role: role}
	switch role {
	case RolePreparer:
		a.IsAssigned = id != "" && id == p.AssigneeID
	case RoleSupervisor:
		a.IsAssigned = id != "" && id == p.SupervisorID
	}
	return a
}

// Fire loads the period, applies cmd and commits it against expectedVersion.
// cmd.Actor.IsAssigned is resolved from the stored period.
func (s *Service) Fire(ctx context.Context, id PeriodID, expectedVersion int, cmd Command, now time.Time) (Period, TransitionRecord, error) {
	return s.apply(ctx, id, expectedVersion, func(p Period) (Period, TransitionRecord, error) {
		cmd.Actor = ActorFor(p, cmd.Actor.ID, cmd.Actor.Role)
		return s.Workflow.Fire(p, cmd, now)
	})
}

// Validate applies a supervisor decision.
func (s *Service) Validate(ctx context.Context, id PeriodID, expectedVersion int, actor Actor, d Decision, now time.Time) (Period, TransitionRecord, error) {
	return s.apply(ctx, id, expectedVersion, func(p Period) (Period, TransitionRecord, error) {
		return s.Workflow.Validate(p, ActorFor(p, actor.ID, actor.Role), d, now)
	})
}

// Assign sets the period's preparer and/or supervisor.
func (s *Service) Assign(ctx context.Context, id PeriodID, expectedVersion int, actor Actor, a Assignment, now time.Time) (Period, TransitionRecord, error) {
	return s.apply(ctx, id, expectedVersion, func(p Period) (Period, TransitionRecord, error) {
		return s.Workflow.Assign(p, actor, a, now)
	})
}

func (s *Service) apply(ctx context.Context, id PeriodID, expectedVersion int, step func(Period) (Period, TransitionRecord, error)) (Period, TransitionRecord, error) {
	log := zerolog.Ctx(ctx)

	p, err := s.Store.GetPeriod(ctx, id)
	if err != nil {
		return Period{}, TransitionRecord{}, err
	}
	if p.Version != expectedVersion {
		s.observer().ConflictDetected(id)
		log.Warn().Str("period_id", string(id)).Int("expected", expectedVersion).Int("actual", p.Version).Msg("stale period version")
		return p, TransitionRecord{}, &ConflictError{PeriodID: id, ExpectedVersion: expectedVersion, ActualVersion: p.Version}
	}

	next, rec, err := step(p)
	if err != nil {
		return p, TransitionRecord{}, err
	}

	stored, err := s.Store.CommitTransition(ctx, next, expectedVersion, rec)
	if err != nil {
		if IsRetryable(err) {
			s.observer().ConflictDetected(id)
			log.Warn().Err(err).Str("period_id", string(id)).Msg("concurrent period update")
		}
		return p, TransitionRecord{}, err
	}

	log.Debug().
		Str("period_id", string(id)).
		Str("event", string(rec.Event)).
		Str("from", string(rec.From)).
		Str("to", string(rec.To)).
		Str("actor_id", string(rec.ActorID)).
		Int("version", stored.Version).
		Msg("transition applied")
	s.observer().TransitionApplied(rec)

	return stored, rec, nil
}

// =============================================================================
// READ MODELS
// =============================================================================

// PeriodView is a period with its deadline classification at some instant.
type PeriodView struct {
	Period
	Classification Classification
}

func (s *Service) Periods(ctx context.Context, f PeriodFilter, now time.Time) ([]PeriodView, error) {
	periods, err := s.Store.QueryPeriods(ctx, f)
	if err != nil {
		return nil, err
	}
	views := make([]PeriodView, len(periods))
	for i, p := range periods {
		views[i] = PeriodView{Period: p, Classification: s.Classifier().Classify(p, now)}
	}
	return views, nil
}

func (s *Service) Period(ctx context.Context, id PeriodID, now time.Time) (PeriodView, error) {
	p, err := s.Store.GetPeriod(ctx, id)
	if err != nil {
		return PeriodView{}, err
	}
	return PeriodView{Period: p, Classification: s.Classifier().Classify(p, now)}, nil
}

func (s *Service) Events(ctx context.Context, id PeriodID) ([]TransitionRecord, error) {
	return s.Store.ListEvents(ctx, id)
}

func (s *Service) Compliance(ctx context.Context, f PeriodFilter, groupBy GroupFunc, now time.Time) (map[string]ComplianceSnapshot, error) {
	periods, err := s.Store.QueryPeriods(ctx, f)
	if err != nil {
		return nil, err
	}
	return s.Aggregator.Aggregate(periods, now, groupBy), nil
}

func (s *Service) ComplianceSeries(ctx context.Context, f PeriodFilter, now time.Time) ([]SeriesPoint, error) {
	periods, err := s.Store.QueryPeriods(ctx, f)
	if err != nil {
		return nil, err
	}
	return s.Aggregator.Series(periods, now), nil
}

func (s *Service) DeriveAlerts(ctx context.Context, f PeriodFilter, now time.Time) ([]Alert, error) {
	periods, err := s.Store.QueryPeriods(ctx, f)
	if err != nil {
		return nil, err
	}
	return s.Alerts.Derive(periods, now), nil
}
