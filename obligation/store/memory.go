// Package store provides in-memory obligation.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/reporting-engine/obligation"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	obligations map[obligation.ObligationID]obligation.Obligation
	periods     map[obligation.PeriodID]obligation.Period
	starts      map[startKey]obligation.PeriodID
	events      map[obligation.PeriodID][]obligation.TransitionRecord
}

type startKey struct {
	ObligationID obligation.ObligationID
	Start        string
}

func NewMemory() *Memory {
	return &Memory{
		obligations: make(map[obligation.ObligationID]obligation.Obligation),
		periods:     make(map[obligation.PeriodID]obligation.Period),
		starts:      make(map[startKey]obligation.PeriodID),
		events:      make(map[obligation.PeriodID][]obligation.TransitionRecord),
	}
}

var _ obligation.Store = (*Memory)(nil)

// =============================================================================
// OBLIGATIONS
// =============================================================================

func (m *Memory) SaveObligation(_ context.Context, o obligation.Obligation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.obligations[o.ID] = o
	return nil
}

func (m *Memory) GetObligation(_ context.Context, id obligation.ObligationID) (obligation.Obligation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.obligations[id]
	if !ok {
		return obligation.Obligation{}, obligation.ErrObligationNotFound
	}
	return o, nil
}

func (m *Memory) ListObligations(_ context.Context) ([]obligation.Obligation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]obligation.Obligation, 0, len(m.obligations))
	for _, o := range m.obligations {
		result = append(result, o)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// =============================================================================
// PERIODS
// =============================================================================

// InsertPeriods skips periods whose (obligation, start) or ID is already stored.
func (m *Memory) InsertPeriods(_ context.Context, periods []obligation.Period) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := 0
	for _, p := range periods {
		k := startKey{ObligationID: p.ObligationID, Start: p.Start.String()}
		if _, exists := m.starts[k]; exists {
			continue
		}
		if _, exists := m.periods[p.ID]; exists {
			continue
		}
		p.Version = 1
		m.periods[p.ID] = p
		m.starts[k] = p.ID
		inserted++
	}
	return inserted, nil
}

func (m *Memory) GetPeriod(_ context.Context, id obligation.PeriodID) (obligation.Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.periods[id]
	if !ok {
		return obligation.Period{}, obligation.ErrPeriodNotFound
	}
	return p, nil
}

func (m *Memory) QueryPeriods(_ context.Context, filter obligation.PeriodFilter) ([]obligation.Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []obligation.Period
	for _, p := range m.periods {
		if filter.Matches(p) {
			result = append(result, p)
		}
	}
	obligation.SortPeriods(result)
	return result, nil
}

// CommitTransition is the versioned write. Check and write happen under the
// same lock.
func (m *Memory) CommitTransition(_ context.Context, p obligation.Period, expectedVersion int, rec obligation.TransitionRecord) (obligation.Period, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.periods[p.ID]
	if !ok {
		return obligation.Period{}, obligation.ErrPeriodNotFound
	}
	if current.Version != expectedVersion {
		return obligation.Period{}, &obligation.ConflictError{
			PeriodID:        p.ID,
			ExpectedVersion: expectedVersion,
			ActualVersion:   current.Version,
		}
	}

	p.Version = current.Version + 1
	m.periods[p.ID] = p
	m.events[p.ID] = append(m.events[p.ID], rec)
	return p, nil
}

// =============================================================================
// EVENTS
// =============================================================================

func (m *Memory) ListEvents(_ context.Context, periodID obligation.PeriodID) ([]obligation.TransitionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.periods[periodID]; !ok {
		return nil, obligation.ErrPeriodNotFound
	}
	result := make([]obligation.TransitionRecord, len(m.events[periodID]))
	copy(result, m.events[periodID])
	return result, nil
}
