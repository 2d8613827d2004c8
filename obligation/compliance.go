/*
compliance.go - Compliance roll-ups over period snapshots

PURPOSE:
  Rolls period outcomes up per obligation, entity, assignee or globally.
  The rate is computed over CLOSED periods only, so an obligation with many
  not-yet-due periods cannot look compliant by default.

COUNTING RULES (identical for every grouping):
  approved + on time   -> TotalPeriods, OnTimeCount
  approved + late      -> TotalPeriods, LateCount
  rejected             -> TotalPeriods, RejectedCount
  open + overdue       -> TotalPeriods, OverdueCount
  open, not overdue    -> PendingCount (outside the denominator)

  CompliancePct = OnTimeCount / TotalPeriods * 100, 0 when TotalPeriods == 0.

CONSERVATION:
  Each period lands in exactly one group, so when the grouping partitions
  the input the sum of group totals equals the global total.

SEE ALSO:
  - deadline.go: Supplies on-time / late / overdue
*/
package obligation

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// GlobalScope is the single key produced by Global.
const GlobalScope = "all"

// UnassignedScope groups periods without an assignee under ByAssignee.
const UnassignedScope = "unassigned"

// GroupFunc maps a period to its group key.
type GroupFunc func(Period) string

func ByEntity(p Period) string     { return string(p.EntityID) }
func ByObligation(p Period) string { return string(p.ObligationID) }
func Global(Period) string         { return GlobalScope }

func ByAssignee(p Period) string {
	if p.AssigneeID == "" {
		return UnassignedScope
	}
	return string(p.AssigneeID)
}

// ByDueMonth buckets by the due date's YYYY-MM.
func ByDueMonth(p Period) string { return p.DueDate.MonthKey() }

// =============================================================================
// SNAPSHOT
// =============================================================================

// ComplianceSnapshot is computed on demand, never stored authoritatively.
type ComplianceSnapshot struct {
	ScopeKey      string
	TotalPeriods  int
	OnTimeCount   int
	LateCount     int
	OverdueCount  int
	RejectedCount int
	PendingCount  int
	CompliancePct decimal.Decimal
}

func (s *ComplianceSnapshot) add(p Period, c Classification) {
	switch p.State {
	case StateApproved:
		s.TotalPeriods++
		if c.Status == StatusOnTime {
			s.OnTimeCount++
		} else {
			s.LateCount++
		}
	case StateRejected:
		s.TotalPeriods++
		s.RejectedCount++
	default:
		if c.Status == StatusOverdue {
			s.TotalPeriods++
			s.OverdueCount++
		} else {
			s.PendingCount++
		}
	}
}

func (s *ComplianceSnapshot) finalize() {
	s.CompliancePct = compliancePct(s.OnTimeCount, s.TotalPeriods)
}

var hundred = decimal.NewFromInt(100)

func compliancePct(onTime, total int) decimal.Decimal {
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(onTime)).
		Mul(hundred).
		Div(decimal.NewFromInt(int64(total))).
		Round(2)
}

// =============================================================================
// AGGREGATOR
// =============================================================================

type ComplianceAggregator struct {
	Classifier DeadlineClassifier
}

// Aggregate groups periods with groupBy and returns one snapshot per key.
// A nil groupBy is the global scope: the result always holds the GlobalScope
// snapshot, zero-valued when there are no periods. With a grouping, an empty
// input returns an empty map since there are no keys to report; use
// Summarize for the zero snapshot of a named scope.
func (a ComplianceAggregator) Aggregate(periods []Period, now time.Time, groupBy GroupFunc) map[string]ComplianceSnapshot {
	if groupBy == nil {
		return map[string]ComplianceSnapshot{GlobalScope: a.Summarize(periods, now, GlobalScope)}
	}

	groups := make(map[string]*ComplianceSnapshot)
	for _, p := range periods {
		key := groupBy(p)
		s, ok := groups[key]
		if !ok {
			s = &ComplianceSnapshot{ScopeKey: key}
			groups[key] = s
		}
		s.add(p, a.Classifier.Classify(p, now))
	}

	result := make(map[string]ComplianceSnapshot, len(groups))
	for key, s := range groups {
		s.finalize()
		result[key] = *s
	}
	return result
}

// Summarize returns a single snapshot over all periods. Zero periods yield a
// zero-valued snapshot carrying scope.
func (a ComplianceAggregator) Summarize(periods []Period, now time.Time, scope string) ComplianceSnapshot {
	s := ComplianceSnapshot{ScopeKey: scope}
	for _, p := range periods {
		s.add(p, a.Classifier.Classify(p, now))
	}
	s.finalize()
	return s
}

// =============================================================================
// TIME SERIES
// =============================================================================

// SeriesPoint is one due-month bucket plus the running rate up to it.
type SeriesPoint struct {
	Bucket        string
	Snapshot      ComplianceSnapshot
	CumulativePct decimal.Decimal
}

// Series buckets periods by due month in ascending order.
func (a ComplianceAggregator) Series(periods []Period, now time.Time) []SeriesPoint {
	groups := a.Aggregate(periods, now, ByDueMonth)

	buckets := make([]string, 0, len(groups))
	for k := range groups {
		buckets = append(buckets, k)
	}
	sort.Strings(buckets)

	points := make([]SeriesPoint, 0, len(buckets))
	var onTime, total int
	for _, b := range buckets {
		s := groups[b]
		onTime += s.OnTimeCount
		total += s.TotalPeriods
		points = append(points, SeriesPoint{
			Bucket:        b,
			Snapshot:      s,
			CumulativePct: compliancePct(onTime, total),
		})
	}
	return points
}
