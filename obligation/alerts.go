package obligation

import (
	"fmt"
	"sort"
	"time"
)

// =============================================================================
// ALERT DERIVER - Period snapshot -> typed alerts
// =============================================================================
// Alerts are never persisted. Every call rebuilds them from current period
// state, and the deterministic ID lets callers de-duplicate across runs.

// Severity is one of the levels the rules below emit.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

type AlertKind string

// Kinds in rule priority order.
const (
	AlertCorrectionNeeded AlertKind = "correction-needed"
	AlertRejected         AlertKind = "rejected-recently"
	AlertOverdue          AlertKind = "overdue"
	AlertDueSoon          AlertKind = "due-soon"
	AlertApproved         AlertKind = "approved-recently"
)

var kindOrder = map[AlertKind]int{
	AlertCorrectionNeeded: 0,
	AlertRejected:         1,
	AlertOverdue:          2,
	AlertDueSoon:          3,
	AlertApproved:         4,
}

// DefaultAuditWindow bounds how long resolved periods keep raising alerts.
const DefaultAuditWindow = 7 * 24 * time.Hour

type Alert struct {
	ID           string
	Severity     Severity
	Kind         AlertKind
	PeriodID     PeriodID
	ObligationID ObligationID
	EntityID     EntityID
	AssigneeID   ActorID
	Message      string
	GeneratedAt  time.Time
}

// AlertID is "<kind>-<periodID>".
func AlertID(kind AlertKind, id PeriodID) string {
	return fmt.Sprintf("%s-%s", kind, id)
}

type AlertDeriver struct {
	Classifier DeadlineClassifier

	// AuditWindow <= 0 falls back to DefaultAuditWindow.
	AuditWindow time.Duration
}

// Derive evaluates every rule against every period. Output is sorted by
// severity (highest first), then period ID, then rule order.
func (d AlertDeriver) Derive(periods []Period, now time.Time) []Alert {
	window := d.AuditWindow
	if window <= 0 {
		window = DefaultAuditWindow
	}

	seen := make(map[string]struct{})
	var alerts []Alert
	emit := func(p Period, sev Severity, kind AlertKind, msg string) {
		id := AlertID(kind, p.ID)
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		alerts = append(alerts, Alert{
			ID:           id,
			Severity:     sev,
			Kind:         kind,
			PeriodID:     p.ID,
			ObligationID: p.ObligationID,
			EntityID:     p.EntityID,
			AssigneeID:   p.AssigneeID,
			Message:      msg,
			GeneratedAt:  now,
		})
	}

	for _, p := range periods {
		c := d.Classifier.Classify(p, now)

		if p.State == StateCorrectionRequested {
			emit(p, SeverityWarning, AlertCorrectionNeeded,
				fmt.Sprintf("%s: supervisor requested corrections", label(p)))
		}
		if p.State == StateRejected && resolvedWithin(p, now, window) {
			emit(p, SeverityCritical, AlertRejected,
				fmt.Sprintf("%s: rejected (%s)", label(p), p.RejectionReason))
		}
		if p.IsOpen() {
			switch c.Status {
			case StatusOverdue:
				emit(p, SeverityCritical, AlertOverdue,
					fmt.Sprintf("%s: overdue by %d day(s)", label(p), -c.DaysDelta))
			case StatusDueToday:
				emit(p, SeverityWarning, AlertDueSoon,
					fmt.Sprintf("%s: due today", label(p)))
			case StatusDueSoon:
				emit(p, SeverityWarning, AlertDueSoon,
					fmt.Sprintf("%s: due in %d day(s)", label(p), c.DaysDelta))
			}
		}
		if p.State == StateApproved && resolvedWithin(p, now, window) {
			emit(p, SeverityInfo, AlertApproved,
				fmt.Sprintf("%s: approved", label(p)))
		}
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		a, b := alerts[i], alerts[j]
		if a.Severity.rank() != b.Severity.rank() {
			return a.Severity.rank() > b.Severity.rank()
		}
		if a.PeriodID != b.PeriodID {
			return a.PeriodID < b.PeriodID
		}
		return kindOrder[a.Kind] < kindOrder[b.Kind]
	})
	return alerts
}

func resolvedWithin(p Period, now time.Time, window time.Duration) bool {
	if p.ResolvedAt == nil {
		return false
	}
	age := now.Sub(*p.ResolvedAt)
	return age >= 0 && age <= window
}

func label(p Period) string {
	return string(p.ObligationID) + " " + p.String()
}
