package obligation

import "time"

// =============================================================================
// DEADLINE CLASSIFIER - Period + now -> deadline view
// =============================================================================

type DeadlineStatus string

const (
	// Closed periods
	StatusOnTime   DeadlineStatus = "on_time"  // approved, submitted on or before due date
	StatusLate     DeadlineStatus = "late"     // approved, submitted after due date
	StatusRejected DeadlineStatus = "rejected" // terminal, not a deadline judgment

	// Open periods
	StatusOverdue  DeadlineStatus = "overdue"
	StatusDueToday DeadlineStatus = "due_today"
	StatusDueSoon  DeadlineStatus = "due_soon"
	StatusOnTrack  DeadlineStatus = "on_track"
)

// DefaultDueSoonDays is how many days before the deadline an open period is due soon.
const DefaultDueSoonDays = 3

// Classification is the derived deadline view of one period.
type Classification struct {
	Status DeadlineStatus

	// DaysDelta is ceil(dueDate - now) in days for open periods, and
	// dueDate - submission day for approved ones (negative = late).
	DaysDelta int

	// SubmittedLate is set when a submission exists and its day is after the
	// due date, whatever the current state.
	SubmittedLate bool
}

// DeadlineClassifier is a pure function of (period, now).
type DeadlineClassifier struct {
	// DueSoonDays <= 0 falls back to DefaultDueSoonDays.
	DueSoonDays int
}

// Classify uses the default due-soon window.
func Classify(p Period, now time.Time) Classification {
	return DeadlineClassifier{}.Classify(p, now)
}

func (c DeadlineClassifier) Classify(p Period, now time.Time) Classification {
	window := c.DueSoonDays
	if window <= 0 {
		window = DefaultDueSoonDays
	}

	var out Classification
	if p.SubmittedAt != nil {
		out.SubmittedLate = DateOf(*p.SubmittedAt).After(p.DueDate)
	}

	switch p.State {
	case StateApproved:
		if p.SubmittedAt == nil {
			out.Status = StatusLate
			return out
		}
		out.DaysDelta = DaysBetween(DateOf(*p.SubmittedAt), p.DueDate)
		if out.SubmittedLate {
			out.Status = StatusLate
		} else {
			out.Status = StatusOnTime
		}
		return out

	case StateRejected:
		out.Status = StatusRejected
		return out
	}

	out.DaysDelta = DaysUntil(p.DueDate, now)
	switch {
	case out.DaysDelta < 0:
		out.Status = StatusOverdue
	case out.DaysDelta == 0:
		out.Status = StatusDueToday
	case out.DaysDelta <= window:
		out.Status = StatusDueSoon
	default:
		out.Status = StatusOnTrack
	}
	return out
}

// IsOverdue is shorthand for an open period whose deadline has passed.
func (c DeadlineClassifier) IsOverdue(p Period, now time.Time) bool {
	return p.IsOpen() && c.Classify(p, now).Status == StatusOverdue
}
