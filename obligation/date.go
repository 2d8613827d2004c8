package obligation

import (
	"fmt"
	"math"
	"time"
)

// =============================================================================
// DATE - Calendar day, always UTC midnight
// =============================================================================

// DateLayout is the wire and storage format for Date.
const DateLayout = "2006-01-02"

// Date is a calendar day. Period boundaries and due dates are days, not
// instants; submission and resolution stamps stay time.Time.
type Date struct {
	Time time.Time
}

// Constructors
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the UTC calendar day containing t.
func DateOf(t time.Time) Date {
	u := t.UTC()
	return NewDate(u.Year(), u.Month(), u.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// MustParseDate is ParseDate for literals in tests and fixtures.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Comparison
func (d Date) Before(other Date) bool        { return d.Time.Before(other.Time) }
func (d Date) After(other Date) bool         { return d.Time.After(other.Time) }
func (d Date) Equal(other Date) bool         { return d.Time.Equal(other.Time) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.After(other) }
func (d Date) AfterOrEqual(other Date) bool  { return !d.Before(other) }

// Arithmetic. Month arithmetic is only ever applied to first-of-month dates by
// the generator, so time.AddDate never normalizes into the following month.
func (d Date) AddDays(n int) Date   { return Date{Time: d.Time.AddDate(0, 0, n)} }
func (d Date) AddMonths(n int) Date { return Date{Time: d.Time.AddDate(0, n, 0)} }

// Properties
func (d Date) Year() int          { return d.Time.Year() }
func (d Date) Month() time.Month  { return d.Time.Month() }
func (d Date) Day() int           { return d.Time.Day() }
func (d Date) IsZero() bool       { return d.Time.IsZero() }
func (d Date) String() string     { return d.Time.Format(DateLayout) }
func (d Date) MonthKey() string   { return d.Time.Format("2006-01") }
func (d Date) StartOfMonth() Date { return NewDate(d.Year(), d.Month(), 1) }

// =============================================================================
// TIME UTILITIES
// =============================================================================

// DaysBetween returns the whole number of days from -> to (negative when to is earlier).
func DaysBetween(from, to Date) int {
	return int(math.Round(to.Time.Sub(from.Time).Hours() / 24))
}

// DaysUntil returns ceil((d - now) in days), with d taken as the start of its day.
// It drops by exactly one for every day now advances.
func DaysUntil(d Date, now time.Time) int {
	days := d.Time.Sub(now.UTC()).Hours() / 24
	return int(math.Ceil(days))
}

func EndOfMonth(year int, month time.Month) Date {
	return NewDate(year, month+1, 1).AddDays(-1)
}
