package obligation

import "strconv"

// =============================================================================
// FREQUENCY POLICY - How often an obligation recurs
// =============================================================================

// FrequencyKind selects a preset interval or a caller-supplied month count.
type FrequencyKind string

const (
	FrequencyMonthly      FrequencyKind = "monthly"       // 1 month
	FrequencyBimonthly    FrequencyKind = "bimonthly"     // 2 months
	FrequencyQuarterly    FrequencyKind = "quarterly"     // 3 months
	FrequencySemiannual   FrequencyKind = "semiannual"    // 6 months
	FrequencyCustomMonths FrequencyKind = "custom_months" // Months field
)

// MaxCustomMonths caps custom intervals at a century.
const MaxCustomMonths = 1200

var presetMonths = map[FrequencyKind]int{
	FrequencyMonthly:    1,
	FrequencyBimonthly:  2,
	FrequencyQuarterly:  3,
	FrequencySemiannual: 6,
}

// FrequencyPolicy is an immutable value attached to an obligation.
// Months is only read for FrequencyCustomMonths.
type FrequencyPolicy struct {
	Kind   FrequencyKind
	Months int
}

// Monthly, Quarterly, ... are shorthands for the preset policies.
func Monthly() FrequencyPolicy    { return FrequencyPolicy{Kind: FrequencyMonthly} }
func Bimonthly() FrequencyPolicy  { return FrequencyPolicy{Kind: FrequencyBimonthly} }
func Quarterly() FrequencyPolicy  { return FrequencyPolicy{Kind: FrequencyQuarterly} }
func Semiannual() FrequencyPolicy { return FrequencyPolicy{Kind: FrequencySemiannual} }

// EveryMonths builds a custom policy. The value is validated, never clamped;
// clamping belongs to the input boundary.
func EveryMonths(n int) (FrequencyPolicy, error) {
	f := FrequencyPolicy{Kind: FrequencyCustomMonths, Months: n}
	if _, err := f.IntervalMonths(); err != nil {
		return FrequencyPolicy{}, err
	}
	return f, nil
}

// IntervalMonths returns the number of months between consecutive period starts.
func (f FrequencyPolicy) IntervalMonths() (int, error) {
	if n, ok := presetMonths[f.Kind]; ok {
		return n, nil
	}
	if f.Kind != FrequencyCustomMonths {
		return 0, &ConfigurationError{Field: "frequency", Reason: "unknown kind " + strconv.Quote(string(f.Kind))}
	}
	if f.Months < 1 {
		return 0, &ConfigurationError{Field: "frequency.months", Reason: "must be >= 1, got " + strconv.Itoa(f.Months)}
	}
	if f.Months > MaxCustomMonths {
		return 0, &ConfigurationError{Field: "frequency.months", Reason: "must be <= " + strconv.Itoa(MaxCustomMonths) + ", got " + strconv.Itoa(f.Months)}
	}
	return f.Months, nil
}

func (f FrequencyPolicy) String() string {
	if f.Kind == FrequencyCustomMonths {
		return string(f.Kind) + ":" + strconv.Itoa(f.Months)
	}
	return string(f.Kind)
}
