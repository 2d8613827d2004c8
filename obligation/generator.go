package obligation

import "time"

// =============================================================================
// PERIOD GENERATOR - Frequency + activation window -> ordered periods
// =============================================================================

// GenerateInput carries everything one generation run needs.
type GenerateInput struct {
	Obligation Obligation

	// HorizonEnd is the last day a period may start on.
	HorizonEnd Date

	// DueOffsetDays is used when the obligation carries no offset of its own.
	// Zero means due on the last day of the period.
	DueOffsetDays int

	// Existing periods of the obligation; their starts are skipped.
	Existing []Period

	// Now stamps CreatedAt/UpdatedAt on the new periods.
	Now time.Time
}

type GenerateOutput struct {
	// Periods are the new periods, ordered by Start.
	Periods []Period

	// Skipped counts starts that already existed.
	Skipped int
}

// PeriodGenerator emits pending periods from an obligation's frequency.
// It is stateless; idempotence comes from Existing (and, at rest, from the
// store's unique (obligation, start) key).
type PeriodGenerator struct{}

// Generate walks from the activation month in IntervalMonths steps until the
// next start passes the horizon or the obligation's end date.
func (g PeriodGenerator) Generate(in GenerateInput) (*GenerateOutput, error) {
	ob := in.Obligation
	if err := ob.Validate(); err != nil {
		return nil, err
	}
	interval, _ := ob.Frequency.IntervalMonths()

	offset := in.DueOffsetDays
	if ob.DueOffsetDays != nil {
		offset = *ob.DueOffsetDays
	}
	if offset < 0 {
		return nil, &ConfigurationError{Field: "due_offset_days", Reason: "must be >= 0"}
	}

	existing := make(map[string]bool, len(in.Existing))
	for _, p := range in.Existing {
		if p.ObligationID == ob.ID {
			existing[p.Start.String()] = true
		}
	}

	out := &GenerateOutput{}
	anchor := ob.ActivationDate.StartOfMonth()

	// Starts are always computed from the anchor, never chained, so a long
	// series cannot drift.
	for i := 0; ; i++ {
		start := anchor.AddMonths(i * interval)
		if start.After(in.HorizonEnd) {
			break
		}
		if ob.EndDate != nil && start.After(*ob.EndDate) {
			break
		}
		if existing[start.String()] {
			out.Skipped++
			continue
		}

		end := start.AddMonths(interval).AddDays(-1)
		out.Periods = append(out.Periods, Period{
			ID:           PeriodIDFor(ob.ID, start),
			ObligationID: ob.ID,
			EntityID:     ob.EntityID,
			Start:        start,
			End:          end,
			DueDate:      end.AddDays(offset),
			State:        StatePending,
			AssigneeID:   ob.DefaultAssigneeID,
			SupervisorID: ob.DefaultSupervisorID,
			CreatedAt:    in.Now,
			UpdatedAt:    in.Now,
		})
	}

	return out, nil
}
