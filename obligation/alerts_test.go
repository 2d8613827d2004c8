package obligation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reporting-engine/obligation"
)

func TestDerive_OverdueExample(t *testing.T) {
	// GIVEN: In-progress period due 2024-03-31
	// WHEN: Deriving on 2024-04-02
	// THEN: Exactly one critical overdue alert

	p := periodIn(obligation.StateInProgress)
	now := at("2024-04-02T00:00:00Z")

	alerts := obligation.AlertDeriver{}.Derive([]obligation.Period{p}, now)

	require.Len(t, alerts, 1)
	a := alerts[0]
	assert.Equal(t, obligation.SeverityCritical, a.Severity)
	assert.Equal(t, obligation.AlertOverdue, a.Kind)
	assert.Equal(t, "overdue-ob-iva-20240101", a.ID)
	assert.Equal(t, p.ID, a.PeriodID)
	assert.Equal(t, now, a.GeneratedAt)
	assert.Contains(t, a.Message, "2 day")
}

func TestDerive_Rules(t *testing.T) {
	now := at("2024-04-02T00:00:00Z")
	recent := now.Add(-48 * time.Hour)
	stale := now.Add(-30 * 24 * time.Hour)

	cases := []struct {
		name  string
		build func() obligation.Period
		kinds []obligation.AlertKind
	}{
		{
			name: "correction requested and overdue",
			build: func() obligation.Period {
				return periodIn(obligation.StateCorrectionRequested)
			},
			kinds: []obligation.AlertKind{obligation.AlertOverdue, obligation.AlertCorrectionNeeded},
		},
		{
			name: "recent rejection",
			build: func() obligation.Period {
				p := periodIn(obligation.StateRejected)
				p.ResolvedAt = &recent
				return p
			},
			kinds: []obligation.AlertKind{obligation.AlertRejected},
		},
		{
			name: "stale rejection",
			build: func() obligation.Period {
				p := periodIn(obligation.StateRejected)
				p.ResolvedAt = &stale
				return p
			},
		},
		{
			name: "due soon",
			build: func() obligation.Period {
				p := periodIn(obligation.StatePending)
				p.DueDate = date("2024-04-04")
				return p
			},
			kinds: []obligation.AlertKind{obligation.AlertDueSoon},
		},
		{
			name: "due today",
			build: func() obligation.Period {
				p := periodIn(obligation.StateSubmitted)
				p.DueDate = date("2024-04-02")
				return p
			},
			kinds: []obligation.AlertKind{obligation.AlertDueSoon},
		},
		{
			name: "on track",
			build: func() obligation.Period {
				p := periodIn(obligation.StatePending)
				p.DueDate = date("2024-05-31")
				return p
			},
		},
		{
			name: "recent approval",
			build: func() obligation.Period {
				p := periodIn(obligation.StateApproved)
				p.ResolvedAt = &recent
				return p
			},
			kinds: []obligation.AlertKind{obligation.AlertApproved},
		},
		{
			name: "old approval",
			build: func() obligation.Period {
				p := periodIn(obligation.StateApproved)
				p.ResolvedAt = &stale
				return p
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			alerts := obligation.AlertDeriver{}.Derive([]obligation.Period{tc.build()}, now)

			var kinds []obligation.AlertKind
			for _, a := range alerts {
				kinds = append(kinds, a.Kind)
			}
			assert.Equal(t, tc.kinds, kinds)
		})
	}
}

func TestDerive_SortedBySeverity(t *testing.T) {
	now := at("2024-04-02T00:00:00Z")
	recent := now.Add(-time.Hour)

	approved := periodIn(obligation.StateApproved)
	approved.ID = "a-approved"
	approved.ResolvedAt = &recent

	soon := periodIn(obligation.StatePending)
	soon.ID = "b-soon"
	soon.DueDate = date("2024-04-03")

	overdue := periodIn(obligation.StateInProgress)
	overdue.ID = "c-overdue"

	alerts := obligation.AlertDeriver{}.Derive([]obligation.Period{approved, soon, overdue}, now)

	require.Len(t, alerts, 3)
	assert.Equal(t, obligation.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, obligation.SeverityWarning, alerts[1].Severity)
	assert.Equal(t, obligation.SeverityInfo, alerts[2].Severity)
}

func TestDerive_SeverityPerKind(t *testing.T) {
	// GIVEN: One period matching each rule
	// WHEN: Deriving
	// THEN: Each kind carries its fixed severity, and approvals are info

	now := at("2024-04-02T00:00:00Z")
	recent := now.Add(-time.Hour)

	correction := periodIn(obligation.StateCorrectionRequested)
	correction.ID = "a"
	correction.DueDate = date("2024-05-31")

	rejected := periodIn(obligation.StateRejected)
	rejected.ID = "b"
	rejected.ResolvedAt = &recent

	overdue := periodIn(obligation.StateInProgress)
	overdue.ID = "c"

	soon := periodIn(obligation.StatePending)
	soon.ID = "d"
	soon.DueDate = date("2024-04-03")

	approved := periodIn(obligation.StateApproved)
	approved.ID = "e"
	approved.ResolvedAt = &recent

	alerts := obligation.AlertDeriver{}.Derive([]obligation.Period{correction, rejected, overdue, soon, approved}, now)

	want := map[obligation.AlertKind]obligation.Severity{
		obligation.AlertCorrectionNeeded: obligation.SeverityWarning,
		obligation.AlertRejected:         obligation.SeverityCritical,
		obligation.AlertOverdue:          obligation.SeverityCritical,
		obligation.AlertDueSoon:          obligation.SeverityWarning,
		obligation.AlertApproved:         obligation.SeverityInfo,
	}
	require.Len(t, alerts, len(want))
	for _, a := range alerts {
		assert.Equal(t, want[a.Kind], a.Severity, a.ID)
	}
}

func TestDerive_Idempotent(t *testing.T) {
	// GIVEN: A snapshot with duplicate rows
	// WHEN: Deriving twice
	// THEN: Identical output, one alert per (period, kind)

	now := at("2024-04-02T00:00:00Z")
	p := periodIn(obligation.StateCorrectionRequested)
	periods := []obligation.Period{p, p, periodIn(obligation.StateInProgress)}

	first := obligation.AlertDeriver{}.Derive(periods, now)
	second := obligation.AlertDeriver{}.Derive(periods, now)

	assert.Equal(t, first, second)
	seen := map[string]bool{}
	for _, a := range first {
		assert.False(t, seen[a.ID], "duplicate alert %s", a.ID)
		seen[a.ID] = true
	}
	assert.Len(t, first, 2)
}

func TestDerive_CustomAuditWindow(t *testing.T) {
	now := at("2024-04-02T00:00:00Z")
	resolved := now.Add(-10 * 24 * time.Hour)

	p := periodIn(obligation.StateApproved)
	p.ResolvedAt = &resolved

	assert.Empty(t, obligation.AlertDeriver{}.Derive([]obligation.Period{p}, now))
	assert.Len(t, obligation.AlertDeriver{AuditWindow: 14 * 24 * time.Hour}.Derive([]obligation.Period{p}, now), 1)
}
