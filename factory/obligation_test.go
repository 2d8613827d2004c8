package factory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reporting-engine/factory"
	"github.com/warp/reporting-engine/obligation"
)

func TestParseObligation_Quarterly(t *testing.T) {
	f := factory.NewObligationFactory()

	ob, err := f.ParseObligation(`{
		"id": "iva-q",
		"entity_id": "acme",
		"name": "IVA trimestral",
		"frequency": "Trimestral",
		"activation_date": "2024-01-15",
		"end_date": "2026-12-31",
		"due_offset_days": 20,
		"default_assignee_id": "ana"
	}`)
	require.NoError(t, err)

	assert.Equal(t, obligation.ObligationID("iva-q"), ob.ID)
	assert.Equal(t, obligation.Quarterly(), ob.Frequency)
	assert.Equal(t, "2024-01-15", ob.ActivationDate.String())
	require.NotNil(t, ob.EndDate)
	assert.Equal(t, "2026-12-31", ob.EndDate.String())
	require.NotNil(t, ob.DueOffsetDays)
	assert.Equal(t, 20, *ob.DueOffsetDays)
	assert.Equal(t, obligation.ActorID("ana"), ob.DefaultAssigneeID)
}

func TestParseObligation_RoundTrip(t *testing.T) {
	f := factory.NewObligationFactory()
	in := factory.ObligationJSON{
		ID:             "ob-1",
		EntityID:       "ent-1",
		Frequency:      "custom_months",
		CustomMonths:   4,
		ActivationDate: "2024-03-01",
	}

	ob, err := f.FromJSON(in)
	require.NoError(t, err)
	assert.Equal(t, in, f.ToJSON(ob))
}

func TestParseObligation_Invalid(t *testing.T) {
	f := factory.NewObligationFactory()

	cases := map[string]string{
		"bad json":        `{`,
		"bad frequency":   `{"id":"a","entity_id":"e","frequency":"weekly","activation_date":"2024-01-01"}`,
		"bad date":        `{"id":"a","entity_id":"e","frequency":"monthly","activation_date":"01/01/2024"}`,
		"missing entity":  `{"id":"a","frequency":"monthly","activation_date":"2024-01-01"}`,
		"end before start":`{"id":"a","entity_id":"e","frequency":"monthly","activation_date":"2024-01-01","end_date":"2023-01-01"}`,
	}
	for name, js := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.ParseObligation(js)
			assert.Error(t, err)
		})
	}

	_, err := f.ParseObligation(cases["bad frequency"])
	assert.ErrorIs(t, err, obligation.ErrInvalidConfiguration)
}

func TestParseFrequency(t *testing.T) {
	cases := []struct {
		label  string
		custom int
		want   int
	}{
		{"mensual", 0, 1},
		{"BIMESTRAL", 0, 2},
		{"quarterly", 0, 3},
		{" semestral ", 0, 6},
		{"personalizado:4", 0, 4},
		{"custom", 9, 9},
	}
	for _, tc := range cases {
		t.Run(tc.label, func(t *testing.T) {
			f, err := factory.ParseFrequency(tc.label, tc.custom)
			require.NoError(t, err)
			n, err := f.IntervalMonths()
			require.NoError(t, err)
			assert.Equal(t, tc.want, n)
		})
	}
}

func TestParseFrequency_CustomBelowOne(t *testing.T) {
	_, err := factory.ParseFrequency("personalizado:0", 0)
	assert.ErrorIs(t, err, obligation.ErrInvalidConfiguration)

	_, err = factory.ParseFrequency("personalizado:x", 0)
	assert.ErrorIs(t, err, obligation.ErrInvalidConfiguration)
}

func TestNormalizeState_LegacyLabels(t *testing.T) {
	cases := map[string]obligation.State{
		"PENDIENTE":           obligation.StatePending,
		"EN_PROCESO":          obligation.StateInProgress,
		"ENVIADO":             obligation.StateSubmitted,
		"enviado_a_tiempo":    obligation.StateSubmitted,
		"enviado tarde":       obligation.StateSubmitted,
		"APROBADO":            obligation.StateApproved,
		"RECHAZADO":           obligation.StateRejected,
		"REQUIERE_CORRECCION": obligation.StateCorrectionRequested,
		"in_progress":         obligation.StateInProgress,
	}
	for label, want := range cases {
		got, err := factory.NormalizeState(label)
		require.NoError(t, err, label)
		assert.Equal(t, want, got, label)
	}
}

func TestNormalizeState_OverdueRefused(t *testing.T) {
	// GIVEN: The legacy "VENCIDO" label
	// THEN: Refused, overdue is a classification and never stored
	for _, label := range []string{"VENCIDO", "vencido", "overdue"} {
		_, err := factory.NormalizeState(label)
		assert.ErrorIs(t, err, obligation.ErrInvalidConfiguration, label)
	}

	_, err := factory.NormalizeState("archivado")
	assert.ErrorIs(t, err, obligation.ErrInvalidConfiguration)
}

func TestNormalizeStates_List(t *testing.T) {
	states, err := factory.NormalizeStates("ENVIADO, aprobado,,")
	require.NoError(t, err)
	assert.Equal(t, []obligation.State{obligation.StateSubmitted, obligation.StateApproved}, states)

	_, err = factory.NormalizeStates("pendiente,vencido")
	assert.Error(t, err)
}

func TestParseFrequency_InlineCountOnPreset_Rejected(t *testing.T) {
	// GIVEN: Preset names carrying an inline month count
	// WHEN: Parsing
	// THEN: The count is refused instead of silently dropped

	for _, label := range []string{"monthly:3", "trimestral:4", "semestral:6"} {
		_, err := factory.ParseFrequency(label, 0)
		assert.ErrorIs(t, err, obligation.ErrInvalidConfiguration, label)
	}
}

func TestParseFrequency_CustomAboveCeiling(t *testing.T) {
	_, err := factory.ParseFrequency("personalizado:1201", 0)
	assert.ErrorIs(t, err, obligation.ErrInvalidConfiguration)

	_, err = factory.ParseFrequency("custom", 4611686018427387905)
	assert.ErrorIs(t, err, obligation.ErrInvalidConfiguration)
}
