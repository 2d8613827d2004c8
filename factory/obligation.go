/*
Package factory provides JSON to Go obligation conversion.

PURPOSE:
  Converts JSON obligation definitions (admin UI, seed files) into
  obligation.Obligation values, and normalizes the legacy label sets the
  front end still sends for frequencies and workflow states.

JSON SCHEMA:
  {
    "id": "iva-q",
    "entity_id": "acme",
    "name": "IVA trimestral",
    "frequency": "trimestral",
    "custom_months": 0,
    "activation_date": "2024-01-15",
    "end_date": "2026-12-31",
    "due_offset_days": 20,
    "default_assignee_id": "ana",
    "default_supervisor_id": "luis"
  }

LEGACY LABELS:
  Frequencies:  mensual, bimestral, trimestral, semestral,
                personalizado:N (or "custom" + custom_months)
  States:       PENDIENTE, EN_PROCESO, ENVIADO, enviado_a_tiempo,
                enviado_tarde, APROBADO, RECHAZADO, REQUIERE_CORRECCION ...
  "VENCIDO" is refused: overdue is computed, never stored.

USAGE:
  f := factory.NewObligationFactory()
  ob, err := f.ParseObligation(jsonString)

SEE ALSO:
  - obligation/types.go: Obligation type definition
  - obligation/frequency.go: FrequencyPolicy
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/warp/reporting-engine/obligation"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ObligationJSON is the JSON representation of an obligation.
type ObligationJSON struct {
	ID                  string `json:"id"`
	EntityID            string `json:"entity_id"`
	Name                string `json:"name"`
	Frequency           string `json:"frequency"`
	CustomMonths        int    `json:"custom_months,omitempty"`
	ActivationDate      string `json:"activation_date"`
	EndDate             string `json:"end_date,omitempty"`
	DueOffsetDays       *int   `json:"due_offset_days,omitempty"`
	DefaultAssigneeID   string `json:"default_assignee_id,omitempty"`
	DefaultSupervisorID string `json:"default_supervisor_id,omitempty"`
}

// =============================================================================
// OBLIGATION FACTORY
// =============================================================================

// ObligationFactory converts JSON obligations to Go structs.
type ObligationFactory struct{}

func NewObligationFactory() *ObligationFactory {
	return &ObligationFactory{}
}

// ParseObligation parses a JSON string into a validated Obligation.
func (f *ObligationFactory) ParseObligation(jsonStr string) (obligation.Obligation, error) {
	var oj ObligationJSON
	if err := json.Unmarshal([]byte(jsonStr), &oj); err != nil {
		return obligation.Obligation{}, fmt.Errorf("failed to parse obligation JSON: %w", err)
	}
	return f.FromJSON(oj)
}

// FromJSON converts ObligationJSON to obligation.Obligation.
func (f *ObligationFactory) FromJSON(oj ObligationJSON) (obligation.Obligation, error) {
	freq, err := ParseFrequency(oj.Frequency, oj.CustomMonths)
	if err != nil {
		return obligation.Obligation{}, err
	}

	activation, err := obligation.ParseDate(oj.ActivationDate)
	if err != nil {
		return obligation.Obligation{}, &obligation.ConfigurationError{Field: "activation_date", Reason: err.Error()}
	}

	ob := obligation.Obligation{
		ID:                  obligation.ObligationID(oj.ID),
		EntityID:            obligation.EntityID(oj.EntityID),
		Name:                oj.Name,
		Frequency:           freq,
		ActivationDate:      activation,
		DueOffsetDays:       oj.DueOffsetDays,
		DefaultAssigneeID:   obligation.ActorID(oj.DefaultAssigneeID),
		DefaultSupervisorID: obligation.ActorID(oj.DefaultSupervisorID),
	}

	if oj.EndDate != "" {
		end, err := obligation.ParseDate(oj.EndDate)
		if err != nil {
			return obligation.Obligation{}, &obligation.ConfigurationError{Field: "end_date", Reason: err.Error()}
		}
		ob.EndDate = &end
	}

	if err := ob.Validate(); err != nil {
		return obligation.Obligation{}, err
	}
	return ob, nil
}

// ToJSON converts an Obligation to ObligationJSON.
func (f *ObligationFactory) ToJSON(ob obligation.Obligation) ObligationJSON {
	oj := ObligationJSON{
		ID:                  string(ob.ID),
		EntityID:            string(ob.EntityID),
		Name:                ob.Name,
		Frequency:           string(ob.Frequency.Kind),
		ActivationDate:      ob.ActivationDate.String(),
		DueOffsetDays:       ob.DueOffsetDays,
		DefaultAssigneeID:   string(ob.DefaultAssigneeID),
		DefaultSupervisorID: string(ob.DefaultSupervisorID),
	}
	if ob.Frequency.Kind == obligation.FrequencyCustomMonths {
		oj.CustomMonths = ob.Frequency.Months
	}
	if ob.EndDate != nil {
		oj.EndDate = ob.EndDate.String()
	}
	return oj
}

// =============================================================================
// BOUNDARY NORMALIZATION
// =============================================================================

var frequencyAliases = map[string]obligation.FrequencyKind{
	"monthly":       obligation.FrequencyMonthly,
	"mensual":       obligation.FrequencyMonthly,
	"bimonthly":     obligation.FrequencyBimonthly,
	"bimestral":     obligation.FrequencyBimonthly,
	"quarterly":     obligation.FrequencyQuarterly,
	"trimestral":    obligation.FrequencyQuarterly,
	"semiannual":    obligation.FrequencySemiannual,
	"semestral":     obligation.FrequencySemiannual,
	"custom":        obligation.FrequencyCustomMonths,
	"custom_months": obligation.FrequencyCustomMonths,
	"personalizado": obligation.FrequencyCustomMonths,
}

// ParseFrequency accepts English and legacy names, case-insensitive.
// Custom intervals come either inline ("personalizado:4") or via customMonths;
// preset names never carry a count.
func ParseFrequency(label string, customMonths int) (obligation.FrequencyPolicy, error) {
	name := strings.ToLower(strings.TrimSpace(label))
	base, n, inline := strings.Cut(name, ":")

	kind, ok := frequencyAliases[base]
	if !ok {
		return obligation.FrequencyPolicy{}, &obligation.ConfigurationError{Field: "frequency", Reason: fmt.Sprintf("unknown frequency %q", label)}
	}
	if inline {
		if kind != obligation.FrequencyCustomMonths {
			return obligation.FrequencyPolicy{}, &obligation.ConfigurationError{Field: "frequency", Reason: fmt.Sprintf("%q takes no month count", base)}
		}
		months, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return obligation.FrequencyPolicy{}, &obligation.ConfigurationError{Field: "frequency", Reason: fmt.Sprintf("invalid month count %q", n)}
		}
		customMonths = months
	}
	if kind == obligation.FrequencyCustomMonths {
		return obligation.EveryMonths(customMonths)
	}
	return obligation.FrequencyPolicy{Kind: kind}, nil
}

var stateAliases = map[string]obligation.State{
	"pending":              obligation.StatePending,
	"pendiente":            obligation.StatePending,
	"in_progress":          obligation.StateInProgress,
	"en_proceso":           obligation.StateInProgress,
	"en_progreso":          obligation.StateInProgress,
	"submitted":            obligation.StateSubmitted,
	"enviado":              obligation.StateSubmitted,
	"enviado_a_tiempo":     obligation.StateSubmitted,
	"enviado_tarde":        obligation.StateSubmitted,
	"approved":             obligation.StateApproved,
	"aprobado":             obligation.StateApproved,
	"rejected":             obligation.StateRejected,
	"rechazado":            obligation.StateRejected,
	"correction_requested": obligation.StateCorrectionRequested,
	"requiere_correccion":  obligation.StateCorrectionRequested,
	"correccion":           obligation.StateCorrectionRequested,
}

// NormalizeState maps any known label to the closed state set. Submitted-late
// labels collapse to submitted; lateness is a classification.
func NormalizeState(label string) (obligation.State, error) {
	key := strings.ToLower(strings.TrimSpace(label))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)

	if key == "vencido" || key == "overdue" {
		return "", &obligation.ConfigurationError{Field: "state", Reason: "overdue is derived from the due date, not a stored state"}
	}
	st, ok := stateAliases[key]
	if !ok {
		return "", &obligation.ConfigurationError{Field: "state", Reason: fmt.Sprintf("unknown state %q", label)}
	}
	return st, nil
}

// NormalizeStates maps a comma-separated list.
func NormalizeStates(csv string) ([]obligation.State, error) {
	var states []obligation.State
	for _, part := range strings.Split(csv, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		st, err := NormalizeState(part)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, nil
}
