/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	obligations whose periods sit in a mix of workflow states, so the
	compliance and alert endpoints have something to show.

AVAILABLE SCENARIOS:

	quarterly-vat:    Quarterly return with on-time, late, correction and pending periods
	monthly-payroll:  Monthly filing with approved, rejected, in-progress and submitted periods

HOW SCENARIOS WORK:
 1. Create the obligation via the factory (legacy frequency labels included)
 2. Generate its periods up to a fixed horizon
 3. Drive each period through the workflow with dated events

Every step goes through obligation.Service, so the audit trail and version
checks are exactly what a real client would produce. Loading a scenario
twice is a no-op; a load that failed partway picks up where it stopped.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "quarterly-vat"}

NOTE:

	Only routed when server.scenarios is enabled. Use in development/demo
	environments.

SEE ALSO:
  - handlers.go: Endpoint handlers
  - factory/obligation.go: Obligation JSON definitions
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/reporting-engine/obligation"
)

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	obligationJSON string
	horizon        string
	steps          []scenarioStep
}

// scenarioStep fires one event on the period starting at periodStart.
type scenarioStep struct {
	periodStart string
	at          string
	event       obligation.Event
	note        string
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "quarterly-vat",
			Name:        "Quarterly VAT",
			Description: "Quarterly return: Q1 on time, Q2 late, Q3 sent back for correction, Q4 pending",
		},
		obligationJSON: `{
			"id": "demo-vat",
			"entity_id": "acme",
			"name": "Quarterly VAT return",
			"frequency": "trimestral",
			"activation_date": "2024-01-01",
			"due_offset_days": 20,
			"default_assignee_id": "prep-ana",
			"default_supervisor_id": "sup-luis"
		}`,
		horizon: "2024-12-31",
		steps: []scenarioStep{
			{"2024-01-01", "2024-04-01T09:00:00Z", obligation.EventStartWork, ""},
			{"2024-01-01", "2024-04-15T16:30:00Z", obligation.EventSubmit, ""},
			{"2024-01-01", "2024-04-18T10:00:00Z", obligation.EventApprove, ""},

			{"2024-04-01", "2024-07-10T09:00:00Z", obligation.EventStartWork, ""},
			{"2024-04-01", "2024-07-25T12:00:00Z", obligation.EventSubmit, ""},
			{"2024-04-01", "2024-07-29T11:00:00Z", obligation.EventApprove, ""},

			{"2024-07-01", "2024-10-05T09:00:00Z", obligation.EventStartWork, ""},
			{"2024-07-01", "2024-10-15T17:00:00Z", obligation.EventSubmit, ""},
			{"2024-07-01", "2024-10-17T08:45:00Z", obligation.EventRequestCorrection, "Missing annex B"},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "monthly-payroll",
			Name:        "Monthly Payroll",
			Description: "Monthly withholding: January approved, February rejected, March in progress, April awaiting review",
		},
		obligationJSON: `{
			"id": "demo-payroll",
			"entity_id": "globex",
			"name": "Monthly payroll withholding",
			"frequency": "mensual",
			"activation_date": "2024-01-01",
			"due_offset_days": 10,
			"default_assignee_id": "prep-marta",
			"default_supervisor_id": "sup-luis"
		}`,
		horizon: "2024-06-30",
		steps: []scenarioStep{
			{"2024-01-01", "2024-02-01T09:00:00Z", obligation.EventStartWork, ""},
			{"2024-01-01", "2024-02-05T15:00:00Z", obligation.EventSubmit, ""},
			{"2024-01-01", "2024-02-06T10:00:00Z", obligation.EventApprove, ""},

			{"2024-02-01", "2024-03-01T09:00:00Z", obligation.EventStartWork, ""},
			{"2024-02-01", "2024-03-08T15:00:00Z", obligation.EventSubmit, ""},
			{"2024-02-01", "2024-03-12T10:00:00Z", obligation.EventReject, "Wrong withholding base"},

			{"2024-03-01", "2024-04-02T09:00:00Z", obligation.EventStartWork, ""},

			{"2024-04-01", "2024-05-02T09:00:00Z", obligation.EventStartWork, ""},
			{"2024-04-01", "2024-05-09T15:00:00Z", obligation.EventSubmit, ""},
		},
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// =============================================================================
// ENDPOINTS
// =============================================================================

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LoadScenario loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown scenario", fmt.Errorf("no scenario %q", req.ScenarioID))
		return
	}

	loaded, err := h.loadScenario(r.Context(), s)
	if err != nil {
		h.fail(w, r, fmt.Errorf("failed to load scenario %s: %w", s.ID, err))
		return
	}
	status := "loaded"
	if !loaded {
		status = "already_loaded"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status, "scenario": s.ID})
}

// =============================================================================
// SCENARIO LOADER
// =============================================================================

// loadScenario returns false when every part of the scenario is already in
// the store. A load that failed partway resumes: each period's audit trail is
// matched against the scenario's steps and only the missing steps run.
func (h *Handler) loadScenario(ctx context.Context, s scenario) (bool, error) {
	ob, err := h.Factory.ParseObligation(s.obligationJSON)
	if err != nil {
		return false, err
	}

	changed := false
	if existing, err := h.Service.Obligation(ctx, ob.ID); err == nil {
		ob = existing
	} else if !obligation.IsNotFound(err) {
		return false, err
	} else {
		ob.CreatedAt = h.Clock().UTC()
		if err := h.Service.CreateObligation(ctx, ob); err != nil {
			return false, err
		}
		changed = true
	}

	horizon, err := obligation.ParseDate(s.horizon)
	if err != nil {
		return false, err
	}
	res, err := h.Service.Generate(ctx, ob.ID, horizon, h.Clock())
	if err != nil {
		return false, err
	}
	if res.Inserted > 0 {
		changed = true
	}

	// Steps already applied per period.
	seen := make(map[obligation.PeriodID]int)
	for _, step := range s.steps {
		start, err := obligation.ParseDate(step.periodStart)
		if err != nil {
			return false, err
		}
		id := obligation.PeriodIDFor(ob.ID, start)

		events, err := h.Service.Events(ctx, id)
		if err != nil {
			return false, err
		}
		k := seen[id]
		seen[id]++
		if k < len(events) {
			if events[k].Event != step.event {
				return false, fmt.Errorf("period %s has %s where the scenario expects %s", id, events[k].Event, step.event)
			}
			continue
		}

		if err := h.runStep(ctx, ob, step); err != nil {
			return false, fmt.Errorf("%s on %s: %w", step.event, step.periodStart, err)
		}
		changed = true
	}
	return changed, nil
}

func (h *Handler) runStep(ctx context.Context, ob obligation.Obligation, step scenarioStep) error {
	start, err := obligation.ParseDate(step.periodStart)
	if err != nil {
		return err
	}
	at, err := time.Parse(time.RFC3339, step.at)
	if err != nil {
		return err
	}

	id := obligation.PeriodIDFor(ob.ID, start)
	view, err := h.Service.Period(ctx, id, at)
	if err != nil {
		return err
	}

	actor := obligation.Actor{ID: ob.DefaultAssigneeID, Role: obligation.RolePreparer}
	if t, ok := obligation.LookupTransition(view.State, step.event); ok && t.Actor == obligation.RoleSupervisor {
		actor = obligation.Actor{ID: ob.DefaultSupervisorID, Role: obligation.RoleSupervisor}
	}

	cmd := obligation.Command{
		Event: step.event,
		Actor: actor,
		Note:  step.note,
	}
	if step.event == obligation.EventSubmit {
		attachments := 1
		cmd.AttachmentCount = &attachments
	}
	_, _, err = h.Service.Fire(ctx, id, view.Version, cmd, at)
	return err
}
