/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Obligations:
    ObligationDTO (wraps factory.ObligationJSON), CreateObligationRequest,
    GenerateRequest, GenerateResponse

  Periods:
    PeriodDTO, TransitionRecordDTO, TransitionResponse

  Workflow:
    TransitionRequest, ValidationRequest, AssignRequest

  Reporting:
    ComplianceDTO, SeriesPointDTO, AlertDTO

VALIDATION:
  Request types carry go-playground/validator tags. Handlers call
  Handler.decode which parses and validates in one step. Domain rules
  (frequency, dates, workflow preconditions) stay in the engine.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/obligation.go: ObligationJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/reporting-engine/factory"
	"github.com/warp/reporting-engine/obligation"
)

// =============================================================================
// OBLIGATIONS
// =============================================================================

// ObligationDTO represents an obligation in API responses.
type ObligationDTO struct {
	factory.ObligationJSON
	CreatedAt time.Time `json:"created_at"`
}

// CreateObligationRequest is the body of POST /api/obligations.
// ID may be omitted; the server then generates one.
type CreateObligationRequest struct {
	ID                  string `json:"id" validate:"omitempty,max=64"`
	EntityID            string `json:"entity_id" validate:"required,max=64"`
	Name                string `json:"name" validate:"required,max=200"`
	Frequency           string `json:"frequency" validate:"required"`
	CustomMonths        int    `json:"custom_months,omitempty" validate:"gte=0,lte=1200"`
	ActivationDate      string `json:"activation_date" validate:"required,datetime=2006-01-02"`
	EndDate             string `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	DueOffsetDays       *int   `json:"due_offset_days,omitempty" validate:"omitempty,gte=0"`
	DefaultAssigneeID   string `json:"default_assignee_id,omitempty"`
	DefaultSupervisorID string `json:"default_supervisor_id,omitempty"`
}

func (r CreateObligationRequest) toJSON() factory.ObligationJSON {
	return factory.ObligationJSON{
		ID:                  r.ID,
		EntityID:            r.EntityID,
		Name:                r.Name,
		Frequency:           r.Frequency,
		CustomMonths:        r.CustomMonths,
		ActivationDate:      r.ActivationDate,
		EndDate:             r.EndDate,
		DueOffsetDays:       r.DueOffsetDays,
		DefaultAssigneeID:   r.DefaultAssigneeID,
		DefaultSupervisorID: r.DefaultSupervisorID,
	}
}

// GenerateRequest is the body of POST /api/obligations/{id}/generate.
type GenerateRequest struct {
	Horizon string `json:"horizon" validate:"required,datetime=2006-01-02"`
}

// GenerateResponse reports what one generation run did.
type GenerateResponse struct {
	ObligationID string      `json:"obligation_id"`
	Inserted     int         `json:"inserted"`
	Skipped      int         `json:"skipped"`
	Periods      []PeriodDTO `json:"periods"`
}

// =============================================================================
// PERIODS
// =============================================================================

// PeriodDTO is a period plus its deadline classification at the request's now.
type PeriodDTO struct {
	ID                     string     `json:"id"`
	ObligationID           string     `json:"obligation_id"`
	EntityID               string     `json:"entity_id"`
	Start                  string     `json:"start"`
	End                    string     `json:"end"`
	DueDate                string     `json:"due_date"`
	State                  string     `json:"state"`
	AssigneeID             string     `json:"assignee_id,omitempty"`
	SupervisorID           string     `json:"supervisor_id,omitempty"`
	SubmittedAt            *time.Time `json:"submitted_at,omitempty"`
	ResolvedAt             *time.Time `json:"resolved_at,omitempty"`
	RejectionReason        string     `json:"rejection_reason,omitempty"`
	CorrectionInstructions string     `json:"correction_instructions,omitempty"`
	AttachmentCount        int        `json:"attachment_count"`
	Version                int        `json:"version"`

	DeadlineStatus string `json:"deadline_status,omitempty"`
	DaysDelta      *int   `json:"days_delta,omitempty"`
	SubmittedLate  bool   `json:"submitted_late"`
}

// TransitionRecordDTO is one audit-trail entry.
type TransitionRecordDTO struct {
	ID       string    `json:"id"`
	PeriodID string    `json:"period_id"`
	Event    string    `json:"event"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	ActorID  string    `json:"actor_id"`
	Role     string    `json:"role,omitempty"`
	At       time.Time `json:"at"`
	Note     string    `json:"note,omitempty"`
}

// TransitionResponse is returned by every period write.
type TransitionResponse struct {
	Period PeriodDTO           `json:"period"`
	Record TransitionRecordDTO `json:"record"`
}

// =============================================================================
// WORKFLOW REQUESTS
// =============================================================================

// TransitionRequest fires a preparer event. Version is the period version
// the caller read. AttachmentCount, when present, replaces the period's
// stored count before submit checks it.
type TransitionRequest struct {
	Event              string `json:"event" validate:"required"`
	Version            int    `json:"version" validate:"gte=1"`
	AttachmentCount    *int   `json:"attachment_count,omitempty" validate:"omitempty,gte=0"`
	AttachmentOverride bool   `json:"attachment_override"`
	Note               string `json:"note,omitempty" validate:"max=2000"`
}

// ValidationRequest carries a supervisor decision. Exactly one of Approve,
// Reject, RequestCorrection must be true; the engine enforces it.
type ValidationRequest struct {
	Version                int    `json:"version" validate:"gte=1"`
	Approve                bool   `json:"approve"`
	Reject                 bool   `json:"reject"`
	RequestCorrection      bool   `json:"request_correction"`
	RejectionReason        string `json:"rejection_reason,omitempty" validate:"max=2000"`
	CorrectionInstructions string `json:"correction_instructions,omitempty" validate:"max=2000"`
}

// AssignRequest sets the preparer and/or supervisor of a period.
type AssignRequest struct {
	Version      int    `json:"version" validate:"gte=1"`
	AssigneeID   string `json:"assignee_id" validate:"required_without=SupervisorID,max=64"`
	SupervisorID string `json:"supervisor_id" validate:"max=64"`
	Reassign     bool   `json:"reassign"`
}

// =============================================================================
// REPORTING
// =============================================================================

// ComplianceDTO is one scope's compliance snapshot.
type ComplianceDTO struct {
	Scope         string          `json:"scope"`
	TotalPeriods  int             `json:"total_periods"`
	OnTime        int             `json:"on_time"`
	Late          int             `json:"late"`
	Overdue       int             `json:"overdue"`
	Rejected      int             `json:"rejected"`
	Pending       int             `json:"pending"`
	CompliancePct decimal.Decimal `json:"compliance_pct"`
}

// SeriesPointDTO is one due-month bucket of the compliance series.
type SeriesPointDTO struct {
	Bucket        string          `json:"bucket"`
	Snapshot      ComplianceDTO   `json:"snapshot"`
	CumulativePct decimal.Decimal `json:"cumulative_pct"`
}

// AlertDTO is a derived alert.
type AlertDTO struct {
	ID           string    `json:"id"`
	Severity     string    `json:"severity"`
	Kind         string    `json:"kind"`
	PeriodID     string    `json:"period_id"`
	ObligationID string    `json:"obligation_id"`
	EntityID     string    `json:"entity_id"`
	AssigneeID   string    `json:"assignee_id,omitempty"`
	Message      string    `json:"message"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toObligationDTO(f *factory.ObligationFactory, ob obligation.Obligation) ObligationDTO {
	return ObligationDTO{ObligationJSON: f.ToJSON(ob), CreatedAt: ob.CreatedAt}
}

func toPeriodDTO(p obligation.Period) PeriodDTO {
	return PeriodDTO{
		ID:                     string(p.ID),
		ObligationID:           string(p.ObligationID),
		EntityID:               string(p.EntityID),
		Start:                  p.Start.String(),
		End:                    p.End.String(),
		DueDate:                p.DueDate.String(),
		State:                  string(p.State),
		AssigneeID:             string(p.AssigneeID),
		SupervisorID:           string(p.SupervisorID),
		SubmittedAt:            p.SubmittedAt,
		ResolvedAt:             p.ResolvedAt,
		RejectionReason:        p.RejectionReason,
		CorrectionInstructions: p.CorrectionInstructions,
		AttachmentCount:        p.AttachmentCount,
		Version:                p.Version,
	}
}

func toPeriodViewDTO(v obligation.PeriodView) PeriodDTO {
	dto := toPeriodDTO(v.Period)
	dto.DeadlineStatus = string(v.Classification.Status)
	dto.SubmittedLate = v.Classification.SubmittedLate
	if v.Classification.Status != obligation.StatusRejected {
		days := v.Classification.DaysDelta
		dto.DaysDelta = &days
	}
	return dto
}

func toRecordDTO(rec obligation.TransitionRecord) TransitionRecordDTO {
	return TransitionRecordDTO{
		ID:       rec.ID,
		PeriodID: string(rec.PeriodID),
		Event:    string(rec.Event),
		From:     string(rec.From),
		To:       string(rec.To),
		ActorID:  string(rec.ActorID),
		Role:     string(rec.Role),
		At:       rec.At,
		Note:     rec.Note,
	}
}

func toComplianceDTO(s obligation.ComplianceSnapshot) ComplianceDTO {
	return ComplianceDTO{
		Scope:         s.ScopeKey,
		TotalPeriods:  s.TotalPeriods,
		OnTime:        s.OnTimeCount,
		Late:          s.LateCount,
		Overdue:       s.OverdueCount,
		Rejected:      s.RejectedCount,
		Pending:       s.PendingCount,
		CompliancePct: s.CompliancePct,
	}
}

func toAlertDTO(a obligation.Alert) AlertDTO {
	return AlertDTO{
		ID:           a.ID,
		Severity:     string(a.Severity),
		Kind:         string(a.Kind),
		PeriodID:     string(a.PeriodID),
		ObligationID: string(a.ObligationID),
		EntityID:     string(a.EntityID),
		AssigneeID:   string(a.AssigneeID),
		Message:      a.Message,
		GeneratedAt:  a.GeneratedAt,
	}
}
