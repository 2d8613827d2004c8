/*
handlers.go - HTTP API handlers for the reporting-obligation engine

PURPOSE:
  Exposes the period engine via REST API. Handles HTTP request/response,
  JSON serialization, caller identity and authorization, and delegates to
  obligation.Service.

ENDPOINTS:
  Obligations:
    GET    /api/obligations                 List all obligations
    POST   /api/obligations                 Create obligation from JSON
    GET    /api/obligations/{id}            Get obligation
    POST   /api/obligations/{id}/generate   Generate periods up to a horizon

  Periods:
    GET    /api/periods                     Query periods with classification
    GET    /api/periods/{id}                Period + classification
    GET    /api/periods/{id}/events         Audit trail
    POST   /api/periods/{id}/assign         Set preparer / supervisor
    POST   /api/periods/{id}/transitions    Fire a workflow event
    POST   /api/periods/{id}/validation     Supervisor decision

  Reporting:
    GET    /api/compliance                  Compliance by scope
    GET    /api/compliance/series           Compliance by due month
    GET    /api/alerts                      Derived alerts

CALLER IDENTITY:
  X-Actor-ID and X-Actor-Role (preparer | supervisor) identify the caller on
  every write. Casbin decides whether the role may perform the action at
  all; the engine decides whether the caller is assigned to the period.

TIME:
  Read endpoints classify against the server clock unless ?now= is given
  (RFC3339 or YYYY-MM-DD), which keeps responses reproducible.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid input, missing justification, conflicting decision
  - 401: Missing or unknown caller identity
  - 403: Role or assignment does not allow the action
  - 404: Obligation or period not found
  - 409: Illegal transition, stale version, already assigned
  - 422: Precondition of a legal event not met
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - authz.go: Casbin role policy
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/warp/reporting-engine/factory"
	"github.com/warp/reporting-engine/obligation"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *obligation.Service
	Factory *factory.ObligationFactory
	Authz   *Authorizer

	// Clock is the server clock; tests pin it.
	Clock func() time.Time

	validate *validator.Validate
}

// NewHandler creates a handler over svc.
func NewHandler(svc *obligation.Service, authz *Authorizer) *Handler {
	return &Handler{
		Service:  svc,
		Factory:  factory.NewObligationFactory(),
		Authz:    authz,
		Clock:    time.Now,
		validate: validator.New(),
	}
}

const (
	headerActorID   = "X-Actor-ID"
	headerActorRole = "X-Actor-Role"
)

// =============================================================================
// OBLIGATION ENDPOINTS
// =============================================================================

// ListObligations returns all obligations.
// GET /api/obligations
func (h *Handler) ListObligations(w http.ResponseWriter, r *http.Request) {
	obligations, err := h.Service.Obligations(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dtos := make([]ObligationDTO, len(obligations))
	for i, ob := range obligations {
		dtos[i] = toObligationDTO(h.Factory, ob)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateObligation creates an obligation from its JSON definition.
// POST /api/obligations
func (h *Handler) CreateObligation(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.caller(w, r)
	if !ok {
		return
	}
	if !h.allow(w, r, actor.Role, objectObligation, actionCreate) {
		return
	}

	var req CreateObligationRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		req.ID = "obl-" + uuid.NewString()
	}

	ob, err := h.Factory.FromJSON(req.toJSON())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ob.CreatedAt = h.Clock().UTC()

	if err := h.Service.CreateObligation(r.Context(), ob); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toObligationDTO(h.Factory, ob))
}

// GetObligation returns one obligation.
// GET /api/obligations/{id}
func (h *Handler) GetObligation(w http.ResponseWriter, r *http.Request) {
	id := obligation.ObligationID(chi.URLParam(r, "id"))
	ob, err := h.Service.Obligation(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toObligationDTO(h.Factory, ob))
}

// GeneratePeriods creates the obligation's missing periods up to the horizon.
// Calling it twice with the same horizon inserts nothing the second time.
// POST /api/obligations/{id}/generate
func (h *Handler) GeneratePeriods(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.caller(w, r)
	if !ok {
		return
	}
	if !h.allow(w, r, actor.Role, objectObligation, actionGenerate) {
		return
	}

	var req GenerateRequest
	if !h.decode(w, r, &req) {
		return
	}
	horizon, err := obligation.ParseDate(req.Horizon)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid horizon", err)
		return
	}
	now, ok := h.now(w, r)
	if !ok {
		return
	}

	id := obligation.ObligationID(chi.URLParam(r, "id"))
	res, err := h.Service.Generate(r.Context(), id, horizon, now)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := GenerateResponse{
		ObligationID: string(res.ObligationID),
		Inserted:     res.Inserted,
		Skipped:      res.Skipped,
		Periods:      make([]PeriodDTO, len(res.Periods)),
	}
	for i, p := range res.Periods {
		resp.Periods[i] = toPeriodViewDTO(obligation.PeriodView{
			Period:         p,
			Classification: h.Service.Classifier().Classify(p, now),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// PERIOD ENDPOINTS
// =============================================================================

// ListPeriods queries periods and classifies each against now.
// GET /api/periods?obligation_id=&entity_id=&assignee_id=&due_from=&due_to=&state=&status=
//
// state accepts legacy labels (ENVIADO, en_proceso, ...). status filters on
// the derived deadline status, which is how overdue periods are found.
func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.periodFilter(w, r)
	if !ok {
		return
	}
	now, ok := h.now(w, r)
	if !ok {
		return
	}
	statuses, err := parseStatuses(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid status filter", err)
		return
	}

	views, err := h.Service.Periods(r.Context(), filter, now)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dtos := make([]PeriodDTO, 0, len(views))
	for _, v := range views {
		if len(statuses) > 0 && !statuses[v.Classification.Status] {
			continue
		}
		dtos = append(dtos, toPeriodViewDTO(v))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPeriod returns one period with its classification.
// GET /api/periods/{id}
func (h *Handler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	now, ok := h.now(w, r)
	if !ok {
		return
	}
	view, err := h.Service.Period(r.Context(), periodParam(r), now)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodViewDTO(view))
}

// ListEvents returns the period's audit trail, oldest first.
// GET /api/periods/{id}/events
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	records, err := h.Service.Events(r.Context(), periodParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]TransitionRecordDTO, len(records))
	for i, rec := range records {
		dtos[i] = toRecordDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AssignPeriod sets the period's preparer and/or supervisor.
// POST /api/periods/{id}/assign
func (h *Handler) AssignPeriod(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req AssignRequest
	if !h.decode(w, r, &req) {
		return
	}

	action := actionAssign
	if req.Reassign {
		action = actionReassign
	}
	if !h.allow(w, r, actor.Role, objectPeriod, action) {
		return
	}

	a := obligation.Assignment{
		AssigneeID:   obligation.ActorID(req.AssigneeID),
		SupervisorID: obligation.ActorID(req.SupervisorID),
		Reassign:     req.Reassign,
	}
	p, rec, err := h.Service.Assign(r.Context(), periodParam(r), req.Version, actor, a, h.Clock())
	h.writeTransition(w, r, p, rec, err)
}

// FireTransition fires one workflow event on a period.
// POST /api/periods/{id}/transitions
//
// Event names accept both start_work and startWork spellings.
func (h *Handler) FireTransition(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req TransitionRequest
	if !h.decode(w, r, &req) {
		return
	}

	event, err := parseEvent(req.Event)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !h.allow(w, r, actor.Role, objectPeriod, string(event)) {
		return
	}

	cmd := obligation.Command{
		Event:              event,
		Actor:              actor,
		AttachmentCount:    req.AttachmentCount,
		AttachmentOverride: req.AttachmentOverride,
		Note:               req.Note,
	}
	p, rec, err := h.Service.Fire(r.Context(), periodParam(r), req.Version, cmd, h.Clock())
	h.writeTransition(w, r, p, rec, err)
}

// ValidatePeriod applies a supervisor decision to a submitted period.
// POST /api/periods/{id}/validation
func (h *Handler) ValidatePeriod(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req ValidationRequest
	if !h.decode(w, r, &req) {
		return
	}

	d := obligation.Decision{
		Approve:                req.Approve,
		Reject:                 req.Reject,
		RequestCorrection:      req.RequestCorrection,
		RejectionReason:        req.RejectionReason,
		CorrectionInstructions: req.CorrectionInstructions,
	}
	cmd, err := d.Command(actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !h.allow(w, r, actor.Role, objectPeriod, string(cmd.Event)) {
		return
	}

	p, rec, err := h.Service.Validate(r.Context(), periodParam(r), req.Version, actor, d, h.Clock())
	h.writeTransition(w, r, p, rec, err)
}

func (h *Handler) writeTransition(w http.ResponseWriter, r *http.Request, p obligation.Period, rec obligation.TransitionRecord, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	view := obligation.PeriodView{Period: p, Classification: h.Service.Classifier().Classify(p, h.Clock())}
	writeJSON(w, http.StatusOK, TransitionResponse{
		Period: toPeriodViewDTO(view),
		Record: toRecordDTO(rec),
	})
}

// =============================================================================
// REPORTING ENDPOINTS
// =============================================================================

var groupings = map[string]obligation.GroupFunc{
	"all":        nil,
	"entity":     obligation.ByEntity,
	"obligation": obligation.ByObligation,
	"assignee":   obligation.ByAssignee,
	"month":      obligation.ByDueMonth,
}

// GetCompliance aggregates compliance over the filtered periods.
// GET /api/compliance?group_by=all|entity|obligation|assignee|month
func (h *Handler) GetCompliance(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.periodFilter(w, r)
	if !ok {
		return
	}
	now, ok := h.now(w, r)
	if !ok {
		return
	}

	groupBy := r.URL.Query().Get("group_by")
	if groupBy == "" {
		groupBy = "all"
	}
	fn, known := groupings[groupBy]
	if !known {
		writeError(w, http.StatusBadRequest, "invalid group_by", fmt.Errorf("unknown grouping %q", groupBy))
		return
	}

	snapshots, err := h.Service.Compliance(r.Context(), filter, fn, now)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dtos := make([]ComplianceDTO, 0, len(snapshots))
	for _, s := range snapshots {
		dtos = append(dtos, toComplianceDTO(s))
	}
	sort.Slice(dtos, func(i, j int) bool { return dtos[i].Scope < dtos[j].Scope })
	writeJSON(w, http.StatusOK, dtos)
}

// GetComplianceSeries returns compliance per due month with a running total.
// GET /api/compliance/series
func (h *Handler) GetComplianceSeries(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.periodFilter(w, r)
	if !ok {
		return
	}
	now, ok := h.now(w, r)
	if !ok {
		return
	}

	points, err := h.Service.ComplianceSeries(r.Context(), filter, now)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]SeriesPointDTO, len(points))
	for i, p := range points {
		dtos[i] = SeriesPointDTO{
			Bucket:        p.Bucket,
			Snapshot:      toComplianceDTO(p.Snapshot),
			CumulativePct: p.CumulativePct,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListAlerts derives alerts for the filtered periods at now.
// GET /api/alerts
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.periodFilter(w, r)
	if !ok {
		return
	}
	now, ok := h.now(w, r)
	if !ok {
		return
	}

	alerts, err := h.Service.DeriveAlerts(r.Context(), filter, now)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	recordAlerts(alerts)

	dtos := make([]AlertDTO, len(alerts))
	for i, a := range alerts {
		dtos[i] = toAlertDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Health reports liveness and, when the store supports it, database reachability.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	type pinger interface {
		Ping(ctx context.Context) error
	}
	if p, ok := h.Service.Store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// REQUEST PARSING
// =============================================================================

// caller resolves the actor from headers. Assignment is resolved later
// against the stored period.
func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (obligation.Actor, bool) {
	id := strings.TrimSpace(r.Header.Get(headerActorID))
	role := obligation.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(headerActorRole))))

	if id == "" {
		writeError(w, http.StatusUnauthorized, "missing caller identity", fmt.Errorf("%s header is required", headerActorID))
		return obligation.Actor{}, false
	}
	if role != obligation.RolePreparer && role != obligation.RoleSupervisor {
		writeError(w, http.StatusUnauthorized, "unknown caller role", fmt.Errorf("%s must be preparer or supervisor", headerActorRole))
		return obligation.Actor{}, false
	}
	return obligation.Actor{ID: obligation.ActorID(id), Role: role}, true
}

func (h *Handler) allow(w http.ResponseWriter, r *http.Request, role obligation.Role, object, action string) bool {
	ok, err := h.Authz.Allow(role, object, action)
	if err != nil {
		h.fail(w, r, err)
		return false
	}
	if !ok {
		writeError(w, http.StatusForbidden, "action not permitted",
			fmt.Errorf("role %s may not %s %s", role, action, object))
		return false
	}
	return true
}

// decode parses the JSON body into dst and runs struct validation.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation failed", err)
		return false
	}
	return true
}

func (h *Handler) now(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("now")
	if raw == "" {
		return h.Clock().UTC(), true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), true
	}
	d, err := obligation.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid now", fmt.Errorf("expected RFC3339 or YYYY-MM-DD, got %q", raw))
		return time.Time{}, false
	}
	return d.Time, true
}

func (h *Handler) periodFilter(w http.ResponseWriter, r *http.Request) (obligation.PeriodFilter, bool) {
	q := r.URL.Query()
	f := obligation.PeriodFilter{
		ObligationID: obligation.ObligationID(q.Get("obligation_id")),
		EntityID:     obligation.EntityID(q.Get("entity_id")),
		AssigneeID:   obligation.ActorID(q.Get("assignee_id")),
	}

	for _, bound := range []struct {
		key string
		dst **obligation.Date
	}{{"due_from", &f.DueFrom}, {"due_to", &f.DueTo}} {
		raw := q.Get(bound.key)
		if raw == "" {
			continue
		}
		d, err := obligation.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+bound.key, err)
			return f, false
		}
		*bound.dst = &d
	}

	if raw := q.Get("state"); raw != "" {
		states, err := factory.NormalizeStates(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid state filter", err)
			return f, false
		}
		f.States = states
	}
	return f, true
}

func periodParam(r *http.Request) obligation.PeriodID {
	return obligation.PeriodID(chi.URLParam(r, "id"))
}

func parseEvent(raw string) (obligation.Event, error) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(raw), "_", ""))
	for _, e := range obligation.Events() {
		if strings.ReplaceAll(string(e), "_", "") == key {
			return e, nil
		}
	}
	return "", &obligation.ConfigurationError{Field: "event", Reason: fmt.Sprintf("unknown event %q", raw)}
}

var deadlineStatuses = []obligation.DeadlineStatus{
	obligation.StatusOnTime, obligation.StatusLate, obligation.StatusRejected,
	obligation.StatusOverdue, obligation.StatusDueToday, obligation.StatusDueSoon, obligation.StatusOnTrack,
}

func parseStatuses(csv string) (map[obligation.DeadlineStatus]bool, error) {
	if strings.TrimSpace(csv) == "" {
		return nil, nil
	}
	out := make(map[obligation.DeadlineStatus]bool)
	for _, part := range strings.Split(csv, ",") {
		s := obligation.DeadlineStatus(strings.ToLower(strings.TrimSpace(part)))
		found := false
		for _, known := range deadlineStatuses {
			if s == known {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown deadline status %q", part)
		}
		out[s] = true
	}
	return out, nil
}

// =============================================================================
// RESPONSES
// =============================================================================

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case obligation.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, obligation.ErrActorNotPermitted):
		return http.StatusForbidden
	case errors.Is(err, obligation.ErrInvalidTransition),
		errors.Is(err, obligation.ErrConcurrentModification),
		errors.Is(err, obligation.ErrAlreadyAssigned):
		return http.StatusConflict
	case errors.Is(err, obligation.ErrPreconditionFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, obligation.ErrInvalidConfiguration),
		errors.Is(err, obligation.ErrMissingJustification),
		errors.Is(err, obligation.ErrConflictingDecision):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Internal errors are logged; the
// client gets a generic message.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		writeError(w, status, "internal error", nil)
		return
	}
	writeError(w, status, http.StatusText(status), err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
