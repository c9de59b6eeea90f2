// Package api exposes the optimizer over HTTP.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/spend-optimizer/internal/adnetwork"
	"github.com/ignite/spend-optimizer/internal/domain"
	"github.com/ignite/spend-optimizer/internal/engine"
	"github.com/ignite/spend-optimizer/internal/pkg/httputil"
	"github.com/ignite/spend-optimizer/internal/pkg/logger"
	"github.com/ignite/spend-optimizer/internal/service/allocation"
	"github.com/ignite/spend-optimizer/internal/service/execution"
	"github.com/ignite/spend-optimizer/internal/service/prediction"
	"github.com/ignite/spend-optimizer/internal/service/review"
	"github.com/ignite/spend-optimizer/internal/service/suggestion"
	"github.com/ignite/spend-optimizer/internal/service/tracking"
)

const maxBodyBytes = 1 << 20

// Handlers contains the HTTP handlers for the optimizer.
type Handlers struct {
	eng *engine.Engine
	log *logger.Logger
}

// NewHandlers creates handlers over eng.
func NewHandlers(eng *engine.Engine) *Handlers {
	return &Handlers{eng: eng, log: logger.Component("api")}
}

// GeneratePlan handles POST /api/v1/plans.
func (h *Handlers) GeneratePlan(w http.ResponseWriter, r *http.Request) {
	var req allocation.PlanRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.eng.GenerateAllocationPlan(r.Context(), req)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httputil.Created(w, res)
}

// ListPlans handles GET /api/v1/plans?scope_id=&limit=.
func (h *Handlers) ListPlans(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope_id")
	if scope == "" {
		httputil.BadRequest(w, "scope_id is required")
		return
	}
	limit, err := httputil.QueryInt(r, "limit", 50)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	plans, err := h.eng.ListPlans(r.Context(), scope, limit)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"plans": plans, "count": len(plans)})
}

// GetPlan handles GET /api/v1/plans/{id}.
func (h *Handlers) GetPlan(w http.ResponseWriter, r *http.Request) {
	res, err := h.eng.GetPlan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httputil.OK(w, res)
}

// ApprovePlan handles POST /api/v1/plans/{id}/approve.
func (h *Handlers) ApprovePlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.eng.ApprovePlan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httputil.OK(w, plan)
}

// ExecutePlan handles POST /api/v1/plans/{id}/execute.
func (h *Handlers) ExecutePlan(w http.ResponseWriter, r *http.Request) {
	res, err := h.eng.ExecutePlan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httputil.OK(w, res)
}

type suggestionsRequest struct {
	ScopeID string    `json:"scope_id"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// GenerateSuggestions handles POST /api/v1/suggestions.
func (h *Handlers) GenerateSuggestions(w http.ResponseWriter, r *http.Request) {
	var req suggestionsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	set, err := h.eng.GenerateSuggestions(r.Context(), req.ScopeID, req.Start, req.End)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httputil.Created(w, set)
}

// GetSuggestionSet handles GET /api/v1/suggestions/{id}.
func (h *Handlers) GetSuggestionSet(w http.ResponseWriter, r *http.Request) {
	set, err := h.eng.GetSuggestionSet(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httputil.OK(w, set)
}

// ExecuteSuggestions handles POST /api/v1/suggestions/{id}/execute. An
// empty or missing body executes every suggestion in the set.
func (h *Handlers) ExecuteSuggestions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SegmentIDs []string `json:"segment_ids"`
	}
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	res, err := h.eng.ExecuteSuggestions(r.Context(), chi.URLParam(r, "id"), req.SegmentIDs)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httputil.OK(w, res)
}

// ListBatches handles GET /api/v1/batches?scope_id=&limit=.
func (h *Handlers) ListBatches(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope_id")
	if scope == "" {
		httputil.BadRequest(w, "scope_id is required")
		return
	}
	limit, err := httputil.QueryInt(r, "limit", 50)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	batches, err := h.eng.ListBatches(r.Context(), scope, limit)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"batches": batches, "count": len(batches)})
}

// GetBatch handles GET /api/v1/batches/{id}.
func (h *Handlers) GetBatch(w http.ResponseWriter, r *http.Request) {
	sum, err := h.eng.GetBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httputil.OK(w, sum)
}

// GetTracking handles GET /api/v1/records/{id}/tracking. A record still
// inside its observation window answers 202 with the time it becomes
// evaluable.
func (h *Handlers) GetTracking(w http.ResponseWriter, r *http.Request) {
	out, err := h.eng.GetTrackingReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	if out.Status == tracking.StatusNotYetEvaluable {
		httputil.Accepted(w, out)
		return
	}
	httputil.OK(w, out)
}

// Rollback handles POST /api/v1/records/{id}/rollback.
func (h *Handlers) Rollback(w http.ResponseWriter, r *http.Request) {
	rec, err := h.eng.Rollback(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httputil.OK(w, rec)
}

// History handles GET /api/v1/scopes/{scope}/history?segment_id=.
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	recs, err := h.eng.History(r.Context(), chi.URLParam(r, "scope"), r.URL.Query().Get("segment_id"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"records": recs, "count": len(recs)})
}

// Replay handles GET /api/v1/scopes/{scope}/replay.
func (h *Handlers) Replay(w http.ResponseWriter, r *http.Request) {
	state, err := h.eng.Replay(r.Context(), chi.URLParam(r, "scope"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"segments": state})
}

// ListReviews handles GET /api/v1/reviews?scope_id=.
func (h *Handlers) ListReviews(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope_id")
	if scope == "" {
		httputil.BadRequest(w, "scope_id is required")
		return
	}
	rs, err := h.eng.ListPendingReviews(r.Context(), scope)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"reviews": rs, "count": len(rs)})
}

// ProcessReview handles POST /api/v1/reviews/{id}/process.
func (h *Handlers) ProcessReview(w http.ResponseWriter, r *http.Request) {
	out, err := h.eng.ProcessReview(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httputil.OK(w, out)
}

// ProcessDueReviews handles POST /api/v1/reviews/process-due.
func (h *Handlers) ProcessDueReviews(w http.ResponseWriter, r *http.Request) {
	sum, err := h.eng.ProcessDueReviews(r.Context())
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	httputil.OK(w, sum)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return httputil.Decode(w, r, dst)
}

// respondErr maps service errors onto HTTP statuses. Unknown errors are
// logged and reported as 500 without detail.
func (h *Handlers) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, allocation.ErrNotFound),
		errors.Is(err, suggestion.ErrSetNotFound),
		errors.Is(err, execution.ErrNotFound),
		errors.Is(err, execution.ErrBatchNotFound),
		errors.Is(err, review.ErrNotFound),
		errors.Is(err, prediction.ErrNotFound),
		errors.Is(err, domain.ErrSegmentNotFound):
		httputil.NotFound(w, err.Error())

	case errors.Is(err, allocation.ErrInvalidRequest),
		errors.Is(err, suggestion.ErrInvalidRequest):
		httputil.BadRequest(w, err.Error())

	case errors.Is(err, allocation.ErrNoSegments),
		errors.Is(err, execution.ErrEmptyBatch),
		errors.Is(err, engine.ErrNothingToExecute):
		httputil.Error(w, http.StatusUnprocessableEntity, err.Error())

	case errors.Is(err, engine.ErrScopeConflict):
		httputil.Conflict(w, "scope_conflict", err.Error())
	case errors.Is(err, engine.ErrPlanNotApproved):
		httputil.Conflict(w, "plan_not_approved", err.Error())
	case errors.Is(err, allocation.ErrInvalidTransition),
		errors.Is(err, execution.ErrInvalidTransition):
		httputil.Conflict(w, "invalid_transition", err.Error())
	case errors.Is(err, review.ErrAlreadyProcessed):
		httputil.Conflict(w, "already_processed", err.Error())
	case errors.Is(err, execution.ErrNotRollbackable):
		httputil.Conflict(w, "not_rollbackable", err.Error())
	case errors.Is(err, tracking.ErrNotTrackable):
		httputil.Conflict(w, "not_trackable", err.Error())

	case errors.Is(err, execution.ErrRollbackFailed):
		httputil.Error(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, adnetwork.ErrUnavailable):
		httputil.Error(w, http.StatusServiceUnavailable, err.Error())

	default:
		h.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err.Error())
		httputil.Error(w, http.StatusInternalServerError, "internal server error")
	}
}
