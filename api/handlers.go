/*
handlers.go - HTTP API handlers for the inventory ledger

PURPOSE:
  Exposes ingestion, the status sweep and the dashboard reads over REST.
  Handles HTTP request/response and JSON serialization, and delegates to
  the sync orchestrator and the ledger service.

ENDPOINTS (under /api/inventory-ledger):
  Ingestion:
    POST   /sync                 Sync a date range
    POST   /update-statuses      Run the status sweep
    POST   /automation/sync      Sync yesterday, then sweep
    GET    /runs                 Recent sync runs

  Dashboard:
    GET    /                     Filtered, paged event list
    GET    /stats                Aggregate exposure
    GET    /claimable            Claimable events, newest first
    GET    /claimable/export     Claimable events as XLSX
    GET    /{id}/claim-text      Reimbursement request text

  Operator:
    POST   /{id}/claim           CLAIMABLE -> CLAIMED
    POST   /{id}/paid            CLAIMED -> PAID
    POST   /cleanup?days=N       Purge old RESOLVED events

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Event not found
  - 409: Invalid transition, sync already running
  - 502: Upstream report failures
  - 504: Report not ready in time
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/warp/reimbursement-engine/export"
	"github.com/warp/reimbursement-engine/ledger"
	"github.com/warp/reimbursement-engine/pipeline"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Syncer runs ingestion.
type Syncer interface {
	RunSync(ctx context.Context, start, end time.Time) (ledger.SyncRun, error)
	RunDaily(ctx context.Context) (pipeline.DailyResult, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *ledger.Service
	Sweeper *ledger.Sweeper
	Syncer  Syncer
	Runs    ledger.RunStore
	Costs   *ledger.CostBook
	Log     *logrus.Logger

	retentionDays atomic.Int64
	validate      *validator.Validate
}

// NewHandler creates a handler. runs may be nil.
func NewHandler(svc *ledger.Service, sweeper *ledger.Sweeper, syncer Syncer, runs ledger.RunStore, costs *ledger.CostBook, log *logrus.Logger) *Handler {
	h := &Handler{
		Service:  svc,
		Sweeper:  sweeper,
		Syncer:   syncer,
		Runs:     runs,
		Costs:    costs,
		Log:      log,
		validate: validator.New(),
	}
	h.retentionDays.Store(ledger.DefaultRetentionDays)
	return h
}

// SetRetentionDays changes the default for POST /cleanup.
func (h *Handler) SetRetentionDays(days int) {
	if days > 0 {
		h.retentionDays.Store(int64(days))
	}
}

// =============================================================================
// INGESTION
// =============================================================================

// Sync handles POST /sync.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "dataStartTime and dataEndTime are required and must be ordered", err)
		return
	}

	run, err := h.Syncer.RunSync(r.Context(), req.DataStartTime, req.DataEndTime)
	if err != nil {
		h.fail(w, "Sync failed", err)
		return
	}
	writeJSON(w, http.StatusOK, SyncResponse{
		Success: true,
		Message: "Inventory ledger sync completed",
		Data:    run,
	})
}

// UpdateStatuses handles POST /update-statuses.
func (h *Handler) UpdateStatuses(w http.ResponseWriter, r *http.Request) {
	res, err := h.Sweeper.Sweep(r.Context())
	if err != nil {
		h.fail(w, "Status update failed", err)
		return
	}
	writeJSON(w, http.StatusOK, SweepResponse{
		Success: true,
		Message: "Event statuses updated",
		Data:    res,
	})
}

// AutomationSync handles POST /automation/sync.
func (h *Handler) AutomationSync(w http.ResponseWriter, r *http.Request) {
	res, err := h.Syncer.RunDaily(r.Context())
	if err != nil {
		h.fail(w, "Automated sync failed", err)
		return
	}
	writeJSON(w, http.StatusOK, DailyResponse{
		Success: true,
		Message: "Automated sync completed",
		Data:    res,
	})
}

// ListRuns handles GET /runs.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.Runs == nil {
		writeJSON(w, http.StatusOK, []RunDTO{})
		return
	}
	limit, err := intParam(r, "limit", 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	runs, err := h.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		h.fail(w, "Failed to list runs", err)
		return
	}
	out := make([]RunDTO, len(runs))
	for i, run := range runs {
		out[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// DASHBOARD
// =============================================================================

// ListEvents handles GET /.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter", err)
		return
	}
	page, err := intParam(r, "page", 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid page", err)
		return
	}
	limit, err := intParam(r, "limit", ledger.DefaultPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	events, total, p, err := h.Service.List(r.Context(), filter, ledger.Page{Number: page, Size: limit})
	if err != nil {
		h.fail(w, "Failed to list events", err)
		return
	}
	writeJSON(w, http.StatusOK, EventListResponse{
		Events:     toEventDTOs(events),
		Total:      total,
		Page:       p.Number,
		Limit:      p.Size,
		TotalPages: (total + p.Size - 1) / p.Size,
	})
}

// Stats handles GET /stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Service.Stats(r.Context())
	if err != nil {
		h.fail(w, "Failed to compute stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Claimable handles GET /claimable.
func (h *Handler) Claimable(w http.ResponseWriter, r *http.Request) {
	events, ok := h.claimable(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toEventDTOs(events))
}

// ExportClaimable handles GET /claimable/export.
func (h *Handler) ExportClaimable(w http.ResponseWriter, r *http.Request) {
	events, ok := h.claimable(w, r)
	if !ok {
		return
	}
	f, err := export.Claimable(events, h.Costs)
	if err != nil {
		h.fail(w, "Failed to build workbook", err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename=claimable-events.xlsx")
	if err := f.Write(w); err != nil {
		h.Log.WithFields(logrus.Fields{"component": "api"}).WithError(err).Error("failed to write workbook")
	}
}

func (h *Handler) claimable(w http.ResponseWriter, r *http.Request) ([]ledger.Event, bool) {
	limit, err := intParam(r, "limit", ledger.DefaultClaimableSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return nil, false
	}
	events, err := h.Service.Claimable(r.Context(), limit)
	if err != nil {
		h.fail(w, "Failed to list claimable events", err)
		return nil, false
	}
	return events, true
}

// ClaimText handles GET /{id}/claim-text.
func (h *Handler) ClaimText(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	text, err := h.Service.ClaimText(r.Context(), id)
	if err != nil {
		h.fail(w, "Failed to build claim text", err)
		return
	}
	writeJSON(w, http.StatusOK, ClaimTextResponse{ID: id, ClaimText: text})
}

// =============================================================================
// OPERATOR ACTIONS
// =============================================================================

// MarkClaimed handles POST /{id}/claim.
func (h *Handler) MarkClaimed(w http.ResponseWriter, r *http.Request) {
	e, err := h.Service.MarkClaimed(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "Failed to mark event claimed", err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(e))
}

// MarkPaid handles POST /{id}/paid.
func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	e, err := h.Service.MarkPaid(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "Failed to mark event paid", err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTO(e))
}

// Cleanup handles POST /cleanup.
func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days", int(h.retentionDays.Load()))
	if err != nil || days < 1 {
		writeError(w, http.StatusBadRequest, "days must be a positive integer", err)
		return
	}
	deleted, err := h.Sweeper.Cleanup(r.Context(), days)
	if err != nil {
		h.fail(w, "Cleanup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, CleanupResponse{Deleted: deleted, RetentionDays: days})
}

// =============================================================================
// HELPERS
// =============================================================================

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	case ledger.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrReportTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case ledger.IsUpstream(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		fields := logrus.Fields{"component": "api", "status": status}
		var se *pipeline.StageError
		if errors.As(err, &se) {
			fields["stage"] = se.Stage
		}
		h.Log.WithFields(fields).WithError(err).Error(message)
	}
	writeError(w, status, message, err)
}

func parseFilter(r *http.Request) (ledger.Filter, error) {
	q := r.URL.Query()
	f := ledger.Filter{
		EventTypes:         splitList(q.Get("eventType")),
		FulfillmentCenters: splitList(q.Get("fulfillmentCenter")),
		FNSKU:              strings.TrimSpace(q.Get("fnsku")),
		ASIN:               strings.TrimSpace(q.Get("asin")),
		SKU:                strings.TrimSpace(q.Get("sku")),
	}
	for _, s := range splitList(q.Get("status")) {
		st, err := ledger.ParseStatus(strings.ToUpper(s))
		if err != nil {
			return ledger.Filter{}, err
		}
		f.Statuses = append(f.Statuses, st)
	}
	var err error
	if f.DateFrom, err = dateParam(q.Get("dateFrom")); err != nil {
		return ledger.Filter{}, err
	}
	if f.DateTo, err = dateParam(q.Get("dateTo")); err != nil {
		return ledger.Filter{}, err
	}
	return f, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func dateParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{ledger.DateLayout, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = ledger.Day(t)
			return &t, nil
		}
	}
	return nil, errors.New("invalid date " + strconv.Quote(raw))
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
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
