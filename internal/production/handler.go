package production

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
)

// Handler exposes the batch engine over HTTP.
type Handler struct {
	logger    *slog.Logger
	engine    *Engine
	validator *validator.Validate
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	return &Handler{logger: logger, engine: engine, validator: validator.New()}
}

// MountRoutes registers production routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/recipes/{id}", h.handleRecipe)
	r.Post("/plans", h.handlePlan)
	r.Get("/batches", h.handleQueue)
	r.Post("/batches", h.handleCommit)
	r.Get("/batches/{id}", h.handleBatch)
	r.Post("/batches/{id}/weight", h.handleWeight)
	r.Post("/batches/{id}/complete", h.handleComplete)
	r.Post("/sweep", h.handleSweep)
}

type planRequest struct {
	FinishedGoodID int64           `json:"finished_good_id" validate:"required,gt=0"`
	Quantity       decimal.Decimal `json:"quantity"`
	LocationID     int64           `json:"location_id" validate:"omitempty,gt=0"`
}

type weightRequest struct {
	Weight decimal.Decimal `json:"weight"`
}

type completeRequest struct {
	OutputWeight *decimal.Decimal `json:"output_weight"`
}

type planLineResponse struct {
	IngredientID int64  `json:"ingredient_id"`
	Name         string `json:"name"`
	IsWeighted   bool   `json:"is_weighted"`
	Required     string `json:"required"`
	Available    string `json:"available"`
	UnitCost     string `json:"unit_cost"`
	LineCost     string `json:"line_cost"`
}

type planResponse struct {
	FinishedGoodID      int64              `json:"finished_good_id"`
	Quantity            string             `json:"quantity"`
	LocationID          int64              `json:"location_id"`
	Lines               []planLineResponse `json:"lines"`
	TotalEstimatedCost  string             `json:"total_estimated_cost"`
	ReturnsToRaw        bool               `json:"returns_to_raw"`
	RequiresMeasurement bool               `json:"requires_measurement"`
	LeadTimeSeconds     int64              `json:"lead_time_seconds"`
}

type entryResponse struct {
	ID             int64   `json:"id"`
	FinishedGoodID int64   `json:"finished_good_id"`
	LocationID     int64   `json:"location_id"`
	Quantity       string  `json:"quantity"`
	OutputWeight   *string `json:"output_weight,omitempty"`
	StartedAt      string  `json:"started_at"`
	CompletesAt    string  `json:"completes_at"`
	Status         string  `json:"status"`
	BatchID        string  `json:"batch_id"`
	EstimatedCost  string  `json:"estimated_cost"`
	State          string  `json:"state,omitempty"`
}

func newPlanResponse(p Plan) planResponse {
	resp := planResponse{
		FinishedGoodID:      p.FinishedGoodID,
		Quantity:            p.Quantity.String(),
		LocationID:          p.LocationID,
		Lines:               make([]planLineResponse, 0, len(p.Lines)),
		TotalEstimatedCost:  p.TotalEstimatedCost.String(),
		ReturnsToRaw:        p.ReturnsToRaw,
		RequiresMeasurement: p.RequiresMeasurement,
		LeadTimeSeconds:     int64(p.LeadTime / time.Second),
	}
	for _, l := range p.Lines {
		resp.Lines = append(resp.Lines, planLineResponse{
			IngredientID: l.IngredientID,
			Name:         l.Name,
			IsWeighted:   l.IsWeighted,
			Required:     l.Required.String(),
			Available:    l.Available.String(),
			UnitCost:     l.UnitCost.String(),
			LineCost:     l.LineCost.String(),
		})
	}
	return resp
}

func newEntryResponse(e QueueEntry) entryResponse {
	resp := entryResponse{
		ID:             e.ID,
		FinishedGoodID: e.FinishedGoodID,
		LocationID:     e.LocationID,
		Quantity:       e.Quantity.String(),
		StartedAt:      e.StartedAt.UTC().Format(time.RFC3339),
		CompletesAt:    e.CompletesAt.UTC().Format(time.RFC3339),
		Status:         string(e.Status),
		BatchID:        e.BatchID.String(),
		EstimatedCost:  e.EstimatedCost.String(),
	}
	if e.OutputWeight.Valid {
		w := e.OutputWeight.Decimal.String()
		resp.OutputWeight = &w
	}
	return resp
}

func (h *Handler) handleRecipe(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	recipe, err := h.engine.Resolver().Resolve(r.Context(), id)
	if err != nil {
		h.respondError(w, "resolve recipe", err)
		return
	}
	lines := make([]map[string]any, 0, len(recipe.Lines))
	for _, l := range recipe.Lines {
		lines = append(lines, map[string]any{
			"ingredient_id":     l.IngredientID,
			"name":              l.Name,
			"is_weighted":       l.IsWeighted,
			"unit_cost":         l.UnitCost.String(),
			"quantity_per_unit": l.QuantityPerUnit.String(),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"finished_good_id": recipe.FinishedGoodID,
		"name":             recipe.OutputName,
		"returns_to_raw":   recipe.ReturnsToRaw,
		"timing_minutes":   recipe.TimingMinutes,
		"lines":            lines,
	})
}

func (h *Handler) handlePlan(w http.ResponseWriter, r *http.Request) {
	plan, ok := h.plan(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, newPlanResponse(plan))
}

func (h *Handler) handleCommit(w http.ResponseWriter, r *http.Request) {
	plan, ok := h.plan(w, r)
	if !ok {
		return
	}
	entry, err := h.engine.Commit(r.Context(), plan)
	if err != nil {
		h.respondError(w, "commit batch", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newEntryResponse(entry))
}

func (h *Handler) plan(w http.ResponseWriter, r *http.Request) (Plan, bool) {
	var req planRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return Plan{}, false
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return Plan{}, false
	}
	plan, err := h.engine.Plan(r.Context(), PlanRequest{
		FinishedGoodID: req.FinishedGoodID,
		Quantity:       req.Quantity,
		LocationID:     req.LocationID,
	})
	if err != nil {
		h.respondError(w, "plan batch", err)
		return Plan{}, false
	}
	return plan, true
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	status := QueueStatus(r.URL.Query().Get("status"))
	switch status {
	case "", QueueInProgress, QueueCompleted, QueueCancelled:
	default:
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown status")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.engine.Queue(r.Context(), status, limit)
	if err != nil {
		h.respondError(w, "list queue", err)
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, newEntryResponse(e))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	view, err := h.engine.Batch(r.Context(), id)
	if err != nil {
		h.respondError(w, "get batch", err)
		return
	}
	resp := newEntryResponse(view.Entry)
	resp.State = string(view.State)
	moves := make([]inventory.MoveResponse, 0, len(view.Moves))
	for _, m := range view.Moves {
		moves = append(moves, inventory.NewMoveResponse(m))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entry": resp, "moves": moves})
}

func (h *Handler) handleWeight(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	var req weightRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	entry, err := h.engine.RecordOutputWeight(r.Context(), id, req.Weight)
	if err != nil {
		h.respondError(w, "record output weight", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newEntryResponse(entry))
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	var req completeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	completion, err := h.engine.Complete(r.Context(), id, req.OutputWeight)
	if err != nil {
		h.respondError(w, "complete batch", err)
		return
	}
	resp := map[string]any{
		"entry":   newEntryResponse(completion.Entry),
		"outcome": string(completion.Outcome),
	}
	if completion.Credit != nil {
		resp["credit"] = inventory.NewMoveResponse(*completion.Credit)
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.Sweep(r.Context())
	if err != nil {
		h.respondError(w, "sweep", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"due":        result.Due,
		"completed":  result.Completed,
		"duplicates": result.Duplicates,
		"pending":    result.Pending,
		"failed":     result.Failed,
		"skipped":    result.Skipped,
	})
}

func (h *Handler) idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", slog.Any("error", err))
		httpx.Problem(w, status, http.StatusText(status), "")
		return
	}
	httpx.Problem(w, status, http.StatusText(status), err.Error())
}

// StatusFor maps production and inventory errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrNoRecipe), errors.Is(err, ErrEntryNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrEntryClosed):
		return http.StatusConflict
	case errors.Is(err, ErrInconsistentRecipe), errors.Is(err, ErrEmptyPlan):
		return http.StatusUnprocessableEntity
	}
	return inventory.StatusFor(err)
}
