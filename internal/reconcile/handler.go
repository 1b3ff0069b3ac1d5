package reconcile

import (
	"bytes"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

const (
	exportRateLimit  = 10
	exportRateWindow = time.Minute
)

// Handler serves audit reports.
type Handler struct {
	logger  *slog.Logger
	auditor *Auditor
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, auditor *Auditor) *Handler {
	return &Handler{logger: logger, auditor: auditor}
}

// MountRoutes registers reconciliation routes. The export is rate limited per actor.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(exportRateLimit, exportRateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "export rate limit exceeded")
		}),
	)
	r.Get("/locations", h.handleAll)
	r.Get("/locations/{id}", h.handleLocation)
	r.Get("/cost-pools", h.handleCostPools)
	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.Get("/export.xlsx", h.handleExport)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if actor := shared.ActorFromContext(r.Context()); actor != 0 {
		return "actor:" + strconv.FormatInt(actor, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

type mismatchResponse struct {
	ItemID     int64  `json:"item_id"`
	LedgerQty  string `json:"ledger_qty"`
	BalanceQty string `json:"balance_qty"`
	Drift      string `json:"drift"`
}

type reportResponse struct {
	LocationID          int64              `json:"location_id"`
	LocationName        string             `json:"location_name,omitempty"`
	TotalMoves          int                `json:"total_moves"`
	TotalBalanceRecords int                `json:"total_balance_records"`
	Mismatches          []mismatchResponse `json:"mismatches"`
	GeneratedAt         string             `json:"generated_at"`
}

func newReportResponse(r Report) reportResponse {
	resp := reportResponse{
		LocationID:          r.LocationID,
		LocationName:        r.LocationName,
		TotalMoves:          r.TotalMoves,
		TotalBalanceRecords: r.TotalBalanceRecords,
		Mismatches:          make([]mismatchResponse, 0, len(r.Mismatches)),
		GeneratedAt:         r.GeneratedAt.UTC().Format(time.RFC3339),
	}
	for _, m := range r.Mismatches {
		resp.Mismatches = append(resp.Mismatches, mismatchResponse{
			ItemID:     m.ItemID,
			LedgerQty:  m.LedgerQty.String(),
			BalanceQty: m.BalanceQty.String(),
			Drift:      m.Drift().String(),
		})
	}
	return resp
}

func (h *Handler) handleLocation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid location id")
		return
	}
	report, err := h.auditor.Audit(r.Context(), id)
	if err != nil {
		h.logger.Error("audit location", slog.Int64("location_id", id), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, newReportResponse(report))
}

func (h *Handler) handleAll(w http.ResponseWriter, r *http.Request) {
	reports, err := h.auditor.AuditAll(r.Context())
	if err != nil {
		h.logger.Error("audit all locations", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	out := make([]reportResponse, 0, len(reports))
	for _, rep := range reports {
		out = append(out, newReportResponse(rep))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleCostPools(w http.ResponseWriter, r *http.Request) {
	issues, err := h.auditor.AuditCostPools(r.Context())
	if err != nil {
		h.logger.Error("audit cost pools", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	out := make([]map[string]any, 0, len(issues))
	for _, is := range issues {
		out = append(out, map[string]any{
			"item_id":     is.ItemID,
			"item_name":   is.ItemName,
			"on_hand":     is.OnHand.String(),
			"total_value": is.TotalValue.String(),
			"unit_cost":   is.UnitCost.String(),
			"problem":     string(is.Problem),
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	reports, err := h.auditor.AuditAll(r.Context())
	if err != nil {
		h.logger.Error("export audit", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	issues, err := h.auditor.AuditCostPools(r.Context())
	if err != nil {
		h.logger.Error("export cost pools", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, reports, issues); err != nil {
		h.logger.Error("render xlsx", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	w.Header().Set("Content-Type", XLSXContentType)
	w.Header().Set("Content-Disposition", "attachment; filename=ledger-audit.xlsx")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
