package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Handler wires HTTP endpoints for the inventory ledger.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/purchases", h.handlePurchase)
	r.Post("/transfers", h.handleTransfer)
	r.Post("/sales", h.handleSale)
	r.Patch("/moves/{id}/payment", h.handlePayment)
	r.Get("/moves", h.handleListMoves)
	r.Get("/items/{id}", h.handleGetItem)
	r.Get("/items/{id}/on-hand", h.handleOnHand)
	r.Get("/balances", h.handleBalance)
}

type purchaseRequest struct {
	ItemID     int64           `json:"item_id" validate:"required,gt=0"`
	LocationID int64           `json:"location_id" validate:"required,gt=0"`
	Qty        decimal.Decimal `json:"qty"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Reference  string          `json:"reference" validate:"omitempty,max=64"`
}

type transferRequest struct {
	ItemID         int64           `json:"item_id" validate:"required,gt=0"`
	FromLocationID int64           `json:"from_location_id" validate:"required,gt=0"`
	ToLocationID   int64           `json:"to_location_id" validate:"required,gt=0,nefield=FromLocationID"`
	Qty            decimal.Decimal `json:"qty"`
	PaymentStatus  string          `json:"payment_status" validate:"omitempty,oneof=pending partial paid"`
}

type saleRequest struct {
	ItemID         int64           `json:"item_id" validate:"required,gt=0"`
	FromLocationID int64           `json:"from_location_id" validate:"required,gt=0"`
	Qty            decimal.Decimal `json:"qty"`
	PaymentStatus  string          `json:"payment_status" validate:"omitempty,oneof=pending partial paid"`
}

type paymentRequest struct {
	Status string `json:"status" validate:"required,oneof=pending partial paid"`
}

// MoveResponse is the JSON shape of a ledger entry.
type MoveResponse struct {
	ID             int64   `json:"id"`
	ItemID         int64   `json:"item_id"`
	FromLocationID *int64  `json:"from_location_id,omitempty"`
	ToLocationID   *int64  `json:"to_location_id,omitempty"`
	Quantity       string  `json:"quantity"`
	Type           string  `json:"type"`
	Direction      string  `json:"direction"`
	UnitPrice      string  `json:"unit_price"`
	BatchID        *string `json:"batch_id,omitempty"`
	PaymentStatus  string  `json:"payment_status,omitempty"`
	CreatedAt      string  `json:"created_at"`
}

// NewMoveResponse renders m for JSON output.
func NewMoveResponse(m Move) MoveResponse {
	resp := MoveResponse{
		ID:             m.ID,
		ItemID:         m.ItemID,
		FromLocationID: m.FromLocationID,
		ToLocationID:   m.ToLocationID,
		Quantity:       m.Quantity.String(),
		Type:           string(m.Type),
		Direction:      string(m.Direction()),
		UnitPrice:      m.UnitPrice.String(),
		PaymentStatus:  string(m.PaymentStatus),
		CreatedAt:      m.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	if m.BatchID.Valid {
		id := m.BatchID.UUID.String()
		resp.BatchID = &id
	}
	return resp
}

func (h *Handler) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if !h.decode(w, r, &req) {
		return
	}
	move, err := h.service.PostPurchase(r.Context(), PurchaseInput{
		ItemID:     req.ItemID,
		LocationID: req.LocationID,
		Qty:        req.Qty,
		UnitPrice:  req.UnitPrice,
		Reference:  req.Reference,
		ActorID:    shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, "post purchase", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, NewMoveResponse(move))
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}
	move, err := h.service.PostTransfer(r.Context(), TransferInput{
		ItemID:         req.ItemID,
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		Qty:            req.Qty,
		PaymentStatus:  PaymentStatus(req.PaymentStatus),
		ActorID:        shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, "post transfer", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, NewMoveResponse(move))
}

func (h *Handler) handleSale(w http.ResponseWriter, r *http.Request) {
	var req saleRequest
	if !h.decode(w, r, &req) {
		return
	}
	move, err := h.service.PostSale(r.Context(), SaleInput{
		ItemID:         req.ItemID,
		FromLocationID: req.FromLocationID,
		Qty:            req.Qty,
		PaymentStatus:  PaymentStatus(req.PaymentStatus),
		ActorID:        shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, "post sale", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, NewMoveResponse(move))
}

func (h *Handler) handlePayment(w http.ResponseWriter, r *http.Request) {
	moveID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid move id")
		return
	}
	var req paymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	move, err := h.service.UpdatePaymentStatus(r.Context(), moveID, PaymentStatus(req.Status), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, "update payment status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewMoveResponse(move))
}

func (h *Handler) handleListMoves(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter MoveFilter
	var err error
	if filter.ItemID, err = optionalInt(q.Get("item_id")); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid item_id")
		return
	}
	if filter.LocationID, err = optionalInt(q.Get("location_id")); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid location_id")
		return
	}
	if raw := q.Get("batch_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid batch_id")
			return
		}
		filter.BatchID = uuid.NullUUID{UUID: id, Valid: true}
	}
	limit, err := optionalInt(q.Get("limit"))
	if err != nil || limit < 0 || limit > 1000 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "limit must be between 1 and 1000")
		return
	}
	filter.Limit = int(limit)
	moves, err := h.service.ListMoves(r.Context(), filter)
	if err != nil {
		h.respondError(w, "list moves", err)
		return
	}
	out := make([]MoveResponse, 0, len(moves))
	for _, m := range moves {
		out = append(out, NewMoveResponse(m))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid item id")
		return
	}
	item, err := h.service.GetItem(r.Context(), itemID)
	if err != nil {
		h.respondError(w, "get item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"id":          item.ID,
		"name":        item.Name,
		"kind":        string(item.Kind),
		"unit_cost":   item.UnitCost.String(),
		"total_value": item.TotalValue.String(),
		"is_weighted": item.IsWeighted,
		"sale_price":  item.SalePrice.String(),
	})
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	itemID, err1 := strconv.ParseInt(q.Get("item_id"), 10, 64)
	locationID, err2 := strconv.ParseInt(q.Get("location_id"), 10, 64)
	if err1 != nil || err2 != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "item_id and location_id required")
		return
	}
	qty, err := h.service.Balance(r.Context(), itemID, locationID)
	if err != nil {
		h.respondError(w, "balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"item_id": itemID, "location_id": locationID, "quantity": qty.String()})
}

func (h *Handler) handleOnHand(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid item id")
		return
	}
	excludeClient := r.URL.Query().Get("include_client") != "true"
	qty, err := h.service.TotalOnHand(r.Context(), itemID, excludeClient)
	if err != nil {
		h.respondError(w, "on hand", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"item_id": itemID, "exclude_client": excludeClient, "quantity": qty.String()})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", fieldErrs[0].Field()+" is invalid")
			return false
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", slog.Any("error", err))
		httpx.Problem(w, status, http.StatusText(status), "")
		return
	}
	h.logger.Info(op+" rejected", slog.Any("error", err))
	httpx.Problem(w, status, http.StatusText(status), err.Error())
}

// StatusFor maps inventory errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrItemNotFound), errors.Is(err, ErrLocationNotFound), errors.Is(err, ErrMoveNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrDuplicateCredit), errors.Is(err, shared.ErrIdempotencyConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidUnitCost),
		errors.Is(err, ErrInvalidLocation), errors.Is(err, ErrInvalidPaymentStatus):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrStorageWrite):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func optionalInt(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
