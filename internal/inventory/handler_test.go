package inventory_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/memstore"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

func newTestRouter(t *testing.T) (http.Handler, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	store.PutLocation(inventory.Location{ID: 1, Name: "Main", Kind: inventory.LocationWarehouse})
	store.PutLocation(inventory.Location{ID: 3, Name: "Cafe", Kind: inventory.LocationClient})
	store.PutItem(inventory.Item{ID: 10, Name: "Flour", Kind: inventory.ItemKindRaw, IsWeighted: true})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := inventory.NewHandler(logger, inventory.NewService(store.Inventory(), nil, nil, logger))
	r := chi.NewRouter()
	r.Use(shared.ActorMiddleware)
	h.MountRoutes(r)
	return r, store
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(shared.ActorHeader, "7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHandlerPurchaseAndBalance(t *testing.T) {
	h, _ := newTestRouter(t)

	rec, body := do(t, h, http.MethodPost, "/purchases", `{"item_id":10,"location_id":1,"qty":"100","unit_price":"10"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "purchase", body["type"])
	require.Equal(t, "in", body["direction"])

	rec, body = do(t, h, http.MethodGet, "/balances?item_id=10&location_id=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "100", body["quantity"])

	rec, body = do(t, h, http.MethodGet, "/items/10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "1000", body["total_value"])
}

func TestHandlerTransferAndOnHand(t *testing.T) {
	h, _ := newTestRouter(t)
	rec, _ := do(t, h, http.MethodPost, "/purchases", `{"item_id":10,"location_id":1,"qty":"100","unit_price":"10"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, body := do(t, h, http.MethodPost, "/transfers", `{"item_id":10,"from_location_id":1,"to_location_id":3,"qty":"40","payment_status":"pending"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "pending", body["payment_status"])

	_, body = do(t, h, http.MethodGet, "/items/10/on-hand", "")
	require.Equal(t, "60", body["quantity"])
	_, body = do(t, h, http.MethodGet, "/items/10/on-hand?include_client=true", "")
	require.Equal(t, "100", body["quantity"])

	rec, body = do(t, h, http.MethodPatch, "/moves/2/payment", `{"status":"paid"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "sale", body["type"])
}

func TestHandlerRejections(t *testing.T) {
	h, _ := newTestRouter(t)

	rec, _ := do(t, h, http.MethodPost, "/purchases", `{"item_id":10`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/transfers", `{"item_id":10,"from_location_id":1,"to_location_id":1,"qty":"1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/sales", `{"item_id":10,"from_location_id":1,"qty":"5"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/purchases", `{"item_id":10,"location_id":3,"qty":"5","unit_price":"1"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/items/99", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/moves?limit=5000", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerListMoves(t *testing.T) {
	h, _ := newTestRouter(t)
	for range 3 {
		rec, _ := do(t, h, http.MethodPost, "/purchases", `{"item_id":10,"location_id":1,"qty":"1","unit_price":"2"}`)
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/moves?item_id=10&limit=2", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var moves []inventory.MoveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &moves))
	require.Len(t, moves, 2)
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		inventory.ErrItemNotFound:                            http.StatusNotFound,
		&inventory.InsufficientStockError{}:                  http.StatusConflict,
		shared.ErrIdempotencyConflict:                        http.StatusConflict,
		inventory.ErrInvalidPaymentStatus:                    http.StatusUnprocessableEntity,
		inventory.WrapStorage("x", errors.New("conn reset")): http.StatusServiceUnavailable,
		context.DeadlineExceeded:                             http.StatusInternalServerError,
	}
	for err, want := range cases {
		require.Equal(t, want, inventory.StatusFor(err), err.Error())
	}
}
