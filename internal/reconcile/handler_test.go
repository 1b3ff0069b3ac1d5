package reconcile_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/reconcile"
)

func TestHandlerReports(t *testing.T) {
	store := seed(t)
	store.CorruptBalance(flourID, warehouseID, d("61"))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	reconcile.NewHandler(logger, reconcile.NewAuditor(store, decimal.Zero, logger)).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/locations/1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var report struct {
		LocationID int64 `json:"location_id"`
		Mismatches []struct {
			ItemID int64  `json:"item_id"`
			Drift  string `json:"drift"`
		} `json:"mismatches"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Len(t, report.Mismatches, 1)
	require.Equal(t, "1", report.Mismatches[0].Drift)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/locations/abc", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/locations", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var all []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all, 2)
}

func TestHandlerExportIsRateLimited(t *testing.T) {
	store := seed(t)
	r := chi.NewRouter()
	reconcile.NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), reconcile.NewAuditor(store, decimal.Zero, nil)).MountRoutes(r)

	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/export.xlsx", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, reconcile.XLSXContentType, rec.Header().Get("Content-Type"))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/export.xlsx", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}
