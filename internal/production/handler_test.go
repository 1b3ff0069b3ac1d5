package production_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/production"
)

func newRouter(f *fixture) http.Handler {
	r := chi.NewRouter()
	production.NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.engine).MountRoutes(r)
	return r
}

func call(t *testing.T, h http.Handler, method, path, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func TestHandlerBatchLifecycle(t *testing.T) {
	f := newFixture(t)
	h := newRouter(f)

	code, plan := call(t, h, http.MethodPost, "/plans", `{"finished_good_id":20,"quantity":"5"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "500", plan["total_estimated_cost"])

	code, entry := call(t, h, http.MethodPost, "/batches", `{"finished_good_id":20,"quantity":"5"}`)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, "in_progress", entry["status"])

	code, view := call(t, h, http.MethodGet, "/batches/1", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, view["moves"], 1)

	code, done := call(t, h, http.MethodPost, "/batches/1/complete", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "completed", done["outcome"])
	require.NotNil(t, done["credit"])

	code, again := call(t, h, http.MethodPost, "/batches/1/complete", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "already_closed", again["outcome"])

	code, _ = call(t, h, http.MethodPost, "/batches/1/weight", `{"weight":"3"}`)
	require.Equal(t, http.StatusConflict, code)
}

func TestHandlerMeasuredCompletion(t *testing.T) {
	f := newFixture(t)
	h := newRouter(f)

	code, _ := call(t, h, http.MethodPost, "/batches", `{"finished_good_id":22,"quantity":"10"}`)
	require.Equal(t, http.StatusCreated, code)

	code, sweep := call(t, h, http.MethodPost, "/sweep", "")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, sweep["pending"])

	code, done := call(t, h, http.MethodPost, "/batches/1/complete", `{"output_weight":"8"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "completed", done["outcome"])
}

func TestHandlerErrors(t *testing.T) {
	f := newFixture(t)
	h := newRouter(f)

	code, _ := call(t, h, http.MethodGet, "/recipes/23", "")
	require.Equal(t, http.StatusNotFound, code)
	code, _ = call(t, h, http.MethodPost, "/plans", `{"finished_good_id":20,"quantity":"50"}`)
	require.Equal(t, http.StatusConflict, code)
	code, _ = call(t, h, http.MethodPost, "/plans", `{"quantity":"1"}`)
	require.Equal(t, http.StatusBadRequest, code)
	code, _ = call(t, h, http.MethodPost, "/plans", `{"finished_good_id":20,"quantity":"1","location_id":3}`)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	code, _ = call(t, h, http.MethodGet, "/batches/42", "")
	require.Equal(t, http.StatusNotFound, code)
	code, _ = call(t, h, http.MethodGet, "/batches?status=bogus", "")
	require.Equal(t, http.StatusBadRequest, code)

	code, recipe := call(t, h, http.MethodGet, "/recipes/21", "")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 30, recipe["timing_minutes"])
}
