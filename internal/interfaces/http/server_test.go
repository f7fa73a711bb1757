package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idxquant/idxpulse/internal/config"
	"github.com/idxquant/idxpulse/internal/domain"
	"github.com/idxquant/idxpulse/internal/ingest"
	"github.com/idxquant/idxpulse/internal/review"
	"github.com/idxquant/idxpulse/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	cfg := config.Default().HTTP
	cfg.Port = 0 // ephemeral port for the availability check
	srv, err := NewServer(cfg, mem, review.NewReviewer(mem, nil), ingest.NewArena(), nil)
	require.NoError(t, err)
	return srv, mem
}

func do(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestSignalEndpoints(t *testing.T) {
	srv, mem := newTestServer(t)
	sig := domain.TradeSignal{
		ID:        "rec-2026-03-04-BBCA",
		Ticker:    "BBCA",
		Direction: domain.DirectionBuy,
	}
	require.NoError(t, mem.PublishSignal(context.Background(), sig))

	rec := do(srv, http.MethodGet, "/signals", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Equal(t, 1, listing.Count)

	rec = do(srv, http.MethodGet, "/signals/rec-2026-03-04-BBCA", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(srv, http.MethodGet, "/signals/rec-2026-03-04-ZZZZ", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostFeedback(t *testing.T) {
	srv, mem := newTestServer(t)
	require.NoError(t, mem.PublishSignal(context.Background(), domain.TradeSignal{ID: "rec-2026-03-04-TLKM"}))

	at := time.Date(2026, 3, 4, 17, 0, 0, 0, time.UTC).Format(time.RFC3339)
	body := `{"signal_id":"rec-2026-03-04-TLKM","verdict":"invalid","note":"entry stale","verdict_at":"` + at + `"}`
	rec := do(srv, http.MethodPost, "/feedback", body)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = do(srv, http.MethodPost, "/feedback", `{"signal_id":"rec-2026-03-04-ZZZZ","verdict":"valid"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(srv, http.MethodPost, "/feedback", `{"signal_id":"rec-2026-03-04-TLKM","verdict":"maybe"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(srv, http.MethodPost, "/feedback", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTasksEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.tasks.Create("src-1", domain.MediaNews)

	rec := do(srv, http.MethodGet, "/tasks", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Equal(t, 1, listing.Count)
}
