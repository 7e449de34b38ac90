package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/echoes/backend/internal/events"
	"github.com/zhouzirui/echoes/backend/internal/model/profile"
	"github.com/zhouzirui/echoes/backend/internal/model/session"
	"github.com/zhouzirui/echoes/backend/internal/scheduler"
	sessionService "github.com/zhouzirui/echoes/backend/internal/service/session"
	uploadService "github.com/zhouzirui/echoes/backend/internal/service/upload"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	clock := scheduler.NewManual(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	store := profile.NewMemoryStore(profile.Seed())
	bus := events.NewMemoryBus()
	mgr := sessionService.NewManager(sessionService.ManagerOptions{Profiles: store, Scheduler: clock, Events: bus})
	uploads := uploadService.NewController(uploadService.Options{Profiles: store, Scheduler: clock})
	t.Cleanup(func() {
		uploads.Close()
		mgr.Stop(context.Background())
		_ = bus.Close()
	})
	return NewRouter(Deps{Profiles: store, Sessions: mgr, Events: bus, Uploads: uploads})
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(t)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"status":"ok"}`, resp.Body.String())
}

func TestRouterMountsAPI(t *testing.T) {
	r := newTestRouter(t)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/profiles", nil))
	require.Equal(t, http.StatusOK, resp.Code)

	body, _ := json.Marshal(sessionService.CreateRequest{ProfileID: "sarah", Variant: session.Chat})
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, resp.Code)
	var snap session.Snapshot
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &snap))

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/sessions/"+snap.ID, nil))
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/uploads/missing", nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestRouterAppliesCORS(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/sessions", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusNoContent, resp.Code)
	assert.Equal(t, "http://localhost:5173", resp.Header().Get("Access-Control-Allow-Origin"))
}
