package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourname/sleepstreak/internal"
	"github.com/yourname/sleepstreak/internal/auth"
	"github.com/yourname/sleepstreak/internal/fitness"
	"github.com/yourname/sleepstreak/internal/motion"
	"github.com/yourname/sleepstreak/internal/service"
	"github.com/yourname/sleepstreak/internal/sleepcalc"
	"github.com/yourname/sleepstreak/internal/storage"
)

type stubProvider struct{ authorized bool }

func (p stubProvider) Authorize(ctx context.Context) (bool, error) { return p.authorized, nil }

func (p stubProvider) QuerySleep(ctx context.Context, start, end time.Time) ([]fitness.Interval, error) {
	return []fitness.Interval{{Start: start, End: start.Add(400 * time.Minute)}}, nil
}

type stubFactory struct{ authorized bool }

func (f stubFactory) ForToken(string) fitness.Provider { return stubProvider(f) }

type testServer struct {
	router *gin.Engine
	store  *storage.MemoryStorage
	now    time.Time
}

func setupRouter(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ts := &testServer{store: storage.NewMemoryStorage(), now: time.Date(2026, 3, 9, 22, 0, 0, 0, time.UTC)}
	ts.store.SetClock(func() time.Time { return ts.now })

	logger := internal.NopLogger()
	monitor := motion.NewReportedMonitor()
	tracker := service.NewTracker(service.TrackerDeps{
		Sessions:   ts.store,
		Users:      ts.store,
		Calculator: sleepcalc.NewCalculator(time.Second, logger),
		Monitor:    monitor,
		Fitness:    stubFactory{authorized: true},
		Logger:     logger,
	})
	app := NewApp(Deps{
		Logger:      logger,
		Tracker:     tracker,
		Users:       ts.store,
		Fitness:     stubFactory{authorized: true},
		Permissions: monitor,
	})

	r := gin.New()
	r.Use(RequestIDMiddleware(), AccessLogMiddleware(logger))
	RegisterRoutes(r, app, auth.AuthMiddleware(auth.NewLocalAuthProvider("MOCK-TOKEN", ts.store, logger), logger))
	ts.router = r
	return ts
}

type envelope struct {
	Data  json.RawMessage    `json:"data"`
	Meta  map[string]any     `json:"meta"`
	Error *internal.AppError `json:"error"`
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer MOCK-TOKEN")
	req.Header.Set("Content-Type", "application/json")
	ts.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func decodeSession(t *testing.T, raw json.RawMessage) internal.SleepSession {
	t.Helper()
	var s internal.SleepSession
	require.NoError(t, json.Unmarshal(raw, &s))
	return s
}

func TestHealthzIsPublic(t *testing.T) {
	ts := setupRouter(t)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestUnauthorized(t *testing.T) {
	ts := setupRouter(t)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/sleep/active", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSleepLifecycle(t *testing.T) {
	ts := setupRouter(t)

	w, env := ts.do(t, http.MethodGet, "/v1/sleep/active", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "null", string(env.Data))
	assert.Equal(t, false, env.Meta["active"])

	w, env = ts.do(t, http.MethodPost, "/v1/sleep/start", `{"motion_permission":"granted"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	started := decodeSession(t, env.Data)
	assert.True(t, started.Active)

	w, env = ts.do(t, http.MethodPost, "/v1/sleep/start", `{"motion_permission":"granted"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, http.StatusConflict, env.Error.Code)

	w, _ = ts.do(t, http.MethodPost, "/v1/sleep/motion", `{"samples":[{"acceleration":{"x":0.25,"y":0,"z":0},"rotation_rate":{"x":0,"y":0,"z":0}}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = ts.do(t, http.MethodPost, "/v1/sleep/motion", `{"samples":[{"acceleration":{"x":0.1,"y":0,"z":0},"rotation_rate":{"x":0.1,"y":0,"z":0}}]}`)
	require.Equal(t, http.StatusOK, w.Code)

	w, env = ts.do(t, http.MethodGet, "/v1/sleep/active", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decodeSession(t, env.Data).DisturbanceCount)

	ts.now = ts.now.Add(8 * time.Hour)
	w, env = ts.do(t, http.MethodPost, "/v1/sleep/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	closed := decodeSession(t, env.Data)
	assert.False(t, closed.Active)
	assert.Equal(t, 480, *closed.TotalSleepMinutes)
	assert.Equal(t, 465, *closed.NetSleepMinutes)

	w, _ = ts.do(t, http.MethodPost, "/v1/sleep/stop", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Stopping the same session by id is idempotent.
	w, env = ts.do(t, http.MethodPost, "/v1/sleep/stop", `{"session_id":"`+started.ID+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 465, *decodeSession(t, env.Data).NetSleepMinutes)

	w, env = ts.do(t, http.MethodGet, "/v1/sleep/history?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, env.Meta["count"])
}

func TestStartValidation(t *testing.T) {
	ts := setupRouter(t)

	w, _ := ts.do(t, http.MethodPost, "/v1/sleep/start", `{"motion_permission":"denied"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = ts.do(t, http.MethodPost, "/v1/sleep/start", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = ts.do(t, http.MethodPost, "/v1/sleep/start", `{"motion_permission":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = ts.do(t, http.MethodPost, "/v1/sleep/motion", `{"samples":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = ts.do(t, http.MethodPost, "/v1/sleep/motion", `{"samples":[{}]}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = ts.do(t, http.MethodGet, "/v1/sleep/history?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTrackingAndStreak(t *testing.T) {
	ts := setupRouter(t)

	w, env := ts.do(t, http.MethodGet, "/v1/streak", "")
	require.Equal(t, http.StatusOK, w.Code)
	var st internal.UserStreakState
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, "u1", st.UserID)
	assert.Equal(t, 0, st.StreakCount)

	w, _ = ts.do(t, http.MethodPut, "/v1/tracking", `{"source":"external_fitness"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = ts.do(t, http.MethodPut, "/v1/tracking", `{"source":"external_fitness","fitness_token":"fit"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, string(env.Data), "MOCK-TOKEN")
	var p Profile
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, internal.SourceExternalFitness, p.TrackingSource)

	// The external path takes net sleep from the provider.
	w, _ = ts.do(t, http.MethodPost, "/v1/sleep/start", `{"motion_permission":"granted"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	ts.now = ts.now.Add(8 * time.Hour)
	w, env = ts.do(t, http.MethodPost, "/v1/sleep/stop", `{"fitness_token":"fit"}`)
	require.Equal(t, http.StatusOK, w.Code)
	closed := decodeSession(t, env.Data)
	assert.Equal(t, 400, *closed.NetSleepMinutes)
	assert.Equal(t, internal.SourceExternalFitness, closed.TrackingSource)
}

func TestSamplingDefaults(t *testing.T) {
	ts := setupRouter(t)

	w, env := ts.do(t, http.MethodGet, "/v1/sleep/sampling", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]float64
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, 5.0, got["window_seconds"])
	assert.Equal(t, 1.0, got["interval_seconds"])
	assert.Equal(t, 900.0, got["cadence_seconds"])
	assert.Equal(t, 0.2, got["acceleration_threshold"])
}
