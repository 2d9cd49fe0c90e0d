package query

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/todo-1m/analytics/internal/analytics"
	"github.com/todo-1m/analytics/internal/analytics/memstore"
	"github.com/todo-1m/analytics/internal/platform/logger"
)

var handlerNow = time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T) (*Handler, *memstore.Store) {
	t.Helper()
	s := memstore.New()
	h := NewHandler(NewReports(s), "http://localhost:3000", logger.Nop())
	h.Now = func() time.Time { return handlerNow }
	return h, s
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHandler_TaskSummaryDefaultsToLast30Days(t *testing.T) {
	h, s := newTestHandler(t)
	seedTasks(t, s)

	rec := get(t, h.Router(), "/api/v1/analytics/tasks/summary")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body TaskSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "2025-02-01", body.StartDate)
	assert.Equal(t, "2025-03-03", body.EndDate)
	assert.Equal(t, int64(5), body.TotalTasks)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestHandler_ExplicitRange(t *testing.T) {
	h, s := newTestHandler(t)
	seedTasks(t, s)

	rec := get(t, h.Router(), "/api/v1/analytics/tasks/summary?startDate=2025-03-01&endDate=2025-03-02")
	require.Equal(t, http.StatusOK, rec.Code)
	var body TaskSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(4), body.TotalTasks)
}

func TestHandler_BadRequests(t *testing.T) {
	h, _ := newTestHandler(t)
	router := h.Router()

	for _, target := range []string{
		"/api/v1/analytics/tasks/summary?startDate=03-01-2025",
		"/api/v1/analytics/logins?startDate=2025-03-05&endDate=2025-03-01",
		"/api/v1/analytics/active-users?date=yesterday",
	} {
		rec := get(t, router, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestHandler_UserSummaryAndDashboard(t *testing.T) {
	h, s := newTestHandler(t)
	require.NoError(t, s.PutUserTaskStats(context.Background(), analytics.UserTaskStatistics{
		UserID:     "u1",
		Date:       analytics.Day(handlerNow, time.UTC),
		TaskCounts: analytics.TaskCounts{Total: 2, Completed: 2},
	}))
	router := h.Router()

	rec := get(t, router, "/api/v1/analytics/users/u1/tasks/summary")
	require.Equal(t, http.StatusOK, rec.Code)
	var user UserTaskSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	assert.Equal(t, "u1", user.UserID)
	assert.InDelta(t, 100.0, user.CompletionPercentage, 0.001)

	rec = get(t, router, "/api/v1/analytics/dashboard")
	require.Equal(t, http.StatusOK, rec.Code)
	var dash Dashboard
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dash))
	require.Len(t, dash.TopUsers, 1)
}

func TestHandler_TaskAndCounterLookups(t *testing.T) {
	h, s := newTestHandler(t)
	ctx := context.Background()
	_, err := s.UpsertMirror(ctx, analytics.TaskMirror{TaskID: "t1", Title: "Write docs"})
	require.NoError(t, err)
	_, err = s.IncrementCounter(ctx, analytics.CounterTasks, 3, handlerNow)
	require.NoError(t, err)
	router := h.Router()

	rec := get(t, router, "/api/v1/analytics/tasks/t1")
	require.Equal(t, http.StatusOK, rec.Code)
	var m analytics.TaskMirror
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, "Write docs", m.Title)

	assert.Equal(t, http.StatusNotFound, get(t, router, "/api/v1/analytics/tasks/missing").Code)

	rec = get(t, router, "/api/v1/analytics/counters/tasks")
	require.Equal(t, http.StatusOK, rec.Code)
	var c analytics.GlobalCounter
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	assert.Equal(t, int64(3), c.Total)

	assert.Equal(t, http.StatusNotFound, get(t, router, "/api/v1/analytics/counters/users").Code)
}

func TestHandler_ActiveUsers(t *testing.T) {
	h, s := newTestHandler(t)
	_, err := s.TouchActiveUser(context.Background(), "alice", analytics.Day(handlerNow, time.UTC), 2)
	require.NoError(t, err)
	router := h.Router()

	rec := get(t, router, "/api/v1/analytics/active-users")
	require.Equal(t, http.StatusOK, rec.Code)
	var body activeUsersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "2025-03-03", body.Date)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, int64(2), body.Users[0].LoginCount)

	rec = get(t, router, "/api/v1/analytics/active-users?date=2025-01-01")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Zero(t, body.Count)
	assert.NotNil(t, body.Users)
}

func TestHandler_CORS(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/analytics/dashboard", nil)
	req.Header.Set("Origin", "http://127.0.0.1:3000")
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://127.0.0.1:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}
