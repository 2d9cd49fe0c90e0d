package query

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/todo-1m/analytics/internal/analytics"
	"github.com/todo-1m/analytics/internal/platform/logger"
	"go.uber.org/zap"
)

const defaultWindowDays = 30

type Handler struct {
	Reports       *Reports
	AllowedOrigin string
	Location      *time.Location
	Now           func() time.Time
	Logger        *logger.Logger
}

func NewHandler(reports *Reports, allowedOrigin string, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{
		Reports:       reports,
		AllowedOrigin: allowedOrigin,
		Location:      time.UTC,
		Now:           time.Now,
		Logger:        log.WithComponent("analytics-api"),
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(h.corsMiddleware)
	r.Options("/*", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/api/v1/analytics/dashboard", h.handleDashboard)
	r.Get("/api/v1/analytics/tasks/summary", h.handleTaskSummary)
	r.Get("/api/v1/analytics/tasks/{taskID}", h.handleTask)
	r.Get("/api/v1/analytics/users/{userID}/tasks/summary", h.handleUserTaskSummary)
	r.Get("/api/v1/analytics/logins", h.handleLogins)
	r.Get("/api/v1/analytics/counters/{counterID}", h.handleCounter)
	r.Get("/api/v1/analytics/active-users", h.handleActiveUsers)
	return r
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	rng, ok := h.rangeFromQuery(w, r)
	if !ok {
		return
	}
	resp, err := h.Reports.Dashboard(r.Context(), rng)
	if err != nil {
		h.writeReportError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleTaskSummary(w http.ResponseWriter, r *http.Request) {
	rng, ok := h.rangeFromQuery(w, r)
	if !ok {
		return
	}
	resp, err := h.Reports.TaskSummary(r.Context(), rng)
	if err != nil {
		h.writeReportError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleUserTaskSummary(w http.ResponseWriter, r *http.Request) {
	rng, ok := h.rangeFromQuery(w, r)
	if !ok {
		return
	}
	resp, err := h.Reports.UserTaskSummary(r.Context(), chi.URLParam(r, "userID"), rng)
	if err != nil {
		h.writeReportError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleLogins(w http.ResponseWriter, r *http.Request) {
	rng, ok := h.rangeFromQuery(w, r)
	if !ok {
		return
	}
	resp, err := h.Reports.LoginAnalytics(r.Context(), rng)
	if err != nil {
		h.writeReportError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleTask(w http.ResponseWriter, r *http.Request) {
	m, err := h.Reports.Store.GetMirror(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		if errors.Is(err, analytics.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "task not found")
			return
		}
		h.writeReportError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, m)
}

func (h *Handler) handleCounter(w http.ResponseWriter, r *http.Request) {
	c, err := h.Reports.Store.GetCounter(r.Context(), chi.URLParam(r, "counterID"))
	if err != nil {
		if errors.Is(err, analytics.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "counter not found")
			return
		}
		h.writeReportError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, c)
}

type activeUsersResponse struct {
	Date  string                      `json:"date"`
	Count int                         `json:"count"`
	Users []analytics.DailyActiveUser `json:"users"`
}

func (h *Handler) handleActiveUsers(w http.ResponseWriter, r *http.Request) {
	day := analytics.Day(h.Now(), h.Location)
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		parsed, err := analytics.ParseDay(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		day = parsed
	}
	users, err := h.Reports.Store.ListActiveUsers(r.Context(), day)
	if err != nil {
		h.writeReportError(w, err)
		return
	}
	if users == nil {
		users = []analytics.DailyActiveUser{}
	}
	h.writeJSON(w, http.StatusOK, activeUsersResponse{Date: analytics.DayKey(day), Count: len(users), Users: users})
}

// rangeFromQuery reads startDate and endDate, defaulting to the last 30 days.
func (h *Handler) rangeFromQuery(w http.ResponseWriter, r *http.Request) (Range, bool) {
	today := analytics.Day(h.Now(), h.Location)
	rng := Range{From: today.AddDate(0, 0, -defaultWindowDays), To: today}
	q := r.URL.Query()
	for _, p := range []struct {
		keys []string
		dst  *time.Time
	}{
		{keys: []string{"startDate", "start_date"}, dst: &rng.From},
		{keys: []string{"endDate", "end_date"}, dst: &rng.To},
	} {
		raw := firstParam(q, p.keys...)
		if raw == "" {
			continue
		}
		day, err := analytics.ParseDay(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, p.keys[0]+" must be YYYY-MM-DD")
			return Range{}, false
		}
		*p.dst = day
	}
	return rng, true
}

func firstParam(q url.Values, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			return v
		}
	}
	return ""
}

func (h *Handler) writeReportError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUserIDRequired), errors.Is(err, ErrInvalidRange):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.Logger.Error("report query failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin, Access-Control-Request-Headers")
		w.Header().Set("Access-Control-Allow-Origin", h.allowedOriginForRequest(r.Header.Get("Origin")))
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		requestHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers"))
		if requestHeaders != "" {
			w.Header().Set("Access-Control-Allow-Headers", requestHeaders)
		} else {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) allowedOriginForRequest(requestOrigin string) string {
	allowed := strings.TrimSpace(h.AllowedOrigin)
	if allowed == "" || allowed == "*" {
		return "*"
	}
	origin := strings.TrimSpace(requestOrigin)
	if origin == "" {
		return allowed
	}
	if origin == allowed || isEquivalentLoopbackOrigin(origin, allowed) {
		return origin
	}
	return allowed
}

func isEquivalentLoopbackOrigin(originA, originB string) bool {
	a, err := url.Parse(originA)
	if err != nil {
		return false
	}
	b, err := url.Parse(originB)
	if err != nil {
		return false
	}
	if !isLoopbackHost(a.Hostname()) || !isLoopbackHost(b.Hostname()) {
		return false
	}
	if a.Port() != b.Port() {
		return false
	}
	return strings.EqualFold(a.Scheme, b.Scheme)
}

func isLoopbackHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
