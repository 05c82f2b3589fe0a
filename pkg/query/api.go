// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package query

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/niura/neurostream/pkg/aggregator"
	"github.com/niura/neurostream/pkg/api"
	"github.com/niura/neurostream/pkg/auth"
	"github.com/niura/neurostream/pkg/status"
	"github.com/niura/neurostream/pkg/store"
	"github.com/niura/neurostream/pkg/telemetry"
)

const defaultRecordsLimit = 100

// API is the core service's authenticated HTTP surface: the read-side
// queries, session tracking and the admin aggregation triggers.
type API struct {
	service  *Service
	store    *store.Store
	engine   *aggregator.Engine
	verifier *auth.Verifier
}

// NewAPI wires the query service HTTP layer
func NewAPI(service *Service, s *store.Store, engine *aggregator.Engine, verifier *auth.Verifier) *API {
	return &API{service: service, store: s, engine: engine, verifier: verifier}
}

// Router returns the core HTTP router. Everything except health and
// metrics requires a Bearer token.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/health", api.HealthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", telemetry.Handler()).Methods(http.MethodGet)

	authed := r.NewRoute().Subrouter()
	authed.Use(func(next http.Handler) http.Handler { return api.Auth(a.verifier, next) })

	authed.HandleFunc("/eeg/aggregate", a.handleAggregate).Methods(http.MethodGet)
	authed.HandleFunc("/eeg/best-focus-time", a.handleBestFocus).Methods(http.MethodGet)
	authed.HandleFunc("/eeg/latest", a.handleLatest).Methods(http.MethodGet)
	authed.HandleFunc("/eeg/records", a.handleRecords).Methods(http.MethodGet)
	authed.HandleFunc("/eeg/summary", a.handleSummary).Methods(http.MethodGet)
	authed.HandleFunc("/aggregate-by-time-of-day", a.handleTimeOfDay).Methods(http.MethodGet)

	authed.HandleFunc("/sessions/track", a.handleTrackSession).Methods(http.MethodPost)
	authed.HandleFunc("/sessions/history", a.handleSessionHistory).Methods(http.MethodGet)
	authed.HandleFunc("/sessions/{id:[0-9]+}/details", a.handleSessionDetails).Methods(http.MethodGet)

	authed.HandleFunc("/admin/aggregation/daily", a.handleAggregateDaily).Methods(http.MethodPost)
	authed.HandleFunc("/admin/aggregation/monthly", a.handleAggregateMonthly).Methods(http.MethodPost)
	authed.HandleFunc("/admin/aggregation/yearly", a.handleAggregateYearly).Methods(http.MethodPost)
	authed.HandleFunc("/admin/aggregation/status", a.handleAggregationStatus).Methods(http.MethodGet)
	return r
}

func (a *API) handleAggregate(w http.ResponseWriter, r *http.Request) {
	userID, _ := api.UserID(r.Context())
	series, err := a.service.RangeSeries(r.Context(), userID, r.URL.Query().Get("range"))
	if err != nil {
		api.WriteError(w, fmt.Errorf("%w: %v", api.ErrValidation, err))
		return
	}
	api.WriteJSON(w, http.StatusOK, series)
}

func (a *API) handleBestFocus(w http.ResponseWriter, r *http.Request) {
	userID, _ := api.UserID(r.Context())
	result, err := a.service.BestFocusTime(r.Context(), userID)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, result)
}

func (a *API) handleLatest(w http.ResponseWriter, r *http.Request) {
	userID, _ := api.UserID(r.Context())
	day := a.service.today()
	row, err := a.store.LatestRecord(r.Context(), userID, day, day.AddDate(0, 0, 1))
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, row)
}

func (a *API) handleRecords(w http.ResponseWriter, r *http.Request) {
	userID, _ := api.UserID(r.Context())
	limit := defaultRecordsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			api.WriteDetail(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	rows, err := a.store.RecentRecords(r.Context(), userID, limit)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	if rows == nil {
		rows = []store.MetricRow{}
	}
	api.WriteJSON(w, http.StatusOK, map[string]interface{}{"records": rows, "count": len(rows)})
}

func (a *API) handleSummary(w http.ResponseWriter, r *http.Request) {
	userID, _ := api.UserID(r.Context())
	day := a.service.today()
	summary, err := a.store.RecordSummary(r.Context(), userID, day, day.AddDate(0, 0, 1))
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"records_count": summary.Count,
		"focus":         round2(summary.Focus),
		"stress":        round2(summary.Stress),
		"wellness":      round2(summary.Wellness),
	})
}

func (a *API) handleTimeOfDay(w http.ResponseWriter, r *http.Request) {
	userID, _ := api.UserID(r.Context())
	buckets, err := a.service.TimeOfDayAggregate(r.Context(), userID)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]interface{}{"buckets": buckets})
}

// trackSessionRequest is the wire shape of POST sessions/track
type trackSessionRequest struct {
	SessionData struct {
		Label      string `json:"label"`
		Duration   *int   `json:"duration"`
		Timestamps []struct {
			Start time.Time  `json:"start"`
			End   *time.Time `json:"end"`
		} `json:"timestamps"`
	} `json:"session_data"`
}

func (a *API) handleTrackSession(w http.ResponseWriter, r *http.Request) {
	userID, _ := api.UserID(r.Context())

	var req trackSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteDetail(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.SessionData.Label == "" {
		api.WriteDetail(w, http.StatusBadRequest, "label is required")
		return
	}
	if len(req.SessionData.Timestamps) == 0 {
		api.WriteDetail(w, http.StatusBadRequest, "timestamps must not be empty")
		return
	}

	intervals := make([]Interval, 0, len(req.SessionData.Timestamps))
	for _, ts := range req.SessionData.Timestamps {
		iv := Interval{Start: ts.Start}
		if ts.End != nil {
			iv.End = *ts.End
		}
		intervals = append(intervals, iv)
	}

	summary, err := a.service.TrackSession(r.Context(), userID, req.SessionData.Label, req.SessionData.Duration, intervals)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, summary)
}

func (a *API) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	userID, _ := api.UserID(r.Context())
	rows, err := a.store.SessionHistory(r.Context(), userID, 10)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	if rows == nil {
		rows = []store.SessionRow{}
	}
	api.WriteJSON(w, http.StatusOK, map[string]interface{}{"sessions": rows, "count": len(rows)})
}

func (a *API) handleSessionDetails(w http.ResponseWriter, r *http.Request) {
	userID, _ := api.UserID(r.Context())
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		api.WriteDetail(w, http.StatusBadRequest, "bad session id")
		return
	}
	summary, err := a.service.SessionDetails(r.Context(), userID, id)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, summary)
}

func (a *API) handleAggregateDaily(w http.ResponseWriter, r *http.Request) {
	target := a.service.today().AddDate(0, 0, -1)
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			api.WriteDetail(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		target = parsed
	}
	result, err := a.engine.AggregateDaily(r.Context(), target, false)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, result)
}

func (a *API) handleAggregateMonthly(w http.ResponseWriter, r *http.Request) {
	year, err := intQuery(r, "year")
	if err != nil {
		api.WriteDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	month, err := intQuery(r, "month")
	if err != nil || month < 1 || month > 12 {
		api.WriteDetail(w, http.StatusBadRequest, "month must be 1-12")
		return
	}
	result, err := a.engine.AggregateMonthly(r.Context(), year, month)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, result)
}

func (a *API) handleAggregateYearly(w http.ResponseWriter, r *http.Request) {
	year, err := intQuery(r, "year")
	if err != nil {
		api.WriteDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := a.engine.AggregateYearly(r.Context(), year)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, result)
}

func (a *API) handleAggregationStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := a.store.TierCounts(r.Context())
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"tiers": counts,
		"host":  status.Get(),
	})
}

func intQuery(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}
