// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package worker

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/niura/neurostream/pkg/api"
	"github.com/niura/neurostream/pkg/bus"
	"github.com/niura/neurostream/pkg/eeg"
	"github.com/niura/neurostream/pkg/telemetry"
	"github.com/niura/neurostream/pkg/util/log"
)

// default processing window per ingest path, in seconds
const (
	defaultBulkDuration = 4
	defaultFFTDuration  = 2
)

// API is the worker's HTTP surface: the bulk ingest endpoints the
// gateway proxies to, plus health and metrics.
type API struct {
	producer *bus.Producer
}

// NewAPI builds the worker API on the raw-topic producer
func NewAPI(producer *bus.Producer) *API {
	return &API{producer: producer}
}

// Router returns the worker HTTP router
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/bulk", a.handleBulk).Methods(http.MethodPost)
	r.HandleFunc("/bulk-fft", a.handleBulkFFT).Methods(http.MethodPost)
	r.HandleFunc("/api/health", api.HealthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", telemetry.Handler()).Methods(http.MethodGet)
	return r
}

// bulkRequest is the ingest body shared by both endpoints
type bulkRequest struct {
	UserID   int64           `json:"user_id"`
	Records  []eeg.RawRecord `json:"records"`
	Duration int             `json:"duration"`
}

func (a *API) handleBulk(w http.ResponseWriter, r *http.Request) {
	batch, ok := a.acceptBatch(w, r, "ml", defaultBulkDuration)
	if !ok {
		return
	}
	api.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"message":       "records queued for processing",
		"records_count": len(batch.Data.Records),
		"duration":      batch.Data.Duration,
	})
}

func (a *API) handleBulkFFT(w http.ResponseWriter, r *http.Request) {
	batch, ok := a.acceptBatch(w, r, "fft", defaultFFTDuration)
	if !ok {
		return
	}
	api.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"message":           "records queued for processing",
		"records_count":     len(batch.Data.Records),
		"duration":          batch.Data.Duration,
		"processing_method": "FFT",
		"status":            "queued",
	})
}

// acceptBatch validates the body, resolves the user and publishes the
// batch to the raw topic. The user comes from the x-user-id header the
// gateway injects, falling back to the body for direct device posts.
func (a *API) acceptBatch(w http.ResponseWriter, r *http.Request, method string, defaultDuration int) (*eeg.RawBatch, bool) {
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteDetail(w, http.StatusBadRequest, "malformed request body")
		return nil, false
	}
	if len(req.Records) == 0 {
		api.WriteDetail(w, http.StatusBadRequest, "records must not be empty")
		return nil, false
	}

	userID := req.UserID
	if header := r.Header.Get("x-user-id"); header != "" {
		id, err := strconv.ParseInt(header, 10, 64)
		if err != nil {
			api.WriteDetail(w, http.StatusBadRequest, "bad x-user-id header")
			return nil, false
		}
		userID = id
	}
	if userID == 0 {
		api.WriteDetail(w, http.StatusBadRequest, "user_id is required")
		return nil, false
	}

	duration := req.Duration
	if duration <= 0 {
		duration = defaultDuration
	}

	batch := &eeg.RawBatch{
		UserID: userID,
		Data: eeg.RawData{
			Records:  req.Records,
			Duration: duration,
			Method:   method,
		},
	}
	if err := a.producer.PublishRaw(r.Context(), batch); err != nil {
		if err == bus.ErrDuplicate {
			// replayed client upload, report success without re-enqueueing
			log.Debugf("duplicate bulk upload for user %d dropped", userID)
			return batch, true
		}
		api.WriteDetail(w, http.StatusBadGateway, "failed to enqueue records")
		return nil, false
	}
	telemetry.FramesIngested.WithLabelValues("http").Inc()
	return batch, true
}
