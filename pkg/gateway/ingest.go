// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/niura/neurostream/pkg/api"
	"github.com/niura/neurostream/pkg/bus"
	"github.com/niura/neurostream/pkg/eeg"
	"github.com/niura/neurostream/pkg/telemetry"
	"github.com/niura/neurostream/pkg/util/log"
)

// singleFrameRequest is the body of POST eeg/data, used by side-channel
// devices that emit one sample at a time.
type singleFrameRequest struct {
	Timestamp  time.Time `json:"timestamp"`
	Channels   []float64 `json:"channels"`
	Attention  *float64  `json:"attention,omitempty"`
	Meditation *float64  `json:"meditation,omitempty"`
}

// Ingest serves the single-frame HTTP ingest straight onto the raw topic
type Ingest struct {
	producer *bus.Producer
}

// NewIngest builds the single-frame ingest on the raw-topic producer
func NewIngest(producer *bus.Producer) *Ingest {
	return &Ingest{producer: producer}
}

// ServeHTTP accepts one sample and publishes it as a one-record batch
func (i *Ingest) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, _ := api.UserID(r.Context())

	var req singleFrameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteDetail(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if len(req.Channels) == 0 {
		api.WriteDetail(w, http.StatusBadRequest, "channels must not be empty")
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}

	batch := &eeg.RawBatch{
		UserID: userID,
		Data: eeg.RawData{
			Records:  []eeg.RawRecord{{Timestamp: req.Timestamp, EEG: req.Channels}},
			Duration: 1,
		},
	}
	if err := i.producer.PublishRaw(r.Context(), batch); err != nil && err != bus.ErrDuplicate {
		log.Warnf("publishing single frame for user %d: %v", userID, err)
		api.WriteDetail(w, http.StatusBadGateway, "failed to enqueue frame")
		return
	}
	telemetry.FramesIngested.WithLabelValues("http").Inc()
	api.WriteJSON(w, http.StatusAccepted, map[string]string{"message": "frame queued for processing"})
}
