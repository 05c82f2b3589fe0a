// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package api holds the HTTP plumbing shared by the three services:
// JSON helpers, the error-to-status mapping and the health endpoint.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/niura/neurostream/pkg/status"
	"github.com/niura/neurostream/pkg/store"
	"github.com/niura/neurostream/pkg/util/log"
)

// StatusClientClosedRequest is the non-standard code reported when the
// client goes away before the upstream answers.
const StatusClientClosedRequest = 499

// Typed errors converted to HTTP statuses at the handler boundary
var (
	// ErrUnauthorized maps to 401
	ErrUnauthorized = errors.New("unauthorized")
	// ErrValidation maps to 400
	ErrValidation = errors.New("validation failed")
	// ErrUpstreamTimeout maps to 504
	ErrUpstreamTimeout = errors.New("upstream timeout")
	// ErrUpstreamUnreachable maps to 502
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
)

// WriteJSON writes v with the given status
func WriteJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("writing response: %v", err)
	}
}

// WriteDetail writes the {"detail": ...} error body used across the
// platform. Internal details never reach the client.
func WriteDetail(w http.ResponseWriter, statusCode int, detail string) {
	WriteJSON(w, statusCode, map[string]string{"detail": detail})
}

// WriteError maps a typed error to its response
func WriteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		WriteDetail(w, http.StatusUnauthorized, "invalid or missing credentials")
	case errors.Is(err, ErrValidation):
		WriteDetail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		WriteDetail(w, http.StatusNotFound, "not found")
	case errors.Is(err, ErrUpstreamTimeout):
		WriteDetail(w, http.StatusGatewayTimeout, "upstream timeout")
	case errors.Is(err, ErrUpstreamUnreachable):
		WriteDetail(w, http.StatusBadGateway, "upstream unreachable")
	default:
		log.Errorf("internal error: %v", err) //nolint:errcheck
		WriteDetail(w, http.StatusInternalServerError, "internal server error")
	}
}

// HealthHandler serves {"status":"ok"}, with the host blob on
// ?verbose=1.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("verbose") == "1" {
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"status": "ok",
			"host":   status.Get(),
		})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
