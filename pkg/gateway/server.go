// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package gateway

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/niura/neurostream/pkg/api"
	"github.com/niura/neurostream/pkg/auth"
	"github.com/niura/neurostream/pkg/bus"
	"github.com/niura/neurostream/pkg/telemetry"
)

// Server wires the gateway HTTP surface: WebSockets, single-frame
// ingest and the authenticated reverse proxy.
type Server struct {
	verifier *auth.Verifier
	ws       *WS
	ingest   *Ingest
	proxy    *Proxy
	worker   Upstream
	core     Upstream
}

// NewServer assembles the gateway
func NewServer(verifier *auth.Verifier, producer *bus.Producer, proxy *Proxy, worker, core Upstream, eegHub, metricsHub *Hub) *Server {
	return &Server{
		verifier: verifier,
		ws:       NewWS(verifier, producer, eegHub, metricsHub),
		ingest:   NewIngest(producer),
		proxy:    proxy,
		worker:   worker,
		core:     core,
	}
}

// Router returns the gateway router. WebSocket routes authenticate
// inside the upgrade handshake; everything else carries a Bearer token
// except health and metrics.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/health", api.HealthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", telemetry.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/ws/eeg", s.ws.HandleEEG)
	r.HandleFunc("/ws/metrics", s.ws.HandleMetrics)

	authed := r.NewRoute().Subrouter()
	authed.Use(func(next http.Handler) http.Handler { return api.Auth(s.verifier, next) })

	authed.Handle("/eeg/data", s.ingest).Methods(http.MethodPost)

	// bulk uploads go to the worker, rewritten to its local paths
	authed.Handle("/eeg/bulk", s.proxy.Handler(s.worker, "/bulk", true)).Methods(http.MethodPost)
	authed.Handle("/eeg/bulk-fft", s.proxy.Handler(s.worker, "/bulk-fft", true)).Methods(http.MethodPost)

	// the read and session surface lives on the core service
	corePass := s.proxy.Handler(s.core, "", false)
	authed.PathPrefix("/eeg/").Handler(corePass)
	authed.PathPrefix("/sessions/").Handler(corePass)
	authed.PathPrefix("/admin/").Handler(corePass)
	authed.Handle("/aggregate-by-time-of-day", corePass).Methods(http.MethodGet)
	return r
}
