// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/niura/neurostream/pkg/api"
	"github.com/niura/neurostream/pkg/auth"
	"github.com/niura/neurostream/pkg/bus"
	"github.com/niura/neurostream/pkg/eeg"
	"github.com/niura/neurostream/pkg/telemetry"
	"github.com/niura/neurostream/pkg/util/log"
)

const (
	wsWriteTimeout = 10 * time.Second
	// maximum accepted frame: 4 channels x 250 Hz x a few seconds of
	// JSON-encoded floats fits comfortably
	wsMaxFrameBytes = 1 << 20
)

// WS serves the two WebSocket endpoints: raw-frame ingress with echo
// broadcast, and the processed-metrics push channel.
type WS struct {
	verifier   *auth.Verifier
	producer   *bus.Producer
	eegHub     *Hub
	metricsHub *Hub
	upgrader   websocket.Upgrader
}

// NewWS builds the WebSocket layer on the raw-topic producer
func NewWS(verifier *auth.Verifier, producer *bus.Producer, eegHub, metricsHub *Hub) *WS {
	return &WS{
		verifier:   verifier,
		producer:   producer,
		eegHub:     eegHub,
		metricsHub: metricsHub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// tokens carry the trust, not origins
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// authenticate upgrades the connection and verifies the token query
// parameter. Failed auth closes the socket with policy violation (1008)
// so clients can tell bad credentials from transport errors.
func (ws *WS) authenticate(w http.ResponseWriter, r *http.Request) (*websocket.Conn, int64, bool) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already wrote the HTTP error
		return nil, 0, false
	}

	userID, err := ws.verifier.Verify(api.BearerToken(r))
	if err != nil {
		reason := "invalid token"
		if errors.Is(err, auth.ErrExpired) {
			reason = "token expired"
		}
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout)) //nolint:errcheck
		conn.Close()
		return nil, 0, false
	}

	conn.SetReadLimit(wsMaxFrameBytes)
	return conn, userID, true
}

// HandleEEG is the raw-frame ingress socket: every accepted frame is
// published to the raw topic and echoed to the user's eeg subscribers.
func (ws *WS) HandleEEG(w http.ResponseWriter, r *http.Request) {
	conn, userID, ok := ws.authenticate(w, r)
	if !ok {
		return
	}
	defer conn.Close()

	sub := ws.eegHub.Add(userID)
	defer ws.eegHub.Remove(sub)
	go ws.writePump(conn, sub)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugf("eeg socket for user %d closed: %v", userID, err)
			}
			return
		}

		var data eeg.RawData
		if err := json.Unmarshal(payload, &data); err != nil || len(data.Records) == 0 {
			log.Debugf("discarding malformed frame from user %d", userID)
			continue
		}

		batch := &eeg.RawBatch{UserID: userID, Data: data}
		if err := ws.producer.PublishRaw(r.Context(), batch); err != nil && err != bus.ErrDuplicate {
			log.Warnf("publishing ws frame for user %d: %v", userID, err)
			continue
		}
		telemetry.FramesIngested.WithLabelValues("websocket").Inc()

		echo, err := json.Marshal(map[string]interface{}{
			"type":    "EEG_FRAME",
			"user_id": userID,
			"count":   len(data.Records),
			"data":    data.Records,
		})
		if err == nil {
			ws.eegHub.Broadcast(userID, echo)
		}
	}
}

// HandleMetrics is the processed-metrics push socket. The read loop
// only watches for the close handshake.
func (ws *WS) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	conn, userID, ok := ws.authenticate(w, r)
	if !ok {
		return
	}
	defer conn.Close()

	sub := ws.metricsHub.Add(userID)
	defer ws.metricsHub.Remove(sub)
	go ws.writePump(conn, sub)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump drains the subscriber queue onto the connection. It exits
// when the hub closes the queue or a write fails; a failed write closes
// the connection, which also terminates the read loop.
func (ws *WS) writePump(conn *websocket.Conn, sub *Subscriber) {
	for payload := range sub.C {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)) //nolint:errcheck
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			conn.Close()
			return
		}
	}
}
