// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niura/neurostream/pkg/auth"
	"github.com/niura/neurostream/pkg/bus"
	"github.com/niura/neurostream/pkg/eeg"
)

type wsFixture struct {
	server     *httptest.Server
	producer   *mocks.SyncProducer
	eegHub     *Hub
	metricsHub *Hub
	token      string
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	verifier, err := auth.NewVerifier("test-secret", "niura-gateway", "niura-services")
	require.NoError(t, err)
	token, err := verifier.Create(7, time.Hour)
	require.NoError(t, err)

	producer := mocks.NewSyncProducer(t, nil)
	opts := bus.Options{Broker: "localhost:9092", Local: true, RawTopic: "eeg.raw.data", ProcessedTopic: "eeg.processed.data"}

	eegHub, metricsHub := NewHub("eeg"), NewHub("metrics")
	ws := NewWS(verifier, bus.NewProducerFromClient(producer, opts), eegHub, metricsHub)

	router := http.NewServeMux()
	router.HandleFunc("/ws/eeg", ws.HandleEEG)
	router.HandleFunc("/ws/metrics", ws.HandleMetrics)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &wsFixture{server: server, producer: producer, eegHub: eegHub, metricsHub: metricsHub, token: token}
}

func (f *wsFixture) dial(t *testing.T, path, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + path + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWSRejectsBadToken(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t, "/ws/metrics", "garbage")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}

func TestWSMetricsPush(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t, "/ws/metrics", f.token)

	require.Eventually(t, func() bool { return f.metricsHub.Count(7) == 1 }, 2*time.Second, 10*time.Millisecond)
	f.metricsHub.Broadcast(7, []byte(`{"type":"PROCESSED_METRICS"}`))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(payload), "PROCESSED_METRICS")
}

func TestWSEEGFrameIsPublishedAndEchoed(t *testing.T) {
	f := newWSFixture(t)
	f.producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		value, err := msg.Value.Encode()
		require.NoError(t, err)
		var batch eeg.RawBatch
		require.NoError(t, json.Unmarshal(value, &batch))
		assert.Equal(t, int64(7), batch.UserID)
		assert.Len(t, batch.Data.Records, 1)
		return nil
	})

	conn := f.dial(t, "/ws/eeg", f.token)
	require.Eventually(t, func() bool { return f.eegHub.Count(7) == 1 }, 2*time.Second, 10*time.Millisecond)

	frame := `{"records":[{"sample_index":0,"timestamp":"2025-03-15T10:00:00Z","eeg":[1,2,3,4]}],"duration":2}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var echo struct {
		Type   string          `json:"type"`
		UserID int64           `json:"user_id"`
		Count  int             `json:"count"`
		Data   []eeg.RawRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(payload, &echo))
	assert.Equal(t, "EEG_FRAME", echo.Type)
	assert.Equal(t, int64(7), echo.UserID)
	assert.Equal(t, 1, echo.Count)
	require.Len(t, echo.Data, 1)
}

func TestWSMalformedFrameIsDiscarded(t *testing.T) {
	f := newWSFixture(t)
	// no producer expectation: a publish would fail the test

	conn := f.dial(t, "/ws/eeg", f.token)
	require.Eventually(t, func() bool { return f.eegHub.Count(7) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond)) //nolint:errcheck
	_, _, err := conn.ReadMessage()
	assert.Error(t, err) // nothing echoed
}
