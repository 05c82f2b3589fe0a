// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package gateway

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"

	"github.com/niura/neurostream/pkg/eeg"
	"github.com/niura/neurostream/pkg/telemetry"
	"github.com/niura/neurostream/pkg/util/log"
)

// FanOut is the gateway's processed-topic handler: it converts the
// latest record of each batch into the PROCESSED_METRICS push message
// and broadcasts it to the user's metrics subscribers.
type FanOut struct {
	hub *Hub
}

// NewFanOut builds the fan-out on the metrics hub
func NewFanOut(hub *Hub) *FanOut {
	return &FanOut{hub: hub}
}

// metricValue pairs a numeric metric with its display label
type metricValue struct {
	Value float64 `json:"value"`
	Label string  `json:"label"`
}

// Handle implements the bus handler for the processed topic. Fan-out is
// best effort: decode failures and empty batches are acknowledged, a
// user without subscribers costs nothing.
func (f *FanOut) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var batch eeg.ProcessedBatch
	if err := json.Unmarshal(msg.Value, &batch); err != nil {
		log.Warnf("undecodable processed batch at %s/%d@%d: %v, dropping", msg.Topic, msg.Partition, msg.Offset, err)
		return nil
	}

	latest, ok := batch.Latest()
	if !ok {
		return nil
	}

	payload, err := json.Marshal(map[string]interface{}{
		"type":      "PROCESSED_METRICS",
		"user_id":   batch.UserID,
		"timestamp": latest.Timestamp,
		"metrics": map[string]metricValue{
			"focus":    {Value: latest.FocusLabel, Label: eeg.FocusDisplay(latest.FocusLabel)},
			"stress":   {Value: latest.StressLabel, Label: eeg.StressDisplay(latest.StressLabel)},
			"wellness": {Value: latest.WellnessLabel, Label: eeg.WellnessDisplay(latest.WellnessLabel)},
		},
	})
	if err != nil {
		return err
	}

	if delivered := f.hub.Broadcast(batch.UserID, payload); delivered > 0 {
		telemetry.FanOutDeliveries.Inc()
	}
	return nil
}
