// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package eeg holds the domain types shared across the pipeline: raw
// device samples, per-second metric records and the bus payloads that
// carry them.
package eeg

import (
	"time"
)

// Channels is the number of electrode channels per sample
const Channels = 4

// SampleRate is the device sampling frequency in Hz
const SampleRate = 250

// RawRecord is one multi-channel sample as sent by the device
type RawRecord struct {
	SampleIndex int       `json:"sample_index"`
	Timestamp   time.Time `json:"timestamp"`
	EEG         []float64 `json:"eeg"`
}

// RawData is the payload of one raw frame: a run of samples plus the
// processing window duration in seconds
type RawData struct {
	Records  []RawRecord `json:"records"`
	Duration int         `json:"duration"`
	Method   string      `json:"method,omitempty"`
}

// RawBatch is the message published on the raw topic. The partition key
// is the user id, which keeps per-user ordering end to end.
type RawBatch struct {
	UserID int64   `json:"user_id"`
	Data   RawData `json:"data"`
}

// FirstTimestamp returns the timestamp of the first sample, or zero
// when the batch is empty. It seeds the publish dedup key.
func (b *RawBatch) FirstTimestamp() time.Time {
	if len(b.Data.Records) == 0 {
		return time.Time{}
	}
	return b.Data.Records[0].Timestamp
}

// MetricRecord is one second of derived cognitive metrics. The *_label
// columns are numeric: focus and stress in [0,3], wellness in [0,100].
type MetricRecord struct {
	Timestamp     time.Time `json:"timestamp" db:"timestamp"`
	FocusLabel    float64   `json:"focus_label" db:"focus_label"`
	StressLabel   float64   `json:"stress_label" db:"stress_label"`
	WellnessLabel float64   `json:"wellness_label" db:"wellness_label"`
}

// ProcessedBatch is the message published on the processed topic: the
// ordered per-second records derived from one raw batch.
type ProcessedBatch struct {
	UserID  int64          `json:"user_id"`
	Records []MetricRecord `json:"records"`
}

// Latest returns the most recent record of the batch, or false when the
// batch is empty. Fan-out derives display labels from it.
func (b *ProcessedBatch) Latest() (MetricRecord, bool) {
	if len(b.Records) == 0 {
		return MetricRecord{}, false
	}
	return b.Records[len(b.Records)-1], true
}
