// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package eeg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDisplayLabels(t *testing.T) {
	tests := []struct {
		focus, stress, wellness float64
		wantFocus               string
		wantStress              string
		wantWellness            string
	}{
		{2.7, 1.2, 55, "High", "Low", "Fair"},
		{2.5, 2.5, 70, "High", "High", "Good"},
		{1.5, 1.49, 40, "Medium", "Low", "Fair"},
		{0, 0, 0, "Low", "Low", "Poor"},
		{3, 3, 100, "High", "High", "Good"},
		{1.8, 2.9, 39.9, "Medium", "High", "Poor"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.wantFocus, FocusDisplay(tt.focus))
		assert.Equal(t, tt.wantStress, StressDisplay(tt.stress))
		assert.Equal(t, tt.wantWellness, WellnessDisplay(tt.wellness))
	}
}

func TestRawBatchFirstTimestamp(t *testing.T) {
	empty := RawBatch{UserID: 7}
	assert.True(t, empty.FirstTimestamp().IsZero())

	ts := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	batch := RawBatch{UserID: 7, Data: RawData{Records: []RawRecord{{Timestamp: ts}}}}
	assert.Equal(t, ts, batch.FirstTimestamp())
}

func TestProcessedBatchLatest(t *testing.T) {
	var empty ProcessedBatch
	_, ok := empty.Latest()
	assert.False(t, ok)

	batch := ProcessedBatch{Records: []MetricRecord{
		{FocusLabel: 1},
		{FocusLabel: 2.7},
	}}
	latest, ok := batch.Latest()
	assert.True(t, ok)
	assert.Equal(t, 2.7, latest.FocusLabel)
}
