// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niura/neurostream/pkg/eeg"
	"github.com/niura/neurostream/pkg/eeg/kernel"
)

// stubKernel records the windows it was invoked with
type stubKernel struct {
	method  string
	out     kernel.Output
	windows [][][]float64
}

func (s *stubKernel) Process(window [][]float64) kernel.Output {
	s.windows = append(s.windows, window)
	return s.out
}

func (s *stubKernel) Method() string { return s.method }

// deviceRecords generates n samples at 250 Hz starting at start
func deviceRecords(start time.Time, n int) []eeg.RawRecord {
	records := make([]eeg.RawRecord, n)
	for i := range records {
		records[i] = eeg.RawRecord{
			SampleIndex: i,
			Timestamp:   start.Add(time.Duration(i) * time.Second / eeg.SampleRate),
			EEG:         []float64{1, 2, 3, 4},
		}
	}
	return records
}

func TestProcessBatchOneRecordPerSecond(t *testing.T) {
	stub := &stubKernel{method: "fft", out: kernel.Output{Focus: 2.1, Stress: 0.9, Wellness: 66}}
	p := NewProcessor(stub, eeg.SampleRate)

	start := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	batch := &eeg.RawBatch{
		UserID: 7,
		Data:   eeg.RawData{Records: deviceRecords(start, 500), Duration: 2},
	}

	out, err := p.ProcessBatch(context.Background(), batch)
	require.NoError(t, err)

	require.Len(t, out.Records, 2)
	assert.Equal(t, int64(7), out.UserID)
	assert.Equal(t, start, out.Records[0].Timestamp)
	assert.Equal(t, start.Add(time.Second), out.Records[1].Timestamp)
	assert.Equal(t, 2.1, out.Records[0].FocusLabel)
	assert.Equal(t, 0.9, out.Records[0].StressLabel)
	assert.Equal(t, 66.0, out.Records[0].WellnessLabel)

	// one kernel invocation per second bucket over a 500-sample window
	require.Len(t, stub.windows, 2)
	assert.Len(t, stub.windows[0], eeg.Channels)
	assert.Len(t, stub.windows[0][0], 500)
}

func TestProcessBatchTimestampAscendingOnShuffledInput(t *testing.T) {
	stub := &stubKernel{method: "fft"}
	p := NewProcessor(stub, eeg.SampleRate)

	start := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	records := deviceRecords(start, 750)
	// device retransmissions arrive out of order
	records[0], records[700] = records[700], records[0]

	out, err := p.ProcessBatch(context.Background(), &eeg.RawBatch{
		UserID: 7,
		Data:   eeg.RawData{Records: records, Duration: 2},
	})
	require.NoError(t, err)

	require.Len(t, out.Records, 3)
	for i := 1; i < len(out.Records); i++ {
		assert.True(t, out.Records[i].Timestamp.After(out.Records[i-1].Timestamp))
	}
}

func TestProcessBatchEmpty(t *testing.T) {
	p := NewProcessor(&stubKernel{method: "fft"}, eeg.SampleRate)

	out, err := p.ProcessBatch(context.Background(), &eeg.RawBatch{UserID: 7})
	require.NoError(t, err)
	assert.Empty(t, out.Records)
	assert.Equal(t, int64(7), out.UserID)
}

func TestProcessBatchAbortsOnCancelledContext(t *testing.T) {
	p := NewProcessor(&stubKernel{method: "fft"}, eeg.SampleRate)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	_, err := p.ProcessBatch(ctx, &eeg.RawBatch{
		UserID: 7,
		Data:   eeg.RawData{Records: deviceRecords(start, 250), Duration: 2},
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcessBatchSelectsKernelByMethod(t *testing.T) {
	fft := &stubKernel{method: "fft", out: kernel.Output{Focus: 1}}
	ml := &stubKernel{method: "ml", out: kernel.Output{Focus: 2}}
	p := NewProcessor(fft, eeg.SampleRate).Register(ml)

	start := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

	out, err := p.ProcessBatch(context.Background(), &eeg.RawBatch{
		UserID: 7,
		Data:   eeg.RawData{Records: deviceRecords(start, 250), Duration: 2, Method: "ml"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2.0, out.Records[0].FocusLabel)
	assert.Empty(t, fft.windows)

	// unknown method falls back to the default kernel
	out, err = p.ProcessBatch(context.Background(), &eeg.RawBatch{
		UserID: 7,
		Data:   eeg.RawData{Records: deviceRecords(start, 250), Duration: 2, Method: "other"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, out.Records[0].FocusLabel)
}

func TestWindowAroundClamping(t *testing.T) {
	// bucket at the start of the batch
	lo, hi := windowAround(secondBucket{start: 0, end: 250}, 500, 750)
	assert.Equal(t, 0, lo)
	assert.Equal(t, 500, hi)

	// bucket at the end
	lo, hi = windowAround(secondBucket{start: 500, end: 750}, 500, 750)
	assert.Equal(t, 250, lo)
	assert.Equal(t, 750, hi)

	// window wider than the batch
	lo, hi = windowAround(secondBucket{start: 0, end: 100}, 500, 100)
	assert.Equal(t, 0, lo)
	assert.Equal(t, 100, hi)
}

func TestChannelizeShortChannels(t *testing.T) {
	records := []eeg.RawRecord{
		{EEG: []float64{1, 2}},
		{EEG: []float64{3, 4, 5, 6}},
	}
	window := channelize(records)

	require.Len(t, window, eeg.Channels)
	assert.Equal(t, []float64{1, 3}, window[0])
	assert.Equal(t, []float64{0, 5}, window[2])
}
