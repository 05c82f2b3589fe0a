// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package worker runs the CPU-bound half of the pipeline: a pool of
// kernel lanes consuming raw batches from the bus and publishing one
// processed batch per raw batch. Lanes are keyed by user id so the
// per-user record order is preserved end to end.
package worker

import (
	"context"
	"sort"
	"time"

	"github.com/niura/neurostream/pkg/eeg"
	"github.com/niura/neurostream/pkg/eeg/kernel"
)

// Processor turns one raw batch into per-second metric records. The
// batch's method field selects among the registered kernels; batches
// without a method use the configured default.
type Processor struct {
	kernels    map[string]kernel.Kernel
	fallback   kernel.Kernel
	sampleRate int
}

// NewProcessor builds a processor with the default kernel
func NewProcessor(def kernel.Kernel, sampleRate int) *Processor {
	if sampleRate <= 0 {
		sampleRate = eeg.SampleRate
	}
	return &Processor{
		kernels:    map[string]kernel.Kernel{def.Method(): def},
		fallback:   def,
		sampleRate: sampleRate,
	}
}

// Register adds an alternative kernel selectable by batch method
func (p *Processor) Register(k kernel.Kernel) *Processor {
	p.kernels[k.Method()] = k
	return p
}

func (p *Processor) kernelFor(method string) kernel.Kernel {
	if k, ok := p.kernels[method]; ok {
		return k
	}
	return p.fallback
}

// secondBucket groups the record indexes of one wall-clock second
type secondBucket struct {
	second     time.Time
	start, end int
}

// ProcessBatch invokes the kernel once per second-aligned bucket over
// a window of duration x sampleRate samples centered on the bucket,
// and emits one metric record per second in ascending order. The
// context is checked between buckets so a soft deadline can abort a
// long batch.
func (p *Processor) ProcessBatch(ctx context.Context, batch *eeg.RawBatch) (*eeg.ProcessedBatch, error) {
	records := batch.Data.Records
	if len(records) == 0 {
		return &eeg.ProcessedBatch{UserID: batch.UserID}, nil
	}

	duration := batch.Data.Duration
	if duration <= 0 {
		duration = 2
	}
	windowSize := duration * p.sampleRate

	sorted := make([]eeg.RawRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	buckets := bucketBySecond(sorted)
	k := p.kernelFor(batch.Data.Method)
	out := &eeg.ProcessedBatch{
		UserID:  batch.UserID,
		Records: make([]eeg.MetricRecord, 0, len(buckets)),
	}

	for _, bucket := range buckets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lo, hi := windowAround(bucket, windowSize, len(sorted))
		window := channelize(sorted[lo:hi])
		result := k.Process(window)

		out.Records = append(out.Records, eeg.MetricRecord{
			Timestamp:     bucket.second,
			FocusLabel:    result.Focus,
			StressLabel:   result.Stress,
			WellnessLabel: result.Wellness,
		})
	}
	return out, nil
}

// bucketBySecond splits sorted records into runs sharing the same
// wall-clock second.
func bucketBySecond(sorted []eeg.RawRecord) []secondBucket {
	var buckets []secondBucket
	for i := 0; i < len(sorted); {
		second := sorted[i].Timestamp.UTC().Truncate(time.Second)
		j := i + 1
		for j < len(sorted) && sorted[j].Timestamp.UTC().Truncate(time.Second).Equal(second) {
			j++
		}
		buckets = append(buckets, secondBucket{second: second, start: i, end: j})
		i = j
	}
	return buckets
}

// windowAround centers a windowSize-wide index range on the bucket,
// clamped to the batch bounds.
func windowAround(bucket secondBucket, windowSize, n int) (int, int) {
	center := (bucket.start + bucket.end) / 2
	lo := center - windowSize/2
	if lo < 0 {
		lo = 0
	}
	hi := lo + windowSize
	if hi > n {
		hi = n
		lo = hi - windowSize
		if lo < 0 {
			lo = 0
		}
	}
	return lo, hi
}

// channelize transposes records into per-channel sample runs
func channelize(records []eeg.RawRecord) [][]float64 {
	window := make([][]float64, eeg.Channels)
	for c := range window {
		window[c] = make([]float64, len(records))
	}
	for i, r := range records {
		for c := 0; c < eeg.Channels && c < len(r.EEG); c++ {
			window[c][i] = r.EEG[c]
		}
	}
	return window
}
