// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package kernel implements the signal-processing kernels turning raw
// multi-channel EEG windows into focus/stress/wellness metrics. Two
// interchangeable implementations exist: the FFT band-power kernel
// (preferred) and the legacy classifier-backed kernel. Both are pure
// and safe for concurrent use unless noted otherwise.
package kernel

import (
	"fmt"

	"github.com/niura/neurostream/pkg/telemetry"
	"github.com/niura/neurostream/pkg/util/log"
)

// Output is the scaled result of one kernel invocation: focus and
// stress in [0,3], wellness in [0,100].
type Output struct {
	Focus    float64
	Stress   float64
	Wellness float64
}

// Neutral is the output emitted when the kernel cannot produce a
// numeric result. The record is kept, the values are zero.
var Neutral = Output{}

// Kernel turns one window of channel data (channels x samples) into a
// metric output. Implementations never fail a batch: numeric errors
// degrade to Neutral.
type Kernel interface {
	Process(window [][]float64) Output
	Method() string
}

// Config selects and parametrizes a kernel implementation
type Config struct {
	// Method is "fft" or "ml"
	Method string
	// SampleRate in Hz
	SampleRate int
	// ADC conversion parameters, FFT kernel only
	Vref    float64
	Gain    float64
	ADCBits int
	// ModelPath optionally points to a JSON weight file, legacy kernel only
	ModelPath string
}

// New builds the kernel selected by cfg.Method
func New(cfg Config) (Kernel, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 250
	}
	switch cfg.Method {
	case "", "fft":
		return NewFFTKernel(cfg), nil
	case "ml":
		return NewMLKernel(cfg)
	default:
		return nil, fmt.Errorf("unknown kernel method %q", cfg.Method)
	}
}

// recoverNeutral converts a panic inside kernel math into a Neutral
// output. Filters and the PSD can hit NaN propagation or out-of-range
// indexing on degenerate windows; the pipeline keeps going.
func recoverNeutral(method string, out *Output) {
	if r := recover(); r != nil {
		log.Warnf("%s kernel recovered: %v, emitting neutral output", method, r)
		telemetry.KernelFailures.WithLabelValues(method).Inc()
		*out = Neutral
	}
}
