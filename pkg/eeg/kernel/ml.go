// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package kernel

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"

	"gonum.org/v1/gonum/floats"
)

// MLKernel is the legacy classifier-backed kernel. The underlying
// model is not reentrant, so Process serializes on an internal mutex;
// scale by instance count, not by sharing.
type MLKernel struct {
	fs    float64
	model *mindfulnessModel

	mu sync.Mutex
}

// mindfulnessModel is a logistic scorer over the 10-dim feature vector
// (per-band mean and standard deviation of the channel band powers).
type mindfulnessModel struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// defaultModel carries the coefficients shipped with the service,
// fitted offline on the mindfulness corpus.
var defaultModel = mindfulnessModel{
	Weights: []float64{
		-0.42, 0.18, 1.31, -0.77, -0.25,
		-0.11, 0.07, 0.64, -0.39, -0.13,
	},
	Bias: -0.08,
}

func (m *mindfulnessModel) score(features []float64) float64 {
	if len(features) != len(m.Weights) {
		return 0
	}
	z := m.Bias
	for i, w := range m.Weights {
		z += w * features[i]
	}
	concentration := 1 / (1 + math.Exp(-z))
	if !finite(concentration) {
		return 0
	}
	return concentration
}

// NewMLKernel builds the legacy kernel, loading model weights from
// cfg.ModelPath when set. A bad weight file falls back to the built-in
// coefficients.
func NewMLKernel(cfg Config) (*MLKernel, error) {
	k := &MLKernel{
		fs:    float64(cfg.SampleRate),
		model: &defaultModel,
	}
	if cfg.ModelPath != "" {
		model, err := loadModel(cfg.ModelPath)
		if err != nil {
			return nil, fmt.Errorf("loading kernel model from %s: %w", cfg.ModelPath, err)
		}
		k.model = model
	}
	return k, nil
}

func loadModel(path string) (*mindfulnessModel, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var model mindfulnessModel
	if err := json.Unmarshal(raw, &model); err != nil {
		return nil, err
	}
	if len(model.Weights) != 2*numBands {
		return nil, fmt.Errorf("model has %d weights, want %d", len(model.Weights), 2*numBands)
	}
	return &model, nil
}

// Method implements Kernel
func (k *MLKernel) Method() string { return "ml" }

// Process implements Kernel
func (k *MLKernel) Process(window [][]float64) (out Output) {
	defer recoverNeutral(k.Method(), &out)

	features, stressRatio := k.features(window)
	if features == nil {
		return Neutral
	}

	k.mu.Lock()
	concentration := k.model.score(features)
	k.mu.Unlock()

	out = Output{
		Focus:    round3(concentration * 3),
		Stress:   round3(stressRatio * 3),
		Wellness: round3(concentration * 100),
	}
	if !finite(out.Focus) || !finite(out.Stress) || !finite(out.Wellness) {
		return Neutral
	}
	return out
}

// features runs the two-pass filter chain and returns the 10-dim
// feature vector (band-power mean and std across channels) plus the
// beta/(alpha+beta) stress ratio.
func (k *MLKernel) features(window [][]float64) ([]float64, float64) {
	perChannel := make([][numBands]float64, 0, len(window))

	nperseg := int(2 * k.fs)
	for _, raw := range window {
		if len(raw) < nperseg/2 {
			continue
		}

		// first pass: wide band-pass plus mains removal
		x := make([]float64, len(raw))
		copy(x, raw)
		detrend(x)
		filtfilt(bandpass4(5, 50, k.fs), x)
		filtfilt([]biquad{notchBiquad(50, k.fs, 25)}, x)
		filtfilt([]biquad{notchBiquad(60, k.fs, 30)}, x)
		demean(x)

		// second pass on an independent copy, narrow band
		y := make([]float64, len(x))
		copy(y, x)
		filtfilt(bandpass4(1.5, 45, k.fs), y)

		freqs, psd := welch(y, k.fs, nperseg)
		if psd == nil {
			continue
		}
		perChannel = append(perChannel, bandPowers(freqs, psd))
	}
	if len(perChannel) == 0 {
		return nil, 0
	}

	features := make([]float64, 2*numBands)
	for b := 0; b < numBands; b++ {
		values := make([]float64, len(perChannel))
		for c := range perChannel {
			values[c] = perChannel[c][b]
		}
		mean := floats.Sum(values) / float64(len(values))
		var variance float64
		for _, v := range values {
			variance += (v - mean) * (v - mean)
		}
		features[b] = mean
		features[numBands+b] = math.Sqrt(variance / float64(len(values)))
	}

	alpha, beta := features[bandAlpha], features[bandBeta]
	var stressRatio float64
	if alpha+beta > 0 {
		stressRatio = beta / (alpha + beta)
	}
	return features, stressRatio
}
