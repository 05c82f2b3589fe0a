// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package kernel

import (
	"math"
)

// epsilon guards every ratio denominator
const epsilon = 1e-10

// scaling ranges for the FFT kernel ratios
var (
	focusRange      = [2]float64{0.3, 2.5}
	stressRange     = [2]float64{0.5, 4.0}
	readinessRange  = [2]float64{0.2, 2.5}
	drowsinessRange = [2]float64{0.3, 3.0}
)

// FFTKernel derives metrics from relative band powers without a model.
// It is stateless and safe for concurrent use.
type FFTKernel struct {
	fs       float64
	adcScale float64
}

// NewFFTKernel builds the FFT kernel from the ADC parameters in cfg
func NewFFTKernel(cfg Config) *FFTKernel {
	vref, gain, bits := cfg.Vref, cfg.Gain, cfg.ADCBits
	if vref == 0 {
		vref = 4.5
	}
	if gain == 0 {
		gain = 24
	}
	if bits == 0 {
		bits = 24
	}
	return &FFTKernel{
		fs:       float64(cfg.SampleRate),
		adcScale: vref / (gain * (math.Pow(2, float64(bits-1)) - 1)) * 1e6,
	}
}

// Method implements Kernel
func (k *FFTKernel) Method() string { return "fft" }

// Process implements Kernel. The window is channels x samples in raw
// ADC counts.
func (k *FFTKernel) Process(window [][]float64) (out Output) {
	defer recoverNeutral(k.Method(), &out)

	rel := k.relativeBandPowers(window)
	if rel == ([numBands]float64{}) {
		return Neutral
	}

	r := Ratios(rel)
	out = Output{
		Focus:    scaleTo(r.Focus, focusRange, 3),
		Stress:   scaleTo(r.Stress, stressRange, 3),
		Wellness: scaleTo(r.Readiness, readinessRange, 100),
	}
	if !finite(out.Focus) || !finite(out.Stress) || !finite(out.Wellness) {
		return Neutral
	}
	return out
}

// BandRatios holds the raw spectral ratios before scaling. Readiness
// maps to the persisted wellness metric; drowsiness is its inverse
// trend and feeds display-only consumers.
type BandRatios struct {
	Focus      float64
	Stress     float64
	Readiness  float64
	Drowsiness float64
}

// Ratios derives the spectral ratios from relative band powers
func Ratios(rel [numBands]float64) BandRatios {
	alpha, beta, theta, delta := rel[bandAlpha], rel[bandBeta], rel[bandTheta], rel[bandDelta]
	// no dedicated high-beta band on this montage, approximate from beta
	highBeta := 0.5 * beta

	return BandRatios{
		Focus:      beta / (alpha + theta + epsilon),
		Stress:     (beta + highBeta) / (alpha + epsilon),
		Readiness:  alpha / (beta + highBeta + epsilon),
		Drowsiness: (theta + delta) / (alpha + beta + epsilon),
	}
}

// ScaleDrowsiness converts a drowsiness ratio to the [0,100] display
// range.
func ScaleDrowsiness(r float64) float64 {
	return scaleTo(r, drowsinessRange, 100)
}

// relativeBandPowers runs the per-channel preprocessing chain, averages
// the Welch PSD over 2-second windows with 50% overlap and returns the
// channel-averaged relative band powers.
func (k *FFTKernel) relativeBandPowers(window [][]float64) [numBands]float64 {
	var absolute [numBands]float64
	channels := 0

	nperseg := int(2 * k.fs)
	for _, raw := range window {
		if len(raw) < nperseg/2 {
			continue
		}
		x := make([]float64, len(raw))
		for i, v := range raw {
			x[i] = v * k.adcScale
		}
		demean(x)
		detrend(x)
		filtfilt(bandpass4(0.5, 45, k.fs), x)
		filtfilt([]biquad{notchBiquad(50, k.fs, 30)}, x)
		filtfilt([]biquad{notchBiquad(100, k.fs, 30)}, x)
		rejectArtifacts(x)

		freqs, psd := welch(x, k.fs, nperseg)
		if psd == nil {
			continue
		}
		powers := bandPowers(freqs, psd)
		for i := range absolute {
			absolute[i] += powers[i]
		}
		channels++
	}
	if channels == 0 {
		return [numBands]float64{}
	}

	var total float64
	for i := range absolute {
		absolute[i] /= float64(channels)
		total += absolute[i]
	}
	if total <= 0 {
		return [numBands]float64{}
	}

	var relative [numBands]float64
	for i := range absolute {
		relative[i] = absolute[i] / total
	}
	return relative
}

// scaleTo clips (v-lo)/(hi-lo) to [0,1] and scales to [0,max]
func scaleTo(v float64, r [2]float64, max float64) float64 {
	scaled := (v - r[0]) / (r[1] - r[0])
	if scaled < 0 {
		scaled = 0
	} else if scaled > 1 {
		scaled = 1
	}
	return round3(scaled * max)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
