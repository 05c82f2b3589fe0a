// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package kernel

import (
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"
)

// band is a frequency interval in Hz
type band struct {
	name   string
	lo, hi float64
}

// frequency bands integrated by both kernels
var bands = []band{
	{"delta", 0.5, 4},
	{"theta", 4, 8},
	{"alpha", 8, 13},
	{"beta", 13, 30},
	{"gamma", 30, 45},
}

const (
	bandDelta = iota
	bandTheta
	bandAlpha
	bandBeta
	bandGamma
	numBands
)

// welch estimates the one-sided power spectral density of x using
// Hann-windowed segments of nperseg samples with 50% overlap. It
// returns the frequency grid and the averaged periodogram. Segments
// are mean-subtracted before windowing.
func welch(x []float64, fs float64, nperseg int) (freqs, psd []float64) {
	if nperseg > len(x) {
		nperseg = len(x)
	}
	if nperseg < 8 {
		return nil, nil
	}
	// keep the segment length even so the Nyquist bin is well defined
	nperseg &^= 1

	win := window.Hann(onesSlice(nperseg))
	var winPower float64
	for _, w := range win {
		winPower += w * w
	}

	fft := fourier.NewFFT(nperseg)
	nfreq := nperseg/2 + 1
	psd = make([]float64, nfreq)
	seg := make([]float64, nperseg)

	step := nperseg / 2
	count := 0
	for start := 0; start+nperseg <= len(x); start += step {
		copy(seg, x[start:start+nperseg])
		demean(seg)
		floats.Mul(seg, win)

		coeffs := fft.Coefficients(nil, seg)
		for k := 0; k < nfreq; k++ {
			p := cmplx.Abs(coeffs[k])
			psd[k] += p * p / (fs * winPower)
		}
		count++
	}
	if count == 0 {
		return nil, nil
	}

	scale := 1 / float64(count)
	for k := range psd {
		psd[k] *= scale
		// one-sided spectrum: double everything but DC and Nyquist
		if k != 0 && k != nfreq-1 {
			psd[k] *= 2
		}
	}

	freqs = make([]float64, nfreq)
	df := fs / float64(nperseg)
	for k := range freqs {
		freqs[k] = float64(k) * df
	}
	return freqs, psd
}

func onesSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = 1
	}
	return s
}

// bandPower integrates the PSD over [lo, hi) with the trapezoidal rule
func bandPower(freqs, psd []float64, lo, hi float64) float64 {
	var power float64
	for k := 1; k < len(freqs); k++ {
		if freqs[k] < lo || freqs[k-1] >= hi {
			continue
		}
		power += (psd[k-1] + psd[k]) / 2 * (freqs[k] - freqs[k-1])
	}
	return power
}

// bandPowers integrates every band of the standard table
func bandPowers(freqs, psd []float64) [numBands]float64 {
	var out [numBands]float64
	for i, b := range bands {
		out[i] = bandPower(freqs, psd, b.lo, b.hi)
	}
	return out
}
