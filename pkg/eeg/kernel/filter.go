// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package kernel

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// biquad is one second-order IIR section in direct form II transposed
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

func (s *biquad) apply(x []float64) {
	var z1, z2 float64
	for i, v := range x {
		y := s.b0*v + z1
		z1 = s.b1*v + z2 - s.a1*y
		z2 = s.b2*v - s.a2*y
		x[i] = y
	}
}

// Butterworth pole quality factors for a 4th-order filter split into
// two cascaded second-order sections.
var butterworthQ4 = []float64{0.54119610, 1.30656296}

// lowpassBiquad designs one RBJ low-pass section
func lowpassBiquad(fc, fs, q float64) biquad {
	w0 := 2 * math.Pi * fc / fs
	cosw, sinw := math.Cos(w0), math.Sin(w0)
	alpha := sinw / (2 * q)

	a0 := 1 + alpha
	return biquad{
		b0: (1 - cosw) / 2 / a0,
		b1: (1 - cosw) / a0,
		b2: (1 - cosw) / 2 / a0,
		a1: -2 * cosw / a0,
		a2: (1 - alpha) / a0,
	}
}

// highpassBiquad designs one RBJ high-pass section
func highpassBiquad(fc, fs, q float64) biquad {
	w0 := 2 * math.Pi * fc / fs
	cosw, sinw := math.Cos(w0), math.Sin(w0)
	alpha := sinw / (2 * q)

	a0 := 1 + alpha
	return biquad{
		b0: (1 + cosw) / 2 / a0,
		b1: -(1 + cosw) / a0,
		b2: (1 + cosw) / 2 / a0,
		a1: -2 * cosw / a0,
		a2: (1 - alpha) / a0,
	}
}

// notchBiquad designs one RBJ notch section centered on fc with the
// given quality factor.
func notchBiquad(fc, fs, q float64) biquad {
	w0 := 2 * math.Pi * fc / fs
	cosw, sinw := math.Cos(w0), math.Sin(w0)
	alpha := sinw / (2 * q)

	a0 := 1 + alpha
	return biquad{
		b0: 1 / a0,
		b1: -2 * cosw / a0,
		b2: 1 / a0,
		a1: -2 * cosw / a0,
		a2: (1 - alpha) / a0,
	}
}

// bandpass4 builds a 4th-order Butterworth band-pass as a high-pass /
// low-pass cascade, each realized with the Butterworth section Qs.
func bandpass4(lo, hi, fs float64) []biquad {
	sections := make([]biquad, 0, 4)
	for _, q := range butterworthQ4 {
		sections = append(sections, highpassBiquad(lo, fs, q))
	}
	for _, q := range butterworthQ4 {
		sections = append(sections, lowpassBiquad(hi, fs, q))
	}
	return sections
}

// filtfilt applies the section cascade forward then backward for zero
// phase distortion, matching the offline reference processing.
func filtfilt(sections []biquad, x []float64) {
	for i := range sections {
		sections[i].apply(x)
	}
	floats.Reverse(x)
	for i := range sections {
		sections[i].apply(x)
	}
	floats.Reverse(x)
}

// detrend removes the least-squares straight line from x in place
func detrend(x []float64) {
	n := len(x)
	if n < 2 {
		return
	}

	// closed-form simple linear regression against the sample index
	var sumY, sumXY float64
	for i, v := range x {
		sumY += v
		sumXY += float64(i) * v
	}
	fn := float64(n)
	sumX := fn * (fn - 1) / 2
	sumXX := fn * (fn - 1) * (2*fn - 1) / 6

	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return
	}
	slope := (fn*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / fn

	for i := range x {
		x[i] -= intercept + slope*float64(i)
	}
}

// demean subtracts the mean of x in place
func demean(x []float64) {
	if len(x) == 0 {
		return
	}
	m := floats.Sum(x) / float64(len(x))
	for i := range x {
		x[i] -= m
	}
}

// percentile returns the p-th percentile (0..100) of the absolute
// values of x using linear interpolation between order statistics.
func percentile(x []float64, p float64) float64 {
	n := len(x)
	if n == 0 {
		return 0
	}
	abs := make([]float64, n)
	for i, v := range x {
		abs[i] = math.Abs(v)
	}
	sort.Float64s(abs)

	if n == 1 {
		return abs[0]
	}
	pos := p / 100 * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if hi >= n {
		hi = n - 1
	}
	frac := pos - float64(lo)
	return abs[lo] + frac*(abs[hi]-abs[lo])
}

// rejectArtifacts marks samples as bad when (a) their amplitude
// exceeds 1.5x the 99.5th percentile, (b) their first difference
// exceeds 2x the 99th percentile of differences, or (c) their z-score
// exceeds 4. Bad samples are replaced by linear interpolation from the
// surrounding good ones.
func rejectArtifacts(x []float64) {
	n := len(x)
	if n < 3 {
		return
	}

	ampLimit := 1.5 * percentile(x, 99.5)

	diffs := make([]float64, n-1)
	for i := 1; i < n; i++ {
		diffs[i-1] = x[i] - x[i-1]
	}
	diffLimit := 2.0 * percentile(diffs, 99)

	mean := floats.Sum(x) / float64(n)
	var variance float64
	for _, v := range x {
		variance += (v - mean) * (v - mean)
	}
	std := math.Sqrt(variance / float64(n))

	bad := make([]bool, n)
	for i, v := range x {
		if ampLimit > 0 && math.Abs(v) > ampLimit {
			bad[i] = true
		}
		if i > 0 && diffLimit > 0 && math.Abs(v-x[i-1]) > diffLimit {
			bad[i] = true
		}
		if std > 0 && math.Abs(v-mean)/std > 4 {
			bad[i] = true
		}
	}

	interpolateBad(x, bad)
}

// interpolateBad replaces runs of bad samples by linearly interpolating
// between the adjacent good neighbours. Leading and trailing runs take
// the value of the nearest good sample.
func interpolateBad(x []float64, bad []bool) {
	n := len(x)
	prevGood := -1
	for i := 0; i <= n; i++ {
		if i < n && !bad[i] {
			if prevGood >= 0 && i-prevGood > 1 {
				span := float64(i - prevGood)
				for j := prevGood + 1; j < i; j++ {
					t := float64(j-prevGood) / span
					x[j] = x[prevGood] + t*(x[i]-x[prevGood])
				}
			} else if prevGood < 0 {
				for j := 0; j < i; j++ {
					x[j] = x[i]
				}
			}
			prevGood = i
		}
		if i == n && prevGood >= 0 && prevGood < n-1 {
			for j := prevGood + 1; j < n; j++ {
				x[j] = x[prevGood]
			}
		}
	}
}
