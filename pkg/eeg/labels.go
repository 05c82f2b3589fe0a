// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package eeg

// FocusDisplay maps a focus value in [0,3] to its display label
func FocusDisplay(v float64) string {
	switch {
	case v >= 2.5:
		return "High"
	case v >= 1.5:
		return "Medium"
	default:
		return "Low"
	}
}

// StressDisplay maps a stress value in [0,3] to its display label
func StressDisplay(v float64) string {
	return FocusDisplay(v)
}

// WellnessDisplay maps a wellness value in [0,100] to its display label
func WellnessDisplay(v float64) string {
	switch {
	case v >= 70:
		return "Good"
	case v >= 40:
		return "Fair"
	default:
		return "Poor"
	}
}
