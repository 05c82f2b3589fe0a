// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package backoff implements the error-count-driven exponential backoff
// policy used to block failing upstreams and brokers.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy is the common interface for backoff policies
type Policy interface {
	// GetBackoffDuration returns the backoff duration for the given number of errors
	GetBackoffDuration(numErrors int) time.Duration
	// IncError increments the number of errors and returns the new value
	IncError(numErrors int) int
	// DecError decrements the number of errors and returns the new value
	DecError(numErrors int) int
}

// ExpBackoffPolicy contains parameters for an exponential backoff strategy
type ExpBackoffPolicy struct {
	// minBackoffFactor controls the overlap between consecutive retry
	// intervals. Lower bound of the interval is baseBackoffTime x 2^(attempt)
	// divided by this factor.
	minBackoffFactor float64
	// baseBackoffTime in seconds
	baseBackoffTime float64
	// maxBackoffTime in seconds
	maxBackoffTime float64
	// recoveryInterval controls how many errors are forgiven on success
	recoveryInterval int
	// maxErrors derived from maxBackoffTime, caps the error counter
	maxErrors int
}

// NewExpBackoffPolicy creates an exponential backoff policy. When
// recoveryReset is true a single success resets the error count to zero.
func NewExpBackoffPolicy(minBackoffFactor, baseBackoffTime, maxBackoffTime float64, recoveryInterval int, recoveryReset bool) Policy {
	maxErrors := int(math.Floor(math.Log2(maxBackoffTime/baseBackoffTime))) + 1

	if recoveryReset {
		recoveryInterval = maxErrors
	}

	return &ExpBackoffPolicy{
		minBackoffFactor: minBackoffFactor,
		baseBackoffTime:  baseBackoffTime,
		maxBackoffTime:   maxBackoffTime,
		recoveryInterval: recoveryInterval,
		maxErrors:        maxErrors,
	}
}

// GetBackoffDuration returns a random duration in the exponential interval
// for the given error count.
func (e *ExpBackoffPolicy) GetBackoffDuration(numErrors int) time.Duration {
	var backoffTime float64

	if numErrors > 0 {
		backoffTime = e.baseBackoffTime * math.Pow(2, float64(numErrors))

		if backoffTime > e.maxBackoffTime {
			backoffTime = e.maxBackoffTime
		} else {
			min := backoffTime / e.minBackoffFactor
			max := math.Min(e.maxBackoffTime, backoffTime)
			backoffTime = rand.Float64()*(max-min) + min
		}
	}

	return time.Duration(backoffTime * float64(time.Second))
}

// IncError increments the error count, capped at maxErrors
func (e *ExpBackoffPolicy) IncError(numErrors int) int {
	numErrors++
	if numErrors > e.maxErrors {
		return e.maxErrors
	}
	return numErrors
}

// DecError decrements the error count by the recovery interval, floored at 0
func (e *ExpBackoffPolicy) DecError(numErrors int) int {
	numErrors -= e.recoveryInterval
	if numErrors < 0 {
		return 0
	}
	return numErrors
}
