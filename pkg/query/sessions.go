// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package query

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/niura/neurostream/pkg/store"
	"github.com/niura/neurostream/pkg/util/log"
)

// Sessions longer than this many data points are downsampled
const maxSessionPoints = 10

// Interval is one [start, end) slice of a tracked session
type Interval struct {
	Start time.Time
	End   time.Time
}

// SessionSummary is the response of session tracking and details
type SessionSummary struct {
	SessionID            int64       `json:"session_id"`
	Label                string      `json:"label"`
	DurationSeconds      int         `json:"duration_seconds"`
	DurationSource       string      `json:"duration_source,omitempty"`
	FocusData            []float64   `json:"focus_data"`
	StressData           []float64   `json:"stress_data"`
	WellnessData         []float64   `json:"wellness_data"`
	Timestamps           []time.Time `json:"timestamps"`
	WasAggregated        bool        `json:"was_aggregated"`
	RecordsCount         int         `json:"eeg_records_count"`
	AggregatedDataPoints int         `json:"aggregated_data_points"`
}

// secondPoint is the mean of one wall-clock second of a session
type secondPoint struct {
	ts       time.Time
	focus    float64
	stress   float64
	wellness float64
}

// TrackSession creates a session over the given intervals: the records
// inside any interval are bucketed to per-second means, downsampled to
// at most 10 points, and the session is persisted with the overall
// unweighted means of the raw records.
func (s *Service) TrackSession(ctx context.Context, userID int64, label string, explicitDuration *int, intervals []Interval) (*SessionSummary, error) {
	if label == "" {
		return nil, fmt.Errorf("label is required")
	}
	if len(intervals) == 0 {
		return nil, fmt.Errorf("at least one interval is required")
	}

	duration, source := sessionDuration(explicitDuration, intervals)

	rows, err := s.collectIntervalRecords(ctx, userID, intervals)
	if err != nil {
		return nil, err
	}

	summary := s.summarize(rows, label, duration)
	summary.DurationSource = source

	date := intervals[0].Start.UTC()
	if len(rows) > 0 {
		date = rows[0].Timestamp.UTC()
	}
	means := rawMeans(rows)
	id, err := s.store.InsertSession(ctx, store.SessionRow{
		UserID:          userID,
		Date:            date,
		DurationSeconds: duration,
		Label:           label,
		Focus:           round2(means.Focus),
		Stress:          round2(means.Stress),
		Wellness:        round2(means.Wellness),
	})
	if err != nil {
		return nil, err
	}
	summary.SessionID = id
	log.Infof("tracked session %d (%s) for user %d: %d records, %d points",
		id, label, userID, summary.RecordsCount, len(summary.Timestamps))
	return summary, nil
}

// SessionDetails rebuilds the data points of a stored session from the
// records spanning [date, date + duration].
func (s *Service) SessionDetails(ctx context.Context, userID, sessionID int64) (*SessionSummary, error) {
	session, err := s.store.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	from := session.Date.UTC()
	to := from.Add(time.Duration(session.DurationSeconds) * time.Second)
	rows, err := s.store.RecordsInRange(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}

	summary := s.summarize(rows, session.Label, session.DurationSeconds)
	summary.SessionID = session.ID
	return summary, nil
}

// sessionDuration resolves the session length in seconds and reports
// where it came from.
func sessionDuration(explicit *int, intervals []Interval) (int, string) {
	if explicit != nil {
		return *explicit, "user_provided"
	}
	var total time.Duration
	for _, iv := range intervals {
		if iv.End.After(iv.Start) {
			total += iv.End.Sub(iv.Start)
		}
	}
	return int(total.Seconds()), "calculated_from_timestamps"
}

// collectIntervalRecords fetches the records inside any interval,
// deduplicated by timestamp and sorted ascending.
func (s *Service) collectIntervalRecords(ctx context.Context, userID int64, intervals []Interval) ([]store.MetricRow, error) {
	seen := make(map[int64]struct{})
	var rows []store.MetricRow
	for _, iv := range intervals {
		start, end := iv.Start.UTC(), iv.End.UTC()
		if !end.After(start) {
			continue
		}
		part, err := s.store.RecordsInRange(ctx, userID, start, end)
		if err != nil {
			return nil, err
		}
		for _, r := range part {
			key := r.Timestamp.UnixMicro()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Timestamp.Before(rows[j].Timestamp) })
	return rows, nil
}

// summarize buckets records to per-second means and applies the
// 10-point downsampling policy.
func (s *Service) summarize(rows []store.MetricRow, label string, duration int) *SessionSummary {
	points := perSecondMeans(rows)

	summary := &SessionSummary{
		Label:           label,
		DurationSeconds: duration,
		RecordsCount:    len(rows),
		FocusData:       []float64{},
		StressData:      []float64{},
		WellnessData:    []float64{},
		Timestamps:      []time.Time{},
	}

	if len(points) > maxSessionPoints {
		points = downsample(points)
		summary.WasAggregated = true
		summary.AggregatedDataPoints = len(points)
	}
	for _, p := range points {
		summary.FocusData = append(summary.FocusData, round2(p.focus))
		summary.StressData = append(summary.StressData, round2(p.stress))
		summary.WellnessData = append(summary.WellnessData, round2(p.wellness))
		summary.Timestamps = append(summary.Timestamps, p.ts)
	}
	return summary
}

// perSecondMeans averages sorted rows sharing the same wall-clock second
func perSecondMeans(rows []store.MetricRow) []secondPoint {
	var points []secondPoint
	for i := 0; i < len(rows); {
		second := rows[i].Timestamp.UTC().Truncate(time.Second)
		var focus, stress, wellness float64
		j := i
		for ; j < len(rows) && rows[j].Timestamp.UTC().Truncate(time.Second).Equal(second); j++ {
			focus += rows[j].FocusLabel
			stress += rows[j].StressLabel
			wellness += rows[j].WellnessLabel
		}
		n := float64(j - i)
		points = append(points, secondPoint{
			ts:       second,
			focus:    focus / n,
			stress:   stress / n,
			wellness: wellness / n,
		})
		i = j
	}
	return points
}

// downsample partitions points into exactly maxSessionPoints contiguous
// buckets with fractional boundaries, each reduced to its mean with the
// midpoint timestamp. Bucket sizes differ by at most one point.
func downsample(points []secondPoint) []secondPoint {
	total := len(points)
	out := make([]secondPoint, 0, maxSessionPoints)
	for i := 0; i < maxSessionPoints; i++ {
		lo := i * total / maxSessionPoints
		hi := (i + 1) * total / maxSessionPoints
		var focus, stress, wellness float64
		for _, p := range points[lo:hi] {
			focus += p.focus
			stress += p.stress
			wellness += p.wellness
		}
		n := float64(hi - lo)
		out = append(out, secondPoint{
			ts:       points[lo+(hi-lo)/2].ts,
			focus:    focus / n,
			stress:   stress / n,
			wellness: wellness / n,
		})
	}
	return out
}

// rawMeans averages all raw records without bucket weighting
func rawMeans(rows []store.MetricRow) store.Means {
	if len(rows) == 0 {
		return store.Means{}
	}
	var m store.Means
	for _, r := range rows {
		m.Focus += r.FocusLabel
		m.Stress += r.StressLabel
		m.Wellness += r.WellnessLabel
	}
	n := float64(len(rows))
	return store.Means{Focus: m.Focus / n, Stress: m.Stress / n, Wellness: m.Wellness / n}
}
