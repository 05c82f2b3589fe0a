// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package query serves the read side: range-bucketed time series,
// time-of-day histograms, best-focus-time discovery and session
// analytics. All operations are scoped to the authenticated user.
package query

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	gocache "github.com/patrickmn/go-cache"

	"github.com/niura/neurostream/pkg/store"
)

// Service answers the read-side queries against the store
type Service struct {
	store *store.Store
	clock clock.Clock
	cache *gocache.Cache
}

// New builds a Service on the real clock
func New(s *store.Store) *Service {
	return NewWithClock(s, clock.New())
}

// NewWithClock builds a Service on an injected clock, used by tests
func NewWithClock(s *store.Store, c clock.Clock) *Service {
	return &Service{
		store: s,
		clock: c,
		cache: gocache.New(time.Hour, 2*time.Hour),
	}
}

// Dataset is one metric line of a chart response
type Dataset struct {
	Data        []float64 `json:"data"`
	Label       string    `json:"label"`
	Color       string    `json:"color"`
	StrokeWidth int       `json:"strokeWidth"`
}

// Series is the chart payload returned by the aggregate endpoint
type Series struct {
	Labels   []string  `json:"labels"`
	Datasets []Dataset `json:"datasets"`
	Legend   []string  `json:"legend"`
}

// metric display colors, shared with the mobile client
const (
	focusColor    = "rgba(76, 175, 80, 1)"
	stressColor   = "rgba(244, 67, 54, 1)"
	wellnessColor = "rgba(33, 150, 243, 1)"
)

// newSeries assembles the three-metric chart over n buckets
func newSeries(labels []string, focus, stress, wellness []float64) *Series {
	return &Series{
		Labels: labels,
		Datasets: []Dataset{
			{Data: focus, Label: "Focus", Color: focusColor, StrokeWidth: 2},
			{Data: stress, Label: "Stress", Color: stressColor, StrokeWidth: 2},
			{Data: wellness, Label: "Wellness", Color: wellnessColor, StrokeWidth: 2},
		},
		Legend: []string{"Focus", "Stress", "Wellness"},
	}
}

func (s *Service) today() time.Time {
	now := s.clock.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// RangeSeries returns the chart for one of the supported ranges.
// Unknown ranges are a validation error.
func (s *Service) RangeSeries(ctx context.Context, userID int64, rng string) (*Series, error) {
	switch rng {
	case "hourly", "daily":
		return s.hourlySeries(ctx, userID)
	case "weekly":
		return s.weeklySeries(ctx, userID)
	case "monthly":
		return s.monthlySeries(ctx, userID)
	case "yearly":
		return s.yearlySeries(ctx, userID)
	case "quarterly":
		return s.quarterlySeries(ctx, userID)
	default:
		return nil, fmt.Errorf("unsupported range %q", rng)
	}
}

// hourlySeries buckets today's records into 24 fixed hour slots
func (s *Service) hourlySeries(ctx context.Context, userID int64) (*Series, error) {
	day := s.today()
	means, err := s.store.HourlyMeans(ctx, userID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}

	labels := make([]string, 24)
	focus, stress, wellness := make([]float64, 24), make([]float64, 24), make([]float64, 24)
	for h := 0; h < 24; h++ {
		labels[h] = fmt.Sprintf("%02d:00", h)
	}
	for _, m := range means {
		if m.Hour < 0 || m.Hour > 23 {
			continue
		}
		focus[m.Hour] = round2(m.Focus)
		stress[m.Hour] = round2(m.Stress)
		wellness[m.Hour] = round2(m.Wellness)
	}
	return newSeries(labels, focus, stress, wellness), nil
}

// weeklySeries buckets the current ISO week's daily aggregates Mon-Sun
func (s *Service) weeklySeries(ctx context.Context, userID int64) (*Series, error) {
	day := s.today()
	// back up to Monday
	offset := (int(day.Weekday()) + 6) % 7
	monday := day.AddDate(0, 0, -offset)

	rows, err := s.store.DailyInRange(ctx, userID, monday, monday.AddDate(0, 0, 7))
	if err != nil {
		return nil, err
	}

	labels := []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}
	focus, stress, wellness := make([]float64, 7), make([]float64, 7), make([]float64, 7)
	for _, r := range rows {
		i := (int(r.Date.Weekday()) + 6) % 7
		focus[i] = round2(r.Focus)
		stress[i] = round2(r.Stress)
		wellness[i] = round2(r.Wellness)
	}
	return newSeries(labels, focus, stress, wellness), nil
}

// monthlySeries buckets the current month into 4 week-of-month slots.
// A finished month already rolled into the monthly tier is spread flat
// across the weeks; otherwise the daily tier is grouped by week index.
func (s *Service) monthlySeries(ctx context.Context, userID int64) (*Series, error) {
	day := s.today()
	year, month := day.Year(), int(day.Month())

	labels := []string{"Week 1", "Week 2", "Week 3", "Week 4"}
	focus, stress, wellness := make([]float64, 4), make([]float64, 4), make([]float64, 4)

	monthly, err := s.store.MonthlyForYear(ctx, userID, year)
	if err != nil {
		return nil, err
	}
	for _, m := range monthly {
		if m.Month == month {
			for w := 0; w < 4; w++ {
				focus[w] = round2(m.Focus)
				stress[w] = round2(m.Stress)
				wellness[w] = round2(m.Wellness)
			}
			return newSeries(labels, focus, stress, wellness), nil
		}
	}

	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	rows, err := s.store.DailyInRange(ctx, userID, first, first.AddDate(0, 1, 0))
	if err != nil {
		return nil, err
	}

	var sums [4]store.Means
	var counts [4]int
	for _, r := range rows {
		w := (r.Date.Day() - 1) / 7
		if w > 3 {
			w = 3 // days 29-31 fold into week 4
		}
		sums[w].Focus += r.Focus
		sums[w].Stress += r.Stress
		sums[w].Wellness += r.Wellness
		counts[w]++
	}
	for w := 0; w < 4; w++ {
		if counts[w] == 0 {
			continue
		}
		n := float64(counts[w])
		focus[w] = round2(sums[w].Focus / n)
		stress[w] = round2(sums[w].Stress / n)
		wellness[w] = round2(sums[w].Wellness / n)
	}
	return newSeries(labels, focus, stress, wellness), nil
}

// yearlySeries buckets the current year into 12 month slots. A year
// already rolled into the yearly tier is spread flat; otherwise the
// monthly tier fills the month indexes.
func (s *Service) yearlySeries(ctx context.Context, userID int64) (*Series, error) {
	year := s.today().Year()

	labels := monthLabels()
	focus, stress, wellness := make([]float64, 12), make([]float64, 12), make([]float64, 12)

	yearly, err := s.store.YearlyFor(ctx, userID, year)
	if err == nil {
		for m := 0; m < 12; m++ {
			focus[m] = round2(yearly.Focus)
			stress[m] = round2(yearly.Stress)
			wellness[m] = round2(yearly.Wellness)
		}
		return newSeries(labels, focus, stress, wellness), nil
	}
	if err != store.ErrNotFound {
		return nil, err
	}

	monthly, err := s.store.MonthlyForYear(ctx, userID, year)
	if err != nil {
		return nil, err
	}
	for _, m := range monthly {
		if m.Month < 1 || m.Month > 12 {
			continue
		}
		focus[m.Month-1] = round2(m.Focus)
		stress[m.Month-1] = round2(m.Stress)
		wellness[m.Month-1] = round2(m.Wellness)
	}
	return newSeries(labels, focus, stress, wellness), nil
}

// quarterlySeries aggregates the raw tier by (year, month) over the
// trailing 90 days, one bucket per month touched.
func (s *Service) quarterlySeries(ctx context.Context, userID int64) (*Series, error) {
	now := s.clock.Now().UTC()
	means, err := s.store.MonthMeans(ctx, userID, now.AddDate(0, 0, -90), now)
	if err != nil {
		return nil, err
	}

	labels := make([]string, 0, len(means))
	focus := make([]float64, 0, len(means))
	stress := make([]float64, 0, len(means))
	wellness := make([]float64, 0, len(means))
	for _, m := range means {
		labels = append(labels, time.Month(m.Month).String()[:3])
		focus = append(focus, round2(m.Focus))
		stress = append(stress, round2(m.Stress))
		wellness = append(wellness, round2(m.Wellness))
	}
	return newSeries(labels, focus, stress, wellness), nil
}

func monthLabels() []string {
	labels := make([]string, 12)
	for m := 0; m < 12; m++ {
		labels[m] = time.Month(m + 1).String()[:3]
	}
	return labels
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
