// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package query

import (
	"context"
	"fmt"
	"time"

	"github.com/niura/neurostream/pkg/util/log"
)

// BestFocus names the hour range where the user focuses best
type BestFocus struct {
	Range        string  `json:"best_focus_time"`
	AverageFocus float64 `json:"average_focus"`
	Message      string  `json:"message,omitempty"`
}

// focusRange is a run of consecutive above-average hours
type focusRange struct {
	start, end int // hours, end exclusive
	mean       float64
}

// BestFocusTime scans the trailing 30 days of hourly focus means for
// the strongest run of above-average hours. The scan hits a month of
// records, so the result is memoized per user for the cache TTL.
func (s *Service) BestFocusTime(ctx context.Context, userID int64) (BestFocus, error) {
	cacheKey := fmt.Sprintf("best-focus:%d", userID)
	if v, ok := s.cache.Get(cacheKey); ok {
		return v.(BestFocus), nil
	}

	now := s.clock.Now().UTC()
	means, err := s.store.HourlyMeans(ctx, userID, now.AddDate(0, 0, -30), now)
	if err != nil {
		return BestFocus{}, err
	}
	if len(means) == 0 {
		return BestFocus{Message: "not enough data to determine focus patterns"}, nil
	}

	var overall float64
	byHour := make(map[int]float64, len(means))
	for _, m := range means {
		overall += m.Focus
		byHour[m.Hour] = m.Focus
	}
	overall /= float64(len(means))

	best, found := bestRange(byHour, overall)
	if !found {
		return BestFocus{Message: "not enough data to determine focus patterns"}, nil
	}

	result := BestFocus{
		Range:        fmt.Sprintf("%s to %s", clockLabel(best.start), clockLabel(best.end)),
		AverageFocus: round2(best.mean),
	}
	s.cache.SetDefault(cacheKey, result)
	log.Debugf("best focus range for user %d: %s", userID, result.Range)
	return result, nil
}

// bestRange coalesces consecutive above-average hours and picks the
// range maximizing mean, then duration.
func bestRange(byHour map[int]float64, overall float64) (focusRange, bool) {
	var ranges []focusRange
	for h := 0; h < 24; h++ {
		focus, ok := byHour[h]
		if !ok || focus <= overall {
			continue
		}
		if len(ranges) > 0 && ranges[len(ranges)-1].end == h {
			last := &ranges[len(ranges)-1]
			width := float64(last.end - last.start)
			last.mean = (last.mean*width + focus) / (width + 1)
			last.end = h + 1
			continue
		}
		ranges = append(ranges, focusRange{start: h, end: h + 1, mean: focus})
	}
	if len(ranges) == 0 {
		return focusRange{}, false
	}

	best := ranges[0]
	for _, r := range ranges[1:] {
		if r.mean > best.mean || (r.mean == best.mean && r.end-r.start > best.end-best.start) {
			best = r
		}
	}
	return best, true
}

// clockLabel renders an hour as "HH:MM AM/PM"
func clockLabel(hour int) string {
	return time.Date(0, 1, 1, hour%24, 0, 0, 0, time.UTC).Format("03:04 PM")
}
