// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package query

import (
	"context"
)

// dayPart is one fixed time-of-day bucket, hours inclusive. Night wraps
// past midnight.
type dayPart struct {
	name     string
	from, to int
}

var dayParts = []dayPart{
	{"Morning", 5, 9},
	{"Midday", 10, 13},
	{"Afternoon", 14, 17},
	{"Evening", 18, 21},
	{"Night", 22, 4},
}

func (p dayPart) contains(hour int) bool {
	if p.from <= p.to {
		return hour >= p.from && hour <= p.to
	}
	return hour >= p.from || hour <= p.to
}

// TimeOfDayBucket is the mean of one part of today
type TimeOfDayBucket struct {
	Period   string  `json:"period"`
	Focus    float64 `json:"focus"`
	Stress   float64 `json:"stress"`
	Wellness float64 `json:"wellness"`
	Hours    int     `json:"hours_with_data"`
}

// TimeOfDayAggregate averages today's records into the five day parts.
// Parts without data report zeroes.
func (s *Service) TimeOfDayAggregate(ctx context.Context, userID int64) ([]TimeOfDayBucket, error) {
	day := s.today()
	means, err := s.store.HourlyMeans(ctx, userID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}

	buckets := make([]TimeOfDayBucket, len(dayParts))
	for i, p := range dayParts {
		var focus, stress, wellness float64
		n := 0
		for _, m := range means {
			if !p.contains(m.Hour) {
				continue
			}
			focus += m.Focus
			stress += m.Stress
			wellness += m.Wellness
			n++
		}
		buckets[i] = TimeOfDayBucket{Period: p.name, Hours: n}
		if n > 0 {
			buckets[i].Focus = round2(focus / float64(n))
			buckets[i].Stress = round2(stress / float64(n))
			buckets[i].Wellness = round2(wellness / float64(n))
		}
	}
	return buckets, nil
}
