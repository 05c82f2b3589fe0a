// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package query

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/benbjohnson/clock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niura/neurostream/pkg/store"
)

// newMockService pins the clock to 2025-03-15 12:00 UTC, a Saturday
func newMockService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c := clock.NewMock()
	c.Set(time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC))
	return NewWithClock(store.NewFromDB(sqlx.NewDb(db, "sqlmock")), c), mock
}

func hourlyColumns() []string {
	return []string{"hour", "focus", "stress", "wellness"}
}

func TestHourlySeriesFillsMissingHours(t *testing.T) {
	svc, mock := newMockService(t)
	mock.ExpectQuery("SELECT CAST\\(EXTRACT\\(HOUR FROM timestamp\\)").
		WithArgs(int64(7), time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), time.Date(2025, 3, 16, 0, 0, 0, 0, time.UTC)).
		WillReturnRows(sqlmock.NewRows(hourlyColumns()).
			AddRow(9, 2.345, 1.1, 70.0).
			AddRow(14, 1.5, 2.0, 55.0))

	series, err := svc.RangeSeries(context.Background(), 7, "hourly")
	require.NoError(t, err)

	require.Len(t, series.Labels, 24)
	assert.Equal(t, "00:00", series.Labels[0])
	assert.Equal(t, "23:00", series.Labels[23])
	require.Len(t, series.Datasets, 3)
	assert.Equal(t, "Focus", series.Datasets[0].Label)
	assert.Equal(t, 2.35, series.Datasets[0].Data[9])
	assert.Equal(t, 1.5, series.Datasets[0].Data[14])
	assert.Zero(t, series.Datasets[0].Data[10])
	assert.Equal(t, []string{"Focus", "Stress", "Wellness"}, series.Legend)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWeeklySeriesMapsIsoWeekdays(t *testing.T) {
	svc, mock := newMockService(t)
	// 2025-03-15 is a Saturday, the ISO week starts Monday 03-10
	monday := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT id, user_id, date, focus, stress, wellness").
		WithArgs(int64(7), monday, monday.AddDate(0, 0, 7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "date", "focus", "stress", "wellness"}).
			AddRow(1, 7, monday, 2.0, 1.0, 60.0).
			AddRow(2, 7, monday.AddDate(0, 0, 5), 1.0, 2.0, 40.0))

	series, err := svc.RangeSeries(context.Background(), 7, "weekly")
	require.NoError(t, err)

	assert.Equal(t, []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}, series.Labels)
	assert.Equal(t, 2.0, series.Datasets[0].Data[0]) // Monday
	assert.Equal(t, 1.0, series.Datasets[0].Data[5]) // Saturday
	assert.Zero(t, series.Datasets[0].Data[6])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMonthlySeriesGroupsDailyByWeek(t *testing.T) {
	svc, mock := newMockService(t)
	// no monthly aggregate for March yet
	mock.ExpectQuery("SELECT id, user_id, year, month, focus, stress, wellness").
		WithArgs(int64(7), 2025).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "year", "month", "focus", "stress", "wellness"}))

	first := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT id, user_id, date, focus, stress, wellness").
		WithArgs(int64(7), first, first.AddDate(0, 1, 0)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "date", "focus", "stress", "wellness"}).
			AddRow(1, 7, first, 2.0, 1.0, 60.0).                  // day 1, week 1
			AddRow(2, 7, first.AddDate(0, 0, 2), 4.0, 1.0, 80.0). // day 3, week 1
			AddRow(3, 7, first.AddDate(0, 0, 29), 1.0, 1.0, 40.0)) // day 30 folds into week 4

	series, err := svc.RangeSeries(context.Background(), 7, "monthly")
	require.NoError(t, err)

	assert.Equal(t, []string{"Week 1", "Week 2", "Week 3", "Week 4"}, series.Labels)
	assert.Equal(t, 3.0, series.Datasets[0].Data[0])
	assert.Zero(t, series.Datasets[0].Data[1])
	assert.Equal(t, 1.0, series.Datasets[0].Data[3])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMonthlySeriesPrefersMonthlyAggregate(t *testing.T) {
	svc, mock := newMockService(t)
	mock.ExpectQuery("SELECT id, user_id, year, month, focus, stress, wellness").
		WithArgs(int64(7), 2025).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "year", "month", "focus", "stress", "wellness"}).
			AddRow(1, 7, 2025, 3, 1.8, 1.2, 58.0))

	series, err := svc.RangeSeries(context.Background(), 7, "monthly")
	require.NoError(t, err)

	for w := 0; w < 4; w++ {
		assert.Equal(t, 1.8, series.Datasets[0].Data[w])
		assert.Equal(t, 58.0, series.Datasets[2].Data[w])
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestYearlySeriesFromMonthlyTier(t *testing.T) {
	svc, mock := newMockService(t)
	mock.ExpectQuery("SELECT id, user_id, year, focus, stress, wellness").
		WithArgs(int64(7), 2025).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "year", "focus", "stress", "wellness"}))

	mock.ExpectQuery("SELECT id, user_id, year, month, focus, stress, wellness").
		WithArgs(int64(7), 2025).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "year", "month", "focus", "stress", "wellness"}).
			AddRow(1, 7, 2025, 1, 2.0, 1.0, 60.0).
			AddRow(2, 7, 2025, 3, 1.0, 2.0, 40.0))

	series, err := svc.RangeSeries(context.Background(), 7, "yearly")
	require.NoError(t, err)

	require.Len(t, series.Labels, 12)
	assert.Equal(t, "Jan", series.Labels[0])
	assert.Equal(t, "Dec", series.Labels[11])
	assert.Equal(t, 2.0, series.Datasets[0].Data[0])
	assert.Equal(t, 1.0, series.Datasets[0].Data[2])
	assert.Zero(t, series.Datasets[0].Data[1])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRangeSeriesRejectsUnknownRange(t *testing.T) {
	svc, _ := newMockService(t)
	_, err := svc.RangeSeries(context.Background(), 7, "fortnightly")
	assert.Error(t, err)
}

func TestTimeOfDayAggregate(t *testing.T) {
	svc, mock := newMockService(t)
	mock.ExpectQuery("SELECT CAST\\(EXTRACT\\(HOUR FROM timestamp\\)").
		WillReturnRows(sqlmock.NewRows(hourlyColumns()).
			AddRow(6, 2.0, 1.0, 60.0).
			AddRow(8, 4.0, 1.0, 80.0).
			AddRow(23, 0.5, 0.5, 30.0).
			AddRow(2, 1.5, 0.5, 50.0))

	buckets, err := svc.TimeOfDayAggregate(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, buckets, 5)

	assert.Equal(t, "Morning", buckets[0].Period)
	assert.Equal(t, 3.0, buckets[0].Focus)
	assert.Equal(t, 2, buckets[0].Hours)

	// hours 23 and 02 both fall in the wrapping Night bucket
	assert.Equal(t, "Night", buckets[4].Period)
	assert.Equal(t, 1.0, buckets[4].Focus)
	assert.Equal(t, 2, buckets[4].Hours)

	assert.Equal(t, "Midday", buckets[1].Period)
	assert.Zero(t, buckets[1].Focus)
	assert.Zero(t, buckets[1].Hours)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBestFocusTimePicksStrongestRun(t *testing.T) {
	svc, mock := newMockService(t)
	// overall mean is 2.0; hours 9-10 and 14 are above it
	mock.ExpectQuery("SELECT CAST\\(EXTRACT\\(HOUR FROM timestamp\\)").
		WillReturnRows(sqlmock.NewRows(hourlyColumns()).
			AddRow(8, 1.0, 1.0, 50.0).
			AddRow(9, 3.0, 1.0, 70.0).
			AddRow(10, 2.8, 1.0, 70.0).
			AddRow(14, 2.5, 1.0, 65.0).
			AddRow(20, 0.7, 1.0, 40.0))

	result, err := svc.BestFocusTime(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "09:00 AM to 11:00 AM", result.Range)
	assert.Equal(t, 2.9, result.AverageFocus)
	assert.Empty(t, result.Message)
	require.NoError(t, mock.ExpectationsWereMet())

	// second call is served from the cache, no further query expected
	cached, err := svc.BestFocusTime(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, result, cached)
}

func TestBestFocusTimeNoData(t *testing.T) {
	svc, mock := newMockService(t)
	mock.ExpectQuery("SELECT CAST\\(EXTRACT\\(HOUR FROM timestamp\\)").
		WillReturnRows(sqlmock.NewRows(hourlyColumns()))

	result, err := svc.BestFocusTime(context.Background(), 7)
	require.NoError(t, err)
	assert.Empty(t, result.Range)
	assert.NotEmpty(t, result.Message)
}

func TestBestRangePrefersMeanOverDuration(t *testing.T) {
	byHour := map[int]float64{
		6: 2.2, 7: 2.2, 8: 2.2, // long run, lower mean
		15: 2.9, // short run, higher mean
	}
	best, found := bestRange(byHour, 2.0)
	require.True(t, found)
	assert.Equal(t, 15, best.start)
	assert.Equal(t, 16, best.end)
}

func TestClockLabel(t *testing.T) {
	assert.Equal(t, "12:00 AM", clockLabel(0))
	assert.Equal(t, "09:00 AM", clockLabel(9))
	assert.Equal(t, "12:00 PM", clockLabel(12))
	assert.Equal(t, "11:00 PM", clockLabel(23))
	assert.Equal(t, "12:00 AM", clockLabel(24))
}
