// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package aggregator

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/benbjohnson/clock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niura/neurostream/pkg/store"
)

func newTestEngine(t *testing.T, now time.Time) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mc := clock.NewMock()
	mc.Set(now)
	return NewWithClock(store.NewFromDB(sqlx.NewDb(db, "sqlmock")), mc), mock
}

func usersRows(ids ...int64) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"user_id"})
	for _, id := range ids {
		rows.AddRow(id)
	}
	return rows
}

func meanRows(count int64, f, s, w float64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"count", "focus", "stress", "wellness"}).AddRow(count, f, s, w)
}

func TestAggregateDailyPastDayArchivesAndCleans(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	e, mock := newTestEngine(t, now)

	day := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT DISTINCT user_id FROM eeg_records`).
		WillReturnRows(usersRows(7))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) .* FROM eeg_records`).
		WillReturnRows(meanRows(3, 2.0, 1.0, 50.0))
	mock.ExpectExec(`INSERT INTO daily_eeg_records`).
		WithArgs(int64(7), day, 2.0, 1.0, 50.0).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO eeg_records_backup`)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM eeg_records`)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	result, err := e.AggregateDaily(context.Background(), day, false)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, int64(3), result.RecordsArchived)
	assert.Equal(t, int64(3), result.RecordsDeleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregateDailyTodayKeepsSource(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	e, mock := newTestEngine(t, now)

	mock.ExpectQuery(`SELECT DISTINCT user_id FROM eeg_records`).
		WillReturnRows(usersRows(7))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) .* FROM eeg_records`).
		WillReturnRows(meanRows(10, 1.5, 0.5, 70.0))
	mock.ExpectExec(`INSERT INTO daily_eeg_records`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	// no backup, no delete for today
	mock.ExpectCommit()

	result, err := e.AggregateDaily(context.Background(), now, false)
	require.NoError(t, err)

	assert.Zero(t, result.RecordsArchived)
	assert.Zero(t, result.RecordsDeleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregateDailyFallbackRetargetsToday(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	e, mock := newTestEngine(t, now)

	// empty target day, fallback finds records today
	mock.ExpectQuery(`SELECT DISTINCT user_id FROM eeg_records`).
		WillReturnRows(usersRows())
	mock.ExpectQuery(`SELECT DISTINCT user_id FROM eeg_records`).
		WillReturnRows(usersRows(7))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) .* FROM eeg_records`).
		WillReturnRows(meanRows(5, 2.0, 1.0, 60.0))
	mock.ExpectExec(`INSERT INTO daily_eeg_records`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	result, err := e.AggregateDaily(context.Background(), now.AddDate(0, 0, -3), true)
	require.NoError(t, err)

	assert.True(t, result.FellBack)
	assert.Equal(t, "2025-03-15", result.Target)
	assert.Zero(t, result.RecordsDeleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregateDailyNoFallbackNoOp(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	e, mock := newTestEngine(t, now)

	mock.ExpectQuery(`SELECT DISTINCT user_id FROM eeg_records`).
		WillReturnRows(usersRows())

	result, err := e.AggregateDaily(context.Background(), now.AddDate(0, 0, -3), false)
	require.NoError(t, err)

	assert.Zero(t, result.Users)
	assert.Zero(t, result.Processed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregateDailyPartialFailure(t *testing.T) {
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	e, mock := newTestEngine(t, now)

	mock.ExpectQuery(`SELECT DISTINCT user_id FROM eeg_records`).
		WillReturnRows(usersRows(3, 7))

	// user 3 fails inside its transaction and is rolled back
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) .* FROM eeg_records`).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	// user 7 proceeds
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) .* FROM eeg_records`).
		WillReturnRows(meanRows(2, 1.0, 1.0, 40.0))
	mock.ExpectExec(`INSERT INTO daily_eeg_records`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	result, err := e.AggregateDaily(context.Background(), now, false)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Processed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregateMonthlyDeletesConsumedDaily(t *testing.T) {
	now := time.Date(2025, 4, 1, 3, 0, 0, 0, time.UTC)
	e, mock := newTestEngine(t, now)

	mock.ExpectQuery(`SELECT DISTINCT user_id FROM daily_eeg_records`).
		WillReturnRows(usersRows(7))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) .* FROM daily_eeg_records`).
		WillReturnRows(meanRows(31, 2.0, 1.1, 55.0))
	mock.ExpectExec(`INSERT INTO monthly_eeg_records`).
		WithArgs(int64(7), 2025, 3, 2.0, 1.1, 55.0).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM daily_eeg_records`)).
		WillReturnResult(sqlmock.NewResult(0, 31))
	mock.ExpectCommit()

	result, err := e.AggregateMonthly(context.Background(), 2025, 3)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, int64(31), result.RecordsDeleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAggregateYearlyRetainsMonthly(t *testing.T) {
	now := time.Date(2026, 1, 1, 4, 0, 0, 0, time.UTC)
	e, mock := newTestEngine(t, now)

	mock.ExpectQuery(`SELECT DISTINCT user_id FROM monthly_eeg_records`).
		WillReturnRows(usersRows(7))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) .* FROM monthly_eeg_records`).
		WillReturnRows(meanRows(12, 2.0, 1.0, 50.0))
	mock.ExpectExec(`INSERT INTO yearly_eeg_records`).
		WithArgs(int64(7), 2025, 2.0, 1.0, 50.0).
		WillReturnResult(sqlmock.NewResult(1, 1))
	// no delete: monthly aggregates are retained
	mock.ExpectCommit()

	result, err := e.AggregateYearly(context.Background(), 2025)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Zero(t, result.RecordsDeleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoundMeans(t *testing.T) {
	m := roundMeans(store.Means{Focus: 2.005, Stress: 1.994, Wellness: 49.999})
	assert.Equal(t, 2.0, m.Focus)
	assert.Equal(t, 1.99, m.Stress)
	assert.Equal(t, 50.0, m.Wellness)
}

func TestNewScheduleRejectsBadCron(t *testing.T) {
	_, err := NewSchedule(New(nil), ScheduleConfig{
		DailyCron:   "not a cron",
		MonthlyCron: "0 3 1 * *",
		YearlyCron:  "0 4 1 1 *",
	})
	assert.Error(t, err)
}
