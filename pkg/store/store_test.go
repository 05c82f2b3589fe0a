// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niura/neurostream/pkg/eeg"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewFromDB(sqlx.NewDb(db, "sqlmock")), mock
}

func TestInsertMetricRecordsEmpty(t *testing.T) {
	s, mock := newMockStore(t)

	n, err := s.InsertMetricRecords(context.Background(), 7, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertMetricRecordsConflictIgnore(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO eeg_records .*ON CONFLICT \(user_id, timestamp\) DO NOTHING`).
		WithArgs(
			int64(7), sqlmock.AnyArg(), 2.1, 1.2, 55.0,
			int64(7), sqlmock.AnyArg(), 2.2, 1.3, 56.0,
		).
		WillReturnResult(sqlmock.NewResult(0, 2))

	ts := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	n, err := s.InsertMetricRecords(context.Background(), 7, []eeg.MetricRecord{
		{Timestamp: ts, FocusLabel: 2.1, StressLabel: 1.2, WellnessLabel: 55},
		{Timestamp: ts.Add(time.Second), FocusLabel: 2.2, StressLabel: 1.3, WellnessLabel: 56},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestRecordNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .* FROM eeg_records`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "timestamp", "focus_label", "stress_label", "wellness_label"}))

	day := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	_, err := s.LatestRecord(context.Background(), 7, day, day.AddDate(0, 0, 1))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordsInRangeScan(t *testing.T) {
	s, mock := newMockStore(t)

	ts := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT .* FROM eeg_records`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "timestamp", "focus_label", "stress_label", "wellness_label"}).
			AddRow(1, 7, ts, 1.0, 0.5, 60.0).
			AddRow(2, 7, ts.Add(time.Second), 2.0, 0.6, 61.0))

	rows, err := s.RecordsInRange(context.Background(), 7, ts, ts.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 1.0, rows[0].FocusLabel)
	assert.Equal(t, 2.0, rows[1].FocusLabel)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBackupAndDeleteInsideTx(t *testing.T) {
	s, mock := newMockStore(t)

	day := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	next := day.AddDate(0, 0, 1)
	today := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO eeg_records_backup`)).
		WithArgs(int64(7), day, next, today).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM eeg_records`)).
		WithArgs(int64(7), day, next).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(tx *sqlx.Tx) error {
		copied, err := BackupRecords(context.Background(), tx, 7, day, next, today)
		require.NoError(t, err)
		assert.Equal(t, int64(3), copied)

		deleted, err := DeleteRecords(context.Background(), tx, 7, day, next)
		require.NoError(t, err)
		assert.Equal(t, int64(3), deleted)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx *sqlx.Tx) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDailySQL(t *testing.T) {
	s, mock := newMockStore(t)

	day := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO daily_eeg_records .*ON CONFLICT \(user_id, date\)`).
		WithArgs(int64(7), day, 2.0, 1.0, 50.0).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(tx *sqlx.Tx) error {
		return UpsertDaily(context.Background(), tx, 7, day, Means{Focus: 2.0, Stress: 1.0, Wellness: 50.0})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTierCounts(t *testing.T) {
	s, mock := newMockStore(t)

	for _, n := range []int64{100, 10, 3, 1, 50, 4} {
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(n))
	}

	counts, err := s.TierCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(100), counts["eeg_records"])
	assert.Equal(t, int64(4), counts["sessions"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
