// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/niura/neurostream/pkg/eeg"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("not found")

// MetricRow is one persisted per-second record
type MetricRow struct {
	ID            int64     `db:"id" json:"id"`
	UserID        int64     `db:"user_id" json:"user_id"`
	Timestamp     time.Time `db:"timestamp" json:"timestamp"`
	FocusLabel    float64   `db:"focus_label" json:"focus_label"`
	StressLabel   float64   `db:"stress_label" json:"stress_label"`
	WellnessLabel float64   `db:"wellness_label" json:"wellness_label"`
}

// HourlyMean is the mean of one hour bucket
type HourlyMean struct {
	Hour     int     `db:"hour"`
	Focus    float64 `db:"focus"`
	Stress   float64 `db:"stress"`
	Wellness float64 `db:"wellness"`
}

// MonthMean is the mean of one (year, month) bucket
type MonthMean struct {
	Year     int     `db:"year"`
	Month    int     `db:"month"`
	Focus    float64 `db:"focus"`
	Stress   float64 `db:"stress"`
	Wellness float64 `db:"wellness"`
}

// Summary is a record count with metric means
type Summary struct {
	Count    int64   `db:"count"`
	Focus    float64 `db:"focus"`
	Stress   float64 `db:"stress"`
	Wellness float64 `db:"wellness"`
}

// InsertMetricRecords persists a processed batch. Conflicts on
// (user_id, timestamp) are ignored so redelivered batches do not
// inflate counts.
func (s *Store) InsertMetricRecords(ctx context.Context, userID int64, records []eeg.MetricRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	q := builder.Insert("eeg_records").
		Columns("user_id", "timestamp", "focus_label", "stress_label", "wellness_label")
	for _, r := range records {
		q = q.Values(userID, r.Timestamp.UTC(), r.FocusLabel, r.StressLabel, r.WellnessLabel)
	}
	query, args, err := q.Suffix("ON CONFLICT (user_id, timestamp) DO NOTHING").ToSql()
	if err != nil {
		return 0, fmt.Errorf("building insert: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("inserting metric records: %w", err)
	}
	inserted, _ := res.RowsAffected()
	return inserted, nil
}

// LatestRecord returns the most recent record in [from, to)
func (s *Store) LatestRecord(ctx context.Context, userID int64, from, to time.Time) (MetricRow, error) {
	query, args, err := builder.
		Select("id", "user_id", "timestamp", "focus_label", "stress_label", "wellness_label").
		From("eeg_records").
		Where("user_id = ? AND timestamp >= ? AND timestamp < ?", userID, from, to).
		OrderBy("timestamp DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return MetricRow{}, err
	}

	var row MetricRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return MetricRow{}, ErrNotFound
		}
		return MetricRow{}, fmt.Errorf("querying latest record: %w", err)
	}
	return row, nil
}

// RecentRecords returns up to limit records, newest first
func (s *Store) RecentRecords(ctx context.Context, userID int64, limit int) ([]MetricRow, error) {
	query, args, err := builder.
		Select("id", "user_id", "timestamp", "focus_label", "stress_label", "wellness_label").
		From("eeg_records").
		Where("user_id = ?", userID).
		OrderBy("timestamp DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}

	var rows []MetricRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("querying recent records: %w", err)
	}
	return rows, nil
}

// RecordsInRange returns the records with timestamp in [from, to),
// oldest first.
func (s *Store) RecordsInRange(ctx context.Context, userID int64, from, to time.Time) ([]MetricRow, error) {
	query, args, err := builder.
		Select("id", "user_id", "timestamp", "focus_label", "stress_label", "wellness_label").
		From("eeg_records").
		Where("user_id = ? AND timestamp >= ? AND timestamp < ?", userID, from, to).
		OrderBy("timestamp ASC").
		ToSql()
	if err != nil {
		return nil, err
	}

	var rows []MetricRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("querying records in range: %w", err)
	}
	return rows, nil
}

// HourlyMeans averages the records in [from, to) by hour of day
func (s *Store) HourlyMeans(ctx context.Context, userID int64, from, to time.Time) ([]HourlyMean, error) {
	const query = `
		SELECT CAST(EXTRACT(HOUR FROM timestamp) AS INT) AS hour,
		       AVG(focus_label) AS focus,
		       AVG(stress_label) AS stress,
		       AVG(wellness_label) AS wellness
		FROM eeg_records
		WHERE user_id = $1 AND timestamp >= $2 AND timestamp < $3
		GROUP BY hour
		ORDER BY hour`

	var rows []HourlyMean
	if err := s.db.SelectContext(ctx, &rows, query, userID, from, to); err != nil {
		return nil, fmt.Errorf("querying hourly means: %w", err)
	}
	return rows, nil
}

// MonthMeans averages the records in [from, to) by (year, month)
func (s *Store) MonthMeans(ctx context.Context, userID int64, from, to time.Time) ([]MonthMean, error) {
	const query = `
		SELECT CAST(EXTRACT(YEAR FROM timestamp) AS INT) AS year,
		       CAST(EXTRACT(MONTH FROM timestamp) AS INT) AS month,
		       AVG(focus_label) AS focus,
		       AVG(stress_label) AS stress,
		       AVG(wellness_label) AS wellness
		FROM eeg_records
		WHERE user_id = $1 AND timestamp >= $2 AND timestamp < $3
		GROUP BY year, month
		ORDER BY year, month`

	var rows []MonthMean
	if err := s.db.SelectContext(ctx, &rows, query, userID, from, to); err != nil {
		return nil, fmt.Errorf("querying month means: %w", err)
	}
	return rows, nil
}

// RecordSummary counts and averages the records in [from, to)
func (s *Store) RecordSummary(ctx context.Context, userID int64, from, to time.Time) (Summary, error) {
	const query = `
		SELECT COUNT(*) AS count,
		       COALESCE(AVG(focus_label), 0) AS focus,
		       COALESCE(AVG(stress_label), 0) AS stress,
		       COALESCE(AVG(wellness_label), 0) AS wellness
		FROM eeg_records
		WHERE user_id = $1 AND timestamp >= $2 AND timestamp < $3`

	var summary Summary
	if err := s.db.GetContext(ctx, &summary, query, userID, from, to); err != nil {
		return Summary{}, fmt.Errorf("querying record summary: %w", err)
	}
	return summary, nil
}
