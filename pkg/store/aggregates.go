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

	"github.com/jmoiron/sqlx"
)

// Means is a focus/stress/wellness triple
type Means struct {
	Focus    float64 `db:"focus"`
	Stress   float64 `db:"stress"`
	Wellness float64 `db:"wellness"`
}

// DailyRow is one daily aggregate
type DailyRow struct {
	ID       int64     `db:"id" json:"id"`
	UserID   int64     `db:"user_id" json:"user_id"`
	Date     time.Time `db:"date" json:"date"`
	Focus    float64   `db:"focus" json:"focus"`
	Stress   float64   `db:"stress" json:"stress"`
	Wellness float64   `db:"wellness" json:"wellness"`
}

// MonthlyRow is one monthly aggregate
type MonthlyRow struct {
	ID       int64   `db:"id" json:"id"`
	UserID   int64   `db:"user_id" json:"user_id"`
	Year     int     `db:"year" json:"year"`
	Month    int     `db:"month" json:"month"`
	Focus    float64 `db:"focus" json:"focus"`
	Stress   float64 `db:"stress" json:"stress"`
	Wellness float64 `db:"wellness" json:"wellness"`
}

// YearlyRow is one yearly aggregate
type YearlyRow struct {
	ID       int64   `db:"id" json:"id"`
	UserID   int64   `db:"user_id" json:"user_id"`
	Year     int     `db:"year" json:"year"`
	Focus    float64 `db:"focus" json:"focus"`
	Stress   float64 `db:"stress" json:"stress"`
	Wellness float64 `db:"wellness" json:"wellness"`
}

// UsersWithRecordsBetween lists the users owning records in [from, to)
func (s *Store) UsersWithRecordsBetween(ctx context.Context, from, to time.Time) ([]int64, error) {
	var users []int64
	const query = `SELECT DISTINCT user_id FROM eeg_records WHERE timestamp >= $1 AND timestamp < $2 ORDER BY user_id`
	if err := s.db.SelectContext(ctx, &users, query, from, to); err != nil {
		return nil, fmt.Errorf("querying users with records: %w", err)
	}
	return users, nil
}

// UsersWithDailyIn lists the users owning daily aggregates in [from, to)
func (s *Store) UsersWithDailyIn(ctx context.Context, from, to time.Time) ([]int64, error) {
	var users []int64
	const query = `SELECT DISTINCT user_id FROM daily_eeg_records WHERE date >= $1 AND date < $2 ORDER BY user_id`
	if err := s.db.SelectContext(ctx, &users, query, from, to); err != nil {
		return nil, fmt.Errorf("querying users with daily aggregates: %w", err)
	}
	return users, nil
}

// UsersWithMonthlyIn lists the users owning monthly aggregates in year
func (s *Store) UsersWithMonthlyIn(ctx context.Context, year int) ([]int64, error) {
	var users []int64
	const query = `SELECT DISTINCT user_id FROM monthly_eeg_records WHERE year = $1 ORDER BY user_id`
	if err := s.db.SelectContext(ctx, &users, query, year); err != nil {
		return nil, fmt.Errorf("querying users with monthly aggregates: %w", err)
	}
	return users, nil
}

// MeanRecords averages one user's records in [from, to) inside tx
func MeanRecords(ctx context.Context, tx *sqlx.Tx, userID int64, from, to time.Time) (Means, int64, error) {
	const query = `
		SELECT COUNT(*) AS count,
		       COALESCE(AVG(focus_label), 0) AS focus,
		       COALESCE(AVG(stress_label), 0) AS stress,
		       COALESCE(AVG(wellness_label), 0) AS wellness
		FROM eeg_records
		WHERE user_id = $1 AND timestamp >= $2 AND timestamp < $3`

	var row struct {
		Count int64 `db:"count"`
		Means
	}
	if err := tx.GetContext(ctx, &row, query, userID, from, to); err != nil {
		return Means{}, 0, fmt.Errorf("averaging records: %w", err)
	}
	return row.Means, row.Count, nil
}

// UpsertDaily writes a daily aggregate keyed by (user, date)
func UpsertDaily(ctx context.Context, tx *sqlx.Tx, userID int64, date time.Time, m Means) error {
	const query = `
		INSERT INTO daily_eeg_records (user_id, date, focus, stress, wellness)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, date)
		DO UPDATE SET focus = EXCLUDED.focus, stress = EXCLUDED.stress, wellness = EXCLUDED.wellness`

	if _, err := tx.ExecContext(ctx, query, userID, date, m.Focus, m.Stress, m.Wellness); err != nil {
		return fmt.Errorf("upserting daily aggregate: %w", err)
	}
	return nil
}

// BackupRecords copies one user's records in [from, to) into the
// backup tier with the timestamp narrowed to date precision. Returns
// the number of copied rows.
func BackupRecords(ctx context.Context, tx *sqlx.Tx, userID int64, from, to time.Time, backupDate time.Time) (int64, error) {
	const query = `
		INSERT INTO eeg_records_backup (original_id, user_id, timestamp, focus_label, stress_label, wellness_label, backup_date)
		SELECT id, user_id, DATE_TRUNC('day', timestamp), focus_label, stress_label, wellness_label, $4
		FROM eeg_records
		WHERE user_id = $1 AND timestamp >= $2 AND timestamp < $3`

	res, err := tx.ExecContext(ctx, query, userID, from, to, backupDate)
	if err != nil {
		return 0, fmt.Errorf("backing up records: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteRecords removes one user's records in [from, to)
func DeleteRecords(ctx context.Context, tx *sqlx.Tx, userID int64, from, to time.Time) (int64, error) {
	const query = `DELETE FROM eeg_records WHERE user_id = $1 AND timestamp >= $2 AND timestamp < $3`
	res, err := tx.ExecContext(ctx, query, userID, from, to)
	if err != nil {
		return 0, fmt.Errorf("deleting records: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// MeanDaily averages one user's daily aggregates in [from, to)
func MeanDaily(ctx context.Context, tx *sqlx.Tx, userID int64, from, to time.Time) (Means, int64, error) {
	const query = `
		SELECT COUNT(*) AS count,
		       COALESCE(AVG(focus), 0) AS focus,
		       COALESCE(AVG(stress), 0) AS stress,
		       COALESCE(AVG(wellness), 0) AS wellness
		FROM daily_eeg_records
		WHERE user_id = $1 AND date >= $2 AND date < $3`

	var row struct {
		Count int64 `db:"count"`
		Means
	}
	if err := tx.GetContext(ctx, &row, query, userID, from, to); err != nil {
		return Means{}, 0, fmt.Errorf("averaging daily aggregates: %w", err)
	}
	return row.Means, row.Count, nil
}

// UpsertMonthly writes a monthly aggregate keyed by (user, year, month)
func UpsertMonthly(ctx context.Context, tx *sqlx.Tx, userID int64, year, month int, m Means) error {
	const query = `
		INSERT INTO monthly_eeg_records (user_id, year, month, focus, stress, wellness)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, year, month)
		DO UPDATE SET focus = EXCLUDED.focus, stress = EXCLUDED.stress, wellness = EXCLUDED.wellness`

	if _, err := tx.ExecContext(ctx, query, userID, year, month, m.Focus, m.Stress, m.Wellness); err != nil {
		return fmt.Errorf("upserting monthly aggregate: %w", err)
	}
	return nil
}

// DeleteDaily removes one user's daily aggregates in [from, to)
func DeleteDaily(ctx context.Context, tx *sqlx.Tx, userID int64, from, to time.Time) (int64, error) {
	const query = `DELETE FROM daily_eeg_records WHERE user_id = $1 AND date >= $2 AND date < $3`
	res, err := tx.ExecContext(ctx, query, userID, from, to)
	if err != nil {
		return 0, fmt.Errorf("deleting daily aggregates: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// MeanMonthly averages one user's monthly aggregates for a year
func MeanMonthly(ctx context.Context, tx *sqlx.Tx, userID int64, year int) (Means, int64, error) {
	const query = `
		SELECT COUNT(*) AS count,
		       COALESCE(AVG(focus), 0) AS focus,
		       COALESCE(AVG(stress), 0) AS stress,
		       COALESCE(AVG(wellness), 0) AS wellness
		FROM monthly_eeg_records
		WHERE user_id = $1 AND year = $2`

	var row struct {
		Count int64 `db:"count"`
		Means
	}
	if err := tx.GetContext(ctx, &row, query, userID, year); err != nil {
		return Means{}, 0, fmt.Errorf("averaging monthly aggregates: %w", err)
	}
	return row.Means, row.Count, nil
}

// UpsertYearly writes a yearly aggregate keyed by (user, year)
func UpsertYearly(ctx context.Context, tx *sqlx.Tx, userID int64, year int, m Means) error {
	const query = `
		INSERT INTO yearly_eeg_records (user_id, year, focus, stress, wellness)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, year)
		DO UPDATE SET focus = EXCLUDED.focus, stress = EXCLUDED.stress, wellness = EXCLUDED.wellness`

	if _, err := tx.ExecContext(ctx, query, userID, year, m.Focus, m.Stress, m.Wellness); err != nil {
		return fmt.Errorf("upserting yearly aggregate: %w", err)
	}
	return nil
}

// DailyInRange returns one user's daily aggregates with date in
// [from, to), oldest first.
func (s *Store) DailyInRange(ctx context.Context, userID int64, from, to time.Time) ([]DailyRow, error) {
	const query = `
		SELECT id, user_id, date, focus, stress, wellness
		FROM daily_eeg_records
		WHERE user_id = $1 AND date >= $2 AND date < $3
		ORDER BY date ASC`

	var rows []DailyRow
	if err := s.db.SelectContext(ctx, &rows, query, userID, from, to); err != nil {
		return nil, fmt.Errorf("querying daily aggregates: %w", err)
	}
	return rows, nil
}

// MonthlyForYear returns one user's monthly aggregates for a year
func (s *Store) MonthlyForYear(ctx context.Context, userID int64, year int) ([]MonthlyRow, error) {
	const query = `
		SELECT id, user_id, year, month, focus, stress, wellness
		FROM monthly_eeg_records
		WHERE user_id = $1 AND year = $2
		ORDER BY month ASC`

	var rows []MonthlyRow
	if err := s.db.SelectContext(ctx, &rows, query, userID, year); err != nil {
		return nil, fmt.Errorf("querying monthly aggregates: %w", err)
	}
	return rows, nil
}

// YearlyFor returns one user's yearly aggregate, or ErrNotFound
func (s *Store) YearlyFor(ctx context.Context, userID int64, year int) (YearlyRow, error) {
	const query = `
		SELECT id, user_id, year, focus, stress, wellness
		FROM yearly_eeg_records
		WHERE user_id = $1 AND year = $2`

	var row YearlyRow
	if err := s.db.GetContext(ctx, &row, query, userID, year); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return YearlyRow{}, ErrNotFound
		}
		return YearlyRow{}, fmt.Errorf("querying yearly aggregate: %w", err)
	}
	return row, nil
}

// TierCounts reports the row count of every persisted tier
func (s *Store) TierCounts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, 6)
	for _, table := range []string{
		"eeg_records",
		"daily_eeg_records",
		"monthly_eeg_records",
		"yearly_eeg_records",
		"eeg_records_backup",
		"sessions",
	} {
		var n int64
		if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+table); err != nil {
			return nil, fmt.Errorf("counting %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}
