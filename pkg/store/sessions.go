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
)

// SessionRow is one tracked session
type SessionRow struct {
	ID              int64     `db:"id" json:"id"`
	UserID          int64     `db:"user_id" json:"user_id"`
	Date            time.Time `db:"date" json:"date"`
	DurationSeconds int       `db:"duration_seconds" json:"duration_seconds"`
	Label           string    `db:"label" json:"label"`
	Focus           float64   `db:"focus" json:"focus"`
	Stress          float64   `db:"stress" json:"stress"`
	Wellness        float64   `db:"wellness" json:"wellness"`
}

// InsertSession persists a session and returns its id
func (s *Store) InsertSession(ctx context.Context, row SessionRow) (int64, error) {
	const query = `
		INSERT INTO sessions (user_id, date, duration_seconds, label, focus, stress, wellness)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	var id int64
	err := s.db.QueryRowContext(ctx, query,
		row.UserID, row.Date.UTC(), row.DurationSeconds, row.Label,
		row.Focus, row.Stress, row.Wellness).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting session: %w", err)
	}
	return id, nil
}

// GetSession returns one session owned by userID, or ErrNotFound
func (s *Store) GetSession(ctx context.Context, userID, id int64) (SessionRow, error) {
	const query = `
		SELECT id, user_id, date, duration_seconds, label, focus, stress, wellness
		FROM sessions
		WHERE id = $1 AND user_id = $2`

	var row SessionRow
	if err := s.db.GetContext(ctx, &row, query, id, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionRow{}, ErrNotFound
		}
		return SessionRow{}, fmt.Errorf("querying session: %w", err)
	}
	return row, nil
}

// SessionHistory returns up to limit sessions, newest first
func (s *Store) SessionHistory(ctx context.Context, userID int64, limit int) ([]SessionRow, error) {
	const query = `
		SELECT id, user_id, date, duration_seconds, label, focus, stress, wellness
		FROM sessions
		WHERE user_id = $1
		ORDER BY date DESC
		LIMIT $2`

	var rows []SessionRow
	if err := s.db.SelectContext(ctx, &rows, query, userID, limit); err != nil {
		return nil, fmt.Errorf("querying session history: %w", err)
	}
	return rows, nil
}
