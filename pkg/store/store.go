// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package store is the Postgres persistence layer: per-second metric
// records, the three aggregate tiers, the raw backup tier and tracked
// sessions. All timestamps are stored without time zone; callers
// normalize to UTC at the system edge.
package store

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver
	"github.com/jmoiron/sqlx"
)

// PoolOptions mirrors the connection pool settings of the source
// deployment: 15 base connections plus 25 overflow, hourly recycle.
type PoolOptions struct {
	Size            int
	MaxOverflow     int
	ConnMaxLifetime time.Duration
}

// DefaultPoolOptions returns the production pool settings
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		Size:            15,
		MaxOverflow:     25,
		ConnMaxLifetime: time.Hour,
	}
}

// Store wraps the database handle. It is safe for concurrent use.
type Store struct {
	db *sqlx.DB
}

// New opens and pings the database
func New(databaseURL string, opts PoolOptions) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(opts.Size + opts.MaxOverflow)
	db.SetMaxIdleConns(opts.Size)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &Store{db: db}, nil
}

// NewFromDB wraps an existing handle, used by the sqlmock tests
func NewFromDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close releases the pool
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a transaction, rolling back on error
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	return tx.Commit()
}

// builder is the statement builder for the Postgres placeholder format
var builder = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
