// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package aggregator rolls per-second metric records up the time
// hierarchy: records into daily aggregates, daily into monthly,
// monthly into yearly. Consumed tiers are archived or deleted once the
// next tier is written; every per-user step is its own transaction and
// a failing user never stops the run.
package aggregator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jmoiron/sqlx"

	"github.com/niura/neurostream/pkg/store"
	"github.com/niura/neurostream/pkg/telemetry"
	"github.com/niura/neurostream/pkg/util/log"
)

// Engine executes the aggregation tiers against the store
type Engine struct {
	store *store.Store
	clock clock.Clock
}

// New builds an Engine on the real clock
func New(s *store.Store) *Engine {
	return &Engine{store: s, clock: clock.New()}
}

// NewWithClock builds an Engine on an injected clock, used by tests
func NewWithClock(s *store.Store, c clock.Clock) *Engine {
	return &Engine{store: s, clock: c}
}

// Result summarizes one engine run
type Result struct {
	Tier            string `json:"tier"`
	Target          string `json:"target"`
	Users           int    `json:"users"`
	Processed       int    `json:"processed"`
	Failed          int    `json:"failed"`
	RecordsArchived int64  `json:"records_archived"`
	RecordsDeleted  int64  `json:"records_deleted"`
	FellBack        bool   `json:"fell_back,omitempty"`
}

func (r Result) String() string {
	return fmt.Sprintf("%s %s: %d/%d users aggregated, %d failed, %d archived, %d deleted",
		r.Tier, r.Target, r.Processed, r.Users, r.Failed, r.RecordsArchived, r.RecordsDeleted)
}

// today returns the current UTC day at midnight
func (e *Engine) today() time.Time {
	return truncateDay(e.clock.Now().UTC())
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func roundMeans(m store.Means) store.Means {
	return store.Means{
		Focus:    round2(m.Focus),
		Stress:   round2(m.Stress),
		Wellness: round2(m.Wellness),
	}
}

// AggregateDaily rolls the records of one calendar day into daily
// aggregates. Days before today are archived into the backup tier and
// their source rows deleted; today is aggregated in place. When the
// target day has no records and useFallback is set, the run retargets
// today.
func (e *Engine) AggregateDaily(ctx context.Context, date time.Time, useFallback bool) (Result, error) {
	day := truncateDay(date.UTC())
	today := e.today()

	result := Result{Tier: "daily", Target: day.Format("2006-01-02")}

	users, err := e.store.UsersWithRecordsBetween(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		telemetry.AggregationRuns.WithLabelValues("daily", "error").Inc()
		return result, err
	}
	if len(users) == 0 && useFallback && !day.Equal(today) {
		users, err = e.store.UsersWithRecordsBetween(ctx, today, today.AddDate(0, 0, 1))
		if err != nil {
			telemetry.AggregationRuns.WithLabelValues("daily", "error").Inc()
			return result, err
		}
		if len(users) > 0 {
			log.Infof("no records on %s, falling back to today", result.Target)
			day = today
			result.Target = day.Format("2006-01-02")
			result.FellBack = true
		}
	}
	result.Users = len(users)

	from, to := day, day.AddDate(0, 0, 1)
	cleanup := day.Before(today)

	for _, userID := range users {
		err := e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
			means, count, err := store.MeanRecords(ctx, tx, userID, from, to)
			if err != nil {
				return err
			}
			if count == 0 {
				return nil
			}
			if err := store.UpsertDaily(ctx, tx, userID, day, roundMeans(means)); err != nil {
				return err
			}
			if !cleanup {
				return nil
			}
			archived, err := store.BackupRecords(ctx, tx, userID, from, to, today)
			if err != nil {
				return err
			}
			deleted, err := store.DeleteRecords(ctx, tx, userID, from, to)
			if err != nil {
				return err
			}
			result.RecordsArchived += archived
			result.RecordsDeleted += deleted
			return nil
		})
		if err != nil {
			result.Failed++
			telemetry.AggregationUserFailures.WithLabelValues("daily").Inc()
			log.Errorf("daily aggregation for user %d on %s: %v", userID, result.Target, err) //nolint:errcheck
			continue
		}
		result.Processed++
	}

	telemetry.AggregationRuns.WithLabelValues("daily", runResult(result)).Inc()
	log.Infof("%s", result)
	return result, nil
}

// AggregateMonthly rolls one month of daily aggregates into the
// monthly tier and deletes the consumed daily rows. The per-second
// source was already archived by the daily tier.
func (e *Engine) AggregateMonthly(ctx context.Context, year, month int) (Result, error) {
	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	result := Result{Tier: "monthly", Target: from.Format("2006-01")}

	users, err := e.store.UsersWithDailyIn(ctx, from, to)
	if err != nil {
		telemetry.AggregationRuns.WithLabelValues("monthly", "error").Inc()
		return result, err
	}
	result.Users = len(users)

	for _, userID := range users {
		err := e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
			means, count, err := store.MeanDaily(ctx, tx, userID, from, to)
			if err != nil {
				return err
			}
			if count == 0 {
				return nil
			}
			if err := store.UpsertMonthly(ctx, tx, userID, year, month, roundMeans(means)); err != nil {
				return err
			}
			deleted, err := store.DeleteDaily(ctx, tx, userID, from, to)
			if err != nil {
				return err
			}
			result.RecordsDeleted += deleted
			return nil
		})
		if err != nil {
			result.Failed++
			telemetry.AggregationUserFailures.WithLabelValues("monthly").Inc()
			log.Errorf("monthly aggregation for user %d in %s: %v", userID, result.Target, err) //nolint:errcheck
			continue
		}
		result.Processed++
	}

	telemetry.AggregationRuns.WithLabelValues("monthly", runResult(result)).Inc()
	log.Infof("%s", result)
	return result, nil
}

// AggregateYearly rolls one year of monthly aggregates into the yearly
// tier. Monthly rows are retained.
func (e *Engine) AggregateYearly(ctx context.Context, year int) (Result, error) {
	result := Result{Tier: "yearly", Target: fmt.Sprintf("%d", year)}

	users, err := e.store.UsersWithMonthlyIn(ctx, year)
	if err != nil {
		telemetry.AggregationRuns.WithLabelValues("yearly", "error").Inc()
		return result, err
	}
	result.Users = len(users)

	for _, userID := range users {
		err := e.store.WithTx(ctx, func(tx *sqlx.Tx) error {
			means, count, err := store.MeanMonthly(ctx, tx, userID, year)
			if err != nil {
				return err
			}
			if count == 0 {
				return nil
			}
			return store.UpsertYearly(ctx, tx, userID, year, roundMeans(means))
		})
		if err != nil {
			result.Failed++
			telemetry.AggregationUserFailures.WithLabelValues("yearly").Inc()
			log.Errorf("yearly aggregation for user %d in %d: %v", userID, year, err) //nolint:errcheck
			continue
		}
		result.Processed++
	}

	telemetry.AggregationRuns.WithLabelValues("yearly", runResult(result)).Inc()
	log.Infof("%s", result)
	return result, nil
}

func runResult(r Result) string {
	if r.Failed > 0 {
		return "partial"
	}
	return "ok"
}
