// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package aggregator

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/niura/neurostream/pkg/util/log"
)

// Schedule drives the engine from cron expressions. The daily job
// targets yesterday with fallback enabled, the monthly job the
// previous month and the yearly job the previous year.
type Schedule struct {
	engine *Engine
	cron   *cron.Cron
}

// ScheduleConfig carries the three cron expressions (standard 5-field
// syntax, UTC).
type ScheduleConfig struct {
	DailyCron   string
	MonthlyCron string
	YearlyCron  string
}

// NewSchedule registers the three tier jobs on a cron runner
func NewSchedule(engine *Engine, cfg ScheduleConfig) (*Schedule, error) {
	c := cron.New(cron.WithLocation(time.UTC))

	if _, err := c.AddFunc(cfg.DailyCron, func() { runDaily(engine) }); err != nil {
		return nil, fmt.Errorf("bad daily cron %q: %w", cfg.DailyCron, err)
	}
	if _, err := c.AddFunc(cfg.MonthlyCron, func() { runMonthly(engine) }); err != nil {
		return nil, fmt.Errorf("bad monthly cron %q: %w", cfg.MonthlyCron, err)
	}
	if _, err := c.AddFunc(cfg.YearlyCron, func() { runYearly(engine) }); err != nil {
		return nil, fmt.Errorf("bad yearly cron %q: %w", cfg.YearlyCron, err)
	}

	return &Schedule{engine: engine, cron: c}, nil
}

// Start launches the cron runner in its own goroutine
func (s *Schedule) Start() {
	s.cron.Start()
	log.Infof("aggregation schedule started")
}

// Stop halts the runner and waits for running jobs to finish
func (s *Schedule) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Infof("aggregation schedule stopped")
}

func runDaily(engine *Engine) {
	yesterday := engine.today().AddDate(0, 0, -1)
	if _, err := engine.AggregateDaily(context.Background(), yesterday, true); err != nil {
		log.Errorf("scheduled daily aggregation: %v", err) //nolint:errcheck
	}
}

func runMonthly(engine *Engine) {
	today := engine.today()
	first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	prev := first.AddDate(0, -1, 0)
	if _, err := engine.AggregateMonthly(context.Background(), prev.Year(), int(prev.Month())); err != nil {
		log.Errorf("scheduled monthly aggregation: %v", err) //nolint:errcheck
	}
}

func runYearly(engine *Engine) {
	prevYear := engine.today().Year() - 1
	if _, err := engine.AggregateYearly(context.Background(), prevYear); err != nil {
		log.Errorf("scheduled yearly aggregation: %v", err) //nolint:errcheck
	}
}
