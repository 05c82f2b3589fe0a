// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/niura/neurostream/pkg/aggregator"
	"github.com/niura/neurostream/pkg/auth"
	"github.com/niura/neurostream/pkg/bus"
	"github.com/niura/neurostream/pkg/config"
	"github.com/niura/neurostream/pkg/query"
	"github.com/niura/neurostream/pkg/store"
	"github.com/niura/neurostream/pkg/util/log"
	"github.com/niura/neurostream/pkg/version"
)

var (
	coreCmd = &cobra.Command{
		Use:   "core [command]",
		Short: "Neurostream core service",
		Long: `
The core service persists processed metric batches, serves the query
and session APIs and runs the scheduled aggregation tiers.`,
	}

	startCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the core service",
		Long:  `Runs the core service in the foreground`,
		RunE:  start,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE:  migrate,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("neurostream-core %s - Commit: %s\n", version.Version, version.Commit)
		},
	}

	confPath string
)

const loggerName config.LoggerName = "CORE"

func init() {
	coreCmd.AddCommand(startCmd)
	coreCmd.AddCommand(migrateCmd)
	coreCmd.AddCommand(versionCmd)
	startCmd.Flags().StringVarP(&confPath, "cfgpath", "c", "", "path to folder containing neurostream.yaml")
}

func setup() error {
	if confPath != "" {
		config.Neurostream.AddConfigPath(confPath)
	}
	if err := config.Load(); err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	return config.SetupLogger(
		loggerName,
		config.Neurostream.GetString("log_level"),
		config.Neurostream.GetString("log_file"),
		config.Neurostream.GetBool("log_to_console"),
		config.Neurostream.GetBool("log_format_json"),
	)
}

func busOptions() bus.Options {
	return bus.Options{
		Broker:         config.Neurostream.GetString("kafka_broker"),
		Local:          config.IsLocal(),
		Region:         config.Neurostream.GetString("kafka_region"),
		RawTopic:       config.Neurostream.GetString("bus.raw_topic"),
		ProcessedTopic: config.Neurostream.GetString("bus.processed_topic"),
		DLQTopic:       config.Neurostream.GetString("bus.dlq_topic"),
		PublishTimeout: config.Neurostream.GetDuration("bus.publish_timeout"),
	}
}

func openStore() (*store.Store, error) {
	databaseURL := config.Neurostream.GetString("database_url")
	if databaseURL == "" {
		return nil, fmt.Errorf("database_url is not set")
	}
	return store.New(databaseURL, store.PoolOptions{
		Size:            config.Neurostream.GetInt("database_pool_size"),
		MaxOverflow:     config.Neurostream.GetInt("database_max_overflow"),
		ConnMaxLifetime: time.Duration(config.Neurostream.GetInt("database_conn_max_lifetime")) * time.Second,
	})
}

func start(cmd *cobra.Command, args []string) error {
	if err := setup(); err != nil {
		return err
	}
	defer log.Flush()

	if config.Neurostream.GetBool("database_migrate_on_start") {
		if err := store.Migrate(config.Neurostream.GetString("database_url")); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck

	verifier, err := auth.NewVerifier(
		config.Neurostream.GetString("jwt_secret_key"),
		config.Neurostream.GetString("jwt_issuer"),
		config.Neurostream.GetString("jwt_audience"),
	)
	if err != nil {
		return err
	}

	engine := aggregator.New(db)
	service := query.New(db)
	api := query.NewAPI(service, db, engine, verifier)

	opts := busOptions()
	consumer, err := bus.NewConsumer(opts, "core-service-consumer", opts.ProcessedTopic, query.NewPersister(db).Handle)
	if err != nil {
		return err
	}

	var schedule *aggregator.Schedule
	if config.Neurostream.GetBool("aggregation.schedule_enabled") {
		schedule, err = aggregator.NewSchedule(engine, aggregator.ScheduleConfig{
			DailyCron:   config.Neurostream.GetString("aggregation.daily_cron"),
			MonthlyCron: config.Neurostream.GetString("aggregation.monthly_cron"),
			YearlyCron:  config.Neurostream.GetString("aggregation.yearly_cron"),
		})
		if err != nil {
			return err
		}
		schedule.Start()
	}

	addr := fmt.Sprintf("%s:%d",
		config.Neurostream.GetString("bind_host"),
		config.Neurostream.GetInt("core.http_port"))
	httpServer := &http.Server{Addr: addr, Handler: api.Router()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Infof("core API listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := consumer.Run(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})
	g.Go(func() error {
		signalCh := make(chan os.Signal, 1)
		signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
		select {
		case sig := <-signalCh:
			log.Infof("received %s, shutting down", sig)
		case <-ctx.Done():
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	consumer.Close() //nolint:errcheck
	if schedule != nil {
		schedule.Stop()
	}
	log.Infof("core service stopped")
	return err
}

func migrate(cmd *cobra.Command, args []string) error {
	if err := setup(); err != nil {
		return err
	}
	defer log.Flush()

	if err := store.Migrate(config.Neurostream.GetString("database_url")); err != nil {
		return err
	}
	log.Infof("migrations applied")
	return nil
}

func main() {
	if err := coreCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
