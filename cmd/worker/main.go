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

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/niura/neurostream/pkg/bus"
	"github.com/niura/neurostream/pkg/config"
	"github.com/niura/neurostream/pkg/eeg/kernel"
	"github.com/niura/neurostream/pkg/util/log"
	"github.com/niura/neurostream/pkg/version"
	"github.com/niura/neurostream/pkg/worker"
)

var (
	workerCmd = &cobra.Command{
		Use:   "worker [command]",
		Short: "Neurostream signal worker",
		Long: `
The worker consumes raw EEG batches from the bus, runs them through the
signal kernel and publishes per-second metric records. It also exposes
the bulk upload HTTP endpoints.`,
	}

	startCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the worker",
		Long:  `Runs the worker in the foreground`,
		RunE:  start,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("neurostream-worker %s - Commit: %s\n", version.Version, version.Commit)
		},
	}

	confPath string
)

const loggerName config.LoggerName = "WORKER"

func init() {
	workerCmd.AddCommand(startCmd)
	workerCmd.AddCommand(versionCmd)
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

func newProcessor() (*worker.Processor, error) {
	sampleRate := config.Neurostream.GetInt("kernel.sample_rate")
	base := kernel.Config{
		SampleRate: sampleRate,
		Vref:       config.Neurostream.GetFloat64("kernel.vref"),
		Gain:       config.Neurostream.GetFloat64("kernel.gain"),
		ADCBits:    config.Neurostream.GetInt("kernel.adc_bits"),
		ModelPath:  config.Neurostream.GetString("kernel.model_path"),
	}

	defCfg := base
	defCfg.Method = config.Neurostream.GetString("kernel.method")
	def, err := kernel.New(defCfg)
	if err != nil {
		return nil, fmt.Errorf("building default kernel: %w", err)
	}
	processor := worker.NewProcessor(def, sampleRate)

	// register the other method so bulk requests can pick either one
	for _, method := range []string{"fft", "ml"} {
		if method == def.Method() {
			continue
		}
		alt := base
		alt.Method = method
		k, err := kernel.New(alt)
		if err != nil {
			log.Warnf("kernel %q unavailable: %v", method, err) //nolint:errcheck
			continue
		}
		processor.Register(k)
	}
	return processor, nil
}

func newArchiver() (*worker.Archiver, error) {
	bucket := config.Neurostream.GetString("raw_eeg_bucket")
	if bucket == "" {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}
	return worker.NewArchiver(s3.NewFromConfig(awsCfg), bucket), nil
}

func start(cmd *cobra.Command, args []string) error {
	if err := setup(); err != nil {
		return err
	}
	defer log.Flush()

	processor, err := newProcessor()
	if err != nil {
		return err
	}

	opts := busOptions()
	producer, err := bus.NewProducer(opts)
	if err != nil {
		return err
	}
	defer producer.Close() //nolint:errcheck

	archiver, err := newArchiver()
	if err != nil {
		return err
	}

	pool := worker.NewPool(worker.PoolConfig{
		Size:            config.Neurostream.GetInt("worker.pool_size"),
		MaxTasksPerLane: config.Neurostream.GetInt("worker.max_tasks_per_worker"),
		SoftDeadline:    config.Neurostream.GetDuration("worker.soft_deadline"),
		HardDeadline:    config.Neurostream.GetDuration("worker.hard_deadline"),
		MaxRetries:      config.Neurostream.GetInt("worker.max_retries"),
	}, processor, producer, archiver)

	consumer, err := bus.NewConsumer(opts, config.Neurostream.GetString("kafka_group_id"), opts.RawTopic, pool.Handle)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d",
		config.Neurostream.GetString("bind_host"),
		config.Neurostream.GetInt("worker.http_port"))
	httpServer := &http.Server{Addr: addr, Handler: worker.NewAPI(producer).Router()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Infof("worker API listening on %s", addr)
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
	pool.Stop()
	if archiver != nil {
		archiver.Stop()
	}
	log.Infof("worker stopped")
	return err
}

func main() {
	if err := workerCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
