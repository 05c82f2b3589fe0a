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

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/niura/neurostream/pkg/auth"
	"github.com/niura/neurostream/pkg/bus"
	"github.com/niura/neurostream/pkg/config"
	"github.com/niura/neurostream/pkg/gateway"
	"github.com/niura/neurostream/pkg/util/log"
	"github.com/niura/neurostream/pkg/version"
)

var (
	gatewayCmd = &cobra.Command{
		Use:   "gateway [command]",
		Short: "Neurostream edge gateway",
		Long: `
The gateway terminates the client connections of the neurostream
platform: WebSocket ingress and metric fan-out, single-frame HTTP
ingest, and the authenticated reverse proxy in front of the worker and
core services.`,
	}

	startCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the gateway",
		Long:  `Runs the gateway in the foreground`,
		RunE:  start,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("neurostream-gateway %s - Commit: %s\n", version.Version, version.Commit)
		},
	}

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Mint a development token",
		Long:  `Creates a signed bearer token with the configured issuer and audience`,
		RunE:  mintToken,
	}

	confPath string
	tokenSub int64
	tokenTTL time.Duration
)

// loggerName is the name of the gateway logger
const loggerName config.LoggerName = "GATEWAY"

func init() {
	gatewayCmd.AddCommand(startCmd)
	gatewayCmd.AddCommand(versionCmd)
	gatewayCmd.AddCommand(tokenCmd)

	startCmd.Flags().StringVarP(&confPath, "cfgpath", "c", "", "path to folder containing neurostream.yaml")
	tokenCmd.Flags().Int64Var(&tokenSub, "sub", 1, "user id to mint the token for")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
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

func newVerifier() (*auth.Verifier, error) {
	return auth.NewVerifier(
		config.Neurostream.GetString("jwt_secret_key"),
		config.Neurostream.GetString("jwt_issuer"),
		config.Neurostream.GetString("jwt_audience"),
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

func start(cmd *cobra.Command, args []string) error {
	if err := setup(); err != nil {
		return err
	}
	defer log.Flush()

	verifier, err := newVerifier()
	if err != nil {
		return err
	}

	opts := busOptions()
	producer, err := bus.NewProducer(opts)
	if err != nil {
		return err
	}
	defer producer.Close() //nolint:errcheck

	if redisURL := config.Neurostream.GetString("redis_url"); redisURL != "" {
		redisOpts, err := redis.ParseURL(redisURL)
		if err != nil {
			return fmt.Errorf("parsing redis url: %w", err)
		}
		producer.WithDedup(redis.NewClient(redisOpts), config.Neurostream.GetDuration("bus.dedup_ttl"))
	}

	worker, err := gateway.NewUpstream("worker", config.Neurostream.GetString("eeg_service_url"))
	if err != nil {
		return fmt.Errorf("parsing eeg_service_url: %w", err)
	}
	core, err := gateway.NewUpstream("core", config.Neurostream.GetString("core_service_url"))
	if err != nil {
		return fmt.Errorf("parsing core_service_url: %w", err)
	}

	proxy := gateway.NewProxy(gateway.ProxyConfig{
		Timeout:      config.Neurostream.GetDuration("proxy.timeout"),
		MediaTimeout: config.Neurostream.GetDuration("proxy.media_timeout"),
	})

	eegHub, metricsHub := gateway.NewHub("eeg"), gateway.NewHub("metrics")
	server := gateway.NewServer(verifier, producer, proxy, worker, core, eegHub, metricsHub)

	fanout, err := bus.NewConsumer(opts, "gateway", opts.ProcessedTopic, gateway.NewFanOut(metricsHub).Handle)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d",
		config.Neurostream.GetString("bind_host"),
		config.Neurostream.GetInt("gateway.port"))
	httpServer := &http.Server{Addr: addr, Handler: server.Router()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Infof("gateway listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := fanout.Run(ctx)
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
	fanout.Close() //nolint:errcheck
	log.Infof("gateway stopped")
	return err
}

func mintToken(cmd *cobra.Command, args []string) error {
	if err := setup(); err != nil {
		return err
	}
	defer log.Flush()

	verifier, err := newVerifier()
	if err != nil {
		return err
	}
	token, err := verifier.Create(tokenSub, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func main() {
	if err := gatewayCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
