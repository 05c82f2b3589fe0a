// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package config holds the global configuration of the neurostream
// services. Every key is bound to an environment variable (lower_snake
// key maps to the UPPER_SNAKE env name, dots become underscores) and can
// also come from an optional YAML file or a local .env file.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is a thin facade over viper shared by all services
type Config struct {
	*viper.Viper
}

// BindEnvAndSetDefault binds a key to its environment variable and
// registers its default value
func (c Config) BindEnvAndSetDefault(key string, val interface{}) {
	c.SetDefault(key, val)
	c.BindEnv(key) //nolint:errcheck
}

// Neurostream is the global configuration object
var Neurostream Config

func init() {
	Neurostream = NewConfig("neurostream", "", strings.NewReplacer(".", "_"))
	initConfig(Neurostream)
}

// NewConfig returns a new Config with the given file name and env binding
func NewConfig(name string, envPrefix string, envKeyReplacer *strings.Replacer) Config {
	v := viper.New()
	v.SetConfigName(name)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(envKeyReplacer)
	return Config{v}
}

// Load reads the optional .env file from the working directory and the
// config file when one was registered with SetConfigName/AddConfigPath.
// Missing files are not an error: env-only deployments are the default.
func Load() error {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return err
		}
	}
	err := Neurostream.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return err
	}
	return nil
}

// initConfig initializes the config defaults on a config
func initConfig(config Config) {
	// Environment
	config.BindEnvAndSetDefault("app_env", "local")
	config.BindEnv("database_url")

	// Auth
	config.BindEnvAndSetDefault("jwt_secret_key", "")
	config.BindEnvAndSetDefault("jwt_algo", "HS256")
	config.BindEnvAndSetDefault("jwt_issuer", "niura-gateway")
	config.BindEnvAndSetDefault("jwt_audience", "niura-services")
	config.BindEnvAndSetDefault("access_token_expire_minutes", 60)

	// Bus
	config.BindEnvAndSetDefault("kafka_broker", "localhost:9092")
	config.BindEnvAndSetDefault("kafka_region", "us-east-1")
	config.BindEnvAndSetDefault("kafka_group_id", "eeg-service-consumer")
	config.BindEnvAndSetDefault("bus.raw_topic", "eeg.raw.data")
	config.BindEnvAndSetDefault("bus.processed_topic", "eeg.processed.data")
	config.BindEnvAndSetDefault("bus.dlq_topic", "eeg.raw.data.dlq")
	config.BindEnvAndSetDefault("bus.publish_timeout", 5*time.Second)
	config.BindEnvAndSetDefault("bus.dedup_ttl", 10*time.Minute)

	// Upstream services
	config.BindEnvAndSetDefault("core_service_url", "http://core-service:8001")
	config.BindEnvAndSetDefault("eeg_service_url", "http://eeg-service:8002")
	config.BindEnvAndSetDefault("ocr_stt_service_url", "http://ocr-service:8003")

	// Side stores
	config.BindEnvAndSetDefault("raw_eeg_bucket", "")
	config.BindEnvAndSetDefault("redis_url", "")

	// Logging
	config.BindEnvAndSetDefault("log_level", "info")
	config.BindEnvAndSetDefault("log_file", "")
	config.BindEnvAndSetDefault("log_to_console", true)
	config.BindEnvAndSetDefault("log_format_json", false)
	config.BindEnvAndSetDefault("disable_file_logging", false)

	// HTTP listeners
	config.BindEnvAndSetDefault("bind_host", "0.0.0.0")
	config.BindEnvAndSetDefault("gateway.port", 8000)
	config.BindEnvAndSetDefault("core.http_port", 8001)
	config.BindEnvAndSetDefault("worker.http_port", 8002)

	// Worker pool
	config.BindEnvAndSetDefault("worker.pool_size", 0) // 0 picks max(4, 2 x NumCPU)
	config.BindEnvAndSetDefault("worker.max_tasks_per_worker", 1000)
	config.BindEnvAndSetDefault("worker.soft_deadline", 30*time.Second)
	config.BindEnvAndSetDefault("worker.hard_deadline", 45*time.Second)
	config.BindEnvAndSetDefault("worker.max_retries", 3)

	// Signal kernel
	config.BindEnvAndSetDefault("kernel.method", "fft")
	config.BindEnvAndSetDefault("kernel.model_path", "")
	config.BindEnvAndSetDefault("kernel.sample_rate", 250)
	config.BindEnvAndSetDefault("kernel.vref", 4.5)
	config.BindEnvAndSetDefault("kernel.gain", 24.0)
	config.BindEnvAndSetDefault("kernel.adc_bits", 24)

	// Aggregation schedule (UTC)
	config.BindEnvAndSetDefault("aggregation.schedule_enabled", true)
	config.BindEnvAndSetDefault("aggregation.daily_cron", "0 2 * * *")
	config.BindEnvAndSetDefault("aggregation.monthly_cron", "0 3 1 * *")
	config.BindEnvAndSetDefault("aggregation.yearly_cron", "0 4 1 1 *")

	// Database pool
	config.BindEnvAndSetDefault("database_pool_size", 15)
	config.BindEnvAndSetDefault("database_max_overflow", 25)
	config.BindEnvAndSetDefault("database_conn_max_lifetime", 3600)
	config.BindEnvAndSetDefault("database_migrate_on_start", false)

	// Proxy
	config.BindEnvAndSetDefault("proxy.timeout", 30*time.Second)
	config.BindEnvAndSetDefault("proxy.media_timeout", 120*time.Second)

	// Retry settings for blocked upstreams
	config.BindEnvAndSetDefault("forwarder_backoff_factor", 2)
	config.BindEnvAndSetDefault("forwarder_backoff_base", 2)
	config.BindEnvAndSetDefault("forwarder_backoff_max", 64)
	config.BindEnvAndSetDefault("forwarder_recovery_interval", 2)
	config.BindEnvAndSetDefault("forwarder_recovery_reset", false)
}

// IsLocal reports whether the platform runs against a local broker
// (plaintext Kafka, no SASL).
func IsLocal() bool {
	return Neurostream.GetString("app_env") == "local"
}
