// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package bus wraps the Kafka producer and consumer groups carrying
// raw and processed EEG batches. Both topics are partitioned by user
// id, which gives per-user ordering with at-least-once delivery.
package bus

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/IBM/sarama"
	"github.com/aws/aws-msk-iam-sasl-signer-go/signer"
)

// Options carries the broker settings shared by producers and consumers
type Options struct {
	Broker string
	// Local switches between PLAINTEXT (true) and SASL_SSL with
	// OAUTHBEARER against MSK IAM (false).
	Local  bool
	Region string

	RawTopic       string
	ProcessedTopic string
	DLQTopic       string

	PublishTimeout time.Duration
}

// mskAccessTokenProvider mints OAUTHBEARER tokens from the MSK IAM signer
type mskAccessTokenProvider struct {
	region string
}

func (p *mskAccessTokenProvider) Token() (*sarama.AccessToken, error) {
	token, _, err := signer.GenerateAuthToken(context.Background(), p.region)
	if err != nil {
		return nil, err
	}
	return &sarama.AccessToken{Token: token}, nil
}

// baseConfig returns the sarama configuration for the environment
func (o Options) baseConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_6_0_0
	cfg.ClientID = "neurostream"

	if !o.Local {
		cfg.Net.SASL.Enable = true
		cfg.Net.SASL.Mechanism = sarama.SASLTypeOAuth
		cfg.Net.SASL.TokenProvider = &mskAccessTokenProvider{region: o.Region}
		cfg.Net.TLS.Enable = true
		cfg.Net.TLS.Config = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return cfg
}

// producerConfig enables idempotent synchronous production. A single
// open request per broker keeps the idempotence guarantee.
func (o Options) producerConfig() *sarama.Config {
	cfg := o.baseConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond
	cfg.Producer.Return.Successes = true
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	if o.PublishTimeout > 0 {
		cfg.Producer.Timeout = o.PublishTimeout
	}
	return cfg
}

// consumerConfig starts from the oldest offset and relies on explicit
// marks after handling (at-least-once).
func (o Options) consumerConfig() *sarama.Config {
	cfg := o.baseConfig()
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	// prefetch=1 behaviour: one in-flight batch per partition claim
	cfg.ChannelBufferSize = 1
	return cfg
}
