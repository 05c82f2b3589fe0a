// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"

	"github.com/niura/neurostream/pkg/eeg"
	"github.com/niura/neurostream/pkg/telemetry"
	"github.com/niura/neurostream/pkg/util/log"
)

// ErrDuplicate reports that a raw batch was suppressed by its dedup key
var ErrDuplicate = fmt.Errorf("duplicate batch")

// Producer publishes batches synchronously with idempotent semantics.
// When a redis client is attached, raw batches are additionally
// deduplicated on (user, first-sample-ts).
type Producer struct {
	producer sarama.SyncProducer
	opts     Options

	redis    *redis.Client
	dedupTTL time.Duration
}

// NewProducer connects a synchronous producer to the broker
func NewProducer(opts Options) (*Producer, error) {
	producer, err := sarama.NewSyncProducer([]string{opts.Broker}, opts.producerConfig())
	if err != nil {
		return nil, fmt.Errorf("connecting producer to %s: %w", opts.Broker, err)
	}
	return &Producer{producer: producer, opts: opts}, nil
}

// NewProducerFromClient wraps an existing sarama producer, used by tests
func NewProducerFromClient(p sarama.SyncProducer, opts Options) *Producer {
	return &Producer{producer: p, opts: opts}
}

// WithDedup attaches a redis client used to suppress duplicate raw
// batches for ttl.
func (p *Producer) WithDedup(client *redis.Client, ttl time.Duration) *Producer {
	p.redis = client
	p.dedupTTL = ttl
	return p
}

// PublishRaw publishes a raw batch to the raw topic keyed by user id.
// Returns ErrDuplicate when the dedup key was already seen.
func (p *Producer) PublishRaw(ctx context.Context, batch *eeg.RawBatch) error {
	if p.redis != nil {
		key := fmt.Sprintf("eeg:pub:%d:%d", batch.UserID, batch.FirstTimestamp().UnixMicro())
		ok, err := p.redis.SetNX(ctx, key, 1, p.dedupTTL).Result()
		if err != nil {
			// dedup is best effort, a broken cache must not block ingest
			log.Warnf("dedup check failed, publishing anyway: %v", err)
		} else if !ok {
			telemetry.PublishDuplicates.Inc()
			return ErrDuplicate
		}
	}
	return p.publish(ctx, p.opts.RawTopic, batch.UserID, batch)
}

// PublishProcessed publishes a processed batch keyed by user id
func (p *Producer) PublishProcessed(ctx context.Context, batch *eeg.ProcessedBatch) error {
	return p.publish(ctx, p.opts.ProcessedTopic, batch.UserID, batch)
}

// PublishDeadLetter parks an undecodable or repeatedly failing raw
// payload on the DLQ topic. No-op when no DLQ topic is configured.
func (p *Producer) PublishDeadLetter(ctx context.Context, userID int64, payload []byte) error {
	if p.opts.DLQTopic == "" {
		return nil
	}
	return p.send(ctx, &sarama.ProducerMessage{
		Topic: p.opts.DLQTopic,
		Key:   sarama.StringEncoder(strconv.FormatInt(userID, 10)),
		Value: sarama.ByteEncoder(payload),
	})
}

func (p *Producer) publish(ctx context.Context, topic string, userID int64, payload interface{}) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding message for %s: %w", topic, err)
	}
	return p.send(ctx, &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(userID, 10)),
		Value: sarama.ByteEncoder(value),
	})
}

// send delivers one message within the publish budget. SendMessage has
// no context support, so the deadline is enforced on a side channel;
// an abandoned send is left to the producer's own timeout.
func (p *Producer) send(ctx context.Context, msg *sarama.ProducerMessage) error {
	timeout := p.opts.PublishTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, _, err := p.producer.SendMessage(msg)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			telemetry.PublishErrors.Inc()
			return fmt.Errorf("publishing to %s: %w", msg.Topic, err)
		}
		return nil
	case <-ctx.Done():
		telemetry.PublishErrors.Inc()
		return fmt.Errorf("publishing to %s: %w", msg.Topic, ctx.Err())
	}
}

// Close shuts the underlying producer down
func (p *Producer) Close() error {
	return p.producer.Close()
}
