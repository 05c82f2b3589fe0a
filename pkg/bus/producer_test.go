// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niura/neurostream/pkg/eeg"
)

func testOptions() Options {
	return Options{
		Broker:         "localhost:9092",
		Local:          true,
		RawTopic:       "eeg.raw.data",
		ProcessedTopic: "eeg.processed.data",
		DLQTopic:       "eeg.raw.data.dlq",
		PublishTimeout: 5 * time.Second,
	}
}

func rawBatch(userID int64) *eeg.RawBatch {
	return &eeg.RawBatch{
		UserID: userID,
		Data: eeg.RawData{
			Duration: 2,
			Records: []eeg.RawRecord{{
				SampleIndex: 0,
				Timestamp:   time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC),
				EEG:         []float64{1, 2, 3, 4},
			}},
		},
	}
}

func TestPublishRawEncodesBatch(t *testing.T) {
	opts := testOptions()
	mock := mocks.NewSyncProducer(t, opts.producerConfig())
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, opts.RawTopic, msg.Topic)

		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "7", string(key))

		value, err := msg.Value.Encode()
		require.NoError(t, err)
		var decoded eeg.RawBatch
		require.NoError(t, json.Unmarshal(value, &decoded))
		assert.Equal(t, int64(7), decoded.UserID)
		assert.Len(t, decoded.Data.Records, 1)
		return nil
	})

	p := NewProducerFromClient(mock, opts)
	require.NoError(t, p.PublishRaw(context.Background(), rawBatch(7)))
	require.NoError(t, p.Close())
}

func TestPublishRawDedup(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	opts := testOptions()
	mock := mocks.NewSyncProducer(t, opts.producerConfig())
	mock.ExpectSendMessageAndSucceed()

	p := NewProducerFromClient(mock, opts).WithDedup(client, 10*time.Minute)

	require.NoError(t, p.PublishRaw(context.Background(), rawBatch(7)))
	// same (user, first-sample-ts) is suppressed
	assert.ErrorIs(t, p.PublishRaw(context.Background(), rawBatch(7)), ErrDuplicate)
	require.NoError(t, p.Close())
}

func TestPublishRawDedupExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	opts := testOptions()
	mock := mocks.NewSyncProducer(t, opts.producerConfig())
	mock.ExpectSendMessageAndSucceed()
	mock.ExpectSendMessageAndSucceed()

	p := NewProducerFromClient(mock, opts).WithDedup(client, time.Minute)

	require.NoError(t, p.PublishRaw(context.Background(), rawBatch(7)))
	mr.FastForward(2 * time.Minute)
	require.NoError(t, p.PublishRaw(context.Background(), rawBatch(7)))
	require.NoError(t, p.Close())
}

func TestPublishProcessed(t *testing.T) {
	opts := testOptions()
	mock := mocks.NewSyncProducer(t, opts.producerConfig())
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, opts.ProcessedTopic, msg.Topic)
		return nil
	})

	p := NewProducerFromClient(mock, opts)
	batch := &eeg.ProcessedBatch{
		UserID:  7,
		Records: []eeg.MetricRecord{{FocusLabel: 2.7, StressLabel: 1.2, WellnessLabel: 55}},
	}
	require.NoError(t, p.PublishProcessed(context.Background(), batch))
	require.NoError(t, p.Close())
}

func TestPublishFailureSurfaces(t *testing.T) {
	opts := testOptions()
	mock := mocks.NewSyncProducer(t, opts.producerConfig())
	mock.ExpectSendMessageAndFail(sarama.ErrBrokerNotAvailable)

	p := NewProducerFromClient(mock, opts)
	assert.Error(t, p.PublishRaw(context.Background(), rawBatch(7)))
	require.NoError(t, p.Close())
}

func TestPublishDeadLetterWithoutTopic(t *testing.T) {
	opts := testOptions()
	opts.DLQTopic = ""
	mock := mocks.NewSyncProducer(t, opts.producerConfig())

	p := NewProducerFromClient(mock, opts)
	// no expectation registered: a send would fail the test
	require.NoError(t, p.PublishDeadLetter(context.Background(), 7, []byte("{}")))
	require.NoError(t, p.Close())
}
