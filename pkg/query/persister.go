// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package query

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"

	"github.com/niura/neurostream/pkg/eeg"
	"github.com/niura/neurostream/pkg/store"
	"github.com/niura/neurostream/pkg/telemetry"
	"github.com/niura/neurostream/pkg/util/log"
)

// Persister is the core service's processed-topic handler: it writes
// the per-second records of each batch to the store. Conflicting rows
// from redelivered batches are dropped by the insert, so the handler
// is safe under at-least-once delivery.
type Persister struct {
	store *store.Store
}

// NewPersister builds a Persister on the store
func NewPersister(s *store.Store) *Persister {
	return &Persister{store: s}
}

// Handle implements the bus handler for the processed topic. Decode
// failures are logged and acknowledged; store failures propagate so
// the message is redelivered.
func (p *Persister) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var batch eeg.ProcessedBatch
	if err := json.Unmarshal(msg.Value, &batch); err != nil {
		log.Warnf("undecodable processed batch at %s/%d@%d: %v, dropping", msg.Topic, msg.Partition, msg.Offset, err)
		return nil
	}

	inserted, err := p.store.InsertMetricRecords(ctx, batch.UserID, batch.Records)
	if err != nil {
		return err
	}
	telemetry.RecordsPersisted.Add(float64(inserted))
	log.Debugf("persisted %d/%d records for user %d", inserted, len(batch.Records), batch.UserID)
	return nil
}
