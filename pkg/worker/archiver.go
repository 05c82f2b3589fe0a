// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cenkalti/backoff/v4"

	"github.com/niura/neurostream/pkg/eeg"
	"github.com/niura/neurostream/pkg/util/log"
)

// s3Client is the slice of the S3 API the archiver uses
type s3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver copies consumed raw batches to the cold-storage bucket.
// Uploads are fire and forget: they run on a single background
// goroutine, are retried with exponential backoff, and never block the
// processing pipeline. A full queue drops the batch.
type Archiver struct {
	client s3Client
	bucket string

	queue    chan *eeg.RawBatch
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewArchiver starts the upload goroutine for the given bucket
func NewArchiver(client s3Client, bucket string) *Archiver {
	a := &Archiver{
		client: client,
		bucket: bucket,
		queue:  make(chan *eeg.RawBatch, 128),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Submit enqueues one batch for archival, dropping it when the queue
// is full.
func (a *Archiver) Submit(batch *eeg.RawBatch) {
	select {
	case a.queue <- batch:
	default:
		log.Warnf("archive queue full, dropping batch for user %d", batch.UserID)
	}
}

func (a *Archiver) run() {
	defer a.wg.Done()
	for batch := range a.queue {
		if err := a.upload(batch); err != nil {
			log.Warnf("archiving batch for user %d: %v", batch.UserID, err)
		}
	}
}

func (a *Archiver) upload(batch *eeg.RawBatch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encoding batch: %w", err)
	}
	key := fmt.Sprintf("raw/user-%d/%d.json", batch.UserID, batch.FirstTimestamp().UnixMicro())

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 2 * time.Minute

	return backoff.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(a.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(body),
			ContentType: aws.String("application/json"),
		})
		return err
	}, policy)
}

// Stop drains the queue and waits for the upload goroutine
func (a *Archiver) Stop() {
	a.stopOnce.Do(func() { close(a.queue) })
	a.wg.Wait()
}
