// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/benbjohnson/clock"

	"github.com/niura/neurostream/pkg/bus"
	"github.com/niura/neurostream/pkg/eeg"
	"github.com/niura/neurostream/pkg/telemetry"
	"github.com/niura/neurostream/pkg/util/log"
)

// errHardDeadline reports a task that outlived the hard deadline; the
// owning lane is abandoned and restarted.
var errHardDeadline = errors.New("task exceeded hard deadline")

// PoolConfig tunes the kernel lane pool
type PoolConfig struct {
	// Size is the number of lanes; 0 picks max(4, 2 x NumCPU)
	Size int
	// MaxTasksPerLane recycles a lane after this many tasks
	MaxTasksPerLane int
	// SoftDeadline aborts the running task
	SoftDeadline time.Duration
	// HardDeadline abandons the lane
	HardDeadline time.Duration
	// MaxRetries bounds redelivery attempts before dead-lettering
	MaxRetries int
}

func (c *PoolConfig) defaults() {
	if c.Size <= 0 {
		c.Size = 2 * runtime.NumCPU()
		if c.Size < 4 {
			c.Size = 4
		}
	}
	if c.MaxTasksPerLane <= 0 {
		c.MaxTasksPerLane = 1000
	}
	if c.SoftDeadline <= 0 {
		c.SoftDeadline = 30 * time.Second
	}
	if c.HardDeadline <= 0 {
		c.HardDeadline = 45 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
}

// task is one raw batch waiting for a lane
type task struct {
	batch *eeg.RawBatch
	done  chan error
}

// Pool dispatches raw batches to kernel lanes by user id hash and
// publishes the processed results. One batch is in flight per lane at
// a time (prefetch=1); ordering per user is preserved because a user
// always hashes to the same lane.
type Pool struct {
	cfg       PoolConfig
	processor *Processor
	producer  *bus.Producer
	archiver  *Archiver
	clock     clock.Clock

	lanes []chan task
	wg    sync.WaitGroup

	stopOnce sync.Once
}

// NewPool builds and starts the lane pool. archiver may be nil.
func NewPool(cfg PoolConfig, processor *Processor, producer *bus.Producer, archiver *Archiver) *Pool {
	cfg.defaults()
	p := &Pool{
		cfg:       cfg,
		processor: processor,
		producer:  producer,
		archiver:  archiver,
		clock:     clock.New(),
	}
	p.lanes = make([]chan task, cfg.Size)
	for i := range p.lanes {
		p.lanes[i] = make(chan task)
		p.wg.Add(1)
		go p.runLane(i)
	}
	log.Infof("kernel pool started with %d lanes", cfg.Size)
	return p
}

// Handle implements the bus handler for the raw topic. It blocks until
// the batch is fully processed so the consumer marks offsets only for
// completed work. Undecodable payloads and batches that exhausted
// their retries are parked on the DLQ and acknowledged.
func (p *Pool) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var batch eeg.RawBatch
	if err := json.Unmarshal(msg.Value, &batch); err != nil {
		log.Warnf("undecodable raw batch at %s/%d@%d: %v, dead-lettering", msg.Topic, msg.Partition, msg.Offset, err)
		return p.park(ctx, userIDFromKey(msg.Key), msg.Value)
	}

	if p.archiver != nil {
		p.archiver.Submit(&batch)
	}

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		if lastErr = p.dispatch(ctx, &batch); lastErr == nil {
			telemetry.BatchesProcessed.Inc()
			return nil
		}
		telemetry.BatchesRetried.Inc()
		log.Warnf("batch for user %d attempt %d/%d failed: %v", batch.UserID, attempt, p.cfg.MaxRetries, lastErr)
		if attempt < p.cfg.MaxRetries {
			// exponential backoff: 2^attempt seconds
			delay := time.Duration(1<<uint(attempt)) * time.Second
			select {
			case <-p.clock.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	log.Errorf("batch for user %d exhausted %d attempts: %v", batch.UserID, p.cfg.MaxRetries, lastErr) //nolint:errcheck
	return p.park(ctx, batch.UserID, msg.Value)
}

// park dead-letters a payload when a DLQ topic is configured and
// acknowledges the message either way.
func (p *Pool) park(ctx context.Context, userID int64, payload []byte) error {
	if err := p.producer.PublishDeadLetter(ctx, userID, payload); err != nil {
		// the original message stays unmarked and will be redelivered
		return fmt.Errorf("parking batch: %w", err)
	}
	telemetry.BatchesDeadLettered.Inc()
	return nil
}

// dispatch hands the batch to its user's lane and waits for the result
func (p *Pool) dispatch(ctx context.Context, batch *eeg.RawBatch) error {
	t := task{batch: batch, done: make(chan error, 1)}
	lane := p.laneFor(batch.UserID)

	select {
	case p.lanes[lane] <- t:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) laneFor(userID int64) int {
	h := fnv.New32a()
	h.Write([]byte(strconv.FormatInt(userID, 10))) //nolint:errcheck
	return int(h.Sum32() % uint32(len(p.lanes)))
}

// runLane processes tasks one at a time. The lane restarts itself
// after MaxTasksPerLane tasks to bound memory, and abandons itself
// when a task blows through the hard deadline.
func (p *Pool) runLane(i int) {
	defer p.wg.Done()

	handled := 0
	for t := range p.lanes[i] {
		start := p.clock.Now()
		err := p.runTask(t.batch)
		telemetry.TaskDuration.Observe(p.clock.Since(start).Seconds())
		t.done <- err
		handled++

		if errors.Is(err, errHardDeadline) {
			log.Errorf("lane %d abandoned after hard deadline, restarting", i) //nolint:errcheck
			p.respawn(i)
			return
		}
		if handled >= p.cfg.MaxTasksPerLane {
			log.Debugf("lane %d recycling after %d tasks", i, handled)
			p.respawn(i)
			return
		}
	}
}

func (p *Pool) respawn(i int) {
	p.wg.Add(1)
	go p.runLane(i)
}

// runTask runs processing and publishing under the soft deadline,
// bounded by the hard deadline. On hard deadline the in-flight
// goroutine is left to finish on its own and its result discarded.
func (p *Pool) runTask(batch *eeg.RawBatch) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.SoftDeadline)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		processed, err := p.processor.ProcessBatch(ctx, batch)
		if err != nil {
			result <- err
			return
		}
		result <- p.producer.PublishProcessed(ctx, processed)
	}()

	hard := p.clock.Timer(p.cfg.HardDeadline)
	defer hard.Stop()

	select {
	case err := <-result:
		return err
	case <-hard.C:
		cancel()
		return errHardDeadline
	}
}

// Stop closes the lanes and waits for in-flight tasks
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		for _, lane := range p.lanes {
			close(lane)
		}
	})
	p.wg.Wait()
	log.Infof("kernel pool stopped")
}

func userIDFromKey(key []byte) int64 {
	id, err := strconv.ParseInt(string(key), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
