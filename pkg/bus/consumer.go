// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/niura/neurostream/pkg/util/log"
)

// Handler processes one message. Returning an error leaves the message
// unmarked so the group redelivers it; returning nil acknowledges it.
type Handler func(ctx context.Context, msg *sarama.ConsumerMessage) error

// Consumer runs a sarama consumer group over one topic
type Consumer struct {
	group   sarama.ConsumerGroup
	groupID string
	topic   string
	handler Handler
}

// NewConsumer joins the consumer group for the given topic
func NewConsumer(opts Options, groupID, topic string, handler Handler) (*Consumer, error) {
	group, err := sarama.NewConsumerGroup([]string{opts.Broker}, groupID, opts.consumerConfig())
	if err != nil {
		return nil, fmt.Errorf("joining consumer group %s: %w", groupID, err)
	}
	return &Consumer{
		group:   group,
		groupID: groupID,
		topic:   topic,
		handler: handler,
	}, nil
}

// Run consumes until the context is cancelled. Poll errors are logged
// and consumption continues; only context cancellation returns.
func (c *Consumer) Run(ctx context.Context) error {
	go func() {
		for err := range c.group.Errors() {
			log.Errorf("consumer group %s: %v", c.groupID, err) //nolint:errcheck
		}
	}()

	for {
		err := c.group.Consume(ctx, []string{c.topic}, &groupHandler{ctx: ctx, handler: c.handler})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && !errors.Is(err, sarama.ErrClosedConsumerGroup) {
			log.Errorf("consume loop for %s: %v", c.topic, err) //nolint:errcheck
		}
		// a nil return means a rebalance happened, re-enter the group
	}
}

// Close leaves the consumer group
func (c *Consumer) Close() error {
	return c.group.Close()
}

// groupHandler adapts a Handler to the sarama group session interface
type groupHandler struct {
	ctx     context.Context
	handler Handler
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.handler(h.ctx, msg); err != nil {
				// abort the claim before anything past this offset is
				// marked; the group re-enters from the last commit and
				// the message is redelivered
				log.Errorf("handling %s/%d@%d: %v", msg.Topic, msg.Partition, msg.Offset, err) //nolint:errcheck
				return err
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}
