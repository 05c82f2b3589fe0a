// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package bus

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSession records which offsets get marked
type stubSession struct {
	ctx    context.Context
	marked []int64
}

func (s *stubSession) Claims() map[string][]int32 { return nil }
func (s *stubSession) MemberID() string           { return "test-member" }
func (s *stubSession) GenerationID() int32        { return 1 }
func (s *stubSession) MarkOffset(string, int32, int64, string)  {}
func (s *stubSession) Commit()                                  {}
func (s *stubSession) ResetOffset(string, int32, int64, string) {}
func (s *stubSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}
func (s *stubSession) Context() context.Context { return s.ctx }

// stubClaim replays a fixed list of messages and closes
type stubClaim struct {
	messages chan *sarama.ConsumerMessage
}

func newStubClaim(offsets ...int64) *stubClaim {
	c := &stubClaim{messages: make(chan *sarama.ConsumerMessage, len(offsets))}
	for _, off := range offsets {
		c.messages <- &sarama.ConsumerMessage{Topic: "eeg.raw.data", Partition: 0, Offset: off}
	}
	close(c.messages)
	return c
}

func (c *stubClaim) Topic() string                            { return "eeg.raw.data" }
func (c *stubClaim) Partition() int32                         { return 0 }
func (c *stubClaim) InitialOffset() int64                     { return 0 }
func (c *stubClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *stubClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func TestConsumeClaimMarksHandledMessages(t *testing.T) {
	session := &stubSession{ctx: context.Background()}
	h := &groupHandler{ctx: context.Background(), handler: func(context.Context, *sarama.ConsumerMessage) error {
		return nil
	}}

	require.NoError(t, h.ConsumeClaim(session, newStubClaim(5, 6)))
	assert.Equal(t, []int64{5, 6}, session.marked)
}

func TestConsumeClaimAbortsOnHandlerError(t *testing.T) {
	session := &stubSession{ctx: context.Background()}
	boom := errors.New("store unavailable")
	h := &groupHandler{ctx: context.Background(), handler: func(_ context.Context, msg *sarama.ConsumerMessage) error {
		if msg.Offset == 5 {
			return boom
		}
		return nil
	}}

	// the failing offset must not be covered by a later mark on the
	// same partition, so the claim aborts before touching offset 6
	err := h.ConsumeClaim(session, newStubClaim(5, 6))
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, session.marked)
}

func TestConsumeClaimStopsWhenSessionEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	session := &stubSession{ctx: ctx}
	h := &groupHandler{ctx: context.Background(), handler: func(context.Context, *sarama.ConsumerMessage) error {
		return nil
	}}

	// unclosed claim channel: only the session context can end the loop
	claim := &stubClaim{messages: make(chan *sarama.ConsumerMessage)}
	assert.NoError(t, h.ConsumeClaim(session, claim))
}
