// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubBroadcastReachesAllUserSubscribers(t *testing.T) {
	hub := NewHub("metrics")
	a := hub.Add(7)
	b := hub.Add(7)
	other := hub.Add(8)

	delivered := hub.Broadcast(7, []byte("hello"))
	assert.Equal(t, 2, delivered)
	assert.Equal(t, []byte("hello"), <-a.C)
	assert.Equal(t, []byte("hello"), <-b.C)
	assert.Empty(t, other.C)
}

func TestHubBroadcastDeliversOncePerConnection(t *testing.T) {
	hub := NewHub("metrics")
	sub := hub.Add(7)

	hub.Broadcast(7, []byte("one"))
	hub.Broadcast(7, []byte("two"))

	assert.Equal(t, []byte("one"), <-sub.C)
	assert.Equal(t, []byte("two"), <-sub.C)
	assert.Empty(t, sub.C)
}

func TestHubBroadcastNoSubscribers(t *testing.T) {
	hub := NewHub("metrics")
	assert.Zero(t, hub.Broadcast(42, []byte("void")))
}

func TestHubRemoveClosesQueue(t *testing.T) {
	hub := NewHub("eeg")
	sub := hub.Add(7)
	hub.Remove(sub)

	_, open := <-sub.C
	assert.False(t, open)
	assert.Zero(t, hub.Count(7))

	// removing twice is a no-op
	hub.Remove(sub)
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub("metrics")
	slow := hub.Add(7)

	// fill the queue without draining it; the overflowing broadcast
	// drops the subscriber
	for i := 0; i <= subscriberBuffer; i++ {
		hub.Broadcast(7, []byte("x"))
	}
	require.Zero(t, hub.Count(7))

	// the dropped queue was closed with its backlog intact
	n := 0
	for range slow.C {
		n++
	}
	assert.Equal(t, subscriberBuffer, n)

	// a fresh subscriber is unaffected
	fresh := hub.Add(7)
	assert.Equal(t, 1, hub.Broadcast(7, []byte("y")))
	assert.Equal(t, []byte("y"), <-fresh.C)
}
