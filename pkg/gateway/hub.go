// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package gateway is the edge service: WebSocket ingress and fan-out,
// the single-frame HTTP ingest and the authenticated reverse proxy in
// front of the worker and core services.
package gateway

import (
	"sync"

	"github.com/niura/neurostream/pkg/telemetry"
	"github.com/niura/neurostream/pkg/util/log"
)

// subscriberBuffer bounds the per-connection send queue
const subscriberBuffer = 16

// Subscriber is one WebSocket connection's send queue. The connection's
// writer drains C; the hub closes it on removal.
type Subscriber struct {
	C      chan []byte
	userID int64
}

// Hub is the per-user subscriber registry of one WebSocket channel.
// All operations take the registry mutex; broadcasts never block on a
// slow subscriber.
type Hub struct {
	channel string

	mu   sync.Mutex
	subs map[int64]map[*Subscriber]struct{}
}

// NewHub builds a registry for the named channel
func NewHub(channel string) *Hub {
	return &Hub{
		channel: channel,
		subs:    make(map[int64]map[*Subscriber]struct{}),
	}
}

// Add registers a new subscriber for the user
func (h *Hub) Add(userID int64) *Subscriber {
	sub := &Subscriber{C: make(chan []byte, subscriberBuffer), userID: userID}

	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*Subscriber]struct{})
	}
	h.subs[userID][sub] = struct{}{}
	h.mu.Unlock()

	telemetry.Subscribers.WithLabelValues(h.channel).Inc()
	log.Debugf("%s subscriber added for user %d", h.channel, userID)
	return sub
}

// Remove unregisters a subscriber and closes its queue. Safe to call
// for a subscriber that was already dropped by a broadcast.
func (h *Hub) Remove(sub *Subscriber) {
	h.mu.Lock()
	removed := h.removeLocked(sub)
	h.mu.Unlock()

	if removed {
		telemetry.Subscribers.WithLabelValues(h.channel).Dec()
	}
}

func (h *Hub) removeLocked(sub *Subscriber) bool {
	set, ok := h.subs[sub.userID]
	if !ok {
		return false
	}
	if _, ok := set[sub]; !ok {
		return false
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.userID)
	}
	close(sub.C)
	return true
}

// Broadcast queues the payload to every subscriber of the user.
// Subscribers whose queue is full are dropped from the registry.
func (h *Hub) Broadcast(userID int64, payload []byte) int {
	h.mu.Lock()
	var dropped []*Subscriber
	delivered := 0
	for sub := range h.subs[userID] {
		select {
		case sub.C <- payload:
			delivered++
		default:
			dropped = append(dropped, sub)
		}
	}
	for _, sub := range dropped {
		h.removeLocked(sub)
	}
	h.mu.Unlock()

	for range dropped {
		telemetry.Subscribers.WithLabelValues(h.channel).Dec()
		telemetry.FanOutDrops.Inc()
	}
	if len(dropped) > 0 {
		log.Warnf("dropped %d slow %s subscribers for user %d", len(dropped), h.channel, userID)
	}
	return delivered
}

// Count returns the number of subscribers for the user
func (h *Hub) Count(userID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}
