// Copyright (C) 2025 the AnomView authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package broadcast fans ranked and historical payloads out to the connected
// real-time viewers. Delivery is at-most-once and best-effort: no
// acknowledgment, no retry, slow subscribers are dropped.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Push-channel event names.
const (
	EventUpdateStats   = "update_stats"
	EventUpdateHistory = "update_history"
	EventRunSimulation = "run_simulation"
	EventUpdatedData   = "updated_data"
)

const (
	// sendQueueDepth is the per-subscriber outbound buffer. A subscriber that
	// falls this far behind is disconnected rather than backpressuring the
	// publisher.
	sendQueueDepth = 64

	writeTimeout = 10 * time.Second
)

// Envelope is the wire frame for every outbound event.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Subscriber is one connected websocket viewer.
type Subscriber struct {
	ID   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// Hub tracks connected subscribers and fans published events out to all of
// them. The optional onPublish hook observes every serialized payload (the
// viewer feeds it into the message-size accumulator and metrics).
type Hub struct {
	mu        sync.RWMutex
	subs      map[string]*Subscriber
	onPublish func(event string, size int)
}

// NewHub returns an empty hub. onPublish may be nil.
func NewHub(onPublish func(event string, size int)) *Hub {
	return &Hub{
		subs:      make(map[string]*Subscriber),
		onPublish: onPublish,
	}
}

// Register adds a websocket connection and starts its write pump. The
// returned subscriber stays registered until Unregister or a write failure.
func (h *Hub) Register(conn *websocket.Conn) *Subscriber {
	sub := &Subscriber{
		ID:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, sendQueueDepth),
	}

	h.mu.Lock()
	h.subs[sub.ID] = sub
	h.mu.Unlock()

	go h.writePump(sub)

	slog.Info("Subscriber connected", "subscriber_id", sub.ID, "subscribers", h.Count())
	return sub
}

// Unregister removes the subscriber and closes its outbound queue.
func (h *Hub) Unregister(sub *Subscriber) {
	h.mu.Lock()
	_, present := h.subs[sub.ID]
	delete(h.subs, sub.ID)
	h.mu.Unlock()

	if present {
		sub.once.Do(func() { close(sub.send) })
		slog.Info("Subscriber disconnected", "subscriber_id", sub.ID, "subscribers", h.Count())
	}
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish serializes the event once and enqueues it to every subscriber.
// Fire-and-forget: subscribers whose queues are full are disconnected.
func (h *Hub) Publish(event string, payload any) {
	msg, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		slog.Error("Failed to serialize broadcast payload", "event", event, "error", err)
		return
	}
	if h.onPublish != nil {
		h.onPublish(event, len(msg))
	}

	h.mu.RLock()
	stale := []*Subscriber{}
	for _, sub := range h.subs {
		select {
		case sub.send <- msg:
		default:
			stale = append(stale, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range stale {
		slog.Warn("Dropping slow subscriber", "subscriber_id", sub.ID, "event", event)
		h.Unregister(sub)
	}
}

func (h *Hub) writePump(sub *Subscriber) {
	defer func() { _ = sub.conn.Close() }()

	for msg := range sub.send {
		_ = sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			slog.Warn("Failed to write to subscriber", "subscriber_id", sub.ID, "error", err)
			h.Unregister(sub)
			return
		}
	}
}
