// Package queue implements an at-least-once event queue on top of the
// relational store. Delivery retries, backoff scheduling, and deadlettering
// are owned here; consumers only ack or nack individual tasks.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"kakehashi/internal/database"
)

const (
	baseRetryDelay = 30 * time.Second
	maxRetryDelay  = 10 * time.Minute
)

// Task is one leased queue event handed to a consumer.
type Task struct {
	ID            string
	Payload       []byte
	DeliveryCount int
}

// Queue provides enqueue and consume operations over the queue_events table.
type Queue struct {
	store         database.Store
	log           *slog.Logger
	maxDeliveries int
	leaseTimeout  time.Duration
}

// New creates a queue with the given retry budget and lease duration.
func New(store database.Store, log *slog.Logger, maxDeliveries int, leaseTimeout time.Duration) *Queue {
	if maxDeliveries <= 0 {
		maxDeliveries = 5
	}
	if leaseTimeout <= 0 {
		leaseTimeout = time.Minute
	}
	return &Queue{
		store:         store,
		log:           log.With("component", "queue"),
		maxDeliveries: maxDeliveries,
		leaseTimeout:  leaseTimeout,
	}
}

// Enqueue stores a payload for asynchronous handling. Each payload gets a
// fresh queue event ID; idempotency under redelivery is the consumer's
// concern, not the queue's.
func (q *Queue) Enqueue(ctx context.Context, payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("cannot enqueue empty payload")
	}

	event := &database.QueueEvent{
		ID:      uuid.NewString(),
		Payload: payload,
	}
	if err := q.store.EnqueueEvent(ctx, event); err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}

	q.log.DebugContext(ctx, "Payload enqueued", "event_id", event.ID, "size", len(payload))
	return nil
}

// Lease claims up to n due events for processing. Claimed events stay
// invisible to other workers until acked, nacked, or their lease expires.
func (q *Queue) Lease(ctx context.Context, n int) ([]Task, error) {
	events, err := q.store.LeaseEvents(ctx, n, time.Now().UTC().Add(q.leaseTimeout))
	if err != nil {
		return nil, fmt.Errorf("lease failed: %w", err)
	}

	tasks := make([]Task, len(events))
	for i, ev := range events {
		tasks[i] = Task{
			ID:            ev.ID,
			Payload:       ev.Payload,
			DeliveryCount: ev.DeliveryCount,
		}
	}
	return tasks, nil
}

// Ack acknowledges successful handling of a task, removing it from delivery.
func (q *Queue) Ack(ctx context.Context, task Task) error {
	if err := q.store.MarkEventDone(ctx, task.ID); err != nil {
		return fmt.Errorf("ack failed: %w", err)
	}
	return nil
}

// Nack requests redelivery of a task. The next attempt is scheduled with
// exponential backoff on the delivery count; once the delivery budget is
// exhausted the task is deadlettered instead.
func (q *Queue) Nack(ctx context.Context, task Task) error {
	deliveries := task.DeliveryCount + 1

	if deliveries >= q.maxDeliveries {
		q.log.WarnContext(ctx, "Event exhausted its delivery budget, deadlettering",
			"event_id", task.ID, "deliveries", deliveries)
		if err := q.store.MarkEventDead(ctx, task.ID); err != nil {
			return fmt.Errorf("deadletter failed: %w", err)
		}
		return nil
	}

	nextAttempt := time.Now().UTC().Add(retryDelay(deliveries))
	if err := q.store.ReleaseEvent(ctx, task.ID, nextAttempt); err != nil {
		return fmt.Errorf("nack failed: %w", err)
	}

	q.log.DebugContext(ctx, "Event scheduled for retry",
		"event_id", task.ID, "deliveries", deliveries, "next_attempt_at", nextAttempt)
	return nil
}

// SweepExpired reclaims events whose lease lapsed without an ack, feeding
// them back through the same retry policy as an explicit nack. Intended to
// run as a scheduled task.
func (q *Queue) SweepExpired(ctx context.Context) (int, error) {
	events, err := q.store.ExpiredLeases(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("expired lease scan failed: %w", err)
	}

	reclaimed := 0
	for _, ev := range events {
		task := Task{ID: ev.ID, Payload: ev.Payload, DeliveryCount: ev.DeliveryCount}
		if err := q.Nack(ctx, task); err != nil {
			q.log.ErrorContext(ctx, "Failed to reclaim expired lease",
				"event_id", ev.ID, "error", err)
			continue
		}
		reclaimed++
	}

	if reclaimed > 0 {
		q.log.InfoContext(ctx, "Reclaimed expired leases", "count", reclaimed)
	}
	return reclaimed, nil
}

// retryDelay computes the backoff before the given delivery attempt.
func retryDelay(deliveries int) time.Duration {
	delay := baseRetryDelay
	for i := 1; i < deliveries; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}
