// Package dispatcher consumes queued webhook events and routes them to the
// translation and poll features. Acknowledgement is per message: a failing
// event is retried through the queue without blocking its batch siblings.
package dispatcher

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"kakehashi/internal/database"
	"kakehashi/internal/messenger"
	"kakehashi/internal/poll"
	"kakehashi/internal/queue"
	"kakehashi/internal/translator"
)

// Dispatcher runs the queue consumption loop.
type Dispatcher struct {
	queue      *queue.Queue
	store      database.Store
	client     messenger.Client
	translator *translator.Translator
	polls      *poll.Manager
	log        *slog.Logger

	pollInterval   time.Duration
	batchSize      int
	workers        int
	resultsBaseURL string
}

// New creates a dispatcher.
func New(
	q *queue.Queue,
	store database.Store,
	client messenger.Client,
	tr *translator.Translator,
	polls *poll.Manager,
	log *slog.Logger,
	pollInterval time.Duration,
	batchSize, workers int,
	resultsBaseURL string,
) *Dispatcher {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	if workers <= 0 {
		workers = 4
	}
	return &Dispatcher{
		queue:          q,
		store:          store,
		client:         client,
		translator:     tr,
		polls:          polls,
		log:            log.With("component", "dispatcher"),
		pollInterval:   pollInterval,
		batchSize:      batchSize,
		workers:        workers,
		resultsBaseURL: resultsBaseURL,
	}
}

// Run consumes the queue until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.InfoContext(ctx, "Dispatcher starting",
		"poll_interval", d.pollInterval, "batch_size", d.batchSize, "workers", d.workers)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.InfoContext(ctx, "Dispatcher stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := d.drainBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.log.ErrorContext(ctx, "Batch processing failed", "error", err)
			}
		}
	}
}

// drainBatch leases one batch and processes its tasks concurrently. Each
// task is acked or nacked individually.
func (d *Dispatcher) drainBatch(ctx context.Context) error {
	tasks, err := d.queue.Lease(ctx, d.batchSize)
	if err != nil {
		return fmt.Errorf("failed to lease events: %w", err)
	}
	if len(tasks) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for _, task := range tasks {
		g.Go(func() error {
			d.settle(gctx, task, d.handleTask(gctx, task))
			return nil
		})
	}
	return g.Wait()
}

// settle applies the acknowledgement policy: success and non-retryable
// payload errors ack, everything else nacks for redelivery.
func (d *Dispatcher) settle(ctx context.Context, task queue.Task, handleErr error) {
	switch {
	case handleErr == nil:
		if err := d.queue.Ack(ctx, task); err != nil {
			d.log.ErrorContext(ctx, "Failed to ack event", "event_id", task.ID, "error", err)
		}
	case errors.Is(handleErr, poll.ErrInvalidVote):
		d.log.WarnContext(ctx, "Dropping unprocessable event", "event_id", task.ID, "error", handleErr)
		if err := d.queue.Ack(ctx, task); err != nil {
			d.log.ErrorContext(ctx, "Failed to ack event", "event_id", task.ID, "error", err)
		}
	default:
		d.log.ErrorContext(ctx, "Event handling failed, requesting retry",
			"event_id", task.ID, "delivery_count", task.DeliveryCount, "error", handleErr)
		if err := d.queue.Nack(ctx, task); err != nil {
			d.log.ErrorContext(ctx, "Failed to nack event", "event_id", task.ID, "error", err)
		}
	}
}

func (d *Dispatcher) handleTask(ctx context.Context, task queue.Task) error {
	event, err := messenger.ParseEvent(task.Payload)
	if err != nil {
		return fmt.Errorf("failed to parse event payload: %w", err)
	}

	// Retrying cannot attach a user to an event that never carried one.
	if event.UserID == "" {
		d.log.DebugContext(ctx, "Ignoring event without a user", "kind", event.Kind.String())
		return nil
	}

	switch event.Kind {
	case messenger.KindText:
		return d.handleText(ctx, event)
	case messenger.KindVote:
		return d.handleVote(ctx, event)
	default:
		d.log.DebugContext(ctx, "Ignoring event", "kind", event.Kind.String(), "user_id", event.UserID)
		return nil
	}
}

// handleText persists an inbound text post, translates it, and replies. Poll
// commands additionally get the interactive poll message. Duplicate posts
// under redelivery are accepted; users and rooms are created idempotently.
func (d *Dispatcher) handleText(ctx context.Context, event messenger.InboundEvent) error {
	created, err := d.store.EnsureUser(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("failed to ensure user: %w", err)
	}
	if created {
		d.captureDisplayName(ctx, event.UserID)
	}
	if event.RoomID != "" {
		if err := d.store.EnsureRoom(ctx, event.RoomID); err != nil {
			return fmt.Errorf("failed to ensure room: %w", err)
		}
	}

	isPoll := poll.IsPollCommand(event.Text)
	post := &database.Post{
		UserID:    event.UserID,
		Content:   event.Text,
		IsPoll:    isPoll,
		CreatedAt: event.Timestamp,
	}
	if event.RoomID != "" {
		post.RoomID = sql.NullString{String: event.RoomID, Valid: true}
	}
	if err := d.store.SavePost(ctx, post); err != nil {
		return fmt.Errorf("failed to save post: %w", err)
	}

	if isPoll {
		return d.replyPoll(ctx, event, post)
	}
	return d.replyTranslation(ctx, event, post)
}

func (d *Dispatcher) replyTranslation(ctx context.Context, event messenger.InboundEvent, post *database.Post) error {
	translated, err := d.translator.Translate(ctx, post.ID, event.Text, event.UserID, event.RoomID)
	if err != nil {
		return fmt.Errorf("translation failed: %w", err)
	}
	if translated == "" {
		d.log.InfoContext(ctx, "No translation produced, skipping reply", "post_id", post.ID)
		return nil
	}
	if err := d.client.Reply(ctx, event.ReplyToken, []messenger.Message{messenger.NewTextMessage(translated)}); err != nil {
		return fmt.Errorf("failed to send translation reply: %w", err)
	}
	return nil
}

// replyPoll answers a poll command with the vote buttons, preceded by a
// translated copy of the question when translation succeeds. The marker is
// stripped before translation so only the question text reaches the model.
// Translation failure does not block poll creation.
func (d *Dispatcher) replyPoll(ctx context.Context, event messenger.InboundEvent, post *database.Post) error {
	question := poll.ParseQuestion(event.Text)

	var messages []messenger.Message
	translated, err := d.translator.Translate(ctx, post.ID, question, event.UserID, event.RoomID)
	if err != nil {
		d.log.WarnContext(ctx, "Poll question translation failed", "post_id", post.ID, "error", err)
	} else if translated != "" {
		messages = append(messages, messenger.NewTextMessage(translated))
	}
	messages = append(messages, poll.BuildReply(post.ID, question, d.resultsBaseURL))

	if err := d.client.Reply(ctx, event.ReplyToken, messages); err != nil {
		return fmt.Errorf("failed to send poll reply: %w", err)
	}
	return nil
}

func (d *Dispatcher) handleVote(ctx context.Context, event messenger.InboundEvent) error {
	if err := d.polls.RecordVote(ctx, event.UserID, event.PostbackData); err != nil {
		return err
	}
	// Vote feedback is best-effort; the vote is already recorded.
	if err := d.client.ShowTyping(ctx, event.UserID); err != nil {
		d.log.DebugContext(ctx, "Failed to show vote feedback", "user_id", event.UserID, "error", err)
	}
	return nil
}

// captureDisplayName stores a new user's public profile name. Best-effort;
// failures leave the name empty.
func (d *Dispatcher) captureDisplayName(ctx context.Context, userID string) {
	profile, err := d.client.GetProfile(ctx, userID)
	if err != nil {
		d.log.WarnContext(ctx, "Failed to fetch user profile", "user_id", userID, "error", err)
		return
	}
	if err := d.store.SetUserDisplayName(ctx, userID, profile.DisplayName); err != nil {
		d.log.WarnContext(ctx, "Failed to store display name", "user_id", userID, "error", err)
	}
}
