package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store defines the interface for database operations.
// Methods should accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// EnsureUser creates the user row if absent (display name empty).
	// It reports whether a new row was created.
	EnsureUser(ctx context.Context, userID string) (bool, error)

	// SetUserDisplayName upserts the user's display name; the latest name wins.
	SetUserDisplayName(ctx context.Context, userID, displayName string) error

	// EnsureRoom creates the room row if absent.
	EnsureRoom(ctx context.Context, roomID string) error

	// SavePost inserts a new post record and fills in its generated ID.
	SavePost(ctx context.Context, post *Post) error

	// GetPost retrieves a post by ID. Returns nil, nil if not found.
	GetPost(ctx context.Context, postID int64) (*Post, error)

	// SetPostTranslation stores the combined translated text for a post.
	SetPostTranslation(ctx context.Context, postID int64, translated string) error

	// GetRecentRoomPosts retrieves the most recent 'limit' posts in a room,
	// newest first.
	GetRecentRoomPosts(ctx context.Context, roomID string, limit int, excludePostID int64) ([]*Post, error)

	// GetRecentUserPosts retrieves the most recent 'limit' room-less posts by
	// a user, newest first. Room history and private history are never mixed.
	GetRecentUserPosts(ctx context.Context, userID string, limit int, excludePostID int64) ([]*Post, error)

	// UpsertVote records a vote keyed by (post, voter); a repeat vote from the
	// same voter replaces the earlier answer.
	UpsertVote(ctx context.Context, postID int64, voterID, answer string) error

	// GetVoteCounts tallies votes for a post by answer value.
	GetVoteCounts(ctx context.Context, postID int64) (map[string]int, error)

	// SaveTranslationLog inserts a translation provenance record.
	SaveTranslationLog(ctx context.Context, entry *TranslationLog) error

	// EnqueueEvent inserts a new queue event in pending state.
	EnqueueEvent(ctx context.Context, event *QueueEvent) error

	// LeaseEvents atomically claims up to 'limit' due pending events,
	// marking them leased until the given expiry.
	LeaseEvents(ctx context.Context, limit int, leaseUntil time.Time) ([]*QueueEvent, error)

	// MarkEventDone acknowledges a leased event.
	MarkEventDone(ctx context.Context, eventID string) error

	// ReleaseEvent returns a leased event to pending, incrementing its
	// delivery count and scheduling the next attempt.
	ReleaseEvent(ctx context.Context, eventID string, nextAttemptAt time.Time) error

	// MarkEventDead moves an event to the deadletter state.
	MarkEventDead(ctx context.Context, eventID string) error

	// ExpiredLeases returns leased events whose lease has lapsed.
	ExpiredLeases(ctx context.Context, now time.Time) ([]*QueueEvent, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) EnsureUser(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, fmt.Errorf("user_id cannot be empty")
	}

	now := time.Now().UTC()
	query := `
        INSERT INTO users (id, display_name, created_at, updated_at)
        VALUES (?, '', ?, ?)
        ON CONFLICT (id) DO NOTHING;
    `

	result, err := s.db.ExecContext(ctx, query, userID, now, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error ensuring user", "user_id", userID, "error", err)
		return false, fmt.Errorf("failed to ensure user %s: %w", userID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		s.logger.WarnContext(ctx, "Could not get affected row count when ensuring user",
			"user_id", userID, "error", err)
		return false, nil
	}

	if affected > 0 {
		s.logger.InfoContext(ctx, "New user created", "user_id", userID)
	}
	return affected > 0, nil
}

func (s *sqlxStore) SetUserDisplayName(ctx context.Context, userID, displayName string) error {
	if userID == "" {
		return fmt.Errorf("user_id cannot be empty")
	}

	now := time.Now().UTC()
	query := `
        INSERT INTO users (id, display_name, created_at, updated_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT (id) DO UPDATE SET
            display_name = excluded.display_name,
            updated_at = excluded.updated_at;
    `

	if _, err := s.db.ExecContext(ctx, query, userID, displayName, now, now); err != nil {
		s.logger.ErrorContext(ctx, "Error setting user display name", "user_id", userID, "error", err)
		return fmt.Errorf("failed to set display name for user %s: %w", userID, err)
	}

	s.logger.DebugContext(ctx, "User display name saved", "user_id", userID)
	return nil
}

func (s *sqlxStore) EnsureRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room_id cannot be empty")
	}

	query := `
        INSERT INTO rooms (id, created_at)
        VALUES (?, ?)
        ON CONFLICT (id) DO NOTHING;
    `

	if _, err := s.db.ExecContext(ctx, query, roomID, time.Now().UTC()); err != nil {
		s.logger.ErrorContext(ctx, "Error ensuring room", "room_id", roomID, "error", err)
		return fmt.Errorf("failed to ensure room %s: %w", roomID, err)
	}

	return nil
}

func (s *sqlxStore) SavePost(ctx context.Context, post *Post) error {
	if post == nil {
		return fmt.Errorf("cannot save nil post")
	}
	if post.UserID == "" {
		return fmt.Errorf("post must have a non-empty user_id")
	}
	if post.Content == "" {
		return fmt.Errorf("post must have non-empty content")
	}

	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}

	query := `
        INSERT INTO posts (user_id, room_id, content, translated, is_poll, created_at)
        VALUES (:user_id, :room_id, :content, :translated, :is_poll, :created_at);
    `

	result, err := s.db.NamedExecContext(ctx, query, post)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving post", "user_id", post.UserID, "error", err)
		return fmt.Errorf("failed to save post (user %s): %w", post.UserID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		s.logger.WarnContext(ctx, "Could not retrieve last insert ID after saving post",
			"user_id", post.UserID, "error", err)
	} else {
		post.ID = id
	}

	s.logger.DebugContext(ctx, "Post saved successfully",
		"post_id", post.ID, "user_id", post.UserID, "is_poll", post.IsPoll)
	return nil
}

func (s *sqlxStore) GetPost(ctx context.Context, postID int64) (*Post, error) {
	var post Post
	query := `SELECT id, user_id, room_id, content, translated, is_poll, created_at
	          FROM posts WHERE id = ?`

	err := s.db.GetContext(ctx, &post, query, postID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No post found", "post_id", postID)
		return nil, nil

	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting post", "post_id", postID, "error", err)
		return nil, fmt.Errorf("failed to get post %d: %w", postID, err)
	}

	return &post, nil
}

func (s *sqlxStore) SetPostTranslation(ctx context.Context, postID int64, translated string) error {
	query := `UPDATE posts SET translated = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, translated, postID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error setting post translation", "post_id", postID, "error", err)
		return fmt.Errorf("failed to set translation for post %d: %w", postID, err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected != 1 {
		s.logger.WarnContext(ctx, "Unexpected number of rows affected when setting translation",
			"post_id", postID, "affected", affected)
	}

	return nil
}

func (s *sqlxStore) GetRecentRoomPosts(ctx context.Context, roomID string, limit int, excludePostID int64) ([]*Post, error) {
	if roomID == "" {
		return nil, fmt.Errorf("room_id cannot be empty")
	}
	if limit <= 0 {
		limit = 2
	}

	var posts []*Post
	query := `
        SELECT id, user_id, room_id, content, translated, is_poll, created_at
        FROM posts
        WHERE room_id = ? AND id != ?
        ORDER BY created_at DESC, id DESC
        LIMIT ?;
    `

	if err := s.db.SelectContext(ctx, &posts, query, roomID, excludePostID, limit); err != nil {
		s.logger.ErrorContext(ctx, "Error getting recent room posts", "room_id", roomID, "error", err)
		return nil, fmt.Errorf("failed to get recent posts for room %s: %w", roomID, err)
	}

	return posts, nil
}

func (s *sqlxStore) GetRecentUserPosts(ctx context.Context, userID string, limit int, excludePostID int64) ([]*Post, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id cannot be empty")
	}
	if limit <= 0 {
		limit = 2
	}

	var posts []*Post
	query := `
        SELECT id, user_id, room_id, content, translated, is_poll, created_at
        FROM posts
        WHERE user_id = ? AND room_id IS NULL AND id != ?
        ORDER BY created_at DESC, id DESC
        LIMIT ?;
    `

	if err := s.db.SelectContext(ctx, &posts, query, userID, excludePostID, limit); err != nil {
		s.logger.ErrorContext(ctx, "Error getting recent user posts", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get recent posts for user %s: %w", userID, err)
	}

	return posts, nil
}

func (s *sqlxStore) UpsertVote(ctx context.Context, postID int64, voterID, answer string) error {
	if voterID == "" {
		return fmt.Errorf("voter_id cannot be empty")
	}
	if answer == "" {
		return fmt.Errorf("answer cannot be empty")
	}

	now := time.Now().UTC()
	query := `
        INSERT INTO votes (post_id, voter_id, answer, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (post_id, voter_id) DO UPDATE SET
            answer = excluded.answer,
            updated_at = excluded.updated_at;
    `

	if _, err := s.db.ExecContext(ctx, query, postID, voterID, answer, now, now); err != nil {
		s.logger.ErrorContext(ctx, "Error upserting vote",
			"post_id", postID, "voter_id", voterID, "error", err)
		return fmt.Errorf("failed to record vote for post %d: %w", postID, err)
	}

	s.logger.DebugContext(ctx, "Vote recorded", "post_id", postID, "voter_id", voterID, "answer", answer)
	return nil
}

func (s *sqlxStore) GetVoteCounts(ctx context.Context, postID int64) (map[string]int, error) {
	rows := []struct {
		Answer string `db:"answer"`
		Count  int    `db:"count"`
	}{}

	query := `SELECT answer, COUNT(*) AS count FROM votes WHERE post_id = ? GROUP BY answer`
	if err := s.db.SelectContext(ctx, &rows, query, postID); err != nil {
		s.logger.ErrorContext(ctx, "Error counting votes", "post_id", postID, "error", err)
		return nil, fmt.Errorf("failed to count votes for post %d: %w", postID, err)
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Answer] = row.Count
	}
	return counts, nil
}

func (s *sqlxStore) SaveTranslationLog(ctx context.Context, entry *TranslationLog) error {
	if entry == nil {
		return fmt.Errorf("cannot save nil translation log entry")
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
        INSERT INTO translation_logs (user_id, source_lang, original, translated, prompt, context_size, created_at)
        VALUES (:user_id, :source_lang, :original, :translated, :prompt, :context_size, :created_at);
    `

	if _, err := s.db.NamedExecContext(ctx, query, entry); err != nil {
		s.logger.ErrorContext(ctx, "Error saving translation log", "user_id", entry.UserID, "error", err)
		return fmt.Errorf("failed to save translation log for user %s: %w", entry.UserID, err)
	}

	return nil
}

func (s *sqlxStore) EnqueueEvent(ctx context.Context, event *QueueEvent) error {
	if event == nil {
		return fmt.Errorf("cannot enqueue nil event")
	}
	if event.ID == "" {
		return fmt.Errorf("event must have a non-empty id")
	}
	if len(event.Payload) == 0 {
		return fmt.Errorf("event must have a non-empty payload")
	}

	now := time.Now().UTC()
	event.Status = EventStatusPending
	if event.NextAttemptAt.IsZero() {
		event.NextAttemptAt = now
	}
	event.CreatedAt = now
	event.UpdatedAt = now

	query := `
        INSERT INTO queue_events (id, payload, status, delivery_count, next_attempt_at, created_at, updated_at)
        VALUES (:id, :payload, :status, :delivery_count, :next_attempt_at, :created_at, :updated_at);
    `

	if _, err := s.db.NamedExecContext(ctx, query, event); err != nil {
		s.logger.ErrorContext(ctx, "Error enqueueing event", "event_id", event.ID, "error", err)
		return fmt.Errorf("failed to enqueue event %s: %w", event.ID, err)
	}

	s.logger.DebugContext(ctx, "Event enqueued", "event_id", event.ID)
	return nil
}

func (s *sqlxStore) LeaseEvents(ctx context.Context, limit int, leaseUntil time.Time) ([]*QueueEvent, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("invalid lease limit %d", limit)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for event lease", "error", err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	now := time.Now().UTC()

	var events []*QueueEvent
	selectQuery := `
        SELECT id, payload, status, delivery_count, next_attempt_at, lease_expires_at, created_at, updated_at
        FROM queue_events
        WHERE status = ? AND next_attempt_at <= ?
        ORDER BY created_at ASC, id ASC
        LIMIT ?;
    `
	if err := tx.SelectContext(ctx, &events, selectQuery, EventStatusPending, now, limit); err != nil {
		s.logger.ErrorContext(ctx, "Error selecting pending events", "error", err)
		return nil, fmt.Errorf("failed to select pending events: %w", err)
	}

	if len(events) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		tx = nil
		return nil, nil
	}

	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}

	updateQuery, args, err := sqlx.In(
		`UPDATE queue_events SET status = ?, lease_expires_at = ?, updated_at = ? WHERE id IN (?)`,
		EventStatusLeased, leaseUntil.UTC(), now, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build lease query: %w", err)
	}
	updateQuery = tx.Rebind(updateQuery)

	if _, err := tx.ExecContext(ctx, updateQuery, args...); err != nil {
		s.logger.ErrorContext(ctx, "Error leasing events", "error", err)
		return nil, fmt.Errorf("failed to lease events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit event lease transaction", "error", err)
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	for _, ev := range events {
		ev.Status = EventStatusLeased
		ev.LeaseExpiresAt = sql.NullTime{Time: leaseUntil.UTC(), Valid: true}
	}

	s.logger.DebugContext(ctx, "Events leased", "count", len(events))
	return events, nil
}

func (s *sqlxStore) MarkEventDone(ctx context.Context, eventID string) error {
	return s.setEventStatus(ctx, eventID, EventStatusDone)
}

func (s *sqlxStore) MarkEventDead(ctx context.Context, eventID string) error {
	return s.setEventStatus(ctx, eventID, EventStatusDead)
}

func (s *sqlxStore) setEventStatus(ctx context.Context, eventID, status string) error {
	if eventID == "" {
		return fmt.Errorf("event_id cannot be empty")
	}

	query := `UPDATE queue_events SET status = ?, lease_expires_at = NULL, updated_at = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, status, time.Now().UTC(), eventID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error updating event status",
			"event_id", eventID, "status", status, "error", err)
		return fmt.Errorf("failed to mark event %s as %s: %w", eventID, status, err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected != 1 {
		s.logger.WarnContext(ctx, "Unexpected number of rows affected when updating event status",
			"event_id", eventID, "status", status, "affected", affected)
	}

	return nil
}

func (s *sqlxStore) ReleaseEvent(ctx context.Context, eventID string, nextAttemptAt time.Time) error {
	if eventID == "" {
		return fmt.Errorf("event_id cannot be empty")
	}

	query := `
        UPDATE queue_events
        SET status = ?, delivery_count = delivery_count + 1,
            next_attempt_at = ?, lease_expires_at = NULL, updated_at = ?
        WHERE id = ?;
    `

	if _, err := s.db.ExecContext(ctx, query,
		EventStatusPending, nextAttemptAt.UTC(), time.Now().UTC(), eventID); err != nil {
		s.logger.ErrorContext(ctx, "Error releasing event", "event_id", eventID, "error", err)
		return fmt.Errorf("failed to release event %s: %w", eventID, err)
	}

	s.logger.DebugContext(ctx, "Event released for retry",
		"event_id", eventID, "next_attempt_at", nextAttemptAt)
	return nil
}

func (s *sqlxStore) ExpiredLeases(ctx context.Context, now time.Time) ([]*QueueEvent, error) {
	var events []*QueueEvent
	query := `
        SELECT id, payload, status, delivery_count, next_attempt_at, lease_expires_at, created_at, updated_at
        FROM queue_events
        WHERE status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?;
    `

	if err := s.db.SelectContext(ctx, &events, query, EventStatusLeased, now.UTC()); err != nil {
		s.logger.ErrorContext(ctx, "Error fetching expired leases", "error", err)
		return nil, fmt.Errorf("failed to fetch expired leases: %w", err)
	}

	return events, nil
}

// RunSQLMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite.
	_, err := s.db.ExecContext(ctx, "VACUUM;")

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)

	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	return nil
}
