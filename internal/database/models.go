package database

import (
	"database/sql"
	"time"
)

// Queue event statuses. An event moves pending → leased → done, or back to
// pending on retry, or to dead once its delivery budget is exhausted.
const (
	EventStatusPending = "pending"
	EventStatusLeased  = "leased"
	EventStatusDone    = "done"
	EventStatusDead    = "dead"
)

// User is a chat participant known to the bot. The display name starts empty
// and is filled in when the platform profile becomes available; the latest
// known name wins.
type User struct {
	ID          string    `db:"id"`
	DisplayName string    `db:"display_name"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Room is a multi-party conversation scope. One-to-one conversations have no
// room; their posts carry a NULL room_id.
type Room struct {
	ID        string    `db:"id"`
	CreatedAt time.Time `db:"created_at"`
}

// Post is one inbound chat message, together with its combined translation
// once one has been produced. Poll posts keep the raw marker text in Content.
type Post struct {
	ID         int64          `db:"id"`
	UserID     string         `db:"user_id"`
	RoomID     sql.NullString `db:"room_id"`
	Content    string         `db:"content"`
	Translated string         `db:"translated"`
	IsPoll     bool           `db:"is_poll"`
	CreatedAt  time.Time      `db:"created_at"`
}

// Vote is a single poll vote, keyed by (post, voter). A voter's later vote
// replaces their earlier one.
type Vote struct {
	PostID    int64     `db:"post_id"`
	VoterID   string    `db:"voter_id"`
	Answer    string    `db:"answer"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// TranslationLog records the provenance of one translation for offline
// quality review. It never feeds back into pipeline control flow.
type TranslationLog struct {
	ID          int64     `db:"id"`
	UserID      string    `db:"user_id"`
	SourceLang  string    `db:"source_lang"`
	Original    string    `db:"original"`
	Translated  string    `db:"translated"`
	Prompt      string    `db:"prompt"`
	ContextSize int       `db:"context_size"`
	CreatedAt   time.Time `db:"created_at"`
}

// QueueEvent is one queued webhook event awaiting asynchronous handling.
type QueueEvent struct {
	ID             string       `db:"id"`
	Payload        []byte       `db:"payload"`
	Status         string       `db:"status"`
	DeliveryCount  int          `db:"delivery_count"`
	NextAttemptAt  time.Time    `db:"next_attempt_at"`
	LeaseExpiresAt sql.NullTime `db:"lease_expires_at"`
	CreatedAt      time.Time    `db:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at"`
}
