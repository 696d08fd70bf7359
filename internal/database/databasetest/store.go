// Package databasetest provides a configurable in-memory Store double for
// unit tests of components that depend on the database layer.
package databasetest

import (
	"context"
	"time"

	"kakehashi/internal/database"
)

// StoreMock implements database.Store with overridable functions. Methods
// whose function field is nil return zero values.
type StoreMock struct {
	PingFunc               func(ctx context.Context) error
	EnsureUserFunc         func(ctx context.Context, userID string) (bool, error)
	SetUserDisplayNameFunc func(ctx context.Context, userID, displayName string) error
	EnsureRoomFunc         func(ctx context.Context, roomID string) error
	SavePostFunc           func(ctx context.Context, post *database.Post) error
	GetPostFunc            func(ctx context.Context, postID int64) (*database.Post, error)
	SetPostTranslationFunc func(ctx context.Context, postID int64, translated string) error
	GetRecentRoomPostsFunc func(ctx context.Context, roomID string, limit int, excludePostID int64) ([]*database.Post, error)
	GetRecentUserPostsFunc func(ctx context.Context, userID string, limit int, excludePostID int64) ([]*database.Post, error)
	UpsertVoteFunc         func(ctx context.Context, postID int64, voterID, answer string) error
	GetVoteCountsFunc      func(ctx context.Context, postID int64) (map[string]int, error)
	SaveTranslationLogFunc func(ctx context.Context, entry *database.TranslationLog) error
	EnqueueEventFunc       func(ctx context.Context, event *database.QueueEvent) error
	LeaseEventsFunc        func(ctx context.Context, limit int, leaseUntil time.Time) ([]*database.QueueEvent, error)
	MarkEventDoneFunc      func(ctx context.Context, eventID string) error
	MarkEventDeadFunc      func(ctx context.Context, eventID string) error
	ReleaseEventFunc       func(ctx context.Context, eventID string, nextAttemptAt time.Time) error
	ExpiredLeasesFunc      func(ctx context.Context, now time.Time) ([]*database.QueueEvent, error)
	RunSQLMaintenanceFunc  func(ctx context.Context) error
}

var _ database.Store = (*StoreMock)(nil)

func (m *StoreMock) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

func (m *StoreMock) EnsureUser(ctx context.Context, userID string) (bool, error) {
	if m.EnsureUserFunc != nil {
		return m.EnsureUserFunc(ctx, userID)
	}
	return false, nil
}

func (m *StoreMock) SetUserDisplayName(ctx context.Context, userID, displayName string) error {
	if m.SetUserDisplayNameFunc != nil {
		return m.SetUserDisplayNameFunc(ctx, userID, displayName)
	}
	return nil
}

func (m *StoreMock) EnsureRoom(ctx context.Context, roomID string) error {
	if m.EnsureRoomFunc != nil {
		return m.EnsureRoomFunc(ctx, roomID)
	}
	return nil
}

func (m *StoreMock) SavePost(ctx context.Context, post *database.Post) error {
	if m.SavePostFunc != nil {
		return m.SavePostFunc(ctx, post)
	}
	return nil
}

func (m *StoreMock) GetPost(ctx context.Context, postID int64) (*database.Post, error) {
	if m.GetPostFunc != nil {
		return m.GetPostFunc(ctx, postID)
	}
	return nil, nil
}

func (m *StoreMock) SetPostTranslation(ctx context.Context, postID int64, translated string) error {
	if m.SetPostTranslationFunc != nil {
		return m.SetPostTranslationFunc(ctx, postID, translated)
	}
	return nil
}

func (m *StoreMock) GetRecentRoomPosts(ctx context.Context, roomID string, limit int, excludePostID int64) ([]*database.Post, error) {
	if m.GetRecentRoomPostsFunc != nil {
		return m.GetRecentRoomPostsFunc(ctx, roomID, limit, excludePostID)
	}
	return nil, nil
}

func (m *StoreMock) GetRecentUserPosts(ctx context.Context, userID string, limit int, excludePostID int64) ([]*database.Post, error) {
	if m.GetRecentUserPostsFunc != nil {
		return m.GetRecentUserPostsFunc(ctx, userID, limit, excludePostID)
	}
	return nil, nil
}

func (m *StoreMock) UpsertVote(ctx context.Context, postID int64, voterID, answer string) error {
	if m.UpsertVoteFunc != nil {
		return m.UpsertVoteFunc(ctx, postID, voterID, answer)
	}
	return nil
}

func (m *StoreMock) GetVoteCounts(ctx context.Context, postID int64) (map[string]int, error) {
	if m.GetVoteCountsFunc != nil {
		return m.GetVoteCountsFunc(ctx, postID)
	}
	return map[string]int{}, nil
}

func (m *StoreMock) SaveTranslationLog(ctx context.Context, entry *database.TranslationLog) error {
	if m.SaveTranslationLogFunc != nil {
		return m.SaveTranslationLogFunc(ctx, entry)
	}
	return nil
}

func (m *StoreMock) EnqueueEvent(ctx context.Context, event *database.QueueEvent) error {
	if m.EnqueueEventFunc != nil {
		return m.EnqueueEventFunc(ctx, event)
	}
	return nil
}

func (m *StoreMock) LeaseEvents(ctx context.Context, limit int, leaseUntil time.Time) ([]*database.QueueEvent, error) {
	if m.LeaseEventsFunc != nil {
		return m.LeaseEventsFunc(ctx, limit, leaseUntil)
	}
	return nil, nil
}

func (m *StoreMock) MarkEventDone(ctx context.Context, eventID string) error {
	if m.MarkEventDoneFunc != nil {
		return m.MarkEventDoneFunc(ctx, eventID)
	}
	return nil
}

func (m *StoreMock) MarkEventDead(ctx context.Context, eventID string) error {
	if m.MarkEventDeadFunc != nil {
		return m.MarkEventDeadFunc(ctx, eventID)
	}
	return nil
}

func (m *StoreMock) ReleaseEvent(ctx context.Context, eventID string, nextAttemptAt time.Time) error {
	if m.ReleaseEventFunc != nil {
		return m.ReleaseEventFunc(ctx, eventID, nextAttemptAt)
	}
	return nil
}

func (m *StoreMock) ExpiredLeases(ctx context.Context, now time.Time) ([]*database.QueueEvent, error) {
	if m.ExpiredLeasesFunc != nil {
		return m.ExpiredLeasesFunc(ctx, now)
	}
	return nil, nil
}

func (m *StoreMock) RunSQLMaintenance(ctx context.Context) error {
	if m.RunSQLMaintenanceFunc != nil {
		return m.RunSQLMaintenanceFunc(ctx)
	}
	return nil
}
