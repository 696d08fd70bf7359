package translator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kakehashi/internal/database"
	"kakehashi/internal/database/databasetest"
)

type modelStub struct {
	calls     []string // instructions seen, in order
	responses map[string]string
	errs      map[string]error
}

func (m *modelStub) Generate(_ context.Context, instruction, _ string) (string, error) {
	m.calls = append(m.calls, instruction)
	for target, err := range m.errs {
		if strings.Contains(instruction, languageNames[target]) {
			return "", err
		}
	}
	for target, resp := range m.responses {
		if strings.Contains(instruction, "into natural, conversational "+languageNames[target]) {
			return resp, nil
		}
	}
	return "", errors.New("no stubbed response")
}

func TestTranslateFansOutFromJapanese(t *testing.T) {
	t.Parallel()

	var savedTranslation string
	var logEntries []*database.TranslationLog
	store := &databasetest.StoreMock{
		SetPostTranslationFunc: func(_ context.Context, postID int64, translated string) error {
			require.Equal(t, int64(7), postID)
			savedTranslation = translated
			return nil
		},
		SaveTranslationLogFunc: func(_ context.Context, entry *database.TranslationLog) error {
			logEntries = append(logEntries, entry)
			return nil
		},
	}
	model := &modelStub{responses: map[string]string{
		LangEnglish: "good morning",
		LangPolish:  "dzień dobry",
	}}

	tr := New(store, model, slog.New(slog.DiscardHandler), 2)
	got, err := tr.Translate(context.Background(), 7, "おはよう", "user-1", "")

	require.NoError(t, err)
	require.Equal(t, "[en] good morning\n[pl] dzień dobry", got)
	require.Equal(t, got, savedTranslation)
	require.Len(t, model.calls, 2)

	require.Len(t, logEntries, 1, "translation log is written once per post")
	require.Equal(t, "ja", logEntries[0].SourceLang)
	require.Equal(t, "おはよう", logEntries[0].Original)
	require.Equal(t, "user-1", logEntries[0].UserID)
}

func TestTranslateSingleTargetFromEnglish(t *testing.T) {
	t.Parallel()

	store := &databasetest.StoreMock{}
	model := &modelStub{responses: map[string]string{
		LangJapanese: "おはよう",
	}}

	tr := New(store, model, slog.New(slog.DiscardHandler), 2)
	got, err := tr.Translate(context.Background(), 1, "good morning", "user-1", "room-1")

	require.NoError(t, err)
	require.Equal(t, "[ja] おはよう", got)
	require.Len(t, model.calls, 1)
}

func TestTranslatePartialFailureKeepsSuccessfulTargets(t *testing.T) {
	t.Parallel()

	store := &databasetest.StoreMock{}
	model := &modelStub{
		responses: map[string]string{LangEnglish: "good morning"},
		errs:      map[string]error{LangPolish: errors.New("model blew up")},
	}

	tr := New(store, model, slog.New(slog.DiscardHandler), 2)
	got, err := tr.Translate(context.Background(), 1, "おはよう", "user-1", "")

	require.NoError(t, err)
	require.Equal(t, "[en] good morning", got)
}

func TestTranslateReturnsEmptyWhenAllTargetsFail(t *testing.T) {
	t.Parallel()

	persisted := false
	store := &databasetest.StoreMock{
		SetPostTranslationFunc: func(context.Context, int64, string) error {
			persisted = true
			return nil
		},
		SaveTranslationLogFunc: func(context.Context, *database.TranslationLog) error {
			persisted = true
			return nil
		},
	}
	model := &modelStub{errs: map[string]error{
		LangEnglish: errors.New("down"),
		LangPolish:  errors.New("down"),
	}}

	tr := New(store, model, slog.New(slog.DiscardHandler), 2)
	got, err := tr.Translate(context.Background(), 1, "おはよう", "user-1", "")

	require.NoError(t, err)
	require.Empty(t, got)
	require.False(t, persisted, "nothing should be persisted when every target fails")
}

func TestTranslateUsesRoomContextForRoomPosts(t *testing.T) {
	t.Parallel()

	roomCalls := 0
	userCalls := 0
	store := &databasetest.StoreMock{
		GetRecentRoomPostsFunc: func(_ context.Context, roomID string, limit int, excludePostID int64) ([]*database.Post, error) {
			roomCalls++
			require.Equal(t, "room-1", roomID)
			require.Equal(t, 2, limit)
			require.Equal(t, int64(9), excludePostID)
			return nil, nil
		},
		GetRecentUserPostsFunc: func(context.Context, string, int, int64) ([]*database.Post, error) {
			userCalls++
			return nil, nil
		},
	}
	model := &modelStub{responses: map[string]string{LangJapanese: "訳"}}

	tr := New(store, model, slog.New(slog.DiscardHandler), 2)
	_, err := tr.Translate(context.Background(), 9, "hello", "user-1", "room-1")
	require.NoError(t, err)
	require.Equal(t, 1, roomCalls)
	require.Zero(t, userCalls, "room posts must not mix with private history")

	_, err = tr.Translate(context.Background(), 9, "hello", "user-1", "")
	require.NoError(t, err)
	require.Equal(t, 1, roomCalls)
	require.Equal(t, 1, userCalls)
}

func TestBuildPromptRendersContextOldestFirst(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	// Store order is newest first.
	context := []*database.Post{
		{UserID: "u2", Content: "second", CreatedAt: now.Add(time.Minute)},
		{UserID: "u1", Content: "first", CreatedAt: now},
	}

	prompt := buildPrompt(context, "translate me")

	firstIdx := strings.Index(prompt, "u1: first")
	secondIdx := strings.Index(prompt, "u2: second")
	require.GreaterOrEqual(t, firstIdx, 0)
	require.GreaterOrEqual(t, secondIdx, 0)
	require.Less(t, firstIdx, secondIdx, "context must read oldest to newest")
	require.True(t, strings.HasSuffix(prompt, "translate me"))
}

func TestBuildPromptWithoutContext(t *testing.T) {
	t.Parallel()

	prompt := buildPrompt(nil, "hello")
	require.NotContains(t, prompt, "Recent conversation")
	require.True(t, strings.HasSuffix(prompt, "hello"))
	require.Contains(t, prompt, fmt.Sprintf("Translate the following message:\n%s", "hello"))
}
