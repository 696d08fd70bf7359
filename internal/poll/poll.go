// Package poll handles the in-chat polling feature: recognizing poll
// commands, building the interactive reply, and recording votes.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"kakehashi/internal/database"
	"kakehashi/internal/messenger"
)

// Marker turns a text post into a poll. Matched case-insensitively.
const Marker = "[check]"

// Answers are the fixed choices offered on every poll.
var Answers = []string{"OK", "NG", "N/A"}

// ErrInvalidVote marks vote payloads that cannot be recorded. Such payloads
// are dropped rather than retried.
var ErrInvalidVote = errors.New("invalid vote payload")

// IsPollCommand reports whether text contains the poll marker.
func IsPollCommand(text string) bool {
	return strings.Contains(strings.ToLower(text), Marker)
}

// ParseQuestion strips the poll marker from text and returns the remaining
// question. The marker may appear anywhere in the text.
func ParseQuestion(text string) string {
	lower := strings.ToLower(text)
	idx := strings.Index(lower, Marker)
	if idx < 0 {
		return strings.TrimSpace(text)
	}
	question := text[:idx] + text[idx+len(Marker):]
	return strings.TrimSpace(question)
}

// BuildReply constructs the interactive poll message: one postback button
// per answer plus a link to the live results page.
func BuildReply(postID int64, question, resultsBaseURL string) messenger.Message {
	actions := make([]messenger.Action, 0, len(Answers)+1)
	for _, answer := range Answers {
		// Answers are from a fixed set with no characters that need query
		// escaping, so the action string is emitted literally.
		data := fmt.Sprintf("action=vote&postId=%d&answer=%s", postID, answer)
		actions = append(actions, messenger.NewPostbackAction(answer, data))
	}
	resultsURL := fmt.Sprintf("%s/poll/%d", strings.TrimRight(resultsBaseURL, "/"), postID)
	actions = append(actions, messenger.NewURIAction("Results", resultsURL))

	return messenger.NewButtonsMessage("Poll: "+question, "Poll", question, actions)
}

// Manager records votes against stored polls.
type Manager struct {
	store database.Store
	log   *slog.Logger
}

func NewManager(store database.Store, log *slog.Logger) *Manager {
	return &Manager{
		store: store,
		log:   log.With("component", "poll"),
	}
}

// RecordVote parses a postback payload and upserts the voter's answer.
// Voting twice replaces the previous answer. Malformed payloads return
// ErrInvalidVote.
func (m *Manager) RecordVote(ctx context.Context, voterID, data string) error {
	values, err := url.ParseQuery(data)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidVote, err)
	}
	if values.Get("action") != "vote" {
		return fmt.Errorf("%w: unexpected action %q", ErrInvalidVote, values.Get("action"))
	}

	postID, err := strconv.ParseInt(values.Get("postId"), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad postId %q", ErrInvalidVote, values.Get("postId"))
	}
	answer := values.Get("answer")
	if answer == "" {
		return fmt.Errorf("%w: missing answer", ErrInvalidVote)
	}

	if err := m.store.UpsertVote(ctx, postID, voterID, answer); err != nil {
		return fmt.Errorf("failed to record vote: %w", err)
	}

	m.log.InfoContext(ctx, "Vote recorded", "post_id", postID, "voter_id", voterID, "answer", answer)
	return nil
}
