package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kakehashi/internal/database"
	"kakehashi/internal/database/databasetest"
	"kakehashi/internal/messenger"
	"kakehashi/internal/poll"
	"kakehashi/internal/queue"
	"kakehashi/internal/translator"
)

type clientMock struct {
	replies    [][]messenger.Message
	typingFor  []string
	profile    *messenger.Profile
	profileErr error
	replyErr   error
}

func (c *clientMock) Reply(_ context.Context, _ string, messages []messenger.Message) error {
	if c.replyErr != nil {
		return c.replyErr
	}
	c.replies = append(c.replies, messages)
	return nil
}

func (c *clientMock) Push(context.Context, string, []messenger.Message) error { return nil }

func (c *clientMock) ShowTyping(_ context.Context, userID string) error {
	c.typingFor = append(c.typingFor, userID)
	return nil
}

func (c *clientMock) GetProfile(context.Context, string) (*messenger.Profile, error) {
	if c.profileErr != nil {
		return nil, c.profileErr
	}
	return c.profile, nil
}

type modelStub struct {
	text    string
	err     error
	prompts []string
}

func (m *modelStub) Generate(_ context.Context, _, prompt string) (string, error) {
	m.prompts = append(m.prompts, prompt)
	return m.text, m.err
}

type fixture struct {
	store  *databasetest.StoreMock
	client *clientMock
	disp   *Dispatcher

	acked  []string
	nacked []string
}

func newFixture(t *testing.T, store *databasetest.StoreMock, client *clientMock, model *modelStub) *fixture {
	t.Helper()

	f := &fixture{store: store, client: client}
	store.MarkEventDoneFunc = func(_ context.Context, id string) error {
		f.acked = append(f.acked, id)
		return nil
	}
	store.ReleaseEventFunc = func(_ context.Context, id string, _ time.Time) error {
		f.nacked = append(f.nacked, id)
		return nil
	}

	log := slog.New(slog.DiscardHandler)
	q := queue.New(store, log, 5, time.Minute)
	tr := translator.New(store, model, log, 2)
	polls := poll.NewManager(store, log)
	f.disp = New(q, store, client, tr, polls, log, time.Second, 10, 4, "https://example.com")
	return f
}

func textPayload(text string) []byte {
	return []byte(`{
		"type": "message",
		"replyToken": "rt-1",
		"timestamp": 1717243200000,
		"source": {"userId": "user-1", "roomId": "room-1"},
		"message": {"type": "text", "text": "` + text + `"}
	}`)
}

func process(f *fixture, payload []byte) {
	ctx := context.Background()
	task := queue.Task{ID: "ev-1", Payload: payload}
	f.disp.settle(ctx, task, f.disp.handleTask(ctx, task))
}

func TestTextEventTranslatesAndReplies(t *testing.T) {
	t.Parallel()

	var savedPost *database.Post
	store := &databasetest.StoreMock{
		SavePostFunc: func(_ context.Context, post *database.Post) error {
			post.ID = 11
			savedPost = post
			return nil
		},
	}
	client := &clientMock{}
	f := newFixture(t, store, client, &modelStub{text: "hello"})

	process(f, textPayload("こんにちは"))

	require.NotNil(t, savedPost)
	require.Equal(t, "user-1", savedPost.UserID)
	require.Equal(t, "room-1", savedPost.RoomID.String)
	require.False(t, savedPost.IsPoll)

	require.Len(t, client.replies, 1)
	require.Len(t, client.replies[0], 1)
	require.Equal(t, "[en] hello\n[pl] hello", client.replies[0][0].Text)

	require.Equal(t, []string{"ev-1"}, f.acked)
	require.Empty(t, f.nacked)
}

func TestTextEventWithoutTranslationSkipsReply(t *testing.T) {
	t.Parallel()

	store := &databasetest.StoreMock{}
	client := &clientMock{}
	f := newFixture(t, store, client, &modelStub{err: errors.New("models exhausted")})

	process(f, textPayload("hello"))

	require.Empty(t, client.replies)
	require.Equal(t, []string{"ev-1"}, f.acked, "a silent post still acks")
}

func TestNewUserGetsProfileCaptured(t *testing.T) {
	t.Parallel()

	var savedName string
	store := &databasetest.StoreMock{
		EnsureUserFunc: func(context.Context, string) (bool, error) { return true, nil },
		SetUserDisplayNameFunc: func(_ context.Context, _, displayName string) error {
			savedName = displayName
			return nil
		},
	}
	client := &clientMock{profile: &messenger.Profile{UserID: "user-1", DisplayName: "Hana"}}
	f := newFixture(t, store, client, &modelStub{text: "hi"})

	process(f, textPayload("hello"))
	require.Equal(t, "Hana", savedName)
}

func TestProfileFailureDoesNotBlockPost(t *testing.T) {
	t.Parallel()

	store := &databasetest.StoreMock{
		EnsureUserFunc: func(context.Context, string) (bool, error) { return true, nil },
	}
	client := &clientMock{profileErr: errors.New("profile api down")}
	f := newFixture(t, store, client, &modelStub{text: "hi"})

	process(f, textPayload("hello"))
	require.Equal(t, []string{"ev-1"}, f.acked)
}

func TestPollCommandRepliesWithButtons(t *testing.T) {
	t.Parallel()

	store := &databasetest.StoreMock{
		SavePostFunc: func(_ context.Context, post *database.Post) error {
			post.ID = 42
			require.True(t, post.IsPoll)
			return nil
		},
	}
	client := &clientMock{}
	f := newFixture(t, store, client, &modelStub{text: "Are you coming?"})

	process(f, textPayload("[check] 来ますか?"))

	require.Len(t, client.replies, 1)
	messages := client.replies[0]
	require.Len(t, messages, 2, "translated question plus the poll template")
	require.Equal(t, "text", messages[0].Type)
	require.NotNil(t, messages[1].Template)
	require.Len(t, messages[1].Template.Actions, 4)
	require.Equal(t, []string{"ev-1"}, f.acked)
}

func TestPollQuestionTranslatedWithoutMarker(t *testing.T) {
	t.Parallel()

	var loggedOriginal string
	store := &databasetest.StoreMock{
		SavePostFunc: func(_ context.Context, post *database.Post) error {
			post.ID = 42
			return nil
		},
		SaveTranslationLogFunc: func(_ context.Context, entry *database.TranslationLog) error {
			loggedOriginal = entry.Original
			return nil
		},
	}
	client := &clientMock{}
	model := &modelStub{text: "来ますか?"}
	f := newFixture(t, store, client, model)

	process(f, textPayload("[check] Are you coming?"))

	require.NotEmpty(t, model.prompts)
	for _, prompt := range model.prompts {
		require.NotContains(t, strings.ToLower(prompt), "[check]",
			"only the stripped question reaches the model")
		require.True(t, strings.HasSuffix(prompt, "Are you coming?"))
	}

	require.Equal(t, "Are you coming?", loggedOriginal,
		"provenance records the stripped question")

	require.Len(t, client.replies, 1)
	for _, msg := range client.replies[0] {
		require.NotContains(t, strings.ToLower(msg.Text), "[check]")
	}
}

func TestEventWithoutUserIsDropped(t *testing.T) {
	t.Parallel()

	ensured := false
	store := &databasetest.StoreMock{
		EnsureUserFunc: func(context.Context, string) (bool, error) {
			ensured = true
			return false, nil
		},
	}
	client := &clientMock{}
	f := newFixture(t, store, client, &modelStub{})

	payload := []byte(`{
		"type": "message",
		"replyToken": "rt-1",
		"source": {},
		"message": {"type": "text", "text": "anonymous"}
	}`)
	process(f, payload)

	require.False(t, ensured)
	require.Equal(t, []string{"ev-1"}, f.acked, "user-less events ack instead of retrying")
	require.Empty(t, f.nacked)
}

func TestPollCommandSurvivesTranslationFailure(t *testing.T) {
	t.Parallel()

	store := &databasetest.StoreMock{
		SavePostFunc: func(_ context.Context, post *database.Post) error {
			post.ID = 42
			return nil
		},
	}
	client := &clientMock{}
	f := newFixture(t, store, client, &modelStub{err: errors.New("down")})

	process(f, textPayload("[check] coming?"))

	require.Len(t, client.replies, 1)
	require.Len(t, client.replies[0], 1, "poll template is sent even without a translation")
	require.NotNil(t, client.replies[0][0].Template)
	require.Equal(t, []string{"ev-1"}, f.acked)
}

func TestVoteEventUpserts(t *testing.T) {
	t.Parallel()

	var gotVoter, gotAnswer string
	var gotPost int64
	store := &databasetest.StoreMock{
		UpsertVoteFunc: func(_ context.Context, postID int64, voterID, answer string) error {
			gotPost, gotVoter, gotAnswer = postID, voterID, answer
			return nil
		},
	}
	client := &clientMock{}
	f := newFixture(t, store, client, &modelStub{})

	payload := []byte(`{
		"type": "postback",
		"source": {"userId": "user-2"},
		"postback": {"data": "action=vote&postId=42&answer=NG"}
	}`)
	process(f, payload)

	require.Equal(t, int64(42), gotPost)
	require.Equal(t, "user-2", gotVoter)
	require.Equal(t, "NG", gotAnswer)
	require.Equal(t, []string{"user-2"}, client.typingFor)
	require.Equal(t, []string{"ev-1"}, f.acked)
}

func TestInvalidVoteIsDroppedNotRetried(t *testing.T) {
	t.Parallel()

	store := &databasetest.StoreMock{}
	client := &clientMock{}
	f := newFixture(t, store, client, &modelStub{})

	payload := []byte(`{
		"type": "postback",
		"source": {"userId": "user-2"},
		"postback": {"data": "action=vote&postId=not-a-number"}
	}`)
	process(f, payload)

	require.Equal(t, []string{"ev-1"}, f.acked, "unprocessable payloads must not loop forever")
	require.Empty(t, f.nacked)
}

func TestHandlerFailureNacks(t *testing.T) {
	t.Parallel()

	store := &databasetest.StoreMock{
		SavePostFunc: func(context.Context, *database.Post) error {
			return errors.New("disk full")
		},
	}
	client := &clientMock{}
	f := newFixture(t, store, client, &modelStub{text: "hi"})

	process(f, textPayload("hello"))

	require.Empty(t, f.acked)
	require.Equal(t, []string{"ev-1"}, f.nacked)
}

func TestReplyFailureNacks(t *testing.T) {
	t.Parallel()

	store := &databasetest.StoreMock{}
	client := &clientMock{replyErr: errors.New("platform down")}
	f := newFixture(t, store, client, &modelStub{text: "hi"})

	process(f, textPayload("hello"))

	require.Empty(t, f.acked)
	require.Equal(t, []string{"ev-1"}, f.nacked)
}

func TestOtherEventKindsAreAcked(t *testing.T) {
	t.Parallel()

	saved := false
	store := &databasetest.StoreMock{
		SavePostFunc: func(context.Context, *database.Post) error {
			saved = true
			return nil
		},
	}
	client := &clientMock{}
	f := newFixture(t, store, client, &modelStub{})

	process(f, []byte(`{"type": "follow", "source": {"userId": "user-1"}}`))

	require.False(t, saved)
	require.Equal(t, []string{"ev-1"}, f.acked)
}

func TestMalformedPayloadNacks(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &databasetest.StoreMock{}, &clientMock{}, &modelStub{})
	process(f, []byte(`{not json`))

	require.Empty(t, f.acked)
	require.Equal(t, []string{"ev-1"}, f.nacked)
}
