package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MusicMeister52/hunter2-sub000/internal/data/repos/testutil"
	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
	"github.com/MusicMeister52/hunter2-sub000/internal/hints"
	"github.com/MusicMeister52/hunter2-sub000/internal/realtime"
)

type fakeTransport struct {
	frames chan realtime.Envelope
}

func (f *fakeTransport) Send(_ context.Context, env realtime.Envelope) error {
	f.frames <- env
	return nil
}

type fakeStore struct {
	mu       sync.Mutex
	statuses []hints.Status
	guesses  []realtime.GuessContent
	unlocks  []realtime.UnlockContent
	since    *time.Time
}

func (f *fakeStore) HintStatuses(context.Context, uuid.UUID, uuid.UUID) ([]hints.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]hints.Status(nil), f.statuses...), nil
}

func (f *fakeStore) Guesses(_ context.Context, _, _ uuid.UUID, since *time.Time) ([]realtime.GuessContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.since = since
	return append([]realtime.GuessContent(nil), f.guesses...), nil
}

func (f *fakeStore) Unlocks(context.Context, uuid.UUID, uuid.UUID) ([]realtime.UnlockContent, error) {
	return f.unlocks, nil
}

func (f *fakeStore) setStatuses(st ...hints.Status) {
	f.mu.Lock()
	f.statuses = st
	f.mu.Unlock()
}

type harness struct {
	hub       *realtime.Hub
	store     *fakeStore
	transport *fakeTransport
	sess      *Session
	cfg       Config
	runErr    chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := testutil.Logger(t)
	h := &harness{
		hub:       realtime.NewHub(log, 0),
		store:     &fakeStore{},
		transport: &fakeTransport{frames: make(chan realtime.Envelope, 64)},
		runErr:    make(chan error, 1),
	}
	h.cfg = Config{
		Log:       log,
		Hub:       h.hub,
		Store:     h.store,
		Transport: h.transport,
		EventID:   uuid.New(),
		PuzzleID:  uuid.New(),
		TeamID:    uuid.New(),
		UserID:    uuid.New(),
	}
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	h.sess = New(h.cfg)
	require.NoError(t, h.sess.Hydrate(context.Background()))
	go func() { h.runErr <- h.sess.Run(context.Background()) }()
	t.Cleanup(h.sess.Close)
}

func (h *harness) teamGroup() string {
	return realtime.TeamPuzzleGroup(h.cfg.EventID, h.cfg.PuzzleID, h.cfg.TeamID)
}

func (h *harness) publish(t *testing.T, typ realtime.MessageType, content any) {
	t.Helper()
	msg, err := realtime.NewMessage(h.teamGroup(), typ, content)
	require.NoError(t, err)
	h.hub.Publish(msg)
}

func (h *harness) next(t *testing.T) realtime.Envelope {
	t.Helper()
	select {
	case env := <-h.transport.frames:
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame")
	}
	return realtime.Envelope{}
}

func (h *harness) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case env := <-h.transport.frames:
		t.Fatalf("unexpected frame %s: %s", env.Type, env.Content)
	case <-time.After(d):
	}
}

func errorText(t *testing.T, env realtime.Envelope) string {
	t.Helper()
	require.Equal(t, realtime.TypeError, env.Type)
	var c realtime.ErrorContent
	require.NoError(t, json.Unmarshal(env.Content, &c))
	return c.Error
}

func TestRequestErrors(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	ctx := context.Background()

	require.NoError(t, h.sess.HandleRequest(ctx, []byte(`{}`)))
	assert.Equal(t, "no type in message", errorText(t, h.next(t)))
	require.NoError(t, h.sess.HandleRequest(ctx, []byte(`{"type":"guesses-plz"}`)))
	assert.Equal(t, `required field "from" is missing`, errorText(t, h.next(t)))
	require.NoError(t, h.sess.HandleRequest(ctx, []byte(`{"type":"hints-plz"}`)))
	assert.Equal(t, `required field "from" is missing`, errorText(t, h.next(t)))
	require.NoError(t, h.sess.HandleRequest(ctx, []byte(`{"type":"gimme"}`)))
	assert.Equal(t, "invalid request type", errorText(t, h.next(t)))
}

func TestGuessReplayAndDedup(t *testing.T) {
	h := newHarness(t)
	g1 := realtime.GuessContent{Guess: "a", GuessUID: "g1", By: "ann"}
	g2 := realtime.GuessContent{Guess: "b", GuessUID: "g2", By: "ann"}
	h.store.guesses = []realtime.GuessContent{g1, g2}
	h.start(t)
	ctx := context.Background()

	h.publish(t, realtime.TypeNewGuesses, []realtime.GuessContent{g1})
	env := h.next(t)
	assert.Equal(t, realtime.TypeNewGuesses, env.Type)

	// Replay from a cursor: g1 was already pushed, only g2 is new.
	require.NoError(t, h.sess.HandleRequest(ctx, []byte(`{"type":"guesses-plz","from":"1775044800000"}`)))
	env = h.next(t)
	assert.Equal(t, realtime.TypeNewGuesses, env.Type)
	var got []realtime.GuessContent
	require.NoError(t, json.Unmarshal(env.Content, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "g2", got[0].GuessUID)
	require.NotNil(t, h.store.since)
	assert.Equal(t, int64(1775044800000), h.store.since.UnixMilli())

	h.publish(t, realtime.TypeNewGuesses, []realtime.GuessContent{g2})
	h.quiet(t, 50*time.Millisecond)

	require.NoError(t, h.sess.HandleRequest(ctx, []byte(`{"type":"guesses-plz","from":"all"}`)))
	env = h.next(t)
	assert.Equal(t, realtime.TypeOldGuesses, env.Type)
	require.NoError(t, json.Unmarshal(env.Content, &got))
	assert.Len(t, got, 2)
}

func TestUnlockRevocationAllowsRedelivery(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	u := realtime.UnlockContent{Unlock: "look left", UnlockUID: "u1", Guess: "alpha", GuessUID: "g1"}

	h.publish(t, realtime.TypeNewUnlock, u)
	h.publish(t, realtime.TypeNewUnlock, u)
	h.publish(t, realtime.TypeDeleteUnlockGuess, realtime.DeleteUnlockGuessContent{UnlockUID: "u1", Guess: "alpha", GuessUID: "g1"})
	h.publish(t, realtime.TypeNewUnlock, u)

	assert.Equal(t, realtime.TypeNewUnlock, h.next(t).Type)
	assert.Equal(t, realtime.TypeDeleteUnlockGuess, h.next(t).Type)
	assert.Equal(t, realtime.TypeNewUnlock, h.next(t).Type)
	h.quiet(t, 50*time.Millisecond)
}

func TestHydrateArmsTimersWithoutSendingExpired(t *testing.T) {
	h := newHarness(t)
	past := time.Now().Add(-time.Minute)
	soon := time.Now().Add(40 * time.Millisecond)
	visible := &types.Hint{ID: uuid.New(), Text: "already", Mode: types.HintModeAuto}
	later := &types.Hint{ID: uuid.New(), Text: "later", Mode: types.HintModeAuto}
	never := &types.Hint{ID: uuid.New(), Text: "never", Mode: types.HintModeAuto}
	h.store.setStatuses(
		hints.Status{Hint: visible, UnlocksAt: &past},
		hints.Status{Hint: later, UnlocksAt: &soon},
		hints.Status{Hint: never},
	)
	h.start(t)

	env := h.next(t)
	assert.Equal(t, realtime.TypeNewHint, env.Type)
	var c realtime.HintContent
	require.NoError(t, json.Unmarshal(env.Content, &c))
	assert.Equal(t, "later", c.Hint)
	h.quiet(t, 50*time.Millisecond)

	require.NoError(t, h.sess.HandleRequest(context.Background(), []byte(`{"type":"hints-plz","from":"all"}`)))
	for _, want := range []string{"already", "later"} {
		env := h.next(t)
		assert.Equal(t, realtime.TypeOldHint, env.Type)
		require.NoError(t, json.Unmarshal(env.Content, &c))
		assert.Equal(t, want, c.Hint)
	}
	h.quiet(t, 20*time.Millisecond)
}

func TestHintReplayFromCursor(t *testing.T) {
	h := newHarness(t)
	early := time.Now().Add(-time.Hour)
	recent := time.Now().Add(-time.Minute)
	a := &types.Hint{ID: uuid.New(), Text: "early", Mode: types.HintModeAuto}
	b := &types.Hint{ID: uuid.New(), Text: "recent", Mode: types.HintModeAuto}
	h.store.setStatuses(hints.Status{Hint: a, UnlocksAt: &early}, hints.Status{Hint: b, UnlocksAt: &recent})
	h.start(t)

	cursor := time.Now().Add(-30 * time.Minute).UnixMilli()
	req, _ := json.Marshal(map[string]any{"type": "hints-plz", "from": cursor})
	require.NoError(t, h.sess.HandleRequest(context.Background(), req))
	env := h.next(t)
	assert.Equal(t, realtime.TypeNewHint, env.Type)
	var c realtime.HintContent
	require.NoError(t, json.Unmarshal(env.Content, &c))
	assert.Equal(t, "recent", c.Hint)
	h.quiet(t, 30*time.Millisecond)

	_, sent := h.sess.Scheduler().State(b.ID)
	assert.True(t, sent)
}

func TestControlMessagesRescheduleAndRevoke(t *testing.T) {
	h := newHarness(t)
	unlockID := uuid.New()
	dep := &types.Hint{ID: uuid.New(), Text: "dependent", StartAfterID: &unlockID, Mode: types.HintModeAuto}
	h.store.setStatuses(hints.Status{Hint: dep})
	h.start(t)
	h.quiet(t, 20*time.Millisecond)

	// The unlock is granted with the delay already elapsed.
	granted := time.Now().Add(-time.Second)
	h.store.setStatuses(hints.Status{Hint: dep, UnlocksAt: &granted})
	h.publish(t, realtime.TypeScheduleHint, realtime.HintControl{HintID: dep.ID, SendExpired: true})
	env := h.next(t)
	assert.Equal(t, realtime.TypeNewHint, env.Type)
	var c realtime.HintContent
	require.NoError(t, json.Unmarshal(env.Content, &c))
	require.NotNil(t, c.DependsOnUnlockUID)
	assert.Equal(t, types.CompactID(unlockID), *c.DependsOnUnlockUID)

	// The unlock is revoked.
	h.store.setStatuses(hints.Status{Hint: dep})
	h.publish(t, realtime.TypeScheduleHint, realtime.HintControl{HintID: dep.ID, SendExpired: true})
	assert.Equal(t, realtime.TypeDeleteHint, h.next(t).Type)
	state, sent := h.sess.Scheduler().State(dep.ID)
	assert.Equal(t, hints.Pending, state)
	assert.False(t, sent)

	// Granted again: a fresh delivery.
	h.store.setStatuses(hints.Status{Hint: dep, UnlocksAt: &granted})
	h.publish(t, realtime.TypeScheduleHint, realtime.HintControl{HintID: dep.ID, SendExpired: true})
	assert.Equal(t, realtime.TypeNewHint, h.next(t).Type)

	// Hint deleted.
	h.store.setStatuses()
	h.publish(t, realtime.TypeHintRemoved, realtime.HintControl{HintID: dep.ID})
	assert.Equal(t, realtime.TypeDeleteHint, h.next(t).Type)
	h.quiet(t, 20*time.Millisecond)
}

func TestHintFramesKeepOrderWithHubEvents(t *testing.T) {
	h := newHarness(t)
	hint := &types.Hint{ID: uuid.New(), Text: "look closer", Mode: types.HintModeAuto}
	h.store.setStatuses(hints.Status{Hint: hint})
	h.start(t)

	granted := time.Now().Add(-time.Second)
	for i := 0; i < 10; i++ {
		want := realtime.TypeNewHint
		if i%2 == 0 {
			h.store.setStatuses(hints.Status{Hint: hint, UnlocksAt: &granted})
		} else {
			h.store.setStatuses(hints.Status{Hint: hint})
			want = realtime.TypeDeleteHint
		}
		h.publish(t, realtime.TypeScheduleHint, realtime.HintControl{HintID: hint.ID, SendExpired: true})
		h.publish(t, realtime.TypeNewGuesses, []realtime.GuessContent{{Guess: "g", GuessUID: uuid.NewString()}})

		assert.Equal(t, want, h.next(t).Type, "round %d", i)
		assert.Equal(t, realtime.TypeNewGuesses, h.next(t).Type, "round %d", i)
	}
}

func TestCloseCleansUp(t *testing.T) {
	h := newHarness(t)
	soon := time.Now().Add(time.Hour)
	h.store.setStatuses(hints.Status{Hint: &types.Hint{ID: uuid.New(), Mode: types.HintModeAuto}, UnlocksAt: &soon})
	h.start(t)
	require.Equal(t, 1, h.sess.Scheduler().Armed())
	assert.Equal(t, 3, h.hub.Groups())

	h.sess.Close()
	h.sess.Close()
	select {
	case err := <-h.runErr:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after Close")
	}
	assert.Zero(t, h.sess.Scheduler().Armed())
	assert.Zero(t, h.hub.Groups())
}

func TestEventSessionOnlyGetsAnnouncements(t *testing.T) {
	h := newHarness(t)
	h.cfg.PuzzleID = uuid.Nil
	h.start(t)
	assert.Equal(t, 1, h.hub.Groups())

	msg, err := realtime.NewMessage(realtime.EventGroup(h.cfg.EventID), realtime.TypeAnnouncement, realtime.AnnouncementContent{Title: "hello"})
	require.NoError(t, err)
	h.hub.Publish(msg)
	assert.Equal(t, realtime.TypeAnnouncement, h.next(t).Type)

	require.NoError(t, h.sess.HandleRequest(context.Background(), []byte(`{"type":"unlocks-plz"}`)))
	assert.Equal(t, "invalid request type", errorText(t, h.next(t)))
}
