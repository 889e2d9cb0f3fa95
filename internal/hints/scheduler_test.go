package hints

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MusicMeister52/hunter2-sub000/internal/data/repos/testutil"
	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		Deliver: func(h *types.Hint, _ time.Time) { r.add("new:" + h.Text) },
		Revoke:  func(h *types.Hint) { r.add("delete:" + h.Text) },
	}
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func newHint(text string) *types.Hint {
	return &types.Hint{ID: uuid.New(), Text: text, Mode: types.HintModeAuto}
}

func at(d time.Duration) *time.Time {
	t := time.Now().Add(d)
	return &t
}

func TestSchedulerFiresOnce(t *testing.T) {
	rec := &recorder{}
	s := NewScheduler(testutil.Logger(t), rec.callbacks(), nil)
	defer s.Close()
	h := newHint("look up")

	s.Reschedule(h, at(20*time.Millisecond), RescheduleOptions{})
	state, sent := s.State(h.ID)
	assert.Equal(t, Armed, state)
	assert.False(t, sent)

	require.Eventually(t, func() bool { return len(rec.list()) == 1 }, time.Second, 5*time.Millisecond)
	state, sent = s.State(h.ID)
	assert.Equal(t, Fired, state)
	assert.True(t, sent)

	// Still visible: nothing new goes out.
	s.Reschedule(h, at(-time.Second), RescheduleOptions{SendExpired: true})
	assert.Equal(t, []string{"new:look up"}, rec.list())
	assert.False(t, s.Claim(h))
}

func TestSchedulerExpiredDelivery(t *testing.T) {
	rec := &recorder{}
	s := NewScheduler(testutil.Logger(t), rec.callbacks(), nil)
	defer s.Close()
	quiet, loud := newHint("quiet"), newHint("loud")

	s.Reschedule(quiet, at(-time.Minute), RescheduleOptions{})
	s.Reschedule(loud, at(-time.Minute), RescheduleOptions{SendExpired: true})
	assert.Equal(t, []string{"new:loud"}, rec.list())

	state, sent := s.State(quiet.ID)
	assert.Equal(t, Fired, state)
	assert.False(t, sent)
	assert.True(t, s.Claim(quiet))
	assert.False(t, s.Claim(quiet))
}

func TestSchedulerRevokesAndRedelivers(t *testing.T) {
	rec := &recorder{}
	s := NewScheduler(testutil.Logger(t), rec.callbacks(), nil)
	defer s.Close()
	h := newHint("h")

	s.Reschedule(h, at(-time.Second), RescheduleOptions{SendExpired: true})
	s.Reschedule(h, nil, RescheduleOptions{SendExpired: true})
	state, sent := s.State(h.ID)
	assert.Equal(t, Pending, state)
	assert.False(t, sent)

	s.Reschedule(h, at(-time.Second), RescheduleOptions{SendExpired: true})
	assert.Equal(t, []string{"new:h", "delete:h", "new:h"}, rec.list())
}

func TestSchedulerContentChangeReplacesHint(t *testing.T) {
	rec := &recorder{}
	s := NewScheduler(testutil.Logger(t), rec.callbacks(), nil)
	defer s.Close()
	h := newHint("old")
	s.Reschedule(h, at(-time.Second), RescheduleOptions{SendExpired: true})

	edited := *h
	edited.Text = "new"
	s.Reschedule(&edited, at(-time.Second), RescheduleOptions{SendExpired: true})
	assert.Equal(t, []string{"new:old", "delete:old", "new:new"}, rec.list())
}

func TestSchedulerRescheduleReplacesTimer(t *testing.T) {
	rec := &recorder{}
	s := NewScheduler(testutil.Logger(t), rec.callbacks(), nil)
	defer s.Close()
	h := newHint("h")

	s.Reschedule(h, at(30*time.Millisecond), RescheduleOptions{})
	s.Reschedule(h, at(time.Hour), RescheduleOptions{})
	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, rec.list())
	assert.Equal(t, 1, s.Armed())
}

func TestSchedulerCancelIsIdempotent(t *testing.T) {
	rec := &recorder{}
	s := NewScheduler(testutil.Logger(t), rec.callbacks(), nil)
	defer s.Close()
	h := newHint("h")

	s.Cancel(h.ID)
	s.Reschedule(h, at(20*time.Millisecond), RescheduleOptions{})
	s.Cancel(h.ID)
	s.Cancel(h.ID)
	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, rec.list())
	state, _ := s.State(h.ID)
	assert.Equal(t, Cancelled, state)

	fired := newHint("fired")
	s.Reschedule(fired, at(-time.Second), RescheduleOptions{SendExpired: true})
	s.Cancel(fired.ID)
	state, sent := s.State(fired.ID)
	assert.Equal(t, Fired, state)
	assert.True(t, sent)
}

func TestSchedulerRemoveRevokesDelivered(t *testing.T) {
	rec := &recorder{}
	s := NewScheduler(testutil.Logger(t), rec.callbacks(), nil)
	defer s.Close()
	shown, armed := newHint("shown"), newHint("armed")
	s.Reschedule(shown, at(-time.Second), RescheduleOptions{SendExpired: true})
	s.Reschedule(armed, at(time.Hour), RescheduleOptions{})

	s.Remove(shown.ID)
	s.Remove(armed.ID)
	s.Remove(uuid.New())
	assert.Equal(t, []string{"new:shown", "delete:shown"}, rec.list())
	assert.Zero(t, s.Armed())
}

func TestSchedulerCloseStopsTimers(t *testing.T) {
	rec := &recorder{}
	s := NewScheduler(testutil.Logger(t), rec.callbacks(), nil)
	for i := 0; i < 10; i++ {
		s.Reschedule(newHint("h"), at(20*time.Millisecond), RescheduleOptions{})
	}
	assert.Equal(t, 10, s.Armed())
	s.Close()
	s.Close()
	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, rec.list())
	assert.Zero(t, s.Armed())

	s.Reschedule(newHint("late"), at(-time.Second), RescheduleOptions{SendExpired: true})
	assert.Empty(t, rec.list())
}

func TestSchedulerRecoversCallbackPanic(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	s := NewScheduler(testutil.Logger(t), Callbacks{Deliver: func(h *types.Hint, _ time.Time) {
		mu.Lock()
		calls++
		mu.Unlock()
		panic("boom")
	}}, nil)
	defer s.Close()

	s.Reschedule(newHint("a"), at(10*time.Millisecond), RescheduleOptions{})
	s.Reschedule(newHint("b"), at(10*time.Millisecond), RescheduleOptions{})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	}, time.Second, 5*time.Millisecond)
	// The scheduler lock was released by the panicking callbacks.
	assert.Zero(t, s.Armed())
}
