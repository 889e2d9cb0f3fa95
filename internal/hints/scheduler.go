package hints

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
	"github.com/MusicMeister52/hunter2-sub000/internal/observability"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/logger"
)

type State int

const (
	// Pending: no anchor yet, nothing scheduled.
	Pending State = iota
	Armed
	Fired
	Cancelled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Armed:
		return "armed"
	case Fired:
		return "fired"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// RescheduleOptions controls what Reschedule does with a hint that is
// already due.
type RescheduleOptions struct {
	// SendExpired delivers a due, undelivered hint right away. Without it the
	// hint is left for the client's replay request.
	SendExpired bool
}

// Callbacks run with the scheduler lock held and must not call back into the
// Scheduler. They should hand the hint to a queue and return.
type Callbacks struct {
	Deliver func(h *types.Hint, at time.Time)
	Revoke  func(h *types.Hint)
}

type entry struct {
	hint   *types.Hint
	fireAt *time.Time
	state  State
	sent   bool
	timer  *time.Timer
	gen    uint64
}

func (e *entry) stop() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// Scheduler owns the hint timers of one connection.
type Scheduler struct {
	log *logger.Logger
	cb  Callbacks
	now func() time.Time

	mu      sync.Mutex
	entries map[uuid.UUID]*entry
	gen     uint64
	closed  bool
}

// NewScheduler builds a scheduler. now defaults to time.Now.
func NewScheduler(baseLog *logger.Logger, cb Callbacks, now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		log:     baseLog.With("component", "HintScheduler"),
		cb:      cb,
		now:     now,
		entries: map[uuid.UUID]*entry{},
	}
}

func contentChanged(a, b *types.Hint) bool {
	if a == nil || b == nil {
		return false
	}
	if a.Text != b.Text {
		return true
	}
	if (a.StartAfterID == nil) != (b.StartAfterID == nil) {
		return true
	}
	return a.StartAfterID != nil && *a.StartAfterID != *b.StartAfterID
}

// Reschedule cancels any timer for h and re-arms it for fireAt. A nil fireAt
// puts the hint back to Pending. A delivered hint that stops being visible,
// or whose content changed, is revoked first.
func (s *Scheduler) Reschedule(h *types.Hint, fireAt *time.Time, opts RescheduleOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || h == nil {
		return
	}
	e := s.entries[h.ID]
	if e == nil {
		e = &entry{}
		s.entries[h.ID] = e
	}
	e.stop()
	s.gen++
	e.gen = s.gen
	prev := e.hint
	e.hint = h
	e.fireAt = fireAt

	now := s.now()
	due := fireAt != nil && !fireAt.After(now)
	if e.sent && (!due || contentChanged(prev, h)) {
		s.revoke(e, prev)
	}

	switch {
	case fireAt == nil:
		e.state = Pending
	case due:
		e.state = Fired
		if !e.sent && opts.SendExpired {
			s.deliver(e)
		}
	default:
		e.state = Armed
		id, gen := h.ID, e.gen
		e.timer = time.AfterFunc(fireAt.Sub(now), func() { s.fire(id, gen) })
		observability.Current().IncHintTimer("armed")
	}
}

// Cancel stops the hint's timer. It is a no-op for unknown or fired hints.
func (s *Scheduler) Cancel(hintID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[hintID]
	if e == nil || e.state != Armed {
		return
	}
	e.stop()
	e.gen = 0
	e.state = Cancelled
	observability.Current().IncHintTimer("cancelled")
}

// Remove forgets the hint, revoking it if it was delivered.
func (s *Scheduler) Remove(hintID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[hintID]
	if e == nil {
		return
	}
	e.stop()
	if e.sent && !s.closed {
		s.revoke(e, e.hint)
	}
	delete(s.entries, hintID)
}

// Claim records that h was delivered by a replay. It reports whether the
// hint had not been delivered yet.
func (s *Scheduler) Claim(h *types.Hint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || h == nil {
		return false
	}
	e := s.entries[h.ID]
	if e == nil {
		e = &entry{hint: h, state: Fired}
		s.entries[h.ID] = e
	}
	if e.sent {
		return false
	}
	e.stop()
	e.hint = h
	e.state = Fired
	e.sent = true
	return true
}

// Close stops every timer. No callback runs after Close returns.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, e := range s.entries {
		e.stop()
	}
	s.entries = map[uuid.UUID]*entry{}
}

// State reports the hint's state and whether it was delivered.
func (s *Scheduler) State(hintID uuid.UUID) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[hintID]
	if e == nil {
		return Pending, false
	}
	return e.state, e.sent
}

// Armed returns the number of running timers.
func (s *Scheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.state == Armed {
			n++
		}
	}
	return n
}

func (s *Scheduler) fire(hintID uuid.UUID, gen uint64) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("hint timer panicked", "hint_id", hintID, "panic", r)
			observability.Current().IncHintTimer("panic")
		}
	}()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	e := s.entries[hintID]
	if e == nil || e.gen != gen || e.state != Armed {
		return
	}
	e.timer = nil
	e.state = Fired
	observability.Current().IncHintTimer("fired")
	if !e.sent {
		s.deliver(e)
	}
}

func (s *Scheduler) deliver(e *entry) {
	e.sent = true
	if s.cb.Deliver != nil && e.fireAt != nil {
		s.cb.Deliver(e.hint, *e.fireAt)
	}
}

func (s *Scheduler) revoke(e *entry, h *types.Hint) {
	e.sent = false
	if h == nil {
		h = e.hint
	}
	if s.cb.Revoke != nil {
		s.cb.Revoke(h)
	}
}
