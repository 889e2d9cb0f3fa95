// Package session runs one client connection: it subscribes to the client's
// groups, keeps the connection's hint timers, answers replay requests and
// writes every outbound frame in order.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
	"github.com/MusicMeister52/hunter2-sub000/internal/hints"
	"github.com/MusicMeister52/hunter2-sub000/internal/observability"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/logger"
	"github.com/MusicMeister52/hunter2-sub000/internal/realtime"
)

var (
	ErrClosed       = errors.New("session closed")
	ErrDisconnected = errors.New("session disconnected by hub")
	ErrOverflow     = errors.New("session queue overflow")
)

// Transport writes one frame to the client.
type Transport interface {
	Send(ctx context.Context, env realtime.Envelope) error
}

// Store answers the queries a session makes on connect, on replay requests
// and on hint control messages.
type Store interface {
	HintStatuses(ctx context.Context, teamID, puzzleID uuid.UUID) ([]hints.Status, error)
	// Guesses lists the team's guesses given after since, or all when since is nil.
	Guesses(ctx context.Context, teamID, puzzleID uuid.UUID, since *time.Time) ([]realtime.GuessContent, error)
	Unlocks(ctx context.Context, teamID, puzzleID uuid.UUID) ([]realtime.UnlockContent, error)
}

type Config struct {
	Log       *logger.Logger
	Hub       *realtime.Hub
	Store     Store
	Transport Transport

	EventID uuid.UUID
	// PuzzleID is nil for event-wide sessions that only get announcements.
	PuzzleID uuid.UUID
	TeamID   uuid.UUID
	UserID   uuid.UUID

	// QueueSize bounds replies and hint deliveries waiting to be written.
	QueueSize int
	Now       func() time.Time
}

type Session struct {
	log       *logger.Logger
	hub       *realtime.Hub
	store     Store
	transport Transport
	client    *realtime.Client
	scheduler *hints.Scheduler
	now       func() time.Time

	eventID, puzzleID, teamID uuid.UUID

	queue chan realtime.Message
	// delivered is only touched by the writer in Run.
	delivered map[string]bool

	done      chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
	stopErr   error
}

func New(cfg Config) *Session {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Session{
		hub:       cfg.Hub,
		store:     cfg.Store,
		transport: cfg.Transport,
		client:    cfg.Hub.NewClient(cfg.UserID),
		now:       cfg.Now,
		eventID:   cfg.EventID,
		puzzleID:  cfg.PuzzleID,
		teamID:    cfg.TeamID,
		queue:     make(chan realtime.Message, cfg.QueueSize),
		delivered: map[string]bool{},
		done:      make(chan struct{}),
	}
	s.log = cfg.Log.With("component", "Session", "session_id", s.client.ID, "puzzle_id", cfg.PuzzleID, "team_id", cfg.TeamID)
	s.scheduler = hints.NewScheduler(s.log, hints.Callbacks{
		Deliver: s.deliverHint,
		Revoke:  s.revokeHint,
	}, cfg.Now)

	s.hub.Join(s.client, realtime.EventGroup(s.eventID))
	if s.puzzleID != uuid.Nil {
		s.hub.Join(s.client, realtime.PuzzleGroup(s.eventID, s.puzzleID))
		s.hub.Join(s.client, realtime.TeamPuzzleGroup(s.eventID, s.puzzleID, s.teamID))
	}
	observability.Current().SessionOpened()
	return s
}

func (s *Session) ID() uuid.UUID { return s.client.ID }

// Scheduler exposes the session's hint timers.
func (s *Session) Scheduler() *hints.Scheduler { return s.scheduler }

// Hydrate arms a timer for every hint of the puzzle. Hints that are already
// visible are left for the client's replay request.
func (s *Session) Hydrate(ctx context.Context) error {
	if s.puzzleID == uuid.Nil {
		return nil
	}
	statuses, err := s.store.HintStatuses(ctx, s.teamID, s.puzzleID)
	if err != nil {
		return err
	}
	for _, st := range statuses {
		s.scheduler.Reschedule(st.Hint, st.UnlocksAt, hints.RescheduleOptions{})
	}
	return nil
}

// Run writes frames until ctx ends, the session is closed or a write fails.
// Queued output is written before the next hub message is taken, so a hint
// produced by a control message goes out ahead of the events behind it.
func (s *Session) Run(ctx context.Context) error {
	for {
		if err := s.flush(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return s.stopErr
		case msg, ok := <-s.client.Outbound():
			if !ok {
				if s.client.Reason() == realtime.ReasonOverflow {
					s.log.Warn("session dropped by hub; client must reconnect")
					return ErrDisconnected
				}
				return ErrClosed
			}
			if msg.Type.IsControl() {
				s.control(ctx, msg)
				continue
			}
			if err := s.write(ctx, msg); err != nil {
				return err
			}
		case msg := <-s.queue:
			if err := s.write(ctx, msg); err != nil {
				return err
			}
		}
	}
}

func (s *Session) flush(ctx context.Context) error {
	for {
		select {
		case msg := <-s.queue:
			if err := s.write(ctx, msg); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (s *Session) write(ctx context.Context, msg realtime.Message) error {
	msg, ok := s.admit(msg)
	if !ok {
		return nil
	}
	return s.transport.Send(ctx, msg.Envelope())
}

func (s *Session) control(ctx context.Context, msg realtime.Message) {
	var c realtime.HintControl
	if err := msg.Decode(&c); err != nil {
		s.log.Warn("bad control message", "type", msg.Type, "error", err)
		return
	}
	switch msg.Type {
	case realtime.TypeHintRemoved:
		s.scheduler.Remove(c.HintID)
	case realtime.TypeScheduleHint, realtime.TypeHintChanged:
		if err := s.rescheduleHint(ctx, c.HintID, c.SendExpired || msg.Type == realtime.TypeHintChanged); err != nil {
			s.log.Warn("hint reschedule failed", "hint_id", c.HintID, "error", err)
		}
	}
}

func (s *Session) rescheduleHint(ctx context.Context, hintID uuid.UUID, sendExpired bool) error {
	statuses, err := s.store.HintStatuses(ctx, s.teamID, s.puzzleID)
	if err != nil {
		return err
	}
	for _, st := range statuses {
		if st.Hint.ID == hintID {
			s.scheduler.Reschedule(st.Hint, st.UnlocksAt, hints.RescheduleOptions{SendExpired: sendExpired})
			return nil
		}
	}
	s.scheduler.Remove(hintID)
	return nil
}

// deliverHint and revokeHint run under the scheduler lock.
func (s *Session) deliverHint(h *types.Hint, at time.Time) {
	msg, err := realtime.NewMessage("", realtime.TypeNewHint, realtime.HintFor(h, at))
	if err != nil {
		s.log.Error("render hint failed", "hint_id", h.ID, "error", err)
		return
	}
	s.offer(msg)
}

func (s *Session) revokeHint(h *types.Hint) {
	msg, err := realtime.NewMessage("", realtime.TypeDeleteHint, realtime.DeleteHintFor(h))
	if err != nil {
		s.log.Error("render hint failed", "hint_id", h.ID, "error", err)
		return
	}
	s.offer(msg)
}

// offer queues msg without blocking. A full queue ends the session so the
// client reconnects and replays.
func (s *Session) offer(msg realtime.Message) {
	select {
	case s.queue <- msg:
	case <-s.done:
	default:
		s.log.Warn("session queue full; stopping", "type", msg.Type)
		s.stop(ErrOverflow)
	}
}

func (s *Session) enqueue(ctx context.Context, msg realtime.Message) error {
	select {
	case s.queue <- msg:
		return nil
	case <-s.done:
		return s.stopErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) stop(err error) {
	s.stopOnce.Do(func() {
		s.stopErr = err
		close(s.done)
	})
}

// Close cancels every hint timer and leaves every group. It is safe to call
// more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.stop(ErrClosed)
		s.scheduler.Close()
		s.hub.CloseClient(s.client)
		observability.Current().SessionClosed()
	})
}
