package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/MusicMeister52/hunter2-sub000/internal/data/aggregates"
	"github.com/MusicMeister52/hunter2-sub000/internal/data/repos"
	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
	domainagg "github.com/MusicMeister52/hunter2-sub000/internal/domain/aggregates"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/apierr"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/dbctx"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/logger"
	"github.com/MusicMeister52/hunter2-sub000/internal/progress"
)

const (
	DefaultGuessMinInterval = 5 * time.Second
	DefaultGuessMaxLength   = 512
)

var (
	ErrEventOver       = apierr.New(http.StatusBadRequest, "event_over", errors.New("event is over"))
	ErrNoAnswerGiven   = apierr.New(http.StatusBadRequest, "no_answer", errors.New("no answer given"))
	ErrAnswerTooLong   = apierr.New(http.StatusBadRequest, "answer_too_long", errors.New("answer too long"))
	ErrAlreadyAnswered = apierr.New(http.StatusUnprocessableEntity, "already_answered", errors.New("already answered"))
	ErrTooFast         = apierr.New(http.StatusTooManyRequests, "too_fast", errors.New("too fast"))
)

type GuessConfig struct {
	// MinInterval is the least time between one user's guesses on one puzzle.
	MinInterval time.Duration
	MaxLength   int
}

// GuessResult is the submitter's view of their guess. Correct is nil while
// the guess could not be evaluated.
type GuessResult struct {
	Guess         *types.Guess
	Correct       *bool
	Pending       bool
	TimeoutLength time.Duration
	TimeoutEnd    *time.Time
}

type GuessService interface {
	Submit(ctx context.Context, scope *RequestScope, puzzleID uuid.UUID, text string) (*GuessResult, error)
}

type guessService struct {
	log      *logger.Logger
	repos    *repos.Set
	engine   *progress.Engine
	notify   HuntNotifier
	cfg      GuessConfig
	throttle *guessThrottle
}

func NewGuessService(baseLog *logger.Logger, rs *repos.Set, engine *progress.Engine, notify HuntNotifier, cfg GuessConfig) GuessService {
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultGuessMaxLength
	}
	return &guessService{
		log:      baseLog.With("service", "GuessService"),
		repos:    rs,
		engine:   engine,
		notify:   notify,
		cfg:      cfg,
		throttle: newGuessThrottle(cfg.MinInterval),
	}
}

func (s *guessService) Submit(ctx context.Context, scope *RequestScope, puzzleID uuid.UUID, text string) (*GuessResult, error) {
	if scope == nil {
		return nil, ErrUnauthenticated
	}
	now := scope.Now
	dbc := dbctx.Context{Ctx: ctx}

	puzzle, event, err := loadOpenPuzzle(dbc, s.repos, puzzleID, now)
	if err != nil {
		return nil, err
	}
	if event.IsOver(now) {
		return nil, ErrEventOver
	}
	teamID, err := scope.Teams.TeamFor(ctx, event.ID)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(text) == "" {
		return nil, ErrNoAnswerGiven
	}
	if utf8.RuneCountInString(text) > s.cfg.MaxLength {
		return nil, ErrAnswerTooLong
	}
	row, err := s.repos.Progress.Get(dbc, teamID, puzzle.ID)
	if err != nil {
		return nil, aggregates.MapError("guess.submit", err)
	}
	if row != nil && row.SolvedByID != nil {
		return nil, ErrAlreadyAnswered
	}
	if !s.throttle.allow(scope.UserID, puzzle.ID, now) {
		return nil, ErrTooFast
	}

	if scope.Username != "" {
		if err := s.repos.Users.Upsert(dbc, &types.User{ID: scope.UserID, Username: scope.Username}); err != nil {
			return nil, aggregates.MapError("guess.submit", err)
		}
	}
	guess := &types.Guess{
		Guess:       text,
		ByID:        scope.UserID,
		ByTeamID:    teamID,
		ForPuzzleID: puzzle.ID,
		Given:       now,
	}
	if err := s.repos.Guesses.Create(dbc, guess); err != nil {
		return nil, aggregates.MapError("guess.submit", err)
	}

	deltas, err := s.engine.OnNewGuess(ctx, guess)
	if err != nil {
		// The guess is stored either way; teammates still see it, unevaluated.
		s.notify.PublishDeltas(ctx, &progress.Deltas{PuzzleID: puzzle.ID, Guess: guess})
		if domainagg.IsCode(err, domainagg.CodeValidatorRuntime) {
			s.log.Warn("guess left pending", "guess_id", guess.ID, "puzzle_id", puzzle.ID, "error", err)
			return &GuessResult{Guess: guess, Pending: true}, nil
		}
		return nil, err
	}
	s.notify.PublishDeltas(ctx, deltas)

	correct := guess.IsCorrect()
	out := &GuessResult{Guess: guess, Correct: &correct}
	if !correct && s.cfg.MinInterval > 0 {
		end := now.Add(s.cfg.MinInterval)
		out.TimeoutLength = s.cfg.MinInterval
		out.TimeoutEnd = &end
	}
	return out, nil
}

// loadOpenPuzzle resolves the puzzle and its event. A puzzle whose own or
// episode start date is still in the future does not exist yet to players.
func loadOpenPuzzle(dbc dbctx.Context, rs *repos.Set, puzzleID uuid.UUID, now time.Time) (*types.Puzzle, *types.Event, error) {
	notFound := domainagg.NewError(domainagg.CodeNotFound, "puzzle.load", "puzzle not found", nil)
	p, err := rs.Puzzles.GetByID(dbc, puzzleID)
	if err != nil {
		return nil, nil, aggregates.MapError("puzzle.load", err)
	}
	if p == nil {
		return nil, nil, notFound
	}
	start := p.StartDate
	if start == nil && p.EpisodeID != nil {
		ep, err := rs.Episodes.GetByID(dbc, *p.EpisodeID)
		if err != nil {
			return nil, nil, aggregates.MapError("puzzle.load", err)
		}
		if ep != nil {
			start = ep.StartDate
		}
	}
	if start != nil && now.Before(*start) {
		return nil, nil, notFound
	}
	ev, err := rs.Events.GetByID(dbc, p.EventID)
	if err != nil {
		return nil, nil, aggregates.MapError("puzzle.load", err)
	}
	if ev == nil {
		return nil, nil, notFound
	}
	return p, ev, nil
}

type throttleKey struct {
	userID   uuid.UUID
	puzzleID uuid.UUID
}

type throttleEntry struct {
	limiter *rate.Limiter
	last    time.Time
}

// guessThrottle allows one guess per user per puzzle per interval.
type guessThrottle struct {
	interval time.Duration

	mu      sync.Mutex
	entries map[throttleKey]*throttleEntry
}

const throttleSweepAt = 4096

func newGuessThrottle(interval time.Duration) *guessThrottle {
	return &guessThrottle{interval: interval, entries: map[throttleKey]*throttleEntry{}}
}

func (t *guessThrottle) allow(userID, puzzleID uuid.UUID, now time.Time) bool {
	if t.interval <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.entries) >= throttleSweepAt {
		for k, e := range t.entries {
			if now.Sub(e.last) >= t.interval {
				delete(t.entries, k)
			}
		}
	}
	key := throttleKey{userID: userID, puzzleID: puzzleID}
	e := t.entries[key]
	if e == nil {
		e = &throttleEntry{limiter: rate.NewLimiter(rate.Every(t.interval), 1)}
		t.entries[key] = e
	}
	if !e.limiter.AllowN(now, 1) {
		return false
	}
	e.last = now
	return true
}
