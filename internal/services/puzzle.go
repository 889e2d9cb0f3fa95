package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/MusicMeister52/hunter2-sub000/internal/data/aggregates"
	"github.com/MusicMeister52/hunter2-sub000/internal/data/repos"
	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
	domainagg "github.com/MusicMeister52/hunter2-sub000/internal/domain/aggregates"
	"github.com/MusicMeister52/hunter2-sub000/internal/hints"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/dbctx"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/logger"
	"github.com/MusicMeister52/hunter2-sub000/internal/progress"
	"github.com/MusicMeister52/hunter2-sub000/internal/realtime"
)

type UnlockView struct {
	UnlockID uuid.UUID `json:"unlock_id"`
	Text     string    `json:"text"`
	// Guesses are the team's guesses that granted the unlock, oldest first.
	Guesses []string `json:"guesses"`
}

// HintView is a hint as the team sees it. Text is empty until the hint is
// visible.
type HintView struct {
	HintID     uuid.UUID      `json:"hint_id"`
	Text       string         `json:"text,omitempty"`
	Mode       types.HintMode `json:"mode"`
	Visible    bool           `json:"visible"`
	UnlocksAt  *time.Time     `json:"unlocks_at"`
	Acceptable bool           `json:"acceptable"`
	DependsOn  *uuid.UUID     `json:"depends_on,omitempty"`
}

type PuzzleView struct {
	Puzzle        *types.Puzzle           `json:"puzzle"`
	TeamID        uuid.UUID               `json:"team_id"`
	StartTime     *time.Time              `json:"start_time"`
	Solved        bool                    `json:"solved"`
	Guesses       []realtime.GuessContent `json:"guesses"`
	Unlocks       []UnlockView            `json:"unlocks"`
	Hints         []HintView              `json:"hints"`
	Announcements []*types.Announcement   `json:"announcements"`
}

type PuzzleService interface {
	// View opens the puzzle for the caller's team, starting its clock on the
	// first view.
	View(ctx context.Context, scope *RequestScope, puzzleID uuid.UUID) (*PuzzleView, error)
	// AcceptHint starts an accept-mode hint's countdown for the caller's team.
	AcceptHint(ctx context.Context, scope *RequestScope, puzzleID, hintID uuid.UUID) (*HintView, error)
	// Locate resolves an open puzzle and the caller's team without starting
	// the team's clock.
	Locate(ctx context.Context, scope *RequestScope, puzzleID uuid.UUID) (*types.Puzzle, uuid.UUID, error)
}

type puzzleService struct {
	log    *logger.Logger
	repos  *repos.Set
	notify HuntNotifier
}

func NewPuzzleService(baseLog *logger.Logger, rs *repos.Set, notify HuntNotifier) PuzzleService {
	return &puzzleService{log: baseLog.With("service", "PuzzleService"), repos: rs, notify: notify}
}

func (s *puzzleService) View(ctx context.Context, scope *RequestScope, puzzleID uuid.UUID) (*PuzzleView, error) {
	if scope == nil {
		return nil, ErrUnauthenticated
	}
	dbc := dbctx.Context{Ctx: ctx}
	puzzle, event, err := loadOpenPuzzle(dbc, s.repos, puzzleID, scope.Now)
	if err != nil {
		return nil, err
	}
	teamID, err := scope.Teams.TeamFor(ctx, event.ID)
	if err != nil {
		return nil, err
	}
	row, err := s.repos.Progress.GetOrCreate(dbc, teamID, puzzle.ID, scope.Now)
	if err != nil {
		return nil, aggregates.MapError("puzzle.view", err)
	}
	st, err := loadTeamPuzzleState(dbc, s.repos, row, puzzle.ID)
	if err != nil {
		return nil, aggregates.MapError("puzzle.view", err)
	}
	guesses, err := s.repos.Guesses.ListForTeamPuzzle(dbc, teamID, puzzle.ID)
	if err != nil {
		return nil, aggregates.MapError("puzzle.view", err)
	}
	rendered, err := renderGuesses(dbc, s.repos, guesses)
	if err != nil {
		return nil, err
	}
	anns, err := s.repos.Announcements.ListVisible(dbc, event.ID, &puzzle.ID)
	if err != nil {
		return nil, aggregates.MapError("puzzle.view", err)
	}

	view := &PuzzleView{
		Puzzle:        puzzle,
		TeamID:        teamID,
		StartTime:     row.StartTime,
		Solved:        row.SolvedByID != nil,
		Guesses:       rendered,
		Unlocks:       groupUnlocks(st.grants),
		Announcements: anns,
	}
	for _, status := range st.statuses() {
		view.Hints = append(view.Hints, hintView(status, scope.Now))
	}
	return view, nil
}

func (s *puzzleService) Locate(ctx context.Context, scope *RequestScope, puzzleID uuid.UUID) (*types.Puzzle, uuid.UUID, error) {
	if scope == nil {
		return nil, uuid.Nil, ErrUnauthenticated
	}
	puzzle, event, err := loadOpenPuzzle(dbctx.Context{Ctx: ctx}, s.repos, puzzleID, scope.Now)
	if err != nil {
		return nil, uuid.Nil, err
	}
	teamID, err := scope.Teams.TeamFor(ctx, event.ID)
	if err != nil {
		return nil, uuid.Nil, err
	}
	return puzzle, teamID, nil
}

func groupUnlocks(grants []*types.Grant) []UnlockView {
	var out []UnlockView
	index := map[uuid.UUID]int{}
	for _, g := range grants {
		i, ok := index[g.UnlockID]
		if !ok {
			i = len(out)
			index[g.UnlockID] = i
			out = append(out, UnlockView{UnlockID: g.UnlockID, Text: g.UnlockText})
		}
		out[i].Guesses = append(out[i].Guesses, g.GuessText)
	}
	return out
}

func hintView(st hints.Status, now time.Time) HintView {
	v := HintView{
		HintID:     st.Hint.ID,
		Mode:       st.Hint.EffectiveMode(),
		UnlocksAt:  st.UnlocksAt,
		Acceptable: st.Acceptable,
		DependsOn:  st.Hint.StartAfterID,
		Visible:    st.VisibleAt(now),
	}
	if v.Visible {
		v.Text = st.Hint.Text
	}
	return v
}

func (s *puzzleService) AcceptHint(ctx context.Context, scope *RequestScope, puzzleID, hintID uuid.UUID) (*HintView, error) {
	if scope == nil {
		return nil, ErrUnauthenticated
	}
	dbc := dbctx.Context{Ctx: ctx}
	puzzle, event, err := loadOpenPuzzle(dbc, s.repos, puzzleID, scope.Now)
	if err != nil {
		return nil, err
	}
	teamID, err := scope.Teams.TeamFor(ctx, event.ID)
	if err != nil {
		return nil, err
	}
	hint, err := s.repos.Hints.GetByID(dbc, hintID)
	if err != nil {
		return nil, aggregates.MapError("hint.accept", err)
	}
	if hint == nil || hint.PuzzleID != puzzle.ID {
		return nil, domainagg.NewError(domainagg.CodeNotFound, "hint.accept", "hint not found", nil)
	}
	if hint.EffectiveMode() != types.HintModeAccept {
		return nil, invalid("hint.accept", "hint is not accepted by teams")
	}
	row, err := s.repos.Progress.Get(dbc, teamID, puzzle.ID)
	if err != nil {
		return nil, aggregates.MapError("hint.accept", err)
	}
	st, err := loadTeamPuzzleState(dbc, s.repos, row, puzzle.ID)
	if err != nil {
		return nil, aggregates.MapError("hint.accept", err)
	}
	if !hints.CanAccept(hint, row, st.grants) {
		return nil, domainagg.NewError(domainagg.CodePreconditionFailed, "hint.accept", "hint cannot be accepted yet", nil)
	}
	acc, inserted, err := s.repos.Progress.RecordHintAcceptance(dbc, row.ID, hint.ID, scope.Now)
	if err != nil {
		return nil, aggregates.MapError("hint.accept", err)
	}
	if inserted {
		s.log.Info("hint accepted", "team_id", teamID, "puzzle_id", puzzle.ID, "hint_id", hint.ID)
		s.notify.PublishDeltas(ctx, &progress.Deltas{
			PuzzleID: puzzle.ID,
			Hints:    []progress.HintReschedule{{TeamID: teamID, PuzzleID: puzzle.ID, HintID: hint.ID}},
		})
	}
	v := hintView(hints.Status{Hint: hint, UnlocksAt: hints.UnlocksAt(hint, row, st.grants, acc)}, scope.Now)
	return &v, nil
}
