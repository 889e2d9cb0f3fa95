package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/MusicMeister52/hunter2-sub000/internal/data/aggregates"
	"github.com/MusicMeister52/hunter2-sub000/internal/data/repos"
	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
	"github.com/MusicMeister52/hunter2-sub000/internal/hints"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/dbctx"
	"github.com/MusicMeister52/hunter2-sub000/internal/realtime"
	"github.com/MusicMeister52/hunter2-sub000/internal/session"
)

// teamPuzzleState is what hint visibility needs for one team on one puzzle.
type teamPuzzleState struct {
	progress    *types.TeamPuzzleProgress
	grants      []*types.Grant
	acceptances []*types.HintAcceptance
	hints       []*types.Hint
}

func (st *teamPuzzleState) statuses() []hints.Status {
	return hints.Statuses(st.hints, st.progress, st.grants, st.acceptances)
}

func loadTeamPuzzleState(dbc dbctx.Context, rs *repos.Set, row *types.TeamPuzzleProgress, puzzleID uuid.UUID) (*teamPuzzleState, error) {
	st := &teamPuzzleState{progress: row}
	var err error
	if st.hints, err = rs.Hints.ListByPuzzle(dbc, puzzleID); err != nil {
		return nil, err
	}
	if row == nil {
		return st, nil
	}
	if st.grants, err = rs.Progress.GrantsFor(dbc, row.ID); err != nil {
		return nil, err
	}
	if st.acceptances, err = rs.Progress.AcceptancesFor(dbc, row.ID); err != nil {
		return nil, err
	}
	return st, nil
}

type sessionStore struct {
	repos *repos.Set
}

// NewSessionStore answers session replay queries from the database.
func NewSessionStore(rs *repos.Set) session.Store {
	return &sessionStore{repos: rs}
}

func (s *sessionStore) HintStatuses(ctx context.Context, teamID, puzzleID uuid.UUID) ([]hints.Status, error) {
	dbc := dbctx.Context{Ctx: ctx}
	row, err := s.repos.Progress.Get(dbc, teamID, puzzleID)
	if err != nil {
		return nil, aggregates.MapError("session.hint_statuses", err)
	}
	st, err := loadTeamPuzzleState(dbc, s.repos, row, puzzleID)
	if err != nil {
		return nil, aggregates.MapError("session.hint_statuses", err)
	}
	return st.statuses(), nil
}

func (s *sessionStore) Guesses(ctx context.Context, teamID, puzzleID uuid.UUID, since *time.Time) ([]realtime.GuessContent, error) {
	dbc := dbctx.Context{Ctx: ctx}
	var (
		gs  []*types.Guess
		err error
	)
	if since == nil {
		gs, err = s.repos.Guesses.ListForTeamPuzzle(dbc, teamID, puzzleID)
	} else {
		gs, err = s.repos.Guesses.ListForTeamPuzzleSince(dbc, teamID, puzzleID, *since)
	}
	if err != nil {
		return nil, aggregates.MapError("session.guesses", err)
	}
	return renderGuesses(dbc, s.repos, gs)
}

func renderGuesses(dbc dbctx.Context, rs *repos.Set, gs []*types.Guess) ([]realtime.GuessContent, error) {
	seen := map[uuid.UUID]bool{}
	var userIDs []uuid.UUID
	for _, g := range gs {
		if !seen[g.ByID] {
			seen[g.ByID] = true
			userIDs = append(userIDs, g.ByID)
		}
	}
	names, err := rs.Users.UsernamesByIDs(dbc, userIDs)
	if err != nil {
		return nil, aggregates.MapError("render.guesses", err)
	}
	out := make([]realtime.GuessContent, 0, len(gs))
	for _, g := range gs {
		out = append(out, realtime.GuessFor(g, names[g.ByID]))
	}
	return out, nil
}

func (s *sessionStore) Unlocks(ctx context.Context, teamID, puzzleID uuid.UUID) ([]realtime.UnlockContent, error) {
	dbc := dbctx.Context{Ctx: ctx}
	row, err := s.repos.Progress.Get(dbc, teamID, puzzleID)
	if err != nil {
		return nil, aggregates.MapError("session.unlocks", err)
	}
	if row == nil {
		return nil, nil
	}
	grants, err := s.repos.Progress.GrantsFor(dbc, row.ID)
	if err != nil {
		return nil, aggregates.MapError("session.unlocks", err)
	}
	out := make([]realtime.UnlockContent, 0, len(grants))
	for _, g := range grants {
		out = append(out, realtime.UnlockFor(g))
	}
	return out, nil
}
