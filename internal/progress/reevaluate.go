package progress

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MusicMeister52/hunter2-sub000/internal/data/aggregates"
	"github.com/MusicMeister52/hunter2-sub000/internal/data/repos"
	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
	"github.com/MusicMeister52/hunter2-sub000/internal/observability"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/dbctx"
)

// OnAnswerChanged handles an added or edited Answer: guesses cached against
// it, and guesses that matched nothing, are reevaluated.
func (e *Engine) OnAnswerChanged(ctx context.Context, puzzleID, answerID uuid.UUID) (*Result, error) {
	if _, err := e.repos.Guesses.InvalidateForAnswer(read(ctx), puzzleID, answerID, true); err != nil {
		return nil, aggregates.MapError("progress.on_answer_changed", err)
	}
	return e.ReevaluatePuzzle(ctx, puzzleID)
}

// OnAnswerDeleted handles a removed Answer: guesses cached against it lose
// their match and are reevaluated against the remaining answers.
func (e *Engine) OnAnswerDeleted(ctx context.Context, puzzleID, answerID uuid.UUID) (*Result, error) {
	if _, err := e.repos.Guesses.ClearForAnswer(read(ctx), puzzleID, answerID); err != nil {
		return nil, aggregates.MapError("progress.on_answer_deleted", err)
	}
	return e.ReevaluatePuzzle(ctx, puzzleID)
}

type puzzleSnapshot struct {
	answers  map[uuid.UUID]*types.Answer
	byTeam   map[uuid.UUID][]*types.Guess
	byID     map[uuid.UUID]*types.Guess
	refresh  []repos.CorrectnessUpdate
	failures map[uuid.UUID]error
}

func (s *puzzleSnapshot) correct(g *types.Guess) bool {
	return g.IsCorrect() && s.answers[*g.CorrectForID] != nil
}

// solvedBy applies the stability policy: the current solve stands while its
// guess still validates, otherwise the earliest correct guess wins.
func (s *puzzleSnapshot) solvedBy(row *types.TeamPuzzleProgress) *types.Guess {
	if row.SolvedByID != nil {
		if prev := s.byID[*row.SolvedByID]; prev != nil && prev.ByTeamID == row.TeamID && s.correct(prev) {
			return prev
		}
	}
	for _, g := range s.byTeam[row.TeamID] {
		if s.correct(g) {
			return g
		}
	}
	return nil
}

// snapshot loads the puzzle's answers and guesses and re-evaluates every
// stale guess in memory. Teams whose guesses could not be evaluated are
// listed in failures and their guesses stay stale.
func (e *Engine) snapshot(ctx context.Context, rc dbctx.Context, puzzleID uuid.UUID, teamID *uuid.UUID) (*puzzleSnapshot, error) {
	answers, err := e.repos.Answers.ListByPuzzle(rc, puzzleID)
	if err != nil {
		return nil, err
	}
	var guesses []*types.Guess
	if teamID != nil {
		guesses, err = e.repos.Guesses.ListForTeamPuzzle(rc, *teamID, puzzleID)
	} else {
		guesses, err = e.repos.Guesses.ListByPuzzle(rc, puzzleID)
	}
	if err != nil {
		return nil, err
	}
	s := &puzzleSnapshot{
		answers:  make(map[uuid.UUID]*types.Answer, len(answers)),
		byTeam:   map[uuid.UUID][]*types.Guess{},
		byID:     make(map[uuid.UUID]*types.Guess, len(guesses)),
		failures: map[uuid.UUID]error{},
	}
	for _, a := range answers {
		s.answers[a.ID] = a
	}
	for _, g := range guesses {
		s.byID[g.ID] = g
		s.byTeam[g.ByTeamID] = append(s.byTeam[g.ByTeamID], g)
		if s.failures[g.ByTeamID] != nil {
			continue
		}
		stale := !g.CorrectCurrent || (g.CorrectForID != nil && s.answers[*g.CorrectForID] == nil)
		if !stale {
			continue
		}
		correctFor, err := e.matchAnswer(ctx, answers, g.Guess)
		if err != nil {
			s.failures[g.ByTeamID] = err
			continue
		}
		g.CorrectForID = correctFor
		g.CorrectCurrent = true
		s.refresh = append(s.refresh, repos.CorrectnessUpdate{GuessID: g.ID, CorrectForID: correctFor})
	}
	if len(s.failures) > 0 {
		kept := s.refresh[:0]
		for _, u := range s.refresh {
			if s.failures[s.byID[u.GuessID].ByTeamID] == nil {
				kept = append(kept, u)
			}
		}
		s.refresh = kept
	}
	return s, nil
}

// plan compares rows with the snapshot and returns the solved_by writes and
// the transitions they cause.
func (s *puzzleSnapshot) plan(rows []*types.TeamPuzzleProgress) ([]repos.SolvedByUpdate, []SolveTransition) {
	var updates []repos.SolvedByUpdate
	var transitions []SolveTransition
	for _, row := range rows {
		if s.failures[row.TeamID] != nil {
			continue
		}
		next := s.solvedBy(row)
		var nextID *uuid.UUID
		if next != nil {
			id := next.ID
			nextID = &id
		}
		if sameID(row.SolvedByID, nextID) {
			continue
		}
		updates = append(updates, repos.SolvedByUpdate{
			ProgressID:      row.ID,
			TeamID:          row.TeamID,
			ExpectedVersion: row.Version,
			SolvedByID:      nextID,
		})
		if (row.SolvedByID == nil) != (nextID == nil) {
			transitions = append(transitions, SolveTransition{
				TeamID:    row.TeamID,
				PuzzleID:  row.PuzzleID,
				Solved:    nextID != nil,
				Guess:     next,
				StartTime: row.StartTime,
			})
		}
	}
	return updates, transitions
}

func sameID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ReevaluatePuzzle recomputes every team's solved state from the current
// answers. Unchanged rows are not written. Rows that lose their version
// check are redone one team at a time.
func (e *Engine) ReevaluatePuzzle(ctx context.Context, puzzleID uuid.UUID) (_ *Result, err error) {
	ctx, span := e.startSpan(ctx, "progress.ReevaluatePuzzle", puzzleID)
	start := time.Now()
	defer func() {
		observability.Current().ObserveReevaluation(evalStatus(err), time.Since(start))
		endSpan(span, err)
	}()

	res := &Result{Deltas: Deltas{PuzzleID: puzzleID}}
	// Rows are read before guesses: a solve committed after this read bumps
	// the row version and loses the CAS below, so it is redone under the
	// team lock instead of being overwritten from a snapshot that missed it.
	rows, err := e.repos.Progress.ListByPuzzle(read(ctx), puzzleID)
	if err != nil {
		return nil, aggregates.MapError("progress.reevaluate", err)
	}
	snap, err := e.snapshot(ctx, read(ctx), puzzleID, nil)
	if err != nil {
		return nil, aggregates.MapError("progress.reevaluate", err)
	}
	res.Teams = len(rows)
	updates, transitions := snap.plan(rows)

	var conflicted []repos.SolvedByUpdate
	if len(snap.refresh) > 0 || len(updates) > 0 {
		err = aggregates.Write(ctx, e.base, "progress.reevaluate", func(dbc dbctx.Context) error {
			if err := e.repos.Guesses.SetCorrectness(dbc, snap.refresh); err != nil {
				return err
			}
			var err error
			conflicted, err = e.repos.Progress.BatchUpdateSolvedBy(dbc, updates)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	lost := map[uuid.UUID]bool{}
	for _, c := range conflicted {
		lost[c.TeamID] = true
	}
	res.Updated = len(updates) - len(conflicted)
	for _, tr := range transitions {
		if !lost[tr.TeamID] {
			res.Solved = append(res.Solved, tr)
		}
	}
	for _, c := range conflicted {
		tr, changed, err := e.reevaluateTeam(ctx, puzzleID, c.TeamID)
		if err != nil {
			res.Failures = append(res.Failures, TeamFailure{PuzzleID: puzzleID, TeamID: c.TeamID, Err: err})
			continue
		}
		if changed {
			res.Updated++
		}
		if tr != nil {
			res.Solved = append(res.Solved, *tr)
		}
	}
	for teamID, fErr := range snap.failures {
		res.Failures = append(res.Failures, TeamFailure{PuzzleID: puzzleID, TeamID: teamID, Err: fErr})
	}
	sort.Slice(res.Failures, func(i, j int) bool {
		return res.Failures[i].TeamID.String() < res.Failures[j].TeamID.String()
	})
	for _, f := range res.Failures {
		e.log.Warn("team reevaluation failed", "puzzle_id", puzzleID, "team_id", f.TeamID, "error", f.Err)
	}

	m := observability.Current()
	m.AddReevaluationTeams("updated", res.Updated)
	m.AddReevaluationTeams("failed", len(res.Failures))
	return res, nil
}

// reevaluateTeam redoes one team's row under its lock from a fresh read.
func (e *Engine) reevaluateTeam(ctx context.Context, puzzleID, teamID uuid.UUID) (*SolveTransition, bool, error) {
	release := e.locker.Lock(teamID, puzzleID)
	defer release()

	var tr *SolveTransition
	var changed bool
	err := aggregates.RetryConflicts(ctx, e.base, "progress.reevaluate_team", func(dbc dbctx.Context) error {
		tr, changed = nil, false
		snap, err := e.snapshot(ctx, dbc, puzzleID, &teamID)
		if err != nil {
			return err
		}
		if fErr := snap.failures[teamID]; fErr != nil {
			return fErr
		}
		row, err := e.repos.Progress.Get(dbc, teamID, puzzleID)
		if err != nil || row == nil {
			return err
		}
		updates, transitions := snap.plan([]*types.TeamPuzzleProgress{row})
		if err := e.repos.Guesses.SetCorrectness(dbc, snap.refresh); err != nil {
			return err
		}
		conflicted, err := e.repos.Progress.BatchUpdateSolvedBy(dbc, updates)
		if err != nil {
			return err
		}
		if len(conflicted) > 0 {
			return aggregates.ConflictError("progress row changed during reevaluation")
		}
		changed = len(updates) > 0
		if len(transitions) > 0 {
			tr = &transitions[0]
		}
		return nil
	})
	return tr, changed, err
}

// ReevaluatePuzzles runs ReevaluatePuzzle for each puzzle in parallel. A
// puzzle that fails is reported in the result and does not stop the others.
func (e *Engine) ReevaluatePuzzles(ctx context.Context, puzzleIDs []uuid.UUID) (*Result, error) {
	out := &Result{}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, id := range puzzleIDs {
		id := id
		g.Go(func() error {
			res, err := e.ReevaluatePuzzle(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.Failures = append(out.Failures, TeamFailure{PuzzleID: id, Err: err})
				return nil
			}
			out.merge(res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
