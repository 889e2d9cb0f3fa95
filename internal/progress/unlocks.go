package progress

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/MusicMeister52/hunter2-sub000/internal/data/aggregates"
	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
	domainagg "github.com/MusicMeister52/hunter2-sub000/internal/domain/aggregates"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/dbctx"
)

type grantKey struct {
	progress uuid.UUID
	guess    uuid.UUID
}

// OnUnlockAnswerChanged rescans the puzzle's guesses against an added or
// edited UnlockAnswer. Grants that no longer validate are revoked, new ones
// recorded.
func (e *Engine) OnUnlockAnswerChanged(ctx context.Context, unlockAnswerID uuid.UUID) (_ *Deltas, err error) {
	rc := read(ctx)
	ua, err := e.repos.UnlockAnswers.GetByID(rc, unlockAnswerID)
	if err != nil {
		return nil, aggregates.MapError("progress.on_unlock_answer_changed", err)
	}
	if ua == nil {
		return nil, domainagg.NewError(domainagg.CodeNotFound, "progress.on_unlock_answer_changed", "unlock answer not found", nil)
	}
	unlock, err := e.repos.Unlocks.GetByID(rc, ua.UnlockID)
	if err != nil {
		return nil, aggregates.MapError("progress.on_unlock_answer_changed", err)
	}
	if unlock == nil {
		return nil, domainagg.NewError(domainagg.CodeNotFound, "progress.on_unlock_answer_changed", "unlock not found", nil)
	}
	return e.rescan(ctx, ua, unlock, true)
}

// OnUnlockAnswerDeleted revokes every grant of a removed UnlockAnswer. The
// row itself may already be gone.
func (e *Engine) OnUnlockAnswerDeleted(ctx context.Context, ua *types.UnlockAnswer) (*Deltas, error) {
	unlock, err := e.repos.Unlocks.GetByID(read(ctx), ua.UnlockID)
	if err != nil {
		return nil, aggregates.MapError("progress.on_unlock_answer_deleted", err)
	}
	if unlock == nil {
		unlock = &types.Unlock{ID: ua.UnlockID}
	}
	return e.rescan(ctx, ua, unlock, false)
}

// OnUnlockDeleted revokes the grants of every UnlockAnswer of a removed
// Unlock. Hints anchored on it stop being visible.
func (e *Engine) OnUnlockDeleted(ctx context.Context, unlock *types.Unlock, uas []*types.UnlockAnswer) (*Deltas, error) {
	out := &Deltas{PuzzleID: unlock.PuzzleID}
	for _, ua := range uas {
		d, err := e.rescan(ctx, ua, unlock, false)
		if err != nil {
			return nil, err
		}
		out.Merge(d)
	}
	return out, nil
}

// OnUnlockTextChanged reports the teams holding the unlock so they can
// refresh its text.
func (e *Engine) OnUnlockTextChanged(ctx context.Context, unlockID uuid.UUID) (*Deltas, error) {
	rc := read(ctx)
	unlock, err := e.repos.Unlocks.GetByID(rc, unlockID)
	if err != nil {
		return nil, aggregates.MapError("progress.on_unlock_text_changed", err)
	}
	if unlock == nil {
		return nil, domainagg.NewError(domainagg.CodeNotFound, "progress.on_unlock_text_changed", "unlock not found", nil)
	}
	grants, err := e.repos.Progress.GrantsByUnlock(rc, unlockID)
	if err != nil {
		return nil, aggregates.MapError("progress.on_unlock_text_changed", err)
	}
	out := &Deltas{PuzzleID: unlock.PuzzleID}
	seen := map[uuid.UUID]bool{}
	for _, g := range grants {
		if seen[g.TeamID] {
			continue
		}
		seen[g.TeamID] = true
		out.UnlockChanges = append(out.UnlockChanges, UnlockChange{TeamID: g.TeamID, PuzzleID: g.PuzzleID, Unlock: unlock})
	}
	return out, nil
}

func (e *Engine) rescan(ctx context.Context, ua *types.UnlockAnswer, unlock *types.Unlock, live bool) (_ *Deltas, err error) {
	ctx, span := e.startSpan(ctx, "progress.RescanUnlockAnswer", unlock.PuzzleID)
	start := time.Now()
	op := "rescan_unlock_answer"
	if !live {
		op = "revoke_unlock_answer"
	}
	defer func() {
		endSpan(span, err)
	}()

	puzzleID := unlock.PuzzleID
	byID := map[uuid.UUID]*types.Guess{}
	var matches []*types.Guess
	if puzzleID != uuid.Nil {
		guesses, err := e.repos.Guesses.ListByPuzzle(read(ctx), puzzleID)
		if err != nil {
			return nil, aggregates.MapError("progress."+op, err)
		}
		for _, g := range guesses {
			byID[g.ID] = g
			if !live {
				continue
			}
			ok, err := e.validators.ValidateUnlockAnswer(ctx, ua, g.Guess)
			if err != nil {
				return nil, err
			}
			if ok {
				matches = append(matches, g)
			}
		}
	}

	var deltas *Deltas
	err = aggregates.Write(ctx, e.base, "progress."+op, func(dbc dbctx.Context) error {
		deltas = &Deltas{PuzzleID: puzzleID}
		existing, err := e.repos.Progress.UnlocksForUnlockAnswer(dbc, ua.ID)
		if err != nil {
			return err
		}
		rowsByTeam := map[uuid.UUID]*types.TeamPuzzleProgress{}
		rowsByID := map[uuid.UUID]*types.TeamPuzzleProgress{}
		if puzzleID != uuid.Nil {
			rows, err := e.repos.Progress.ListByPuzzle(dbc, puzzleID)
			if err != nil {
				return err
			}
			for _, r := range rows {
				rowsByTeam[r.TeamID] = r
				rowsByID[r.ID] = r
			}
		}

		want := map[grantKey]bool{}
		for _, g := range matches {
			row := rowsByTeam[g.ByTeamID]
			if row == nil {
				if row, err = e.repos.Progress.GetOrCreate(dbc, g.ByTeamID, puzzleID, g.Given); err != nil {
					return err
				}
				rowsByTeam[row.TeamID] = row
				rowsByID[row.ID] = row
			}
			want[grantKey{row.ID, g.ID}] = true
		}

		affected := map[uuid.UUID]bool{}
		have := map[grantKey]bool{}
		var staleIDs []uuid.UUID
		for _, tu := range existing {
			k := grantKey{tu.ProgressID, tu.UnlockedByID}
			if want[k] {
				have[k] = true
				continue
			}
			// A guess stored after the listing above was evaluated by its own
			// OnNewGuess against this UnlockAnswer as it stands now; its grant
			// is not ours to judge.
			if live && byID[tu.UnlockedByID] == nil {
				continue
			}
			staleIDs = append(staleIDs, tu.ID)
			if grant := describeGrant(rowsByID[tu.ProgressID], unlock, ua, byID[tu.UnlockedByID], tu); grant != nil {
				deltas.Revoked = append(deltas.Revoked, grant)
				affected[grant.TeamID] = true
			}
		}
		if err := e.repos.Progress.DeleteUnlocks(dbc, staleIDs); err != nil {
			return err
		}

		for _, g := range matches {
			row := rowsByTeam[g.ByTeamID]
			k := grantKey{row.ID, g.ID}
			if have[k] {
				continue
			}
			inserted, err := e.repos.Progress.RecordUnlock(dbc, row.ID, ua.ID, g.ID)
			if err != nil {
				return err
			}
			if !inserted {
				continue
			}
			tu := &types.TeamUnlock{ProgressID: row.ID, UnlockAnswerID: ua.ID, UnlockedByID: g.ID}
			deltas.Granted = append(deltas.Granted, describeGrant(row, unlock, ua, g, tu))
			affected[row.TeamID] = true
		}

		for teamID := range affected {
			hints, err := e.hintsAfter(dbc, teamID, puzzleID, map[uuid.UUID]bool{unlock.ID: true})
			if err != nil {
				return err
			}
			deltas.addHints(hints...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Debug("unlock answer rescanned",
		"unlock_answer_id", ua.ID,
		"revoked", len(deltas.Revoked),
		"granted", len(deltas.Granted),
		"duration", time.Since(start),
	)
	return deltas, nil
}

// describeGrant assembles a grant from loaded rows. It returns nil when the
// progress row is unknown.
func describeGrant(row *types.TeamPuzzleProgress, unlock *types.Unlock, ua *types.UnlockAnswer, g *types.Guess, tu *types.TeamUnlock) *types.Grant {
	if row == nil {
		return nil
	}
	grant := &types.Grant{
		ProgressID:     row.ID,
		TeamID:         row.TeamID,
		PuzzleID:       row.PuzzleID,
		UnlockID:       unlock.ID,
		UnlockText:     unlock.Text,
		UnlockAnswerID: ua.ID,
		GuessID:        tu.UnlockedByID,
	}
	if g != nil {
		grant.GuessText = g.Guess
		grant.Given = g.Given
	}
	return grant
}

// OnGuessesMoved rebuilds a team's state after guesses were moved onto it by
// a membership change: progress rows exist, grants follow the guesses, and
// solved state is recomputed.
func (e *Engine) OnGuessesMoved(ctx context.Context, teamID uuid.UUID, puzzleIDs []uuid.UUID) (*Result, error) {
	rc := read(ctx)
	out := &Result{}
	now := time.Now().UTC()
	for _, puzzleID := range puzzleIDs {
		if _, err := e.repos.Progress.GetOrCreate(rc, teamID, puzzleID, now); err != nil {
			return nil, aggregates.MapError("progress.on_guesses_moved", err)
		}
		uas, err := e.repos.UnlockAnswers.ListByPuzzle(rc, puzzleID)
		if err != nil {
			return nil, aggregates.MapError("progress.on_guesses_moved", err)
		}
		for _, ua := range uas {
			unlock, err := e.repos.Unlocks.GetByID(rc, ua.UnlockID)
			if err != nil {
				return nil, aggregates.MapError("progress.on_guesses_moved", err)
			}
			if unlock == nil {
				continue
			}
			d, err := e.rescan(ctx, ua, unlock, true)
			if err != nil {
				out.Failures = append(out.Failures, TeamFailure{PuzzleID: puzzleID, TeamID: teamID, Err: err})
				continue
			}
			out.Deltas.Merge(d)
		}
	}
	res, err := e.ReevaluatePuzzles(ctx, puzzleIDs)
	if err != nil {
		return nil, err
	}
	out.merge(res)
	return out, nil
}
