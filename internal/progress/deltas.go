package progress

import (
	"time"

	"github.com/google/uuid"

	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
)

// SolveTransition is a team's puzzle crossing the solved/unsolved boundary.
type SolveTransition struct {
	TeamID    uuid.UUID
	PuzzleID  uuid.UUID
	Solved    bool
	Guess     *types.Guess
	StartTime *time.Time
}

// HintReschedule asks sessions of the team to recompute when the hint unlocks.
type HintReschedule struct {
	TeamID   uuid.UUID
	PuzzleID uuid.UUID
	HintID   uuid.UUID
}

// UnlockChange is an Unlock whose text changed while the team holds it.
type UnlockChange struct {
	TeamID   uuid.UUID
	PuzzleID uuid.UUID
	Unlock   *types.Unlock
}

// Deltas is what the caller must publish after an engine call. Revoked grants
// are always published before granted ones.
type Deltas struct {
	PuzzleID uuid.UUID
	// Guess is the evaluated guess for OnNewGuess.
	Guess         *types.Guess
	Solved        []SolveTransition
	Revoked       []*types.Grant
	Granted       []*types.Grant
	Hints         []HintReschedule
	UnlockChanges []UnlockChange
}

func (d *Deltas) Empty() bool {
	return d == nil || (d.Guess == nil && len(d.Solved) == 0 && len(d.Revoked) == 0 &&
		len(d.Granted) == 0 && len(d.Hints) == 0 && len(d.UnlockChanges) == 0)
}

// Merge appends o's changes to d.
func (d *Deltas) Merge(o *Deltas) {
	if o == nil {
		return
	}
	if d.PuzzleID == uuid.Nil {
		d.PuzzleID = o.PuzzleID
	}
	d.Solved = append(d.Solved, o.Solved...)
	d.Revoked = append(d.Revoked, o.Revoked...)
	d.Granted = append(d.Granted, o.Granted...)
	d.UnlockChanges = append(d.UnlockChanges, o.UnlockChanges...)
	d.addHints(o.Hints...)
}

func (d *Deltas) addHints(hs ...HintReschedule) {
	for _, h := range hs {
		dup := false
		for _, have := range d.Hints {
			if have == h {
				dup = true
				break
			}
		}
		if !dup {
			d.Hints = append(d.Hints, h)
		}
	}
}

// TeamFailure is one team whose reevaluation did not complete. TeamID is nil
// when the whole puzzle failed.
type TeamFailure struct {
	PuzzleID uuid.UUID
	TeamID   uuid.UUID
	Err      error
}

// Result reports a reevaluation. Failures never abort other teams.
type Result struct {
	Deltas
	Teams    int
	Updated  int
	Failures []TeamFailure
}

func (r *Result) merge(o *Result) {
	if o == nil {
		return
	}
	r.Deltas.Merge(&o.Deltas)
	r.Teams += o.Teams
	r.Updated += o.Updated
	r.Failures = append(r.Failures, o.Failures...)
}
