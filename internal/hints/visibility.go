// Package hints decides when a hint becomes visible to a team and keeps the
// per-connection timers that deliver it at that moment.
//
// Visibility is always a pure function of stored data. Timers only push
// hints to sessions that are already connected.
package hints

import (
	"time"

	"github.com/google/uuid"

	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
)

// Anchor returns the time the hint's automatic countdown starts for the team:
// the puzzle start time, or the earliest grant of the hint's start_after
// unlock. Nil means the countdown has not started.
func Anchor(h *types.Hint, progress *types.TeamPuzzleProgress, grants []*types.Grant) *time.Time {
	if h == nil || progress == nil {
		return nil
	}
	if h.StartAfterID == nil {
		if progress.StartTime == nil {
			return nil
		}
		t := progress.StartTime.UTC()
		return &t
	}
	var earliest *time.Time
	for _, g := range grants {
		if g == nil || g.UnlockID != *h.StartAfterID || g.ProgressID != progress.ID {
			continue
		}
		if earliest == nil || g.Given.Before(*earliest) {
			t := g.Given.UTC()
			earliest = &t
		}
	}
	return earliest
}

// CanAccept reports whether the team may start an accept-mode hint.
func CanAccept(h *types.Hint, progress *types.TeamPuzzleProgress, grants []*types.Grant) bool {
	return h != nil && h.Mode == types.HintModeAccept && Anchor(h, progress, grants) != nil
}

// UnlocksAt returns when the hint becomes visible to the team, or nil when it
// is not on a countdown.
func UnlocksAt(h *types.Hint, progress *types.TeamPuzzleProgress, grants []*types.Grant, acceptance *types.HintAcceptance) *time.Time {
	anchor := Anchor(h, progress, grants)
	if anchor == nil {
		return nil
	}
	if h.Mode == types.HintModeAccept {
		if acceptance == nil || acceptance.HintID != h.ID {
			return nil
		}
		t := acceptance.AcceptedAt.UTC()
		anchor = &t
	}
	at := anchor.Add(h.Delay)
	return &at
}

func VisibleAt(unlocksAt *time.Time, t time.Time) bool {
	return unlocksAt != nil && !unlocksAt.After(t)
}

// Status is one hint as seen by a team.
type Status struct {
	Hint      *types.Hint
	UnlocksAt *time.Time
	// Acceptable is set for accept-mode hints the team may start but has not.
	Acceptable bool
}

func (s Status) VisibleAt(t time.Time) bool { return VisibleAt(s.UnlocksAt, t) }

// Statuses evaluates every hint of a puzzle for one team.
func Statuses(hs []*types.Hint, progress *types.TeamPuzzleProgress, grants []*types.Grant, acceptances []*types.HintAcceptance) []Status {
	byHint := make(map[uuid.UUID]*types.HintAcceptance, len(acceptances))
	for _, a := range acceptances {
		byHint[a.HintID] = a
	}
	out := make([]Status, 0, len(hs))
	for _, h := range hs {
		acc := byHint[h.ID]
		out = append(out, Status{
			Hint:       h,
			UnlocksAt:  UnlocksAt(h, progress, grants, acc),
			Acceptable: acc == nil && CanAccept(h, progress, grants),
		})
	}
	return out
}
