package realtime

import (
	"time"

	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
)

// Timestamp formats times for the wire.
func Timestamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

// GuessFor renders a guess. A guess that could not be evaluated has a null
// correct field.
func GuessFor(g *types.Guess, username string) GuessContent {
	c := GuessContent{
		Guess:     g.Guess,
		GuessUID:  types.CompactID(g.ID),
		By:        username,
		Timestamp: Timestamp(g.Given),
	}
	if g.CorrectCurrent {
		correct := g.IsCorrect()
		c.Correct = &correct
	}
	return c
}

func UnlockFor(grant *types.Grant) UnlockContent {
	return UnlockContent{
		Unlock:    grant.UnlockText,
		UnlockUID: types.CompactID(grant.UnlockID),
		Guess:     grant.GuessText,
		GuessUID:  types.CompactID(grant.GuessID),
	}
}

func DeleteUnlockGuessFor(grant *types.Grant) DeleteUnlockGuessContent {
	return DeleteUnlockGuessContent{
		UnlockUID: types.CompactID(grant.UnlockID),
		Guess:     grant.GuessText,
		GuessUID:  types.CompactID(grant.GuessID),
	}
}

func ChangeUnlockFor(u *types.Unlock) ChangeUnlockContent {
	return ChangeUnlockContent{Unlock: u.Text, UnlockUID: types.CompactID(u.ID)}
}

func dependsOn(h *types.Hint) *string {
	if h.StartAfterID == nil {
		return nil
	}
	uid := types.CompactID(*h.StartAfterID)
	return &uid
}

// HintFor renders a hint that became visible at unlocksAt.
func HintFor(h *types.Hint, unlocksAt time.Time) HintContent {
	return HintContent{
		Hint:               h.Text,
		HintUID:            types.CompactID(h.ID),
		Time:               Timestamp(unlocksAt),
		DependsOnUnlockUID: dependsOn(h),
	}
}

func DeleteHintFor(h *types.Hint) DeleteHintContent {
	return DeleteHintContent{HintUID: types.CompactID(h.ID), DependsOnUnlockUID: dependsOn(h)}
}

func AnnouncementFor(a *types.Announcement) AnnouncementContent {
	return AnnouncementContent{
		AnnouncementID: types.CompactID(a.ID),
		Title:          a.Title,
		Message:        a.Message,
		Variant:        string(a.Severity),
	}
}
