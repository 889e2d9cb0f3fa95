package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
)

// Hunt is a minimal event: one episode, one puzzle, one team with one member.
type Hunt struct {
	Event   *types.Event
	Episode *types.Episode
	Puzzle  *types.Puzzle
	Team    *types.Team
	User    *types.User
}

func SeedHunt(tb testing.TB, ctx context.Context, tx *gorm.DB) *Hunt {
	tb.Helper()
	ev := SeedEvent(tb, ctx, tx)
	ep := SeedEpisode(tb, ctx, tx, ev.ID, false)
	p := SeedPuzzle(tb, ctx, tx, ev.ID, &ep.ID, 1)
	team := SeedTeam(tb, ctx, tx, ev.ID, "team")
	u := SeedUser(tb, ctx, tx, "player-"+uuid.NewString()[:8])
	SeedMembership(tb, ctx, tx, ev.ID, team.ID, u.ID)
	return &Hunt{Event: ev, Episode: ep, Puzzle: p, Team: team, User: u}
}

func create(tb testing.TB, ctx context.Context, tx *gorm.DB, what string, v any) {
	tb.Helper()
	if err := tx.WithContext(ctx).Create(v).Error; err != nil {
		tb.Fatalf("seed %s: %v", what, err)
	}
}

func SeedEvent(tb testing.TB, ctx context.Context, tx *gorm.DB) *types.Event {
	tb.Helper()
	now := time.Now().UTC()
	ev := &types.Event{ID: uuid.New(), Name: "event", CreatedAt: now, UpdatedAt: now}
	create(tb, ctx, tx, "event", ev)
	return ev
}

func SeedEpisode(tb testing.TB, ctx context.Context, tx *gorm.DB, eventID uuid.UUID, parallel bool) *types.Episode {
	tb.Helper()
	now := time.Now().UTC()
	ep := &types.Episode{ID: uuid.New(), EventID: eventID, Name: "episode", Ordering: 1, Parallel: parallel, CreatedAt: now, UpdatedAt: now}
	create(tb, ctx, tx, "episode", ep)
	return ep
}

func SeedPuzzle(tb testing.TB, ctx context.Context, tx *gorm.DB, eventID uuid.UUID, episodeID *uuid.UUID, ordering int) *types.Puzzle {
	tb.Helper()
	now := time.Now().UTC()
	p := &types.Puzzle{ID: uuid.New(), EventID: eventID, EpisodeID: episodeID, Title: "puzzle", Ordering: ordering, CreatedAt: now, UpdatedAt: now}
	create(tb, ctx, tx, "puzzle", p)
	return p
}

func SeedAnswer(tb testing.TB, ctx context.Context, tx *gorm.DB, puzzleID uuid.UUID, kind types.ValidatorKind, answer string) *types.Answer {
	tb.Helper()
	now := time.Now().UTC()
	a := &types.Answer{ID: uuid.New(), PuzzleID: puzzleID, Runtime: kind, Options: datatypes.JSON([]byte("{}")), Answer: answer, CreatedAt: now, UpdatedAt: now}
	create(tb, ctx, tx, "answer", a)
	return a
}

func SeedUnlock(tb testing.TB, ctx context.Context, tx *gorm.DB, puzzleID uuid.UUID, text string) *types.Unlock {
	tb.Helper()
	now := time.Now().UTC()
	u := &types.Unlock{ID: uuid.New(), PuzzleID: puzzleID, Text: text, CreatedAt: now, UpdatedAt: now}
	create(tb, ctx, tx, "unlock", u)
	return u
}

func SeedUnlockAnswer(tb testing.TB, ctx context.Context, tx *gorm.DB, unlockID uuid.UUID, kind types.ValidatorKind, guess string) *types.UnlockAnswer {
	tb.Helper()
	now := time.Now().UTC()
	ua := &types.UnlockAnswer{ID: uuid.New(), UnlockID: unlockID, Runtime: kind, Options: datatypes.JSON([]byte("{}")), Guess: guess, CreatedAt: now, UpdatedAt: now}
	create(tb, ctx, tx, "unlock answer", ua)
	return ua
}

func SeedHint(tb testing.TB, ctx context.Context, tx *gorm.DB, puzzleID uuid.UUID, delay time.Duration, startAfter *uuid.UUID) *types.Hint {
	tb.Helper()
	now := time.Now().UTC()
	h := &types.Hint{ID: uuid.New(), PuzzleID: puzzleID, Text: "hint", Delay: delay, StartAfterID: startAfter, Mode: types.HintModeAuto, CreatedAt: now, UpdatedAt: now}
	create(tb, ctx, tx, "hint", h)
	return h
}

func SeedUser(tb testing.TB, ctx context.Context, tx *gorm.DB, username string) *types.User {
	tb.Helper()
	now := time.Now().UTC()
	u := &types.User{ID: uuid.New(), Username: username, CreatedAt: now, UpdatedAt: now}
	create(tb, ctx, tx, "user", u)
	return u
}

func SeedTeam(tb testing.TB, ctx context.Context, tx *gorm.DB, eventID uuid.UUID, name string) *types.Team {
	tb.Helper()
	now := time.Now().UTC()
	t := &types.Team{ID: uuid.New(), EventID: eventID, Name: name, CreatedAt: now, UpdatedAt: now}
	create(tb, ctx, tx, "team", t)
	return t
}

func SeedMembership(tb testing.TB, ctx context.Context, tx *gorm.DB, eventID, teamID, userID uuid.UUID) *types.TeamMembership {
	tb.Helper()
	now := time.Now().UTC()
	m := &types.TeamMembership{ID: uuid.New(), EventID: eventID, TeamID: teamID, UserID: userID, CreatedAt: now, UpdatedAt: now}
	create(tb, ctx, tx, "membership", m)
	return m
}

// SeedGuess inserts a guess with stale correctness, as if just submitted.
func SeedGuess(tb testing.TB, ctx context.Context, tx *gorm.DB, puzzleID, teamID, userID uuid.UUID, text string, given time.Time) *types.Guess {
	tb.Helper()
	given = given.UTC()
	g := &types.Guess{
		ID:          uuid.New(),
		Seq:         given.UnixNano(),
		Guess:       text,
		ByID:        userID,
		ByTeamID:    teamID,
		ForPuzzleID: puzzleID,
		Given:       given,
		CreatedAt:   given,
		UpdatedAt:   given,
	}
	create(tb, ctx, tx, "guess", g)
	return g
}

func SeedProgress(tb testing.TB, ctx context.Context, tx *gorm.DB, teamID, puzzleID uuid.UUID, start time.Time) *types.TeamPuzzleProgress {
	tb.Helper()
	now := time.Now().UTC()
	start = start.UTC()
	p := &types.TeamPuzzleProgress{ID: uuid.New(), TeamID: teamID, PuzzleID: puzzleID, StartTime: &start, CreatedAt: now, UpdatedAt: now}
	create(tb, ctx, tx, "progress", p)
	return p
}

func PtrUUID(v uuid.UUID) *uuid.UUID { return &v }

func PtrTime(v time.Time) *time.Time { return &v }
