package hunt

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MusicMeister52/hunter2-sub000/internal/data/repos/testutil"
	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/dbctx"
)

func TestGuessRepoOrderingAndSeq(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	h := testutil.SeedHunt(t, ctx, db)
	repo := NewGuessRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: ctx}

	given := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	a := &types.Guess{Guess: "a", ByID: h.User.ID, ByTeamID: h.Team.ID, ForPuzzleID: h.Puzzle.ID, Given: given}
	b := &types.Guess{Guess: "b", ByID: h.User.ID, ByTeamID: h.Team.ID, ForPuzzleID: h.Puzzle.ID, Given: given}
	c := &types.Guess{Guess: "c", ByID: h.User.ID, ByTeamID: h.Team.ID, ForPuzzleID: h.Puzzle.ID, Given: given.Add(-time.Second)}
	for _, g := range []*types.Guess{a, b, c} {
		if err := repo.Create(dbc, g); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if !(a.Seq < b.Seq) {
		t.Fatalf("seq must increase: a=%d b=%d", a.Seq, b.Seq)
	}

	rows, err := repo.ListForTeamPuzzle(dbc, h.Team.ID, h.Puzzle.ID)
	if err != nil {
		t.Fatalf("ListForTeamPuzzle: %v", err)
	}
	if len(rows) != 3 || rows[0].ID != c.ID || rows[1].ID != a.ID || rows[2].ID != b.ID {
		t.Fatalf("unexpected order: %v", guessTexts(rows))
	}

	since, err := repo.ListForTeamPuzzleSince(dbc, h.Team.ID, h.Puzzle.ID, given.Add(-time.Millisecond))
	if err != nil || len(since) != 2 {
		t.Fatalf("ListForTeamPuzzleSince: err=%v got=%v", err, guessTexts(since))
	}
}

func TestGuessRepoCorrectnessCache(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	h := testutil.SeedHunt(t, ctx, db)
	repo := NewGuessRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: ctx}

	ans := testutil.SeedAnswer(t, ctx, db, h.Puzzle.ID, types.ValidatorStatic, "x")
	other := testutil.SeedAnswer(t, ctx, db, h.Puzzle.ID, types.ValidatorStatic, "y")
	g1 := testutil.SeedGuess(t, ctx, db, h.Puzzle.ID, h.Team.ID, h.User.ID, "x", time.Now())
	g2 := testutil.SeedGuess(t, ctx, db, h.Puzzle.ID, h.Team.ID, h.User.ID, "y", time.Now())
	g3 := testutil.SeedGuess(t, ctx, db, h.Puzzle.ID, h.Team.ID, h.User.ID, "z", time.Now())

	if err := repo.SetCorrectness(dbc, []CorrectnessUpdate{
		{GuessID: g1.ID, CorrectForID: &ans.ID},
		{GuessID: g2.ID, CorrectForID: &other.ID},
		{GuessID: g3.ID},
	}); err != nil {
		t.Fatalf("SetCorrectness: %v", err)
	}

	n, err := repo.InvalidateForAnswer(dbc, h.Puzzle.ID, ans.ID, true)
	if err != nil || n != 2 {
		t.Fatalf("InvalidateForAnswer: n=%d err=%v", n, err)
	}
	got1, _ := repo.GetByID(dbc, g1.ID)
	got2, _ := repo.GetByID(dbc, g2.ID)
	got3, _ := repo.GetByID(dbc, g3.ID)
	if got1.CorrectCurrent || !got2.CorrectCurrent || got3.CorrectCurrent {
		t.Fatalf("invalidation hit the wrong guesses: %v %v %v", got1.CorrectCurrent, got2.CorrectCurrent, got3.CorrectCurrent)
	}
	if got1.CorrectForID == nil {
		t.Fatalf("invalidation must keep the cached answer")
	}

	n, err = repo.ClearForAnswer(dbc, h.Puzzle.ID, other.ID)
	if err != nil || n != 1 {
		t.Fatalf("ClearForAnswer: n=%d err=%v", n, err)
	}
	got2, _ = repo.GetByID(dbc, g2.ID)
	if got2.CorrectForID != nil || got2.CorrectCurrent {
		t.Fatalf("ClearForAnswer left %+v", got2)
	}

	if err := repo.MarkIndeterminate(dbc, g1.ID); err != nil {
		t.Fatalf("MarkIndeterminate: %v", err)
	}
	got1, _ = repo.GetByID(dbc, g1.ID)
	if got1.CorrectForID != nil || got1.CorrectCurrent {
		t.Fatalf("MarkIndeterminate left %+v", got1)
	}
}

func TestGuessRepoRedenormalize(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	h := testutil.SeedHunt(t, ctx, db)
	repo := NewGuessRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: ctx}

	p2 := testutil.SeedPuzzle(t, ctx, db, h.Event.ID, &h.Episode.ID, 2)
	otherEvent := testutil.SeedEvent(t, ctx, db)
	foreign := testutil.SeedPuzzle(t, ctx, db, otherEvent.ID, nil, 1)
	testutil.SeedGuess(t, ctx, db, h.Puzzle.ID, h.Team.ID, h.User.ID, "a", time.Now())
	testutil.SeedGuess(t, ctx, db, p2.ID, h.Team.ID, h.User.ID, "b", time.Now())
	fg := testutil.SeedGuess(t, ctx, db, foreign.ID, h.Team.ID, h.User.ID, "c", time.Now())

	newTeam := testutil.SeedTeam(t, ctx, db, h.Event.ID, "new")
	puzzles, err := repo.Redenormalize(dbc, h.Event.ID, h.User.ID, newTeam.ID)
	if err != nil {
		t.Fatalf("Redenormalize: %v", err)
	}
	if len(puzzles) != 2 {
		t.Fatalf("expected two puzzles touched, got %v", puzzles)
	}
	moved, _ := repo.ListForTeamPuzzle(dbc, newTeam.ID, p2.ID)
	if len(moved) != 1 || moved[0].CorrectCurrent {
		t.Fatalf("guess not moved or not marked stale: %+v", moved)
	}
	kept, _ := repo.GetByID(dbc, fg.ID)
	if kept.ByTeamID != h.Team.ID {
		t.Fatalf("guess from another event must not move")
	}

	n, err := repo.DeleteForTeam(dbc, newTeam.ID, &p2.ID)
	if err != nil || n != 1 {
		t.Fatalf("DeleteForTeam: n=%d err=%v", n, err)
	}
}

func TestClueReposRoundTrip(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	h := testutil.SeedHunt(t, ctx, db)
	log := testutil.Logger(t)
	dbc := dbctx.Context{Ctx: ctx}

	unlocks := NewUnlockRepo(db, log)
	uas := NewUnlockAnswerRepo(db, log)
	hints := NewHintRepo(db, log)

	u := &types.Unlock{PuzzleID: h.Puzzle.ID, Text: "first"}
	if err := unlocks.Create(dbc, u); err != nil {
		t.Fatalf("Create unlock: %v", err)
	}
	ua := &types.UnlockAnswer{UnlockID: u.ID, Runtime: types.ValidatorStatic, Guess: "alpha"}
	if err := uas.Create(dbc, ua); err != nil {
		t.Fatalf("Create unlock answer: %v", err)
	}
	byPuzzle, err := uas.ListByPuzzle(dbc, h.Puzzle.ID)
	if err != nil || len(byPuzzle) != 1 || byPuzzle[0].ID != ua.ID {
		t.Fatalf("ListByPuzzle: err=%v rows=%v", err, byPuzzle)
	}

	ua.UnlockID = uuid.New()
	ua.Guess = "gamma"
	if err := uas.Update(dbc, ua); err != nil {
		t.Fatalf("Update unlock answer: %v", err)
	}
	stored, _ := uas.GetByID(dbc, ua.ID)
	if stored.UnlockID != u.ID || stored.Guess != "gamma" {
		t.Fatalf("Update must rewrite the validator only: %+v", stored)
	}

	hint := &types.Hint{PuzzleID: h.Puzzle.ID, Text: "h", Delay: 10 * time.Minute, StartAfterID: &u.ID}
	if err := hints.Create(dbc, hint); err != nil {
		t.Fatalf("Create hint: %v", err)
	}
	if hint.Mode != types.HintModeAuto {
		t.Fatalf("hint mode default: got %q", hint.Mode)
	}
	dependent, err := hints.ListStartingAfter(dbc, []uuid.UUID{u.ID})
	if err != nil || len(dependent) != 1 || dependent[0].Delay != 10*time.Minute {
		t.Fatalf("ListStartingAfter: err=%v rows=%v", err, dependent)
	}

	if missing, err := unlocks.GetByID(dbc, uuid.New()); err != nil || missing != nil {
		t.Fatalf("GetByID of a missing row: got=%v err=%v", missing, err)
	}
}

func TestMembershipSetReportsPreviousTeam(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	h := testutil.SeedHunt(t, ctx, db)
	repo := NewMembershipRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: ctx}

	other := testutil.SeedTeam(t, ctx, db, h.Event.ID, "other")
	prev, err := repo.Set(dbc, h.Event.ID, h.User.ID, other.ID)
	if err != nil || prev == nil || *prev != h.Team.ID {
		t.Fatalf("Set: prev=%v err=%v", prev, err)
	}
	m, _ := repo.Get(dbc, h.Event.ID, h.User.ID)
	if m.TeamID != other.ID {
		t.Fatalf("membership not moved: %+v", m)
	}

	newcomer := testutil.SeedUser(t, ctx, db, "newcomer")
	prev, err = repo.Set(dbc, h.Event.ID, newcomer.ID, other.ID)
	if err != nil || prev != nil {
		t.Fatalf("Set for newcomer: prev=%v err=%v", prev, err)
	}
}

func TestReevaluationJobClaim(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	h := testutil.SeedHunt(t, ctx, db)
	repo := NewReevaluationJobRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: ctx}

	future, err := repo.Enqueue(dbc, h.Puzzle.ID, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Enqueue future: %v", err)
	}
	due, err := repo.Enqueue(dbc, h.Puzzle.ID, time.Time{})
	if err != nil {
		t.Fatalf("Enqueue due: %v", err)
	}
	if pending, _ := repo.HasPending(dbc, h.Puzzle.ID); !pending {
		t.Fatalf("HasPending: want true")
	}

	job, err := repo.ClaimNextRunnable(dbc, 3, time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextRunnable: %v", err)
	}
	if job == nil || job.ID != due.ID || job.Status != types.JobStatusRunning || job.Attempts != 1 {
		t.Fatalf("claimed the wrong job: %+v (future=%s)", job, future.ID)
	}
	again, err := repo.ClaimNextRunnable(dbc, 3, time.Minute, time.Hour)
	if err != nil || again != nil {
		t.Fatalf("nothing else should be runnable: job=%+v err=%v", again, err)
	}
}

func guessTexts(rows []*types.Guess) []string {
	out := make([]string, 0, len(rows))
	for _, g := range rows {
		out = append(out, g.Guess)
	}
	return out
}
