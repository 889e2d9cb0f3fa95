package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MusicMeister52/hunter2-sub000/internal/data/repos/testutil"
	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
	domainagg "github.com/MusicMeister52/hunter2-sub000/internal/domain/aggregates"
	"github.com/MusicMeister52/hunter2-sub000/internal/realtime"
)

func TestAdminAnswerEditsReevaluate(t *testing.T) {
	f := newFixture(t)
	f.submit(t, "later", 0)
	group := f.teamGroup(f.hunt.Team.ID)

	a, res, err := f.admin.CreateAnswer(f.ctx, f.hunt.Puzzle.ID, AnswerInput{Runtime: types.ValidatorStatic, Answer: "later"})
	require.NoError(t, err)
	require.Len(t, res.Solved, 1)
	assert.True(t, res.Solved[0].Solved)
	assert.Contains(t, f.emit.typesIn(group), realtime.TypeSolved)
	require.NotNil(t, f.row(t, f.hunt.Team.ID).SolvedByID)

	f.emit.reset()
	res, err = f.admin.DeleteAnswer(f.ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, res.Solved, 1)
	assert.False(t, res.Solved[0].Solved)
	assert.Equal(t, []realtime.MessageType{realtime.TypeUnsolved}, f.emit.typesIn(group))
	assert.Nil(t, f.row(t, f.hunt.Team.ID).SolvedByID)

	_, err = f.admin.DeleteAnswer(f.ctx, a.ID)
	assert.True(t, domainagg.IsCode(err, domainagg.CodeNotFound))
}

func TestAdminRejectsBadValidators(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.admin.CreateAnswer(f.ctx, f.hunt.Puzzle.ID, AnswerInput{Runtime: types.ValidatorRegex, Answer: "(unclosed"})
	assert.True(t, domainagg.IsCode(err, domainagg.CodeValidatorConfig), "got %v", err)

	_, _, err = f.admin.CreateAnswer(f.ctx, f.hunt.Puzzle.ID, AnswerInput{Runtime: "telepathy", Answer: "x"})
	assert.True(t, domainagg.IsCode(err, domainagg.CodeValidation), "got %v", err)

	_, _, err = f.admin.CreateAnswer(f.ctx, uuid.New(), AnswerInput{Runtime: types.ValidatorStatic, Answer: "x"})
	assert.True(t, domainagg.IsCode(err, domainagg.CodeNotFound), "got %v", err)

	answers, err := f.repos.Answers.ListByPuzzle(f.dbc(), f.hunt.Puzzle.ID)
	require.NoError(t, err)
	assert.Empty(t, answers)
}

func TestUnlockAnswerCannotMoveToAnotherUnlock(t *testing.T) {
	f := newFixture(t)
	u1, err := f.admin.CreateUnlock(f.ctx, f.hunt.Puzzle.ID, UnlockInput{Text: "one"})
	require.NoError(t, err)
	u2, err := f.admin.CreateUnlock(f.ctx, f.hunt.Puzzle.ID, UnlockInput{Text: "two"})
	require.NoError(t, err)

	ua, _, err := f.admin.CreateUnlockAnswer(f.ctx, u1.ID, UnlockAnswerInput{Runtime: types.ValidatorStatic, Guess: "a"})
	require.NoError(t, err)

	_, _, err = f.admin.UpdateUnlockAnswer(f.ctx, ua.ID, UnlockAnswerInput{UnlockID: u2.ID, Runtime: types.ValidatorStatic, Guess: "a"})
	assert.True(t, domainagg.IsCode(err, domainagg.CodeImmutable), "got %v", err)

	ua, _, err = f.admin.UpdateUnlockAnswer(f.ctx, ua.ID, UnlockAnswerInput{Runtime: types.ValidatorStatic, Guess: "b"})
	require.NoError(t, err)
	assert.Equal(t, u1.ID, ua.UnlockID)
	assert.Equal(t, "b", ua.Guess)
}

func TestAdminUnlockAnswerEditMovesGrant(t *testing.T) {
	f := newFixture(t)
	unlock, err := f.admin.CreateUnlock(f.ctx, f.hunt.Puzzle.ID, UnlockInput{Text: "clue"})
	require.NoError(t, err)
	f.submit(t, "alpha", 0)
	f.submit(t, "beta", 10*time.Second)
	group := f.teamGroup(f.hunt.Team.ID)

	f.emit.reset()
	ua, d, err := f.admin.CreateUnlockAnswer(f.ctx, unlock.ID, UnlockAnswerInput{Runtime: types.ValidatorStatic, Guess: "alpha"})
	require.NoError(t, err)
	require.Len(t, d.Granted, 1)
	assert.Equal(t, []realtime.MessageType{realtime.TypeNewUnlock}, f.emit.typesIn(group))

	f.emit.reset()
	_, d, err = f.admin.UpdateUnlockAnswer(f.ctx, ua.ID, UnlockAnswerInput{Runtime: types.ValidatorStatic, Guess: "beta"})
	require.NoError(t, err)
	require.Len(t, d.Revoked, 1)
	require.Len(t, d.Granted, 1)
	assert.Equal(t, "alpha", d.Revoked[0].GuessText)
	assert.Equal(t, "beta", d.Granted[0].GuessText)
	assert.Equal(t, []realtime.MessageType{realtime.TypeDeleteUnlockGuess, realtime.TypeNewUnlock}, f.emit.typesIn(group))

	f.emit.reset()
	_, err = f.admin.UpdateUnlock(f.ctx, unlock.ID, UnlockInput{Text: "better clue"})
	require.NoError(t, err)
	msgs := f.emit.in(group)
	require.Len(t, msgs, 1)
	assert.Equal(t, realtime.TypeChangeUnlock, msgs[0].Type)
	var ch realtime.ChangeUnlockContent
	require.NoError(t, msgs[0].Decode(&ch))
	assert.Equal(t, "better clue", ch.Unlock)
}

func TestAdminDeleteUnlockRevokesGrantsAndHints(t *testing.T) {
	f := newFixture(t)
	unlock, err := f.admin.CreateUnlock(f.ctx, f.hunt.Puzzle.ID, UnlockInput{Text: "clue"})
	require.NoError(t, err)
	_, _, err = f.admin.CreateUnlockAnswer(f.ctx, unlock.ID, UnlockAnswerInput{Runtime: types.ValidatorStatic, Guess: "key"})
	require.NoError(t, err)
	hint := testutil.SeedHint(t, f.ctx, f.db, f.hunt.Puzzle.ID, 0, testutil.PtrUUID(unlock.ID))
	f.submit(t, "key", 0)
	group := f.teamGroup(f.hunt.Team.ID)

	f.emit.reset()
	d, err := f.admin.DeleteUnlock(f.ctx, unlock.ID)
	require.NoError(t, err)
	require.Len(t, d.Revoked, 1)
	assert.Equal(t, []realtime.MessageType{realtime.TypeDeleteUnlockGuess, realtime.TypeScheduleHint}, f.emit.typesIn(group))

	var ctl realtime.HintControl
	require.NoError(t, f.emit.in(group)[1].Decode(&ctl))
	assert.Equal(t, hint.ID, ctl.HintID)

	gone, err := f.repos.Unlocks.GetByID(f.dbc(), unlock.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
	uas, err := f.repos.UnlockAnswers.ListByUnlock(f.dbc(), unlock.ID)
	require.NoError(t, err)
	assert.Empty(t, uas)
}

func TestAdminHintEditsReachOpenTeams(t *testing.T) {
	f := newFixture(t)
	_, err := f.puzzles.View(f.ctx, f.scope(f.hunt.User, 0), f.hunt.Puzzle.ID)
	require.NoError(t, err)
	group := f.teamGroup(f.hunt.Team.ID)

	h, err := f.admin.CreateHint(f.ctx, f.hunt.Puzzle.ID, HintInput{Text: "try harder", DelaySeconds: 60})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, h.Delay)
	assert.Equal(t, types.HintModeAuto, h.Mode)

	h, err = f.admin.UpdateHint(f.ctx, h.ID, HintInput{Text: "try smarter", DelaySeconds: 30, Mode: types.HintModeAccept})
	require.NoError(t, err)
	assert.Equal(t, types.HintModeAccept, h.Mode)

	require.NoError(t, f.admin.DeleteHint(f.ctx, h.ID))
	assert.Equal(t, []realtime.MessageType{realtime.TypeHintChanged, realtime.TypeHintChanged, realtime.TypeHintRemoved}, f.emit.typesIn(group))

	other := testutil.SeedPuzzle(t, f.ctx, f.db, f.hunt.Event.ID, nil, 9)
	otherUnlock := testutil.SeedUnlock(t, f.ctx, f.db, other.ID, "elsewhere")
	_, err = f.admin.CreateHint(f.ctx, f.hunt.Puzzle.ID, HintInput{Text: "x", StartAfterID: &otherUnlock.ID})
	assert.True(t, domainagg.IsCode(err, domainagg.CodeValidation), "got %v", err)
}

func TestAcceptHint(t *testing.T) {
	f := newFixture(t)
	h := testutil.SeedHint(t, f.ctx, f.db, f.hunt.Puzzle.ID, time.Minute, nil)
	require.NoError(t, f.db.Model(h).Update("mode", types.HintModeAccept).Error)
	group := f.teamGroup(f.hunt.Team.ID)

	_, err := f.puzzles.AcceptHint(f.ctx, f.scope(f.hunt.User, 0), f.hunt.Puzzle.ID, h.ID)
	assert.True(t, domainagg.IsCode(err, domainagg.CodePreconditionFailed), "puzzle not opened yet: %v", err)

	v, err := f.puzzles.View(f.ctx, f.scope(f.hunt.User, 0), f.hunt.Puzzle.ID)
	require.NoError(t, err)
	require.Len(t, v.Hints, 1)
	assert.True(t, v.Hints[0].Acceptable)
	assert.Nil(t, v.Hints[0].UnlocksAt, "accept-mode hints wait for the team")

	hv, err := f.puzzles.AcceptHint(f.ctx, f.scope(f.hunt.User, 10*time.Minute), f.hunt.Puzzle.ID, h.ID)
	require.NoError(t, err)
	require.NotNil(t, hv.UnlocksAt)
	assert.True(t, hv.UnlocksAt.Equal(t0.Add(11*time.Minute)))
	assert.False(t, hv.Visible)

	_, err = f.puzzles.AcceptHint(f.ctx, f.scope(f.hunt.User, 20*time.Minute), f.hunt.Puzzle.ID, h.ID)
	require.NoError(t, err)
	assert.Equal(t, []realtime.MessageType{realtime.TypeScheduleHint}, f.emit.typesIn(group), "accepting twice schedules once")

	auto := testutil.SeedHint(t, f.ctx, f.db, f.hunt.Puzzle.ID, time.Minute, nil)
	_, err = f.puzzles.AcceptHint(f.ctx, f.scope(f.hunt.User, 0), f.hunt.Puzzle.ID, auto.ID)
	assert.True(t, domainagg.IsCode(err, domainagg.CodeValidation), "got %v", err)
}

func TestAdminAnnouncementsRouteByScope(t *testing.T) {
	f := newFixture(t)
	eventGroup := realtime.EventGroup(f.hunt.Event.ID)
	puzzleGroup := realtime.PuzzleGroup(f.hunt.Event.ID, f.hunt.Puzzle.ID)

	a, err := f.admin.CreateAnnouncement(f.ctx, AnnouncementInput{EventID: f.hunt.Event.ID, Title: "Welcome", Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, types.SeverityInfo, a.Severity)
	require.Len(t, f.emit.in(eventGroup), 1)

	var content realtime.AnnouncementContent
	require.NoError(t, f.emit.in(eventGroup)[0].Decode(&content))
	assert.Equal(t, types.CompactID(a.ID), content.AnnouncementID)
	assert.Equal(t, "info", content.Variant)

	_, err = f.admin.UpdateAnnouncement(f.ctx, a.ID, AnnouncementInput{
		EventID: f.hunt.Event.ID, PuzzleID: &f.hunt.Puzzle.ID, Title: "Erratum", Severity: types.SeverityWarning,
	})
	require.NoError(t, err)
	assert.Equal(t, []realtime.MessageType{realtime.TypeAnnouncement, realtime.TypeDeleteAnnouncement}, f.emit.typesIn(eventGroup))
	assert.Equal(t, []realtime.MessageType{realtime.TypeAnnouncement}, f.emit.typesIn(puzzleGroup))

	require.NoError(t, f.admin.DeleteAnnouncement(f.ctx, a.ID))
	assert.Equal(t, []realtime.MessageType{realtime.TypeAnnouncement, realtime.TypeDeleteAnnouncement}, f.emit.typesIn(puzzleGroup))

	_, err = f.admin.CreateAnnouncement(f.ctx, AnnouncementInput{EventID: f.hunt.Event.ID, Title: "x", Severity: "loud"})
	assert.True(t, domainagg.IsCode(err, domainagg.CodeValidation), "got %v", err)
}

func TestAdminResetProgress(t *testing.T) {
	f := newFixture(t)
	testutil.SeedAnswer(t, f.ctx, f.db, f.hunt.Puzzle.ID, types.ValidatorStatic, "done")
	unlock := testutil.SeedUnlock(t, f.ctx, f.db, f.hunt.Puzzle.ID, "clue")
	testutil.SeedUnlockAnswer(t, f.ctx, f.db, unlock.ID, types.ValidatorStatic, "done")
	testutil.SeedHint(t, f.ctx, f.db, f.hunt.Puzzle.ID, 0, nil)
	f.submit(t, "done", 0)
	group := f.teamGroup(f.hunt.Team.ID)

	f.emit.reset()
	d, err := f.admin.ResetProgress(f.ctx, f.hunt.Team.ID, &f.hunt.Puzzle.ID)
	require.NoError(t, err)
	assert.Len(t, d.Revoked, 1)
	assert.Equal(t, []realtime.MessageType{realtime.TypeDeleteUnlockGuess, realtime.TypeUnsolved, realtime.TypeScheduleHint}, f.emit.typesIn(group))

	assert.Nil(t, f.row(t, f.hunt.Team.ID))
	gs, err := f.repos.Guesses.ListForTeamPuzzle(f.dbc(), f.hunt.Team.ID, f.hunt.Puzzle.ID)
	require.NoError(t, err)
	assert.Empty(t, gs)

	// The team starts over and can solve again.
	res := f.submit(t, "done", time.Minute)
	require.NotNil(t, res.Correct)
	assert.True(t, *res.Correct)

	_, err = f.admin.ResetProgress(f.ctx, uuid.New(), nil)
	assert.True(t, domainagg.IsCode(err, domainagg.CodeNotFound))
}

func TestAdminSetMembershipMovesSolve(t *testing.T) {
	f := newFixture(t)
	testutil.SeedAnswer(t, f.ctx, f.db, f.hunt.Puzzle.ID, types.ValidatorStatic, "done")
	f.submit(t, "done", 0)
	newTeam := testutil.SeedTeam(t, f.ctx, f.db, f.hunt.Event.ID, "new")

	res, err := f.admin.SetMembership(f.ctx, MembershipInput{EventID: f.hunt.Event.ID, UserID: f.hunt.User.ID, TeamID: newTeam.ID})
	require.NoError(t, err)
	assert.Empty(t, res.Failures)

	moved := f.row(t, newTeam.ID)
	require.NotNil(t, moved)
	assert.NotNil(t, moved.SolvedByID)
	assert.Nil(t, f.row(t, f.hunt.Team.ID).SolvedByID)

	assert.Contains(t, f.emit.typesIn(f.teamGroup(newTeam.ID)), realtime.TypeSolved)
	assert.Contains(t, f.emit.typesIn(f.teamGroup(f.hunt.Team.ID)), realtime.TypeUnsolved)

	otherEvent := testutil.SeedEvent(t, f.ctx, f.db)
	stranger := testutil.SeedTeam(t, f.ctx, f.db, otherEvent.ID, "stranger")
	_, err = f.admin.SetMembership(f.ctx, MembershipInput{EventID: f.hunt.Event.ID, UserID: f.hunt.User.ID, TeamID: stranger.ID})
	assert.True(t, domainagg.IsCode(err, domainagg.CodeValidation), "got %v", err)
}

func TestAdminQueueReevaluation(t *testing.T) {
	f := newFixture(t)
	job, err := f.admin.QueueReevaluation(f.ctx, f.hunt.Puzzle.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusQueued, job.Status)

	pending, err := f.repos.Jobs.HasPending(f.dbc(), f.hunt.Puzzle.ID)
	require.NoError(t, err)
	assert.True(t, pending)

	_, err = f.admin.QueueReevaluation(f.ctx, uuid.New())
	assert.True(t, domainagg.IsCode(err, domainagg.CodeNotFound))
}
