package services

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MusicMeister52/hunter2-sub000/internal/data/repos/testutil"
	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
	"github.com/MusicMeister52/hunter2-sub000/internal/realtime"
)

func TestSubmitWrongThenCorrect(t *testing.T) {
	f := newFixture(t)
	testutil.SeedAnswer(t, f.ctx, f.db, f.hunt.Puzzle.ID, types.ValidatorStatic, "Correct")

	res := f.submit(t, "WRONG", 0)
	require.NotNil(t, res.Correct)
	assert.False(t, *res.Correct)
	assert.Equal(t, 5*time.Second, res.TimeoutLength)
	require.NotNil(t, res.TimeoutEnd)
	assert.True(t, res.TimeoutEnd.Equal(t0.Add(5*time.Second)))

	_, err := f.guesses.Submit(f.ctx, f.scope(f.hunt.User, time.Second), f.hunt.Puzzle.ID, "Correct")
	assert.ErrorIs(t, err, ErrTooFast)

	res = f.submit(t, "Correct", 10*time.Second)
	require.NotNil(t, res.Correct)
	assert.True(t, *res.Correct)
	assert.Nil(t, res.TimeoutEnd)

	row := f.row(t, f.hunt.Team.ID)
	require.NotNil(t, row.SolvedByID)
	assert.Equal(t, res.Guess.ID, *row.SolvedByID)

	group := f.teamGroup(f.hunt.Team.ID)
	assert.Equal(t, []realtime.MessageType{realtime.TypeNewGuesses, realtime.TypeNewGuesses, realtime.TypeSolved}, f.emit.typesIn(group))

	msgs := f.emit.in(group)
	var solved realtime.SolvedContent
	require.NoError(t, msgs[2].Decode(&solved))
	assert.Equal(t, "Correct", solved.Guess)
	assert.Equal(t, f.hunt.User.Username, solved.By)
	assert.InDelta(t, 10.0, solved.Time, 0.001)
	assert.Equal(t, "back to "+f.hunt.Episode.Name, solved.Text)
	assert.Equal(t, EpisodePath(f.hunt.Episode), solved.Redirect)

	var first []realtime.GuessContent
	require.NoError(t, msgs[0].Decode(&first))
	require.Len(t, first, 1)
	require.NotNil(t, first[0].Correct)
	assert.False(t, *first[0].Correct)

	_, err = f.guesses.Submit(f.ctx, f.scope(f.hunt.User, time.Minute), f.hunt.Puzzle.ID, "again")
	assert.ErrorIs(t, err, ErrAlreadyAnswered)
}

func TestSolvedRedirectsToNextPuzzle(t *testing.T) {
	f := newFixture(t)
	next := testutil.SeedPuzzle(t, f.ctx, f.db, f.hunt.Event.ID, &f.hunt.Episode.ID, 2)
	testutil.SeedAnswer(t, f.ctx, f.db, f.hunt.Puzzle.ID, types.ValidatorStatic, "yes")

	f.submit(t, "yes", 0)

	msgs := f.emit.in(f.teamGroup(f.hunt.Team.ID))
	require.Len(t, msgs, 2)
	var solved realtime.SolvedContent
	require.NoError(t, msgs[1].Decode(&solved))
	assert.Equal(t, RedirectNextPuzzle, solved.Text)
	assert.Equal(t, PuzzlePath(next), solved.Redirect)
}

func TestSubmitRejections(t *testing.T) {
	f := newFixture(t)
	scope := f.scope(f.hunt.User, 0)

	_, err := f.guesses.Submit(f.ctx, scope, f.hunt.Puzzle.ID, "   ")
	assert.ErrorIs(t, err, ErrNoAnswerGiven)

	_, err = f.guesses.Submit(f.ctx, scope, f.hunt.Puzzle.ID, strings.Repeat("a", DefaultGuessMaxLength+1))
	assert.ErrorIs(t, err, ErrAnswerTooLong)

	loner := testutil.SeedUser(t, f.ctx, f.db, "loner")
	_, err = f.guesses.Submit(f.ctx, f.scope(loner, 0), f.hunt.Puzzle.ID, "x")
	assert.ErrorIs(t, err, ErrNoTeam)

	_, err = f.guesses.Submit(f.ctx, nil, f.hunt.Puzzle.ID, "x")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	require.NoError(t, f.db.Model(&types.Event{}).Where("id = ?", f.hunt.Event.ID).
		Update("end_date", t0.Add(-time.Minute)).Error)
	_, err = f.guesses.Submit(f.ctx, scope, f.hunt.Puzzle.ID, "x")
	assert.ErrorIs(t, err, ErrEventOver)

	assert.Empty(t, f.emit.msgs)
}

func TestValidatorFailureLeavesGuessPending(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	testutil.SeedAnswer(t, f.ctx, f.db, f.hunt.Puzzle.ID, types.ValidatorExternal, srv.URL)

	res := f.submit(t, "anything", 0)
	assert.True(t, res.Pending)
	assert.Nil(t, res.Correct)

	stored, err := f.repos.Guesses.GetByID(f.dbc(), res.Guess.ID)
	require.NoError(t, err)
	assert.False(t, stored.CorrectCurrent)
	assert.Nil(t, stored.CorrectForID)

	msgs := f.emit.in(f.teamGroup(f.hunt.Team.ID))
	require.Len(t, msgs, 1)
	var gs []realtime.GuessContent
	require.NoError(t, msgs[0].Decode(&gs))
	require.Len(t, gs, 1)
	assert.Nil(t, gs[0].Correct)
}

func TestGuessGrantsUnlockAndSchedulesHints(t *testing.T) {
	f := newFixture(t)
	unlock := testutil.SeedUnlock(t, f.ctx, f.db, f.hunt.Puzzle.ID, "clue")
	testutil.SeedUnlockAnswer(t, f.ctx, f.db, unlock.ID, types.ValidatorStatic, "key")
	hint := testutil.SeedHint(t, f.ctx, f.db, f.hunt.Puzzle.ID, time.Minute, testutil.PtrUUID(unlock.ID))

	f.submit(t, "key", 0)

	group := f.teamGroup(f.hunt.Team.ID)
	assert.Equal(t, []realtime.MessageType{realtime.TypeNewGuesses, realtime.TypeNewUnlock, realtime.TypeScheduleHint}, f.emit.typesIn(group))
	msgs := f.emit.in(group)

	var u realtime.UnlockContent
	require.NoError(t, msgs[1].Decode(&u))
	assert.Equal(t, "clue", u.Unlock)
	assert.Equal(t, types.CompactID(unlock.ID), u.UnlockUID)

	var ctl realtime.HintControl
	require.NoError(t, msgs[2].Decode(&ctl))
	assert.Equal(t, hint.ID, ctl.HintID)
	assert.True(t, ctl.SendExpired)
}
