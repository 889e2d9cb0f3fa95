package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MusicMeister52/hunter2-sub000/internal/data/repos/testutil"
	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
)

func TestSessionStoreReplaysTeamState(t *testing.T) {
	f := newFixture(t)
	unlock := testutil.SeedUnlock(t, f.ctx, f.db, f.hunt.Puzzle.ID, "clue")
	testutil.SeedUnlockAnswer(t, f.ctx, f.db, unlock.ID, types.ValidatorStatic, "key")
	hint := testutil.SeedHint(t, f.ctx, f.db, f.hunt.Puzzle.ID, time.Minute, nil)
	store := NewSessionStore(f.repos)

	statuses, err := store.HintStatuses(f.ctx, f.hunt.Team.ID, f.hunt.Puzzle.ID)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Nil(t, statuses[0].UnlocksAt, "no countdown before the puzzle is opened")

	unlocks, err := store.Unlocks(f.ctx, f.hunt.Team.ID, f.hunt.Puzzle.ID)
	require.NoError(t, err)
	assert.Empty(t, unlocks)

	_, err = f.puzzles.View(f.ctx, f.scope(f.hunt.User, 0), f.hunt.Puzzle.ID)
	require.NoError(t, err)
	f.submit(t, "nope", 0)
	f.submit(t, "key", 10*time.Second)

	statuses, err = store.HintStatuses(f.ctx, f.hunt.Team.ID, f.hunt.Puzzle.ID)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, hint.ID, statuses[0].Hint.ID)
	require.NotNil(t, statuses[0].UnlocksAt)
	assert.True(t, statuses[0].UnlocksAt.Equal(t0.Add(time.Minute)))

	all, err := store.Guesses(f.ctx, f.hunt.Team.ID, f.hunt.Puzzle.ID, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "nope", all[0].Guess)
	assert.Equal(t, f.hunt.User.Username, all[0].By)

	recent, err := store.Guesses(f.ctx, f.hunt.Team.ID, f.hunt.Puzzle.ID, testutil.PtrTime(t0))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "key", recent[0].Guess)

	unlocks, err = store.Unlocks(f.ctx, f.hunt.Team.ID, f.hunt.Puzzle.ID)
	require.NoError(t, err)
	require.Len(t, unlocks, 1)
	assert.Equal(t, "clue", unlocks[0].Unlock)
	assert.Equal(t, "key", unlocks[0].Guess)
}
