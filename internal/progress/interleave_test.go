package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MusicMeister52/hunter2-sub000/internal/data/aggregates"
	aggtest "github.com/MusicMeister52/hunter2-sub000/internal/data/aggregates/testutil"
	"github.com/MusicMeister52/hunter2-sub000/internal/data/repos/testutil"
	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
	"github.com/MusicMeister52/hunter2-sub000/internal/validator"
)

// steppingValidators runs a one-shot callback the next time a guess is
// validated, letting a test commit another write midway through an engine
// call.
type steppingValidators struct {
	Validators
	mu             sync.Mutex
	onAnswer       func()
	onUnlockAnswer func()
}

func (v *steppingValidators) take(hook *func()) func() {
	v.mu.Lock()
	defer v.mu.Unlock()
	fn := *hook
	*hook = nil
	return fn
}

func (v *steppingValidators) ValidateAnswer(ctx context.Context, a *types.Answer, guess string) (bool, error) {
	if fn := v.take(&v.onAnswer); fn != nil {
		fn()
	}
	return v.Validators.ValidateAnswer(ctx, a, guess)
}

func (v *steppingValidators) ValidateUnlockAnswer(ctx context.Context, ua *types.UnlockAnswer, guess string) (bool, error) {
	if fn := v.take(&v.onUnlockAnswer); fn != nil {
		fn()
	}
	return v.Validators.ValidateUnlockAnswer(ctx, ua, guess)
}

func newSteppingFixture(t *testing.T) (*fixture, *steppingValidators) {
	t.Helper()
	v := &steppingValidators{Validators: validator.NewRegistry(testutil.Logger(t), validator.Config{})}
	return newFixture(t, v), v
}

func TestSolveDuringReevaluationSurvives(t *testing.T) {
	f, v := newSteppingFixture(t)
	answer := testutil.SeedAnswer(t, f.ctx, f.db, f.hunt.Puzzle.ID, types.ValidatorStatic, "x")
	team := f.hunt.Team.ID
	f.submit(t, team, "y", 0)

	var solve *types.Guess
	v.onAnswer = func() {
		solve, _ = f.submit(t, team, "x", time.Second)
	}
	res, err := f.eng.OnAnswerChanged(f.ctx, f.hunt.Puzzle.ID, answer.ID)
	require.NoError(t, err)
	require.NotNil(t, solve, "the guess must land while reevaluation is running")

	assert.Empty(t, res.Solved, "reevaluation must not report the concurrent solve as undone")
	assert.Empty(t, res.Failures)
	requireSolvedBy(t, f.row(t, team), solve)
}

func TestGrantDuringRescanSurvives(t *testing.T) {
	f, v := newSteppingFixture(t)
	unlock := testutil.SeedUnlock(t, f.ctx, f.db, f.hunt.Puzzle.ID, "hello")
	ua := testutil.SeedUnlockAnswer(t, f.ctx, f.db, unlock.ID, types.ValidatorStatic, "alpha")
	team := f.hunt.Team.ID
	f.submit(t, team, "zeta", 0)

	var alpha *types.Guess
	var own *Deltas
	v.onUnlockAnswer = func() {
		alpha, own = f.submit(t, team, "alpha", time.Second)
	}
	d, err := f.eng.OnUnlockAnswerChanged(f.ctx, ua.ID)
	require.NoError(t, err)
	require.NotNil(t, alpha, "the guess must land while the rescan is running")
	require.Len(t, own.Granted, 1)

	assert.Empty(t, d.Revoked)
	assert.Empty(t, d.Granted, "the grant belongs to the guess's own evaluation")
	rows, err := f.repos.Progress.UnlocksForUnlockAnswer(f.dbc(), ua.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, alpha.ID, rows[0].UnlockedByID)

	// A later rescan that sees the guess keeps the grant as well.
	d, err = f.eng.OnUnlockAnswerChanged(f.ctx, ua.ID)
	require.NoError(t, err)
	assert.Empty(t, d.Revoked)
	assert.Empty(t, d.Granted)
}

func TestNewGuessRetriesLostCommit(t *testing.T) {
	f := newFixture(t, nil)
	runner := aggtest.NewTxRunner(aggregates.NewGormTxRunner(f.db))
	hooks := aggtest.NewHooks()
	f.eng = NewEngine(Deps{
		DB:         f.db,
		Log:        testutil.Logger(t),
		Repos:      f.repos,
		Validators: validator.NewRegistry(testutil.Logger(t), validator.Config{}),
		Runner:     runner,
		Hooks:      hooks,
	})
	testutil.SeedAnswer(t, f.ctx, f.db, f.hunt.Puzzle.ID, types.ValidatorStatic, "x")

	runner.FailNext(aggregates.ConflictError("progress row moved"))
	g, d := f.submit(t, f.hunt.Team.ID, "x", 0)
	require.Len(t, d.Solved, 1)
	requireSolvedBy(t, f.row(t, f.hunt.Team.ID), g)

	attempts, commits, rollbacks := runner.Counts()
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, commits)
	assert.Equal(t, 1, rollbacks)
	assert.Equal(t, 1, hooks.Conflicts("progress.on_new_guess"))
	assert.Equal(t, []string{"conflict", "success"}, hooks.Statuses("progress.on_new_guess"))
}
