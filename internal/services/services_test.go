package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/MusicMeister52/hunter2-sub000/internal/data/repos"
	"github.com/MusicMeister52/hunter2-sub000/internal/data/repos/testutil"
	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/ctxutil"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/dbctx"
	"github.com/MusicMeister52/hunter2-sub000/internal/progress"
	"github.com/MusicMeister52/hunter2-sub000/internal/realtime"
	"github.com/MusicMeister52/hunter2-sub000/internal/validator"
)

var t0 = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

type recordingEmitter struct {
	mu   sync.Mutex
	msgs []realtime.Message
}

func (e *recordingEmitter) Emit(_ context.Context, msg realtime.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.msgs = append(e.msgs, msg)
}

func (e *recordingEmitter) in(group string) []realtime.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []realtime.Message
	for _, m := range e.msgs {
		if m.Group == group {
			out = append(out, m)
		}
	}
	return out
}

func (e *recordingEmitter) typesIn(group string) []realtime.MessageType {
	var out []realtime.MessageType
	for _, m := range e.in(group) {
		out = append(out, m.Type)
	}
	return out
}

func (e *recordingEmitter) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.msgs = nil
}

type fixture struct {
	ctx     context.Context
	db      *gorm.DB
	repos   *repos.Set
	engine  *progress.Engine
	emit    *recordingEmitter
	guesses GuessService
	puzzles PuzzleService
	admin   AdminService
	hunt    *testutil.Hunt
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	set := repos.NewSet(db, log)
	reg := validator.NewRegistry(log, validator.Config{ExternalTimeout: time.Second})
	engine := progress.NewEngine(progress.Deps{DB: db, Log: log, Repos: set, Validators: reg})
	emit := &recordingEmitter{}
	notify := NewHuntNotifier(log, emit, set)
	ctx := context.Background()
	return &fixture{
		ctx:     ctx,
		db:      db,
		repos:   set,
		engine:  engine,
		emit:    emit,
		guesses: NewGuessService(log, set, engine, notify, GuessConfig{MinInterval: 5 * time.Second}),
		puzzles: NewPuzzleService(log, set, notify),
		admin:   NewAdminService(db, log, set, engine, reg, notify),
		hunt:    testutil.SeedHunt(t, ctx, db),
	}
}

func (f *fixture) dbc() dbctx.Context { return dbctx.Context{Ctx: f.ctx} }

func (f *fixture) scope(user *types.User, at time.Duration) *RequestScope {
	return &RequestScope{
		UserID:   user.ID,
		Username: user.Username,
		Now:      t0.Add(at),
		Teams:    NewTeamCache(f.repos.Memberships, user.ID),
	}
}

func (f *fixture) teamGroup(teamID uuid.UUID) string {
	return realtime.TeamPuzzleGroup(f.hunt.Event.ID, f.hunt.Puzzle.ID, teamID)
}

func (f *fixture) submit(t *testing.T, text string, at time.Duration) *GuessResult {
	t.Helper()
	res, err := f.guesses.Submit(f.ctx, f.scope(f.hunt.User, at), f.hunt.Puzzle.ID, text)
	require.NoError(t, err)
	return res
}

func (f *fixture) row(t *testing.T, teamID uuid.UUID) *types.TeamPuzzleProgress {
	t.Helper()
	row, err := f.repos.Progress.Get(f.dbc(), teamID, f.hunt.Puzzle.ID)
	require.NoError(t, err)
	return row
}

func TestTeamCacheResolvesMembership(t *testing.T) {
	f := newFixture(t)
	cache := NewTeamCache(f.repos.Memberships, f.hunt.User.ID)

	id, err := cache.TeamFor(f.ctx, f.hunt.Event.ID)
	require.NoError(t, err)
	assert.Equal(t, f.hunt.Team.ID, id)

	other := testutil.SeedTeam(t, f.ctx, f.db, f.hunt.Event.ID, "other")
	_, err = f.repos.Memberships.Set(f.dbc(), f.hunt.Event.ID, f.hunt.User.ID, other.ID)
	require.NoError(t, err)

	id, err = cache.TeamFor(f.ctx, f.hunt.Event.ID)
	require.NoError(t, err)
	assert.Equal(t, f.hunt.Team.ID, id, "memoized for the request")

	cache.Forget(f.hunt.Event.ID)
	id, err = cache.TeamFor(f.ctx, f.hunt.Event.ID)
	require.NoError(t, err)
	assert.Equal(t, other.ID, id)

	loner := testutil.SeedUser(t, f.ctx, f.db, "loner")
	_, err = NewTeamCache(f.repos.Memberships, loner.ID).TeamFor(f.ctx, f.hunt.Event.ID)
	assert.ErrorIs(t, err, ErrNoTeam)
}

func TestNewRequestScopeNeedsIdentity(t *testing.T) {
	f := newFixture(t)
	_, err := NewRequestScope(f.ctx, f.repos)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	ctx := ctxutil.WithRequestData(f.ctx, &ctxutil.RequestData{UserID: f.hunt.User.ID, Username: "p", IsAdmin: true})
	scope, err := NewRequestScope(ctx, f.repos)
	require.NoError(t, err)
	assert.Equal(t, f.hunt.User.ID, scope.UserID)
	assert.True(t, scope.IsAdmin)
	assert.NotNil(t, scope.Teams)
}

func TestGuessThrottle(t *testing.T) {
	th := newGuessThrottle(5 * time.Second)
	u, p := uuid.New(), uuid.New()
	assert.True(t, th.allow(u, p, t0))
	assert.False(t, th.allow(u, p, t0.Add(time.Second)))
	assert.True(t, th.allow(u, uuid.New(), t0.Add(time.Second)), "other puzzles are independent")
	assert.True(t, th.allow(u, p, t0.Add(5*time.Second)))

	assert.True(t, newGuessThrottle(0).allow(u, p, t0))
	assert.True(t, newGuessThrottle(0).allow(u, p, t0))
}

func TestPuzzleViewStartsClockOnce(t *testing.T) {
	f := newFixture(t)
	v, err := f.puzzles.View(f.ctx, f.scope(f.hunt.User, 0), f.hunt.Puzzle.ID)
	require.NoError(t, err)
	require.NotNil(t, v.StartTime)
	assert.True(t, v.StartTime.Equal(t0))
	assert.False(t, v.Solved)

	v, err = f.puzzles.View(f.ctx, f.scope(f.hunt.User, time.Hour), f.hunt.Puzzle.ID)
	require.NoError(t, err)
	assert.True(t, v.StartTime.Equal(t0))
}

func TestPuzzleViewHidesFuturePuzzles(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Model(&types.Puzzle{}).Where("id = ?", f.hunt.Puzzle.ID).
		Update("start_date", t0.Add(time.Hour)).Error)

	_, err := f.puzzles.View(f.ctx, f.scope(f.hunt.User, 0), f.hunt.Puzzle.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not_found")

	_, err = f.puzzles.View(f.ctx, f.scope(f.hunt.User, 2*time.Hour), f.hunt.Puzzle.ID)
	require.NoError(t, err)
}

func TestPuzzleViewShowsVisibleHintsAndUnlocks(t *testing.T) {
	f := newFixture(t)
	unlock := testutil.SeedUnlock(t, f.ctx, f.db, f.hunt.Puzzle.ID, "look left")
	testutil.SeedUnlockAnswer(t, f.ctx, f.db, unlock.ID, types.ValidatorStatic, "left")
	early := testutil.SeedHint(t, f.ctx, f.db, f.hunt.Puzzle.ID, time.Minute, nil)
	late := testutil.SeedHint(t, f.ctx, f.db, f.hunt.Puzzle.ID, time.Hour, nil)

	_, err := f.puzzles.View(f.ctx, f.scope(f.hunt.User, 0), f.hunt.Puzzle.ID)
	require.NoError(t, err)
	f.submit(t, "left", 10*time.Second)

	v, err := f.puzzles.View(f.ctx, f.scope(f.hunt.User, 2*time.Minute), f.hunt.Puzzle.ID)
	require.NoError(t, err)
	require.Len(t, v.Unlocks, 1)
	assert.Equal(t, "look left", v.Unlocks[0].Text)
	assert.Equal(t, []string{"left"}, v.Unlocks[0].Guesses)
	require.Len(t, v.Guesses, 1)
	assert.Equal(t, f.hunt.User.Username, v.Guesses[0].By)

	byID := map[uuid.UUID]HintView{}
	for _, h := range v.Hints {
		byID[h.HintID] = h
	}
	assert.True(t, byID[early.ID].Visible)
	assert.Equal(t, "hint", byID[early.ID].Text)
	assert.False(t, byID[late.ID].Visible)
	assert.Empty(t, byID[late.ID].Text)
}
