// Package progress keeps per-team puzzle state consistent with the guesses
// and validators behind it.
//
// Every Engine call returns the Deltas the caller has to publish. The engine
// never publishes anything itself.
package progress

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/MusicMeister52/hunter2-sub000/internal/data/aggregates"
	"github.com/MusicMeister52/hunter2-sub000/internal/data/repos"
	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
	domainagg "github.com/MusicMeister52/hunter2-sub000/internal/domain/aggregates"
	"github.com/MusicMeister52/hunter2-sub000/internal/observability"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/dbctx"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/logger"
)

// Validators evaluates guesses. *validator.Registry implements it.
type Validators interface {
	ValidateAnswer(ctx context.Context, a *types.Answer, guess string) (bool, error)
	ValidateUnlockAnswer(ctx context.Context, ua *types.UnlockAnswer, guess string) (bool, error)
}

type Deps struct {
	DB         *gorm.DB
	Log        *logger.Logger
	Repos      *repos.Set
	Validators Validators
	Locker     *KeyedLocker
	Hooks      aggregates.Hooks
	Runner     aggregates.TxRunner
	// Concurrency bounds ReevaluatePuzzles; zero means 4.
	Concurrency      int
	ConflictAttempts int
}

type Engine struct {
	log         *logger.Logger
	repos       *repos.Set
	validators  Validators
	locker      *KeyedLocker
	base        aggregates.BaseDeps
	concurrency int
	tracer      trace.Tracer
}

func NewEngine(deps Deps) *Engine {
	if deps.Locker == nil {
		deps.Locker = NewKeyedLocker()
	}
	if deps.Concurrency <= 0 {
		deps.Concurrency = 4
	}
	log := deps.Log.With("component", "ProgressEngine")
	return &Engine{
		log:        log,
		repos:      deps.Repos,
		validators: deps.Validators,
		locker:     deps.Locker,
		base: aggregates.BaseDeps{
			DB:               deps.DB,
			Log:              log,
			Runner:           deps.Runner,
			Hooks:            deps.Hooks,
			ConflictAttempts: deps.ConflictAttempts,
		},
		concurrency: deps.Concurrency,
		tracer:      observability.Tracer("progress"),
	}
}

func (e *Engine) startSpan(ctx context.Context, name string, puzzleID uuid.UUID) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("puzzle_id", puzzleID.String())))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func read(ctx context.Context) dbctx.Context { return dbctx.Context{Ctx: ctx} }

// matchAnswer returns the first Answer validating text, or nil.
func (e *Engine) matchAnswer(ctx context.Context, answers []*types.Answer, text string) (*uuid.UUID, error) {
	for _, a := range answers {
		ok, err := e.validators.ValidateAnswer(ctx, a, text)
		if err != nil {
			return nil, err
		}
		if ok {
			id := a.ID
			return &id, nil
		}
	}
	return nil, nil
}

// OnNewGuess evaluates a freshly stored guess, records the solve and any
// unlocks it grants. A validator failure leaves the guess indeterminate and
// is returned to the caller.
func (e *Engine) OnNewGuess(ctx context.Context, guess *types.Guess) (_ *Deltas, err error) {
	ctx, span := e.startSpan(ctx, "progress.OnNewGuess", guess.ForPuzzleID)
	start := time.Now()
	defer func() {
		observability.Current().ObserveEvaluation("on_new_guess", evalStatus(err), time.Since(start))
		endSpan(span, err)
	}()

	release := e.locker.Lock(guess.ByTeamID, guess.ForPuzzleID)
	defer release()

	rc := read(ctx)
	answers, err := e.repos.Answers.ListByPuzzle(rc, guess.ForPuzzleID)
	if err != nil {
		return nil, aggregates.MapError("progress.on_new_guess", err)
	}
	uas, err := e.repos.UnlockAnswers.ListByPuzzle(rc, guess.ForPuzzleID)
	if err != nil {
		return nil, aggregates.MapError("progress.on_new_guess", err)
	}

	correctFor, err := e.matchAnswer(ctx, answers, guess.Guess)
	var matched []*types.UnlockAnswer
	if err == nil {
		for _, ua := range uas {
			ok, vErr := e.validators.ValidateUnlockAnswer(ctx, ua, guess.Guess)
			if vErr != nil {
				err = vErr
				break
			}
			if ok {
				matched = append(matched, ua)
			}
		}
	}
	if err != nil {
		e.log.Warn("guess evaluation failed", "guess_id", guess.ID, "puzzle_id", guess.ForPuzzleID, "error", err)
		if mErr := e.repos.Guesses.MarkIndeterminate(rc, guess.ID); mErr != nil {
			e.log.Error("mark guess indeterminate failed", "guess_id", guess.ID, "error", mErr)
		}
		guess.CorrectForID = nil
		guess.CorrectCurrent = false
		return nil, err
	}

	var deltas *Deltas
	err = aggregates.RetryConflicts(ctx, e.base, "progress.on_new_guess", func(dbc dbctx.Context) error {
		deltas = &Deltas{PuzzleID: guess.ForPuzzleID}
		if err := e.repos.Guesses.SetCorrectness(dbc, []repos.CorrectnessUpdate{{GuessID: guess.ID, CorrectForID: correctFor}}); err != nil {
			return err
		}
		row, err := e.repos.Progress.GetOrCreate(dbc, guess.ByTeamID, guess.ForPuzzleID, guess.Given)
		if err != nil {
			return err
		}
		if row.SolvedByID == nil && correctFor != nil {
			id := guess.ID
			conflicted, err := e.repos.Progress.BatchUpdateSolvedBy(dbc, []repos.SolvedByUpdate{{
				ProgressID:      row.ID,
				TeamID:          row.TeamID,
				ExpectedVersion: row.Version,
				SolvedByID:      &id,
			}})
			if err != nil {
				return err
			}
			if len(conflicted) > 0 {
				return aggregates.ConflictError("progress row changed during guess evaluation")
			}
			deltas.Solved = append(deltas.Solved, SolveTransition{
				TeamID:    row.TeamID,
				PuzzleID:  row.PuzzleID,
				Solved:    true,
				Guess:     guess,
				StartTime: row.StartTime,
			})
		}

		granted := map[uuid.UUID]bool{}
		for _, ua := range matched {
			inserted, err := e.repos.Progress.RecordUnlock(dbc, row.ID, ua.ID, guess.ID)
			if err != nil {
				return err
			}
			if inserted {
				granted[ua.ID] = true
			}
		}
		if len(granted) == 0 {
			return nil
		}
		grants, err := e.repos.Progress.GrantsFor(dbc, row.ID)
		if err != nil {
			return err
		}
		unlockIDs := map[uuid.UUID]bool{}
		for _, g := range grants {
			if g.GuessID == guess.ID && granted[g.UnlockAnswerID] {
				deltas.Granted = append(deltas.Granted, g)
				unlockIDs[g.UnlockID] = true
			}
		}
		hints, err := e.hintsAfter(dbc, row.TeamID, row.PuzzleID, unlockIDs)
		if err != nil {
			return err
		}
		deltas.addHints(hints...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	guess.CorrectForID = correctFor
	guess.CorrectCurrent = true
	deltas.Guess = guess
	outcome := "incorrect"
	if correctFor != nil {
		outcome = "correct"
	}
	observability.Current().IncGuess(outcome)
	return deltas, nil
}

// hintsAfter lists reschedules for the team's hints anchored on unlockIDs.
func (e *Engine) hintsAfter(dbc dbctx.Context, teamID, puzzleID uuid.UUID, unlockIDs map[uuid.UUID]bool) ([]HintReschedule, error) {
	if len(unlockIDs) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(unlockIDs))
	for id := range unlockIDs {
		ids = append(ids, id)
	}
	hints, err := e.repos.Hints.ListStartingAfter(dbc, ids)
	if err != nil {
		return nil, err
	}
	out := make([]HintReschedule, 0, len(hints))
	for _, h := range hints {
		out = append(out, HintReschedule{TeamID: teamID, PuzzleID: puzzleID, HintID: h.ID})
	}
	return out, nil
}

func evalStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case domainagg.IsCode(err, domainagg.CodeValidatorRuntime):
		return "validator_error"
	case domainagg.IsCode(err, domainagg.CodeConflict):
		return "conflict"
	default:
		return "error"
	}
}
