package aggregates

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	domainagg "github.com/MusicMeister52/hunter2-sub000/internal/domain/aggregates"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/dbctx"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/logger"
)

const defaultConflictAttempts = 5

type BaseDeps struct {
	DB       *gorm.DB
	Log      *logger.Logger
	Runner   TxRunner
	Hooks    Hooks
	CASGuard CASGuard
	// ConflictAttempts bounds RetryConflicts; zero means the default.
	ConflictAttempts int
}

func (d BaseDeps) withDefaults() BaseDeps {
	if d.Runner == nil {
		d.Runner = NewGormTxRunner(d.DB)
	}
	if d.Hooks == nil {
		d.Hooks = noopHooks{}
	}
	if d.CASGuard.db == nil {
		d.CASGuard = NewCASGuard(d.DB)
	}
	if d.ConflictAttempts <= 0 {
		d.ConflictAttempts = defaultConflictAttempts
	}
	return d
}

// Write runs fn in one transaction, maps its error and reports the outcome.
func Write(ctx context.Context, deps BaseDeps, op string, fn func(dbc dbctx.Context) error) error {
	start := time.Now()
	deps = deps.withDefaults()
	op = strings.TrimSpace(op)
	if op == "" {
		op = "aggregate.write"
	}
	err := deps.Runner.InTx(ctx, fn)
	mapped := MapError(op, err)

	status := "success"
	if mapped != nil {
		status = errorStatus(mapped)
		if domainagg.IsCode(mapped, domainagg.CodeConflict) {
			deps.Hooks.IncConflict(op)
		}
		if domainagg.IsCode(mapped, domainagg.CodeRetryable) {
			deps.Hooks.IncRetry(op)
		}
	}
	deps.Hooks.ObserveOperation(op, status, time.Since(start))
	return mapped
}

// RetryConflicts re-runs Write while it fails with a conflict. fn must reread
// everything it depends on: each attempt starts from a fresh transaction.
func RetryConflicts(ctx context.Context, deps BaseDeps, op string, fn func(dbc dbctx.Context) error) error {
	deps = deps.withDefaults()
	var err error
	for attempt := 1; attempt <= deps.ConflictAttempts; attempt++ {
		err = Write(ctx, deps, op, fn)
		if !domainagg.IsCode(err, domainagg.CodeConflict) {
			return err
		}
		if ctx.Err() != nil {
			return MapError(op, ctx.Err())
		}
		if deps.Log != nil {
			deps.Log.Debug("Retrying after write conflict", "op", op, "attempt", attempt)
		}
	}
	return err
}

func errorStatus(err error) string {
	if err == nil {
		return "success"
	}
	code := strings.TrimSpace(string(domainagg.CodeOf(err)))
	if code == "" {
		code = strings.TrimSpace(string(domainagg.CodeOf(MapError("aggregate.status", err))))
	}
	if code == "" {
		return "failure"
	}
	return code
}
