package aggregates

import (
	"context"
	"testing"
	"time"

	domainagg "github.com/MusicMeister52/hunter2-sub000/internal/domain/aggregates"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/dbctx"
)

func TestWriteObservesSuccessStatus(t *testing.T) {
	hooks := &spyHooks{}
	runner := spyTxRunner{}

	err := Write(context.Background(), BaseDeps{
		Runner: runner,
		Hooks:  hooks,
	}, "progress.test.success", func(_ dbctx.Context) error { return nil })
	if err != nil {
		t.Fatalf("Write success: %v", err)
	}
	if len(hooks.Operations) != 1 {
		t.Fatalf("operations count: want=1 got=%d", len(hooks.Operations))
	}
	if hooks.Operations[0].Status != "success" {
		t.Fatalf("operation status: want=success got=%s", hooks.Operations[0].Status)
	}
}

func TestWriteObservesInvariantViolationStatus(t *testing.T) {
	hooks := &spyHooks{}
	runner := spyTxRunner{}

	err := Write(context.Background(), BaseDeps{
		Runner: runner,
		Hooks:  hooks,
	}, "progress.test.invariant", func(_ dbctx.Context) error {
		return InvariantError("invariant broken")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domainagg.IsCode(err, domainagg.CodeInvariantViolation) {
		t.Fatalf("expected invariant violation code, got=%v", err)
	}
	if len(hooks.Operations) != 1 {
		t.Fatalf("operations count: want=1 got=%d", len(hooks.Operations))
	}
	if hooks.Operations[0].Status != string(domainagg.CodeInvariantViolation) {
		t.Fatalf("operation status: want=%s got=%s", domainagg.CodeInvariantViolation, hooks.Operations[0].Status)
	}
}

func TestWriteTracksConflictAndRetryCounters(t *testing.T) {
	t.Run("conflict", func(t *testing.T) {
		hooks := &spyHooks{}
		runner := spyTxRunner{}
		err := Write(context.Background(), BaseDeps{
			Runner: runner,
			Hooks:  hooks,
		}, "progress.test.conflict", func(_ dbctx.Context) error {
			return ConflictError("stale version")
		})
		if err == nil {
			t.Fatalf("expected error")
		}
		if !domainagg.IsCode(err, domainagg.CodeConflict) {
			t.Fatalf("expected conflict code, got=%v", err)
		}
		if len(hooks.Conflicts) != 1 || hooks.Conflicts[0] != "progress.test.conflict" {
			t.Fatalf("conflict hooks: %+v", hooks.Conflicts)
		}
		if len(hooks.Retries) != 0 {
			t.Fatalf("retry hooks should be empty, got=%+v", hooks.Retries)
		}
		if len(hooks.Operations) != 1 || hooks.Operations[0].Status != string(domainagg.CodeConflict) {
			t.Fatalf("unexpected op status: %+v", hooks.Operations)
		}
	})

	t.Run("retryable", func(t *testing.T) {
		hooks := &spyHooks{}
		runner := spyTxRunner{}
		err := Write(context.Background(), BaseDeps{
			Runner: runner,
			Hooks:  hooks,
		}, "progress.test.retry", func(_ dbctx.Context) error {
			return RetryableError("temporary lock timeout")
		})
		if err == nil {
			t.Fatalf("expected error")
		}
		if !domainagg.IsCode(err, domainagg.CodeRetryable) {
			t.Fatalf("expected retryable code, got=%v", err)
		}
		if len(hooks.Retries) != 1 || hooks.Retries[0] != "progress.test.retry" {
			t.Fatalf("retry hooks: %+v", hooks.Retries)
		}
		if len(hooks.Conflicts) != 0 {
			t.Fatalf("conflict hooks should be empty, got=%+v", hooks.Conflicts)
		}
		if len(hooks.Operations) != 1 || hooks.Operations[0].Status != string(domainagg.CodeRetryable) {
			t.Fatalf("unexpected op status: %+v", hooks.Operations)
		}
	})
}

func TestErrorStatus(t *testing.T) {
	if got := errorStatus(nil); got != "success" {
		t.Fatalf("nil status: want=success got=%s", got)
	}
	if got := errorStatus(InvariantError("x")); got != string(domainagg.CodeInvariantViolation) {
		t.Fatalf("invariant status: got=%s", got)
	}
	if got := errorStatus(ConflictError("x")); got != string(domainagg.CodeConflict) {
		t.Fatalf("conflict status: got=%s", got)
	}
	if got := errorStatus(RetryableError("x")); got != string(domainagg.CodeRetryable) {
		t.Fatalf("retry status: got=%s", got)
	}
	if got := errorStatus(context.DeadlineExceeded); got != string(domainagg.CodeRetryable) {
		t.Fatalf("deadline status: got=%s", got)
	}
}

func TestRetryConflictsRerunsUntilSuccess(t *testing.T) {
	hooks := &spyHooks{}
	calls := 0
	err := RetryConflicts(context.Background(), BaseDeps{
		Runner: spyTxRunner{},
		Hooks:  hooks,
	}, "progress.test.cas", func(_ dbctx.Context) error {
		calls++
		if calls < 3 {
			return ConflictError("stale version")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RetryConflicts: %v", err)
	}
	if calls != 3 {
		t.Fatalf("attempts: want=3 got=%d", calls)
	}
	if len(hooks.Conflicts) != 2 {
		t.Fatalf("conflicts: want=2 got=%d", len(hooks.Conflicts))
	}
}

func TestRetryConflictsGivesUp(t *testing.T) {
	calls := 0
	err := RetryConflicts(context.Background(), BaseDeps{
		Runner:           spyTxRunner{},
		ConflictAttempts: 2,
	}, "progress.test.cas", func(_ dbctx.Context) error {
		calls++
		return ConflictError("stale version")
	})
	if !domainagg.IsCode(err, domainagg.CodeConflict) {
		t.Fatalf("expected conflict after exhausting attempts, got=%v", err)
	}
	if calls != 2 {
		t.Fatalf("attempts: want=2 got=%d", calls)
	}
}

func TestRetryConflictsDoesNotRetryOtherErrors(t *testing.T) {
	calls := 0
	err := RetryConflicts(context.Background(), BaseDeps{Runner: spyTxRunner{}}, "progress.test.cas", func(_ dbctx.Context) error {
		calls++
		return ValidationError("bad")
	})
	if !domainagg.IsCode(err, domainagg.CodeValidation) || calls != 1 {
		t.Fatalf("want one validation failure, got calls=%d err=%v", calls, err)
	}
}

type spyTxRunner struct{}

func (spyTxRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	if fn == nil {
		return nil
	}
	return fn(dbctx.Context{Ctx: ctx})
}

type spyHooks struct {
	Operations []spyOperation
	Conflicts  []string
	Retries    []string
}

type spyOperation struct {
	Name   string
	Status string
}

func (h *spyHooks) ObserveOperation(name, status string, _ time.Duration) {
	h.Operations = append(h.Operations, spyOperation{Name: name, Status: status})
}

func (h *spyHooks) IncConflict(name string) {
	h.Conflicts = append(h.Conflicts, name)
}

func (h *spyHooks) IncRetry(name string) {
	h.Retries = append(h.Retries, name)
}
