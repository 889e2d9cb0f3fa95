package testutil

import (
	"context"
	"sync"

	"github.com/MusicMeister52/hunter2-sub000/internal/data/aggregates"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/dbctx"
)

// TxRunner wraps a real runner and fails queued transactions after their body
// ran, so the body's writes are rolled back the way a lost commit would be.
// With a nil Inner the body runs without a database.
type TxRunner struct {
	Inner aggregates.TxRunner

	mu        sync.Mutex
	queued    []error
	attempts  int
	commits   int
	rollbacks int
}

var _ aggregates.TxRunner = (*TxRunner)(nil)

func NewTxRunner(inner aggregates.TxRunner) *TxRunner {
	return &TxRunner{Inner: inner}
}

// FailNext makes the next len(errs) transactions return errs in order.
func (r *TxRunner) FailNext(errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queued = append(r.queued, errs...)
}

func (r *TxRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	r.mu.Lock()
	r.attempts++
	var inject error
	if len(r.queued) > 0 {
		inject = r.queued[0]
		r.queued = r.queued[1:]
	}
	r.mu.Unlock()

	body := func(dbc dbctx.Context) error {
		if fn != nil {
			if err := fn(dbc); err != nil {
				return err
			}
		}
		return inject
	}
	var err error
	if r.Inner != nil {
		err = r.Inner.InTx(ctx, body)
	} else {
		err = body(dbctx.Context{Ctx: ctx})
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.rollbacks++
	} else {
		r.commits++
	}
	return err
}

// Counts reports transactions started, committed and rolled back.
func (r *TxRunner) Counts() (attempts, commits, rollbacks int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts, r.commits, r.rollbacks
}
