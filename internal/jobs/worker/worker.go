package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MusicMeister52/hunter2-sub000/internal/data/repos"
	"github.com/MusicMeister52/hunter2-sub000/internal/observability"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/dbctx"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/envutil"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/logger"
	"github.com/MusicMeister52/hunter2-sub000/internal/progress"
)

// Reevaluator is satisfied by *progress.Engine.
type Reevaluator interface {
	ReevaluatePuzzle(ctx context.Context, puzzleID uuid.UUID) (*progress.Result, error)
}

// Publisher is satisfied by services.HuntNotifier.
type Publisher interface {
	PublishResult(ctx context.Context, r *progress.Result)
}

type Config struct {
	Concurrency  int           `yaml:"concurrency"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	StaleRunning time.Duration `yaml:"stale_running"`
}

// ConfigFromEnv reads WORKER_* overrides.
func ConfigFromEnv() Config {
	return Config{
		Concurrency:  envutil.Int("WORKER_CONCURRENCY", 2),
		PollInterval: envutil.Duration("WORKER_POLL_INTERVAL", time.Second),
		MaxAttempts:  envutil.Int("WORKER_MAX_ATTEMPTS", 5),
		RetryDelay:   envutil.Duration("WORKER_RETRY_DELAY", 30*time.Second),
		StaleRunning: envutil.Duration("WORKER_STALE_RUNNING", 10*time.Minute),
	}
}

func (c Config) withDefaults() Config {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 5
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 30 * time.Second
	}
	if c.StaleRunning <= 0 {
		c.StaleRunning = 10 * time.Minute
	}
	return c
}

// Worker drains the reevaluation queue. Reevaluation is idempotent, so a job
// that is retried or picked up again after a crash is harmless.
type Worker struct {
	log    *logger.Logger
	jobs   repos.ReevaluationJobRepo
	engine Reevaluator
	notify Publisher
	cfg    Config
}

func NewWorker(baseLog *logger.Logger, jobs repos.ReevaluationJobRepo, engine Reevaluator, notify Publisher, cfg Config) *Worker {
	return &Worker{
		log:    baseLog.With("component", "ReevaluationWorker"),
		jobs:   jobs,
		engine: engine,
		notify: notify,
		cfg:    cfg.withDefaults(),
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.log.Info("Starting reevaluation worker pool", "concurrency", w.cfg.Concurrency)
	for i := 0; i < w.cfg.Concurrency; i++ {
		go w.runLoop(ctx, i+1)
	}
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			// Drain whatever is runnable before waiting for the next tick.
			for ctx.Err() == nil {
				ran, err := w.RunOnce(ctx)
				if err != nil {
					w.log.Warn("ClaimNextRunnable failed", "worker_id", workerID, "error", err)
					break
				}
				if !ran {
					break
				}
			}
		}
	}
}

// RunOnce claims and runs at most one job. It reports whether a job was
// claimed; job failures are recorded on the job, not returned.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	dbc := dbctx.Context{Ctx: ctx}
	job, err := w.jobs.ClaimNextRunnable(dbc, w.cfg.MaxAttempts, w.cfg.RetryDelay, w.cfg.StaleRunning)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	log := w.log.With("job_id", job.ID, "puzzle_id", job.PuzzleID, "attempt", job.Attempts)
	start := time.Now()
	runErr := w.run(ctx, job.PuzzleID)
	status := "succeeded"
	if runErr != nil {
		status = "failed"
		log.Warn("Reevaluation job failed", "error", runErr, "duration", time.Since(start))
	} else {
		log.Info("Reevaluation job finished", "duration", time.Since(start))
	}
	observability.Current().IncWorkerJob(status)

	if err := w.jobs.Complete(dbc, job.ID, runErr); err != nil {
		log.Error("Marking job complete failed", "error", err)
	}
	return true, nil
}

func (w *Worker) run(ctx context.Context, puzzleID uuid.UUID) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Reevaluation panic", "puzzle_id", puzzleID, "panic", r)
			err = errFromRecover(r)
		}
	}()

	res, err := w.engine.ReevaluatePuzzle(ctx, puzzleID)
	if err != nil {
		return err
	}
	// Teams that did change are published even when others failed.
	w.notify.PublishResult(ctx, res)
	if n := len(res.Failures); n > 0 {
		return fmt.Errorf("%d of %d teams failed: %w", n, res.Teams, res.Failures[0].Err)
	}
	return nil
}

func errFromRecover(v any) error { return &panicError{Val: v} }

type panicError struct{ Val any }

func (e *panicError) Error() string { return "panic: unexpected error" }
