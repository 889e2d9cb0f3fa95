package hunt

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MusicMeister52/hunter2-sub000/internal/data/aggregates"
	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/dbctx"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/logger"
)

type ReevaluationJobRepo interface {
	Enqueue(dbc dbctx.Context, puzzleID uuid.UUID, runAfter time.Time) (*types.ReevaluationJob, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ReevaluationJob, error)
	// ClaimNextRunnable moves the oldest runnable job to running: queued jobs
	// whose run_after has passed, failed jobs under maxAttempts after
	// retryDelay, and running jobs locked longer than staleRunning.
	ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, retryDelay, staleRunning time.Duration) (*types.ReevaluationJob, error)
	HasPending(dbc dbctx.Context, puzzleID uuid.UUID) (bool, error)
	// Complete marks a running job succeeded, or failed with runErr's text.
	// A job that is no longer running is a conflict.
	Complete(dbc dbctx.Context, id uuid.UUID, runErr error) error
}

type reevaluationJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
	cas aggregates.CASGuard
}

func NewReevaluationJobRepo(db *gorm.DB, baseLog *logger.Logger) ReevaluationJobRepo {
	return &reevaluationJobRepo{
		db:  db,
		log: baseLog.With("repo", "ReevaluationJobRepo"),
		cas: aggregates.NewCASGuard(db),
	}
}

func (r *reevaluationJobRepo) Enqueue(dbc dbctx.Context, puzzleID uuid.UUID, runAfter time.Time) (*types.ReevaluationJob, error) {
	now := nowUTC()
	if runAfter.IsZero() {
		runAfter = now
	}
	job := &types.ReevaluationJob{
		ID:        uuid.New(),
		PuzzleID:  puzzleID,
		Status:    types.JobStatusQueued,
		RunAfter:  runAfter.UTC(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := dbc.Conn(r.db).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *reevaluationJobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ReevaluationJob, error) {
	return firstOrNil[types.ReevaluationJob](dbc.Conn(r.db).Where("id = ?", id))
}

func (r *reevaluationJobRepo) HasPending(dbc dbctx.Context, puzzleID uuid.UUID) (bool, error) {
	var n int64
	if err := dbc.Conn(r.db).Model(&types.ReevaluationJob{}).
		Where("puzzle_id = ? AND status = ?", puzzleID, types.JobStatusQueued).
		Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *reevaluationJobRepo) ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, retryDelay, staleRunning time.Duration) (*types.ReevaluationJob, error) {
	now := nowUTC()
	retryCutoff := now.Add(-retryDelay)
	staleCutoff := now.Add(-staleRunning)
	var claimed *types.ReevaluationJob
	err := dbc.Conn(r.db).Transaction(func(txx *gorm.DB) error {
		var job types.ReevaluationJob
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
        (
          (status = ? AND run_after <= ?)
          OR (status = ? AND attempts < ? AND updated_at < ?)
          OR (status = ? AND locked_at IS NOT NULL AND locked_at < ?)
        )
      `, types.JobStatusQueued, now, types.JobStatusFailed, maxAttempts, retryCutoff, types.JobStatusRunning, staleCutoff).
			Order("created_at ASC")
		qErr := q.First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		if err := txx.Model(&types.ReevaluationJob{}).
			Where("id = ?", job.ID).
			Updates(map[string]any{
				"status":     types.JobStatusRunning,
				"attempts":   gorm.Expr("attempts + 1"),
				"locked_at":  now,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}
		job.Status = types.JobStatusRunning
		job.Attempts++
		job.LockedAt = &now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *reevaluationJobRepo) Complete(dbc dbctx.Context, id uuid.UUID, runErr error) error {
	updates := map[string]any{
		"status":     types.JobStatusSucceeded,
		"last_error": "",
		"locked_at":  nil,
		"updated_at": nowUTC(),
	}
	if runErr != nil {
		updates["status"] = types.JobStatusFailed
		updates["last_error"] = runErr.Error()
	}
	ok, err := r.cas.UpdateByStatus(dbc, types.ReevaluationJob{}.TableName(), id,
		[]string{string(types.JobStatusRunning)}, updates)
	if err != nil {
		return err
	}
	return aggregates.RequireCASSuccess(ok, "reevaluation job is not running")
}
