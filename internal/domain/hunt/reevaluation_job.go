package hunt

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
)

// ReevaluationJob queues a full reevaluation of one puzzle for the worker pool.
type ReevaluationJob struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	PuzzleID  uuid.UUID  `gorm:"type:uuid;column:puzzle_id;not null;index" json:"puzzle_id"`
	Status    string     `gorm:"column:status;not null;index" json:"status"`
	Attempts  int        `gorm:"column:attempts;not null" json:"attempts"`
	LastError string     `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
	RunAfter  time.Time  `gorm:"column:run_after;not null;index" json:"run_after"`
	LockedAt  *time.Time `gorm:"column:locked_at" json:"locked_at,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (ReevaluationJob) TableName() string { return "reevaluation_job" }
