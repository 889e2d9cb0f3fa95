package hunt

import (
	"time"

	"github.com/google/uuid"
)

// TeamPuzzleProgress is the per-(team, puzzle) state row. Version is bumped on
// every solved_by change and guards concurrent writers.
type TeamPuzzleProgress struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	TeamID     uuid.UUID  `gorm:"type:uuid;column:team_id;not null;index:idx_progress_team_puzzle,unique,priority:1" json:"team_id"`
	PuzzleID   uuid.UUID  `gorm:"type:uuid;column:puzzle_id;not null;index:idx_progress_team_puzzle,unique,priority:2;index" json:"puzzle_id"`
	StartTime  *time.Time `gorm:"column:start_time" json:"start_time,omitempty"`
	SolvedByID *uuid.UUID `gorm:"type:uuid;column:solved_by_id" json:"solved_by_id,omitempty"`
	Version    int        `gorm:"column:version;not null" json:"version"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (TeamPuzzleProgress) TableName() string { return "team_puzzle_progress" }

// TeamUnlock records that UnlockedBy granted UnlockAnswer for the progress row.
type TeamUnlock struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProgressID     uuid.UUID `gorm:"type:uuid;column:progress_id;not null;index:idx_team_unlock_pair,unique,priority:1" json:"progress_id"`
	UnlockAnswerID uuid.UUID `gorm:"type:uuid;column:unlock_answer_id;not null;index:idx_team_unlock_pair,unique,priority:2;index" json:"unlock_answer_id"`
	UnlockedByID   uuid.UUID `gorm:"type:uuid;column:unlocked_by_id;not null;index:idx_team_unlock_pair,unique,priority:3;index" json:"unlocked_by_id"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (TeamUnlock) TableName() string { return "team_unlock" }

// HintAcceptance is a team's explicit opt-in starting an accept-mode hint's
// countdown.
type HintAcceptance struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProgressID uuid.UUID `gorm:"type:uuid;column:progress_id;not null;index:idx_hint_acceptance,unique,priority:1" json:"progress_id"`
	HintID     uuid.UUID `gorm:"type:uuid;column:hint_id;not null;index:idx_hint_acceptance,unique,priority:2" json:"hint_id"`
	AcceptedAt time.Time `gorm:"column:accepted_at;not null" json:"accepted_at"`
}

func (HintAcceptance) TableName() string { return "hint_acceptance" }

// Grant is a TeamUnlock joined with what notifications and visibility need.
type Grant struct {
	ProgressID     uuid.UUID `json:"progress_id"`
	TeamID         uuid.UUID `json:"team_id"`
	PuzzleID       uuid.UUID `json:"puzzle_id"`
	UnlockID       uuid.UUID `json:"unlock_id"`
	UnlockText     string    `json:"unlock_text"`
	UnlockAnswerID uuid.UUID `json:"unlock_answer_id"`
	GuessID        uuid.UUID `json:"guess_id"`
	GuessText      string    `json:"guess_text"`
	Given          time.Time `json:"given"`
}
