package hunt

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ValidatorKind names one of the closed set of guess validators.
type ValidatorKind string

const (
	ValidatorStatic   ValidatorKind = "static"
	ValidatorRegex    ValidatorKind = "regex"
	ValidatorScript   ValidatorKind = "script"
	ValidatorExternal ValidatorKind = "external"
)

// Answer decides whether a guess solves its puzzle. Answers of one puzzle are
// OR'd together.
type Answer struct {
	ID       uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	PuzzleID uuid.UUID      `gorm:"type:uuid;column:puzzle_id;not null;index" json:"puzzle_id"`
	Runtime  ValidatorKind  `gorm:"column:runtime;not null" json:"runtime"`
	Options  datatypes.JSON `gorm:"column:options" json:"options,omitempty"`
	Answer   string         `gorm:"column:answer;type:text;not null" json:"answer"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Answer) TableName() string { return "answer" }

// Unlock is a guess-gated clue.
type Unlock struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PuzzleID uuid.UUID `gorm:"type:uuid;column:puzzle_id;not null;index" json:"puzzle_id"`
	Text     string    `gorm:"column:text;type:text;not null" json:"text"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Unlock) TableName() string { return "unlock" }

// UnlockAnswer decides whether a guess grants its Unlock. UnlockID never
// changes after creation.
type UnlockAnswer struct {
	ID       uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UnlockID uuid.UUID      `gorm:"type:uuid;column:unlock_id;not null;index" json:"unlock_id"`
	Runtime  ValidatorKind  `gorm:"column:runtime;not null" json:"runtime"`
	Options  datatypes.JSON `gorm:"column:options" json:"options,omitempty"`
	Guess    string         `gorm:"column:guess;type:text;not null" json:"guess"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (UnlockAnswer) TableName() string { return "unlock_answer" }

type HintMode string

const (
	// HintModeAuto counts the delay from puzzle start or the start_after unlock.
	HintModeAuto HintMode = "auto"
	// HintModeAccept counts the delay from the team explicitly accepting the hint.
	HintModeAccept HintMode = "accept"
)

// Hint is a time-gated clue, optionally anchored to an Unlock.
type Hint struct {
	ID           uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	PuzzleID     uuid.UUID     `gorm:"type:uuid;column:puzzle_id;not null;index" json:"puzzle_id"`
	Text         string        `gorm:"column:text;type:text;not null" json:"text"`
	Delay        time.Duration `gorm:"column:delay;not null" json:"delay"`
	StartAfterID *uuid.UUID    `gorm:"type:uuid;column:start_after_id;index" json:"start_after_id,omitempty"`
	Mode         HintMode      `gorm:"column:mode;not null" json:"mode"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Hint) TableName() string { return "hint" }

func (h *Hint) EffectiveMode() HintMode {
	if h == nil || h.Mode == "" {
		return HintModeAuto
	}
	return h.Mode
}
