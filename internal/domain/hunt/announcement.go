package hunt

import (
	"time"

	"github.com/google/uuid"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityDanger  Severity = "danger"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeveritySuccess, SeverityWarning, SeverityDanger:
		return true
	}
	return false
}

// Announcement is event-wide when PuzzleID is nil.
type Announcement struct {
	ID       uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	EventID  uuid.UUID  `gorm:"type:uuid;column:event_id;not null;index" json:"event_id"`
	PuzzleID *uuid.UUID `gorm:"type:uuid;column:puzzle_id;index" json:"puzzle_id,omitempty"`
	Title    string     `gorm:"column:title;not null" json:"title"`
	Message  string     `gorm:"column:message;type:text" json:"message"`
	Severity Severity   `gorm:"column:severity;not null" json:"severity"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Announcement) TableName() string { return "announcement" }
