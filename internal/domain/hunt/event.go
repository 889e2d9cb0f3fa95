package hunt

import (
	"time"

	"github.com/google/uuid"
)

type Event struct {
	ID      uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Name    string     `gorm:"column:name;not null" json:"name"`
	EndDate *time.Time `gorm:"column:end_date" json:"end_date,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Event) TableName() string { return "event" }

// IsOver reports whether guesses are no longer accepted at t.
func (e *Event) IsOver(t time.Time) bool {
	return e != nil && e.EndDate != nil && !t.Before(*e.EndDate)
}

// Episode groups puzzles. Linear episodes are played in Ordering order;
// parallel episodes expose every puzzle at once.
type Episode struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	EventID   uuid.UUID  `gorm:"type:uuid;column:event_id;not null;index" json:"event_id"`
	Name      string     `gorm:"column:name;not null" json:"name"`
	Ordering  int        `gorm:"column:ordering;not null" json:"ordering"`
	Parallel  bool       `gorm:"column:parallel;not null" json:"parallel"`
	StartDate *time.Time `gorm:"column:start_date" json:"start_date,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Episode) TableName() string { return "episode" }

type Puzzle struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	EventID uuid.UUID `gorm:"type:uuid;column:event_id;not null;index" json:"event_id"`
	// EpisodeID is cleared when the episode is deleted.
	EpisodeID *uuid.UUID `gorm:"type:uuid;column:episode_id;index" json:"episode_id,omitempty"`
	Title     string     `gorm:"column:title;not null" json:"title"`
	Ordering  int        `gorm:"column:ordering;not null;index" json:"ordering"`
	StartDate *time.Time `gorm:"column:start_date" json:"start_date,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Puzzle) TableName() string { return "puzzle" }

// NextPuzzle picks where a team should go after solving a puzzle in ep.
// puzzles must be in episode order. A linear episode yields the first unsolved
// puzzle; a parallel one yields the unsolved puzzle only when exactly one is
// left. nil means "back to the episode".
func NextPuzzle(ep *Episode, puzzles []*Puzzle, solved map[uuid.UUID]bool) *Puzzle {
	if ep == nil {
		return nil
	}
	var found *Puzzle
	for _, p := range puzzles {
		if p == nil || solved[p.ID] {
			continue
		}
		if !ep.Parallel {
			return p
		}
		if found != nil {
			return nil
		}
		found = p
	}
	return found
}
