package hunt

import (
	"time"

	"github.com/google/uuid"
)

// Guess is immutable apart from its cached correctness and the denormalized
// team, which follows the submitting user's membership.
type Guess struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	// Seq is the creation sequence used to order guesses with equal Given.
	Seq         int64     `gorm:"column:seq;not null" json:"seq"`
	Guess       string    `gorm:"column:guess;type:text;not null" json:"guess"`
	ByID        uuid.UUID `gorm:"type:uuid;column:by_id;not null;index" json:"by_id"`
	ByTeamID    uuid.UUID `gorm:"type:uuid;column:by_team_id;not null;index:idx_guess_puzzle_team_given,priority:2" json:"by_team_id"`
	ForPuzzleID uuid.UUID `gorm:"type:uuid;column:for_puzzle_id;not null;index:idx_guess_puzzle_team_given,priority:1" json:"for_puzzle_id"`
	Given       time.Time `gorm:"column:given;not null;index:idx_guess_puzzle_team_given,priority:3" json:"given"`

	CorrectForID   *uuid.UUID `gorm:"type:uuid;column:correct_for_id;index" json:"correct_for_id,omitempty"`
	CorrectCurrent bool       `gorm:"column:correct_current;not null" json:"correct_current"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Guess) TableName() string { return "guess" }

// Earlier orders guesses by submission time, then creation sequence, then id.
func (g *Guess) Earlier(other *Guess) bool {
	if !g.Given.Equal(other.Given) {
		return g.Given.Before(other.Given)
	}
	if g.Seq != other.Seq {
		return g.Seq < other.Seq
	}
	return g.ID.String() < other.ID.String()
}

func (g *Guess) IsCorrect() bool {
	return g != nil && g.CorrectCurrent && g.CorrectForID != nil
}
