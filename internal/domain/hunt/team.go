package hunt

import (
	"time"

	"github.com/google/uuid"
)

// User, Team and TeamMembership mirror the external identity service; the
// core reads them to resolve a user's team and render usernames.
type User struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Username string    `gorm:"column:username;not null;uniqueIndex" json:"username"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (User) TableName() string { return "hunt_user" }

type Team struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	EventID uuid.UUID `gorm:"type:uuid;column:event_id;not null;index" json:"event_id"`
	Name    string    `gorm:"column:name;not null" json:"name"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Team) TableName() string { return "team" }

type TeamMembership struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	EventID uuid.UUID `gorm:"type:uuid;column:event_id;not null;index:idx_membership_event_user,unique,priority:1" json:"event_id"`
	UserID  uuid.UUID `gorm:"type:uuid;column:user_id;not null;index:idx_membership_event_user,unique,priority:2" json:"user_id"`
	TeamID  uuid.UUID `gorm:"type:uuid;column:team_id;not null;index" json:"team_id"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (TeamMembership) TableName() string { return "team_membership" }
