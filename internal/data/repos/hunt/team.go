package hunt

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/dbctx"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/logger"
)

type UserRepo interface {
	// Upsert records the identity service's view of a user.
	Upsert(dbc dbctx.Context, u *types.User) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.User, error)
	UsernamesByIDs(dbc dbctx.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
}

type userRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo {
	return &userRepo{db: db, log: baseLog.With("repo", "UserRepo")}
}

func (r *userRepo) Upsert(dbc dbctx.Context, u *types.User) error {
	stamp(&u.CreatedAt, &u.UpdatedAt)
	return dbc.Conn(r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "updated_at"}),
	}).Create(u).Error
}

func (r *userRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.User, error) {
	return firstOrNil[types.User](dbc.Conn(r.db).Where("id = ?", id))
}

func (r *userRepo) UsernamesByIDs(dbc dbctx.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	out := make(map[uuid.UUID]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []*types.User
	if err := dbc.Conn(r.db).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, u := range rows {
		out[u.ID] = u.Username
	}
	return out, nil
}

type TeamRepo interface {
	Create(dbc dbctx.Context, t *types.Team) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Team, error)
}

type teamRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTeamRepo(db *gorm.DB, baseLog *logger.Logger) TeamRepo {
	return &teamRepo{db: db, log: baseLog.With("repo", "TeamRepo")}
}

func (r *teamRepo) Create(dbc dbctx.Context, t *types.Team) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	stamp(&t.CreatedAt, &t.UpdatedAt)
	return dbc.Conn(r.db).Create(t).Error
}

func (r *teamRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Team, error) {
	return firstOrNil[types.Team](dbc.Conn(r.db).Where("id = ?", id))
}

type MembershipRepo interface {
	// Get returns the user's membership for the event, or nil.
	Get(dbc dbctx.Context, eventID, userID uuid.UUID) (*types.TeamMembership, error)
	// Set places the user on teamID and returns the previous team, if any.
	Set(dbc dbctx.Context, eventID, userID, teamID uuid.UUID) (*uuid.UUID, error)
}

type membershipRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMembershipRepo(db *gorm.DB, baseLog *logger.Logger) MembershipRepo {
	return &membershipRepo{db: db, log: baseLog.With("repo", "MembershipRepo")}
}

func (r *membershipRepo) Get(dbc dbctx.Context, eventID, userID uuid.UUID) (*types.TeamMembership, error) {
	return firstOrNil[types.TeamMembership](dbc.Conn(r.db).Where("event_id = ? AND user_id = ?", eventID, userID))
}

func (r *membershipRepo) Set(dbc dbctx.Context, eventID, userID, teamID uuid.UUID) (*uuid.UUID, error) {
	existing, err := r.Get(dbc, eventID, userID)
	if err != nil {
		return nil, err
	}
	conn := dbc.Conn(r.db)
	now := nowUTC()
	if existing == nil {
		m := &types.TeamMembership{
			ID:        uuid.New(),
			EventID:   eventID,
			UserID:    userID,
			TeamID:    teamID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return nil, conn.Create(m).Error
	}
	prev := existing.TeamID
	if prev == teamID {
		return &prev, nil
	}
	if err := conn.Model(&types.TeamMembership{}).
		Where("id = ?", existing.ID).
		Updates(map[string]any{"team_id": teamID, "updated_at": now}).Error; err != nil {
		return nil, err
	}
	return &prev, nil
}
