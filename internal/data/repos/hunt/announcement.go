package hunt

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/dbctx"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/logger"
)

type AnnouncementRepo interface {
	Create(dbc dbctx.Context, a *types.Announcement) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Announcement, error)
	// ListVisible returns the event-wide announcements plus, when puzzleID is
	// set, that puzzle's, oldest first.
	ListVisible(dbc dbctx.Context, eventID uuid.UUID, puzzleID *uuid.UUID) ([]*types.Announcement, error)
	Update(dbc dbctx.Context, a *types.Announcement) error
	Delete(dbc dbctx.Context, id uuid.UUID) error
}

type announcementRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAnnouncementRepo(db *gorm.DB, baseLog *logger.Logger) AnnouncementRepo {
	return &announcementRepo{db: db, log: baseLog.With("repo", "AnnouncementRepo")}
}

func (r *announcementRepo) Create(dbc dbctx.Context, a *types.Announcement) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	stamp(&a.CreatedAt, &a.UpdatedAt)
	return dbc.Conn(r.db).Create(a).Error
}

func (r *announcementRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Announcement, error) {
	return firstOrNil[types.Announcement](dbc.Conn(r.db).Where("id = ?", id))
}

func (r *announcementRepo) ListVisible(dbc dbctx.Context, eventID uuid.UUID, puzzleID *uuid.UUID) ([]*types.Announcement, error) {
	q := dbc.Conn(r.db).Where("event_id = ?", eventID)
	if puzzleID != nil {
		q = q.Where("puzzle_id IS NULL OR puzzle_id = ?", *puzzleID)
	} else {
		q = q.Where("puzzle_id IS NULL")
	}
	var out []*types.Announcement
	if err := q.Order("created_at ASC, id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *announcementRepo) Update(dbc dbctx.Context, a *types.Announcement) error {
	stamp(&a.CreatedAt, &a.UpdatedAt)
	return dbc.Conn(r.db).Model(&types.Announcement{}).
		Where("id = ?", a.ID).
		Updates(map[string]any{
			"title":      a.Title,
			"message":    a.Message,
			"severity":   a.Severity,
			"updated_at": a.UpdatedAt,
		}).Error
}

func (r *announcementRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	return dbc.Conn(r.db).Where("id = ?", id).Delete(&types.Announcement{}).Error
}
