package hunt

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/dbctx"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/logger"
)

func nowUTC() time.Time { return time.Now().UTC() }

func stamp(created, updated *time.Time) {
	now := nowUTC()
	if created.IsZero() {
		*created = now
	}
	*updated = now
}

func firstOrNil[T any](q *gorm.DB) (*T, error) {
	var out T
	err := q.First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type EventRepo interface {
	Create(dbc dbctx.Context, ev *types.Event) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Event, error)
}

type eventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEventRepo(db *gorm.DB, baseLog *logger.Logger) EventRepo {
	return &eventRepo{db: db, log: baseLog.With("repo", "EventRepo")}
}

func (r *eventRepo) Create(dbc dbctx.Context, ev *types.Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	stamp(&ev.CreatedAt, &ev.UpdatedAt)
	return dbc.Conn(r.db).Create(ev).Error
}

func (r *eventRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Event, error) {
	return firstOrNil[types.Event](dbc.Conn(r.db).Where("id = ?", id))
}

type EpisodeRepo interface {
	Create(dbc dbctx.Context, ep *types.Episode) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Episode, error)
}

type episodeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEpisodeRepo(db *gorm.DB, baseLog *logger.Logger) EpisodeRepo {
	return &episodeRepo{db: db, log: baseLog.With("repo", "EpisodeRepo")}
}

func (r *episodeRepo) Create(dbc dbctx.Context, ep *types.Episode) error {
	if ep.ID == uuid.Nil {
		ep.ID = uuid.New()
	}
	stamp(&ep.CreatedAt, &ep.UpdatedAt)
	return dbc.Conn(r.db).Create(ep).Error
}

func (r *episodeRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Episode, error) {
	return firstOrNil[types.Episode](dbc.Conn(r.db).Where("id = ?", id))
}

type PuzzleRepo interface {
	Create(dbc dbctx.Context, p *types.Puzzle) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Puzzle, error)
	// ListByEpisode returns the episode's puzzles in play order.
	ListByEpisode(dbc dbctx.Context, episodeID uuid.UUID) ([]*types.Puzzle, error)
}

type puzzleRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPuzzleRepo(db *gorm.DB, baseLog *logger.Logger) PuzzleRepo {
	return &puzzleRepo{db: db, log: baseLog.With("repo", "PuzzleRepo")}
}

func (r *puzzleRepo) Create(dbc dbctx.Context, p *types.Puzzle) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	stamp(&p.CreatedAt, &p.UpdatedAt)
	return dbc.Conn(r.db).Create(p).Error
}

func (r *puzzleRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Puzzle, error) {
	return firstOrNil[types.Puzzle](dbc.Conn(r.db).Where("id = ?", id))
}

func (r *puzzleRepo) ListByEpisode(dbc dbctx.Context, episodeID uuid.UUID) ([]*types.Puzzle, error) {
	var out []*types.Puzzle
	if err := dbc.Conn(r.db).
		Where("episode_id = ?", episodeID).
		Order("ordering ASC, id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
