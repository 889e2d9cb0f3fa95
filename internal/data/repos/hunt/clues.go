package hunt

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/dbctx"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/logger"
)

type AnswerRepo interface {
	Create(dbc dbctx.Context, a *types.Answer) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Answer, error)
	ListByPuzzle(dbc dbctx.Context, puzzleID uuid.UUID) ([]*types.Answer, error)
	Update(dbc dbctx.Context, a *types.Answer) error
	Delete(dbc dbctx.Context, id uuid.UUID) error
}

type answerRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAnswerRepo(db *gorm.DB, baseLog *logger.Logger) AnswerRepo {
	return &answerRepo{db: db, log: baseLog.With("repo", "AnswerRepo")}
}

func (r *answerRepo) Create(dbc dbctx.Context, a *types.Answer) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	stamp(&a.CreatedAt, &a.UpdatedAt)
	return dbc.Conn(r.db).Create(a).Error
}

func (r *answerRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Answer, error) {
	return firstOrNil[types.Answer](dbc.Conn(r.db).Where("id = ?", id))
}

func (r *answerRepo) ListByPuzzle(dbc dbctx.Context, puzzleID uuid.UUID) ([]*types.Answer, error) {
	var out []*types.Answer
	if err := dbc.Conn(r.db).
		Where("puzzle_id = ?", puzzleID).
		Order("created_at ASC, id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *answerRepo) Update(dbc dbctx.Context, a *types.Answer) error {
	stamp(&a.CreatedAt, &a.UpdatedAt)
	return dbc.Conn(r.db).Model(&types.Answer{}).
		Where("id = ?", a.ID).
		Updates(map[string]any{
			"runtime":    a.Runtime,
			"options":    a.Options,
			"answer":     a.Answer,
			"updated_at": a.UpdatedAt,
		}).Error
}

func (r *answerRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	return dbc.Conn(r.db).Where("id = ?", id).Delete(&types.Answer{}).Error
}

type UnlockRepo interface {
	Create(dbc dbctx.Context, u *types.Unlock) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Unlock, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Unlock, error)
	ListByPuzzle(dbc dbctx.Context, puzzleID uuid.UUID) ([]*types.Unlock, error)
	UpdateText(dbc dbctx.Context, id uuid.UUID, text string) error
	Delete(dbc dbctx.Context, id uuid.UUID) error
}

type unlockRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUnlockRepo(db *gorm.DB, baseLog *logger.Logger) UnlockRepo {
	return &unlockRepo{db: db, log: baseLog.With("repo", "UnlockRepo")}
}

func (r *unlockRepo) Create(dbc dbctx.Context, u *types.Unlock) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	stamp(&u.CreatedAt, &u.UpdatedAt)
	return dbc.Conn(r.db).Create(u).Error
}

func (r *unlockRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Unlock, error) {
	return firstOrNil[types.Unlock](dbc.Conn(r.db).Where("id = ?", id))
}

func (r *unlockRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Unlock, error) {
	var out []*types.Unlock
	if len(ids) == 0 {
		return out, nil
	}
	if err := dbc.Conn(r.db).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *unlockRepo) ListByPuzzle(dbc dbctx.Context, puzzleID uuid.UUID) ([]*types.Unlock, error) {
	var out []*types.Unlock
	if err := dbc.Conn(r.db).
		Where("puzzle_id = ?", puzzleID).
		Order("created_at ASC, id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *unlockRepo) UpdateText(dbc dbctx.Context, id uuid.UUID, text string) error {
	return dbc.Conn(r.db).Model(&types.Unlock{}).
		Where("id = ?", id).
		Updates(map[string]any{"text": text, "updated_at": nowUTC()}).Error
}

func (r *unlockRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	return dbc.Conn(r.db).Where("id = ?", id).Delete(&types.Unlock{}).Error
}

type UnlockAnswerRepo interface {
	Create(dbc dbctx.Context, ua *types.UnlockAnswer) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.UnlockAnswer, error)
	ListByUnlock(dbc dbctx.Context, unlockID uuid.UUID) ([]*types.UnlockAnswer, error)
	// ListByPuzzle returns the UnlockAnswers of every Unlock on the puzzle.
	ListByPuzzle(dbc dbctx.Context, puzzleID uuid.UUID) ([]*types.UnlockAnswer, error)
	// Update rewrites the validator; UnlockID is never written.
	Update(dbc dbctx.Context, ua *types.UnlockAnswer) error
	Delete(dbc dbctx.Context, id uuid.UUID) error
}

type unlockAnswerRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUnlockAnswerRepo(db *gorm.DB, baseLog *logger.Logger) UnlockAnswerRepo {
	return &unlockAnswerRepo{db: db, log: baseLog.With("repo", "UnlockAnswerRepo")}
}

func (r *unlockAnswerRepo) Create(dbc dbctx.Context, ua *types.UnlockAnswer) error {
	if ua.ID == uuid.Nil {
		ua.ID = uuid.New()
	}
	stamp(&ua.CreatedAt, &ua.UpdatedAt)
	return dbc.Conn(r.db).Create(ua).Error
}

func (r *unlockAnswerRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.UnlockAnswer, error) {
	return firstOrNil[types.UnlockAnswer](dbc.Conn(r.db).Where("id = ?", id))
}

func (r *unlockAnswerRepo) ListByUnlock(dbc dbctx.Context, unlockID uuid.UUID) ([]*types.UnlockAnswer, error) {
	var out []*types.UnlockAnswer
	if err := dbc.Conn(r.db).
		Where("unlock_id = ?", unlockID).
		Order("created_at ASC, id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *unlockAnswerRepo) ListByPuzzle(dbc dbctx.Context, puzzleID uuid.UUID) ([]*types.UnlockAnswer, error) {
	var out []*types.UnlockAnswer
	if err := dbc.Conn(r.db).
		Where(`unlock_id IN (SELECT id FROM "unlock" WHERE puzzle_id = ?)`, puzzleID).
		Order("created_at ASC, id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *unlockAnswerRepo) Update(dbc dbctx.Context, ua *types.UnlockAnswer) error {
	stamp(&ua.CreatedAt, &ua.UpdatedAt)
	return dbc.Conn(r.db).Model(&types.UnlockAnswer{}).
		Where("id = ?", ua.ID).
		Updates(map[string]any{
			"runtime":    ua.Runtime,
			"options":    ua.Options,
			"guess":      ua.Guess,
			"updated_at": ua.UpdatedAt,
		}).Error
}

func (r *unlockAnswerRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	return dbc.Conn(r.db).Where("id = ?", id).Delete(&types.UnlockAnswer{}).Error
}

type HintRepo interface {
	Create(dbc dbctx.Context, h *types.Hint) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Hint, error)
	ListByPuzzle(dbc dbctx.Context, puzzleID uuid.UUID) ([]*types.Hint, error)
	// ListStartingAfter returns the hints anchored to any of the given unlocks.
	ListStartingAfter(dbc dbctx.Context, unlockIDs []uuid.UUID) ([]*types.Hint, error)
	Update(dbc dbctx.Context, h *types.Hint) error
	Delete(dbc dbctx.Context, id uuid.UUID) error
}

type hintRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewHintRepo(db *gorm.DB, baseLog *logger.Logger) HintRepo {
	return &hintRepo{db: db, log: baseLog.With("repo", "HintRepo")}
}

func (r *hintRepo) Create(dbc dbctx.Context, h *types.Hint) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	if h.Mode == "" {
		h.Mode = types.HintModeAuto
	}
	stamp(&h.CreatedAt, &h.UpdatedAt)
	return dbc.Conn(r.db).Create(h).Error
}

func (r *hintRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Hint, error) {
	return firstOrNil[types.Hint](dbc.Conn(r.db).Where("id = ?", id))
}

func (r *hintRepo) ListByPuzzle(dbc dbctx.Context, puzzleID uuid.UUID) ([]*types.Hint, error) {
	var out []*types.Hint
	if err := dbc.Conn(r.db).
		Where("puzzle_id = ?", puzzleID).
		Order("delay ASC, id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *hintRepo) ListStartingAfter(dbc dbctx.Context, unlockIDs []uuid.UUID) ([]*types.Hint, error) {
	var out []*types.Hint
	if len(unlockIDs) == 0 {
		return out, nil
	}
	if err := dbc.Conn(r.db).
		Where("start_after_id IN ?", unlockIDs).
		Order("delay ASC, id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *hintRepo) Update(dbc dbctx.Context, h *types.Hint) error {
	stamp(&h.CreatedAt, &h.UpdatedAt)
	return dbc.Conn(r.db).Model(&types.Hint{}).
		Where("id = ?", h.ID).
		Updates(map[string]any{
			"text":           h.Text,
			"delay":          h.Delay,
			"start_after_id": h.StartAfterID,
			"mode":           h.EffectiveMode(),
			"updated_at":     h.UpdatedAt,
		}).Error
}

func (r *hintRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	return dbc.Conn(r.db).Where("id = ?", id).Delete(&types.Hint{}).Error
}
