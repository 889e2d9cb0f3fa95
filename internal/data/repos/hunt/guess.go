package hunt

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/dbctx"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/logger"
)

var lastSeq atomic.Int64

// nextSeq is strictly increasing within the process and tracks wall time, so
// sequences from different processes interleave in roughly submission order.
func nextSeq(now time.Time) int64 {
	for {
		last := lastSeq.Load()
		n := now.UnixNano()
		if n <= last {
			n = last + 1
		}
		if lastSeq.CompareAndSwap(last, n) {
			return n
		}
	}
}

// CorrectnessUpdate is a refreshed correctness cache for one guess.
type CorrectnessUpdate struct {
	GuessID      uuid.UUID
	CorrectForID *uuid.UUID
}

type GuessRepo interface {
	// Create assigns ID, Seq and timestamps. Given defaults to now.
	Create(dbc dbctx.Context, g *types.Guess) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Guess, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Guess, error)
	// ListForTeamPuzzle returns the team's guesses in submission order.
	ListForTeamPuzzle(dbc dbctx.Context, teamID, puzzleID uuid.UUID) ([]*types.Guess, error)
	ListForTeamPuzzleSince(dbc dbctx.Context, teamID, puzzleID uuid.UUID, since time.Time) ([]*types.Guess, error)
	ListByPuzzle(dbc dbctx.Context, puzzleID uuid.UUID) ([]*types.Guess, error)
	// SetCorrectness stores a fresh evaluation.
	SetCorrectness(dbc dbctx.Context, updates []CorrectnessUpdate) error
	// MarkIndeterminate leaves the guess stale with no cached answer.
	MarkIndeterminate(dbc dbctx.Context, id uuid.UUID) error
	// InvalidateForAnswer marks stale the puzzle's guesses cached against
	// answerID and, when includeUnmatched is set, those with no cached answer.
	InvalidateForAnswer(dbc dbctx.Context, puzzleID, answerID uuid.UUID, includeUnmatched bool) (int64, error)
	// ClearForAnswer drops answerID from every cached guess and marks them stale.
	ClearForAnswer(dbc dbctx.Context, puzzleID, answerID uuid.UUID) (int64, error)
	// Redenormalize moves a user's guesses for the event onto teamID, marks
	// them stale and returns the puzzles touched.
	Redenormalize(dbc dbctx.Context, eventID, userID, teamID uuid.UUID) ([]uuid.UUID, error)
	DeleteForTeam(dbc dbctx.Context, teamID uuid.UUID, puzzleID *uuid.UUID) (int64, error)
}

type guessRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGuessRepo(db *gorm.DB, baseLog *logger.Logger) GuessRepo {
	return &guessRepo{db: db, log: baseLog.With("repo", "GuessRepo")}
}

const guessOrder = "given ASC, seq ASC, id ASC"

func (r *guessRepo) Create(dbc dbctx.Context, g *types.Guess) error {
	now := nowUTC()
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	if g.Given.IsZero() {
		g.Given = now
	}
	g.Given = g.Given.UTC()
	g.Seq = nextSeq(now)
	g.CreatedAt = now
	g.UpdatedAt = now
	return dbc.Conn(r.db).Create(g).Error
}

func (r *guessRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Guess, error) {
	return firstOrNil[types.Guess](dbc.Conn(r.db).Where("id = ?", id))
}

func (r *guessRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Guess, error) {
	var out []*types.Guess
	if len(ids) == 0 {
		return out, nil
	}
	if err := dbc.Conn(r.db).Where("id IN ?", ids).Order(guessOrder).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *guessRepo) ListForTeamPuzzle(dbc dbctx.Context, teamID, puzzleID uuid.UUID) ([]*types.Guess, error) {
	var out []*types.Guess
	if err := dbc.Conn(r.db).
		Where("for_puzzle_id = ? AND by_team_id = ?", puzzleID, teamID).
		Order(guessOrder).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *guessRepo) ListForTeamPuzzleSince(dbc dbctx.Context, teamID, puzzleID uuid.UUID, since time.Time) ([]*types.Guess, error) {
	var out []*types.Guess
	if err := dbc.Conn(r.db).
		Where("for_puzzle_id = ? AND by_team_id = ? AND given > ?", puzzleID, teamID, since.UTC()).
		Order(guessOrder).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *guessRepo) ListByPuzzle(dbc dbctx.Context, puzzleID uuid.UUID) ([]*types.Guess, error) {
	var out []*types.Guess
	if err := dbc.Conn(r.db).
		Where("for_puzzle_id = ?", puzzleID).
		Order(guessOrder).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *guessRepo) SetCorrectness(dbc dbctx.Context, updates []CorrectnessUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	conn := dbc.Conn(r.db)
	now := nowUTC()
	for _, u := range updates {
		var correctFor any
		if u.CorrectForID != nil {
			correctFor = *u.CorrectForID
		}
		if err := conn.Model(&types.Guess{}).
			Where("id = ?", u.GuessID).
			Updates(map[string]any{
				"correct_for_id":  correctFor,
				"correct_current": true,
				"updated_at":      now,
			}).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *guessRepo) MarkIndeterminate(dbc dbctx.Context, id uuid.UUID) error {
	return dbc.Conn(r.db).Model(&types.Guess{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"correct_for_id":  nil,
			"correct_current": false,
			"updated_at":      nowUTC(),
		}).Error
}

func (r *guessRepo) InvalidateForAnswer(dbc dbctx.Context, puzzleID, answerID uuid.UUID, includeUnmatched bool) (int64, error) {
	q := dbc.Conn(r.db).Model(&types.Guess{}).Where("for_puzzle_id = ?", puzzleID)
	if includeUnmatched {
		q = q.Where("correct_for_id = ? OR correct_for_id IS NULL", answerID)
	} else {
		q = q.Where("correct_for_id = ?", answerID)
	}
	res := q.Updates(map[string]any{"correct_current": false, "updated_at": nowUTC()})
	return res.RowsAffected, res.Error
}

func (r *guessRepo) ClearForAnswer(dbc dbctx.Context, puzzleID, answerID uuid.UUID) (int64, error) {
	res := dbc.Conn(r.db).Model(&types.Guess{}).
		Where("for_puzzle_id = ? AND correct_for_id = ?", puzzleID, answerID).
		Updates(map[string]any{
			"correct_for_id":  nil,
			"correct_current": false,
			"updated_at":      nowUTC(),
		})
	return res.RowsAffected, res.Error
}

func (r *guessRepo) Redenormalize(dbc dbctx.Context, eventID, userID, teamID uuid.UUID) ([]uuid.UUID, error) {
	conn := dbc.Conn(r.db)
	scope := func() *gorm.DB {
		return conn.Model(&types.Guess{}).
			Where("by_id = ? AND by_team_id <> ?", userID, teamID).
			Where("for_puzzle_id IN (?)", conn.Model(&types.Puzzle{}).Select("id").Where("event_id = ?", eventID))
	}
	var puzzleIDs []uuid.UUID
	if err := scope().Distinct("for_puzzle_id").Pluck("for_puzzle_id", &puzzleIDs).Error; err != nil {
		return nil, err
	}
	if len(puzzleIDs) == 0 {
		return puzzleIDs, nil
	}
	if err := scope().Updates(map[string]any{
		"by_team_id":      teamID,
		"correct_current": false,
		"updated_at":      nowUTC(),
	}).Error; err != nil {
		return nil, err
	}
	return puzzleIDs, nil
}

func (r *guessRepo) DeleteForTeam(dbc dbctx.Context, teamID uuid.UUID, puzzleID *uuid.UUID) (int64, error) {
	q := dbc.Conn(r.db).Where("by_team_id = ?", teamID)
	if puzzleID != nil {
		q = q.Where("for_puzzle_id = ?", *puzzleID)
	}
	res := q.Delete(&types.Guess{})
	return res.RowsAffected, res.Error
}
