package progress

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MusicMeister52/hunter2-sub000/internal/data/aggregates"
	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/dbctx"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/logger"
)

const progressTable = "team_puzzle_progress"

// SolvedByUpdate is one compare-and-set of a progress row's solved_by.
type SolvedByUpdate struct {
	ProgressID      uuid.UUID
	TeamID          uuid.UUID
	ExpectedVersion int
	SolvedByID      *uuid.UUID
}

// Store is the durable per-(team, puzzle) state.
type Store interface {
	// GetOrCreate returns the team's row, creating it with startTime when
	// absent. start_time is written at most once.
	GetOrCreate(dbc dbctx.Context, teamID, puzzleID uuid.UUID, startTime time.Time) (*types.TeamPuzzleProgress, error)
	Get(dbc dbctx.Context, teamID, puzzleID uuid.UUID) (*types.TeamPuzzleProgress, error)
	ListByPuzzle(dbc dbctx.Context, puzzleID uuid.UUID) ([]*types.TeamPuzzleProgress, error)
	ListByTeam(dbc dbctx.Context, teamID uuid.UUID) ([]*types.TeamPuzzleProgress, error)
	// SolvedPuzzles reports which of puzzleIDs the team has solved.
	SolvedPuzzles(dbc dbctx.Context, teamID uuid.UUID, puzzleIDs []uuid.UUID) (map[uuid.UUID]bool, error)

	// BatchUpdateSolvedBy applies every update under a version check and
	// returns the ones that lost the race. Each applied row's version is bumped.
	BatchUpdateSolvedBy(dbc dbctx.Context, updates []SolvedByUpdate) ([]SolvedByUpdate, error)

	// RecordUnlock inserts the grant unless it exists and reports whether it
	// was inserted.
	RecordUnlock(dbc dbctx.Context, progressID, unlockAnswerID, guessID uuid.UUID) (bool, error)
	UnlocksForUnlockAnswer(dbc dbctx.Context, unlockAnswerID uuid.UUID) ([]*types.TeamUnlock, error)
	// RevokeUnlock deletes every grant of the UnlockAnswer and returns them.
	RevokeUnlock(dbc dbctx.Context, unlockAnswerID uuid.UUID) ([]*types.TeamUnlock, error)
	// RevokeUnlocksFor deletes every grant made by the guess and returns them.
	RevokeUnlocksFor(dbc dbctx.Context, guessID uuid.UUID) ([]*types.TeamUnlock, error)
	DeleteUnlocks(dbc dbctx.Context, ids []uuid.UUID) error
	// GrantsFor returns the row's grants joined with unlock and guess data, in
	// guess submission order.
	GrantsFor(dbc dbctx.Context, progressID uuid.UUID) ([]*types.Grant, error)
	// GrantsByUnlockAnswer resolves grants of one UnlockAnswer across teams.
	GrantsByUnlockAnswer(dbc dbctx.Context, unlockAnswerID uuid.UUID) ([]*types.Grant, error)
	// GrantsByUnlock resolves grants of every UnlockAnswer of the unlock.
	GrantsByUnlock(dbc dbctx.Context, unlockID uuid.UUID) ([]*types.Grant, error)

	// RecordHintAcceptance stores the acceptance once; a repeat returns the
	// original row and false.
	RecordHintAcceptance(dbc dbctx.Context, progressID, hintID uuid.UUID, at time.Time) (*types.HintAcceptance, bool, error)
	AcceptancesFor(dbc dbctx.Context, progressID uuid.UUID) ([]*types.HintAcceptance, error)
	DeleteAcceptancesForHint(dbc dbctx.Context, hintID uuid.UUID) error

	// DeleteForTeam removes the team's rows with their grants and acceptances,
	// for one puzzle or (puzzleID nil) the whole event.
	DeleteForTeam(dbc dbctx.Context, teamID uuid.UUID, puzzleID *uuid.UUID) error
}

type store struct {
	db  *gorm.DB
	log *logger.Logger
	cas aggregates.CASGuard
}

func NewStore(db *gorm.DB, baseLog *logger.Logger) Store {
	return &store{
		db:  db,
		log: baseLog.With("repo", "ProgressStore"),
		cas: aggregates.NewCASGuard(db),
	}
}

func (s *store) GetOrCreate(dbc dbctx.Context, teamID, puzzleID uuid.UUID, startTime time.Time) (*types.TeamPuzzleProgress, error) {
	conn := dbc.Conn(s.db)
	start := startTime.UTC()
	existing, err := s.Get(dbc, teamID, puzzleID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.StartTime == nil {
			res := conn.Model(&types.TeamPuzzleProgress{}).
				Where("id = ? AND start_time IS NULL", existing.ID).
				Updates(map[string]any{"start_time": start, "updated_at": time.Now().UTC()})
			if res.Error != nil {
				return nil, res.Error
			}
			return s.Get(dbc, teamID, puzzleID)
		}
		return existing, nil
	}
	now := time.Now().UTC()
	row := &types.TeamPuzzleProgress{
		ID:        uuid.New(),
		TeamID:    teamID,
		PuzzleID:  puzzleID,
		StartTime: &start,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := conn.Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error; err != nil {
		return nil, err
	}
	// A concurrent creator may have won; the stored row is authoritative.
	return s.Get(dbc, teamID, puzzleID)
}

func (s *store) Get(dbc dbctx.Context, teamID, puzzleID uuid.UUID) (*types.TeamPuzzleProgress, error) {
	var row types.TeamPuzzleProgress
	err := dbc.Conn(s.db).
		Where("team_id = ? AND puzzle_id = ?", teamID, puzzleID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *store) ListByPuzzle(dbc dbctx.Context, puzzleID uuid.UUID) ([]*types.TeamPuzzleProgress, error) {
	var out []*types.TeamPuzzleProgress
	if err := dbc.Conn(s.db).
		Where("puzzle_id = ?", puzzleID).
		Order("team_id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *store) ListByTeam(dbc dbctx.Context, teamID uuid.UUID) ([]*types.TeamPuzzleProgress, error) {
	var out []*types.TeamPuzzleProgress
	if err := dbc.Conn(s.db).
		Where("team_id = ?", teamID).
		Order("puzzle_id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *store) SolvedPuzzles(dbc dbctx.Context, teamID uuid.UUID, puzzleIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := map[uuid.UUID]bool{}
	if len(puzzleIDs) == 0 {
		return out, nil
	}
	var ids []uuid.UUID
	if err := dbc.Conn(s.db).Model(&types.TeamPuzzleProgress{}).
		Where("team_id = ? AND puzzle_id IN ? AND solved_by_id IS NOT NULL", teamID, puzzleIDs).
		Pluck("puzzle_id", &ids).Error; err != nil {
		return nil, err
	}
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func (s *store) BatchUpdateSolvedBy(dbc dbctx.Context, updates []SolvedByUpdate) ([]SolvedByUpdate, error) {
	var conflicted []SolvedByUpdate
	now := time.Now().UTC()
	for _, u := range updates {
		var solvedBy any
		if u.SolvedByID != nil {
			solvedBy = *u.SolvedByID
		}
		ok, err := s.cas.UpdateByVersion(dbc, progressTable, u.ProgressID, u.ExpectedVersion, map[string]any{
			"solved_by_id": solvedBy,
			"updated_at":   now,
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			conflicted = append(conflicted, u)
		}
	}
	return conflicted, nil
}

func (s *store) RecordUnlock(dbc dbctx.Context, progressID, unlockAnswerID, guessID uuid.UUID) (bool, error) {
	row := &types.TeamUnlock{
		ID:             uuid.New(),
		ProgressID:     progressID,
		UnlockAnswerID: unlockAnswerID,
		UnlockedByID:   guessID,
		CreatedAt:      time.Now().UTC(),
	}
	res := dbc.Conn(s.db).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *store) UnlocksForUnlockAnswer(dbc dbctx.Context, unlockAnswerID uuid.UUID) ([]*types.TeamUnlock, error) {
	var out []*types.TeamUnlock
	if err := dbc.Conn(s.db).
		Where("unlock_answer_id = ?", unlockAnswerID).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *store) revokeWhere(dbc dbctx.Context, query string, arg any) ([]*types.TeamUnlock, error) {
	conn := dbc.Conn(s.db)
	var rows []*types.TeamUnlock
	if err := conn.Where(query, arg).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return rows, nil
	}
	if err := conn.Where(query, arg).Delete(&types.TeamUnlock{}).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *store) RevokeUnlock(dbc dbctx.Context, unlockAnswerID uuid.UUID) ([]*types.TeamUnlock, error) {
	return s.revokeWhere(dbc, "unlock_answer_id = ?", unlockAnswerID)
}

func (s *store) RevokeUnlocksFor(dbc dbctx.Context, guessID uuid.UUID) ([]*types.TeamUnlock, error) {
	return s.revokeWhere(dbc, "unlocked_by_id = ?", guessID)
}

func (s *store) DeleteUnlocks(dbc dbctx.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return dbc.Conn(s.db).Where("id IN ?", ids).Delete(&types.TeamUnlock{}).Error
}

const grantSelect = `
SELECT tu.progress_id, p.team_id, p.puzzle_id, ua.unlock_id, u.text AS unlock_text,
       tu.unlock_answer_id, tu.unlocked_by_id AS guess_id, g.guess AS guess_text, g.given
FROM team_unlock tu
JOIN team_puzzle_progress p ON p.id = tu.progress_id
JOIN unlock_answer ua ON ua.id = tu.unlock_answer_id
JOIN "unlock" u ON u.id = ua.unlock_id
JOIN guess g ON g.id = tu.unlocked_by_id
`

const grantOrder = ` ORDER BY g.given ASC, g.seq ASC, g.id ASC, tu.unlock_answer_id ASC`

func (s *store) grants(dbc dbctx.Context, where string, arg any) ([]*types.Grant, error) {
	var out []*types.Grant
	if err := dbc.Conn(s.db).Raw(grantSelect+"WHERE "+where+grantOrder, arg).Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *store) GrantsFor(dbc dbctx.Context, progressID uuid.UUID) ([]*types.Grant, error) {
	return s.grants(dbc, "tu.progress_id = ?", progressID)
}

func (s *store) GrantsByUnlockAnswer(dbc dbctx.Context, unlockAnswerID uuid.UUID) ([]*types.Grant, error) {
	return s.grants(dbc, "tu.unlock_answer_id = ?", unlockAnswerID)
}

func (s *store) GrantsByUnlock(dbc dbctx.Context, unlockID uuid.UUID) ([]*types.Grant, error) {
	return s.grants(dbc, "ua.unlock_id = ?", unlockID)
}

func (s *store) RecordHintAcceptance(dbc dbctx.Context, progressID, hintID uuid.UUID, at time.Time) (*types.HintAcceptance, bool, error) {
	conn := dbc.Conn(s.db)
	row := &types.HintAcceptance{
		ID:         uuid.New(),
		ProgressID: progressID,
		HintID:     hintID,
		AcceptedAt: at.UTC(),
	}
	res := conn.Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return row, true, nil
	}
	var existing types.HintAcceptance
	if err := conn.Where("progress_id = ? AND hint_id = ?", progressID, hintID).First(&existing).Error; err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

func (s *store) AcceptancesFor(dbc dbctx.Context, progressID uuid.UUID) ([]*types.HintAcceptance, error) {
	var out []*types.HintAcceptance
	if err := dbc.Conn(s.db).
		Where("progress_id = ?", progressID).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *store) DeleteAcceptancesForHint(dbc dbctx.Context, hintID uuid.UUID) error {
	return dbc.Conn(s.db).Where("hint_id = ?", hintID).Delete(&types.HintAcceptance{}).Error
}

func (s *store) DeleteForTeam(dbc dbctx.Context, teamID uuid.UUID, puzzleID *uuid.UUID) error {
	conn := dbc.Conn(s.db)
	rows := func() *gorm.DB {
		q := conn.Model(&types.TeamPuzzleProgress{}).Select("id").Where("team_id = ?", teamID)
		if puzzleID != nil {
			q = q.Where("puzzle_id = ?", *puzzleID)
		}
		return q
	}
	if err := conn.Where("progress_id IN (?)", rows()).Delete(&types.TeamUnlock{}).Error; err != nil {
		return err
	}
	if err := conn.Where("progress_id IN (?)", rows()).Delete(&types.HintAcceptance{}).Error; err != nil {
		return err
	}
	q := conn.Where("team_id = ?", teamID)
	if puzzleID != nil {
		q = q.Where("puzzle_id = ?", *puzzleID)
	}
	return q.Delete(&types.TeamPuzzleProgress{}).Error
}
