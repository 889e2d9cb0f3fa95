package services

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/MusicMeister52/hunter2-sub000/internal/data/aggregates"
	"github.com/MusicMeister52/hunter2-sub000/internal/data/repos"
	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
	domainagg "github.com/MusicMeister52/hunter2-sub000/internal/domain/aggregates"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/dbctx"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/logger"
	"github.com/MusicMeister52/hunter2-sub000/internal/progress"
)

var adminValidate = validator.New()

func validateInput(op string, v any) error {
	if err := adminValidate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return invalid(op, "invalid "+f.Field()+": failed "+f.Tag())
		}
		return aggregates.MapError(op, aggregates.ValidationError(err.Error()))
	}
	return nil
}

type AnswerInput struct {
	Runtime types.ValidatorKind `json:"runtime" validate:"required,oneof=static regex script external"`
	Options datatypes.JSON      `json:"options"`
	Answer  string              `json:"answer" validate:"required,max=512"`
}

type UnlockInput struct {
	Text string `json:"text" validate:"required"`
}

type UnlockAnswerInput struct {
	// UnlockID may be omitted on update; a different value is rejected.
	UnlockID uuid.UUID           `json:"unlock_id"`
	Runtime  types.ValidatorKind `json:"runtime" validate:"required,oneof=static regex script external"`
	Options  datatypes.JSON      `json:"options"`
	Guess    string              `json:"guess" validate:"required,max=512"`
}

type HintInput struct {
	Text         string         `json:"text" validate:"required"`
	DelaySeconds int64          `json:"delay" validate:"gte=0"`
	StartAfterID *uuid.UUID     `json:"start_after_id"`
	Mode         types.HintMode `json:"mode" validate:"omitempty,oneof=auto accept"`
}

type AnnouncementInput struct {
	EventID  uuid.UUID      `json:"event_id" validate:"required"`
	PuzzleID *uuid.UUID     `json:"puzzle_id"`
	Title    string         `json:"title" validate:"required,max=255"`
	Message  string         `json:"message"`
	Severity types.Severity `json:"severity" validate:"omitempty,oneof=info success warning danger"`
}

type MembershipInput struct {
	EventID uuid.UUID `json:"event_id" validate:"required"`
	UserID  uuid.UUID `json:"user_id" validate:"required"`
	TeamID  uuid.UUID `json:"team_id" validate:"required"`
}

// ValidatorChecker rejects validators that cannot be compiled.
// *validator.Registry implements it.
type ValidatorChecker interface {
	CheckWellFormed(kind types.ValidatorKind, reference string, options datatypes.JSON) error
}

type AdminService interface {
	CreateAnswer(ctx context.Context, puzzleID uuid.UUID, in AnswerInput) (*types.Answer, *progress.Result, error)
	UpdateAnswer(ctx context.Context, id uuid.UUID, in AnswerInput) (*types.Answer, *progress.Result, error)
	DeleteAnswer(ctx context.Context, id uuid.UUID) (*progress.Result, error)

	CreateUnlock(ctx context.Context, puzzleID uuid.UUID, in UnlockInput) (*types.Unlock, error)
	UpdateUnlock(ctx context.Context, id uuid.UUID, in UnlockInput) (*types.Unlock, error)
	DeleteUnlock(ctx context.Context, id uuid.UUID) (*progress.Deltas, error)

	CreateUnlockAnswer(ctx context.Context, unlockID uuid.UUID, in UnlockAnswerInput) (*types.UnlockAnswer, *progress.Deltas, error)
	UpdateUnlockAnswer(ctx context.Context, id uuid.UUID, in UnlockAnswerInput) (*types.UnlockAnswer, *progress.Deltas, error)
	DeleteUnlockAnswer(ctx context.Context, id uuid.UUID) (*progress.Deltas, error)

	CreateHint(ctx context.Context, puzzleID uuid.UUID, in HintInput) (*types.Hint, error)
	UpdateHint(ctx context.Context, id uuid.UUID, in HintInput) (*types.Hint, error)
	DeleteHint(ctx context.Context, id uuid.UUID) error

	CreateAnnouncement(ctx context.Context, in AnnouncementInput) (*types.Announcement, error)
	UpdateAnnouncement(ctx context.Context, id uuid.UUID, in AnnouncementInput) (*types.Announcement, error)
	DeleteAnnouncement(ctx context.Context, id uuid.UUID) error

	// QueueReevaluation hands a full reevaluation of the puzzle to the worker.
	QueueReevaluation(ctx context.Context, puzzleID uuid.UUID) (*types.ReevaluationJob, error)
	// ResetProgress deletes the team's guesses, progress, grants and hint
	// acceptances for one puzzle, or the whole event when puzzleID is nil.
	ResetProgress(ctx context.Context, teamID uuid.UUID, puzzleID *uuid.UUID) (*progress.Deltas, error)
	// SetMembership moves a user to a team; their guesses follow them.
	SetMembership(ctx context.Context, in MembershipInput) (*progress.Result, error)
}

type adminService struct {
	db         *gorm.DB
	log        *logger.Logger
	repos      *repos.Set
	engine     *progress.Engine
	validators ValidatorChecker
	notify     HuntNotifier
	base       aggregates.BaseDeps
}

func NewAdminService(db *gorm.DB, baseLog *logger.Logger, rs *repos.Set, engine *progress.Engine, validators ValidatorChecker, notify HuntNotifier) AdminService {
	log := baseLog.With("service", "AdminService")
	return &adminService{
		db:         db,
		log:        log,
		repos:      rs,
		engine:     engine,
		validators: validators,
		notify:     notify,
		base:       aggregates.BaseDeps{DB: db, Log: log},
	}
}

func notFound(op, what string) error {
	return domainagg.NewError(domainagg.CodeNotFound, op, what+" not found", nil)
}

func invalid(op, msg string) error {
	return aggregates.MapError(op, aggregates.ValidationError(msg))
}

func (s *adminService) requirePuzzle(dbc dbctx.Context, op string, id uuid.UUID) (*types.Puzzle, error) {
	p, err := s.repos.Puzzles.GetByID(dbc, id)
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	if p == nil {
		return nil, notFound(op, "puzzle")
	}
	return p, nil
}

// publishResult logs per-team failures; they never fail the admin call.
func (s *adminService) publishResult(ctx context.Context, op string, res *progress.Result) {
	if res == nil {
		return
	}
	for _, f := range res.Failures {
		s.log.Error("reevaluation failed for team", "op", op, "puzzle_id", f.PuzzleID, "team_id", f.TeamID, "error", f.Err)
	}
	s.notify.PublishResult(ctx, res)
}

// ---------------------------------------------------------------------------
// Answers
// ---------------------------------------------------------------------------

func (s *adminService) CreateAnswer(ctx context.Context, puzzleID uuid.UUID, in AnswerInput) (*types.Answer, *progress.Result, error) {
	const op = "admin.create_answer"
	if err := validateInput(op, in); err != nil {
		return nil, nil, err
	}
	dbc := dbctx.Context{Ctx: ctx}
	if _, err := s.requirePuzzle(dbc, op, puzzleID); err != nil {
		return nil, nil, err
	}
	if err := s.validators.CheckWellFormed(in.Runtime, in.Answer, in.Options); err != nil {
		return nil, nil, err
	}
	a := &types.Answer{PuzzleID: puzzleID, Runtime: in.Runtime, Options: in.Options, Answer: in.Answer}
	if err := s.repos.Answers.Create(dbc, a); err != nil {
		return nil, nil, aggregates.MapError(op, err)
	}
	res, err := s.engine.OnAnswerChanged(ctx, puzzleID, a.ID)
	if err != nil {
		return a, nil, err
	}
	s.publishResult(ctx, op, res)
	return a, res, nil
}

func (s *adminService) UpdateAnswer(ctx context.Context, id uuid.UUID, in AnswerInput) (*types.Answer, *progress.Result, error) {
	const op = "admin.update_answer"
	if err := validateInput(op, in); err != nil {
		return nil, nil, err
	}
	dbc := dbctx.Context{Ctx: ctx}
	a, err := s.repos.Answers.GetByID(dbc, id)
	if err != nil {
		return nil, nil, aggregates.MapError(op, err)
	}
	if a == nil {
		return nil, nil, notFound(op, "answer")
	}
	if err := s.validators.CheckWellFormed(in.Runtime, in.Answer, in.Options); err != nil {
		return nil, nil, err
	}
	a.Runtime, a.Options, a.Answer = in.Runtime, in.Options, in.Answer
	if err := s.repos.Answers.Update(dbc, a); err != nil {
		return nil, nil, aggregates.MapError(op, err)
	}
	res, err := s.engine.OnAnswerChanged(ctx, a.PuzzleID, a.ID)
	if err != nil {
		return a, nil, err
	}
	s.publishResult(ctx, op, res)
	return a, res, nil
}

func (s *adminService) DeleteAnswer(ctx context.Context, id uuid.UUID) (*progress.Result, error) {
	const op = "admin.delete_answer"
	dbc := dbctx.Context{Ctx: ctx}
	a, err := s.repos.Answers.GetByID(dbc, id)
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	if a == nil {
		return nil, notFound(op, "answer")
	}
	if err := s.repos.Answers.Delete(dbc, id); err != nil {
		return nil, aggregates.MapError(op, err)
	}
	res, err := s.engine.OnAnswerDeleted(ctx, a.PuzzleID, a.ID)
	if err != nil {
		return nil, err
	}
	s.publishResult(ctx, op, res)
	return res, nil
}

// ---------------------------------------------------------------------------
// Unlocks
// ---------------------------------------------------------------------------

func (s *adminService) CreateUnlock(ctx context.Context, puzzleID uuid.UUID, in UnlockInput) (*types.Unlock, error) {
	const op = "admin.create_unlock"
	if err := validateInput(op, in); err != nil {
		return nil, err
	}
	dbc := dbctx.Context{Ctx: ctx}
	if _, err := s.requirePuzzle(dbc, op, puzzleID); err != nil {
		return nil, err
	}
	u := &types.Unlock{PuzzleID: puzzleID, Text: in.Text}
	if err := s.repos.Unlocks.Create(dbc, u); err != nil {
		return nil, aggregates.MapError(op, err)
	}
	return u, nil
}

func (s *adminService) UpdateUnlock(ctx context.Context, id uuid.UUID, in UnlockInput) (*types.Unlock, error) {
	const op = "admin.update_unlock"
	if err := validateInput(op, in); err != nil {
		return nil, err
	}
	dbc := dbctx.Context{Ctx: ctx}
	u, err := s.repos.Unlocks.GetByID(dbc, id)
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	if u == nil {
		return nil, notFound(op, "unlock")
	}
	if u.Text == in.Text {
		return u, nil
	}
	if err := s.repos.Unlocks.UpdateText(dbc, id, in.Text); err != nil {
		return nil, aggregates.MapError(op, err)
	}
	u.Text = in.Text
	d, err := s.engine.OnUnlockTextChanged(ctx, id)
	if err != nil {
		return u, err
	}
	s.notify.PublishDeltas(ctx, d)
	return u, nil
}

// DeleteUnlock revokes every grant before the rows go away so that teams are
// told which unlock guesses disappeared.
func (s *adminService) DeleteUnlock(ctx context.Context, id uuid.UUID) (*progress.Deltas, error) {
	const op = "admin.delete_unlock"
	dbc := dbctx.Context{Ctx: ctx}
	u, err := s.repos.Unlocks.GetByID(dbc, id)
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	if u == nil {
		return nil, notFound(op, "unlock")
	}
	uas, err := s.repos.UnlockAnswers.ListByUnlock(dbc, id)
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	d, err := s.engine.OnUnlockDeleted(ctx, u, uas)
	if err != nil {
		return nil, err
	}
	err = aggregates.Write(ctx, s.base, op, func(tx dbctx.Context) error {
		for _, ua := range uas {
			if err := s.repos.UnlockAnswers.Delete(tx, ua.ID); err != nil {
				return err
			}
		}
		return s.repos.Unlocks.Delete(tx, id)
	})
	if err != nil {
		return nil, err
	}
	s.notify.PublishDeltas(ctx, d)
	return d, nil
}

// ---------------------------------------------------------------------------
// Unlock answers
// ---------------------------------------------------------------------------

func (s *adminService) CreateUnlockAnswer(ctx context.Context, unlockID uuid.UUID, in UnlockAnswerInput) (*types.UnlockAnswer, *progress.Deltas, error) {
	const op = "admin.create_unlock_answer"
	if err := validateInput(op, in); err != nil {
		return nil, nil, err
	}
	dbc := dbctx.Context{Ctx: ctx}
	u, err := s.repos.Unlocks.GetByID(dbc, unlockID)
	if err != nil {
		return nil, nil, aggregates.MapError(op, err)
	}
	if u == nil {
		return nil, nil, notFound(op, "unlock")
	}
	if err := s.validators.CheckWellFormed(in.Runtime, in.Guess, in.Options); err != nil {
		return nil, nil, err
	}
	ua := &types.UnlockAnswer{UnlockID: unlockID, Runtime: in.Runtime, Options: in.Options, Guess: in.Guess}
	if err := s.repos.UnlockAnswers.Create(dbc, ua); err != nil {
		return nil, nil, aggregates.MapError(op, err)
	}
	d, err := s.engine.OnUnlockAnswerChanged(ctx, ua.ID)
	if err != nil {
		return ua, nil, err
	}
	s.notify.PublishDeltas(ctx, d)
	return ua, d, nil
}

func (s *adminService) UpdateUnlockAnswer(ctx context.Context, id uuid.UUID, in UnlockAnswerInput) (*types.UnlockAnswer, *progress.Deltas, error) {
	const op = "admin.update_unlock_answer"
	if err := validateInput(op, in); err != nil {
		return nil, nil, err
	}
	dbc := dbctx.Context{Ctx: ctx}
	ua, err := s.repos.UnlockAnswers.GetByID(dbc, id)
	if err != nil {
		return nil, nil, aggregates.MapError(op, err)
	}
	if ua == nil {
		return nil, nil, notFound(op, "unlock answer")
	}
	if in.UnlockID != uuid.Nil && in.UnlockID != ua.UnlockID {
		return nil, nil, aggregates.MapError(op, aggregates.ImmutableError("an unlock answer cannot move to another unlock"))
	}
	if err := s.validators.CheckWellFormed(in.Runtime, in.Guess, in.Options); err != nil {
		return nil, nil, err
	}
	ua.Runtime, ua.Options, ua.Guess = in.Runtime, in.Options, in.Guess
	if err := s.repos.UnlockAnswers.Update(dbc, ua); err != nil {
		return nil, nil, aggregates.MapError(op, err)
	}
	d, err := s.engine.OnUnlockAnswerChanged(ctx, ua.ID)
	if err != nil {
		return ua, nil, err
	}
	s.notify.PublishDeltas(ctx, d)
	return ua, d, nil
}

func (s *adminService) DeleteUnlockAnswer(ctx context.Context, id uuid.UUID) (*progress.Deltas, error) {
	const op = "admin.delete_unlock_answer"
	dbc := dbctx.Context{Ctx: ctx}
	ua, err := s.repos.UnlockAnswers.GetByID(dbc, id)
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	if ua == nil {
		return nil, notFound(op, "unlock answer")
	}
	d, err := s.engine.OnUnlockAnswerDeleted(ctx, ua)
	if err != nil {
		return nil, err
	}
	if err := s.repos.UnlockAnswers.Delete(dbc, id); err != nil {
		return nil, aggregates.MapError(op, err)
	}
	s.notify.PublishDeltas(ctx, d)
	return d, nil
}

// ---------------------------------------------------------------------------
// Hints
// ---------------------------------------------------------------------------

func (s *adminService) checkStartAfter(dbc dbctx.Context, op string, puzzleID uuid.UUID, startAfter *uuid.UUID) error {
	if startAfter == nil {
		return nil
	}
	u, err := s.repos.Unlocks.GetByID(dbc, *startAfter)
	if err != nil {
		return aggregates.MapError(op, err)
	}
	if u == nil || u.PuzzleID != puzzleID {
		return invalid(op, "start_after must be an unlock of the same puzzle")
	}
	return nil
}

func (s *adminService) CreateHint(ctx context.Context, puzzleID uuid.UUID, in HintInput) (*types.Hint, error) {
	const op = "admin.create_hint"
	if err := validateInput(op, in); err != nil {
		return nil, err
	}
	dbc := dbctx.Context{Ctx: ctx}
	if _, err := s.requirePuzzle(dbc, op, puzzleID); err != nil {
		return nil, err
	}
	if err := s.checkStartAfter(dbc, op, puzzleID, in.StartAfterID); err != nil {
		return nil, err
	}
	h := &types.Hint{
		PuzzleID:     puzzleID,
		Text:         in.Text,
		Delay:        time.Duration(in.DelaySeconds) * time.Second,
		StartAfterID: in.StartAfterID,
		Mode:         in.Mode,
	}
	h.Mode = h.EffectiveMode()
	if err := s.repos.Hints.Create(dbc, h); err != nil {
		return nil, aggregates.MapError(op, err)
	}
	s.notify.HintChanged(ctx, h)
	return h, nil
}

func (s *adminService) UpdateHint(ctx context.Context, id uuid.UUID, in HintInput) (*types.Hint, error) {
	const op = "admin.update_hint"
	if err := validateInput(op, in); err != nil {
		return nil, err
	}
	dbc := dbctx.Context{Ctx: ctx}
	h, err := s.repos.Hints.GetByID(dbc, id)
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	if h == nil {
		return nil, notFound(op, "hint")
	}
	if err := s.checkStartAfter(dbc, op, h.PuzzleID, in.StartAfterID); err != nil {
		return nil, err
	}
	h.Text = in.Text
	h.Delay = time.Duration(in.DelaySeconds) * time.Second
	h.StartAfterID = in.StartAfterID
	h.Mode = in.Mode
	h.Mode = h.EffectiveMode()
	if err := s.repos.Hints.Update(dbc, h); err != nil {
		return nil, aggregates.MapError(op, err)
	}
	s.notify.HintChanged(ctx, h)
	return h, nil
}

func (s *adminService) DeleteHint(ctx context.Context, id uuid.UUID) error {
	const op = "admin.delete_hint"
	dbc := dbctx.Context{Ctx: ctx}
	h, err := s.repos.Hints.GetByID(dbc, id)
	if err != nil {
		return aggregates.MapError(op, err)
	}
	if h == nil {
		return notFound(op, "hint")
	}
	err = aggregates.Write(ctx, s.base, op, func(tx dbctx.Context) error {
		if err := s.repos.Progress.DeleteAcceptancesForHint(tx, id); err != nil {
			return err
		}
		return s.repos.Hints.Delete(tx, id)
	})
	if err != nil {
		return err
	}
	s.notify.HintRemoved(ctx, h)
	return nil
}

// ---------------------------------------------------------------------------
// Announcements
// ---------------------------------------------------------------------------

func (s *adminService) announcementFields(dbc dbctx.Context, op string, a *types.Announcement, in AnnouncementInput) error {
	if in.PuzzleID != nil {
		p, err := s.requirePuzzle(dbc, op, *in.PuzzleID)
		if err != nil {
			return err
		}
		if p.EventID != in.EventID {
			return invalid(op, "puzzle belongs to another event")
		}
	}
	a.EventID = in.EventID
	a.PuzzleID = in.PuzzleID
	a.Title = in.Title
	a.Message = in.Message
	a.Severity = in.Severity
	if a.Severity == "" {
		a.Severity = types.SeverityInfo
	}
	return nil
}

func (s *adminService) CreateAnnouncement(ctx context.Context, in AnnouncementInput) (*types.Announcement, error) {
	const op = "admin.create_announcement"
	if err := validateInput(op, in); err != nil {
		return nil, err
	}
	dbc := dbctx.Context{Ctx: ctx}
	ev, err := s.repos.Events.GetByID(dbc, in.EventID)
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	if ev == nil {
		return nil, notFound(op, "event")
	}
	a := &types.Announcement{}
	if err := s.announcementFields(dbc, op, a, in); err != nil {
		return nil, err
	}
	if err := s.repos.Announcements.Create(dbc, a); err != nil {
		return nil, aggregates.MapError(op, err)
	}
	s.notify.AnnouncementSaved(ctx, a)
	return a, nil
}

func (s *adminService) UpdateAnnouncement(ctx context.Context, id uuid.UUID, in AnnouncementInput) (*types.Announcement, error) {
	const op = "admin.update_announcement"
	if err := validateInput(op, in); err != nil {
		return nil, err
	}
	dbc := dbctx.Context{Ctx: ctx}
	a, err := s.repos.Announcements.GetByID(dbc, id)
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	if a == nil {
		return nil, notFound(op, "announcement")
	}
	if in.EventID != a.EventID {
		return nil, aggregates.MapError(op, aggregates.ImmutableError("an announcement cannot move to another event"))
	}
	prev := *a
	if err := s.announcementFields(dbc, op, a, in); err != nil {
		return nil, err
	}
	if err := s.repos.Announcements.Update(dbc, a); err != nil {
		return nil, aggregates.MapError(op, err)
	}
	// Retargeted announcements disappear from their old group.
	if announcementGroup(&prev) != announcementGroup(a) {
		s.notify.AnnouncementDeleted(ctx, &prev)
	}
	s.notify.AnnouncementSaved(ctx, a)
	return a, nil
}

func (s *adminService) DeleteAnnouncement(ctx context.Context, id uuid.UUID) error {
	const op = "admin.delete_announcement"
	dbc := dbctx.Context{Ctx: ctx}
	a, err := s.repos.Announcements.GetByID(dbc, id)
	if err != nil {
		return aggregates.MapError(op, err)
	}
	if a == nil {
		return notFound(op, "announcement")
	}
	if err := s.repos.Announcements.Delete(dbc, id); err != nil {
		return aggregates.MapError(op, err)
	}
	s.notify.AnnouncementDeleted(ctx, a)
	return nil
}

// ---------------------------------------------------------------------------
// Teams
// ---------------------------------------------------------------------------

func (s *adminService) QueueReevaluation(ctx context.Context, puzzleID uuid.UUID) (*types.ReevaluationJob, error) {
	const op = "admin.queue_reevaluation"
	dbc := dbctx.Context{Ctx: ctx}
	if _, err := s.requirePuzzle(dbc, op, puzzleID); err != nil {
		return nil, err
	}
	job, err := s.repos.Jobs.Enqueue(dbc, puzzleID, time.Now().UTC())
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	s.log.Info("reevaluation queued", "puzzle_id", puzzleID, "job_id", job.ID)
	return job, nil
}

func (s *adminService) ResetProgress(ctx context.Context, teamID uuid.UUID, puzzleID *uuid.UUID) (*progress.Deltas, error) {
	const op = "admin.reset_progress"
	dbc := dbctx.Context{Ctx: ctx}
	team, err := s.repos.Teams.GetByID(dbc, teamID)
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	if team == nil {
		return nil, notFound(op, "team")
	}

	var rows []*types.TeamPuzzleProgress
	if puzzleID != nil {
		row, err := s.repos.Progress.Get(dbc, teamID, *puzzleID)
		if err != nil {
			return nil, aggregates.MapError(op, err)
		}
		if row != nil {
			rows = append(rows, row)
		}
	} else if rows, err = s.repos.Progress.ListByTeam(dbc, teamID); err != nil {
		return nil, aggregates.MapError(op, err)
	}

	// Everything the team's sessions currently show has to be taken back.
	d := &progress.Deltas{}
	if puzzleID != nil {
		d.PuzzleID = *puzzleID
	}
	for _, row := range rows {
		grants, err := s.repos.Progress.GrantsFor(dbc, row.ID)
		if err != nil {
			return nil, aggregates.MapError(op, err)
		}
		d.Revoked = append(d.Revoked, grants...)
		if row.SolvedByID != nil {
			d.Solved = append(d.Solved, progress.SolveTransition{TeamID: teamID, PuzzleID: row.PuzzleID, Solved: false})
		}
		hs, err := s.repos.Hints.ListByPuzzle(dbc, row.PuzzleID)
		if err != nil {
			return nil, aggregates.MapError(op, err)
		}
		for _, h := range hs {
			d.Hints = append(d.Hints, progress.HintReschedule{TeamID: teamID, PuzzleID: row.PuzzleID, HintID: h.ID})
		}
	}

	var deleted int64
	err = aggregates.Write(ctx, s.base, op, func(tx dbctx.Context) error {
		n, err := s.repos.Guesses.DeleteForTeam(tx, teamID, puzzleID)
		if err != nil {
			return err
		}
		deleted = n
		return s.repos.Progress.DeleteForTeam(tx, teamID, puzzleID)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("team progress reset", "team_id", teamID, "puzzle_id", puzzleID, "rows", len(rows), "guesses", deleted)
	s.notify.PublishDeltas(ctx, d)
	return d, nil
}

func (s *adminService) SetMembership(ctx context.Context, in MembershipInput) (*progress.Result, error) {
	const op = "admin.set_membership"
	if err := validateInput(op, in); err != nil {
		return nil, err
	}
	dbc := dbctx.Context{Ctx: ctx}
	team, err := s.repos.Teams.GetByID(dbc, in.TeamID)
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	if team == nil {
		return nil, notFound(op, "team")
	}
	if team.EventID != in.EventID {
		return nil, invalid(op, "team belongs to another event")
	}

	var moved []uuid.UUID
	err = aggregates.Write(ctx, s.base, op, func(tx dbctx.Context) error {
		prev, err := s.repos.Memberships.Set(tx, in.EventID, in.UserID, in.TeamID)
		if err != nil {
			return err
		}
		if prev == nil || *prev == in.TeamID {
			return nil
		}
		moved, err = s.repos.Guesses.Redenormalize(tx, in.EventID, in.UserID, in.TeamID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(moved) == 0 {
		return &progress.Result{}, nil
	}
	res, err := s.engine.OnGuessesMoved(ctx, in.TeamID, moved)
	if err != nil {
		return nil, err
	}
	s.publishResult(ctx, op, res)
	return res, nil
}
