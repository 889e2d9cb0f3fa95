package repos

import (
	"gorm.io/gorm"

	"github.com/MusicMeister52/hunter2-sub000/internal/data/repos/hunt"
	"github.com/MusicMeister52/hunter2-sub000/internal/data/repos/progress"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/logger"
)

type EventRepo = hunt.EventRepo
type EpisodeRepo = hunt.EpisodeRepo
type PuzzleRepo = hunt.PuzzleRepo

type AnswerRepo = hunt.AnswerRepo
type UnlockRepo = hunt.UnlockRepo
type UnlockAnswerRepo = hunt.UnlockAnswerRepo
type HintRepo = hunt.HintRepo

type GuessRepo = hunt.GuessRepo
type CorrectnessUpdate = hunt.CorrectnessUpdate

type UserRepo = hunt.UserRepo
type TeamRepo = hunt.TeamRepo
type MembershipRepo = hunt.MembershipRepo

type AnnouncementRepo = hunt.AnnouncementRepo
type ReevaluationJobRepo = hunt.ReevaluationJobRepo

type ProgressStore = progress.Store
type SolvedByUpdate = progress.SolvedByUpdate

// Set is every repository the hunt core needs, built over one handle.
type Set struct {
	Events        EventRepo
	Episodes      EpisodeRepo
	Puzzles       PuzzleRepo
	Answers       AnswerRepo
	Unlocks       UnlockRepo
	UnlockAnswers UnlockAnswerRepo
	Hints         HintRepo
	Guesses       GuessRepo
	Users         UserRepo
	Teams         TeamRepo
	Memberships   MembershipRepo
	Announcements AnnouncementRepo
	Jobs          ReevaluationJobRepo
	Progress      ProgressStore
}

func NewSet(db *gorm.DB, baseLog *logger.Logger) *Set {
	return &Set{
		Events:        NewEventRepo(db, baseLog),
		Episodes:      NewEpisodeRepo(db, baseLog),
		Puzzles:       NewPuzzleRepo(db, baseLog),
		Answers:       NewAnswerRepo(db, baseLog),
		Unlocks:       NewUnlockRepo(db, baseLog),
		UnlockAnswers: NewUnlockAnswerRepo(db, baseLog),
		Hints:         NewHintRepo(db, baseLog),
		Guesses:       NewGuessRepo(db, baseLog),
		Users:         NewUserRepo(db, baseLog),
		Teams:         NewTeamRepo(db, baseLog),
		Memberships:   NewMembershipRepo(db, baseLog),
		Announcements: NewAnnouncementRepo(db, baseLog),
		Jobs:          NewReevaluationJobRepo(db, baseLog),
		Progress:      NewProgressStore(db, baseLog),
	}
}

func NewEventRepo(db *gorm.DB, baseLog *logger.Logger) EventRepo { return hunt.NewEventRepo(db, baseLog) }
func NewEpisodeRepo(db *gorm.DB, baseLog *logger.Logger) EpisodeRepo {
	return hunt.NewEpisodeRepo(db, baseLog)
}
func NewPuzzleRepo(db *gorm.DB, baseLog *logger.Logger) PuzzleRepo {
	return hunt.NewPuzzleRepo(db, baseLog)
}

func NewAnswerRepo(db *gorm.DB, baseLog *logger.Logger) AnswerRepo {
	return hunt.NewAnswerRepo(db, baseLog)
}
func NewUnlockRepo(db *gorm.DB, baseLog *logger.Logger) UnlockRepo {
	return hunt.NewUnlockRepo(db, baseLog)
}
func NewUnlockAnswerRepo(db *gorm.DB, baseLog *logger.Logger) UnlockAnswerRepo {
	return hunt.NewUnlockAnswerRepo(db, baseLog)
}
func NewHintRepo(db *gorm.DB, baseLog *logger.Logger) HintRepo { return hunt.NewHintRepo(db, baseLog) }

func NewGuessRepo(db *gorm.DB, baseLog *logger.Logger) GuessRepo {
	return hunt.NewGuessRepo(db, baseLog)
}

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo { return hunt.NewUserRepo(db, baseLog) }
func NewTeamRepo(db *gorm.DB, baseLog *logger.Logger) TeamRepo { return hunt.NewTeamRepo(db, baseLog) }
func NewMembershipRepo(db *gorm.DB, baseLog *logger.Logger) MembershipRepo {
	return hunt.NewMembershipRepo(db, baseLog)
}

func NewAnnouncementRepo(db *gorm.DB, baseLog *logger.Logger) AnnouncementRepo {
	return hunt.NewAnnouncementRepo(db, baseLog)
}
func NewReevaluationJobRepo(db *gorm.DB, baseLog *logger.Logger) ReevaluationJobRepo {
	return hunt.NewReevaluationJobRepo(db, baseLog)
}

func NewProgressStore(db *gorm.DB, baseLog *logger.Logger) ProgressStore {
	return progress.NewStore(db, baseLog)
}
