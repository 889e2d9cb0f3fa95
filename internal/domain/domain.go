package domain

import (
	"github.com/MusicMeister52/hunter2-sub000/internal/domain/hunt"
)

type Event = hunt.Event
type Episode = hunt.Episode
type Puzzle = hunt.Puzzle
type Answer = hunt.Answer
type Unlock = hunt.Unlock
type UnlockAnswer = hunt.UnlockAnswer
type Hint = hunt.Hint
type HintMode = hunt.HintMode
type Guess = hunt.Guess
type TeamPuzzleProgress = hunt.TeamPuzzleProgress
type TeamUnlock = hunt.TeamUnlock
type HintAcceptance = hunt.HintAcceptance
type Grant = hunt.Grant
type User = hunt.User
type Team = hunt.Team
type TeamMembership = hunt.TeamMembership
type Announcement = hunt.Announcement
type Severity = hunt.Severity
type ReevaluationJob = hunt.ReevaluationJob
type ValidatorKind = hunt.ValidatorKind

const (
	ValidatorStatic   = hunt.ValidatorStatic
	ValidatorRegex    = hunt.ValidatorRegex
	ValidatorScript   = hunt.ValidatorScript
	ValidatorExternal = hunt.ValidatorExternal

	HintModeAuto   = hunt.HintModeAuto
	HintModeAccept = hunt.HintModeAccept

	SeverityInfo    = hunt.SeverityInfo
	SeveritySuccess = hunt.SeveritySuccess
	SeverityWarning = hunt.SeverityWarning
	SeverityDanger  = hunt.SeverityDanger

	JobStatusQueued    = hunt.JobStatusQueued
	JobStatusRunning   = hunt.JobStatusRunning
	JobStatusSucceeded = hunt.JobStatusSucceeded
	JobStatusFailed    = hunt.JobStatusFailed
)

var (
	CompactID      = hunt.CompactID
	ParseCompactID = hunt.ParseCompactID
	NextPuzzle     = hunt.NextPuzzle
)

// Models lists every persisted type in migration order.
func Models() []any {
	return []any{
		&hunt.Event{},
		&hunt.Episode{},
		&hunt.Puzzle{},
		&hunt.Answer{},
		&hunt.Unlock{},
		&hunt.UnlockAnswer{},
		&hunt.Hint{},
		&hunt.User{},
		&hunt.Team{},
		&hunt.TeamMembership{},
		&hunt.Guess{},
		&hunt.TeamPuzzleProgress{},
		&hunt.TeamUnlock{},
		&hunt.HintAcceptance{},
		&hunt.Announcement{},
		&hunt.ReevaluationJob{},
	}
}
