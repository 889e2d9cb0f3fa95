package realtime

import (
	"fmt"

	"github.com/google/uuid"
)

// EventGroup receives announcements that are not tied to a puzzle.
func EventGroup(eventID uuid.UUID) string {
	return fmt.Sprintf("event-%s.announcements", eventID)
}

// PuzzleGroup receives announcements for everyone viewing the puzzle.
func PuzzleGroup(eventID, puzzleID uuid.UUID) string {
	return fmt.Sprintf("event-%s.puzzle-%s.announcements", eventID, puzzleID)
}

// TeamPuzzleGroup receives the team's guesses, unlocks and hints.
func TeamPuzzleGroup(eventID, puzzleID, teamID uuid.UUID) string {
	return fmt.Sprintf("event-%s.puzzle-%s.events.team-%s", eventID, puzzleID, teamID)
}
