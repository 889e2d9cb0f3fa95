package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MusicMeister52/hunter2-sub000/internal/data/repos"
	"github.com/MusicMeister52/hunter2-sub000/internal/http/response"
	"github.com/MusicMeister52/hunter2-sub000/internal/realtime"
	"github.com/MusicMeister52/hunter2-sub000/internal/services"
)

type PuzzleHandler struct {
	repos   *repos.Set
	puzzles services.PuzzleService
	guesses services.GuessService
	// Clock is overridable in tests.
	Clock func() time.Time
}

func NewPuzzleHandler(rs *repos.Set, puzzles services.PuzzleService, guesses services.GuessService) *PuzzleHandler {
	return &PuzzleHandler{repos: rs, puzzles: puzzles, guesses: guesses, Clock: time.Now}
}

// GET /api/puzzles/:puzzle
func (h *PuzzleHandler) GetPuzzle(c *gin.Context) {
	puzzleID, ok := parseID(c, "puzzle")
	if !ok {
		return
	}
	scope, ok := requestScope(c, h.repos, h.Clock)
	if !ok {
		return
	}
	view, err := h.puzzles.View(c.Request.Context(), scope, puzzleID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, view)
}

type submitGuessRequest struct {
	Answer string `json:"answer"`
}

type submitGuessResponse struct {
	realtime.GuessContent
	Pending       bool       `json:"pending,omitempty"`
	TimeoutLength float64    `json:"timeout_length,omitempty"`
	TimeoutEnd    *time.Time `json:"timeout_end,omitempty"`
}

// POST /api/puzzles/:puzzle/guesses
func (h *PuzzleHandler) SubmitGuess(c *gin.Context) {
	puzzleID, ok := parseID(c, "puzzle")
	if !ok {
		return
	}
	var req submitGuessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	scope, ok := requestScope(c, h.repos, h.Clock)
	if !ok {
		return
	}
	res, err := h.guesses.Submit(c.Request.Context(), scope, puzzleID, req.Answer)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	out := submitGuessResponse{
		GuessContent:  realtime.GuessFor(res.Guess, scope.Username),
		Pending:       res.Pending,
		TimeoutLength: res.TimeoutLength.Seconds(),
		TimeoutEnd:    res.TimeoutEnd,
	}
	out.Correct = res.Correct
	response.RespondOK(c, out)
}

// POST /api/puzzles/:puzzle/hints/:hint/accept
func (h *PuzzleHandler) AcceptHint(c *gin.Context) {
	puzzleID, ok := parseID(c, "puzzle")
	if !ok {
		return
	}
	hintID, ok := parseID(c, "hint")
	if !ok {
		return
	}
	scope, ok := requestScope(c, h.repos, h.Clock)
	if !ok {
		return
	}
	view, err := h.puzzles.AcceptHint(c.Request.Context(), scope, puzzleID, hintID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"hint": view})
}
