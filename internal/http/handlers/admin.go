package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/MusicMeister52/hunter2-sub000/internal/http/response"
	"github.com/MusicMeister52/hunter2-sub000/internal/progress"
	"github.com/MusicMeister52/hunter2-sub000/internal/services"
)

// AdminHandler exposes hunt editing. Every edit that can change a team's
// state reports what it changed.
type AdminHandler struct {
	admin services.AdminService
}

func NewAdminHandler(admin services.AdminService) *AdminHandler {
	return &AdminHandler{admin: admin}
}

func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return false
	}
	return true
}

type changeSummary struct {
	Teams    int `json:"teams,omitempty"`
	Updated  int `json:"updated,omitempty"`
	Solved   int `json:"solved"`
	Unsolved int `json:"unsolved"`
	Granted  int `json:"granted"`
	Revoked  int `json:"revoked"`
	Failures int `json:"failures,omitempty"`
}

func summarize(d *progress.Deltas) changeSummary {
	var s changeSummary
	if d == nil {
		return s
	}
	for _, tr := range d.Solved {
		if tr.Solved {
			s.Solved++
		} else {
			s.Unsolved++
		}
	}
	s.Granted = len(d.Granted)
	s.Revoked = len(d.Revoked)
	return s
}

func summarizeResult(r *progress.Result) changeSummary {
	if r == nil {
		return changeSummary{}
	}
	s := summarize(&r.Deltas)
	s.Teams = r.Teams
	s.Updated = r.Updated
	s.Failures = len(r.Failures)
	return s
}

// POST /api/admin/puzzles/:puzzle/answers
func (h *AdminHandler) CreateAnswer(c *gin.Context) {
	puzzleID, ok := parseID(c, "puzzle")
	if !ok {
		return
	}
	var in services.AnswerInput
	if !bind(c, &in) {
		return
	}
	a, res, err := h.admin.CreateAnswer(c.Request.Context(), puzzleID, in)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"answer": a, "changes": summarizeResult(res)})
}

// PUT /api/admin/answers/:id
func (h *AdminHandler) UpdateAnswer(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var in services.AnswerInput
	if !bind(c, &in) {
		return
	}
	a, res, err := h.admin.UpdateAnswer(c.Request.Context(), id, in)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"answer": a, "changes": summarizeResult(res)})
}

// DELETE /api/admin/answers/:id
func (h *AdminHandler) DeleteAnswer(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	res, err := h.admin.DeleteAnswer(c.Request.Context(), id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"changes": summarizeResult(res)})
}

// POST /api/admin/puzzles/:puzzle/unlocks
func (h *AdminHandler) CreateUnlock(c *gin.Context) {
	puzzleID, ok := parseID(c, "puzzle")
	if !ok {
		return
	}
	var in services.UnlockInput
	if !bind(c, &in) {
		return
	}
	u, err := h.admin.CreateUnlock(c.Request.Context(), puzzleID, in)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"unlock": u})
}

// PUT /api/admin/unlocks/:id
func (h *AdminHandler) UpdateUnlock(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var in services.UnlockInput
	if !bind(c, &in) {
		return
	}
	u, err := h.admin.UpdateUnlock(c.Request.Context(), id, in)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"unlock": u})
}

// DELETE /api/admin/unlocks/:id
func (h *AdminHandler) DeleteUnlock(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	d, err := h.admin.DeleteUnlock(c.Request.Context(), id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"changes": summarize(d)})
}

// POST /api/admin/unlocks/:id/answers
func (h *AdminHandler) CreateUnlockAnswer(c *gin.Context) {
	unlockID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var in services.UnlockAnswerInput
	if !bind(c, &in) {
		return
	}
	ua, d, err := h.admin.CreateUnlockAnswer(c.Request.Context(), unlockID, in)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"unlock_answer": ua, "changes": summarize(d)})
}

// PUT /api/admin/unlock-answers/:id
func (h *AdminHandler) UpdateUnlockAnswer(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var in services.UnlockAnswerInput
	if !bind(c, &in) {
		return
	}
	ua, d, err := h.admin.UpdateUnlockAnswer(c.Request.Context(), id, in)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"unlock_answer": ua, "changes": summarize(d)})
}

// DELETE /api/admin/unlock-answers/:id
func (h *AdminHandler) DeleteUnlockAnswer(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	d, err := h.admin.DeleteUnlockAnswer(c.Request.Context(), id)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"changes": summarize(d)})
}

// POST /api/admin/puzzles/:puzzle/hints
func (h *AdminHandler) CreateHint(c *gin.Context) {
	puzzleID, ok := parseID(c, "puzzle")
	if !ok {
		return
	}
	var in services.HintInput
	if !bind(c, &in) {
		return
	}
	hint, err := h.admin.CreateHint(c.Request.Context(), puzzleID, in)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"hint": hint})
}

// PUT /api/admin/hints/:id
func (h *AdminHandler) UpdateHint(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var in services.HintInput
	if !bind(c, &in) {
		return
	}
	hint, err := h.admin.UpdateHint(c.Request.Context(), id, in)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"hint": hint})
}

// DELETE /api/admin/hints/:id
func (h *AdminHandler) DeleteHint(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.admin.DeleteHint(c.Request.Context(), id); err != nil {
		response.RespondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /api/admin/announcements
func (h *AdminHandler) CreateAnnouncement(c *gin.Context) {
	var in services.AnnouncementInput
	if !bind(c, &in) {
		return
	}
	a, err := h.admin.CreateAnnouncement(c.Request.Context(), in)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"announcement": a})
}

// PUT /api/admin/announcements/:id
func (h *AdminHandler) UpdateAnnouncement(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var in services.AnnouncementInput
	if !bind(c, &in) {
		return
	}
	a, err := h.admin.UpdateAnnouncement(c.Request.Context(), id, in)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"announcement": a})
}

// DELETE /api/admin/announcements/:id
func (h *AdminHandler) DeleteAnnouncement(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.admin.DeleteAnnouncement(c.Request.Context(), id); err != nil {
		response.RespondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /api/admin/puzzles/:puzzle/reevaluate
func (h *AdminHandler) QueueReevaluation(c *gin.Context) {
	puzzleID, ok := parseID(c, "puzzle")
	if !ok {
		return
	}
	job, err := h.admin.QueueReevaluation(c.Request.Context(), puzzleID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

type resetRequest struct {
	PuzzleID *uuid.UUID `json:"puzzle_id"`
}

// POST /api/admin/teams/:team/reset
func (h *AdminHandler) ResetProgress(c *gin.Context) {
	teamID, ok := parseID(c, "team")
	if !ok {
		return
	}
	var req resetRequest
	// An empty body resets the whole event.
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}
	d, err := h.admin.ResetProgress(c.Request.Context(), teamID, req.PuzzleID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"changes": summarize(d)})
}

// PUT /api/admin/memberships
func (h *AdminHandler) SetMembership(c *gin.Context) {
	var in services.MembershipInput
	if !bind(c, &in) {
		return
	}
	res, err := h.admin.SetMembership(c.Request.Context(), in)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"changes": summarizeResult(res)})
}
