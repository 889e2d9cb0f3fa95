package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/MusicMeister52/hunter2-sub000/internal/data/repos"
	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/dbctx"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/logger"
	"github.com/MusicMeister52/hunter2-sub000/internal/progress"
	"github.com/MusicMeister52/hunter2-sub000/internal/realtime"
)

// Solved redirect texts.
const (
	RedirectNextPuzzle = "to the next puzzle"
	redirectBackTo     = "back to "
	redirectHunt       = "back to the hunt"
)

func PuzzlePath(p *types.Puzzle) string    { return "/puzzles/" + types.CompactID(p.ID) }
func EpisodePath(ep *types.Episode) string { return "/episodes/" + types.CompactID(ep.ID) }

// HuntNotifier turns engine output and admin edits into realtime messages.
// Publishing never fails the caller; problems are logged.
type HuntNotifier interface {
	PublishDeltas(ctx context.Context, d *progress.Deltas)
	PublishResult(ctx context.Context, r *progress.Result)
	AnnouncementSaved(ctx context.Context, a *types.Announcement)
	AnnouncementDeleted(ctx context.Context, a *types.Announcement)
	// HintChanged asks every team session on the puzzle to recompute the hint.
	HintChanged(ctx context.Context, h *types.Hint)
	HintRemoved(ctx context.Context, h *types.Hint)
}

type huntNotifier struct {
	log   *logger.Logger
	emit  Emitter
	repos *repos.Set
}

func NewHuntNotifier(baseLog *logger.Logger, emit Emitter, rs *repos.Set) HuntNotifier {
	return &huntNotifier{log: baseLog.With("service", "HuntNotifier"), emit: emit, repos: rs}
}

// puzzleMemo resolves each puzzle at most once per publish.
type puzzleMemo struct {
	n     *huntNotifier
	dbc   dbctx.Context
	cache map[uuid.UUID]*types.Puzzle
}

func (m *puzzleMemo) get(id uuid.UUID) *types.Puzzle {
	if p, ok := m.cache[id]; ok {
		return p
	}
	p, err := m.n.repos.Puzzles.GetByID(m.dbc, id)
	if err != nil {
		m.n.log.Warn("publish: load puzzle failed", "puzzle_id", id, "error", err)
	}
	m.cache[id] = p
	return p
}

func (n *huntNotifier) send(ctx context.Context, group string, typ realtime.MessageType, content any) {
	msg, err := realtime.NewMessage(group, typ, content)
	if err != nil {
		n.log.Error("build message failed", "type", typ, "error", err)
		return
	}
	n.emit.Emit(ctx, msg)
}

func (n *huntNotifier) PublishResult(ctx context.Context, r *progress.Result) {
	if r == nil {
		return
	}
	n.PublishDeltas(ctx, &r.Deltas)
}

func (n *huntNotifier) PublishDeltas(ctx context.Context, d *progress.Deltas) {
	if n == nil || n.emit == nil || d.Empty() {
		return
	}
	dbc := dbctx.Context{Ctx: ctx}
	memo := &puzzleMemo{n: n, dbc: dbc, cache: map[uuid.UUID]*types.Puzzle{}}
	group := func(puzzleID, teamID uuid.UUID) (string, bool) {
		p := memo.get(puzzleID)
		if p == nil {
			return "", false
		}
		return realtime.TeamPuzzleGroup(p.EventID, p.ID, teamID), true
	}

	if g := d.Guess; g != nil {
		if grp, ok := group(g.ForPuzzleID, g.ByTeamID); ok {
			names, err := n.repos.Users.UsernamesByIDs(dbc, []uuid.UUID{g.ByID})
			if err != nil {
				n.log.Warn("publish: username lookup failed", "user_id", g.ByID, "error", err)
			}
			n.send(ctx, grp, realtime.TypeNewGuesses, []realtime.GuessContent{realtime.GuessFor(g, names[g.ByID])})
		}
	}

	for _, grant := range d.Revoked {
		if grp, ok := group(grant.PuzzleID, grant.TeamID); ok {
			n.send(ctx, grp, realtime.TypeDeleteUnlockGuess, realtime.DeleteUnlockGuessFor(grant))
		}
	}
	for _, grant := range d.Granted {
		if grp, ok := group(grant.PuzzleID, grant.TeamID); ok {
			n.send(ctx, grp, realtime.TypeNewUnlock, realtime.UnlockFor(grant))
		}
	}
	for _, ch := range d.UnlockChanges {
		if grp, ok := group(ch.PuzzleID, ch.TeamID); ok {
			n.send(ctx, grp, realtime.TypeChangeUnlock, realtime.ChangeUnlockFor(ch.Unlock))
		}
	}

	for _, tr := range d.Solved {
		grp, ok := group(tr.PuzzleID, tr.TeamID)
		if !ok {
			continue
		}
		if !tr.Solved {
			n.send(ctx, grp, realtime.TypeUnsolved, nil)
			continue
		}
		n.send(ctx, grp, realtime.TypeSolved, n.solvedContent(dbc, memo.get(tr.PuzzleID), tr))
	}

	for _, h := range d.Hints {
		if grp, ok := group(h.PuzzleID, h.TeamID); ok {
			n.send(ctx, grp, realtime.TypeScheduleHint, realtime.HintControl{HintID: h.HintID, SendExpired: true})
		}
	}
}

func (n *huntNotifier) solvedContent(dbc dbctx.Context, p *types.Puzzle, tr progress.SolveTransition) realtime.SolvedContent {
	out := realtime.SolvedContent{}
	if g := tr.Guess; g != nil {
		out.Guess = g.Guess
		if tr.StartTime != nil {
			out.Time = g.Given.Sub(*tr.StartTime).Seconds()
		}
		names, err := n.repos.Users.UsernamesByIDs(dbc, []uuid.UUID{g.ByID})
		if err != nil {
			n.log.Warn("publish: username lookup failed", "user_id", g.ByID, "error", err)
		}
		out.By = names[g.ByID]
	}
	out.Text, out.Redirect = n.redirect(dbc, p, tr.TeamID)
	return out
}

// redirect points a team that just solved p at the next puzzle of the
// episode, or back to the episode when there is no single next puzzle.
func (n *huntNotifier) redirect(dbc dbctx.Context, p *types.Puzzle, teamID uuid.UUID) (string, string) {
	if p == nil || p.EpisodeID == nil {
		return redirectHunt, "/"
	}
	ep, err := n.repos.Episodes.GetByID(dbc, *p.EpisodeID)
	if err != nil || ep == nil {
		return redirectHunt, "/"
	}
	puzzles, err := n.repos.Puzzles.ListByEpisode(dbc, ep.ID)
	if err != nil {
		n.log.Warn("publish: list episode puzzles failed", "episode_id", ep.ID, "error", err)
		return redirectBackTo + ep.Name, EpisodePath(ep)
	}
	ids := make([]uuid.UUID, 0, len(puzzles))
	for _, q := range puzzles {
		ids = append(ids, q.ID)
	}
	solved, err := n.repos.Progress.SolvedPuzzles(dbc, teamID, ids)
	if err != nil {
		n.log.Warn("publish: solved puzzles lookup failed", "team_id", teamID, "error", err)
		return redirectBackTo + ep.Name, EpisodePath(ep)
	}
	if next := types.NextPuzzle(ep, puzzles, solved); next != nil {
		return RedirectNextPuzzle, PuzzlePath(next)
	}
	return redirectBackTo + ep.Name, EpisodePath(ep)
}

func announcementGroup(a *types.Announcement) string {
	if a.PuzzleID != nil {
		return realtime.PuzzleGroup(a.EventID, *a.PuzzleID)
	}
	return realtime.EventGroup(a.EventID)
}

func (n *huntNotifier) AnnouncementSaved(ctx context.Context, a *types.Announcement) {
	if n == nil || n.emit == nil || a == nil {
		return
	}
	n.send(ctx, announcementGroup(a), realtime.TypeAnnouncement, realtime.AnnouncementFor(a))
}

func (n *huntNotifier) AnnouncementDeleted(ctx context.Context, a *types.Announcement) {
	if n == nil || n.emit == nil || a == nil {
		return
	}
	n.send(ctx, announcementGroup(a), realtime.TypeDeleteAnnouncement,
		realtime.DeleteAnnouncementContent{AnnouncementID: types.CompactID(a.ID)})
}

func (n *huntNotifier) HintChanged(ctx context.Context, h *types.Hint) {
	n.hintControl(ctx, h, realtime.TypeHintChanged, realtime.HintControl{HintID: h.ID, SendExpired: true})
}

func (n *huntNotifier) HintRemoved(ctx context.Context, h *types.Hint) {
	n.hintControl(ctx, h, realtime.TypeHintRemoved, realtime.HintControl{HintID: h.ID})
}

// hintControl goes to every team that has opened the puzzle; a team without
// a progress row has no session that could show the hint.
func (n *huntNotifier) hintControl(ctx context.Context, h *types.Hint, typ realtime.MessageType, ctl realtime.HintControl) {
	if n == nil || n.emit == nil || h == nil {
		return
	}
	dbc := dbctx.Context{Ctx: ctx}
	p, err := n.repos.Puzzles.GetByID(dbc, h.PuzzleID)
	if err != nil || p == nil {
		n.log.Warn("publish: load puzzle failed", "puzzle_id", h.PuzzleID, "error", err)
		return
	}
	rows, err := n.repos.Progress.ListByPuzzle(dbc, h.PuzzleID)
	if err != nil {
		n.log.Warn("publish: list progress failed", "puzzle_id", h.PuzzleID, "error", err)
		return
	}
	for _, row := range rows {
		n.send(ctx, realtime.TeamPuzzleGroup(p.EventID, p.ID, row.TeamID), typ, ctl)
	}
}
