package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/MusicMeister52/hunter2-sub000/internal/data/repos"
	"github.com/MusicMeister52/hunter2-sub000/internal/http/response"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/ctxutil"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/dbctx"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/logger"
	"github.com/MusicMeister52/hunter2-sub000/internal/realtime"
	"github.com/MusicMeister52/hunter2-sub000/internal/services"
	"github.com/MusicMeister52/hunter2-sub000/internal/session"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultPongWait     = 60 * time.Second
	maxClientFrame      = 4096
)

type RealtimeConfig struct {
	WriteTimeout time.Duration
	// PongWait is how long a silent client is kept; pings go out at 9/10 of it.
	PongWait time.Duration
	// CheckOrigin defaults to allowing every origin; tokens authenticate.
	CheckOrigin func(r *http.Request) bool
}

type RealtimeHandler struct {
	log      *logger.Logger
	hub      *realtime.Hub
	repos    *repos.Set
	puzzles  services.PuzzleService
	store    session.Store
	cfg      RealtimeConfig
	upgrader websocket.Upgrader
	Clock    func() time.Time
}

func NewRealtimeHandler(log *logger.Logger, hub *realtime.Hub, rs *repos.Set, puzzles services.PuzzleService, store session.Store, cfg RealtimeConfig) *RealtimeHandler {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &RealtimeHandler{
		log:     log.With("handler", "RealtimeHandler"),
		hub:     hub,
		repos:   rs,
		puzzles: puzzles,
		store:   store,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		Clock: time.Now,
	}
}

// GET /api/puzzles/:puzzle/ws
func (h *RealtimeHandler) PuzzleSocket(c *gin.Context) {
	puzzleID, ok := parseID(c, "puzzle")
	if !ok {
		return
	}
	scope, ok := requestScope(c, h.repos, h.Clock)
	if !ok {
		return
	}
	puzzle, teamID, err := h.puzzles.Locate(c.Request.Context(), scope, puzzleID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	h.serve(c, session.Config{
		EventID:  puzzle.EventID,
		PuzzleID: puzzle.ID,
		TeamID:   teamID,
		UserID:   scope.UserID,
	})
}

// GET /api/events/:event/ws
func (h *RealtimeHandler) EventSocket(c *gin.Context) {
	eventID, ok := parseID(c, "event")
	if !ok {
		return
	}
	scope, ok := requestScope(c, h.repos, h.Clock)
	if !ok {
		return
	}
	ev, err := h.repos.Events.GetByID(dbctx.Context{Ctx: c.Request.Context()}, eventID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	if ev == nil {
		response.RespondError(c, http.StatusNotFound, "not_found", errors.New("event not found"))
		return
	}
	// Announcements are for everyone; a team is recorded when there is one.
	teamID, err := scope.Teams.TeamFor(c.Request.Context(), ev.ID)
	if err != nil && !errors.Is(err, services.ErrNoTeam) {
		response.RespondErr(c, err)
		return
	}
	h.serve(c, session.Config{EventID: ev.ID, TeamID: teamID, UserID: scope.UserID})
}

func (h *RealtimeHandler) serve(c *gin.Context, cfg session.Config) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already replied.
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	cfg.Log = h.log.With(ctxutil.TraceFrom(c.Request.Context()).LogFields()...)
	cfg.Hub = h.hub
	cfg.Store = h.store
	cfg.Transport = &wsTransport{conn: conn, writeTimeout: h.cfg.WriteTimeout}
	sess := session.New(cfg)
	defer sess.Close()

	if err := sess.Hydrate(ctx); err != nil {
		h.log.Warn("session hydrate failed", "session_id", sess.ID(), "error", err)
	}

	conn.SetReadLimit(maxClientFrame)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	go h.readLoop(ctx, cancel, conn, sess)
	go h.pingLoop(ctx, conn)

	err = sess.Run(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, session.ErrClosed):
	case errors.Is(err, session.ErrDisconnected), errors.Is(err, session.ErrOverflow):
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "reconnect"),
			time.Now().Add(h.cfg.WriteTimeout))
	default:
		h.log.Info("session ended", "session_id", sess.ID(), "error", err)
	}
}

func (h *RealtimeHandler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sess *session.Session) {
	defer cancel()
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket read failed", "session_id", sess.ID(), "error", err)
			}
			return
		}
		if err := sess.HandleRequest(ctx, payload); err != nil {
			return
		}
	}
}

func (h *RealtimeHandler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(h.cfg.PongWait * 9 / 10)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

// wsTransport is only written from Session.Run. Control frames may be sent
// concurrently by the ping loop, which gorilla allows.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (t *wsTransport) Send(ctx context.Context, env realtime.Envelope) error {
	deadline := time.Now().Add(t.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteJSON(env)
}

var _ session.Transport = (*wsTransport)(nil)
