package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/MusicMeister52/hunter2-sub000/internal/http/handlers"
	httpMW "github.com/MusicMeister52/hunter2-sub000/internal/http/middleware"
	"github.com/MusicMeister52/hunter2-sub000/internal/observability"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	Metrics        *observability.Metrics
	ServiceName    string
	AllowedOrigins []string

	AuthMiddleware  *httpMW.AuthMiddleware
	PuzzleHandler   *httpH.PuzzleHandler
	RealtimeHandler *httpH.RealtimeHandler
	AdminHandler    *httpH.AdminHandler
	HealthHandler   *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	if cfg.Log != nil {
		r.Use(httpMW.RequestLogger(cfg.Log))
	}
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.AllowedOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	protected := r.Group("/api")
	if cfg.AuthMiddleware != nil {
		protected.Use(cfg.AuthMiddleware.RequireAuth())
	}
	{
		// Puzzles
		if cfg.PuzzleHandler != nil {
			protected.GET("/puzzles/:puzzle", cfg.PuzzleHandler.GetPuzzle)
			protected.POST("/puzzles/:puzzle/guesses", cfg.PuzzleHandler.SubmitGuess)
			protected.POST("/puzzles/:puzzle/hints/:hint/accept", cfg.PuzzleHandler.AcceptHint)
		}

		// Realtime (websocket)
		if cfg.RealtimeHandler != nil {
			protected.GET("/puzzles/:puzzle/ws", cfg.RealtimeHandler.PuzzleSocket)
			protected.GET("/events/:event/ws", cfg.RealtimeHandler.EventSocket)
		}
	}

	admin := protected.Group("/admin")
	if cfg.AuthMiddleware != nil {
		admin.Use(cfg.AuthMiddleware.RequireAdmin())
	}
	if h := cfg.AdminHandler; h != nil {
		// Answers
		admin.POST("/puzzles/:puzzle/answers", h.CreateAnswer)
		admin.PUT("/answers/:id", h.UpdateAnswer)
		admin.DELETE("/answers/:id", h.DeleteAnswer)

		// Unlocks
		admin.POST("/puzzles/:puzzle/unlocks", h.CreateUnlock)
		admin.PUT("/unlocks/:id", h.UpdateUnlock)
		admin.DELETE("/unlocks/:id", h.DeleteUnlock)
		admin.POST("/unlocks/:id/answers", h.CreateUnlockAnswer)
		admin.PUT("/unlock-answers/:id", h.UpdateUnlockAnswer)
		admin.DELETE("/unlock-answers/:id", h.DeleteUnlockAnswer)

		// Hints
		admin.POST("/puzzles/:puzzle/hints", h.CreateHint)
		admin.PUT("/hints/:id", h.UpdateHint)
		admin.DELETE("/hints/:id", h.DeleteHint)

		// Announcements
		admin.POST("/announcements", h.CreateAnnouncement)
		admin.PUT("/announcements/:id", h.UpdateAnnouncement)
		admin.DELETE("/announcements/:id", h.DeleteAnnouncement)

		// Progress
		admin.POST("/puzzles/:puzzle/reevaluate", h.QueueReevaluation)
		admin.POST("/teams/:team/reset", h.ResetProgress)
		admin.PUT("/memberships", h.SetMembership)
	}

	return r
}
