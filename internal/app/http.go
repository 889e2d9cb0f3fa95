package app

import (
	apphttp "github.com/MusicMeister52/hunter2-sub000/internal/http"
	httpH "github.com/MusicMeister52/hunter2-sub000/internal/http/handlers"
	httpMW "github.com/MusicMeister52/hunter2-sub000/internal/http/middleware"
	"github.com/MusicMeister52/hunter2-sub000/internal/observability"
)

type Handlers struct {
	Health   *httpH.HealthHandler
	Puzzle   *httpH.PuzzleHandler
	Realtime *httpH.RealtimeHandler
	Admin    *httpH.AdminHandler
}

func (a *App) wireHandlers() Handlers {
	a.Log.Info("Wiring handlers...")
	return Handlers{
		Health:   httpH.NewHealthHandler(a.DB),
		Puzzle:   httpH.NewPuzzleHandler(a.Repos, a.Services.Puzzles, a.Services.Guesses),
		Realtime: httpH.NewRealtimeHandler(a.Log, a.Hub, a.Repos, a.Services.Puzzles, a.Services.SessionStore, httpH.RealtimeConfig{}),
		Admin:    httpH.NewAdminHandler(a.Services.Admin),
	}
}

func (a *App) wireServer(metrics *observability.Metrics) *apphttp.Server {
	handlers := a.wireHandlers()
	return apphttp.NewServer(apphttp.RouterConfig{
		Log:             a.Log,
		Metrics:         metrics,
		ServiceName:     a.Cfg.ServiceName,
		AllowedOrigins:  a.Cfg.AllowedOrigins,
		AuthMiddleware:  httpMW.NewAuthMiddleware(a.Log, a.Services.Auth),
		PuzzleHandler:   handlers.Puzzle,
		RealtimeHandler: handlers.Realtime,
		AdminHandler:    handlers.Admin,
		HealthHandler:   handlers.Health,
	})
}
