package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/MusicMeister52/hunter2-sub000/internal/data/aggregates"
	"github.com/MusicMeister52/hunter2-sub000/internal/data/db"
	"github.com/MusicMeister52/hunter2-sub000/internal/data/repos"
	"github.com/MusicMeister52/hunter2-sub000/internal/jobs/worker"
	"github.com/MusicMeister52/hunter2-sub000/internal/observability"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/logger"
	"github.com/MusicMeister52/hunter2-sub000/internal/progress"
	"github.com/MusicMeister52/hunter2-sub000/internal/realtime"
	"github.com/MusicMeister52/hunter2-sub000/internal/realtime/bus"
	"github.com/MusicMeister52/hunter2-sub000/internal/services"
	"github.com/MusicMeister52/hunter2-sub000/internal/session"
	"github.com/MusicMeister52/hunter2-sub000/internal/validator"
)

type Services struct {
	Auth         services.AuthService
	Guesses      services.GuessService
	Puzzles      services.PuzzleService
	Admin        services.AdminService
	Notifier     services.HuntNotifier
	SessionStore session.Store
}

type App struct {
	Log        *logger.Logger
	Cfg        Config
	DB         *gorm.DB
	Repos      *repos.Set
	Validators *validator.Registry
	Engine     *progress.Engine
	Hub        *realtime.Hub
	Bus        bus.Bus
	Services   Services
	Worker     *worker.Worker

	dbService *db.Service
	metrics   *observability.Metrics
	cancel    context.CancelFunc
	shutdown  func(context.Context) error
}

// New connects to the database and wires everything but the HTTP server.
// Commands that only touch data (migrate, seed, reevaluate) stop here.
func New(log *logger.Logger, cfg Config) (*App, error) {
	dbService, err := db.Open(cfg.DB, log)
	if err != nil {
		return nil, fmt.Errorf("init db: %w", err)
	}
	theDB := dbService.DB()

	a := &App{
		Log:       log,
		Cfg:       cfg,
		DB:        theDB,
		dbService: dbService,
	}

	log.Info("Wiring repos...")
	a.Repos = repos.NewSet(theDB, log)
	a.Validators = validator.NewRegistry(log, validator.Config{
		ScriptTimeout:   cfg.ScriptTimeout,
		ExternalTimeout: cfg.ExternalTimeout,
	})
	a.metrics = observability.Init(log)
	a.Engine = progress.NewEngine(progress.Deps{
		DB:          theDB,
		Log:         log,
		Repos:       a.Repos,
		Validators:  a.Validators,
		Hooks:       aggregates.NewObservabilityHooks(a.metrics),
		Concurrency: cfg.ReevaluateConcurrency,
	})

	a.Hub = realtime.NewHub(log, cfg.HubQueueSize)
	if cfg.RedisAddr != "" {
		b, err := bus.NewRedisBus(log, bus.RedisConfig{Addr: cfg.RedisAddr, Channel: cfg.RedisChannel})
		if err != nil {
			_ = dbService.Close()
			return nil, fmt.Errorf("init redis bus: %w", err)
		}
		a.Bus = b
	} else {
		// Single process: same publish path, delivered synchronously.
		a.Bus = bus.NewLocalBus()
	}

	log.Info("Wiring services...")
	notify := services.NewHuntNotifier(log, services.NewEmitter(log, a.Hub, a.Bus), a.Repos)
	a.Services = Services{
		Auth: services.NewAuthService(log, cfg.JWTSecretKey),
		Guesses: services.NewGuessService(log, a.Repos, a.Engine, notify, services.GuessConfig{
			MinInterval: cfg.GuessMinInterval,
			MaxLength:   cfg.GuessMaxLength,
		}),
		Puzzles:      services.NewPuzzleService(log, a.Repos, notify),
		Admin:        services.NewAdminService(theDB, log, a.Repos, a.Engine, a.Validators, notify),
		Notifier:     notify,
		SessionStore: services.NewSessionStore(a.Repos),
	}
	a.Worker = worker.NewWorker(log, a.Repos.Jobs, a.Engine, notify, cfg.Worker)
	return a, nil
}

func (a *App) Migrate() error {
	a.Log.Info("Running migrations...", "driver", a.dbService.Driver())
	return db.AutoMigrateAll(a.DB)
}

// Reevaluate runs reevaluation inline for the given puzzles and publishes the
// changes.
func (a *App) Reevaluate(ctx context.Context, puzzleIDs []uuid.UUID) (*progress.Result, error) {
	res, err := a.Engine.ReevaluatePuzzles(ctx, puzzleIDs)
	if res != nil {
		a.Services.Notifier.PublishResult(ctx, res)
	}
	return res, err
}

// Serve starts the background workers and blocks serving HTTP until ctx is
// cancelled.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.shutdown = observability.InitOTel(ctx, a.Log,
		observability.OtelConfigFromEnv(a.Cfg.ServiceName, a.Cfg.Environment, a.Cfg.Version))
	metrics := a.metrics
	metrics.StartDBCollector(ctx, a.Log, a.DB)
	metrics.StartJobQueueCollector(ctx, a.Log, a.DB)
	if rdb := bus.RedisClient(a.Bus); rdb != nil {
		metrics.StartRedisCollector(ctx, a.Log, rdb)
	}
	metrics.StartServer(ctx, a.Log, a.Cfg.MetricsAddr)

	// Every process, this one included, delivers from the bus.
	if err := a.Bus.StartForwarder(ctx, a.Hub.Publish); err != nil {
		return fmt.Errorf("start bus forwarder: %w", err)
	}
	a.Worker.Start(ctx)

	server := a.wireServer(metrics)
	a.Log.Info("HTTP server listening", "addr", a.Cfg.HTTPAddr)
	return server.Run(ctx, a.Cfg.HTTPAddr, a.Cfg.ShutdownGrace)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.shutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
		cancel()
	}
	if a.Bus != nil {
		_ = a.Bus.Close()
	}
	if a.dbService != nil {
		_ = a.dbService.Close()
	}
	a.Log.Sync()
}
