package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/MusicMeister52/hunter2-sub000/internal/app"
	"github.com/MusicMeister52/hunter2-sub000/internal/data/seed"
	types "github.com/MusicMeister52/hunter2-sub000/internal/domain"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/envutil"
	"github.com/MusicMeister52/hunter2-sub000/internal/platform/logger"
)

var (
	migrateFirst bool
	puzzleArgs   []string

	rootCmd = &cobra.Command{
		Use:           "hunter2",
		Short:         "Puzzle hunt progress service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, websockets and the reevaluation worker",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(_ context.Context, a *app.App) error {
				return a.Migrate()
			})
		},
	}

	seedCmd = &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Load events, puzzles and teams from a YAML fixture",
		Args:  cobra.ExactArgs(1),
		RunE:  runSeed,
	}

	reevaluateCmd = &cobra.Command{
		Use:   "reevaluate --puzzle <id>...",
		Short: "Reevaluate every team's progress on the given puzzles now",
		Args:  cobra.NoArgs,
		RunE:  runReevaluate,
	}
)

func init() {
	serveCmd.Flags().BoolVar(&migrateFirst, "migrate", false, "run migrations before serving")
	reevaluateCmd.Flags().StringSliceVar(&puzzleArgs, "puzzle", nil, "puzzle id (uuid or compact); repeatable")
	_ = reevaluateCmd.MarkFlagRequired("puzzle")
	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd, reevaluateCmd)
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not load .env: %v\n", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	cfg, err := app.LoadConfig(log)
	if err != nil {
		log.Sync()
		return err
	}
	a, err := app.New(log, cfg)
	if err != nil {
		log.Sync()
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func runServe(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		if migrateFirst {
			if err := a.Migrate(); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		return a.Serve(ctx)
	})
}

func runSeed(cmd *cobra.Command, args []string) error {
	f, err := seed.Load(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		sum, err := seed.Apply(ctx, a.DB, a.Validators, f)
		if err != nil {
			return fmt.Errorf("seed %s: %w", args[0], err)
		}
		a.Log.Info("Seed applied", "file", args[0], "events", sum.Events, "puzzles", sum.Puzzles, "teams", sum.Teams, "users", sum.Users)
		return nil
	})
}

func runReevaluate(cmd *cobra.Command, _ []string) error {
	ids := make([]uuid.UUID, 0, len(puzzleArgs))
	for _, raw := range puzzleArgs {
		id, err := uuid.Parse(raw)
		if err != nil {
			if id, err = types.ParseCompactID(raw); err != nil {
				return fmt.Errorf("invalid puzzle id %q", raw)
			}
		}
		ids = append(ids, id)
	}
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		res, err := a.Reevaluate(ctx, ids)
		if res != nil {
			a.Log.Info("Reevaluation finished",
				"puzzles", len(ids), "teams", res.Teams, "updated", res.Updated, "failures", len(res.Failures))
			for _, f := range res.Failures {
				a.Log.Warn("Team reevaluation failed", "puzzle_id", f.PuzzleID, "team_id", f.TeamID, "error", f.Err)
			}
		}
		return err
	})
}
