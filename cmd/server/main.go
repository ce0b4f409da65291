package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/quiz-competition-backend/internal/chat"
	"github.com/DoyleJ11/quiz-competition-backend/internal/config"
	"github.com/DoyleJ11/quiz-competition-backend/internal/httpapi"
	"github.com/DoyleJ11/quiz-competition-backend/internal/hub"
	"github.com/DoyleJ11/quiz-competition-backend/internal/identity"
	"github.com/DoyleJ11/quiz-competition-backend/internal/logging"
	"github.com/DoyleJ11/quiz-competition-backend/internal/questions"
	"github.com/DoyleJ11/quiz-competition-backend/internal/registry"
	"github.com/DoyleJ11/quiz-competition-backend/internal/roster"
	"github.com/DoyleJ11/quiz-competition-backend/internal/store"
)

const releaseVersion = "0.1.0"

func main() {
	log.SetFlags(0)
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warning: .env could not be loaded: %v", err)
	}
	cfg := &config.Config{}
	cobra.CheckErr(config.NewCommand(cfg, releaseVersion, serve).Execute())
}

// backend is everything that outlives a single request.
type backend struct {
	store  store.Store
	pool   questions.Pool
	run    func(ctx context.Context) error // change feed, nil for memory
	closer func() error
}

func openBackend(ctx context.Context, cfg *config.Config, lg *zap.Logger) (*backend, error) {
	if !cfg.UsePostgres() {
		lg.Info("using in-memory store")
		mp := questions.NewMemoryPool()
		if cfg.QuestionsFile != "" {
			qs, skipped, err := questions.LoadFile(cfg.QuestionsFile)
			if err != nil {
				return nil, err
			}
			n := mp.Add(qs...)
			lg.Info("questions loaded", zap.String("file", cfg.QuestionsFile), zap.Int("added", n), zap.Int("skipped", skipped))
		}
		st := store.NewMemory()
		return &backend{store: st, pool: mp, closer: st.Close}, nil
	}

	pgpool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	pg, err := store.NewPostgres(ctx, pgpool, lg.Named("store"))
	if err != nil {
		pgpool.Close()
		return nil, err
	}
	db, err := questions.OpenGorm(cfg.DatabaseURL)
	if err != nil {
		pgpool.Close()
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		pgpool.Close()
		return nil, fmt.Errorf("questions: %w", err)
	}
	gp, err := questions.NewGormPool(ctx, db, lg.Named("questions"))
	if err != nil {
		pgpool.Close()
		_ = sqlDB.Close()
		return nil, err
	}
	if cfg.QuestionsFile != "" {
		qs, skipped, err := questions.LoadFile(cfg.QuestionsFile)
		if err != nil {
			pgpool.Close()
			_ = sqlDB.Close()
			return nil, err
		}
		n, err := gp.Import(ctx, qs)
		if err != nil {
			pgpool.Close()
			_ = sqlDB.Close()
			return nil, err
		}
		lg.Info("questions imported", zap.String("file", cfg.QuestionsFile), zap.Int("upserted", n), zap.Int("skipped", skipped))
	}
	lg.Info("using postgres store")
	return &backend{
		store: pg,
		pool:  gp,
		run:   pg.Run,
		closer: func() error {
			err := multierr.Combine(pg.Close(), sqlDB.Close())
			pgpool.Close()
			return err
		},
	}, nil
}

func serve(cmd *cobra.Command, cfg *config.Config) error {
	lg, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(ctx, cfg, lg)
	if err != nil {
		return err
	}

	ch := chat.New(be.store, lg.Named("chat"))
	rooms := registry.New(be.store, be.pool, lg.Named("registry"),
		registry.WithCodeLength(cfg.InviteCodeLength),
		registry.WithPurger(ch),
	)
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	h := hub.NewHub(hubCtx, rooms, ch, lg.Named("hub"))

	handler := httpapi.SetupRoutes(httpapi.Deps{
		Rooms:          rooms,
		Roster:         roster.New(rooms, lg.Named("roster")),
		Chat:           ch,
		Hub:            h,
		Identity:       identity.HeaderProvider{},
		Log:            lg.Named("http"),
		PublicURL:      cfg.PublicURL,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if be.run != nil {
		g.Go(func() error { return be.run(gctx) })
	}
	g.Go(func() error {
		lg.Info("listening", zap.String("addr", srv.Addr), zap.String("version", releaseVersion))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		lg.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		stopHub()
		return err
	})

	err = g.Wait()
	return multierr.Append(err, be.closer())
}
