package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/kode4food/timebox"
	"gocloud.dev/blob"

	// Bucket drivers for ARCHIVE_BUCKET_URL schemes
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"

	app "github.com/cascadeci/cascade"
	"github.com/cascadeci/cascade/internal/archive"
	"github.com/cascadeci/cascade/internal/config"
	"github.com/cascadeci/cascade/internal/engine"
	"github.com/cascadeci/cascade/internal/resolver"
	"github.com/cascadeci/cascade/internal/restraint"
	"github.com/cascadeci/cascade/internal/server"
	"github.com/cascadeci/cascade/internal/tasks"
	"github.com/cascadeci/cascade/internal/waitnotify"
	"github.com/cascadeci/cascade/pkg/log"
)

type cascade struct {
	cfg            *config.Config
	timebox        *timebox.Timebox
	planStore      *timebox.Store
	waitStore      *timebox.Store
	restraintStore *timebox.Store
	registry       *waitnotify.Registry
	wait           *waitnotify.Engine
	reaper         *waitnotify.Reaper
	holders        *restraint.HolderIndex
	scheduler      *restraint.Scheduler
	deadlines      *engine.DeadlineIndex
	dispatcher     *tasks.Dispatcher
	engine         *engine.Engine
	archiver       *archive.Archiver
	bucket         *blob.Bucket
	apiServer      *server.Server
	httpServer     *http.Server
	quit           chan os.Signal
}

var (
	ErrCreateTimebox        = errors.New("failed to create timebox")
	ErrCreatePlanStore      = errors.New("failed to create plan store")
	ErrCreateWaitStore      = errors.New("failed to create wait store")
	ErrCreateRestraintStore = errors.New("failed to create restraint store")
	ErrOpenArchiveBucket    = errors.New("failed to open archive bucket")
)

func main() {
	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	s := &cascade{
		cfg:  cfg,
		quit: make(chan os.Signal, 1),
	}
	s.setupLogging()

	if err := s.run(); err != nil {
		slog.Error("Failed to start application", log.Error(err))
		os.Exit(1)
	}
}

func (s *cascade) run() error {
	if err := s.initializeStores(); err != nil {
		return err
	}
	if err := s.initializeEngine(); err != nil {
		return err
	}
	if err := s.initializeArchiver(); err != nil {
		return err
	}
	s.startServer()

	signal.Notify(s.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(s.quit)
	<-s.quit

	s.shutdown()
	return nil
}

func (s *cascade) setupLogging() {
	level := log.ParseLevel(s.cfg.LogLevel)
	env := os.Getenv("ENV")
	logger := log.NewWithLevel(app.Name, env, app.Version, level)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level)

	slog.Info("Cascade engine starting",
		slog.String("log_level", s.cfg.LogLevel))

	slog.Info("Configuration loaded",
		slog.String("plan_redis_addr", s.cfg.PlanStore.Addr),
		slog.Int("plan_redis_db", s.cfg.PlanStore.DB),
		slog.String("wait_redis_addr", s.cfg.WaitStore.Addr),
		slog.Int("wait_redis_db", s.cfg.WaitStore.DB),
		slog.String("restraint_redis_addr", s.cfg.RestraintStore.Addr),
		slog.Int("restraint_redis_db", s.cfg.RestraintStore.DB),
		slog.String("api_host", s.cfg.APIHost),
		slog.Int("api_port", s.cfg.APIPort))
}

func (s *cascade) initializeStores() error {
	var err error

	s.timebox, err = timebox.NewTimebox(timebox.Config{
		MaxRetries: timebox.DefaultMaxRetries,
		CacheSize:  s.cfg.NodeCacheSize,
		Workers:    true,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreateTimebox, err)
	}

	s.planStore, err = s.timebox.NewStore(s.cfg.PlanStore)
	if err != nil {
		_ = s.timebox.Close()
		return fmt.Errorf("%w: %w", ErrCreatePlanStore, err)
	}

	s.waitStore, err = s.timebox.NewStore(s.cfg.WaitStore)
	if err != nil {
		_ = s.timebox.Close()
		return fmt.Errorf("%w: %w", ErrCreateWaitStore, err)
	}

	s.restraintStore, err = s.timebox.NewStore(s.cfg.RestraintStore)
	if err != nil {
		_ = s.timebox.Close()
		return fmt.Errorf("%w: %w", ErrCreateRestraintStore, err)
	}

	return nil
}

func (s *cascade) initializeEngine() error {
	s.registry = waitnotify.NewRegistry()
	s.wait = waitnotify.New(s.waitStore, s.registry, s.cfg)
	s.reaper = waitnotify.NewReaper(s.wait, s.cfg)

	s.holders = restraint.NewHolderIndex(s.cfg)
	s.scheduler = restraint.New(s.restraintStore, s.holders, s.cfg)

	s.deadlines = engine.NewDeadlineIndex(s.cfg)
	s.dispatcher = tasks.NewDispatcher(s.cfg)

	functors := resolver.NewFunctorRegistry(&resolver.EnvSecretSource{
		Prefix: "CASCADE_SECRET_",
	})

	s.engine = engine.New(engine.Deps{
		Store:     s.planStore,
		Wait:      s.wait,
		Restraint: s.scheduler,
		Functors:  functors,
		Tasks:     s.dispatcher,
		Registry:  engine.NewRegistry(),
		Deadlines: s.deadlines,
		Config:    s.cfg,
	})
	s.engine.RegisterCallbacks(s.registry)

	s.wait.Start()
	s.reaper.Start()
	s.dispatcher.Start()
	s.scheduler.Start()
	s.engine.Start()
	return nil
}

func (s *cascade) initializeArchiver() error {
	if s.cfg.ArchiveBucketURL == "" {
		return nil
	}

	bucket, err := blob.OpenBucket(
		context.Background(), s.cfg.ArchiveBucketURL,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpenArchiveBucket, err)
	}
	s.bucket = bucket

	s.archiver, err = archive.New(
		s.engine, bucket, app.Name, s.timebox.GetHub(),
	)
	if err != nil {
		return err
	}
	s.archiver.Start()
	return nil
}

func (s *cascade) startServer() {
	s.apiServer = server.NewServer(
		s.engine, s.wait, s.scheduler, s.timebox.GetHub(),
	)
	mux := s.apiServer.SetupRoutes()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort),
		Handler: mux,
	}

	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", s.httpServer.Addr))
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", log.Error(err))
		}
	}()
}

func (s *cascade) shutdown() {
	slog.Info("Shutting down")

	ctx, cancel := context.WithTimeout(
		context.Background(), s.cfg.ShutdownTimeout,
	)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("Shutdown failed", log.Error(err))
	}

	s.apiServer.CloseWebSockets()

	if err := s.engine.Stop(); err != nil {
		slog.Error("Engine shutdown failed", log.Error(err))
	}
	if s.archiver != nil {
		s.archiver.Stop()
	}
	s.scheduler.Stop()
	s.dispatcher.Stop()
	s.reaper.Stop()
	s.wait.Stop()
	s.deadlines.Close()
	s.holders.Close()
	if s.bucket != nil {
		_ = s.bucket.Close()
	}

	_ = s.timebox.Close()

	slog.Info("Server exited")
}
