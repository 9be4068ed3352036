package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/dyike/tradecouncil/config"
	"github.com/dyike/tradecouncil/consts"
	"github.com/dyike/tradecouncil/internal/debug"
	"github.com/dyike/tradecouncil/internal/graph"
	"github.com/dyike/tradecouncil/internal/memory"
	"github.com/dyike/tradecouncil/internal/metrics"
	"github.com/dyike/tradecouncil/internal/service"
	"github.com/dyike/tradecouncil/internal/storage"
	"github.com/dyike/tradecouncil/internal/storage/sqlite"
	"github.com/dyike/tradecouncil/internal/tools"
	"github.com/dyike/tradecouncil/models"
)

type Options struct {
	ConfigPath string
	// Watch rebuilds the engine when the config file changes.
	Watch bool
	Debug bool
	// Observers are attached to every engine in addition to the recorder.
	Observers []graph.Observer
	// Models and Data replace the LLM and market data backends in tests.
	Models ModelFactory
	Data   tools.DataSource
	Logger *zap.Logger
}

// App wires the long-lived pieces of the process: config, archive, memory,
// metrics and the session registry. Engines come and go underneath it.
type App struct {
	Config   *config.Manager
	Runtime  *Runtime
	Store    *sqlite.Store
	Memory   *memory.Persistent
	Recorder *storage.Recorder
	Metrics  *metrics.Pipeline
	Prom     *prometheus.Registry
	Registry *service.Registry
	History  *service.History
	Logger   *zap.Logger

	ownsLogger bool
}

func Open(ctx context.Context, opts Options) (*App, error) {
	a := &App{Logger: opts.Logger}
	if err := a.open(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) open(ctx context.Context, opts Options) (err error) {
	a.Config, err = config.NewManager(config.WithConfigPath(opts.ConfigPath), config.WithLogger(opts.Logger))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := a.Config.Get()
	cfg.ApplyEnv()
	if opts.Debug {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	if a.Logger == nil {
		if a.Logger, err = NewLogger(cfg.LogLevel, cfg.Debug); err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		a.ownsLogger = true
	}
	if _, err := debug.Init(ctx, &cfg, a.Logger); err != nil {
		a.Logger.Warn("eino debug disabled", zap.Error(err))
	}

	if a.Store, err = sqlite.Open(cfg.DBPath); err != nil {
		return err
	}
	if a.Memory, err = memory.Open(ctx, a.Store); err != nil {
		return err
	}
	a.Logger.Debug("memory opened", zap.Int("reflections", a.Memory.Len()), zap.String("ranking", a.Memory.Ranking()))
	a.Recorder, err = storage.NewRecorder(a.Store,
		storage.WithResultsDir(cfg.ResultsDir),
		storage.WithRecorderLogger(a.Logger.Named("recorder")))
	if err != nil {
		return err
	}

	a.Prom = prometheus.NewRegistry()
	a.Prom.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Prom)
	a.History = service.NewHistory(a.Store)

	shared := Shared{
		Memory:    a.Memory,
		Observers: append([]graph.Observer{a.Recorder}, opts.Observers...),
		Metrics:   a.Metrics,
		Logger:    a.Logger,
		Models:    opts.Models,
		Data:      opts.Data,
	}
	build := func(ctx context.Context, c config.Config) (*Engine, error) {
		if opts.Debug {
			c.Debug = true
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		return BuildEngine(ctx, c, shared)
	}
	rtOpts := []Option{WithRuntimeLogger(a.Logger.Named("runtime"))}
	if !opts.Watch {
		rtOpts = append(rtOpts, WithoutWatch())
	}
	if a.Runtime, err = NewRuntime(ctx, a.Config, build, rtOpts...); err != nil {
		return err
	}

	analysts, err := consts.ParseAnalysts(cfg.SelectedAnalysts)
	if err != nil {
		return err
	}
	a.Registry = service.NewRegistry(
		service.Defaults{Analysts: analysts, Rounds: cfg.MaxDebateRounds},
		cfg.SessionRetention(),
		service.WithRegistryLogger(a.Logger.Named("registry")))

	a.Logger.Info("app ready",
		zap.String("config", a.Config.Path()),
		zap.String("db", cfg.DBPath),
		zap.Int("memories", a.Memory.Len()))
	return nil
}

// Run is the service.RunFunc handed to the registry.
func (a *App) Run(ctx context.Context, s *models.Session) error {
	return a.Runtime.Run(ctx, s)
}

// Sources lists the market data backends of the current engine.
func (a *App) Sources() []string {
	e := a.Runtime.Engine()
	if e == nil || e.provider == nil {
		return nil
	}
	return e.provider.Sources()
}

// Janitor sweeps expired sessions until ctx is done.
func (a *App) Janitor(ctx context.Context) {
	a.Registry.Janitor(ctx, time.Minute)
}

// Close cancels running sessions, then drains the recorder before the
// database goes away.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	if a.Registry != nil {
		a.Registry.Close()
	}
	if a.Runtime != nil {
		a.Runtime.Close()
	}
	if a.Recorder != nil {
		a.Recorder.Close()
	}
	var errs []error
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.Logger != nil && a.ownsLogger {
		_ = a.Logger.Sync()
	}
	return errors.Join(errs...)
}
