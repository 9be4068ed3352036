package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dyike/tradecouncil/config"
	"github.com/dyike/tradecouncil/models"
)

type EngineBuilder func(context.Context, config.Config) (*Engine, error)

type Option func(*Runtime)

func WithBuilder(builder EngineBuilder) Option {
	return func(r *Runtime) {
		if builder != nil {
			r.builder = builder
		}
	}
}

func WithNotifier(fn func(topic, payload string)) Option {
	return func(r *Runtime) {
		r.notify = fn
	}
}

func WithRuntimeLogger(l *zap.Logger) Option {
	return func(r *Runtime) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithoutWatch builds once and ignores later file changes.
func WithoutWatch() Option {
	return func(r *Runtime) { r.watch = false }
}

// Runtime holds the current engine and swaps in a new one whenever the
// config file changes. Sessions keep the engine they started with.
type Runtime struct {
	cfgMgr *config.Manager
	engine atomic.Pointer[Engine]

	builder EngineBuilder
	notify  func(string, string)
	logger  *zap.Logger
	watch   bool
	cancel  context.CancelFunc

	mu      sync.Mutex
	retired []*Engine
}

func NewRuntime(ctx context.Context, cfgMgr *config.Manager, builder EngineBuilder, opts ...Option) (*Runtime, error) {
	if cfgMgr == nil {
		return nil, fmt.Errorf("config manager is required")
	}
	if builder == nil {
		return nil, fmt.Errorf("engine builder is required")
	}

	rt := &Runtime{
		cfgMgr:  cfgMgr,
		builder: builder,
		logger:  zap.NewNop(),
		watch:   true,
	}
	for _, opt := range opts {
		opt(rt)
	}

	if err := rt.reload(ctx, cfgMgr.Get()); err != nil {
		return nil, err
	}
	if !rt.watch {
		return rt, nil
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	rt.cancel = cancel
	if err := cfgMgr.Watch(watchCtx, func(cfg config.Config) {
		if err := rt.reload(watchCtx, cfg); err != nil {
			rt.logger.Error("engine reload failed", zap.Error(err))
		}
	}); err != nil {
		cancel()
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (r *Runtime) Engine() *Engine {
	return r.engine.Load()
}

// Run resolves the current engine once and runs s on it.
func (r *Runtime) Run(ctx context.Context, s *models.Session) error {
	return r.Engine().Run(ctx, s)
}

func (r *Runtime) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.retired {
		e.Close()
	}
	r.retired = nil
	if e := r.engine.Swap(nil); e != nil {
		e.Close()
	}
}

func (r *Runtime) reload(ctx context.Context, cfg config.Config) error {
	cfg.ApplyEnv()
	engine, err := r.builder(ctx, cfg)
	if err != nil {
		r.notifyFailure(err)
		return err
	}
	// 旧引擎可能仍被进行中的会话使用，关闭推迟到 Close
	if old := r.engine.Swap(engine); old != nil {
		r.mu.Lock()
		r.retired = append(r.retired, old)
		r.mu.Unlock()
	}
	r.logger.Info("engine ready",
		zap.Uint64("version", engine.Version),
		zap.String("provider", cfg.LLMProvider),
		zap.String("quick_model", cfg.QuickThinkLLM),
		zap.String("deep_model", cfg.DeepThinkLLM))
	r.notifySuccess(engine)
	return nil
}

func (r *Runtime) notifySuccess(engine *Engine) {
	if r.notify == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"version":  engine.Version,
		"built_at": engine.BuiltAt.UTC().Format(time.RFC3339),
	})
	r.notify("engine.reloaded", string(payload))
}

func (r *Runtime) notifyFailure(err error) {
	if r.notify == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"error": err.Error(),
	})
	r.notify("engine.reload_failed", string(payload))
}
