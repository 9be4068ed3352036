package app

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/tradecouncil/config"
	"github.com/dyike/tradecouncil/models"
)

type notes struct {
	mu     sync.Mutex
	topics []string
}

func (n *notes) add(topic, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.topics = append(n.topics, topic)
}

func newManager(t *testing.T) *config.Manager {
	t.Helper()
	dir := t.TempDir()
	initial := config.DefaultConfigWithRoot(dir)
	initial.OnlineTools = false
	m, err := config.NewManager(
		config.WithConfigPath(filepath.Join(dir, "config.yaml")),
		config.WithInitialConfig(initial))
	require.NoError(t, err)
	return m
}

func stubBuilder(rec *modelRecorder) EngineBuilder {
	return func(ctx context.Context, cfg config.Config) (*Engine, error) {
		return BuildEngine(ctx, cfg, Shared{Models: rec.factory})
	}
}

func TestRuntimeReloadsOnConfigUpdate(t *testing.T) {
	mgr := newManager(t)
	n := &notes{}
	rec := &modelRecorder{stub: &stubModel{}}
	rt, err := NewRuntime(context.Background(), mgr, stubBuilder(rec), WithNotifier(n.add))
	require.NoError(t, err)
	defer rt.Close()

	first := rt.Engine()
	require.NotNil(t, first)
	assert.Equal(t, 1, first.Config.MaxDebateRounds)

	cfg := mgr.Get()
	cfg.MaxDebateRounds = 2
	require.NoError(t, mgr.Update(cfg))

	second := rt.Engine()
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, second.Config.MaxDebateRounds)
	assert.Equal(t, []string{"engine.reloaded", "engine.reloaded"}, n.topics)
}

func TestRuntimeKeepsEngineWhenRebuildFails(t *testing.T) {
	mgr := newManager(t)
	n := &notes{}
	rec := &modelRecorder{stub: &stubModel{}}
	builds := 0
	builder := func(ctx context.Context, cfg config.Config) (*Engine, error) {
		builds++
		if builds > 1 {
			return nil, errors.New("model unavailable")
		}
		return stubBuilder(rec)(ctx, cfg)
	}
	rt, err := NewRuntime(context.Background(), mgr, builder, WithNotifier(n.add))
	require.NoError(t, err)
	defer rt.Close()

	first := rt.Engine()
	cfg := mgr.Get()
	cfg.MaxDebateRounds = 3
	require.NoError(t, mgr.Update(cfg))

	assert.Same(t, first, rt.Engine())
	assert.Equal(t, []string{"engine.reloaded", "engine.reload_failed"}, n.topics)
}

func TestRuntimeRunUsesCurrentEngine(t *testing.T) {
	mgr := newManager(t)
	rec := &modelRecorder{stub: &stubModel{}}
	rt, err := NewRuntime(context.Background(), mgr, stubBuilder(rec), WithoutWatch())
	require.NoError(t, err)
	defer rt.Close()

	s := newSession(t)
	require.NoError(t, rt.Run(context.Background(), s))
	assert.Equal(t, models.StatusCompleted, s.Status())
}

func TestNewRuntimeRequiresBuilder(t *testing.T) {
	_, err := NewRuntime(context.Background(), newManager(t), nil)
	assert.Error(t, err)
	_, err = NewRuntime(context.Background(), nil, stubBuilder(&modelRecorder{stub: &stubModel{}}))
	assert.Error(t, err)
}
