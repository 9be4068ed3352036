package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/tradecouncil/config"
	"github.com/dyike/tradecouncil/consts"
	"github.com/dyike/tradecouncil/internal/llm"
	"github.com/dyike/tradecouncil/models"
)

// stubModel answers every prompt with the same committed decision.
type stubModel struct {
	calls atomic.Int32
}

func (m *stubModel) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	m.calls.Add(1)
	return schema.AssistantMessage("Outlook is balanced. FINAL TRANSACTION PROPOSAL: **HOLD**", nil), nil
}

func (m *stubModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not streamed")
}

func (m *stubModel) WithTools([]*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

type modelRecorder struct {
	stub     *stubModel
	settings []llm.ModelSettings
}

func (r *modelRecorder) factory(_ context.Context, s llm.ModelSettings) (model.ToolCallingChatModel, error) {
	r.settings = append(r.settings, s)
	return r.stub, nil
}

func offlineConfig(t *testing.T) config.Config {
	cfg := *config.DefaultConfigWithRoot(t.TempDir())
	cfg.OnlineTools = false
	cfg.SelectedAnalysts = []string{"market", "news"}
	cfg.LLMTimeoutSec = 5
	return cfg
}

func newSession(t *testing.T) *models.Session {
	t.Helper()
	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	s, err := models.NewSession("s1", "nvda", date, []consts.Role{consts.MarketAnalyst, consts.NewsAnalyst}, 1)
	require.NoError(t, err)
	return s
}

func TestBuildEngineRunsSession(t *testing.T) {
	rec := &modelRecorder{stub: &stubModel{}}
	e, err := BuildEngine(context.Background(), offlineConfig(t), Shared{Models: rec.factory})
	require.NoError(t, err)
	defer e.Close()

	assert.Nil(t, e.Tools)
	assert.Nil(t, e.Reflector)
	require.Len(t, rec.settings, 1, "quick and deep share one model")

	s := newSession(t)
	require.NoError(t, e.Run(context.Background(), s))
	snap := s.Snapshot()
	assert.Equal(t, models.StatusCompleted, snap.Status)
	assert.Equal(t, models.SignalHold, snap.Signal)
	assert.EqualValues(t, 10, rec.stub.calls.Load())
}

func TestBuildEngineSeparateDeepModel(t *testing.T) {
	cfg := offlineConfig(t)
	cfg.DeepThinkLLM = "deepseek-reasoner"
	rec := &modelRecorder{stub: &stubModel{}}
	e, err := BuildEngine(context.Background(), cfg, Shared{Models: rec.factory})
	require.NoError(t, err)
	defer e.Close()

	require.Len(t, rec.settings, 2)
	assert.Equal(t, "deepseek-chat", rec.settings[0].Model)
	assert.Equal(t, "deepseek-reasoner", rec.settings[1].Model)
	assert.Equal(t, cfg.MaxTokens, rec.settings[1].MaxTokens)
}

func TestBuildEngineModelError(t *testing.T) {
	failing := func(context.Context, llm.ModelSettings) (model.ToolCallingChatModel, error) {
		return nil, errors.New("no key")
	}
	_, err := BuildEngine(context.Background(), offlineConfig(t), Shared{Models: failing})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deepseek-chat")
}

func TestEngineVersionsIncrease(t *testing.T) {
	rec := &modelRecorder{stub: &stubModel{}}
	a, err := BuildEngine(context.Background(), offlineConfig(t), Shared{Models: rec.factory})
	require.NoError(t, err)
	b, err := BuildEngine(context.Background(), offlineConfig(t), Shared{Models: rec.factory})
	require.NoError(t, err)
	assert.Greater(t, b.Version, a.Version)
}
