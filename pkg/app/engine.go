package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cloudwego/eino/components/model"
	"go.uber.org/zap"

	"github.com/dyike/tradecouncil/config"
	"github.com/dyike/tradecouncil/internal/dataflows"
	"github.com/dyike/tradecouncil/internal/graph"
	"github.com/dyike/tradecouncil/internal/llm"
	"github.com/dyike/tradecouncil/internal/memory"
	"github.com/dyike/tradecouncil/internal/tools"
	"github.com/dyike/tradecouncil/models"
)

// ModelFactory builds a chat model from settings. llm.NewChatModel is the
// production factory.
type ModelFactory func(ctx context.Context, s llm.ModelSettings) (model.ToolCallingChatModel, error)

// Shared holds process-wide collaborators that outlive engine rebuilds.
type Shared struct {
	Memory    *memory.Persistent
	Observers []graph.Observer
	Metrics   graph.Metrics
	Logger    *zap.Logger
	Models    ModelFactory
	// Data overrides the market data provider, mostly for tests.
	Data tools.DataSource
}

// Engine is one immutable build of the pipeline from a config snapshot.
type Engine struct {
	Config  config.Config
	BuiltAt time.Time
	Version uint64

	Orchestrator *graph.Orchestrator
	Reflector    *graph.Reflector
	Tools        *tools.Catalog
	// Usage counts tokens across every model call of this engine.
	Usage *llm.Usage

	provider *dataflows.Provider
}

var engineSeq atomic.Uint64

func BuildEngine(ctx context.Context, cfg config.Config, shared Shared) (*Engine, error) {
	logger := shared.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	newModel := shared.Models
	if newModel == nil {
		newModel = llm.NewChatModel
	}

	e := &Engine{Config: cfg, BuiltAt: time.Now(), Version: engineSeq.Add(1), Usage: &llm.Usage{}}
	usage := llm.NewUsageHandler(logger.Named("model"), e.Usage)

	var resolver llm.ToolResolver
	if cfg.OnlineTools {
		src := shared.Data
		if src == nil {
			p, err := dataflows.NewProvider(&cfg, logger.Named("dataflows"))
			if err != nil {
				return nil, err
			}
			e.provider = p
			src = p
		}
		catalog, err := tools.NewCatalog(ctx, src, tools.WithLogger(logger.Named("tools")))
		if err != nil {
			e.Close()
			return nil, err
		}
		e.Tools = catalog
		resolver = catalog
	}

	gateway := func(name string) (llm.Gateway, error) {
		m, err := newModel(ctx, llm.ModelSettings{
			Provider:  cfg.LLMProvider,
			Model:     name,
			BaseURL:   cfg.BackendURL,
			APIKey:    cfg.APIKey(),
			MaxTokens: cfg.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("chat model %s: %w", name, err)
		}
		opts := []llm.ChatOption{
			llm.WithLogger(logger.Named("llm")),
			llm.WithModelName(name),
			llm.WithCallbacks(usage),
		}
		if resolver != nil {
			opts = append(opts, llm.WithToolResolver(resolver))
		}
		return llm.NewChatGateway(m, opts...), nil
	}
	quick, err := gateway(cfg.QuickThinkLLM)
	if err != nil {
		e.Close()
		return nil, err
	}
	deep := quick
	if cfg.DeepThinkLLM != cfg.QuickThinkLLM {
		if deep, err = gateway(cfg.DeepThinkLLM); err != nil {
			e.Close()
			return nil, err
		}
	}

	policy := graph.PolicyFromConfig(&cfg)
	opts := []graph.Option{
		graph.WithDeepGateway(deep),
		graph.WithPolicy(policy),
		graph.WithLogger(logger.Named("graph")),
	}
	if e.Tools != nil {
		opts = append(opts, graph.WithTools(e.Tools))
	}
	if shared.Memory != nil {
		opts = append(opts, graph.WithMemory(shared.Memory))
		e.Reflector = graph.NewReflector(deep, shared.Memory, policy.CallTimeout, logger.Named("reflect"))
	}
	if shared.Metrics != nil {
		opts = append(opts, graph.WithMetrics(shared.Metrics))
	}
	for _, obs := range shared.Observers {
		opts = append(opts, graph.WithObserver(obs))
	}
	if e.Orchestrator, err = graph.New(ctx, quick, opts...); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// Run drives s through the pipeline of this engine.
func (e *Engine) Run(ctx context.Context, s *models.Session) error {
	return e.Orchestrator.Run(ctx, s)
}

// Close releases the data provider cache.
func (e *Engine) Close() {
	if e != nil && e.provider != nil {
		e.provider.Close()
	}
}
