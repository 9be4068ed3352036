package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

// ToolResolver turns allow-listed tool names into tool schemas.
type ToolResolver interface {
	ToolInfos(names []string) ([]*schema.ToolInfo, error)
}

// ChatGateway adapts an eino chat model to Gateway.
type ChatGateway struct {
	model    model.ToolCallingChatModel
	name     string
	tools    ToolResolver
	handlers []callbacks.Handler
	logger   *zap.Logger
}

type ChatOption func(*ChatGateway)

func WithToolResolver(r ToolResolver) ChatOption {
	return func(g *ChatGateway) { g.tools = r }
}

// WithCallbacks reports every model call to the given eino handlers.
func WithCallbacks(handlers ...callbacks.Handler) ChatOption {
	return func(g *ChatGateway) { g.handlers = append(g.handlers, handlers...) }
}

func WithModelName(name string) ChatOption {
	return func(g *ChatGateway) { g.name = name }
}

func WithLogger(l *zap.Logger) ChatOption {
	return func(g *ChatGateway) {
		if l != nil {
			g.logger = l
		}
	}
}

func NewChatGateway(m model.ToolCallingChatModel, opts ...ChatOption) *ChatGateway {
	g := &ChatGateway{model: m, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *ChatGateway) Invoke(ctx context.Context, messages []*schema.Message, tools []string) (*Response, error) {
	cm := g.model
	if len(tools) > 0 {
		if g.tools == nil {
			return nil, fmt.Errorf("tools %v requested but no resolver configured", tools)
		}
		infos, err := g.tools.ToolInfos(tools)
		if err != nil {
			return nil, err
		}
		if cm, err = cm.WithTools(infos); err != nil {
			return nil, fmt.Errorf("bind tools: %w", err)
		}
	}

	msg, err := cm.Generate(withCallbacks(ctx, g.name, g.handlers), messages)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, err
	}

	resp := &Response{Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	g.logger.Debug("llm call",
		zap.Stringer("role", RoleFromContext(ctx)),
		zap.Int("messages", len(messages)),
		zap.Int("tool_calls", len(resp.ToolCalls)),
		zap.Int("chars", len(resp.Text)))
	return resp, nil
}

// ModelSettings selects and configures a chat model.
type ModelSettings struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	MaxTokens int
}

func NewChatModel(ctx context.Context, s ModelSettings) (model.ToolCallingChatModel, error) {
	if strings.TrimSpace(s.APIKey) == "" {
		return nil, fmt.Errorf("%s api key is not configured", s.Provider)
	}
	switch strings.ToLower(s.Provider) {
	case "deepseek":
		cfg := &deepseek.ChatModelConfig{
			APIKey:    s.APIKey,
			Model:     s.Model,
			MaxTokens: s.MaxTokens,
		}
		if s.BaseURL != "" {
			cfg.BaseURL = s.BaseURL
		}
		return deepseek.NewChatModel(ctx, cfg)
	case "openai":
		maxTokens := s.MaxTokens
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:   s.BaseURL,
			APIKey:    s.APIKey,
			Model:     s.Model,
			MaxTokens: &maxTokens,
		})
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", s.Provider)
	}
}
