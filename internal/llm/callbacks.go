package llm

import (
	"context"
	"sync/atomic"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	ecmodel "github.com/cloudwego/eino/components/model"
	"go.uber.org/zap"
)

// Usage accumulates token counts reported by chat model callbacks.
type Usage struct {
	Prompt     atomic.Int64
	Completion atomic.Int64
	Calls      atomic.Int64
}

// NewUsageHandler returns an eino callback handler that logs every model
// call with its token usage and adds it to u. u may be nil.
func NewUsageHandler(logger *zap.Logger, u *Usage) callbacks.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return callbacks.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
			in := ecmodel.ConvCallbackInput(input)
			if in == nil {
				return ctx
			}
			logger.Debug("model start",
				zap.String("model", runName(info)),
				zap.Stringer("role", RoleFromContext(ctx)),
				zap.Int("messages", len(in.Messages)),
				zap.Int("tools", len(in.Tools)))
			return ctx
		}).
		OnEndFn(func(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
			out := ecmodel.ConvCallbackOutput(output)
			if out == nil {
				return ctx
			}
			fields := []zap.Field{
				zap.String("model", runName(info)),
				zap.Stringer("role", RoleFromContext(ctx)),
			}
			if out.Message != nil && out.Message.ResponseMeta != nil {
				fields = append(fields, zap.String("finish_reason", out.Message.ResponseMeta.FinishReason))
			}
			if usage := out.TokenUsage; usage != nil {
				fields = append(fields,
					zap.Int("prompt_tokens", usage.PromptTokens),
					zap.Int("completion_tokens", usage.CompletionTokens))
				if u != nil {
					u.Prompt.Add(int64(usage.PromptTokens))
					u.Completion.Add(int64(usage.CompletionTokens))
				}
			}
			if u != nil {
				u.Calls.Add(1)
			}
			logger.Debug("model end", fields...)
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			logger.Warn("model error",
				zap.String("model", runName(info)),
				zap.Stringer("role", RoleFromContext(ctx)),
				zap.Error(err))
			return ctx
		}).
		Build()
}

func runName(info *callbacks.RunInfo) string {
	if info == nil {
		return ""
	}
	return info.Name
}

// withCallbacks attaches handlers so the model implementation reports to
// them. Models built by eino-ext call back through the context.
func withCallbacks(ctx context.Context, name string, handlers []callbacks.Handler) context.Context {
	if len(handlers) == 0 {
		return ctx
	}
	return callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      name,
		Type:      "ChatModel",
		Component: components.ComponentOfChatModel,
	}, handlers...)
}
