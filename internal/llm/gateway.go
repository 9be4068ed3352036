package llm

import (
	"context"
	"errors"

	"github.com/cloudwego/eino/schema"

	"github.com/dyike/tradecouncil/consts"
)

// ErrTimeout marks a call that did not answer in time. Timeouts are retryable.
var ErrTimeout = errors.New("llm call timed out")

type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Response is the text and tool requests returned by one call. Text may be
// empty when ToolCalls is not.
type Response struct {
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

func (r *Response) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// Gateway sends a role-tagged conversation to a language model. tools is the
// allow-list of tool names the model may request; nil means none.
type Gateway interface {
	Invoke(ctx context.Context, messages []*schema.Message, tools []string) (*Response, error)
}

type GatewayFunc func(ctx context.Context, messages []*schema.Message, tools []string) (*Response, error)

func (f GatewayFunc) Invoke(ctx context.Context, messages []*schema.Message, tools []string) (*Response, error) {
	return f(ctx, messages, tools)
}

type roleKey struct{}

// WithRole tags ctx with the role a call is made for.
func WithRole(ctx context.Context, role consts.Role) context.Context {
	return context.WithValue(ctx, roleKey{}, role)
}

func RoleFromContext(ctx context.Context) consts.Role {
	if r, ok := ctx.Value(roleKey{}).(consts.Role); ok {
		return r
	}
	return consts.RoleUnknown
}

// AssistantMessage converts a tool-requesting response back into the
// conversation so the follow-up call sees its own requests.
func AssistantMessage(resp *Response) *schema.Message {
	calls := make([]schema.ToolCall, 0, len(resp.ToolCalls))
	for _, tc := range resp.ToolCalls {
		calls = append(calls, schema.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: schema.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}
	return schema.AssistantMessage(resp.Text, calls)
}
