package agents

import (
	"context"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// boundTemplate merges fixed variables into every Format call.
type boundTemplate struct {
	vars  map[string]any
	inner prompt.ChatTemplate
}

func (b *boundTemplate) Format(ctx context.Context, vs map[string]any, opts ...prompt.Option) ([]*schema.Message, error) {
	merged := make(map[string]any, len(vs)+len(b.vars))
	for k, v := range vs {
		merged[k] = v
	}
	for k, v := range b.vars {
		merged[k] = v
	}
	return b.inner.Format(ctx, merged, opts...)
}
