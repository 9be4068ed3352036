package graph

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/dyike/tradecouncil/config"
	"github.com/dyike/tradecouncil/consts"
	"github.com/dyike/tradecouncil/internal/llm"
)

// Policy bounds every blocking call the orchestrator makes.
type Policy struct {
	CallTimeout   time.Duration
	MemoryTimeout time.Duration
	// MaxRetries is the number of extra attempts after a timed-out call.
	MaxRetries    int
	Backoff       time.Duration
	MaxToolSteps  int
	MemoryMatches int
}

func DefaultPolicy() Policy {
	return Policy{
		CallTimeout:   2 * time.Minute,
		MemoryTimeout: 5 * time.Second,
		MaxRetries:    2,
		Backoff:       500 * time.Millisecond,
		MaxToolSteps:  6,
		MemoryMatches: 2,
	}
}

func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		CallTimeout:   cfg.LLMTimeout(),
		MemoryTimeout: cfg.MemoryTimeout(),
		MaxRetries:    cfg.MaxRetries,
		Backoff:       cfg.RetryBackoff(),
		MaxToolSteps:  cfg.MaxToolSteps,
		MemoryMatches: cfg.MemoryMatches,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, llm.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// bounded runs fn with its own deadline and stops waiting when the deadline
// passes even if fn ignores its context.
func bounded[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(callCtx)
		done <- result{v, err}
	}()
	select {
	case r := <-done:
		return r.v, r.err
	case <-callCtx.Done():
		var zero T
		return zero, callCtx.Err()
	}
}

// call invokes gw for role. Timeouts are retried with exponential backoff up
// to MaxRetries times; any other error fails immediately.
func (o *Orchestrator) call(ctx context.Context, role consts.Role, gw llm.Gateway, msgs []*schema.Message, tools []string) (*llm.Response, error) {
	ctx = llm.WithRole(ctx, role)
	op := func() (*llm.Response, error) {
		start := time.Now()
		resp, err := bounded(ctx, o.policy.CallTimeout, func(c context.Context) (*llm.Response, error) {
			return gw.Invoke(c, msgs, tools)
		})
		switch {
		case err == nil:
			o.metrics.GatewayCall(role, "ok", time.Since(start))
			if resp == nil {
				resp = &llm.Response{}
			}
			return resp, nil
		case ctx.Err() != nil:
			o.metrics.GatewayCall(role, "cancelled", time.Since(start))
			return nil, backoff.Permanent(ctx.Err())
		case isTimeout(err):
			o.metrics.GatewayCall(role, "timeout", time.Since(start))
			return nil, err
		default:
			o.metrics.GatewayCall(role, "error", time.Since(start))
			return nil, backoff.Permanent(err)
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.policy.Backoff
	b.MaxInterval = 30 * time.Second
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(o.policy.MaxRetries+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			o.metrics.GatewayRetry(role)
			o.logger.Warn("llm call timed out, retrying",
				zap.Stringer("role", role),
				zap.Duration("wait", wait),
				zap.Error(err))
		}),
	)
}
