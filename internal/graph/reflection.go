package graph

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dyike/tradecouncil/internal/agents"
	"github.com/dyike/tradecouncil/internal/llm"
	"github.com/dyike/tradecouncil/models"
)

var ErrNotReflectable = errors.New("session has no final decision to reflect on")

// MemoryWriter stores a lesson under the situation it was learned from.
type MemoryWriter interface {
	Add(ctx context.Context, situation, recommendation string) (models.Reflection, error)
}

// Reflector turns a finished session and its realised return into a stored
// lesson for later recall.
type Reflector struct {
	gw      llm.Gateway
	mem     MemoryWriter
	timeout time.Duration
	logger  *zap.Logger
}

func NewReflector(gw llm.Gateway, mem MemoryWriter, timeout time.Duration, logger *zap.Logger) *Reflector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultPolicy().CallTimeout
	}
	return &Reflector{gw: gw, mem: mem, timeout: timeout, logger: logger}
}

func (rf *Reflector) Reflect(ctx context.Context, snap models.Snapshot, returns string) (models.Reflection, error) {
	decision, ok := snap.FinalDecision.Get()
	if !ok {
		return models.Reflection{}, ErrNotReflectable
	}
	situation := snap.Reports.Situation()
	msgs, err := agents.ReflectionMessages(ctx, agents.Outcome{
		Ticker:        snap.Ticker,
		TradeDate:     snap.TradeDate,
		Situation:     situation,
		FinalDecision: decision,
		Returns:       returns,
	})
	if err != nil {
		return models.Reflection{}, err
	}
	resp, err := bounded(ctx, rf.timeout, func(c context.Context) (*llm.Response, error) {
		return rf.gw.Invoke(c, msgs, nil)
	})
	if err != nil {
		return models.Reflection{}, err
	}
	if resp == nil || strings.TrimSpace(resp.Text) == "" {
		return models.Reflection{}, errEmptyDecision
	}
	rec, err := rf.mem.Add(ctx, situation, strings.TrimSpace(resp.Text))
	if err != nil {
		return models.Reflection{}, err
	}
	rf.logger.Info("reflection stored", zap.String("session", snap.ID), zap.String("reflection", rec.Id))
	return rec, nil
}
