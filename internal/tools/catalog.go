package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/dyike/tradecouncil/internal/agents"
	"github.com/dyike/tradecouncil/internal/dataflows"
	"github.com/dyike/tradecouncil/internal/llm"
	"github.com/dyike/tradecouncil/models"
)

// ErrUnknownTool is returned for names outside the catalog.
var ErrUnknownTool = errors.New("unknown tool")

// DataSource is what the analyst tools read from. *dataflows.Provider
// implements it.
type DataSource interface {
	Bars(ctx context.Context, symbol string, start, end time.Time) ([]*dataflows.Bar, error)
	Profile(ctx context.Context, symbol string) (*dataflows.CompanyProfile, error)
	CompanyNews(ctx context.Context, symbol string, from, to time.Time) ([]*dataflows.NewsArticle, error)
	GlobalNews(ctx context.Context, from, to time.Time, limit int) ([]*dataflows.NewsArticle, error)
	InsiderTransactions(ctx context.Context, symbol string, from, to time.Time) ([]*dataflows.InsiderTransaction, error)
	InsiderSentiment(ctx context.Context, symbol string, from, to time.Time) ([]*dataflows.InsiderSentiment, error)
	Statements(ctx context.Context, symbol string, kind dataflows.StatementKind, freq string, asOf time.Time) ([]*dataflows.Statement, error)
}

// Output is what every tool returns to the model.
type Output struct {
	Result string `json:"result"`
}

// Catalog holds the analyst tools and runs the calls the model requests.
type Catalog struct {
	tools  map[string]tool.InvokableTool
	infos  map[string]*schema.ToolInfo
	logger *zap.Logger
}

type Option func(*Catalog)

func WithLogger(l *zap.Logger) Option {
	return func(c *Catalog) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewCatalog(ctx context.Context, src DataSource, opts ...Option) (*Catalog, error) {
	c := &Catalog{
		tools:  make(map[string]tool.InvokableTool),
		infos:  make(map[string]*schema.ToolInfo),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	all := []tool.InvokableTool{
		newStockDataTool(src),
		newIndicatorTool(src),
		newNewsTool(src),
		newGlobalNewsTool(src),
		newFundamentalsTool(src),
		newStatementTool(src, agents.ToolBalanceSheet, dataflows.BalanceSheet),
		newStatementTool(src, agents.ToolCashflow, dataflows.CashFlow),
		newStatementTool(src, agents.ToolIncomeStatement, dataflows.IncomeStatement),
		newInsiderSentimentTool(src),
		newInsiderTransactionsTool(src),
	}
	for _, t := range all {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool info: %w", err)
		}
		c.tools[info.Name] = t
		c.infos[info.Name] = info
	}
	return c, nil
}

func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.infos))
	for n := range c.infos {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ToolInfos resolves an allow-list into schemas for the chat model.
func (c *Catalog) ToolInfos(names []string) ([]*schema.ToolInfo, error) {
	out := make([]*schema.ToolInfo, 0, len(names))
	for _, n := range names {
		info, ok := c.infos[n]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTool, n)
		}
		out = append(out, info)
	}
	return out, nil
}

// Execute runs one tool call and returns its result text.
func (c *Catalog) Execute(ctx context.Context, call llm.ToolCall) (string, error) {
	t, ok := c.tools[call.Name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}
	args := call.Arguments
	if args == "" {
		args = "{}"
	}
	start := time.Now()
	raw, err := t.InvokableRun(ctx, args)
	c.logger.Debug("tool call",
		zap.String("tool", call.Name),
		zap.Stringer("role", llm.RoleFromContext(ctx)),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err))
	if err != nil {
		return "", err
	}
	var out Output
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return raw, nil
	}
	return out.Result, nil
}

// parseDay reads a YYYY-MM-DD argument, defaulting to def when empty.
func parseDay(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q must be yyyy-mm-dd", s)
	}
	return t, nil
}
