package dataflows

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dyike/tradecouncil/config"
)

// Provider fans requests out to the configured market data sources.
type Provider struct {
	cache    *Cache
	yahoo    *YahooClient
	longport *LongportClient
	finnhub  *FinnhubClient
	news     *GoogleNewsClient
	logger   *zap.Logger
}

// NewProvider builds the sources cfg has credentials for. Yahoo and Google
// News need none and are always available.
func NewProvider(cfg *config.Config, logger *zap.Logger) (*Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := NewCache(10_000, 30*time.Minute)
	if err != nil {
		return nil, err
	}
	p := &Provider{
		cache:  cache,
		yahoo:  NewYahooClient(cache),
		news:   NewGoogleNewsClient(WithGoogleNewsCache(cache)),
		logger: logger,
	}
	if cfg.FinnhubAPIKey != "" {
		p.finnhub = NewFinnhubClient(cfg.FinnhubAPIKey, WithFinnhubCache(cache))
	}
	if cfg.HasLongport() {
		lp, err := NewLongportClient(cfg.LongportAppKey, cfg.LongportAppSecret, cfg.LongportAccessToken, cache)
		if err != nil {
			logger.Warn("longport disabled", zap.Error(err))
		} else {
			p.longport = lp
		}
	}
	return p, nil
}

// Sources lists the enabled provider names.
func (p *Provider) Sources() []string {
	out := []string{p.yahoo.Name(), p.news.Name()}
	if p.finnhub != nil {
		out = append(out, p.finnhub.Name())
	}
	if p.longport != nil {
		out = append(out, p.longport.Name())
	}
	return out
}

func (p *Provider) Close() {
	p.cache.Close()
}

// Bars prefers Longport when configured and falls back to Yahoo.
func (p *Provider) Bars(ctx context.Context, symbol string, start, end time.Time) ([]*Bar, error) {
	if p.longport != nil {
		bars, err := p.longport.Bars(ctx, longportSymbol(symbol), start, end)
		if err == nil && len(bars) > 0 {
			return bars, nil
		}
		p.logger.Debug("longport bars unavailable, using yahoo", zap.String("symbol", symbol), zap.Error(err))
	}
	return p.yahoo.Bars(ctx, symbol, start, end)
}

// Profile merges Yahoo quote data with Finnhub valuation metrics.
func (p *Provider) Profile(ctx context.Context, symbol string) (*CompanyProfile, error) {
	prof, err := p.yahoo.Profile(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if p.finnhub == nil {
		return prof, nil
	}
	metrics, err := p.finnhub.Metrics(ctx, symbol)
	if err != nil {
		p.logger.Debug("finnhub metrics unavailable", zap.String("symbol", symbol), zap.Error(err))
		return prof, nil
	}
	merged := *prof
	merged.Metrics = make(map[string]decimal.Decimal, len(prof.Metrics)+len(metrics))
	for k, v := range prof.Metrics {
		merged.Metrics[k] = v
	}
	for k, v := range metrics {
		merged.Metrics[k] = v
	}
	return &merged, nil
}

// CompanyNews uses Finnhub when available and Google News otherwise.
func (p *Provider) CompanyNews(ctx context.Context, symbol string, from, to time.Time) ([]*NewsArticle, error) {
	if p.finnhub != nil {
		return p.finnhub.CompanyNews(ctx, symbol, from, to)
	}
	return p.news.Search(ctx, symbol+" stock", from, to, 20)
}

func (p *Provider) SearchNews(ctx context.Context, query string, from, to time.Time, limit int) ([]*NewsArticle, error) {
	return p.news.Search(ctx, query, from, to, limit)
}

// GlobalNews returns macro headlines. Finnhub results are filtered to the
// window since its general feed ignores dates.
func (p *Provider) GlobalNews(ctx context.Context, from, to time.Time, limit int) ([]*NewsArticle, error) {
	if p.finnhub != nil {
		all, err := p.finnhub.GeneralNews(ctx, "general")
		if err == nil {
			var out []*NewsArticle
			for _, a := range all {
				if a.PublishedAt.Before(from) || a.PublishedAt.After(to.AddDate(0, 0, 1)) {
					continue
				}
				out = append(out, a)
				if len(out) == limit {
					break
				}
			}
			if len(out) > 0 {
				return out, nil
			}
		} else {
			p.logger.Debug("finnhub general news unavailable", zap.Error(err))
		}
	}
	return p.news.Search(ctx, "stock market economy", from, to, limit)
}

func (p *Provider) InsiderTransactions(ctx context.Context, symbol string, from, to time.Time) ([]*InsiderTransaction, error) {
	if p.finnhub == nil {
		return nil, fmt.Errorf("insider transactions: %w", ErrFinnhubKey)
	}
	return p.finnhub.InsiderTransactions(ctx, symbol, from, to)
}

func (p *Provider) InsiderSentiment(ctx context.Context, symbol string, from, to time.Time) ([]*InsiderSentiment, error) {
	if p.finnhub == nil {
		return nil, fmt.Errorf("insider sentiment: %w", ErrFinnhubKey)
	}
	return p.finnhub.InsiderSentiment(ctx, symbol, from, to)
}

func (p *Provider) Statements(ctx context.Context, symbol string, kind StatementKind, freq string, asOf time.Time) ([]*Statement, error) {
	if p.finnhub == nil {
		return nil, fmt.Errorf("%s: %w", strings.ToLower(kind.Title()), ErrFinnhubKey)
	}
	return p.finnhub.Statements(ctx, symbol, kind, freq, asOf)
}

// longportSymbol adds the US market suffix Longport expects.
func longportSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.Contains(s, ".") {
		return s
	}
	return s + ".US"
}
