package dataflows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/dyike/tradecouncil/models"
)

const finnhubBaseURL = "https://finnhub.io/api/v1"

var ErrFinnhubKey = errors.New("finnhub API key not configured")

// FinnhubClient handles Finnhub API operations
type FinnhubClient struct {
	client  *resty.Client
	limiter *rate.Limiter
	cache   *Cache
	apiKey  string
}

type FinnhubOption func(*FinnhubClient)

// WithFinnhubBaseURL points the client at another host, for tests.
func WithFinnhubBaseURL(u string) FinnhubOption {
	return func(f *FinnhubClient) { f.client.SetBaseURL(u) }
}

func WithFinnhubCache(c *Cache) FinnhubOption {
	return func(f *FinnhubClient) { f.cache = c }
}

// NewFinnhubClient creates a Finnhub client limited to the free tier's 60
// calls per minute.
func NewFinnhubClient(apiKey string, opts ...FinnhubOption) *FinnhubClient {
	client := resty.New()
	client.SetBaseURL(finnhubBaseURL)
	client.SetTimeout(30 * time.Second)

	f := &FinnhubClient{
		client:  client,
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
		apiKey:  apiKey,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FinnhubClient) Name() string { return "finnhub" }

// get issues one rate-limited request and decodes the body into T.
func get[T any](ctx context.Context, f *FinnhubClient, path string, params map[string]string) (T, error) {
	var zero T
	if f.apiKey == "" {
		return zero, ErrFinnhubKey
	}
	return withRetry(ctx, func() (T, error) {
		var out T
		if err := f.limiter.Wait(ctx); err != nil {
			return zero, backoff.Permanent(err)
		}
		resp, err := f.client.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetQueryParam("token", f.apiKey).
			SetResult(&out).
			Get(path)
		if err != nil {
			return zero, fmt.Errorf("finnhub %s: %w", path, err)
		}
		switch code := resp.StatusCode(); {
		case code == 429 || code >= 500:
			return zero, fmt.Errorf("finnhub %s: status %d", path, code)
		case code != 200:
			return zero, backoff.Permanent(fmt.Errorf("finnhub %s: status %d: %s", path, code, resp.String()))
		}
		return out, nil
	})
}

type finnhubNews struct {
	DateTime int64  `json:"datetime"`
	Headline string `json:"headline"`
	Source   string `json:"source"`
	Summary  string `json:"summary"`
	URL      string `json:"url"`
}

func toArticles(in []finnhubNews) []*NewsArticle {
	out := make([]*NewsArticle, 0, len(in))
	for _, n := range in {
		out = append(out, &NewsArticle{
			Title:       n.Headline,
			Summary:     n.Summary,
			URL:         n.URL,
			Source:      n.Source,
			PublishedAt: time.Unix(n.DateTime, 0).UTC(),
		})
	}
	return out
}

// CompanyNews gets news articles for a specific company
func (f *FinnhubClient) CompanyNews(ctx context.Context, symbol string, from, to time.Time) ([]*NewsArticle, error) {
	symbol, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	params := map[string]string{
		"symbol": symbol,
		"from":   from.Format(models.DateLayout),
		"to":     to.Format(models.DateLayout),
	}
	key := "finnhub:news:" + symbol + params["from"] + params["to"]
	return cached(f.cache, key, func() ([]*NewsArticle, error) {
		raw, err := get[[]finnhubNews](ctx, f, "/company-news", params)
		if err != nil {
			return nil, err
		}
		return toArticles(raw), nil
	})
}

// GeneralNews gets general market news
func (f *FinnhubClient) GeneralNews(ctx context.Context, category string) ([]*NewsArticle, error) {
	if category == "" {
		category = "general"
	}
	return cached(f.cache, "finnhub:general:"+category, func() ([]*NewsArticle, error) {
		raw, err := get[[]finnhubNews](ctx, f, "/news", map[string]string{"category": category})
		if err != nil {
			return nil, err
		}
		return toArticles(raw), nil
	})
}

type finnhubInsiderTransactions struct {
	Data []struct {
		Symbol           string  `json:"symbol"`
		Name             string  `json:"name"`
		Share            int64   `json:"share"`
		Change           int64   `json:"change"`
		FilingDate       string  `json:"filingDate"`
		TransactionDate  string  `json:"transactionDate"`
		TransactionCode  string  `json:"transactionCode"`
		TransactionPrice float64 `json:"transactionPrice"`
	} `json:"data"`
}

// InsiderTransactions gets insider trading data for a company
func (f *FinnhubClient) InsiderTransactions(ctx context.Context, symbol string, from, to time.Time) ([]*InsiderTransaction, error) {
	symbol, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	raw, err := get[finnhubInsiderTransactions](ctx, f, "/stock/insider-transactions", map[string]string{
		"symbol": symbol,
		"from":   from.Format(models.DateLayout),
		"to":     to.Format(models.DateLayout),
	})
	if err != nil {
		return nil, err
	}
	out := make([]*InsiderTransaction, 0, len(raw.Data))
	for _, t := range raw.Data {
		out = append(out, &InsiderTransaction{
			Symbol:           t.Symbol,
			PersonName:       t.Name,
			Share:            t.Share,
			Change:           t.Change,
			FilingDate:       t.FilingDate,
			TransactionDate:  t.TransactionDate,
			TransactionCode:  t.TransactionCode,
			TransactionPrice: decimal.NewFromFloat(t.TransactionPrice),
		})
	}
	return out, nil
}

type finnhubInsiderSentiment struct {
	Data []struct {
		Symbol string  `json:"symbol"`
		Year   int     `json:"year"`
		Month  int     `json:"month"`
		Change int64   `json:"change"`
		MSPR   float64 `json:"mspr"`
	} `json:"data"`
}

// InsiderSentiment gets monthly insider sentiment for a company
func (f *FinnhubClient) InsiderSentiment(ctx context.Context, symbol string, from, to time.Time) ([]*InsiderSentiment, error) {
	symbol, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	raw, err := get[finnhubInsiderSentiment](ctx, f, "/stock/insider-sentiment", map[string]string{
		"symbol": symbol,
		"from":   from.Format(models.DateLayout),
		"to":     to.Format(models.DateLayout),
	})
	if err != nil {
		return nil, err
	}
	out := make([]*InsiderSentiment, 0, len(raw.Data))
	for _, s := range raw.Data {
		out = append(out, &InsiderSentiment{
			Symbol: s.Symbol,
			Year:   s.Year,
			Month:  s.Month,
			Change: s.Change,
			MSPR:   decimal.NewFromFloat(s.MSPR),
		})
	}
	return out, nil
}

type finnhubMetrics struct {
	Metric map[string]any `json:"metric"`
}

// headlineMetrics are the valuation figures surfaced to the fundamentals analyst.
var headlineMetrics = []string{
	"marketCapitalization", "peTTM", "pbQuarterly", "psTTM", "epsTTM",
	"dividendYieldIndicatedAnnual", "roeTTM", "roaTTM", "grossMarginTTM",
	"netProfitMarginTTM", "currentRatioQuarterly", "totalDebt/totalEquityQuarterly",
	"revenueGrowthTTMYoy", "epsGrowthTTMYoy", "beta", "52WeekHigh", "52WeekLow",
}

// Metrics returns headline valuation metrics for symbol.
func (f *FinnhubClient) Metrics(ctx context.Context, symbol string) (map[string]decimal.Decimal, error) {
	symbol, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	return cached(f.cache, "finnhub:metric:"+symbol, func() (map[string]decimal.Decimal, error) {
		raw, err := get[finnhubMetrics](ctx, f, "/stock/metric", map[string]string{"symbol": symbol, "metric": "all"})
		if err != nil {
			return nil, err
		}
		out := make(map[string]decimal.Decimal, len(headlineMetrics))
		for _, name := range headlineMetrics {
			if v, ok := raw.Metric[name].(float64); ok {
				out[name] = decimal.NewFromFloat(v)
			}
		}
		return out, nil
	})
}

type finnhubFinancials struct {
	Data []struct {
		Year    int    `json:"year"`
		Quarter int    `json:"quarter"`
		Form    string `json:"form"`
		Filed   string `json:"filedDate"`
		Report  map[string][]struct {
			Concept string  `json:"concept"`
			Label   string  `json:"label"`
			Unit    string  `json:"unit"`
			Value   float64 `json:"value"`
		} `json:"report"`
	} `json:"data"`
}

// Statements returns reported statements of kind filed on or before asOf,
// newest first.
func (f *FinnhubClient) Statements(ctx context.Context, symbol string, kind StatementKind, freq string, asOf time.Time) ([]*Statement, error) {
	symbol, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	freq = strings.ToLower(strings.TrimSpace(freq))
	if freq != "annual" {
		freq = "quarterly"
	}
	raw, err := cached(f.cache, "finnhub:financials:"+symbol+":"+freq, func() (finnhubFinancials, error) {
		return get[finnhubFinancials](ctx, f, "/stock/financials-reported", map[string]string{"symbol": symbol, "freq": freq})
	})
	if err != nil {
		return nil, err
	}
	cutoff := asOf.Format(models.DateLayout)
	var out []*Statement
	for _, d := range raw.Data {
		if !asOf.IsZero() && d.Filed != "" && d.Filed[:min(len(d.Filed), 10)] > cutoff {
			continue
		}
		st := &Statement{Symbol: symbol, Year: d.Year, Quarter: d.Quarter, Form: d.Form, Filed: d.Filed}
		for _, item := range d.Report[string(kind)] {
			st.Items = append(st.Items, LineItem{
				Concept: item.Concept,
				Label:   item.Label,
				Unit:    item.Unit,
				Value:   decimal.NewFromFloat(item.Value),
			})
		}
		out = append(out, st)
	}
	return out, nil
}
