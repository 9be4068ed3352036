package dataflows

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	lpconfig "github.com/longportapp/openapi-go/config"
	"github.com/longportapp/openapi-go/quote"
	"github.com/shopspring/decimal"

	"github.com/dyike/tradecouncil/models"
)

var ErrLongportCredentials = errors.New("longport API credentials not configured")

// LongportClient reads daily candles through the Longport quote API. Symbols
// use Longport notation such as AAPL.US or 700.HK.
type LongportClient struct {
	quoteCtx *quote.QuoteContext
	cache    *Cache
}

func NewLongportClient(appKey, appSecret, accessToken string, cache *Cache) (*LongportClient, error) {
	if appKey == "" || appSecret == "" || accessToken == "" {
		return nil, ErrLongportCredentials
	}
	conf, err := lpconfig.New(lpconfig.WithConfigKey(appKey, appSecret, accessToken))
	if err != nil {
		return nil, err
	}
	quoteContext, err := quote.NewFromCfg(conf)
	if err != nil {
		return nil, err
	}
	return &LongportClient{quoteCtx: quoteContext, cache: cache}, nil
}

func (l *LongportClient) Name() string { return "longport" }

func (l *LongportClient) Bars(ctx context.Context, symbol string, start, end time.Time) ([]*Bar, error) {
	symbol, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	// Candlesticks counts back from today, so fetch enough to cover start.
	count := int(time.Since(start).Hours()/24) + 1
	if count < 1 {
		count = 1
	}
	if count > 1000 {
		count = 1000
	}
	key := fmt.Sprintf("longport:bars:%s:%d", symbol, count)
	all, err := cached(l.cache, key, func() ([]*Bar, error) {
		sticks, err := l.quoteCtx.Candlesticks(ctx, symbol, quote.PeriodDay, int32(count), quote.AdjustTypeNo)
		if err != nil {
			return nil, fmt.Errorf("longport candlesticks for %s: %w", symbol, err)
		}
		bars := make([]*Bar, 0, len(sticks))
		for _, s := range sticks {
			bars = append(bars, &Bar{
				Symbol: symbol,
				Date:   time.Unix(s.Timestamp, 0).UTC().Format(models.DateLayout),
				Open:   decimalFloat(s.Open),
				High:   decimalFloat(s.High),
				Low:    decimalFloat(s.Low),
				Close:  decimalFloat(s.Close),
				Volume: s.Volume,
			})
		}
		sort.Slice(bars, func(i, j int) bool { return bars[i].Date < bars[j].Date })
		return bars, nil
	})
	if err != nil {
		return nil, err
	}
	return clip(all, start, end), nil
}

func decimalFloat(d *decimal.Decimal) float64 {
	if d == nil {
		return 0
	}
	return toFloat(*d)
}

// clip keeps bars dated within [start, end].
func clip(bars []*Bar, start, end time.Time) []*Bar {
	from, to := start.Format(models.DateLayout), end.Format(models.DateLayout)
	out := make([]*Bar, 0, len(bars))
	for _, b := range bars {
		if b.Date >= from && b.Date <= to {
			out = append(out, b)
		}
	}
	return out
}
