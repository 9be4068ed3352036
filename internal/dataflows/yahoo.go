package dataflows

import (
	"context"
	"fmt"
	"time"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/quote"
	"github.com/shopspring/decimal"

	"github.com/dyike/tradecouncil/models"
)

// YahooClient reads daily candles and quotes from Yahoo Finance.
type YahooClient struct {
	cache *Cache
}

func NewYahooClient(cache *Cache) *YahooClient {
	return &YahooClient{cache: cache}
}

func (y *YahooClient) Name() string { return "yahoo" }

// Bars returns daily candles in [start, end], oldest first.
func (y *YahooClient) Bars(ctx context.Context, symbol string, start, end time.Time) ([]*Bar, error) {
	symbol, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("yahoo:bars:%s:%s:%s", symbol, start.Format(models.DateLayout), end.Format(models.DateLayout))
	return cached(y.cache, key, func() ([]*Bar, error) {
		return withRetry(ctx, func() ([]*Bar, error) {
			iter := chart.Get(&chart.Params{
				Symbol:   symbol,
				Start:    datetime.New(&start),
				End:      datetime.New(&end),
				Interval: datetime.OneDay,
			})
			var bars []*Bar
			for iter.Next() {
				b := iter.Bar()
				bars = append(bars, &Bar{
					Symbol: symbol,
					Date:   time.Unix(int64(b.Timestamp), 0).UTC().Format(models.DateLayout),
					Open:   toFloat(b.Open),
					High:   toFloat(b.High),
					Low:    toFloat(b.Low),
					Close:  toFloat(b.Close),
					Volume: int64(b.Volume),
				})
			}
			if err := iter.Err(); err != nil {
				return nil, fmt.Errorf("yahoo bars for %s: %w", symbol, err)
			}
			return bars, nil
		})
	})
}

// Profile returns headline quote data for symbol.
func (y *YahooClient) Profile(ctx context.Context, symbol string) (*CompanyProfile, error) {
	symbol, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	return cached(y.cache, "yahoo:profile:"+symbol, func() (*CompanyProfile, error) {
		return withRetry(ctx, func() (*CompanyProfile, error) {
			q, err := quote.Get(symbol)
			if err != nil {
				return nil, fmt.Errorf("yahoo quote for %s: %w", symbol, err)
			}
			if q == nil {
				return nil, fmt.Errorf("yahoo quote for %s: not found", symbol)
			}
			return &CompanyProfile{
				Symbol:   symbol,
				Name:     q.ShortName,
				Exchange: q.FullExchangeName,
				Currency: q.CurrencyID,
				Price:    decimal.NewFromFloat(q.RegularMarketPrice),
				Metrics: map[string]decimal.Decimal{
					"fifty_day_average":       decimal.NewFromFloat(q.FiftyDayAverage),
					"two_hundred_day_average": decimal.NewFromFloat(q.TwoHundredDayAverage),
					"fifty_two_week_high":     decimal.NewFromFloat(q.FiftyTwoWeekHigh),
					"fifty_two_week_low":      decimal.NewFromFloat(q.FiftyTwoWeekLow),
				},
			}, nil
		})
	})
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
