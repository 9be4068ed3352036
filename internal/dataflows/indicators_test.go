package dataflows

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/tradecouncil/models"
)

func linearBars(n int, start time.Time) []*models.MarketData {
	out := make([]*models.MarketData, n)
	for i := range out {
		c := float64(100 + i)
		out[i] = &models.MarketData{
			Symbol: "TEST",
			Date:   start.AddDate(0, 0, i).Format(models.DateLayout),
			Open:   c - 0.5,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: 1000,
		}
	}
	return out
}

func TestSMAOnLinearSeries(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := linearBars(60, start)

	got, err := CalculateIndicator("close_50_sma", bars, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 11)
	// mean of 100..149
	assert.InDelta(t, 124.5, got[0].Value, 1e-9)
	assert.Equal(t, bars[49].Date, got[0].Date)
}

func TestIndicatorWindowUsesEarlierHistory(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := linearBars(40, start)
	from := start.AddDate(0, 0, 30)
	to := start.AddDate(0, 0, 34)

	got, err := CalculateIndicator("boll", bars, from, to)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, from.Format(models.DateLayout), got[0].Date)
	assert.InDelta(t, float64(100+30)-9.5, got[0].Value, 1e-9)
}

func TestRSIAllGainsIsHundred(t *testing.T) {
	bars := linearBars(30, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	got, err := CalculateIndicator("rsi", bars, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	for _, v := range got {
		assert.Equal(t, 100.0, v.Value)
	}
}

func TestBollingerBandsBracketMiddle(t *testing.T) {
	bars := linearBars(30, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	mid, err := CalculateIndicator("boll", bars, time.Time{}, time.Time{})
	require.NoError(t, err)
	ub, err := CalculateIndicator("boll_ub", bars, time.Time{}, time.Time{})
	require.NoError(t, err)
	lb, err := CalculateIndicator("boll_lb", bars, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Equal(t, len(mid), len(ub))
	require.Equal(t, len(mid), len(lb))
	for i := range mid {
		assert.InDelta(t, mid[i].Value-lb[i].Value, ub[i].Value-mid[i].Value, 1e-9)
		assert.Greater(t, ub[i].Value, mid[i].Value)
	}
}

func TestMACDHistogramIsLineMinusSignal(t *testing.T) {
	bars := linearBars(80, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	for i, b := range bars {
		b.Close += 3 * math.Sin(float64(i)/4)
	}
	line, err := CalculateIndicator("macd", bars, time.Time{}, time.Time{})
	require.NoError(t, err)
	signal, err := CalculateIndicator("macds", bars, time.Time{}, time.Time{})
	require.NoError(t, err)
	hist, err := CalculateIndicator("macdh", bars, time.Time{}, time.Time{})
	require.NoError(t, err)

	byDate := func(vs []models.IndicatorValue) map[string]float64 {
		m := make(map[string]float64, len(vs))
		for _, v := range vs {
			m[v.Date] = v.Value
		}
		return m
	}
	l, s := byDate(line), byDate(signal)
	require.Len(t, hist, len(signal))
	for _, h := range hist {
		assert.InDelta(t, l[h.Date]-s[h.Date], h.Value, 1e-9)
	}
}

func TestUnknownIndicator(t *testing.T) {
	_, err := CalculateIndicator("stochastic", linearBars(5, time.Now()), time.Time{}, time.Time{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close_10_ema")
}

func TestCalculateAllIndicatorsCoversEveryName(t *testing.T) {
	bars := linearBars(220, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	got := CalculateAllIndicators(bars, time.Time{}, time.Time{})
	for _, name := range IndicatorNames() {
		assert.NotEmpty(t, got[name], fmt.Sprintf("indicator %s", name))
	}
}

func TestIndicatorSortsInput(t *testing.T) {
	bars := linearBars(25, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	reversed := make([]*models.MarketData, len(bars))
	for i, b := range bars {
		reversed[len(bars)-1-i] = b
	}
	a, err := CalculateIndicator("close_10_ema", bars, time.Time{}, time.Time{})
	require.NoError(t, err)
	b, err := CalculateIndicator("close_10_ema", reversed, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, bars[0].Date, reversed[len(reversed)-1].Date)
}
