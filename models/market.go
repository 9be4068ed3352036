package models

import "math"

// MarketData is one daily OHLCV candle. Date uses DateLayout, so bars sort
// chronologically as strings.
type MarketData struct {
	Symbol string  `json:"symbol"`
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// Typical is the (high+low+close)/3 price used by money-flow indicators.
func (m *MarketData) Typical() float64 {
	return (m.High + m.Low + m.Close) / 3
}

// TrueRange is the largest of today's range and the gaps from prevClose.
// A NaN prevClose means there is no previous bar.
func (m *MarketData) TrueRange(prevClose float64) float64 {
	r := m.High - m.Low
	if math.IsNaN(prevClose) {
		return r
	}
	return math.Max(r, math.Max(math.Abs(m.High-prevClose), math.Abs(m.Low-prevClose)))
}

// IndicatorValue is one indicator reading on a trading day.
type IndicatorValue struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}
