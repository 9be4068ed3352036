package dataflows

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/dyike/tradecouncil/models"
)

// IndicatorDescriptions documents every supported indicator for the market
// analyst's tool description.
var IndicatorDescriptions = map[string]string{
	"close_10_ema":  "10 EMA: a responsive short-term average. Use to capture quick shifts in momentum.",
	"close_50_sma":  "50 SMA: a medium-term trend indicator. Use to identify trend direction and dynamic support/resistance.",
	"close_200_sma": "200 SMA: a long-term trend benchmark. Use to confirm the overall market trend and golden/death cross setups.",
	"vwma":          "VWMA: a 20 period moving average weighted by volume. Use to confirm trends with volume.",
	"rsi":           "RSI: 14 period momentum oscillator. 70/30 mark overbought/oversold conditions.",
	"macd":          "MACD: difference of the 12 and 26 EMAs. Look for crossovers and divergence.",
	"macds":         "MACD Signal: a 9 EMA of the MACD line. Crossovers with MACD trigger trades.",
	"macdh":         "MACD Histogram: the gap between MACD and its signal. Visualizes momentum strength.",
	"mfi":           "MFI: 14 period money flow index using price and volume. 80/20 mark overbought/oversold.",
	"boll":          "Bollinger Middle: the 20 SMA basis of the bands.",
	"boll_ub":       "Bollinger Upper Band: 2 standard deviations above the middle line.",
	"boll_lb":       "Bollinger Lower Band: 2 standard deviations below the middle line.",
	"atr":           "ATR: 14 period average true range. Use for stop placement and position sizing.",
}

// IndicatorNames returns the supported indicators in stable order.
func IndicatorNames() []string {
	names := make([]string, 0, len(IndicatorDescriptions))
	for n := range IndicatorDescriptions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// series is one value per bar; NaN marks bars without enough history.
type series []float64

func nanSeries(n int) series {
	s := make(series, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

func closes(data []*models.MarketData) series {
	s := make(series, len(data))
	for i, d := range data {
		s[i] = d.Close
	}
	return s
}

func sma(in series, period int) series {
	out := nanSeries(len(in))
	sum, count := 0.0, 0
	for i, v := range in {
		if math.IsNaN(v) {
			sum, count = 0, 0
			continue
		}
		sum += v
		count++
		if count > period {
			sum -= in[i-period]
			count = period
		}
		if count == period {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// ema seeds with the SMA of the first full window of valid values.
func ema(in series, period int) series {
	out := nanSeries(len(in))
	k := 2.0 / (float64(period) + 1.0)
	start := 0
	for start < len(in) && math.IsNaN(in[start]) {
		start++
	}
	if len(in)-start < period {
		return out
	}
	sum := 0.0
	for i := start; i < start+period; i++ {
		sum += in[i]
	}
	prev := sum / float64(period)
	out[start+period-1] = prev
	for i := start + period; i < len(in); i++ {
		prev = in[i]*k + prev*(1-k)
		out[i] = prev
	}
	return out
}

func stddev(in series, period int) series {
	out := nanSeries(len(in))
	mean := sma(in, period)
	for i := period - 1; i < len(in); i++ {
		if math.IsNaN(mean[i]) {
			continue
		}
		v := 0.0
		for j := i - period + 1; j <= i; j++ {
			d := in[j] - mean[i]
			v += d * d
		}
		out[i] = math.Sqrt(v / float64(period))
	}
	return out
}

func rsi(data []*models.MarketData, period int) series {
	out := nanSeries(len(data))
	if len(data) <= period {
		return out
	}
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		ch := data[i].Close - data[i-1].Close
		if ch > 0 {
			avgGain += ch
		} else {
			avgLoss -= ch
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	value := func() float64 {
		if avgLoss == 0 {
			return 100
		}
		return 100 - 100/(1+avgGain/avgLoss)
	}
	out[period] = value()
	for i := period + 1; i < len(data); i++ {
		ch := data[i].Close - data[i-1].Close
		gain, loss := math.Max(ch, 0), math.Max(-ch, 0)
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = value()
	}
	return out
}

func vwma(data []*models.MarketData, period int) series {
	out := nanSeries(len(data))
	for i := period - 1; i < len(data); i++ {
		var pv, vol float64
		for j := i - period + 1; j <= i; j++ {
			pv += data[j].Close * float64(data[j].Volume)
			vol += float64(data[j].Volume)
		}
		if vol > 0 {
			out[i] = pv / vol
		}
	}
	return out
}

func mfi(data []*models.MarketData, period int) series {
	out := nanSeries(len(data))
	typical := make([]float64, len(data))
	for i, d := range data {
		typical[i] = d.Typical()
	}
	for i := period; i < len(data); i++ {
		var pos, neg float64
		for j := i - period + 1; j <= i; j++ {
			flow := typical[j] * float64(data[j].Volume)
			switch {
			case typical[j] > typical[j-1]:
				pos += flow
			case typical[j] < typical[j-1]:
				neg += flow
			}
		}
		if neg == 0 {
			out[i] = 100
			continue
		}
		out[i] = 100 - 100/(1+pos/neg)
	}
	return out
}

func atr(data []*models.MarketData, period int) series {
	tr := nanSeries(len(data))
	for i := 1; i < len(data); i++ {
		tr[i] = data[i].TrueRange(data[i-1].Close)
	}
	return sma(tr, period)
}

func macdLines(data []*models.MarketData) (line, signal, hist series) {
	c := closes(data)
	fast, slow := ema(c, 12), ema(c, 26)
	line = nanSeries(len(data))
	for i := range line {
		line[i] = fast[i] - slow[i]
	}
	signal = ema(line, 9)
	hist = nanSeries(len(data))
	for i := range hist {
		hist[i] = line[i] - signal[i]
	}
	return line, signal, hist
}

func compute(name string, data []*models.MarketData) (series, error) {
	c := closes(data)
	switch name {
	case "close_10_ema":
		return ema(c, 10), nil
	case "close_50_sma":
		return sma(c, 50), nil
	case "close_200_sma":
		return sma(c, 200), nil
	case "vwma":
		return vwma(data, 20), nil
	case "rsi":
		return rsi(data, 14), nil
	case "macd":
		line, _, _ := macdLines(data)
		return line, nil
	case "macds":
		_, signal, _ := macdLines(data)
		return signal, nil
	case "macdh":
		_, _, hist := macdLines(data)
		return hist, nil
	case "mfi":
		return mfi(data, 14), nil
	case "boll":
		return sma(c, 20), nil
	case "boll_ub", "boll_lb":
		mid, sd := sma(c, 20), stddev(c, 20)
		out := nanSeries(len(c))
		sign := 1.0
		if name == "boll_lb" {
			sign = -1
		}
		for i := range out {
			out[i] = mid[i] + sign*2*sd[i]
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported indicator %q, supported: %s", name, strings.Join(IndicatorNames(), ", "))
	}
}

// CalculateIndicator computes name over data and returns the values dated in
// [start, end]. History before start is used for warm-up.
func CalculateIndicator(name string, data []*models.MarketData, start, end time.Time) ([]models.IndicatorValue, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	sorted := make([]*models.MarketData, len(data))
	copy(sorted, data)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })

	values, err := compute(name, sorted)
	if err != nil {
		return nil, err
	}
	from, to := start.Format(models.DateLayout), end.Format(models.DateLayout)
	var out []models.IndicatorValue
	for i, v := range values {
		d := sorted[i].Date
		if math.IsNaN(v) || (!start.IsZero() && d < from) || (!end.IsZero() && d > to) {
			continue
		}
		out = append(out, models.IndicatorValue{Date: d, Value: v})
	}
	return out, nil
}

// CalculateAllIndicators computes every supported indicator.
func CalculateAllIndicators(data []*models.MarketData, start, end time.Time) map[string][]models.IndicatorValue {
	out := make(map[string][]models.IndicatorValue, len(IndicatorDescriptions))
	for _, name := range IndicatorNames() {
		if v, err := CalculateIndicator(name, data, start, end); err == nil {
			out[name] = v
		}
	}
	return out
}
