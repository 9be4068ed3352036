package consts

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAnalysts(t *testing.T) {
	tests := []struct {
		name string
		keys []string
		want []Role
	}{
		{"report order", []string{"news", "market"}, []Role{MarketAnalyst, NewsAnalyst}},
		{"dedupes", []string{"news", "market", "news", " NEWS "}, []Role{MarketAnalyst, NewsAnalyst}},
		{"sentiment alias", []string{"sentiment", "social"}, []Role{SentimentAnalyst}},
		{"all", []string{"fundamentals", "social", "news", "market"}, Analysts},
		{"empty", nil, []Role{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAnalysts(tt.keys)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseAnalysts([]string{"market", "astrology"})
	assert.Error(t, err)
}

func TestRoleNamesRoundTrip(t *testing.T) {
	for _, r := range Roles {
		parsed, err := ParseRole(r.String())
		require.NoError(t, err)
		assert.Equal(t, r, parsed)
		assert.NotEqual(t, "Unknown", r.Label(), r.String())
		assert.Equal(t, r.IsAnalyst(), r.AnalystKey() != "", r.String())
	}
	_, err := ParseRole("portfolio_manager")
	assert.Error(t, err)
}

func TestRoleJSON(t *testing.T) {
	b, err := json.Marshal([]Role{Bull, RiskJudge})
	require.NoError(t, err)
	assert.JSONEq(t, `["bull_researcher","risk_judge"]`, string(b))

	var back []Role
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, []Role{Bull, RiskJudge}, back)
	assert.Error(t, json.Unmarshal([]byte(`["chairman"]`), &back))
}

func TestLoopOrder(t *testing.T) {
	assert.Equal(t, []Role{Bull, Bear}, LoopResearch.Order())
	assert.Equal(t, []Role{Risky, Safe, Neutral}, LoopRisk.Order())
	assert.Nil(t, Loop("other").Order())
}

func TestStageText(t *testing.T) {
	for st := StagePending; st <= StageDone; st++ {
		b, err := st.MarshalText()
		require.NoError(t, err)
		var back Stage
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, st, back)
	}
	var s Stage
	assert.Error(t, s.UnmarshalText([]byte("lunch")))
}
