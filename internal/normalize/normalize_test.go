package normalize

import (
	"encoding/json"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/observ"
)

func init() {
	observ.SetLogOutput(io.Discard)
}

func TestNormalizeRatio(t *testing.T) {
	tests := []struct {
		name   string
		raw    any
		metric string
		want   string
	}{
		{"roe above 100 rejected", 150, "ROE", "N/A"},
		{"roe fraction scaled", 0.15, "ROE", "15.00"},
		{"pe beyond 1000 rejected", 1500, "P_E_ratio", "N/A"},
		{"pe negative beyond 1000 rejected", -1200.0, "peRatio", "N/A"},
		{"pe in range", 28.456, "trailingPE", "28.46"},
		{"pe string", "31.2", "PE", "31.20"},
		{"roe percent kept", 25.5, "returnOnEquity", "25.50"},
		{"roe string with percent sign kept", "0.42%", "ROE", "0.42"},
		{"dividend yield fraction scaled", 0.0051, "dividendYield", "0.51"},
		{"dividend yield above 2 percent as fraction", 0.035, "DividendYield", "3.50"},
		{"dividend yield string with percent sign", "0.52%", "dividendYield", "0.52"},
		{"dividend yield over 100 percent rejected", 1.5, "dividendYield", "N/A"},
		{"margin suffix recognised", 0.0725, "operating_margin", "7.25"},
		{"margin below -100 rejected", -250, "profitMargin", "N/A"},
		{"debt equity rescaled", 145.2, "debtToEquity", "1.45"},
		{"debt equity negative clamped", -0.3, "Debt/Equity", "0.00"},
		{"debt equity suspicious kept", 42.0, "debtToEquity", "42.00"},
		{"debt equity plain", 0.87, "D_E", "0.87"},
		{"plain metric formatted", 1.23456, "beta", "1.23"},
		{"half rounds away from zero", 2.675, "eps", "2.68"},
		{"nil is N/A", nil, "ROE", "N/A"},
		{"None is N/A", "None", "peRatio", "N/A"},
		{"garbage is N/A", "abc", "debtToEquity", "N/A"},
		{"NaN is N/A", math.NaN(), "eps", "N/A"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeRatio(tt.raw, tt.metric, "TEST"))
		})
	}
}

func TestNormalizeRatioInPercentUnits(t *testing.T) {
	tests := []struct {
		name   string
		raw    any
		metric string
		want   string
	}{
		{"small margin not rescaled", 1.5, "profitMargin", "1.50"},
		{"small yield not rescaled", 0.52, "dividendYield", "0.52"},
		{"roe kept", 15.6, "ROE", "15.60"},
		{"margin above 100 rejected", 150.0, "operatingMargin", "N/A"},
		{"debt equity unaffected", 145.2, "debtToEquity", "1.45"},
		{"pe unaffected", 29.4, "peRatio", "29.40"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeRatioIn(tt.raw, tt.metric, "TEST", UnitPercent))
		})
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		raw  any
		want *float64
	}{
		{"1,234.50", Float(1234.5)},
		{" 12.5% ", Float(12.5)},
		{"$187.44", Float(187.44)},
		{json.Number("3.5"), Float(3.5)},
		{int64(42), Float(42)},
		{"-", nil},
		{"N/A", nil},
		{"none", nil},
		{"", nil},
		{math.Inf(1), nil},
		{[]int{1}, nil},
	}
	for _, tt := range tests {
		got := ParseNumber(tt.raw)
		if tt.want == nil {
			assert.Nil(t, got, "%v", tt.raw)
			continue
		}
		require.NotNil(t, got, "%v", tt.raw)
		assert.InDelta(t, *tt.want, *got, 1e-9)
	}
}

func TestPercentOrFraction(t *testing.T) {
	assert.InDelta(t, 15.0, PercentOrFraction(0.15), 1e-9)
	assert.InDelta(t, -50.0, PercentOrFraction(-0.5), 1e-9)
	assert.InDelta(t, 12.0, PercentOrFraction(12), 1e-9)
}

func TestFormatMarketCap(t *testing.T) {
	tests := []struct {
		raw  float64
		want string
	}{
		{2.85e12, "2.85T"},
		{512.3e9, "512.30B"},
		{1.5e9, "1.50B"},
		{750e6, "750.00M"},
		{12345, "12345"},
		{0, "N/A"},
		{-5, "N/A"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatMarketCap(tt.raw))
	}
}

func TestExtractMetric(t *testing.T) {
	rules := map[string]Rule{}
	for _, r := range DefaultRules {
		rules[r.Metric] = r
	}

	tests := []struct {
		name   string
		text   string
		metric string
		want   float64
		found  bool
	}{
		{"pe plain", "Apple's P/E ratio is 28.5 as of today.", "peRatio", 28.5, true},
		{"pe spelled out", "It has a price-to-earnings ratio of 31.20.", "peRatio", 31.2, true},
		{"pe trades at", "The stock trades at 19x earnings.", "peRatio", 19, true},
		{"pe implausible skipped", "P/E: 4500. Adjusted P/E: 45", "peRatio", 45, true},
		{"pe negative rejected", "P/E ratio of -12", "peRatio", 0, false},
		{"market cap trillion", "market capitalization of $2.85 trillion", "marketCap", 2.85e12, true},
		{"market cap billion", "Market cap: 512.3B", "marketCap", 512.3e9, true},
		{"market cap raw", "market cap 1,250,000,000", "marketCap", 1.25e9, true},
		{"roe percent", "Return on equity (ROE) is 147.9%", "returnOnEquity", 147.9, true},
		{"eps negative", "EPS (TTM): -1.23", "eps", -1.23, true},
		{"dividend yield", "a dividend yield of 0.52%", "dividendYield", 0.52, true},
		{"debt to equity", "debt-to-equity ratio of 1.87", "debtToEquity", 1.87, true},
		{"missing", "No figures were available.", "peRatio", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractMetric(tt.text, rules[tt.metric])
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.InEpsilon(t, tt.want, got, 1e-9)
			}
		})
	}
}

func TestExtractAll(t *testing.T) {
	text := "Microsoft (MSFT) has a market cap of 3.1 trillion, a P/E of 35.2, " +
		"EPS of 11.80 and a profit margin of 36.3%."
	got := ExtractAll(text, DefaultRules)

	assert.InDelta(t, 3.1e12, got["marketCap"], 1)
	assert.InDelta(t, 35.2, got["peRatio"], 1e-9)
	assert.InDelta(t, 11.8, got["eps"], 1e-9)
	assert.InDelta(t, 36.3, got["profitMargin"], 1e-9)
	assert.NotContains(t, got, "beta")
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"direct", `{"peRatio": 28.5, "name": "Apple"}`},
		{"fenced", "Here you go:\n```json\n{\"peRatio\": 28.5, \"name\": \"Apple\"}\n```\nThanks"},
		{"embedded", `The data is {"peRatio": 28.5, "name": "Apple"} per the latest filing.`},
		{"brace in string", `note {"name": "Apple {Inc}", "peRatio": 28.5} end`},
		{"first candidate invalid", `{not json} then {"peRatio": 28.5, "name": "Apple"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, err := ExtractJSONObject(tt.text)
			require.NoError(t, err)
			pe := ParseNumber(obj["peRatio"])
			require.NotNil(t, pe)
			assert.InDelta(t, 28.5, *pe, 1e-9)
			assert.Contains(t, obj["name"], "Apple")
		})
	}

	_, err := ExtractJSONObject("P/E is about 28")
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestParseMarketCap(t *testing.T) {
	tests := []struct {
		raw  any
		want float64
	}{
		{"2.85T", 2.85e12},
		{"$512.3 billion", 512.3e9},
		{"750M", 750e6},
		{"3.1 tn", 3.1e12},
		{"1,250,000,000", 1.25e9},
		{2.5e9, 2.5e9},
	}
	for _, tt := range tests {
		got := ParseMarketCap(tt.raw)
		require.NotNil(t, got, "%v", tt.raw)
		assert.InEpsilon(t, tt.want, *got, 1e-9, "%v", tt.raw)
	}
	assert.Nil(t, ParseMarketCap("N/A"))
	assert.Nil(t, ParseMarketCap(nil))
}
