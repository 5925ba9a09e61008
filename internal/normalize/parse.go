// Package normalize coerces heterogeneous provider values into the display
// shapes the API returns: nullable floats, two-decimal strings and "N/A".
package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// NA is the display value for missing or rejected numbers.
const NA = "N/A"

var absentTokens = map[string]bool{
	"":     true,
	"-":    true,
	"--":   true,
	"n/a":  true,
	"na":   true,
	"none": true,
	"null": true,
	"nan":  true,
}

// ParseNumber coerces a provider value to a float. Strings may carry a
// percent sign, currency sign, thousands separators or surrounding
// whitespace. It returns nil for absent, placeholder or non-finite values.
func ParseNumber(raw any) *float64 {
	var v float64
	switch t := raw.(type) {
	case nil:
		return nil
	case float64:
		v = t
	case float32:
		v = float64(t)
	case int:
		v = float64(t)
	case int64:
		v = float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil
		}
		v = f
	case decimal.Decimal:
		v = t.InexactFloat64()
	case *float64:
		if t == nil {
			return nil
		}
		v = *t
	case string:
		f, ok := parseString(t)
		if !ok {
			return nil
		}
		v = f
	default:
		return nil
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func parseString(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if absentTokens[strings.ToLower(s)] {
		return 0, false
	}
	s = strings.TrimSuffix(s, "%")
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Float returns a pointer to v, or nil when v is not finite.
func Float(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// PercentOrFraction treats magnitudes below 2 as decimal fractions and
// scales them to percent.
func PercentOrFraction(v float64) float64 {
	if math.Abs(v) < 2 {
		return v * 100
	}
	return v
}

// FormatFixed renders v with exactly two decimals, rounding half away from zero.
func FormatFixed(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return NA
	}
	return decimal.NewFromFloat(v).StringFixed(2)
}

var capUnits = []struct {
	suffix string
	scale  decimal.Decimal
}{
	{"T", decimal.New(1, 12)},
	{"B", decimal.New(1, 9)},
	{"M", decimal.New(1, 6)},
}

// FormatMarketCap humanizes a raw market capitalization, e.g. "2.85T".
func FormatMarketCap(raw float64) string {
	if raw <= 0 || math.IsNaN(raw) || math.IsInf(raw, 0) {
		return NA
	}
	d := decimal.NewFromFloat(raw)
	for _, u := range capUnits {
		if d.GreaterThanOrEqual(u.scale) {
			return d.Div(u.scale).StringFixed(2) + u.suffix
		}
	}
	return d.StringFixed(0)
}

var capWords = []struct {
	suffix string
	mult   float64
}{
	{"trillion", 1e12},
	{"billion", 1e9},
	{"million", 1e6},
	{"tn", 1e12},
	{"bn", 1e9},
	{"mm", 1e6},
	{"t", 1e12},
	{"b", 1e9},
	{"m", 1e6},
	{"k", 1e3},
}

// ParseMarketCap is ParseNumber that also accepts humanized amounts such as
// "2.85T", "$512.3 billion" or "750M".
func ParseMarketCap(raw any) *float64 {
	s, ok := raw.(string)
	if !ok {
		return ParseNumber(raw)
	}
	lower := strings.ToLower(strings.TrimSpace(s))
	for _, w := range capWords {
		if !strings.HasSuffix(lower, w.suffix) {
			continue
		}
		if v := ParseNumber(strings.TrimSpace(strings.TrimSuffix(lower, w.suffix))); v != nil {
			scaled := *v * w.mult
			return &scaled
		}
	}
	return ParseNumber(s)
}
