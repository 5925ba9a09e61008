package normalize

import (
	"math"
	"strings"
	"unicode"

	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/observ"
)

type ratioKind int

const (
	kindPlain ratioKind = iota
	kindDebtEquity
	kindPercent
	kindYield
	kindPE
)

// Unit is how a source expresses percentage metrics.
type Unit int

const (
	// UnitAuto reads margins and returns below 2 as fractions and yields
	// as fractions always, which is how the structured upstreams report them.
	UnitAuto Unit = iota
	// UnitPercent marks values that are already percentages.
	UnitPercent
)

var metricKinds = map[string]ratioKind{
	"de":                kindDebtEquity,
	"debttoequity":      kindDebtEquity,
	"debtequity":        kindDebtEquity,
	"debttoequityratio": kindDebtEquity,
	"debtequityratio":   kindDebtEquity,

	"roe":             kindPercent,
	"roa":             kindPercent,
	"returnonequity":  kindPercent,
	"returnonassets":  kindPercent,
	"profitmargin":    kindPercent,
	"netmargin":       kindPercent,
	"grossmargin":     kindPercent,
	"operatingmargin": kindPercent,

	"dividendyield": kindYield,
	"yield":         kindYield,

	"pe":                 kindPE,
	"peratio":            kindPE,
	"trailingpe":         kindPE,
	"forwardpe":          kindPE,
	"priceearnings":      kindPE,
	"priceearningsratio": kindPE,
}

const (
	maxPercent      = 100.0
	maxPE           = 1000.0
	maxSaneDebtEq   = 10.0
	debtEqRescaleAt = 100.0
)

// canonicalMetric lowercases name and drops everything but letters and digits,
// so "P_E_ratio", "peRatio" and "P/E Ratio" compare equal.
func canonicalMetric(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func kindOf(metric string) ratioKind {
	c := canonicalMetric(metric)
	if k, ok := metricKinds[c]; ok {
		return k
	}
	if strings.HasSuffix(c, "margin") {
		return kindPercent
	}
	return kindPlain
}

// NormalizeRatio renders a ratio for display with two decimals after
// metric-specific plausibility correction, or "N/A" when the value is
// absent or rejected. context names the caller (usually the symbol) in logs.
//
// Debt/equity above 100 is taken as a mis-scaled percentage and divided by
// 100; negative debt/equity is clamped to zero. Percentage metrics below 2 in
// magnitude are fractions and scaled by 100; above 100 they are rejected.
// Dividend yields are fractions. P/E outside ±1000 is rejected. A string
// carrying a "%" sign is already a percentage.
func NormalizeRatio(raw any, metric, context string) string {
	return NormalizeRatioIn(raw, metric, context, UnitAuto)
}

// NormalizeRatioIn is NormalizeRatio for a source whose percentage metrics
// are expressed in unit.
func NormalizeRatioIn(raw any, metric, context string, unit Unit) string {
	p := ParseNumber(raw)
	if p == nil {
		return NA
	}
	v := *p
	if s, ok := raw.(string); ok && strings.Contains(s, "%") {
		unit = UnitPercent
	}

	switch kindOf(metric) {
	case kindDebtEquity:
		if v > debtEqRescaleAt {
			v /= 100
		}
		if v < 0 {
			return FormatFixed(0)
		}
		if v > maxSaneDebtEq {
			suspect(metric, context, v, "kept")
		}
		return FormatFixed(v)

	case kindPercent:
		if unit == UnitAuto && math.Abs(v) < 2 {
			return FormatFixed(v * 100)
		}
		return percent(v, metric, context)

	case kindYield:
		if unit == UnitAuto {
			v *= 100
		}
		return percent(v, metric, context)

	case kindPE:
		if math.Abs(v) > maxPE {
			suspect(metric, context, v, "rejected")
			return NA
		}
		return FormatFixed(v)
	}
	return FormatFixed(v)
}

func percent(v float64, metric, context string) string {
	if math.Abs(v) > maxPercent {
		suspect(metric, context, v, "rejected")
		return NA
	}
	return FormatFixed(v)
}

func suspect(metric, context string, v float64, action string) {
	observ.Warn("ratio_suspect", map[string]any{
		"metric":  metric,
		"context": context,
		"value":   v,
		"action":  action,
	})
}
