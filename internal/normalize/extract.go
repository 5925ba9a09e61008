package normalize

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// Pattern is one phrasing of a metric in free text. The first capture group
// holds the number; Multiplier converts its unit (e.g. 1e9 for "billion").
type Pattern struct {
	Expr       *regexp.Regexp
	Multiplier float64
}

// Rule is the ordered pattern list for one metric plus the plausible range
// a matched value must fall in.
type Rule struct {
	Metric   string
	Patterns []Pattern
	Min, Max float64
}

const num = `(-?[0-9][0-9,]*(?:\.[0-9]+)?)`

func p(expr string, mult float64) Pattern {
	return Pattern{Expr: regexp.MustCompile(expr), Multiplier: mult}
}

// DefaultRules covers the fundamentals the AI tier is asked for. Order
// matters: unit-qualified phrasings precede bare numbers.
var DefaultRules = []Rule{
	{
		Metric: "marketCap",
		Patterns: []Pattern{
			p(`(?i)market\s*cap(?:itali[sz]ation)?[^0-9\-]{0,40}`+num+`\s*(?:trillion|tn|T)\b`, 1e12),
			p(`(?i)market\s*cap(?:itali[sz]ation)?[^0-9\-]{0,40}`+num+`\s*(?:billion|bn|B)\b`, 1e9),
			p(`(?i)market\s*cap(?:itali[sz]ation)?[^0-9\-]{0,40}`+num+`\s*(?:million|mm|M)\b`, 1e6),
			p(`(?i)valued\s+at[^0-9\-]{0,10}`+num+`\s*(?:trillion|T)\b`, 1e12),
			p(`(?i)valued\s+at[^0-9\-]{0,10}`+num+`\s*(?:billion|B)\b`, 1e9),
			p(`(?i)market\s*cap(?:itali[sz]ation)?[^0-9\-]{0,40}`+num, 1),
		},
		Min: 1, Max: 1e14,
	},
	{
		Metric: "peRatio",
		Patterns: []Pattern{
			p(`(?i)\bP/?E\b(?:\s*ratio)?(?:\s*\(ttm\))?[^0-9\-]{0,20}`+num, 1),
			p(`(?i)price[\s-]to[\s-]earnings(?:\s*ratio)?[^0-9\-]{0,20}`+num, 1),
			p(`(?i)trades\s+at\s+`+num+`\s*(?:x|times)\s+(?:trailing\s+)?earnings`, 1),
		},
		Min: 0, Max: 1000,
	},
	{
		Metric: "eps",
		Patterns: []Pattern{
			p(`(?i)\bEPS\b(?:\s*\(ttm\))?[^0-9\-]{0,20}`+num, 1),
			p(`(?i)earnings\s+per\s+share[^0-9\-]{0,20}`+num, 1),
		},
		Min: -1000, Max: 1000,
	},
	{
		Metric: "profitMargin",
		Patterns: []Pattern{
			p(`(?i)(?:net\s+)?profit\s+margin[^0-9\-]{0,20}`+num+`\s*%`, 1),
			p(`(?i)net\s+margin[^0-9\-]{0,20}`+num+`\s*%`, 1),
			p(`(?i)profit\s+margin[^0-9\-]{0,20}`+num, 1),
		},
		Min: -100, Max: 100,
	},
	{
		Metric: "returnOnEquity",
		Patterns: []Pattern{
			p(`(?i)return\s+on\s+equity(?:\s*\(ROE\))?[^0-9\-]{0,20}`+num+`\s*%`, 1),
			p(`(?i)\bROE\b[^0-9\-]{0,20}`+num+`\s*%`, 1),
			p(`(?i)return\s+on\s+equity(?:\s*\(ROE\))?[^0-9\-]{0,20}`+num, 1),
		},
		Min: -200, Max: 200,
	},
	{
		Metric: "debtToEquity",
		Patterns: []Pattern{
			p(`(?i)debt[\s-]to[\s-]equity(?:\s*ratio)?[^0-9\-]{0,20}`+num, 1),
			p(`(?i)\bD/E\b(?:\s*ratio)?[^0-9\-]{0,20}`+num, 1),
		},
		Min: 0, Max: 1000,
	},
	{
		Metric: "dividendYield",
		Patterns: []Pattern{
			p(`(?i)dividend\s+yield[^0-9\-]{0,20}`+num+`\s*%`, 1),
			p(`(?i)yield(?:s|ing)?\s+(?:of\s+)?`+num+`\s*%`, 1),
		},
		Min: 0, Max: 100,
	},
	{
		Metric: "beta",
		Patterns: []Pattern{
			p(`(?i)\bbeta\b(?:\s*\(5y\))?[^0-9\-]{0,20}`+num, 1),
		},
		Min: -10, Max: 10,
	},
	{
		Metric: "revenue",
		Patterns: []Pattern{
			p(`(?i)revenue[^0-9\-]{0,40}`+num+`\s*(?:trillion|T)\b`, 1e12),
			p(`(?i)revenue[^0-9\-]{0,40}`+num+`\s*(?:billion|bn|B)\b`, 1e9),
			p(`(?i)revenue[^0-9\-]{0,40}`+num+`\s*(?:million|mm|M)\b`, 1e6),
		},
		Min: 0, Max: 1e14,
	},
}

// ExtractMetric tries the rule's patterns in order and returns the first
// match whose scaled value lies within [Min, Max].
func ExtractMetric(text string, rule Rule) (float64, bool) {
	for _, pat := range rule.Patterns {
		for _, m := range pat.Expr.FindAllStringSubmatch(text, -1) {
			if len(m) < 2 {
				continue
			}
			v := ParseNumber(m[1])
			if v == nil {
				continue
			}
			scaled := *v * pat.Multiplier
			if scaled < rule.Min || scaled > rule.Max {
				continue
			}
			return scaled, true
		}
	}
	return 0, false
}

// ExtractAll runs every rule over text and returns the metrics found.
func ExtractAll(text string, rules []Rule) map[string]float64 {
	out := make(map[string]float64, len(rules))
	for _, r := range rules {
		if v, ok := ExtractMetric(text, r); ok {
			out[r.Metric] = v
		}
	}
	return out
}

// ErrNoJSON is returned when no JSON object can be recovered from text.
var ErrNoJSON = errors.New("no JSON object in text")

var fencedJSON = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(\\{.*?\\})\\s*```")

// ExtractJSONObject recovers a JSON object from model output: the whole text,
// then a fenced code block, then the first balanced {...} substring.
func ExtractJSONObject(text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	if obj, ok := decodeObject(text); ok {
		return obj, nil
	}
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		if obj, ok := decodeObject(m[1]); ok {
			return obj, nil
		}
	}
	for start := strings.IndexByte(text, '{'); start >= 0; {
		end := matchingBrace(text, start)
		if end < 0 {
			break
		}
		if obj, ok := decodeObject(text[start : end+1]); ok {
			return obj, nil
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, ErrNoJSON
}

func decodeObject(s string) (map[string]any, bool) {
	if s == "" || s[0] != '{' {
		return nil, false
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, false
	}
	if dec.More() {
		return nil, false
	}
	return obj, true
}

// matchingBrace returns the index of the brace closing text[open], skipping
// braces inside string literals, or -1.
func matchingBrace(text string, open int) int {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
