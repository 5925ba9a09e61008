package adapters

import (
	"strings"
	"time"

	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/normalize"
)

// Reliability tags which fallback tier produced a fundamentals result.
type Reliability string

const (
	ReliabilityHigh       Reliability = "high"
	ReliabilityMediumHigh Reliability = "medium-high"
	ReliabilityMedium     Reliability = "medium"
	ReliabilityNone       Reliability = "none"
)

// Confidence is set by the AI tier to describe how its text was parsed.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
)

// Fundamentals is the normalized company profile. Ratio fields are display
// strings with two decimals, or "N/A".
type Fundamentals struct {
	Symbol          string  `json:"symbol"`
	Name            string  `json:"name"`
	Sector          string  `json:"sector"`
	Industry        string  `json:"industry"`
	MarketCap       string  `json:"marketCap"`
	MarketCapRaw    float64 `json:"marketCapRaw"`
	PERatio         string  `json:"peRatio"`
	ForwardPE       string  `json:"forwardPE"`
	EPS             string  `json:"eps"`
	ProfitMargin    string  `json:"profitMargin"`
	OperatingMargin string  `json:"operatingMargin"`
	ReturnOnEquity  string  `json:"returnOnEquity"`
	ReturnOnAssets  string  `json:"returnOnAssets"`
	DebtToEquity    string  `json:"debtToEquity"`
	DividendYield   string  `json:"dividendYield"`
	Beta            string  `json:"beta"`
	Revenue         float64 `json:"revenue"`
	Week52High      float64 `json:"week52High"`
	Week52Low       float64 `json:"week52Low"`

	DataSource  string      `json:"dataSource"`
	Reliability Reliability `json:"reliability"`
	Confidence  Confidence  `json:"confidence,omitempty"`
	LastUpdated time.Time   `json:"lastUpdated"`
}

// EmptyFundamentals is the fully shaped result returned when no tier could
// serve symbol: zero numbers, "N/A" strings, dataSource "none".
func EmptyFundamentals(symbol string) Fundamentals {
	return Fundamentals{
		Symbol:          symbol,
		Name:            normalize.NA,
		Sector:          normalize.NA,
		Industry:        normalize.NA,
		MarketCap:       normalize.NA,
		PERatio:         normalize.NA,
		ForwardPE:       normalize.NA,
		EPS:             normalize.NA,
		ProfitMargin:    normalize.NA,
		OperatingMargin: normalize.NA,
		ReturnOnEquity:  normalize.NA,
		ReturnOnAssets:  normalize.NA,
		DebtToEquity:    normalize.NA,
		DividendYield:   normalize.NA,
		Beta:            normalize.NA,
		DataSource:      "none",
		Reliability:     ReliabilityNone,
		LastUpdated:     time.Now().UTC(),
	}
}

// Complete reports whether the minimum field set is present: market cap and P/E.
func (f *Fundamentals) Complete() bool {
	return f.MarketCapRaw > 0 && f.PERatio != normalize.NA
}

// HasData reports whether any metric at all is present.
func (f *Fundamentals) HasData() bool {
	if f.MarketCapRaw > 0 || f.Revenue > 0 {
		return true
	}
	for _, s := range f.ratios() {
		if *s != normalize.NA {
			return true
		}
	}
	return false
}

func (f *Fundamentals) ratios() []*string {
	return []*string{
		&f.PERatio, &f.ForwardPE, &f.EPS, &f.ProfitMargin, &f.OperatingMargin,
		&f.ReturnOnEquity, &f.ReturnOnAssets, &f.DebtToEquity, &f.DividendYield, &f.Beta,
	}
}

// FillFrom copies into f every field f lacks that other has.
func (f *Fundamentals) FillFrom(other *Fundamentals) {
	if other == nil {
		return
	}
	fillString := func(dst *string, src string) {
		if (*dst == "" || *dst == normalize.NA) && src != "" && src != normalize.NA {
			*dst = src
		}
	}
	fillString(&f.Name, other.Name)
	fillString(&f.Sector, other.Sector)
	fillString(&f.Industry, other.Industry)
	if f.MarketCapRaw <= 0 && other.MarketCapRaw > 0 {
		f.MarketCapRaw = other.MarketCapRaw
		f.MarketCap = other.MarketCap
	}
	mine, theirs := f.ratios(), other.ratios()
	for i := range mine {
		fillString(mine[i], *theirs[i])
	}
	if f.Revenue <= 0 {
		f.Revenue = other.Revenue
	}
	if f.Week52High <= 0 {
		f.Week52High = other.Week52High
	}
	if f.Week52Low <= 0 {
		f.Week52Low = other.Week52Low
	}
}

// fundamentalFields holds raw provider values before normalization. Any
// value accepted by normalize.ParseNumber may be used.
type fundamentalFields struct {
	Name, Sector, Industry string

	MarketCap       any
	PERatio         any
	ForwardPE       any
	EPS             any
	ProfitMargin    any
	OperatingMargin any
	ReturnOnEquity  any
	ReturnOnAssets  any
	DebtToEquity    any
	DividendYield   any
	Beta            any
	Revenue         any
	Week52High      any
	Week52Low       any

	// Unit is how ProfitMargin through DividendYield are expressed.
	Unit normalize.Unit
}

func (r fundamentalFields) build(symbol string) *Fundamentals {
	f := EmptyFundamentals(symbol)
	f.DataSource = ""
	f.Reliability = ""
	if name := strings.TrimSpace(r.Name); name != "" {
		f.Name = name
	}
	if s := strings.TrimSpace(r.Sector); s != "" {
		f.Sector = s
	}
	if s := strings.TrimSpace(r.Industry); s != "" {
		f.Industry = s
	}
	if mc := normalize.ParseMarketCap(r.MarketCap); mc != nil && *mc > 0 {
		f.MarketCapRaw = *mc
		f.MarketCap = normalize.FormatMarketCap(*mc)
	}
	f.PERatio = normalize.NormalizeRatioIn(r.PERatio, "peRatio", symbol, r.Unit)
	f.ForwardPE = normalize.NormalizeRatioIn(r.ForwardPE, "forwardPE", symbol, r.Unit)
	f.EPS = normalize.NormalizeRatioIn(r.EPS, "eps", symbol, r.Unit)
	f.ProfitMargin = normalize.NormalizeRatioIn(r.ProfitMargin, "profitMargin", symbol, r.Unit)
	f.OperatingMargin = normalize.NormalizeRatioIn(r.OperatingMargin, "operatingMargin", symbol, r.Unit)
	f.ReturnOnEquity = normalize.NormalizeRatioIn(r.ReturnOnEquity, "returnOnEquity", symbol, r.Unit)
	f.ReturnOnAssets = normalize.NormalizeRatioIn(r.ReturnOnAssets, "returnOnAssets", symbol, r.Unit)
	f.DebtToEquity = normalize.NormalizeRatioIn(r.DebtToEquity, "debtToEquity", symbol, r.Unit)
	f.DividendYield = normalize.NormalizeRatioIn(r.DividendYield, "dividendYield", symbol, r.Unit)
	f.Beta = normalize.NormalizeRatioIn(r.Beta, "beta", symbol, r.Unit)
	if v := normalize.ParseMarketCap(r.Revenue); v != nil && *v > 0 {
		f.Revenue = *v
	}
	if v := normalize.ParseNumber(r.Week52High); v != nil {
		f.Week52High = *v
	}
	if v := normalize.ParseNumber(r.Week52Low); v != nil {
		f.Week52Low = *v
	}
	return &f
}
