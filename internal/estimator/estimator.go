// Package estimator resolves an expected resale value for a listing title.
package estimator

import (
	"context"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"scoutline/internal/logger"
)

const (
	TypeElectronics = "electronics"
	TypeOther       = "other"
)

// DefaultValue is returned when neither a benchmark nor a keyword matches.
var DefaultValue = decimal.NewFromInt(100)

// BenchmarkLookup returns the persisted average sold price for a model.
// ok is false when no benchmark exists.
type BenchmarkLookup interface {
	Benchmark(ctx context.Context, model, itemType string) (price decimal.Decimal, ok bool, err error)
}

type keywordPrice struct {
	keyword string
	price   decimal.Decimal
}

// Checked in order; more specific keywords come first.
var keywordTable = []keywordPrice{
	{"macbook pro", decimal.NewFromInt(450)},
	{"macbook air", decimal.NewFromInt(350)},
	{"macbook", decimal.NewFromInt(400)},
	{"iphone 15", decimal.NewFromInt(500)},
	{"iphone 14", decimal.NewFromInt(400)},
	{"iphone 13", decimal.NewFromInt(300)},
	{"iphone 12", decimal.NewFromInt(200)},
	{"iphone", decimal.NewFromInt(250)},
	{"ipad pro", decimal.NewFromInt(350)},
	{"ipad", decimal.NewFromInt(250)},
	{"samsung s24", decimal.NewFromInt(400)},
	{"samsung s23", decimal.NewFromInt(300)},
	{"samsung", decimal.NewFromInt(200)},
	{"ps5", decimal.NewFromInt(300)},
	{"xbox", decimal.NewFromInt(250)},
	{"apple watch", decimal.NewFromInt(150)},
	{"airpods", decimal.NewFromInt(100)},
	{"dell", decimal.NewFromInt(200)},
	{"screen", decimal.NewFromInt(80)},
	{"logic board", decimal.NewFromInt(120)},
	{"battery", decimal.NewFromInt(40)},
	{"keyboard", decimal.NewFromInt(60)},
	{"charging port", decimal.NewFromInt(30)},
}

var electronicsKeywords = []string{
	"iphone", "samsung", "macbook", "ipad", "laptop", "tablet", "apple watch",
	"airpods", "ps5", "xbox", "switch", "screen", "logic board", "battery",
	"motherboard", "keyboard", "charging port", "hdmi", "flex cable",
}

var modelPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)iphone\s+\d+\s*(pro\s*max|pro|plus|mini)?`),
	regexp.MustCompile(`(?i)macbook\s+(pro|air)\s*(m\d+|a\d+|1[3-6][-"])?`),
	regexp.MustCompile(`(?i)ipad\s*(pro|air|mini)?\s*\d*`),
	regexp.MustCompile(`(?i)samsung\s+galaxy\s*s?\d+\s*(ultra|plus|\+)?`),
	regexp.MustCompile(`(?i)dell\s+\w+\s*\d+`),
	regexp.MustCompile(`(?i)ps5|playstation\s*5`),
	regexp.MustCompile(`(?i)xbox\s+series\s*[xs]`),
}

const modelFallbackLen = 40

// ExtractModel pulls a normalized model token out of a title. Titles that
// match no known family fall back to their first 40 characters.
func ExtractModel(title string) string {
	for _, p := range modelPatterns {
		if m := p.FindString(title); m != "" {
			return NormalizeModel(m)
		}
	}
	runes := []rune(title)
	if len(runes) > modelFallbackLen {
		runes = runes[:modelFallbackLen]
	}
	return NormalizeModel(string(runes))
}

// NormalizeModel lowercases and collapses whitespace so lookups are stable.
func NormalizeModel(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ItemType classifies a title as electronics or other.
func ItemType(title string) string {
	t := strings.ToLower(title)
	for _, k := range electronicsKeywords {
		if strings.Contains(t, k) {
			return TypeElectronics
		}
	}
	return TypeOther
}

// KeywordValue is the static fallback: first keyword hit wins, else DefaultValue.
func KeywordValue(title string) decimal.Decimal {
	t := strings.ToLower(title)
	for _, kp := range keywordTable {
		if strings.Contains(t, kp.keyword) {
			return kp.price
		}
	}
	return DefaultValue
}

// Estimator prefers persisted benchmarks and degrades to keyword heuristics.
type Estimator struct {
	Benchmarks BenchmarkLookup
	Log        *logger.Logger
}

// Estimate returns the model, item type and a positive value for title. It
// never fails: lookup problems are logged and the heuristic is used instead.
func (e Estimator) Estimate(ctx context.Context, title string) Estimate {
	est := Estimate{Model: ExtractModel(title), ItemType: ItemType(title), Source: SourceKeyword}
	if e.Benchmarks != nil {
		price, ok, err := e.Benchmarks.Benchmark(ctx, est.Model, est.ItemType)
		switch {
		case err != nil:
			e.log().WithError(err).WithField("model", est.Model).Warn("benchmark lookup failed; using keyword estimate")
		case ok && price.IsPositive():
			est.Value = price
			est.Source = SourceBenchmark
			return est
		}
	}
	est.Value = KeywordValue(title)
	if est.Value.Equal(DefaultValue) && !hasKeyword(title) {
		est.Source = SourceDefault
	}
	return est
}

// Estimate is the estimator's answer for one title.
type Estimate struct {
	Model    string
	ItemType string
	Value    decimal.Decimal
	Source   string
}

const (
	SourceBenchmark = "benchmark"
	SourceKeyword   = "keyword"
	SourceDefault   = "default"
)

func hasKeyword(title string) bool {
	t := strings.ToLower(title)
	for _, kp := range keywordTable {
		if strings.Contains(t, kp.keyword) {
			return true
		}
	}
	return false
}

func (e Estimator) log() *logger.Logger {
	if e.Log != nil {
		return e.Log
	}
	return logger.Nop()
}
