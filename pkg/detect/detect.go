// Package detect matches per-app keywords against a scan snapshot.
package detect

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"adsweep/pkg/types"
)

// Snapshot is a pre-order list of node records
type Snapshot interface {
	Len() int
	Record(i int) *types.UiNodeRecord
}

// KeywordSource yields the ordered keyword list of an app
type KeywordSource interface {
	Get(appID string) []string
}

// Engine is stateless apart from its collaborators and safe for concurrent use.
type Engine struct {
	keywords KeywordSource
	table    *Table
}

func NewEngine(keywords KeywordSource, table *Table) *Engine {
	if table == nil {
		table = DefaultTable()
	}
	return &Engine{keywords: keywords, table: table}
}

// Strategy returns the strategy used for appID
func (e *Engine) Strategy(appID string) Strategy {
	return e.table.Lookup(appID)
}

// Detect returns the first hit: keywords in insertion order outer, snapshot
// order inner. Text and description are compared as lowered substrings.
func (e *Engine) Detect(appID string, snap Snapshot) types.DetectionResult {
	kws := e.keywords.Get(appID)
	if len(kws) == 0 {
		return types.DetectionResult{}
	}
	strategy := e.table.Lookup(appID)

	// a Caser carries state and must not be shared between goroutines
	lower := cases.Lower(language.Und)
	n := snap.Len()
	texts := make([]string, n)
	descs := make([]string, n)
	for i := 0; i < n; i++ {
		rec := snap.Record(i)
		texts[i] = lower.String(rec.Text)
		descs[i] = lower.String(rec.Description)
	}

	res := types.DetectionResult{Strategy: strategy.String()}
	if markers := strategy.markers(); len(markers) > 0 {
		res.MarkerPresent = containsAny(texts, descs, lowerAll(lower, markers))
	}

	for _, kw := range kws {
		needle := lower.String(kw)
		if needle == "" {
			continue
		}
		for i := 0; i < n; i++ {
			if strings.Contains(texts[i], needle) || strings.Contains(descs[i], needle) {
				rec := snap.Record(i)
				region := rec.Bounds
				ref := rec.Ref()
				res.Matched = true
				res.Region = &region
				res.Keyword = kw
				res.Source = &ref
				return res
			}
		}
	}
	return res
}

func lowerAll(c cases.Caser, in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = c.String(s)
	}
	return out
}

func containsAny(texts, descs, needles []string) bool {
	for i := range texts {
		for _, m := range needles {
			if strings.Contains(texts[i], m) || strings.Contains(descs[i], m) {
				return true
			}
		}
	}
	return false
}
