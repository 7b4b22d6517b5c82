// Package aggregate derives totals from the expense collection. Everything
// here is recomputed from scratch on each call.
package aggregate

import (
	"github.com/shopspring/decimal"

	"familybudget/internal/core"
)

// Summary is the derived view of a collection.
type Summary struct {
	Total      decimal.Decimal
	ByCategory map[core.Category]decimal.Decimal
	Count      int
}

// Summarize totals items overall and per category. Categories without
// expenses are absent from ByCategory.
func Summarize(items []core.Expense) Summary {
	s := Summary{
		Total:      decimal.Zero,
		ByCategory: make(map[core.Category]decimal.Decimal),
		Count:      len(items),
	}
	for _, e := range items {
		s.Total = s.Total.Add(e.Amount)
		cat := core.NormalizeCategory(string(e.Category))
		s.ByCategory[cat] = s.ByCategory[cat].Add(e.Amount)
	}
	return s
}

// Equal compares two summaries by value.
func (s Summary) Equal(o Summary) bool {
	if !s.Total.Equal(o.Total) || s.Count != o.Count || len(s.ByCategory) != len(o.ByCategory) {
		return false
	}
	for k, v := range s.ByCategory {
		if w, ok := o.ByCategory[k]; !ok || !v.Equal(w) {
			return false
		}
	}
	return true
}

// Point is one slice of a chart.
type Point struct {
	Name  core.Category
	Value decimal.Decimal
}

// Series turns a summary into chart input in canonical category order.
// An empty result means there is nothing to draw.
func Series(s Summary) []Point {
	out := make([]Point, 0, len(s.ByCategory))
	for _, c := range core.Categories {
		if v, ok := s.ByCategory[c]; ok {
			out = append(out, Point{Name: c, Value: v})
		}
	}
	return out
}

// Share returns p's fraction of total as a percentage rounded to one decimal.
func Share(p Point, total decimal.Decimal) decimal.Decimal {
	if total.IsZero() {
		return decimal.Zero
	}
	return p.Value.Div(total).Mul(decimal.NewFromInt(100)).Round(1)
}
