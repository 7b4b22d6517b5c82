package store

import (
	"fmt"
	"strings"

	"familybudget/internal/core"
)

// Selection picks which expenses are visible. The zero value is All.
type Selection struct {
	category core.Category
}

// All selects every expense.
var All = Selection{}

// Only selects a single category.
func Only(c core.Category) Selection {
	return Selection{category: c}
}

// ParseSelection accepts "all" (or empty) or a category name.
func ParseSelection(s string) (Selection, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "all") {
		return All, nil
	}
	c, ok := core.ParseCategory(s)
	if !ok {
		return All, fmt.Errorf("unknown category %q", s)
	}
	return Only(c), nil
}

// IsAll reports whether the selection is the identity filter.
func (s Selection) IsAll() bool { return s.category == "" }

func (s Selection) String() string {
	if s.IsAll() {
		return "all"
	}
	return s.category.String()
}

// Filter returns the expenses matching sel in their original order. items is
// never modified; the result is always a fresh slice.
func Filter(items []core.Expense, sel Selection) []core.Expense {
	out := make([]core.Expense, 0, len(items))
	for _, e := range items {
		if sel.IsAll() || core.NormalizeCategory(string(e.Category)) == sel.category {
			out = append(out, e)
		}
	}
	return out
}
