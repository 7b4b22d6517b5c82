package core

import "strings"

// Category is one of a fixed, closed set of expense categories.
type Category string

const (
	Groceries Category = "Groceries"
	Transport Category = "Transport"
	Household Category = "Household"
	Health    Category = "Health"
	Other     Category = "Other"
)

// Categories lists the closed set in display order.
var Categories = []Category{Groceries, Transport, Household, Health, Other}

// legacyLabels are the labels stored by the first version of the app.
var legacyLabels = map[string]Category{
	"продукти":  Groceries,
	"транспорт": Transport,
	"дім":       Household,
	"здоров'я":  Health,
	"здоровʼя":  Health,
	"інше":      Other,
}

// NormalizeCategory maps a wire value onto the closed set. Anything that is
// not recognised becomes Other.
func NormalizeCategory(s string) Category {
	key := strings.ToLower(strings.TrimSpace(s))
	for _, c := range Categories {
		if strings.ToLower(string(c)) == key {
			return c
		}
	}
	if c, ok := legacyLabels[key]; ok {
		return c
	}
	return Other
}

// ParseCategory is like NormalizeCategory but reports whether s was a known
// value. Used for user input, where a typo should not silently become Other.
func ParseCategory(s string) (Category, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		return "", false
	}
	for _, c := range Categories {
		if strings.ToLower(string(c)) == key {
			return c, true
		}
	}
	c, ok := legacyLabels[key]
	return c, ok
}

func (c Category) String() string {
	return string(c)
}
