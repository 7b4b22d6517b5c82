package aggregate

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"familybudget/internal/core"
)

func exp(id, amount string, cat core.Category) core.Expense {
	return core.Expense{ID: core.ID(id), Title: id, Amount: core.MustAmount(amount), Category: cat}
}

func TestSummarize(t *testing.T) {
	items := []core.Expense{
		exp("1", "120", core.Groceries),
		exp("2", "0.1", core.Transport),
		exp("3", "0.2", core.Transport),
		exp("4", "30", core.Groceries),
	}

	s := Summarize(items)

	assert.True(t, s.Total.Equal(core.MustAmount("150.3")), "total %s", s.Total)
	assert.Equal(t, 4, s.Count)
	require.Len(t, s.ByCategory, 2)
	assert.True(t, s.ByCategory[core.Groceries].Equal(core.MustAmount("150")))
	assert.True(t, s.ByCategory[core.Transport].Equal(core.MustAmount("0.3")), "decimal sums are exact")
	_, hasHealth := s.ByCategory[core.Health]
	assert.False(t, hasHealth)
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	assert.True(t, s.Total.IsZero())
	assert.Empty(t, s.ByCategory)
	assert.Empty(t, Series(s))
}

func TestSummarize_FoldsLegacyCategory(t *testing.T) {
	s := Summarize([]core.Expense{exp("1", "5", core.Category("Продукти"))})
	assert.True(t, s.ByCategory[core.Groceries].Equal(core.MustAmount("5")))
}

func TestSummarize_DoesNotMutateInput(t *testing.T) {
	items := []core.Expense{exp("1", "5", core.Health)}
	before := items[0]
	Summarize(items)
	assert.True(t, before.Equal(items[0]))
}

func TestSeries_CanonicalOrder(t *testing.T) {
	s := Summarize([]core.Expense{
		exp("1", "1", core.Other),
		exp("2", "2", core.Health),
		exp("3", "3", core.Groceries),
	})

	points := Series(s)

	require.Len(t, points, 3)
	assert.Equal(t, []core.Category{core.Groceries, core.Health, core.Other},
		[]core.Category{points[0].Name, points[1].Name, points[2].Name})
	assert.True(t, points[1].Value.Equal(core.MustAmount("2")))
}

func TestShare(t *testing.T) {
	p := Point{Name: core.Groceries, Value: core.MustAmount("1")}
	assert.Equal(t, "33.3", Share(p, core.MustAmount("3")).String())
	assert.True(t, Share(p, decimal.Zero).IsZero())
}

func TestSummary_Equal(t *testing.T) {
	a := Summarize([]core.Expense{exp("1", "1.50", core.Other)})
	b := Summarize([]core.Expense{exp("9", "1.5", core.Other)})
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(Summarize(nil)))
}
