package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestDecodeExpenseUsesBackendFields(t *testing.T) {
	raw := []byte(`{"doc":{"id":42,"title":"Milk","amount":"119.99","category":"Продукти","createdAt":"2025-05-30T08:00:00.000Z"},"message":"ok"}`)
	fallback := Draft{Title: "milk", Amount: MustAmount("120"), Category: Other}

	e, err := DecodeExpense(raw, fallback, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, ID("42"), e.ID)
	assert.Equal(t, "Milk", e.Title)
	assert.Equal(t, "119.99", e.Amount.String())
	assert.Equal(t, Groceries, e.Category)
	assert.Equal(t, "2025-05-30T08:00:00.000Z", e.CreatedAt)
}

func TestDecodeExpenseFallsBackForOmittedFields(t *testing.T) {
	raw := []byte(`{"id":"abc"}`)
	fallback := Draft{Title: "  taxi ", Amount: MustAmount("15"), Category: Transport}

	e, err := DecodeExpense(raw, fallback, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, ID("abc"), e.ID)
	assert.Equal(t, "taxi", e.Title)
	assert.Equal(t, "15", e.Amount.String())
	assert.Equal(t, Transport, e.Category)
	assert.Equal(t, Timestamp(fixedNow), e.CreatedAt)
}

func TestDecodeExpenseRequiresID(t *testing.T) {
	for _, raw := range []string{`{}`, `{"id":null}`, `{"doc":{"title":"x"}}`, `{"id":""}`} {
		_, err := DecodeExpense([]byte(raw), Draft{}, fixedNow)
		assert.ErrorIs(t, err, ErrMissingID, raw)
	}
	_, err := DecodeExpense([]byte(`not json`), Draft{}, fixedNow)
	assert.Error(t, err)
}

func TestDecodeList(t *testing.T) {
	raw := []byte(`{"docs":[
		{"id":"b","title":"Bus","amount":2,"category":"Transport","createdAt":"2025-05-02"},
		{"id":"a","title":"Pills","amount":"7.5","category":"Unknown"},
		{"title":"orphan","amount":1},
		{"id":3}
	],"totalDocs":4}`)

	items, skipped, err := DecodeList(raw, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, items, 3)

	assert.Equal(t, ID("b"), items[0].ID)
	assert.Equal(t, Transport, items[0].Category)
	assert.Equal(t, Other, items[1].Category)
	assert.Equal(t, Timestamp(fixedNow), items[1].CreatedAt)
	assert.Equal(t, ID("3"), items[2].ID)
	assert.True(t, items[2].Amount.IsZero())
	assert.Equal(t, Other, items[2].Category)
}

func TestDecodeListMissingDocsIsEmpty(t *testing.T) {
	for _, raw := range []string{`{}`, `{"docs":null}`, ``, `{"totalDocs":0}`} {
		items, _, err := DecodeList([]byte(raw), fixedNow)
		require.NoError(t, err, raw)
		assert.Empty(t, items, raw)
	}
	_, _, err := DecodeList([]byte(`[1,2]`), fixedNow)
	assert.Error(t, err)
}

func TestDecodeID(t *testing.T) {
	assert.Equal(t, ID("7"), DecodeID([]byte(`{"doc":{"id":7}}`)))
	assert.Equal(t, ID("x1"), DecodeID([]byte(`{"id":"x1"}`)))
	assert.Equal(t, ID(""), DecodeID([]byte(`garbage`)))
}

func TestEncodeDraft(t *testing.T) {
	body, err := EncodeDraft(Draft{Title: " milk ", Amount: MustAmount("120"), Category: "продукти"})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "milk", got["title"])
	assert.Equal(t, float64(120), got["amount"])
	assert.Equal(t, "Groceries", got["category"])
}
