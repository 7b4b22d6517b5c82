package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrMissingID is returned when a backend document carries no identifier.
var ErrMissingID = errors.New("backend document has no id")

// wireExpense mirrors a backend document. Every field is optional so the
// decoder can tell "omitted" apart from "zero".
type wireExpense struct {
	ID        json.RawMessage  `json:"id"`
	Title     *string          `json:"title"`
	Amount    *decimal.Decimal `json:"amount"`
	Category  *string          `json:"category"`
	CreatedAt *string          `json:"createdAt"`
}

type wireEnvelope struct {
	Doc  json.RawMessage   `json:"doc"`
	Docs []json.RawMessage `json:"docs"`
}

// WireDraft is the JSON body sent to the backend for create and update.
type WireDraft struct {
	Title    string      `json:"title"`
	Amount   json.Number `json:"amount"`
	Category Category    `json:"category"`
}

// EncodeDraft renders a cleaned draft as a request body.
func EncodeDraft(d Draft) ([]byte, error) {
	d = d.Clean()
	return json.Marshal(WireDraft{Title: d.Title, Amount: json.Number(d.Amount.String()), Category: d.Category})
}

// DecodeExpense reads a create or update response. The document may be bare
// or wrapped as {"doc": {...}}. Fields the backend omitted are taken from
// fallback; a missing createdAt defaults to now.
func DecodeExpense(raw []byte, fallback Draft, now time.Time) (Expense, error) {
	body := unwrapDoc(raw)

	var w wireExpense
	if err := json.Unmarshal(body, &w); err != nil {
		return Expense{}, fmt.Errorf("decode expense: %w", err)
	}
	id := decodeID(w.ID)
	if id.IsZero() {
		return Expense{}, ErrMissingID
	}

	fallback = fallback.Clean()
	e := Expense{
		ID:        id,
		Title:     fallback.Title,
		Amount:    fallback.Amount,
		Category:  fallback.Category,
		CreatedAt: Timestamp(now),
	}
	if w.Title != nil {
		e.Title = *w.Title
	}
	if w.Amount != nil {
		e.Amount = *w.Amount
	}
	if w.Category != nil {
		e.Category = NormalizeCategory(*w.Category)
	}
	if w.CreatedAt != nil && *w.CreatedAt != "" {
		e.CreatedAt = *w.CreatedAt
	}
	return e, nil
}

// DecodeList unwraps a list envelope {"docs": [...]}. An absent or null docs
// key is an empty list. Documents without an id are skipped because they
// cannot be edited or deleted.
func DecodeList(raw []byte, now time.Time) ([]Expense, int, error) {
	var env wireEnvelope
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, 0, fmt.Errorf("decode expense list: %w", err)
		}
	}

	out := make([]Expense, 0, len(env.Docs))
	skipped := 0
	for _, doc := range env.Docs {
		var w wireExpense
		if err := json.Unmarshal(doc, &w); err != nil {
			skipped++
			continue
		}
		id := decodeID(w.ID)
		if id.IsZero() {
			skipped++
			continue
		}
		e := Expense{ID: id, Amount: decimal.Zero, Category: Other, CreatedAt: Timestamp(now)}
		if w.Title != nil {
			e.Title = *w.Title
		}
		if w.Amount != nil {
			e.Amount = *w.Amount
		}
		if w.Category != nil {
			e.Category = NormalizeCategory(*w.Category)
		}
		if w.CreatedAt != nil && *w.CreatedAt != "" {
			e.CreatedAt = *w.CreatedAt
		}
		out = append(out, e)
	}
	return out, skipped, nil
}

// DecodeID extracts the id of a backend document, bare or wrapped.
func DecodeID(raw []byte) ID {
	var w struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(unwrapDoc(raw), &w); err != nil {
		return ""
	}
	return decodeID(w.ID)
}

func unwrapDoc(raw []byte) []byte {
	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err == nil {
		if d := bytes.TrimSpace(env.Doc); len(d) > 0 && d[0] == '{' {
			return d
		}
	}
	return raw
}

// decodeID accepts both string and numeric identifiers.
func decodeID(raw json.RawMessage) ID {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return ID(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return ""
	}
	return ID(n.String())
}
