package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type (
	// ID is the backend-assigned identifier of an expense. The client never
	// mints one; it only carries what the backend returned.
	ID string

	Expense struct {
		ID        ID
		Title     string
		Amount    decimal.Decimal
		Category  Category
		CreatedAt string // ISO-8601, as returned by the backend
	}

	// Draft is user input for creating or editing an expense.
	Draft struct {
		Title    string
		Amount   decimal.Decimal
		Category Category
	}
)

var (
	ErrEmptyTitle    = errors.New("empty title")
	ErrInvalidAmount = errors.New("invalid amount")
)

func (id ID) String() string {
	return string(id)
}

// IsZero reports whether the id is empty.
func (id ID) IsZero() bool {
	return strings.TrimSpace(string(id)) == ""
}

// Validate checks the draft the same way for add and edit: the trimmed title
// must be non-empty and the amount strictly positive.
func (d Draft) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return ErrEmptyTitle
	}
	if !d.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// Clean returns the draft with a trimmed title and a normalized category.
func (d Draft) Clean() Draft {
	return Draft{
		Title:    strings.TrimSpace(d.Title),
		Amount:   d.Amount,
		Category: NormalizeCategory(string(d.Category)),
	}
}

// Draft copies the editable fields of the expense.
func (e Expense) Draft() Draft {
	return Draft{Title: e.Title, Amount: e.Amount, Category: e.Category}
}

// Equal compares every field, using decimal equality for the amount.
func (e Expense) Equal(o Expense) bool {
	return e.ID == o.ID &&
		e.Title == o.Title &&
		e.Amount.Equal(o.Amount) &&
		e.Category == o.Category &&
		e.CreatedAt == o.CreatedAt
}

// Timestamp formats t the way the client defaults a missing creation time.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
