// Package ledger derives dues from transaction histories and normalises the
// inputs that feed them. Everything here is pure and synchronous.
package ledger

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"bondhon/backend/internal/domain"
)

var (
	ErrEmptyTransaction = errors.New("transaction has no quantity, bill or cash")
	ErrNegativeAmount   = errors.New("transaction amounts must not be negative")
	ErrInvalidTag       = errors.New("tag must be VIP, Regular, New or empty")
)

// Aggregate sums a history. Due is derived from the bill and cash sums rather
// than from the per-transaction due fields.
func Aggregate(history []domain.Transaction) domain.Totals {
	totals := domain.Totals{Bill: decimal.Zero, Cash: decimal.Zero}
	for _, tx := range history {
		totals.Qty += tx.Qty
		totals.Bill = totals.Bill.Add(tx.Bill)
		totals.Cash = totals.Cash.Add(tx.Cash)
	}
	totals.Due = totals.Bill.Sub(totals.Cash)
	return totals
}

// Global sums every customer's history. Cached customer totals are ignored.
func Global(customers []domain.Customer) domain.Totals {
	totals := domain.Totals{Bill: decimal.Zero, Cash: decimal.Zero, Due: decimal.Zero}
	for _, customer := range customers {
		totals = totals.Add(Aggregate(customer.History))
	}
	return totals
}

// Refresh rewrites the cached totals and per-transaction dues of c.
func Refresh(c *domain.Customer) {
	for i := range c.History {
		c.History[i].Due = c.History[i].Bill.Sub(c.History[i].Cash)
	}
	c.Totals = Aggregate(c.History)
}

func ValidateTransaction(qty int64, bill decimal.Decimal, cash decimal.Decimal) error {
	if qty < 0 || bill.IsNegative() || cash.IsNegative() {
		return ErrNegativeAmount
	}
	if qty == 0 && bill.IsZero() && cash.IsZero() {
		return ErrEmptyTransaction
	}
	return nil
}

func NormalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// NormalizePhone keeps digits only. Placeholders such as "N/A" collapse to "".
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			continue
		}
		// Bengali digits ০-৯ are common in hand-typed numbers.
		if r >= '০' && r <= '৯' {
			b.WriteRune('0' + (r - '০'))
		}
	}
	return b.String()
}

func ParseTag(raw string) (domain.Tag, error) {
	trimmed := strings.TrimSpace(raw)
	switch {
	case trimmed == "" || strings.EqualFold(trimmed, "none"):
		return domain.TagNone, nil
	case strings.EqualFold(trimmed, string(domain.TagVIP)):
		return domain.TagVIP, nil
	case strings.EqualFold(trimmed, string(domain.TagRegular)):
		return domain.TagRegular, nil
	case strings.EqualFold(trimmed, string(domain.TagNew)):
		return domain.TagNew, nil
	default:
		return domain.TagNone, fmt.Errorf("%w: %q", ErrInvalidTag, trimmed)
	}
}

// Matches reports whether query is a case-insensitive substring of the
// customer's name or phone.
func Matches(c domain.Customer, query string) bool {
	query = strings.TrimSpace(query)
	if query == "" {
		return true
	}
	if strings.Contains(strings.ToLower(c.Name), strings.ToLower(query)) {
		return true
	}
	if digits := NormalizePhone(query); digits != "" && strings.IndexFunc(query, unicode.IsLetter) < 0 {
		return strings.Contains(c.Phone, digits)
	}
	return false
}
