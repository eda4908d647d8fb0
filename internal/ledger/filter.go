// internal/ledger/filter.go
package ledger

import (
	"sort"
	"strings"
	"time"

	"github.com/rovshanmuradov/agro-ledger/internal/money"
)

// Filter selects tokens from a projected collection. Zero fields match everything.
type Filter struct {
	Category Category
	MinPrice money.Amount // Native, inclusive
	MaxPrice money.Amount // Native, inclusive
	Location string       // case-insensitive substring
	Label    string       // see CropToken.Label
	Issuer   Address
}

func (f Filter) Match(t CropToken, now time.Time) bool {
	if f.Category != "" && t.Category != f.Category {
		return false
	}
	if f.MinPrice.Denomination() == money.Native {
		if c, err := t.UnitPrice.Cmp(f.MinPrice); err != nil || c < 0 {
			return false
		}
	}
	if f.MaxPrice.Denomination() == money.Native {
		if c, err := t.UnitPrice.Cmp(f.MaxPrice); err != nil || c > 0 {
			return false
		}
	}
	if f.Location != "" && !strings.Contains(strings.ToLower(t.Location), strings.ToLower(f.Location)) {
		return false
	}
	if f.Label != "" && t.Label(now) != f.Label {
		return false
	}
	if f.Issuer != "" && t.Issuer != f.Issuer {
		return false
	}
	return true
}

// Apply returns the matching tokens in their original order.
func (f Filter) Apply(tokens []CropToken, now time.Time) []CropToken {
	out := make([]CropToken, 0, len(tokens))
	for _, t := range tokens {
		if f.Match(t, now) {
			out = append(out, t)
		}
	}
	return out
}

// SortKey orders a token collection.
type SortKey string

const (
	SortByPrice    SortKey = "price"
	SortByDeadline SortKey = "deadline"
	SortByCreated  SortKey = "created"
	SortByQuantity SortKey = "quantity"
	SortByID       SortKey = "id"
)

// Sort returns a sorted copy; ties keep id order.
func Sort(tokens []CropToken, key SortKey, desc bool) []CropToken {
	out := append([]CropToken(nil), tokens...)
	less := func(a, b CropToken) int {
		switch key {
		case SortByPrice:
			c, _ := a.UnitPrice.Cmp(b.UnitPrice)
			return c
		case SortByDeadline:
			return a.Deadline.Compare(b.Deadline)
		case SortByCreated:
			return a.CreatedAt.Compare(b.CreatedAt)
		case SortByQuantity:
			return cmpUint(a.Quantity, b.Quantity)
		default:
			return 0
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		c := less(out[i], out[j])
		if c == 0 {
			return out[i].ID < out[j].ID
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
	return out
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
