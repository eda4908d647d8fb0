// internal/ledger/types.go
package ledger

import (
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/rovshanmuradov/agro-ledger/internal/money"
)

// TokenID is the ledger-assigned identifier of a crop token.
type TokenID uint64

func (id TokenID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseTokenID parses a decimal token id.
func ParseTokenID(s string) (TokenID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, &ValidationError{Field: "token_id", Reason: "not a non-negative integer"}
	}
	return TokenID(v), nil
}

// Address identifies an account on the ledger.
type Address string

func (a Address) IsZero() bool { return a == "" }

// Category is the crop category of a token.
type Category string

const (
	CategoryCacao   Category = "CACAO"
	CategoryBanano  Category = "BANANO"
	CategoryMaiz    Category = "MAIZ"
	CategoryCafe    Category = "CAFE"
	CategoryArroz   Category = "ARROZ"
	CategoryPlatano Category = "PLATANO"
)

// Categories lists the categories accepted for issuance.
var Categories = []Category{
	CategoryCacao,
	CategoryBanano,
	CategoryMaiz,
	CategoryCafe,
	CategoryArroz,
	CategoryPlatano,
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory normalizes user input ("cacao", " Cafe ") to a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", &ValidationError{Field: "category", Reason: "unknown crop category " + strconv.Quote(s)}
	}
	return c, nil
}

// State is the lifecycle state of a token as observed from the ledger.
type State int

const (
	StateCreated State = iota
	StateAvailable
	StateSold
	StateDelivered
	StateWithdrawn
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAvailable:
		return "available"
	case StateSold:
		return "sold"
	case StateDelivered:
		return "delivered"
	case StateWithdrawn:
		return "withdrawn"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDelivered || s == StateWithdrawn
}

// RawToken is the ledger's wire representation of a token.
// Unit price is in base units, timestamps are unix seconds.
type RawToken struct {
	ID           TokenID  `json:"id"`
	Issuer       Address  `json:"issuer"`
	Category     string   `json:"category"`
	Quantity     uint64   `json:"quantity"`
	UnitPrice    *big.Int `json:"unitPrice"`
	Deadline     int64    `json:"deliveryDate"`
	CreatedAt    int64    `json:"createdAt"`
	IsSold       bool     `json:"isSold"`
	IsDelivered  bool     `json:"isDelivered"`
	IsWithdrawn  bool     `json:"isWithdrawn"`
	Counterparty Address  `json:"buyer"`
	Location     string   `json:"location"`
	ContentRef   string   `json:"contentRef"`
}

// RawSnapshot is the scalar tuple returned by the aggregate query.
type RawSnapshot struct {
	Total       uint64   `json:"totalTokens"`
	Available   uint64   `json:"availableTokens"`
	Sold        uint64   `json:"soldTokens"`
	TotalVolume *big.Int `json:"totalVolume"`
}

// CropToken is the canonical, read-only projection of a ledger token.
type CropToken struct {
	ID            TokenID
	Issuer        Address
	Category      Category
	Quantity      uint64
	UnitPrice     money.Amount // Native
	UnitPriceFiat money.Amount // display only
	Deadline      time.Time
	CreatedAt     time.Time
	DeadlineText  string
	CreatedText   string
	Location      string
	State         State
	Counterparty  Address
	ContentRef    string
}

// TotalPrice is quantity × unit price in native units.
func (t CropToken) TotalPrice() money.Amount {
	return t.UnitPrice.MulInt(t.Quantity)
}

// TotalBaseUnits is quantity × unit price in base units.
func (t CropToken) TotalBaseUnits() money.Amount {
	base, err := money.NativeToBaseUnits(t.TotalPrice())
	if err != nil {
		// UnitPrice is built from base units, so this cannot fail.
		return money.Zero(money.BaseUnit)
	}
	return base
}

// Expired reports whether the delivery deadline has passed.
func (t CropToken) Expired(now time.Time) bool {
	return !t.Deadline.After(now)
}

// Label is the display status, in precedence order
// delivered, withdrawn, sold, expired, available.
func (t CropToken) Label(now time.Time) string {
	switch {
	case t.State == StateDelivered:
		return "delivered"
	case t.State == StateWithdrawn:
		return "withdrawn"
	case t.State == StateSold:
		return "sold"
	case t.Expired(now):
		return "expired"
	default:
		return "available"
	}
}

// IsParty reports whether addr is the issuer or the counterparty.
func (t CropToken) IsParty(addr Address) bool {
	return addr != "" && (addr == t.Issuer || addr == t.Counterparty)
}

// DaysUntilDelivery is the number of whole days left before the deadline,
// rounded up; zero or negative once it has passed.
func (t CropToken) DaysUntilDelivery(now time.Time) int {
	left := t.Deadline.Sub(now)
	if left <= 0 {
		return int(left / (24 * time.Hour))
	}
	return int((left + 24*time.Hour - 1) / (24 * time.Hour))
}

// Urgency buckets how close a delivery deadline is.
type Urgency string

const (
	UrgencyOverdue Urgency = "overdue"
	UrgencyNear    Urgency = "near"   // 30 days or less
	UrgencyMedium  Urgency = "medium" // 90 days or less
	UrgencyDistant Urgency = "distant"
)

func (t CropToken) Urgency(now time.Time) Urgency {
	switch days := t.DaysUntilDelivery(now); {
	case days <= 0:
		return UrgencyOverdue
	case days <= 30:
		return UrgencyNear
	case days <= 90:
		return UrgencyMedium
	default:
		return UrgencyDistant
	}
}

// Snapshot is the derived marketplace aggregate.
type Snapshot struct {
	Total     uint64
	Available uint64
	Sold      uint64
	Volume    money.Amount // Native
}

// SellRate is sold / total × 100, zero for an empty market.
func (s Snapshot) SellRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Sold) / float64(s.Total) * 100
}

// AveragePrice is volume / sold, zero when nothing was sold.
func (s Snapshot) AveragePrice() money.Amount {
	if s.Sold == 0 {
		return money.Zero(money.Native)
	}
	base, err := money.NativeToBaseUnits(s.Volume)
	if err != nil {
		return money.Zero(money.Native)
	}
	avg := new(big.Int).Quo(base.BaseUnits(), new(big.Int).SetUint64(s.Sold))
	out, _ := money.ToNative(money.NewBaseUnits(avg))
	return out
}

// NotificationKind is the kind of a ledger change notification.
type NotificationKind string

const (
	TokenIssued    NotificationKind = "token_issued"
	TokenSold      NotificationKind = "token_sold"
	TokenDelivered NotificationKind = "token_delivered"
	TokenWithdrawn NotificationKind = "token_withdrawn"
)

// Notification is a change notification emitted by the ledger.
// Payload fields beyond Kind and TokenID are informational only.
type Notification struct {
	Kind         NotificationKind `json:"kind"`
	TokenID      TokenID          `json:"tokenId"`
	Issuer       Address          `json:"issuer,omitempty"`
	Counterparty Address          `json:"counterparty,omitempty"`
	Category     string           `json:"category,omitempty"`
	Quantity     uint64           `json:"quantity,omitempty"`
	UnitPrice    *big.Int         `json:"unitPrice,omitempty"`
	TotalPrice   *big.Int         `json:"totalPrice,omitempty"`
	BlockRef     uint64           `json:"blockRef,omitempty"`
}

// WriteKind names a ledger write.
type WriteKind string

const (
	WriteIssue           WriteKind = "issue"
	WriteAcquire         WriteKind = "acquire"
	WriteConfirmDelivery WriteKind = "confirm_delivery"
	WriteWithdraw        WriteKind = "withdraw"
)

// IssueParams are the arguments of the issue-token write.
type IssueParams struct {
	Category   Category `json:"category"`
	Quantity   uint64   `json:"quantity"`
	UnitPrice  *big.Int `json:"unitPrice"`
	Deadline   int64    `json:"deliveryDate"`
	Location   string   `json:"location"`
	ContentRef string   `json:"contentRef"`
}

// Write is a write request handed to the account provider for signing and submission.
type Write struct {
	Kind    WriteKind    `json:"kind"`
	From    Address      `json:"from"`
	TokenID TokenID      `json:"tokenId,omitempty"`
	Issue   *IssueParams `json:"issue,omitempty"`
	// Payment attached to the write, base units.
	Payment *big.Int `json:"payment,omitempty"`
	// CostLimit caps the resource cost the ledger may charge, base units.
	CostLimit *big.Int `json:"costLimit,omitempty"`
}

// Receipt is returned once a write is included by the ledger.
type Receipt struct {
	Hash          string         `json:"hash"`
	BlockRef      uint64         `json:"blockRef"`
	CostUsed      *big.Int       `json:"costUsed"`
	Success       bool           `json:"success"`
	RevertReason  string         `json:"revertReason,omitempty"`
	Notifications []Notification `json:"notifications,omitempty"`
}
