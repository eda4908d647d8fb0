package ledger

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/rovshanmuradov/agro-ledger/internal/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProjector(t *testing.T) *Projector {
	t.Helper()
	conv, err := money.ParseConverter("2500")
	require.NoError(t, err)
	return NewProjector(conv, "", nil)
}

func rawToken(id TokenID, price int64) *RawToken {
	return &RawToken{
		ID:        id,
		Issuer:    "issuer",
		Category:  "CACAO",
		Quantity:  50,
		UnitPrice: big.NewInt(price),
		Deadline:  time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC).Unix(),
		CreatedAt: time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC).Unix(),
		Location:  "Guayas",
	}
}

func TestProjectState(t *testing.T) {
	p := testProjector(t)

	cases := []struct {
		name   string
		mutate func(*RawToken)
		want   State
	}{
		{"available", func(*RawToken) {}, StateAvailable},
		{"sold", func(r *RawToken) { r.IsSold = true; r.Counterparty = "buyer" }, StateSold},
		{"delivered", func(r *RawToken) { r.IsSold = true; r.IsDelivered = true }, StateDelivered},
		{"withdrawn", func(r *RawToken) { r.IsWithdrawn = true }, StateWithdrawn},
		{"not yet created", func(r *RawToken) { r.CreatedAt = 0 }, StateCreated},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := rawToken(1, 1_600_000_000_000_000)
			tc.mutate(raw)
			tok, err := p.Project(raw)
			require.NoError(t, err)
			assert.Equal(t, tc.want, tok.State)
		})
	}
}

func TestProjectPricesAndDates(t *testing.T) {
	tok, err := testProjector(t).Project(rawToken(7, 1_600_000_000_000_000))
	require.NoError(t, err)

	assert.Equal(t, "0.0016", tok.UnitPrice.String())
	assert.Equal(t, "4.00", tok.UnitPriceFiat.String())
	assert.Equal(t, "01/06/2026", tok.DeadlineText)
	assert.Equal(t, "15/01/2026", tok.CreatedText)
	assert.Equal(t, "80000000000000000", tok.TotalBaseUnits().String())
}

func TestProjectKeepsUnknownCategory(t *testing.T) {
	raw := rawToken(1, 1)
	raw.Category = "QUINUA"
	tok, err := testProjector(t).Project(raw)
	require.NoError(t, err)
	assert.Equal(t, Category("QUINUA"), tok.Category)
	assert.False(t, tok.Category.Valid())
}

func TestProjectRejectsBadInput(t *testing.T) {
	p := testProjector(t)

	_, err := p.Project(nil)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	_, err = p.Project(rawToken(1, -5))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestLabelPrecedence(t *testing.T) {
	p := testProjector(t)
	raw := rawToken(1, 1)
	raw.IsSold = true
	raw.IsDelivered = true
	tok, err := p.Project(raw)
	require.NoError(t, err)

	afterDeadline := tok.Deadline.Add(time.Hour)
	assert.Equal(t, "delivered", tok.Label(afterDeadline))

	tok.State = StateSold
	assert.Equal(t, "sold", tok.Label(afterDeadline))

	tok.State = StateAvailable
	assert.Equal(t, "expired", tok.Label(afterDeadline))
	assert.Equal(t, "available", tok.Label(tok.Deadline.Add(-time.Hour)))
}

func TestProjectSnapshot(t *testing.T) {
	snap, err := ProjectSnapshot(&RawSnapshot{Total: 4, Available: 1, Sold: 3, TotalVolume: big.NewInt(300_000_000_000_000_000)})
	require.NoError(t, err)
	assert.Equal(t, "0.3", snap.Volume.String())
	assert.InDelta(t, 75.0, snap.SellRate(), 1e-9)
	assert.Equal(t, "0.1", snap.AveragePrice().String())

	empty, err := ProjectSnapshot(&RawSnapshot{})
	require.NoError(t, err)
	assert.Zero(t, empty.SellRate())
	assert.True(t, empty.AveragePrice().IsZero())
}

func TestFilterAndSort(t *testing.T) {
	p := testProjector(t)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	var tokens []CropToken
	for i, price := range []int64{3e15, 1e15, 2e15} {
		raw := rawToken(TokenID(i), price)
		raw.Quantity = uint64(10 * (i + 1))
		if i == 1 {
			raw.Category = "CAFE"
			raw.Location = "Loja"
		}
		tok, err := p.Project(raw)
		require.NoError(t, err)
		tokens = append(tokens, tok)
	}

	cacao := Filter{Category: CategoryCacao}.Apply(tokens, now)
	assert.Len(t, cacao, 2)

	cheap := Filter{MaxPrice: money.MustParseNative("0.002")}.Apply(tokens, now)
	require.Len(t, cheap, 2)
	assert.Equal(t, TokenID(1), cheap[0].ID)

	loja := Filter{Location: "LOJ"}.Apply(tokens, now)
	require.Len(t, loja, 1)
	assert.Equal(t, CategoryCafe, loja[0].Category)

	byPrice := Sort(tokens, SortByPrice, false)
	assert.Equal(t, []TokenID{1, 2, 0}, ids(byPrice))
	assert.Equal(t, []TokenID{0, 1, 2}, ids(tokens), "input is not reordered")

	byQty := Sort(tokens, SortByQuantity, true)
	assert.Equal(t, []TokenID{2, 1, 0}, ids(byQty))

	byDeadline := Sort(tokens, SortByDeadline, false)
	assert.Equal(t, []TokenID{0, 1, 2}, ids(byDeadline), "ties fall back to id")
}

func ids(tokens []CropToken) []TokenID {
	out := make([]TokenID, len(tokens))
	for i, t := range tokens {
		out[i] = t.ID
	}
	return out
}

func TestClassifyRejection(t *testing.T) {
	cases := map[string]error{
		"Token already sold":              ErrAlreadySold,
		"Delivery date passed":            ErrExpired,
		"Insufficient payment":            ErrInsufficientBalance,
		"Already delivered":               ErrAlreadyDelivered,
		"Not authorized":                  ErrUnauthorized,
		"Farmer not verified":             ErrUnauthorized,
		"Delivery date must be in future": ErrValidation,
		"something else entirely":         ErrRejected,
	}
	for reason, want := range cases {
		err := ClassifyRejection(reason)
		assert.ErrorIs(t, err, ErrRejected, reason)
		assert.ErrorIs(t, err, want, reason)
	}

	err := ClassifyCode(UserRejectedCode, "User denied transaction signature")
	assert.ErrorIs(t, err, ErrRejected)
	assert.False(t, errors.Is(err, ErrUnauthorized))
}

func TestTransientError(t *testing.T) {
	cause := errors.New("i/o timeout")
	err := NewTransientError("acquire", cause)
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsTransient(cause))
}

func TestParseHelpers(t *testing.T) {
	c, err := ParseCategory(" cafe ")
	require.NoError(t, err)
	assert.Equal(t, CategoryCafe, c)

	_, err = ParseCategory("wheat")
	assert.ErrorIs(t, err, ErrValidation)

	id, err := ParseTokenID("42")
	require.NoError(t, err)
	assert.Equal(t, TokenID(42), id)

	_, err = ParseTokenID("-1")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestContentRef(t *testing.T) {
	a, err := NewContentRef()
	require.NoError(t, err)
	b, err := NewContentRef()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^Qm[1-9A-HJ-NP-Za-km-z]{40,}$`, a)
}

func TestDeliveryUrgency(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		deadline time.Time
		days     int
		urgency  Urgency
	}{
		{now.Add(-48 * time.Hour), -2, UrgencyOverdue},
		{now, 0, UrgencyOverdue},
		{now.Add(time.Hour), 1, UrgencyNear},
		{now.Add(30 * 24 * time.Hour), 30, UrgencyNear},
		{now.Add(30*24*time.Hour + time.Minute), 31, UrgencyMedium},
		{now.Add(90 * 24 * time.Hour), 90, UrgencyMedium},
		{now.Add(91 * 24 * time.Hour), 91, UrgencyDistant},
	}
	for _, tt := range tests {
		tok := CropToken{Deadline: tt.deadline}
		assert.Equal(t, tt.days, tok.DaysUntilDelivery(now), tt.deadline)
		assert.Equal(t, tt.urgency, tok.Urgency(now), tt.deadline)
	}
}
