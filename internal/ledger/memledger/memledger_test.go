package memledger

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/rovshanmuradov/agro-ledger/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func newTestLedger() *Ledger {
	l := New(WithClock(func() time.Time { return now }), WithCosts(Costs{}))
	l.Verify("farmer")
	l.Fund("farmer", big.NewInt(1_000))
	l.Fund("buyer", big.NewInt(10_000))
	return l
}

func issueWrite(price int64) ledger.Write {
	return ledger.Write{
		Kind: ledger.WriteIssue,
		From: "farmer",
		Issue: &ledger.IssueParams{
			Category:  ledger.CategoryBanano,
			Quantity:  100,
			UnitPrice: big.NewInt(price),
			Deadline:  now.Add(24 * time.Hour).Unix(),
			Location:  "El Oro",
		},
	}
}

func send(t *testing.T, a *Account, w ledger.Write) *ledger.Receipt {
	t.Helper()
	hash, err := a.Send(context.Background(), w)
	require.NoError(t, err)
	r, err := a.Receipt(context.Background(), hash)
	require.NoError(t, err)
	require.NotNil(t, r)
	return r
}

func TestIssueAssignsSequentialIDsFromZero(t *testing.T) {
	l := newTestLedger()
	farmer := l.Account("farmer")

	r0 := send(t, farmer, issueWrite(25))
	r1 := send(t, farmer, issueWrite(25))
	require.True(t, r0.Success)
	require.True(t, r1.Success)
	assert.Equal(t, ledger.TokenID(0), r0.Notifications[0].TokenID)
	assert.Equal(t, ledger.TokenID(1), r1.Notifications[0].TokenID)
	assert.Greater(t, r1.BlockRef, r0.BlockRef)
}

func TestIssueRules(t *testing.T) {
	l := newTestLedger()
	l.Fund("other", big.NewInt(1_000))

	w := issueWrite(25)
	w.From = "other"
	assert.Equal(t, ReasonNotVerified, send(t, l.Account("other"), w).RevertReason)

	w = issueWrite(25)
	w.Issue.Deadline = now.Unix()
	assert.Equal(t, ReasonDeadline, send(t, l.Account("farmer"), w).RevertReason)

	w = issueWrite(0)
	assert.Equal(t, ReasonPrice, send(t, l.Account("farmer"), w).RevertReason)
}

func TestAcquireTransfersPaymentAndFee(t *testing.T) {
	l := newTestLedger()
	send(t, l.Account("farmer"), issueWrite(25))

	buyer := l.Account("buyer")
	r := send(t, buyer, ledger.Write{Kind: ledger.WriteAcquire, From: "buyer", TokenID: 0, Payment: big.NewInt(2_499)})
	assert.False(t, r.Success)
	assert.Equal(t, ReasonPayment, r.RevertReason)

	r = send(t, buyer, ledger.Write{Kind: ledger.WriteAcquire, From: "buyer", TokenID: 0, Payment: big.NewInt(3_000)})
	require.True(t, r.Success)

	// excess over the total stays with the buyer
	assert.Equal(t, "7500", l.BalanceOf("buyer").String())
	assert.Equal(t, "3438", l.BalanceOf("farmer").String())
	assert.Equal(t, "62", l.CollectedFees().String())

	snap, err := l.GetSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Sold)
	assert.Equal(t, "2500", snap.TotalVolume.String())

	r = send(t, buyer, ledger.Write{Kind: ledger.WriteAcquire, From: "buyer", TokenID: 0, Payment: big.NewInt(2_500)})
	assert.Equal(t, ReasonAlreadySold, r.RevertReason)
}

func TestAcquireExactTotalOfCacaoScenario(t *testing.T) {
	l := newTestLedger()
	l.Fund("buyer", big.NewInt(100_000_000_000_000_000))

	// 50 quintales a 0.0016 = 0.08
	w := issueWrite(0)
	w.Issue.Quantity = 50
	w.Issue.UnitPrice = big.NewInt(1_600_000_000_000_000)
	require.True(t, send(t, l.Account("farmer"), w).Success)

	total := big.NewInt(80_000_000_000_000_000)
	short := new(big.Int).Sub(total, big.NewInt(1))
	buyer := l.Account("buyer")

	r := send(t, buyer, ledger.Write{Kind: ledger.WriteAcquire, From: "buyer", TokenID: 0, Payment: short})
	assert.False(t, r.Success)
	assert.Equal(t, ReasonPayment, r.RevertReason)

	r = send(t, buyer, ledger.Write{Kind: ledger.WriteAcquire, From: "buyer", TokenID: 0, Payment: total})
	require.True(t, r.Success)
	// 1000 from the fixture plus 0.078 net of the 2.5% fee
	assert.Equal(t, "78000000000001000", l.BalanceOf("farmer").String())
	assert.Equal(t, "2000000000000000", l.CollectedFees().String())
}

func TestSendFailsWithoutFunds(t *testing.T) {
	l := newTestLedger()
	send(t, l.Account("farmer"), issueWrite(25))
	l.Fund("poor", big.NewInt(10))

	_, err := l.Account("poor").Send(context.Background(), ledger.Write{Kind: ledger.WriteAcquire, TokenID: 0, Payment: big.NewInt(2_500)})
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

func TestCostLimitBelowCostReverts(t *testing.T) {
	l := New(WithClock(func() time.Time { return now }))
	l.Verify("farmer")
	l.Fund("farmer", new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

	w := issueWrite(25)
	w.CostLimit = big.NewInt(1)
	r := send(t, l.Account("farmer"), w)
	assert.False(t, r.Success)
	assert.Equal(t, ReasonCostLimit, r.RevertReason)
	assert.Equal(t, "1", r.CostUsed.String())
	assert.Empty(t, l.Tokens())
}

func TestSubscribeReceivesNotifications(t *testing.T) {
	l := newTestLedger()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notes, errs, err := l.Subscribe(ctx)
	require.NoError(t, err)

	send(t, l.Account("farmer"), issueWrite(25))
	select {
	case n := <-notes:
		assert.Equal(t, ledger.TokenIssued, n.Kind)
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}

	l.DropSubscriptions(errors.New("socket closed"))
	assert.EqualError(t, <-errs, "socket closed")
	_, open := <-notes
	assert.False(t, open)
}

func TestWithheldReceipts(t *testing.T) {
	l := newTestLedger()
	l.WithholdReceipts(true)
	farmer := l.Account("farmer")

	hash, err := farmer.Send(context.Background(), issueWrite(25))
	require.NoError(t, err)
	r, err := farmer.Receipt(context.Background(), hash)
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.Len(t, l.Tokens(), 1)

	l.ReleaseReceipts()
	r, err = farmer.Receipt(context.Background(), hash)
	require.NoError(t, err)
	assert.True(t, r.Success)
}

func TestConfirmAndWithdrawRules(t *testing.T) {
	l := newTestLedger()
	farmer := l.Account("farmer")
	buyer := l.Account("buyer")
	send(t, farmer, issueWrite(25))
	send(t, farmer, issueWrite(25))

	assert.Equal(t, ReasonNotSold, send(t, farmer, ledger.Write{Kind: ledger.WriteConfirmDelivery, TokenID: 0}).RevertReason)
	send(t, buyer, ledger.Write{Kind: ledger.WriteAcquire, TokenID: 0, Payment: big.NewInt(2_500)})

	l.Fund("stranger", big.NewInt(10))
	stranger := l.Account("stranger")
	assert.Equal(t, ReasonNotAuthorized, send(t, stranger, ledger.Write{Kind: ledger.WriteConfirmDelivery, TokenID: 0}).RevertReason)
	assert.True(t, send(t, buyer, ledger.Write{Kind: ledger.WriteConfirmDelivery, TokenID: 0}).Success)
	assert.Equal(t, ReasonAlreadyDelivered, send(t, farmer, ledger.Write{Kind: ledger.WriteConfirmDelivery, TokenID: 0}).RevertReason)

	assert.Equal(t, ReasonAlreadySold, send(t, farmer, ledger.Write{Kind: ledger.WriteWithdraw, TokenID: 0}).RevertReason)
	assert.Equal(t, ReasonNotOwner, send(t, stranger, ledger.Write{Kind: ledger.WriteWithdraw, TokenID: 1}).RevertReason)
	assert.True(t, send(t, farmer, ledger.Write{Kind: ledger.WriteWithdraw, TokenID: 1}).Success)

	available, err := l.ListAvailable(context.Background())
	require.NoError(t, err)
	assert.Empty(t, available)

	assert.ErrorIs(t, l.SetPlatformFee(1001), ErrFeeTooHigh)
}

func TestSeedWithoutPriceReadsAsZero(t *testing.T) {
	l := newTestLedger()
	id := l.Seed(ledger.RawToken{Issuer: "farmer", Category: string(ledger.CategoryMaiz), Quantity: 5})

	raw, err := l.GetToken(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, raw.UnitPrice)
	assert.Zero(t, raw.UnitPrice.Sign())
	assert.Equal(t, now.Unix(), raw.CreatedAt)
}
