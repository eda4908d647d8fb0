package session

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/agro-ledger/internal/events"
	"github.com/rovshanmuradov/agro-ledger/internal/ledger"
	"github.com/rovshanmuradov/agro-ledger/internal/ledger/memledger"
	"github.com/rovshanmuradov/agro-ledger/internal/money"
	"github.com/rovshanmuradov/agro-ledger/internal/transaction"
)

const farmer ledger.Address = "farmer"

func testOptions(t *testing.T) Options {
	t.Helper()
	conv, err := money.ParseConverter("2500")
	require.NoError(t, err)
	return Options{
		Converter: conv,
		Confirm:   transaction.Config{PollInterval: 5 * time.Millisecond, ConfirmationTime: time.Second},
	}
}

func newLedger() *memledger.Ledger {
	l := memledger.New()
	l.Verify(farmer)
	l.Fund(farmer, new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	return l
}

func cacao() ledger.IssueRequest {
	return ledger.IssueRequest{
		Category:  ledger.CategoryCacao,
		Quantity:  10,
		UnitPrice: money.MustParseFiat("40.00"),
		Deadline:  time.Now().Add(48 * time.Hour),
		Location:  "Quevedo",
	}
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s, err := New(Memory(newLedger(), farmer), testOptions(t), zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, StateDisconnected, s.State())
	_, err = s.Client()
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, s.Connect(ctx))
	assert.Equal(t, StateReady, s.State())
	client, err := s.Client()
	require.NoError(t, err)
	assert.Equal(t, farmer, client.Address())
	ms, err := s.Synchronizer()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ms.View().Version)

	assert.ErrorIs(t, s.Connect(ctx), ErrAlreadyConnected)

	require.NoError(t, s.Disconnect(ctx))
	assert.Equal(t, StateDisconnected, s.State())
	_, err = s.Synchronizer()
	assert.ErrorIs(t, err, ErrNotReady)
	require.NoError(t, s.Disconnect(ctx), "disconnect is idempotent")

	require.NoError(t, s.Connect(ctx))
	assert.Equal(t, StateReady, s.State())

	require.NoError(t, s.Close(ctx))
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, s.Connect(ctx), ErrClosed)
	_, err = s.Client()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Disconnect(ctx), ErrClosed)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(nil, testOptions(t), zaptest.NewLogger(t))
	assert.Error(t, err)
	_, err = New(Memory(newLedger(), farmer), Options{}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestConnectFailures(t *testing.T) {
	t.Run("dial error", func(t *testing.T) {
		dialErr := errors.New("no route to host")
		s, err := New(func(context.Context) (*Backend, error) { return nil, dialErr }, testOptions(t), zaptest.NewLogger(t))
		require.NoError(t, err)

		err = s.Connect(context.Background())
		assert.ErrorIs(t, err, dialErr)
		assert.Equal(t, StateDisconnected, s.State())
	})

	t.Run("initial load releases resources", func(t *testing.T) {
		l := newLedger()
		l.FailReads(errors.New("connection refused"))
		released := false
		dial := func(context.Context) (*Backend, error) {
			b := &Backend{Ledger: l, Account: l.Account(farmer)}
			b.OnClose("conn", func() error { released = true; return nil })
			return b, nil
		}
		s, err := New(dial, testOptions(t), zaptest.NewLogger(t))
		require.NoError(t, err)

		err = s.Connect(context.Background())
		assert.ErrorIs(t, err, ledger.ErrTransientFailure)
		assert.True(t, released)
		assert.Equal(t, StateDisconnected, s.State())

		l.FailReads(nil)
		require.NoError(t, s.Connect(context.Background()))
		require.NoError(t, s.Close(context.Background()))
	})
}

func TestDisconnectClosesInReverseOrder(t *testing.T) {
	l := newLedger()
	var order []string
	dial := func(context.Context) (*Backend, error) {
		b := &Backend{Ledger: l, Account: l.Account(farmer)}
		b.OnClose("transport", func() error { order = append(order, "transport"); return nil })
		b.OnClose("signer", func() error { order = append(order, "signer"); return errors.New("key still in use") })
		return b, nil
	}
	s, err := New(dial, testOptions(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))

	err = s.Disconnect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signer")
	assert.Equal(t, []string{"signer", "transport"}, order)
	assert.Equal(t, StateDisconnected, s.State())
}

func TestStateTransitionsArePublished(t *testing.T) {
	bus := events.NewBus(zaptest.NewLogger(t), 32)
	t.Cleanup(func() { bus.Close() })

	var mu sync.Mutex
	var seen []string
	bus.SubscribeFunc(events.SessionStateChanged, func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.(events.SessionStateEvent).To)
		return nil
	})

	opts := testOptions(t)
	opts.Bus = bus
	s, err := New(Memory(newLedger(), farmer), opts, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Close(context.Background()))

	want := []string{"connecting", "ready", "closed"}
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return assert.ObjectsAreEqual(want, seen)
	}, time.Second, 5*time.Millisecond)
}

func TestAccountSwitchDisconnects(t *testing.T) {
	l := newLedger()
	account := l.Account(farmer)
	dial := func(context.Context) (*Backend, error) {
		return &Backend{Ledger: l, Account: account}, nil
	}

	bus := events.NewBus(zaptest.NewLogger(t), 32)
	t.Cleanup(func() { bus.Close() })
	changed := make(chan events.AccountChangedEvent, 1)
	bus.SubscribeFunc(events.AccountChanged, func(_ context.Context, e events.Event) error {
		changed <- e.(events.AccountChangedEvent)
		return nil
	})

	opts := testOptions(t)
	opts.Bus = bus
	s, err := New(dial, opts, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))

	account.Switch(ledger.AccountChange{Address: "buyer", Network: "testnet"})

	select {
	case e := <-changed:
		assert.Equal(t, "buyer", e.Address)
		assert.Equal(t, "testnet", e.Network)
	case <-time.After(time.Second):
		t.Fatal("account change not relayed")
	}
	assert.Eventually(t, func() bool { return s.State() == StateDisconnected }, time.Second, 5*time.Millisecond)
	_, err = s.Client()
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestSessionsAreIndependent(t *testing.T) {
	const n = 4
	ledgers := make([]*memledger.Ledger, n)
	sessions := make([]*Session, n)
	for i := range sessions {
		ledgers[i] = newLedger()
		s, err := New(Memory(ledgers[i], farmer), testOptions(t), zaptest.NewLogger(t))
		require.NoError(t, err)
		sessions[i] = s
	}

	var wg sync.WaitGroup
	for i, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !assert.NoError(t, s.Connect(context.Background())) {
				return
			}
			client, err := s.Client()
			if !assert.NoError(t, err) {
				return
			}
			// session i issues i+1 tokens on its own ledger
			for j := 0; j <= i; j++ {
				_, err := client.Issue(context.Background(), cacao())
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	for i, s := range sessions {
		ms, err := s.Synchronizer()
		require.NoError(t, err)
		require.NoError(t, ms.Refresh(context.Background()))
		assert.Len(t, ms.View().MyTokens, i+1)
		assert.Len(t, ledgers[i].Tokens(), i+1)
		require.NoError(t, s.Close(context.Background()))
	}
}
