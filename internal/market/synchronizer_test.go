package market

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rovshanmuradov/agro-ledger/internal/events"
	"github.com/rovshanmuradov/agro-ledger/internal/ledger"
	"github.com/rovshanmuradov/agro-ledger/internal/ledger/memledger"
	"github.com/rovshanmuradov/agro-ledger/internal/money"
	"github.com/rovshanmuradov/agro-ledger/internal/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const farmer ledger.Address = "farmer"

type fixture struct {
	mem    *memledger.Ledger
	client *ledger.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	mem := memledger.New()
	mem.Verify(farmer)
	mem.Fund(farmer, new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

	conv, err := money.ParseConverter("2500")
	require.NoError(t, err)
	monitor := transaction.NewMonitor(logger, transaction.Config{PollInterval: 5 * time.Millisecond, ConfirmationTime: time.Second})
	tracker := transaction.NewTracker(logger, nil, nil, nil)
	client := ledger.NewClient(mem, mem.Account(farmer), conv, tracker, monitor, logger, ledger.DefaultConfig())
	return &fixture{mem: mem, client: client}
}

func (f *fixture) issue(t *testing.T) ledger.TokenID {
	t.Helper()
	id, err := f.client.Issue(context.Background(), ledger.IssueRequest{
		Category:  ledger.CategoryArroz,
		Quantity:  20,
		UnitPrice: money.MustParseFiat("12.50"),
		Deadline:  time.Now().Add(72 * time.Hour),
		Location:  "Daule",
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) sync(t *testing.T, bus events.Publisher, cfg Config) *Synchronizer {
	return NewSynchronizer(f.client, f.mem, bus, nil, zaptest.NewLogger(t), cfg)
}

func TestRefreshIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.issue(t)
	f.issue(t)
	s := f.sync(t, nil, Config{})

	require.NoError(t, s.Refresh(context.Background()))
	first := s.View()
	require.NoError(t, s.Refresh(context.Background()))
	second := s.View()

	assert.Equal(t, uint64(1), first.Version)
	assert.Equal(t, uint64(2), second.Version)
	assert.Len(t, second.Available, 2)
	assert.Equal(t, first.MyTokens, second.MyTokens)
	assert.Equal(t, first.Available, second.Available)
	assert.Equal(t, first.Snapshot, second.Snapshot)
}

func TestFailedRefreshKeepsPreviousView(t *testing.T) {
	f := newFixture(t)
	f.issue(t)

	bus := events.NewBus(zaptest.NewLogger(t), 16)
	t.Cleanup(func() { bus.Close() })
	var failed atomic.Int32
	bus.SubscribeFunc(events.MarketRefreshFailed, func(context.Context, events.Event) error {
		failed.Add(1)
		return nil
	})

	s := f.sync(t, bus, Config{})
	require.NoError(t, s.Refresh(context.Background()))
	before := s.View()

	f.mem.FailReads(errors.New("connection refused"))
	err := s.Refresh(context.Background())
	require.ErrorIs(t, err, ledger.ErrTransientFailure)

	assert.Same(t, before, s.View())
	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Failures)
	assert.Error(t, stats.LastError)
	assert.Eventually(t, func() bool { return failed.Load() == 1 }, time.Second, 5*time.Millisecond)

	f.mem.FailReads(nil)
	require.NoError(t, s.Refresh(context.Background()))
	assert.NoError(t, s.Stats().LastError)
}

func TestViewBeforeFirstRefreshIsEmpty(t *testing.T) {
	f := newFixture(t)
	v := f.sync(t, nil, Config{}).View()
	require.NotNil(t, v)
	assert.Zero(t, v.Version)
	assert.Empty(t, v.Available)
}

func TestOnChangeNotification(t *testing.T) {
	f := newFixture(t)
	s := f.sync(t, nil, Config{})
	ctx := context.Background()
	require.NoError(t, s.Refresh(ctx))

	id := f.issue(t)
	require.NoError(t, s.OnChangeNotification(ctx, ledger.Notification{Kind: ledger.TokenIssued, TokenID: id}))
	require.Len(t, s.View().Available, 1)
	assert.Equal(t, id, s.View().Available[0].ID)

	// duplicates are harmless: every notification re-queries
	require.NoError(t, s.OnChangeNotification(ctx, ledger.Notification{Kind: ledger.TokenIssued, TokenID: id}))
	assert.Len(t, s.View().Available, 1)

	version := s.View().Version
	require.NoError(t, s.OnChangeNotification(ctx, ledger.Notification{Kind: "price_changed"}))
	assert.Equal(t, version, s.View().Version)
	assert.Equal(t, uint64(2), s.Stats().Notifications)
}

// heldSource blocks its first AvailableTokens call until release is closed.
type heldSource struct {
	Source
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (h *heldSource) AvailableTokens(ctx context.Context) ([]ledger.CropToken, error) {
	first := false
	h.once.Do(func() { first = true })
	if first {
		close(h.entered)
		<-h.release
	}
	return h.Source.AvailableTokens(ctx)
}

func TestNotificationDuringRefreshIsNotLost(t *testing.T) {
	f := newFixture(t)
	f.issue(t)
	src := &heldSource{Source: f.client, entered: make(chan struct{}), release: make(chan struct{})}
	s := NewSynchronizer(src, f.mem, nil, nil, zaptest.NewLogger(t), Config{})
	ctx := context.Background()

	first := make(chan error, 1)
	go func() { first <- s.Refresh(ctx) }()
	<-src.entered

	id := f.issue(t)
	notified := make(chan error, 1)
	go func() {
		notified <- s.OnChangeNotification(ctx, ledger.Notification{Kind: ledger.TokenIssued, TokenID: id})
	}()
	require.Eventually(t, func() bool { return s.Stats().Notifications == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(src.release)

	require.NoError(t, <-first)
	require.NoError(t, <-notified)

	v := s.View()
	assert.Len(t, v.MyTokens, 2)
	assert.Len(t, v.Available, 2)
	assert.GreaterOrEqual(t, v.Version, uint64(2))
}

func TestRunFollowsNotificationsAndResubscribes(t *testing.T) {
	f := newFixture(t)
	s := f.sync(t, nil, Config{
		CoalesceWindow:     10 * time.Millisecond,
		ResubscribeInitial: 5 * time.Millisecond,
		ResubscribeMax:     20 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.View().Version >= 1 }, 2*time.Second, 5*time.Millisecond)

	f.issue(t)
	require.Eventually(t, func() bool { return len(s.View().Available) == 1 }, 2*time.Second, 5*time.Millisecond)

	f.mem.DropSubscriptions(errors.New("socket closed"))
	require.Eventually(t, func() bool { return s.Stats().Resubscriptions >= 1 }, 2*time.Second, 5*time.Millisecond)

	f.issue(t)
	require.Eventually(t, func() bool { return len(s.View().Available) == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRunReconcilesWithoutNotifications(t *testing.T) {
	f := newFixture(t)
	s := f.sync(t, nil, Config{ReconcileInterval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	require.Eventually(t, func() bool { return s.View().Version >= 1 }, 2*time.Second, 5*time.Millisecond)

	// seeded tokens emit no notification; only the reconcile tick finds them
	f.mem.Seed(ledger.RawToken{
		Issuer:    farmer,
		Category:  "CAFE",
		Quantity:  1,
		UnitPrice: big.NewInt(1_000_000_000_000_000),
		Deadline:  time.Now().Add(time.Hour).Unix(),
		Location:  "Loja",
	})
	require.Eventually(t, func() bool { return len(s.View().MyTokens) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestConcurrentReadersSeeWholeViews(t *testing.T) {
	f := newFixture(t)
	f.issue(t)
	f.issue(t)
	s := f.sync(t, nil, Config{})
	ctx := context.Background()
	require.NoError(t, s.Refresh(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				assert.NoError(t, s.Refresh(ctx))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				v := s.View()
				assert.Equal(t, int(v.Snapshot.Available), len(v.Available))
			}
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, s.View().Version, uint64(2))
}

func TestThrottlerCoalescesBursts(t *testing.T) {
	th := NewThrottler(time.Hour, zaptest.NewLogger(t))

	th.Trigger()
	th.Trigger()
	th.Trigger()

	select {
	case <-th.C():
	default:
		t.Fatal("first trigger should fire")
	}
	assert.True(t, th.HasPending())
	th.FlushPending()
	assert.True(t, th.HasPending(), "interval not yet passed")

	fired, coalesced := th.Stats()
	assert.Equal(t, uint64(1), fired)
	assert.Equal(t, uint64(2), coalesced)
}

func TestThrottlerWithoutIntervalAbsorbsQueuedTriggers(t *testing.T) {
	th := NewThrottler(0, zaptest.NewLogger(t))
	th.Trigger()
	th.Trigger()

	<-th.C()
	select {
	case <-th.C():
		t.Fatal("second trigger should be absorbed by the queued one")
	default:
	}
	fired, coalesced := th.Stats()
	assert.Equal(t, uint64(1), fired)
	assert.Equal(t, uint64(1), coalesced)
}

func TestStatsReportThrottledTrigger(t *testing.T) {
	f := newFixture(t)
	s := f.sync(t, nil, Config{CoalesceWindow: time.Hour})
	assert.False(t, s.Stats().Throttled)

	s.throttler.Trigger()
	s.throttler.Trigger()
	st := s.Stats()
	assert.True(t, st.Throttled)
	assert.Equal(t, uint64(1), st.Coalesced)
}
