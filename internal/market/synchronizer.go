// internal/market/synchronizer.go
package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rovshanmuradov/agro-ledger/internal/events"
	"github.com/rovshanmuradov/agro-ledger/internal/ledger"
	"github.com/rovshanmuradov/agro-ledger/internal/utils/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Source supplies the three collections the synchronizer caches.
// *ledger.Client implements it.
type Source interface {
	MyTokens(ctx context.Context) ([]ledger.CropToken, error)
	AvailableTokens(ctx context.Context) ([]ledger.CropToken, error)
	Snapshot(ctx context.Context) (ledger.Snapshot, error)
}

// Notifier opens a ledger change-notification stream.
type Notifier interface {
	Subscribe(ctx context.Context) (<-chan ledger.Notification, <-chan error, error)
}

// View is one consistent set of cached collections. A View is never
// mutated after it is published; callers must treat its slices as read-only.
type View struct {
	Version     uint64
	MyTokens    []ledger.CropToken
	Available   []ledger.CropToken
	Snapshot    ledger.Snapshot
	RefreshedAt time.Time
}

type Config struct {
	// ReconcileInterval forces a periodic refresh; zero disables it.
	ReconcileInterval time.Duration
	// CoalesceWindow is the minimum spacing of notification-driven refreshes.
	CoalesceWindow time.Duration
	// ResubscribeInitial and ResubscribeMax bound the re-subscription backoff.
	ResubscribeInitial time.Duration
	ResubscribeMax     time.Duration
	// RefreshTimeout bounds one refresh started by Run.
	RefreshTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ReconcileInterval:  30 * time.Second,
		CoalesceWindow:     250 * time.Millisecond,
		ResubscribeInitial: 500 * time.Millisecond,
		ResubscribeMax:     30 * time.Second,
		RefreshTimeout:     30 * time.Second,
	}
}

// Stats is a point-in-time view of the synchronizer's counters.
type Stats struct {
	Version         uint64
	Refreshes       uint64
	Failures        uint64
	Notifications   uint64
	Resubscriptions uint64
	Coalesced       uint64
	// Throttled is set while a coalesced notification still waits for its refresh.
	Throttled   bool
	LastError   error
	LastRefresh time.Time
}

// Synchronizer maintains the cached marketplace collections. Each refresh
// re-queries everything and swaps in a new View, so readers see either the
// previous or the next View in full, never a mix.
type Synchronizer struct {
	source   Source
	notifier Notifier
	bus      events.Publisher
	metrics  *metrics.Collector
	logger   *zap.Logger
	cfg      Config

	view      atomic.Pointer[View]
	group     singleflight.Group
	requested atomic.Uint64
	throttler *Throttler

	refreshes       atomic.Uint64
	failures        atomic.Uint64
	notifications   atomic.Uint64
	resubscriptions atomic.Uint64

	errMu   sync.Mutex
	lastErr error
}

// NewSynchronizer creates a synchronizer; bus and collector may be nil.
func NewSynchronizer(source Source, notifier Notifier, bus events.Publisher, collector *metrics.Collector, logger *zap.Logger, cfg Config) *Synchronizer {
	def := DefaultConfig()
	if cfg.ResubscribeInitial <= 0 {
		cfg.ResubscribeInitial = def.ResubscribeInitial
	}
	if cfg.ResubscribeMax <= 0 {
		cfg.ResubscribeMax = def.ResubscribeMax
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = def.RefreshTimeout
	}

	logger = logger.Named("market-sync")
	s := &Synchronizer{
		source:    source,
		notifier:  notifier,
		bus:       bus,
		metrics:   collector,
		logger:    logger,
		cfg:       cfg,
		throttler: NewThrottler(cfg.CoalesceWindow, logger),
	}
	s.view.Store(&View{})
	return s
}

// View returns the current collections. Before the first successful
// refresh it is an empty View with Version 0.
func (s *Synchronizer) View() *View {
	return s.view.Load()
}

// Refresh re-queries all three collections and atomically replaces the
// cached View. Concurrent calls share one query round, but only a round
// that started after the call: a caller that joins an older round runs
// another one once it finishes. On failure the previous View stays in
// place and the error is returned.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	want := s.requested.Add(1)
	for {
		v, err, shared := s.group.Do("refresh", func() (interface{}, error) {
			gen := s.requested.Load()
			err := s.refresh(ctx)
			return round{gen: gen, cancelled: ctx.Err() != nil}, err
		})
		r, _ := v.(round)
		switch {
		case r.gen < want:
			// started before this call; it may have missed the change
		case shared && r.cancelled && ctx.Err() == nil:
			// cut short by another caller's context
		default:
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// round is the outcome of one shared query round; gen is the request
// generation it started at.
type round struct {
	gen       uint64
	cancelled bool
}

func (s *Synchronizer) refresh(ctx context.Context) error {
	start := time.Now()

	var (
		mine      []ledger.CropToken
		available []ledger.CropToken
		snapshot  ledger.Snapshot
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		mine, err = s.source.MyTokens(gctx)
		return err
	})
	g.Go(func() (err error) {
		available, err = s.source.AvailableTokens(gctx)
		return err
	})
	g.Go(func() (err error) {
		snapshot, err = s.source.Snapshot(gctx)
		return err
	})

	prev := s.view.Load()
	if err := g.Wait(); err != nil {
		s.failures.Add(1)
		s.setLastErr(err)
		s.metrics.RecordRefresh(err, time.Since(start))
		s.logger.Warn("Refresh failed, keeping previous view",
			zap.Uint64("version", prev.Version),
			zap.Error(err))
		s.publish(events.RefreshFailedEvent{
			BaseEvent: events.NewBase(events.MarketRefreshFailed),
			Version:   prev.Version,
			Error:     err,
		})
		return fmt.Errorf("refresh market: %w", err)
	}

	next := &View{
		Version:     prev.Version + 1,
		MyTokens:    mine,
		Available:   available,
		Snapshot:    snapshot,
		RefreshedAt: time.Now(),
	}
	s.view.Store(next)
	s.refreshes.Add(1)
	s.setLastErr(nil)

	elapsed := time.Since(start)
	s.metrics.RecordRefresh(nil, elapsed)
	s.metrics.SetCachedTokens("mine", len(mine))
	s.metrics.SetCachedTokens("available", len(available))
	s.logger.Debug("View refreshed",
		zap.Uint64("version", next.Version),
		zap.Int("my_tokens", len(mine)),
		zap.Int("available", len(available)),
		zap.Duration("took", elapsed))
	s.publish(events.RefreshedEvent{
		BaseEvent: events.NewBase(events.MarketRefreshed),
		Version:   next.Version,
		MyTokens:  len(mine),
		Available: len(available),
		Duration:  elapsed,
	})
	return nil
}

// OnChangeNotification refreshes for any notification that a token was
// issued, sold, delivered or withdrawn. The payload is not applied; it only
// signals that something changed.
func (s *Synchronizer) OnChangeNotification(ctx context.Context, n ledger.Notification) error {
	if !s.record(n) {
		return nil
	}
	return s.Refresh(ctx)
}

// record counts and republishes a notification; false for kinds that do
// not affect the cached collections.
func (s *Synchronizer) record(n ledger.Notification) bool {
	typ, ok := notificationEvents[n.Kind]
	if !ok {
		s.logger.Debug("Ignoring notification", zap.String("kind", string(n.Kind)))
		return false
	}
	s.notifications.Add(1)
	s.metrics.RecordNotification(string(n.Kind))
	s.publish(events.NotificationEvent{
		BaseEvent:    events.NewBase(typ),
		TokenID:      uint64(n.TokenID),
		Issuer:       string(n.Issuer),
		Counterparty: string(n.Counterparty),
		BlockRef:     n.BlockRef,
	})
	return true
}

var notificationEvents = map[ledger.NotificationKind]events.EventType{
	ledger.TokenIssued:    events.TokenIssued,
	ledger.TokenSold:      events.TokenSold,
	ledger.TokenDelivered: events.TokenDelivered,
	ledger.TokenWithdrawn: events.TokenWithdrawn,
}

// Run keeps the View current until ctx ends: it refreshes once, then
// follows the notification stream, re-subscribing with backoff whenever the
// stream breaks and refreshing after each re-subscription to cover the gap.
func (s *Synchronizer) Run(ctx context.Context) error {
	if err := s.refreshBounded(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("Initial refresh failed", zap.Error(err))
	}

	var reconcile <-chan time.Time
	if s.cfg.ReconcileInterval > 0 {
		ticker := time.NewTicker(s.cfg.ReconcileInterval)
		defer ticker.Stop()
		reconcile = ticker.C
	}

	first := true
	for {
		notes, errs, err := s.subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !first {
			s.resubscriptions.Add(1)
			if err := s.refreshBounded(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("Catch-up refresh failed", zap.Error(err))
			}
		}
		first = false

		if err := s.follow(ctx, notes, errs, reconcile); err != nil {
			s.logger.Warn("Notification stream lost, re-subscribing", zap.Error(err))
			continue
		}
		return nil
	}
}

func (s *Synchronizer) subscribe(ctx context.Context) (<-chan ledger.Notification, <-chan error, error) {
	type stream struct {
		notes <-chan ledger.Notification
		errs  <-chan error
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.ResubscribeInitial
	policy.MaxInterval = s.cfg.ResubscribeMax

	notify := func(err error, d time.Duration) {
		s.logger.Info("Subscription attempt failed", zap.Error(err), zap.Duration("backoff", d))
	}

	st, err := backoff.Retry(ctx, func() (stream, error) {
		notes, errs, err := s.notifier.Subscribe(ctx)
		return stream{notes, errs}, err
	}, backoff.WithBackOff(policy), backoff.WithMaxElapsedTime(0), backoff.WithNotify(notify))
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe to ledger notifications: %w", err)
	}
	return st.notes, st.errs, nil
}

// follow consumes one subscription. It returns nil when ctx ends and an
// error when the stream breaks.
func (s *Synchronizer) follow(ctx context.Context, notes <-chan ledger.Notification, errs <-chan error, reconcile <-chan time.Time) error {
	flushEvery := s.cfg.CoalesceWindow
	if flushEvery <= 0 {
		flushEvery = 50 * time.Millisecond
	}
	flush := time.NewTicker(flushEvery)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			if err == nil {
				err = errors.New("stream closed")
			}
			return err
		case n, ok := <-notes:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				select {
				case err := <-errs:
					return err
				default:
					return errors.New("notification stream closed")
				}
			}
			if s.record(n) {
				s.throttler.Trigger()
			}
		case <-s.throttler.C():
			s.refreshLogged(ctx, "notification")
		case <-flush.C:
			s.throttler.FlushPending()
		case <-reconcile:
			s.refreshLogged(ctx, "reconcile")
		}
	}
}

func (s *Synchronizer) refreshBounded(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RefreshTimeout)
	defer cancel()
	return s.Refresh(ctx)
}

func (s *Synchronizer) refreshLogged(ctx context.Context, reason string) {
	if err := s.refreshBounded(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("Refresh failed", zap.String("reason", reason), zap.Error(err))
	}
}

func (s *Synchronizer) Stats() Stats {
	_, coalesced := s.throttler.Stats()
	s.errMu.Lock()
	lastErr := s.lastErr
	s.errMu.Unlock()

	v := s.view.Load()
	return Stats{
		Version:         v.Version,
		Refreshes:       s.refreshes.Load(),
		Failures:        s.failures.Load(),
		Notifications:   s.notifications.Load(),
		Resubscriptions: s.resubscriptions.Load(),
		Coalesced:       coalesced,
		Throttled:       s.throttler.HasPending(),
		LastError:       lastErr,
		LastRefresh:     v.RefreshedAt,
	}
}

func (s *Synchronizer) setLastErr(err error) {
	s.errMu.Lock()
	s.lastErr = err
	s.errMu.Unlock()
}

func (s *Synchronizer) publish(e events.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(e); err != nil {
		s.logger.Debug("Event not published", zap.String("type", string(e.Type())), zap.Error(err))
	}
}
