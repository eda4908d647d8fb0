// internal/session/session.go
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/agro-ledger/internal/events"
	"github.com/rovshanmuradov/agro-ledger/internal/ledger"
	"github.com/rovshanmuradov/agro-ledger/internal/market"
	"github.com/rovshanmuradov/agro-ledger/internal/money"
	"github.com/rovshanmuradov/agro-ledger/internal/storage"
	"github.com/rovshanmuradov/agro-ledger/internal/transaction"
	"github.com/rovshanmuradov/agro-ledger/internal/utils/metrics"
)

var (
	ErrNotReady         = errors.New("session is not ready")
	ErrAlreadyConnected = errors.New("session is already connected")
	ErrClosed           = errors.New("session is closed")
)

// State is a session lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateReady        State = "ready"
	StateClosed       State = "closed"
)

// Backend is what a Dialer hands to a session: the ledger to read from,
// the account to act as, and the resources to release on disconnect.
type Backend struct {
	Ledger  ledger.Ledger
	Account ledger.AccountProvider

	closers []namedCloser
}

// OnClose registers fn to run when the connection is torn down.
func (b *Backend) OnClose(name string, fn func() error) {
	b.closers = append(b.closers, namedCloser{name: name, fn: fn})
}

// Dialer opens a connection to a ledger.
type Dialer func(ctx context.Context) (*Backend, error)

type Options struct {
	Converter *money.Converter
	Client    ledger.Config
	Sync      market.Config
	Confirm   transaction.Config

	// Optional collaborators.
	Journal storage.Journal
	Bus     events.Publisher
	Metrics *metrics.Collector

	// CloseTimeout bounds releasing a connection's resources.
	CloseTimeout time.Duration
}

// Session owns one connection to the ledger and everything built on it.
// Sessions share no state, so a process may run several at once.
type Session struct {
	id     string
	dial   Dialer
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	state   State
	gen     uint64
	client  *ledger.Client
	sync    *market.Synchronizer
	closers *closers
}

func New(dial Dialer, opts Options, logger *zap.Logger) (*Session, error) {
	if dial == nil {
		return nil, errors.New("session requires a dialer")
	}
	if opts.Converter == nil {
		return nil, errors.New("session requires a converter")
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = 10 * time.Second
	}
	id := uuid.NewString()
	return &Session{
		id:     id,
		dial:   dial,
		opts:   opts,
		logger: logger.Named("session").With(zap.String("session_id", id)),
		state:  StateDisconnected,
	}, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect dials the ledger, builds the client and synchronizer, loads the
// first view and starts following notifications. The session is ready only
// once the first view has loaded.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return ErrClosed
	case StateConnecting, StateReady:
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.setState(StateConnecting)
	s.mu.Unlock()

	backend, err := s.dial(ctx)
	if err != nil {
		s.abortConnect()
		return fmt.Errorf("dial ledger: %w", err)
	}

	res := &closers{logger: s.logger}
	for _, c := range backend.closers {
		res.add(c.name, c.fn)
	}

	monitor := transaction.NewMonitor(s.logger, s.opts.Confirm)
	tracker := transaction.NewTracker(s.logger, s.opts.Journal, s.opts.Bus, s.opts.Metrics)
	client := ledger.NewClient(backend.Ledger, backend.Account, s.opts.Converter, tracker, monitor, s.logger, s.opts.Client)
	synchronizer := market.NewSynchronizer(client, backend.Ledger, s.opts.Bus, s.opts.Metrics, s.logger, s.opts.Sync)

	if err := synchronizer.Refresh(ctx); err != nil {
		s.release(res)
		s.abortConnect()
		return fmt.Errorf("initial load: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		s.release(res)
		return ErrClosed
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.gen++
	gen := s.gen
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := synchronizer.Run(runCtx); err != nil {
			s.logger.Error("Synchronizer stopped", zap.Error(err))
		}
	}()
	go func() {
		defer wg.Done()
		s.relayChanges(runCtx, gen, backend.Account)
	}()
	res.add("background", func() error {
		cancel()
		wg.Wait()
		return nil
	})

	s.client = client
	s.sync = synchronizer
	s.closers = res
	s.setState(StateReady)
	s.logger.Info("Session ready", zap.String("account", string(client.Address())))
	return nil
}

func (s *Session) abortConnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateConnecting {
		s.setState(StateDisconnected)
	}
}

func (s *Session) release(res *closers) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.CloseTimeout)
	defer cancel()
	if err := res.closeAll(ctx); err != nil {
		s.logger.Warn("Releasing connection resources failed", zap.Error(err))
	}
}

// Client returns the ledger client of a ready session.
func (s *Session) Client() (*ledger.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return nil, err
	}
	return s.client, nil
}

// Synchronizer returns the marketplace synchronizer of a ready session.
func (s *Session) Synchronizer() (*market.Synchronizer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return nil, err
	}
	return s.sync, nil
}

func (s *Session) readyLocked() error {
	switch s.state {
	case StateReady:
		return nil
	case StateClosed:
		return ErrClosed
	default:
		return ErrNotReady
	}
}

// Disconnect stops background work and releases the connection. The
// session may connect again afterwards. Disconnecting a session that is
// not connected does nothing.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateReady {
		closed := s.state == StateClosed
		s.mu.Unlock()
		if closed {
			return ErrClosed
		}
		return nil
	}
	res := s.detachLocked()
	s.setState(StateDisconnected)
	s.mu.Unlock()

	return res.closeAll(ctx)
}

// Close disconnects if needed and makes the session unusable.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	var res *closers
	if s.state == StateReady {
		res = s.detachLocked()
	}
	s.setState(StateClosed)
	s.mu.Unlock()

	if res == nil {
		return nil
	}
	return res.closeAll(ctx)
}

func (s *Session) detachLocked() *closers {
	res := s.closers
	s.client = nil
	s.sync = nil
	s.closers = nil
	return res
}

// relayChanges republishes account and network switches. A switch makes
// the connection stale: the client would keep acting for the old account,
// so the session disconnects and the owner reconnects.
func (s *Session) relayChanges(ctx context.Context, gen uint64, account ledger.AccountProvider) {
	changes := account.Changes()
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			s.logger.Info("Account changed",
				zap.String("address", string(change.Address)),
				zap.String("network", change.Network))
			s.publish(events.AccountChangedEvent{
				BaseEvent: events.NewBase(events.AccountChanged),
				Address:   string(change.Address),
				Network:   change.Network,
			})
			// Disconnect waits for this goroutine, so it must not run inline.
			go s.disconnectGeneration(gen)
			return
		}
	}
}

func (s *Session) disconnectGeneration(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.state != StateReady {
		s.mu.Unlock()
		return
	}
	res := s.detachLocked()
	s.setState(StateDisconnected)
	s.mu.Unlock()

	s.release(res)
}

// setState records a transition; callers hold s.mu.
func (s *Session) setState(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	s.logger.Debug("Session state changed", zap.String("from", string(from)), zap.String("to", string(to)))
	s.publish(events.SessionStateEvent{
		BaseEvent: events.NewBase(events.SessionStateChanged),
		SessionID: s.id,
		From:      string(from),
		To:        string(to),
	})
}

func (s *Session) publish(e events.Event) {
	if s.opts.Bus == nil {
		return
	}
	if err := s.opts.Bus.Publish(e); err != nil {
		s.logger.Debug("Event not published", zap.String("type", string(e.Type())), zap.Error(err))
	}
}
