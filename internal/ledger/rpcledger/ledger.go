// internal/ledger/rpcledger/ledger.go
package rpcledger

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/rovshanmuradov/agro-ledger/internal/ledger"
	"github.com/rovshanmuradov/agro-ledger/internal/utils/metrics"
	"go.uber.org/zap"
)

type Config struct {
	Endpoints []string
	// WSEndpoint carries change notifications.
	WSEndpoint     string
	MaxTries       uint
	InitialBackoff time.Duration
	RequestTimeout time.Duration
	// PingInterval is the websocket heartbeat period; the stream is
	// considered dead after two missed pongs.
	PingInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxTries == 0 {
		c.MaxTries = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	return c
}

// Ledger reads the marketplace over JSON-RPC and streams its change
// notifications over a websocket.
type Ledger struct {
	pool    *Pool
	cfg     Config
	metrics *metrics.Collector
	logger  *zap.Logger

	streams atomic.Int32
}

var _ ledger.Ledger = (*Ledger)(nil)

func New(cfg Config, collector *metrics.Collector, logger *zap.Logger) (*Ledger, error) {
	cfg = cfg.withDefaults()
	pool, err := NewPool(cfg.Endpoints, cfg, collector, logger)
	if err != nil {
		return nil, err
	}
	return &Ledger{
		pool:    pool,
		cfg:     cfg,
		metrics: collector,
		logger:  logger.Named("rpc-ledger"),
	}, nil
}

func (l *Ledger) Pool() *Pool { return l.pool }

func (l *Ledger) Close() error { return l.pool.Close() }

func (l *Ledger) GetToken(ctx context.Context, id ledger.TokenID) (*ledger.RawToken, error) {
	var out *wireToken
	if err := l.pool.Read(ctx, &out, MethodGetToken, uint64(id)); err != nil {
		return nil, fmt.Errorf("token %s: %w", id, err)
	}
	if out == nil {
		return nil, fmt.Errorf("token %s: %w", id, ledger.ErrTokenNotFound)
	}
	return out.raw(), nil
}

func (l *Ledger) ListAvailable(ctx context.Context) ([]ledger.TokenID, error) {
	var out []uint64
	if err := l.pool.Read(ctx, &out, MethodListAvailable); err != nil {
		return nil, err
	}
	return toIDs(out), nil
}

func (l *Ledger) ListIssuerTokens(ctx context.Context, issuer ledger.Address) ([]ledger.TokenID, error) {
	var out []uint64
	if err := l.pool.Read(ctx, &out, MethodListIssuer, string(issuer)); err != nil {
		return nil, err
	}
	return toIDs(out), nil
}

func (l *Ledger) GetSnapshot(ctx context.Context) (*ledger.RawSnapshot, error) {
	var out wireSnapshot
	if err := l.pool.Read(ctx, &out, MethodGetStats); err != nil {
		return nil, err
	}
	volume := out.TotalVolume.Big()
	if volume == nil {
		volume = new(big.Int)
	}
	return &ledger.RawSnapshot{
		Total:       out.Total,
		Available:   out.Available,
		Sold:        out.Sold,
		TotalVolume: volume,
	}, nil
}

func (l *Ledger) IsVerified(ctx context.Context, addr ledger.Address) (bool, error) {
	var out bool
	err := l.pool.Read(ctx, &out, MethodIsVerified, string(addr))
	return out, err
}

func (l *Ledger) PlatformFeeBasisPoints(ctx context.Context) (uint64, error) {
	var out uint64
	err := l.pool.Read(ctx, &out, MethodPlatformFee)
	return out, err
}

func toIDs(in []uint64) []ledger.TokenID {
	out := make([]ledger.TokenID, len(in))
	for i, v := range in {
		out[i] = ledger.TokenID(v)
	}
	return out
}
