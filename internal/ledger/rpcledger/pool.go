// internal/ledger/rpcledger/pool.go
package rpcledger

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/rovshanmuradov/agro-ledger/internal/utils/metrics"
	"go.uber.org/zap"
)

// endpoint: один RPC узел леджера
type endpoint struct {
	url    string
	client jsonrpc.RPCClient
	active atomic.Bool

	successCount atomic.Uint64
	errorCount   atomic.Uint64
}

// Pool распределяет запросы по узлам по кругу, пропуская неактивные
type Pool struct {
	endpoints []*endpoint
	next      atomic.Uint32

	maxTries       uint
	initialBackoff time.Duration
	requestTimeout time.Duration

	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewPool создаёт пул; каждый адрес получает собственный jsonrpc клиент
func NewPool(urls []string, cfg Config, collector *metrics.Collector, logger *zap.Logger) (*Pool, error) {
	if len(urls) == 0 {
		return nil, ErrNoEndpoints
	}
	cfg = cfg.withDefaults()

	p := &Pool{
		maxTries:       cfg.MaxTries,
		initialBackoff: cfg.InitialBackoff,
		requestTimeout: cfg.RequestTimeout,
		metrics:        collector,
		logger:         logger.Named("rpc-pool"),
	}
	for _, url := range urls {
		ep := &endpoint{url: url, client: jsonrpc.NewClient(url)}
		ep.active.Store(true)
		p.endpoints = append(p.endpoints, ep)
	}
	return p, nil
}

// pick возвращает следующий активный узел. Если активных нет, все узлы
// снова считаются активными: лучше попробовать, чем отказать сразу.
func (p *Pool) pick() *endpoint {
	n := uint32(len(p.endpoints))
	for i := uint32(0); i < n; i++ {
		ep := p.endpoints[p.next.Add(1)%n]
		if ep.active.Load() {
			return ep
		}
	}
	p.logger.Warn("No active endpoints left, reactivating all", zap.Int("endpoints", len(p.endpoints)))
	for _, ep := range p.endpoints {
		ep.active.Store(true)
	}
	return p.endpoints[p.next.Add(1)%n]
}

func (p *Pool) call(ctx context.Context, ep *endpoint, out interface{}, method string, params []interface{}) error {
	callCtx, cancel := context.WithTimeout(ctx, p.requestTimeout)
	defer cancel()

	start := time.Now()
	err := ep.client.CallForInto(callCtx, out, method, params)
	p.metrics.RecordRPCLatency(method, ep.url, time.Since(start))

	var rpcErr *jsonrpc.RPCError
	switch {
	case err == nil, errors.As(err, &rpcErr):
		// the node answered, even if with an error
		ep.successCount.Add(1)
		ep.active.Store(true)
	default:
		ep.errorCount.Add(1)
		ep.active.Store(false)
	}
	if err != nil {
		return &Error{Err: err, Endpoint: ep.url, Method: method}
	}
	return nil
}

// Read выполняет идемпотентный запрос с повторами на других узлах.
// Ответ леджера с ошибкой не повторяется.
func (p *Pool) Read(ctx context.Context, out interface{}, method string, params ...interface{}) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.initialBackoff
	policy.MaxInterval = p.initialBackoff * 10

	notify := func(err error, d time.Duration) {
		p.logger.Debug("Retrying ledger read", zap.String("method", method), zap.Error(err), zap.Duration("backoff", d))
	}

	operation := func() (struct{}, error) {
		err := p.call(ctx, p.pick(), out, method, params)
		var rpcErr *jsonrpc.RPCError
		if err != nil && (errors.As(err, &rpcErr) || ctx.Err() != nil) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(p.maxTries),
		backoff.WithNotify(notify))
	return classify(method, err)
}

// Write выполняет запрос ровно один раз: запись в леджер не идемпотентна.
func (p *Pool) Write(ctx context.Context, out interface{}, method string, params ...interface{}) error {
	return classify(method, p.call(ctx, p.pick(), out, method, params))
}

// EndpointStats: счётчики по узлу
type EndpointStats struct {
	URL       string
	Active    bool
	Successes uint64
	Errors    uint64
}

func (p *Pool) Stats() []EndpointStats {
	out := make([]EndpointStats, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		out = append(out, EndpointStats{
			URL:       ep.url,
			Active:    ep.active.Load(),
			Successes: ep.successCount.Load(),
			Errors:    ep.errorCount.Load(),
		})
	}
	return out
}

// Close закрывает клиентов всех узлов
func (p *Pool) Close() error {
	var errs []error
	for _, ep := range p.endpoints {
		if err := ep.client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
