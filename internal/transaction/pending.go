// internal/transaction/pending.go
package transaction

import (
	"context"
	"sync"
)

// Pending: результат асинхронной записи. Status не блокирует.
type Pending[T any] struct {
	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	status Status
	result T
	err    error
}

// Go запускает fn в отдельной горутине
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Pending[T] {
	p := &Pending[T]{done: make(chan struct{}), status: StatusPending}
	go func() {
		res, err := fn(ctx)
		p.finish(res, err)
	}()
	return p
}

func (p *Pending[T]) finish(res T, err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.result, p.err = res, err
		if err != nil {
			p.status = StatusFailed
		} else {
			p.status = StatusSettled
		}
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *Pending[T]) Done() <-chan struct{} {
	return p.done
}

func (p *Pending[T]) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Wait блокирует до завершения записи или отмены ctx.
// Отмена ctx не отменяет саму запись.
func (p *Pending[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		p.mu.RLock()
		defer p.mu.RUnlock()
		return p.result, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
