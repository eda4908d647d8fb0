// internal/session/closers.go
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

type namedCloser struct {
	name string
	fn   func() error
}

// closers releases the resources of one connection in reverse order of
// registration, so later resources that depend on earlier ones go first.
type closers struct {
	mu     sync.Mutex
	list   []namedCloser
	logger *zap.Logger
}

func (c *closers) add(name string, fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list = append(c.list, namedCloser{name: name, fn: fn})
	c.logger.Debug("Registered closer", zap.String("resource", name))
}

// closeAll runs every closer once, last registered first. A closer that
// does not return before ctx ends is abandoned and reported as timed out.
func (c *closers) closeAll(ctx context.Context) error {
	c.mu.Lock()
	list := c.list
	c.list = nil
	c.mu.Unlock()

	var errs []error
	for i := len(list) - 1; i >= 0; i-- {
		nc := list[i]
		done := make(chan error, 1)
		go func() {
			done <- nc.fn()
		}()

		select {
		case err := <-done:
			if err != nil {
				c.logger.Error("Failed to close resource", zap.String("resource", nc.name), zap.Error(err))
				errs = append(errs, fmt.Errorf("%s: %w", nc.name, err))
				continue
			}
			c.logger.Debug("Resource closed", zap.String("resource", nc.name))
		case <-ctx.Done():
			c.logger.Error("Close timeout for resource", zap.String("resource", nc.name))
			errs = append(errs, fmt.Errorf("%s: close timeout: %w", nc.name, ctx.Err()))
		}
	}
	return errors.Join(errs...)
}
