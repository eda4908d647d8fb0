// internal/transaction/monitor.go
package transaction

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// CheckFunc опрашивает провайдера; true значит, что запись включена в леджер
type CheckFunc func(ctx context.Context) (bool, error)

type Monitor struct {
	logger *zap.Logger
	config Config
}

func NewMonitor(logger *zap.Logger, config Config) *Monitor {
	def := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.ConfirmationTime <= 0 {
		config.ConfirmationTime = def.ConfirmationTime
	}
	return &Monitor{
		logger: logger.Named("write-monitor"),
		config: config,
	}
}

// AwaitConfirmation опрашивает check до подтверждения, отмены ctx или дедлайна.
// Ошибки опроса не прерывают ожидание: исход записи ещё неизвестен.
func (m *Monitor) AwaitConfirmation(ctx context.Context, hash string, check CheckFunc) error {
	if ok, err := check(ctx); err == nil && ok {
		return nil
	}

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	deadline := time.NewTimer(m.config.ConfirmationTime)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrConfirmationTimeout
		case <-ticker.C:
			confirmed, err := check(ctx)
			if err != nil {
				m.logger.Warn("Confirmation check failed", zap.String("hash", hash), zap.Error(err))
				continue
			}
			if confirmed {
				return nil
			}
		}
	}
}
