// internal/session/dialers.go
package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/agro-ledger/internal/ledger"
	"github.com/rovshanmuradov/agro-ledger/internal/ledger/memledger"
	"github.com/rovshanmuradov/agro-ledger/internal/ledger/rpcledger"
	"github.com/rovshanmuradov/agro-ledger/internal/utils/metrics"
	"github.com/rovshanmuradov/agro-ledger/internal/wallet"
)

// Remote dials a JSON-RPC ledger and acts as the wallet's account.
func Remote(cfg rpcledger.Config, w *wallet.Wallet, collector *metrics.Collector, logger *zap.Logger) Dialer {
	return func(ctx context.Context) (*Backend, error) {
		l, err := rpcledger.New(cfg, collector, logger)
		if err != nil {
			return nil, err
		}
		b := &Backend{
			Ledger:  l,
			Account: rpcledger.NewAccount(l.Pool(), w, logger),
		}
		b.OnClose("rpc-pool", l.Close)
		return b, nil
	}
}

// Memory connects to an in-process ledger as addr.
func Memory(l *memledger.Ledger, addr ledger.Address) Dialer {
	return func(ctx context.Context) (*Backend, error) {
		return &Backend{Ledger: l, Account: l.Account(addr)}, nil
	}
}
