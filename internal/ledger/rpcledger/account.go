// internal/ledger/rpcledger/account.go
package rpcledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/rovshanmuradov/agro-ledger/internal/ledger"
	"github.com/rovshanmuradov/agro-ledger/internal/wallet"
	"go.uber.org/zap"
)

// Account signs writes with a local wallet and submits them through the pool.
// The key is fixed for the account's lifetime, so Changes never fires.
type Account struct {
	pool    *Pool
	wallet  *wallet.Wallet
	changes chan ledger.AccountChange
	logger  *zap.Logger
}

var _ ledger.AccountProvider = (*Account)(nil)

func NewAccount(pool *Pool, w *wallet.Wallet, logger *zap.Logger) *Account {
	return &Account{
		pool:    pool,
		wallet:  w,
		changes: make(chan ledger.AccountChange),
		logger:  logger.Named("rpc-account").With(zap.String("account", w.String())),
	}
}

func (a *Account) Address() ledger.Address { return a.wallet.Address() }

func (a *Account) Balance(ctx context.Context) (*big.Int, error) {
	var out Quantity
	if err := a.pool.Read(ctx, &out, MethodGetBalance, string(a.Address())); err != nil {
		return nil, fmt.Errorf("balance: %w", err)
	}
	return out.Big(), nil
}

func (a *Account) EstimateCost(ctx context.Context, w ledger.Write) (*big.Int, error) {
	w.From = a.Address()
	var out Quantity
	if err := a.pool.Read(ctx, &out, MethodEstimateCost, w); err != nil {
		return nil, fmt.Errorf("estimate cost: %w", err)
	}
	return out.Big(), nil
}

// Send signs w and submits it once. A transport failure here leaves the
// outcome unknown and is reported as transient.
func (a *Account) Send(ctx context.Context, w ledger.Write) (string, error) {
	signed, err := a.wallet.SignWrite(w)
	if err != nil {
		return "", &ledger.ValidationError{Field: "from", Reason: err.Error()}
	}

	var hash string
	if err := a.pool.Write(ctx, &hash, MethodSendWrite, signed); err != nil {
		return "", err
	}
	if hash == "" {
		return "", ledger.NewTransientError(MethodSendWrite, ErrInvalidResponse)
	}
	a.logger.Debug("Write sent", zap.String("kind", string(w.Kind)), zap.String("hash", hash))
	return hash, nil
}

func (a *Account) Receipt(ctx context.Context, hash string) (*ledger.Receipt, error) {
	var out *wireReceipt
	if err := a.pool.Read(ctx, &out, MethodGetReceipt, hash, string(a.Address())); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	return out.receipt(), nil
}

func (a *Account) Changes() <-chan ledger.AccountChange { return a.changes }
