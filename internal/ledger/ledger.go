// internal/ledger/ledger.go
package ledger

import (
	"context"
	"math/big"
)

// Ledger is the read and notification surface of the external ledger.
type Ledger interface {
	GetToken(ctx context.Context, id TokenID) (*RawToken, error)
	ListAvailable(ctx context.Context) ([]TokenID, error)
	ListIssuerTokens(ctx context.Context, issuer Address) ([]TokenID, error)
	GetSnapshot(ctx context.Context) (*RawSnapshot, error)
	IsVerified(ctx context.Context, addr Address) (bool, error)
	PlatformFeeBasisPoints(ctx context.Context) (uint64, error)

	// Subscribe streams change notifications until ctx is cancelled or the
	// transport fails. The notification channel is closed on exit; a
	// transport failure is reported on the error channel first.
	Subscribe(ctx context.Context) (<-chan Notification, <-chan error, error)
}

// AccountProvider signs and submits writes on behalf of one account.
type AccountProvider interface {
	Address() Address
	Balance(ctx context.Context) (*big.Int, error)
	// EstimateCost returns the expected resource cost of w in base units.
	EstimateCost(ctx context.Context, w Write) (*big.Int, error)
	// Send signs and submits w and returns its hash. It does not wait for inclusion.
	Send(ctx context.Context, w Write) (string, error)
	// Receipt returns the receipt for hash, or nil while it is not yet included.
	Receipt(ctx context.Context, hash string) (*Receipt, error)
	// Changes streams account or network changes (account switched, chain changed).
	Changes() <-chan AccountChange
}

// AccountChange reports a change of the provider's account or network.
type AccountChange struct {
	Address Address
	Network string
}
