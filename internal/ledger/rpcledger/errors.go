// internal/ledger/rpcledger/errors.go
package rpcledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/rovshanmuradov/agro-ledger/internal/ledger"
)

var (
	// ErrNoEndpoints возникает, когда не задано ни одного RPC адреса
	ErrNoEndpoints = errors.New("no ledger RPC endpoints configured")

	// ErrInvalidResponse возникает при получении некорректного ответа
	ErrInvalidResponse = errors.New("invalid ledger RPC response")

	// ErrNotSubscribed возникает, если сервер не подтвердил подписку
	ErrNotSubscribed = errors.New("subscription not acknowledged")
)

// JSON-RPC error codes used by the ledger gateway.
const (
	CodeRevert         = -32000
	CodeUnauthorized   = -32001
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
)

// Error представляет ошибку RPC с адресом узла и методом
type Error struct {
	Err      error
	Endpoint string
	Method   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("RPC error [%s] at %s: %v", e.Method, e.Endpoint, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classify maps a transport result onto the ledger error taxonomy. Answers
// from the ledger keep their meaning; everything else leaves the outcome unknown.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		if rpcErr.Code == CodeInternal {
			return ledger.NewTransientError(op, err)
		}
		return ledger.ClassifyCode(rpcErr.Code, rpcErr.Message)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return ledger.NewTransientError(op, err)
}
