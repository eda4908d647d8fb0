// internal/ledger/errors.go
package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/rovshanmuradov/agro-ledger/internal/money"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAlreadySold         = errors.New("token already sold")
	ErrExpired             = errors.New("delivery deadline passed")
	ErrAlreadyDelivered    = errors.New("token already delivered")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrRejected            = errors.New("rejected by ledger")
	ErrTransientFailure    = errors.New("transient failure, outcome unknown")
	ErrTokenNotFound       = errors.New("token does not exist")
	ErrNotIssued           = errors.New("issuance produced no token-issued notification")

	// Conversion-domain errors, re-exported so callers can match the whole
	// taxonomy from this package.
	ErrPrecisionLoss  = money.ErrPrecisionLoss
	ErrInvalidAmount  = money.ErrInvalidAmount
	ErrInvalidRate    = money.ErrInvalidRate
	ErrAmountTooSmall = money.ErrAmountTooSmall
)

// ValidationError describes malformed input caught before any I/O.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// InsufficientBalanceError carries the exact shortfall in base units.
type InsufficientBalanceError struct {
	Required  *big.Int
	Available *big.Int
	Shortfall *big.Int
	// Stage is "preflight", "cost" or "ledger".
	Stage string
}

func newInsufficientBalance(stage string, required, available *big.Int) *InsufficientBalanceError {
	return &InsufficientBalanceError{
		Required:  new(big.Int).Set(required),
		Available: new(big.Int).Set(available),
		Shortfall: new(big.Int).Sub(required, available),
		Stage:     stage,
	}
}

func (e *InsufficientBalanceError) Error() string {
	if e.Required == nil {
		return "insufficient balance"
	}
	return fmt.Sprintf("insufficient balance (%s): required %s, available %s, short by %s base units",
		e.Stage, e.Required, e.Available, e.Shortfall)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// RejectedError wraps a ledger refusal. Kind is the taxonomy error the
// reason maps to, ErrRejected when it maps to nothing more specific.
type RejectedError struct {
	Reason string
	Kind   error
}

func (e *RejectedError) Error() string {
	if e.Kind != nil && e.Kind != ErrRejected {
		return fmt.Sprintf("rejected by ledger: %s (%v)", e.Reason, e.Kind)
	}
	return fmt.Sprintf("rejected by ledger: %s", e.Reason)
}

func (e *RejectedError) Unwrap() []error {
	if e.Kind == nil || e.Kind == ErrRejected {
		return []error{ErrRejected}
	}
	return []error{ErrRejected, e.Kind}
}

// TransientError marks a network or timeout failure of unknown outcome.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure, re-query before retrying: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() []error {
	return []error{ErrTransientFailure, e.Err}
}

// NewTransientError wraps err as a TransientFailure.
func NewTransientError(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// UserRejectedCode is the wallet code for a user-declined signature.
const UserRejectedCode = 4001

var revertReasons = []struct {
	fragment string
	kind     error
}{
	{"token already sold", ErrAlreadySold},
	{"delivery date passed", ErrExpired},
	{"insufficient payment", ErrInsufficientBalance},
	{"insufficient funds", ErrInsufficientBalance},
	{"already delivered", ErrAlreadyDelivered},
	{"not authorized", ErrUnauthorized},
	{"not token owner", ErrUnauthorized},
	{"farmer not verified", ErrUnauthorized},
	{"issuer not verified", ErrUnauthorized},
	{"token does not exist", ErrTokenNotFound},
	{"delivery date must be in future", ErrValidation},
}

// ClassifyRejection maps a ledger revert reason onto the error taxonomy.
func ClassifyRejection(reason string) error {
	lower := strings.ToLower(reason)
	for _, r := range revertReasons {
		if strings.Contains(lower, r.fragment) {
			return &RejectedError{Reason: reason, Kind: r.kind}
		}
	}
	return &RejectedError{Reason: reason, Kind: ErrRejected}
}

// ClassifyCode maps a provider error code and message onto the taxonomy.
func ClassifyCode(code int, message string) error {
	if code == UserRejectedCode {
		return &RejectedError{Reason: "user rejected the write", Kind: ErrRejected}
	}
	return ClassifyRejection(message)
}

// IsTransient reports whether err leaves the write outcome unknown.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientFailure)
}
