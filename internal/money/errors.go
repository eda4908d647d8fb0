// internal/money/errors.go
package money

import "errors"

var (
	// ErrPrecisionLoss возникает, когда значение нельзя представить точно в нужном масштабе
	ErrPrecisionLoss = errors.New("precision loss")

	// ErrInvalidAmount возникает при нулевой, отрицательной или нечитаемой сумме
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidRate возникает при некорректном референсном курсе
	ErrInvalidRate = errors.New("invalid reference rate")

	// ErrAmountTooSmall возникает, когда сумма в базовых единицах равна нулю или ниже минимума
	ErrAmountTooSmall = errors.New("amount too small")

	// ErrDenominationMismatch возникает при операциях над суммами разных номиналов
	ErrDenominationMismatch = errors.New("denomination mismatch")
)
