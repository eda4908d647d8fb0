// internal/money/amount.go
package money

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Denomination определяет номинал денежной суммы
type Denomination int

const (
	Fiat Denomination = iota + 1
	Native
	BaseUnit
)

const (
	FiatScale   int32 = 2
	NativeScale int32 = 18
)

func (d Denomination) String() string {
	switch d {
	case Fiat:
		return "fiat"
	case Native:
		return "native"
	case BaseUnit:
		return "base_unit"
	default:
		return "unknown"
	}
}

// Scale возвращает максимальное число знаков после запятой для номинала
func (d Denomination) Scale() int32 {
	switch d {
	case Fiat:
		return FiatScale
	case Native:
		return NativeScale
	default:
		return 0
	}
}

// Amount: неизменяемая денежная сумма с тегом номинала.
// Fiat и Native хранятся как decimal с фиксированным масштабом,
// BaseUnit хранится как целое произвольной точности.
type Amount struct {
	denom Denomination
	value decimal.Decimal
	units *big.Int
}

// NewFiat создаёт фиатную сумму; больше двух знаков после запятой дают ErrPrecisionLoss
func NewFiat(v decimal.Decimal) (Amount, error) {
	return newScaled(Fiat, v)
}

// NewNative создаёт сумму в нативной валюте; больше 18 знаков дают ErrPrecisionLoss
func NewNative(v decimal.Decimal) (Amount, error) {
	return newScaled(Native, v)
}

// NewBaseUnits создаёт сумму в базовых единицах
func NewBaseUnits(v *big.Int) Amount {
	if v == nil {
		v = new(big.Int)
	}
	return Amount{denom: BaseUnit, units: new(big.Int).Set(v)}
}

// BaseUnitsFromUint64 удобен для констант и тестов
func BaseUnitsFromUint64(v uint64) Amount {
	return Amount{denom: BaseUnit, units: new(big.Int).SetUint64(v)}
}

func newScaled(denom Denomination, v decimal.Decimal) (Amount, error) {
	scale := denom.Scale()
	if !v.Equal(v.Truncate(scale)) {
		return Amount{}, fmt.Errorf("%w: %s does not fit %s scale %d", ErrPrecisionLoss, v.String(), denom, scale)
	}
	return Amount{denom: denom, value: v}, nil
}

// ParseFiat разбирает строку вида "4.00"
func ParseFiat(s string) (Amount, error) {
	v, err := parseDecimal(s)
	if err != nil {
		return Amount{}, err
	}
	return NewFiat(v)
}

// ParseNative разбирает строку вида "0.0016"
func ParseNative(s string) (Amount, error) {
	v, err := parseDecimal(s)
	if err != nil {
		return Amount{}, err
	}
	return NewNative(v)
}

// ParseBaseUnits разбирает десятичную запись целого числа базовых единиц
func ParseBaseUnits(s string) (Amount, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return Amount{}, fmt.Errorf("%w: %q is not an integer", ErrInvalidAmount, s)
	}
	return Amount{denom: BaseUnit, units: v}, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	return v, nil
}

// MustParseFiat паникует при ошибке; только для констант и тестов
func MustParseFiat(s string) Amount {
	a, err := ParseFiat(s)
	if err != nil {
		panic(err)
	}
	return a
}

// MustParseNative паникует при ошибке; только для констант и тестов
func MustParseNative(s string) Amount {
	a, err := ParseNative(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Zero возвращает нулевую сумму заданного номинала
func Zero(denom Denomination) Amount {
	if denom == BaseUnit {
		return NewBaseUnits(nil)
	}
	return Amount{denom: denom, value: decimal.Zero}
}

func (a Amount) Denomination() Denomination {
	return a.denom
}

// Decimal возвращает значение в виде decimal (для BaseUnit целое)
func (a Amount) Decimal() decimal.Decimal {
	if a.denom == BaseUnit {
		return decimal.NewFromBigInt(a.bigUnits(), 0)
	}
	return a.value
}

// BaseUnits возвращает копию целого значения; nil для остальных номиналов
func (a Amount) BaseUnits() *big.Int {
	if a.denom != BaseUnit {
		return nil
	}
	return new(big.Int).Set(a.bigUnits())
}

func (a Amount) bigUnits() *big.Int {
	if a.units == nil {
		return new(big.Int)
	}
	return a.units
}

func (a Amount) Sign() int {
	if a.denom == BaseUnit {
		return a.bigUnits().Sign()
	}
	return a.value.Sign()
}

func (a Amount) IsZero() bool     { return a.Sign() == 0 }
func (a Amount) IsPositive() bool { return a.Sign() > 0 }

func (a Amount) sameDenomination(b Amount) error {
	if a.denom != b.denom {
		return fmt.Errorf("%w: %s vs %s", ErrDenominationMismatch, a.denom, b.denom)
	}
	return nil
}

// Add складывает суммы одного номинала
func (a Amount) Add(b Amount) (Amount, error) {
	if err := a.sameDenomination(b); err != nil {
		return Amount{}, err
	}
	if a.denom == BaseUnit {
		return Amount{denom: BaseUnit, units: new(big.Int).Add(a.bigUnits(), b.bigUnits())}, nil
	}
	return Amount{denom: a.denom, value: a.value.Add(b.value)}, nil
}

// Sub вычитает суммы одного номинала
func (a Amount) Sub(b Amount) (Amount, error) {
	if err := a.sameDenomination(b); err != nil {
		return Amount{}, err
	}
	if a.denom == BaseUnit {
		return Amount{denom: BaseUnit, units: new(big.Int).Sub(a.bigUnits(), b.bigUnits())}, nil
	}
	return Amount{denom: a.denom, value: a.value.Sub(b.value)}, nil
}

// MulInt умножает на целое количество; масштаб при этом не растёт
func (a Amount) MulInt(n uint64) Amount {
	if a.denom == BaseUnit {
		return Amount{denom: BaseUnit, units: new(big.Int).Mul(a.bigUnits(), new(big.Int).SetUint64(n))}
	}
	return Amount{denom: a.denom, value: a.value.Mul(decimal.NewFromBigInt(new(big.Int).SetUint64(n), 0))}
}

// Cmp сравнивает суммы одного номинала
func (a Amount) Cmp(b Amount) (int, error) {
	if err := a.sameDenomination(b); err != nil {
		return 0, err
	}
	if a.denom == BaseUnit {
		return a.bigUnits().Cmp(b.bigUnits()), nil
	}
	return a.value.Cmp(b.value), nil
}

// Equal true только для одинакового номинала и значения
func (a Amount) Equal(b Amount) bool {
	c, err := a.Cmp(b)
	return err == nil && c == 0
}

func (a Amount) String() string {
	switch a.denom {
	case Fiat:
		return a.value.StringFixed(FiatScale)
	case Native:
		return a.value.String()
	case BaseUnit:
		return a.bigUnits().String()
	default:
		return "0"
	}
}

// MarshalText выводит только число, номинал определяется полем
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}
