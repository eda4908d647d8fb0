// internal/money/converter.go
package money

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	centsPerFiat    = decimal.New(1, FiatScale)
	oneCent         = decimal.New(1, -FiatScale)
	centEpsilon     = decimal.New(1, -9)
	baseUnitsPerOne = new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(NativeScale)), nil)
)

// Converter переводит суммы между фиатом, нативной валютой и базовыми единицами
// по одному референсному курсу. Путь фиат -> базовые единицы целочисленный.
type Converter struct {
	rate             decimal.Decimal
	baseUnitsPerCent *big.Int
	minimum          *big.Int
}

// Option настраивает Converter
type Option func(*Converter)

// WithMinimum задаёт минимально допустимую сумму в базовых единицах для ToBaseUnits
func WithMinimum(baseUnits *big.Int) Option {
	return func(c *Converter) {
		if baseUnits != nil && baseUnits.Sign() > 0 {
			c.minimum = new(big.Int).Set(baseUnits)
		}
	}
}

// NewConverter создаёт конвертер для курса "фиат за одну нативную единицу".
// Количество базовых единиц в одном центе фиксируется один раз: floor(10^18 / (rate*100)).
func NewConverter(rate decimal.Decimal, opts ...Option) (*Converter, error) {
	if !rate.IsPositive() {
		return nil, fmt.Errorf("%w: rate must be positive, got %s", ErrInvalidRate, rate.String())
	}

	centsPerNative := new(big.Rat).Mul(rate.Rat(), new(big.Rat).SetInt64(100))
	perCent := new(big.Rat).Quo(new(big.Rat).SetInt(baseUnitsPerOne), centsPerNative)
	units := new(big.Int).Quo(perCent.Num(), perCent.Denom())
	if units.Sign() == 0 {
		return nil, fmt.Errorf("%w: rate %s leaves no base units per cent", ErrInvalidRate, rate.String())
	}

	c := &Converter{
		rate:             rate,
		baseUnitsPerCent: units,
		minimum:          big.NewInt(1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ParseConverter разбирает курс из строки конфигурации
func ParseConverter(rate string, opts ...Option) (*Converter, error) {
	r, err := decimal.NewFromString(rate)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRate, rate, err)
	}
	return NewConverter(r, opts...)
}

func (c *Converter) Rate() decimal.Decimal {
	return c.rate
}

// BaseUnitsPerCent возвращает копию множителя
func (c *Converter) BaseUnitsPerCent() *big.Int {
	return new(big.Int).Set(c.baseUnitsPerCent)
}

// Minimum возвращает копию минимальной суммы в базовых единицах
func (c *Converter) Minimum() *big.Int {
	return new(big.Int).Set(c.minimum)
}

// ToBaseUnits переводит фиат в базовые единицы через целое число центов
func (c *Converter) ToBaseUnits(fiat Amount) (Amount, error) {
	if fiat.denom != Fiat {
		return Amount{}, fmt.Errorf("%w: expected fiat, got %s", ErrInvalidAmount, fiat.denom)
	}
	if !fiat.IsPositive() {
		return Amount{}, fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, fiat)
	}

	cents, err := toCents(fiat.value)
	if err != nil {
		return Amount{}, err
	}

	units := new(big.Int).Mul(cents, c.baseUnitsPerCent)
	if units.Sign() == 0 || units.Cmp(c.minimum) < 0 {
		return Amount{}, fmt.Errorf("%w: %s converts to %s base units, minimum is %s",
			ErrAmountTooSmall, fiat, units, c.minimum)
	}
	return Amount{denom: BaseUnit, units: units}, nil
}

func toCents(v decimal.Decimal) (*big.Int, error) {
	scaled := v.Mul(centsPerFiat)
	rounded := scaled.Round(0)
	if scaled.Sub(rounded).Abs().GreaterThan(centEpsilon) {
		return nil, fmt.Errorf("%w: %s has a fractional cent", ErrPrecisionLoss, v.String())
	}
	return rounded.BigInt(), nil
}

// ToFiat переводит базовые единицы в фиат с округлением до цента.
// Только для отображения и сверки, не для расчёта платежа.
func (c *Converter) ToFiat(base Amount) (Amount, error) {
	if base.denom != BaseUnit {
		return Amount{}, fmt.Errorf("%w: expected base units, got %s", ErrInvalidAmount, base.denom)
	}
	native := decimal.NewFromBigInt(base.bigUnits(), -NativeScale)
	return Amount{denom: Fiat, value: native.Mul(c.rate).Round(FiatScale)}, nil
}

// NativeToFiat делает то же, что ToFiat, для суммы в нативной валюте
func (c *Converter) NativeToFiat(native Amount) (Amount, error) {
	base, err := NativeToBaseUnits(native)
	if err != nil {
		return Amount{}, err
	}
	return c.ToFiat(base)
}

// FiatToNative переводит фиат в нативную валюту через базовые единицы
func (c *Converter) FiatToNative(fiat Amount) (Amount, error) {
	base, err := c.ToBaseUnits(fiat)
	if err != nil {
		return Amount{}, err
	}
	return ToNative(base)
}

// VerifyRoundTrip пересчитывает фиат из converted и проверяет,
// что расхождение с original не больше одного цента
func (c *Converter) VerifyRoundTrip(original, converted Amount) bool {
	if original.denom != Fiat {
		return false
	}
	back, err := c.ToFiat(converted)
	if err != nil {
		return false
	}
	return back.value.Sub(original.value).Abs().LessThanOrEqual(oneCent)
}

// ToNative точно переводит базовые единицы в нативную валюту
func ToNative(base Amount) (Amount, error) {
	if base.denom != BaseUnit {
		return Amount{}, fmt.Errorf("%w: expected base units, got %s", ErrInvalidAmount, base.denom)
	}
	return Amount{denom: Native, value: decimal.NewFromBigInt(base.bigUnits(), -NativeScale)}, nil
}

// NativeToBaseUnits точно переводит нативную валюту в базовые единицы
func NativeToBaseUnits(native Amount) (Amount, error) {
	if native.denom != Native {
		return Amount{}, fmt.Errorf("%w: expected native, got %s", ErrInvalidAmount, native.denom)
	}
	scaled := native.value.Shift(NativeScale)
	if !scaled.Equal(scaled.Truncate(0)) {
		return Amount{}, fmt.Errorf("%w: %s below one base unit", ErrPrecisionLoss, native.value.String())
	}
	return Amount{denom: BaseUnit, units: scaled.BigInt()}, nil
}
