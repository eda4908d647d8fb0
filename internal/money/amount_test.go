package money

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFiatScale(t *testing.T) {
	a, err := ParseFiat("4")
	require.NoError(t, err)
	assert.Equal(t, "4.00", a.String())
	assert.Equal(t, Fiat, a.Denomination())

	_, err = ParseFiat("4.001")
	assert.ErrorIs(t, err, ErrPrecisionLoss)

	_, err = ParseFiat("four")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestParseNativeScale(t *testing.T) {
	_, err := ParseNative("0.000000000000000001")
	require.NoError(t, err)

	_, err = ParseNative("0.0000000000000000001")
	assert.ErrorIs(t, err, ErrPrecisionLoss)
}

func TestParseBaseUnits(t *testing.T) {
	a, err := ParseBaseUnits("80000000000000000000000")
	require.NoError(t, err)
	want, _ := new(big.Int).SetString("80000000000000000000000", 10)
	assert.Equal(t, 0, a.BaseUnits().Cmp(want))

	_, err = ParseBaseUnits("1.5")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestArithmeticRequiresSameDenomination(t *testing.T) {
	fiat := MustParseFiat("1.00")
	native := MustParseNative("1")

	_, err := fiat.Add(native)
	assert.ErrorIs(t, err, ErrDenominationMismatch)

	_, err = native.Sub(BaseUnitsFromUint64(1))
	assert.ErrorIs(t, err, ErrDenominationMismatch)

	_, err = fiat.Cmp(native)
	assert.ErrorIs(t, err, ErrDenominationMismatch)
	assert.False(t, fiat.Equal(native))
}

func TestArithmetic(t *testing.T) {
	a := BaseUnitsFromUint64(1_600_000_000_000_000)
	total := a.MulInt(50)
	assert.Equal(t, "80000000000000000", total.String())

	diff, err := total.Sub(a)
	require.NoError(t, err)
	assert.Equal(t, "78400000000000000", diff.String())

	sum, err := MustParseFiat("1.10").Add(MustParseFiat("2.25"))
	require.NoError(t, err)
	assert.Equal(t, "3.35", sum.String())

	cmp, err := MustParseNative("0.08").Cmp(MustParseNative("0.0800"))
	require.NoError(t, err)
	assert.Equal(t, 0, cmp)
}

func TestBaseUnitsIsCopied(t *testing.T) {
	src := big.NewInt(10)
	a := NewBaseUnits(src)
	src.SetInt64(99)
	assert.Equal(t, "10", a.String())

	out := a.BaseUnits()
	out.SetInt64(5)
	assert.Equal(t, "10", a.String())
	assert.Nil(t, MustParseFiat("1").BaseUnits())
}

func TestZero(t *testing.T) {
	assert.True(t, Zero(BaseUnit).IsZero())
	assert.True(t, Zero(Native).IsZero())
	assert.Equal(t, "0.00", Zero(Fiat).String())
}
