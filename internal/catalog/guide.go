// internal/catalog/guide.go
package catalog

import (
	"fmt"

	"github.com/rovshanmuradov/agro-ledger/internal/money"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Gain содержит разницу цен между двумя точками прогноза
type Gain struct {
	From    money.Amount    // цена, от которой считаем (Fiat)
	To      money.Amount    // цена в лучший месяц (Fiat)
	Amount  money.Amount    // To - From
	Percent decimal.Decimal // Amount / From * 100, один знак после запятой
}

func newGain(from, to money.Amount) (Gain, error) {
	diff, err := to.Sub(from)
	if err != nil {
		return Gain{}, err
	}
	pct := decimal.Zero
	if from.IsPositive() {
		pct = diff.Decimal().Div(from.Decimal()).Mul(hundred).Round(1)
	}
	return Gain{From: from, To: to, Amount: diff, Percent: pct}, nil
}

// BestMonth месяц с максимальной прогнозной ценой; при равенстве раньший
func (o Outlook) BestMonth() (Forecast, bool) {
	return o.pick(func(c int) bool { return c > 0 })
}

// WorstMonth месяц с минимальной прогнозной ценой; при равенстве раньший
func (o Outlook) WorstMonth() (Forecast, bool) {
	return o.pick(func(c int) bool { return c < 0 })
}

func (o Outlook) pick(better func(cmp int) bool) (Forecast, bool) {
	if len(o.Forecasts) == 0 {
		return Forecast{}, false
	}
	best := o.Forecasts[0]
	for _, f := range o.Forecasts[1:] {
		// номинал проверен в validate, ошибки сравнения нет
		if c, err := f.Price.Cmp(best.Price); err == nil && better(c) {
			best = f
		}
	}
	return best, true
}

// PotentialGain выигрыш от продажи в лучший месяц вместо худшего
func (o Outlook) PotentialGain() (Gain, error) {
	best, ok := o.BestMonth()
	if !ok {
		return Gain{}, fmt.Errorf("%w: %s has no forecasts", ErrNoOutlook, o.Category)
	}
	worst, _ := o.WorstMonth()
	return newGain(worst.Price, best.Price)
}

// GainFromNow выигрыш от продажи в лучший месяц вместо продажи по справочной цене
func (o Outlook) GainFromNow() (Gain, error) {
	best, ok := o.BestMonth()
	if !ok {
		return Gain{}, fmt.Errorf("%w: %s has no forecasts", ErrNoOutlook, o.Category)
	}
	return newGain(o.Reference, best.Price)
}

// SuggestedPrice цена для выпуска токена: прогноз лучшего месяца
func (o Outlook) SuggestedPrice() (money.Amount, Forecast, error) {
	best, ok := o.BestMonth()
	if !ok {
		return money.Amount{}, Forecast{}, fmt.Errorf("%w: %s has no forecasts", ErrNoOutlook, o.Category)
	}
	return best.Price, best, nil
}
