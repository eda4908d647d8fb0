// internal/catalog/catalog.go
package catalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/rovshanmuradov/agro-ledger/internal/ledger"
	"github.com/rovshanmuradov/agro-ledger/internal/money"
)

var (
	ErrNoOutlook      = errors.New("no price outlook for category")
	ErrInvalidOutlook = errors.New("invalid price outlook")
)

// Trend направление цены относительно предыдущего месяца
type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
)

// Forecast прогноз цены на один месяц
type Forecast struct {
	Month      time.Time    // первое число месяца, UTC
	Price      money.Amount // Fiat за единицу
	Confidence int          // 0..100
	Trend      Trend
}

// Season сезонность категории по календарным месяцам
type Season struct {
	Best    []time.Month
	Worst   []time.Month
	Harvest string
}

// Outlook справочная цена и помесячный прогноз одной категории
type Outlook struct {
	Category  ledger.Category
	Unit      string
	Reference money.Amount // текущая справочная цена, Fiat
	Season    Season
	Forecasts []Forecast // по возрастанию месяца
}

// Horizon последний месяц прогноза
func (o Outlook) Horizon() time.Time {
	if len(o.Forecasts) == 0 {
		return time.Time{}
	}
	return o.Forecasts[len(o.Forecasts)-1].Month
}

// Expired true, когда весь прогноз уже в прошлом относительно now
func (o Outlook) Expired(now time.Time) bool {
	return o.Horizon().Before(monthOf(now))
}

func (o Outlook) validate() error {
	if !o.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidOutlook, o.Category)
	}
	if o.Reference.Denomination() != money.Fiat || !o.Reference.IsPositive() {
		return fmt.Errorf("%w: %s reference price must be a positive fiat amount", ErrInvalidOutlook, o.Category)
	}
	if len(o.Forecasts) == 0 {
		return fmt.Errorf("%w: %s has no forecasts", ErrInvalidOutlook, o.Category)
	}
	for i, f := range o.Forecasts {
		if f.Price.Denomination() != money.Fiat || !f.Price.IsPositive() {
			return fmt.Errorf("%w: %s %s price must be a positive fiat amount", ErrInvalidOutlook, o.Category, f.Month.Format(MonthLayout))
		}
		if f.Confidence < 0 || f.Confidence > 100 {
			return fmt.Errorf("%w: %s %s confidence %d out of 0..100", ErrInvalidOutlook, o.Category, f.Month.Format(MonthLayout), f.Confidence)
		}
		if i > 0 && !f.Month.After(o.Forecasts[i-1].Month) {
			return fmt.Errorf("%w: %s forecasts are not in month order", ErrInvalidOutlook, o.Category)
		}
	}
	return nil
}

// Catalog неизменяемый набор прогнозов по категориям
type Catalog struct {
	outlooks map[ledger.Category]Outlook
}

// New проверяет прогнозы; повтор категории считается ошибкой
func New(outlooks ...Outlook) (*Catalog, error) {
	c := &Catalog{outlooks: make(map[ledger.Category]Outlook, len(outlooks))}
	for _, o := range outlooks {
		if err := o.validate(); err != nil {
			return nil, err
		}
		if _, dup := c.outlooks[o.Category]; dup {
			return nil, fmt.Errorf("%w: duplicate category %s", ErrInvalidOutlook, o.Category)
		}
		c.outlooks[o.Category] = o
	}
	return c, nil
}

// Outlook возвращает прогноз категории или ErrNoOutlook
func (c *Catalog) Outlook(cat ledger.Category) (Outlook, error) {
	o, ok := c.outlooks[cat]
	if !ok {
		return Outlook{}, fmt.Errorf("%w: %s", ErrNoOutlook, cat)
	}
	return o, nil
}

// Categories категории с прогнозом в порядке ledger.Categories
func (c *Catalog) Categories() []ledger.Category {
	out := make([]ledger.Category, 0, len(c.outlooks))
	for _, cat := range ledger.Categories {
		if _, ok := c.outlooks[cat]; ok {
			out = append(out, cat)
		}
	}
	return out
}

// MonthLayout формат месяца в файлах прогнозов и выводе
const MonthLayout = "2006-01"

func monthOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
