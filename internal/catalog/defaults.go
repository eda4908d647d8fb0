// internal/catalog/defaults.go
package catalog

import (
	"time"

	"github.com/rovshanmuradov/agro-ledger/internal/ledger"
	"github.com/rovshanmuradov/agro-ledger/internal/money"
)

// point: цена, уверенность и тренд одного месяца
type point struct {
	price      string
	confidence int
	trend      Trend
}

// monthly раскладывает точки по месяцам начиная с year/month
func monthly(year int, month time.Month, points ...point) []Forecast {
	out := make([]Forecast, len(points))
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	for i, p := range points {
		out[i] = Forecast{
			Month:      start.AddDate(0, i, 0),
			Price:      money.MustParseFiat(p.price),
			Confidence: p.confidence,
			Trend:      p.trend,
		}
	}
	return out
}

const (
	up   = TrendUp
	down = TrendDown
)

// Default возвращает встроенные прогнозы (август 2025 .. июль 2026, за
// квинтал). Для PLATANO прогноза нет.
func Default() *Catalog {
	c, err := New(defaultOutlooks()...)
	if err != nil {
		panic("catalog: built-in outlooks are invalid: " + err.Error())
	}
	return c
}

func defaultOutlooks() []Outlook {
	return []Outlook{
		{
			Category:  ledger.CategoryCacao,
			Unit:      "quintal",
			Reference: money.MustParseFiat("140.00"),
			Season: Season{
				Best:    []time.Month{time.May, time.June, time.July},
				Worst:   []time.Month{time.January, time.February, time.March},
				Harvest: "May - August",
			},
			Forecasts: monthly(2025, time.August,
				point{"142.00", 85, up},
				point{"148.00", 82, up},
				point{"155.00", 78, up},
				point{"162.00", 75, up},
				point{"168.00", 80, up},
				point{"165.00", 72, down},
				point{"158.00", 70, down},
				point{"152.00", 68, down},
				point{"145.00", 75, down},
				point{"150.00", 82, up},
				point{"165.00", 85, up},
				point{"175.00", 88, up},
			),
		},
		{
			Category:  ledger.CategoryBanano,
			Unit:      "quintal",
			Reference: money.MustParseFiat("25.00"),
			Season: Season{
				Best:    []time.Month{time.March, time.April, time.August, time.September},
				Worst:   []time.Month{time.June, time.July, time.December},
				Harvest: "all year",
			},
			Forecasts: monthly(2025, time.August,
				point{"26.00", 90, up},
				point{"28.00", 88, up},
				point{"27.00", 85, down},
				point{"25.00", 82, down},
				point{"23.00", 78, down},
				point{"24.00", 80, up},
				point{"26.00", 85, up},
				point{"29.00", 90, up},
				point{"31.00", 92, up},
				point{"30.00", 88, down},
				point{"27.00", 82, down},
				point{"25.00", 78, down},
			),
		},
		{
			Category:  ledger.CategoryMaiz,
			Unit:      "quintal",
			Reference: money.MustParseFiat("18.00"),
			Season: Season{
				Best:    []time.Month{time.April, time.May, time.September},
				Worst:   []time.Month{time.December, time.January, time.February},
				Harvest: "April - May, September - October",
			},
			Forecasts: monthly(2025, time.August,
				point{"19.00", 88, up},
				point{"22.00", 85, up},
				point{"25.00", 82, up},
				point{"23.00", 80, down},
				point{"20.00", 75, down},
				point{"17.00", 72, down},
				point{"16.00", 70, down},
				point{"18.00", 75, up},
				point{"21.00", 85, up},
				point{"24.00", 88, up},
				point{"22.00", 82, down},
				point{"20.00", 78, down},
			),
		},
		{
			Category:  ledger.CategoryArroz,
			Unit:      "quintal",
			Reference: money.MustParseFiat("35.00"),
			Season: Season{
				Best:    []time.Month{time.February, time.March, time.August},
				Worst:   []time.Month{time.May, time.June, time.October},
				Harvest: "December - February, June - August",
			},
			Forecasts: monthly(2025, time.August,
				point{"36.00", 85, up},
				point{"38.00", 82, up},
				point{"33.00", 78, down},
				point{"35.00", 80, up},
				point{"37.00", 85, up},
				point{"39.00", 88, up},
				point{"42.00", 90, up},
				point{"40.00", 85, down},
				point{"36.00", 80, down},
				point{"32.00", 75, down},
				point{"34.00", 78, up},
				point{"37.00", 82, up},
			),
		},
		{
			Category:  ledger.CategoryCafe,
			Unit:      "quintal",
			Reference: money.MustParseFiat("320.00"),
			Season: Season{
				Best:    []time.Month{time.June, time.July, time.August},
				Worst:   []time.Month{time.January, time.February, time.March},
				Harvest: "May - September",
			},
			Forecasts: monthly(2025, time.August,
				point{"335.00", 88, up},
				point{"340.00", 85, up},
				point{"325.00", 80, down},
				point{"315.00", 78, down},
				point{"310.00", 75, down},
				point{"305.00", 72, down},
				point{"315.00", 78, up},
				point{"330.00", 82, up},
				point{"345.00", 85, up},
				point{"360.00", 88, up},
				point{"370.00", 90, up},
				point{"365.00", 88, down},
			),
		},
	}
}
