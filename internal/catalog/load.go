// internal/catalog/load.go
package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/rovshanmuradov/agro-ledger/internal/ledger"
	"github.com/rovshanmuradov/agro-ledger/internal/money"
	"github.com/spf13/viper"
)

// fileOutlook is one entry of a forecasts file:
//
//	outlooks:
//	  - category: cacao
//	    unit: quintal
//	    reference: "140.00"
//	    best_months: [5, 6, 7]
//	    worst_months: [1, 2, 3]
//	    harvest: May - August
//	    forecasts:
//	      - {month: "2026-11", price: "150.00", confidence: 80, trend: up}
type fileOutlook struct {
	Category    string         `mapstructure:"category"`
	Unit        string         `mapstructure:"unit"`
	Reference   string         `mapstructure:"reference"`
	BestMonths  []int          `mapstructure:"best_months"`
	WorstMonths []int          `mapstructure:"worst_months"`
	Harvest     string         `mapstructure:"harvest"`
	Forecasts   []fileForecast `mapstructure:"forecasts"`
}

type fileForecast struct {
	Month      string `mapstructure:"month"`
	Price      string `mapstructure:"price"`
	Confidence int    `mapstructure:"confidence"`
	Trend      string `mapstructure:"trend"`
}

// Load читает прогнозы из YAML/JSON/TOML файла (формат по расширению)
func Load(path string) (*Catalog, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read forecasts: %w", err)
	}

	var file struct {
		Outlooks []fileOutlook `mapstructure:"outlooks"`
	}
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("decode forecasts: %w", err)
	}

	outlooks := make([]Outlook, 0, len(file.Outlooks))
	for _, fo := range file.Outlooks {
		o, err := fo.outlook()
		if err != nil {
			return nil, err
		}
		outlooks = append(outlooks, o)
	}
	return New(outlooks...)
}

func (fo fileOutlook) outlook() (Outlook, error) {
	cat, err := ledger.ParseCategory(fo.Category)
	if err != nil {
		return Outlook{}, fmt.Errorf("%w: %v", ErrInvalidOutlook, err)
	}
	ref, err := money.ParseFiat(fo.Reference)
	if err != nil {
		return Outlook{}, fmt.Errorf("%w: %s reference: %v", ErrInvalidOutlook, cat, err)
	}
	best, err := calendarMonths(cat, fo.BestMonths)
	if err != nil {
		return Outlook{}, err
	}
	worst, err := calendarMonths(cat, fo.WorstMonths)
	if err != nil {
		return Outlook{}, err
	}

	o := Outlook{
		Category:  cat,
		Unit:      fo.Unit,
		Reference: ref,
		Season:    Season{Best: best, Worst: worst, Harvest: fo.Harvest},
		Forecasts: make([]Forecast, 0, len(fo.Forecasts)),
	}
	for _, ff := range fo.Forecasts {
		month, err := time.Parse(MonthLayout, ff.Month)
		if err != nil {
			return Outlook{}, fmt.Errorf("%w: %s month %q: expected YYYY-MM", ErrInvalidOutlook, cat, ff.Month)
		}
		price, err := money.ParseFiat(ff.Price)
		if err != nil {
			return Outlook{}, fmt.Errorf("%w: %s %s price: %v", ErrInvalidOutlook, cat, ff.Month, err)
		}
		trend := Trend(strings.ToLower(strings.TrimSpace(ff.Trend)))
		if trend != TrendUp && trend != TrendDown {
			return Outlook{}, fmt.Errorf("%w: %s %s trend %q", ErrInvalidOutlook, cat, ff.Month, ff.Trend)
		}
		o.Forecasts = append(o.Forecasts, Forecast{Month: month, Price: price, Confidence: ff.Confidence, Trend: trend})
	}
	return o, nil
}

func calendarMonths(cat ledger.Category, nums []int) ([]time.Month, error) {
	out := make([]time.Month, 0, len(nums))
	for _, n := range nums {
		if n < 1 || n > 12 {
			return nil, fmt.Errorf("%w: %s month %d out of 1..12", ErrInvalidOutlook, cat, n)
		}
		out = append(out, time.Month(n))
	}
	return out, nil
}
