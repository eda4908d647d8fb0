package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rovshanmuradov/agro-ledger/internal/ledger"
	"github.com/rovshanmuradov/agro-ledger/internal/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func month(year int, m time.Month) time.Time {
	return time.Date(year, m, 1, 0, 0, 0, 0, time.UTC)
}

func TestDefaultCoversCategoriesExceptPlatano(t *testing.T) {
	c := Default()
	assert.Equal(t, []ledger.Category{
		ledger.CategoryCacao, ledger.CategoryBanano, ledger.CategoryMaiz, ledger.CategoryCafe, ledger.CategoryArroz,
	}, c.Categories())

	_, err := c.Outlook(ledger.CategoryPlatano)
	assert.ErrorIs(t, err, ErrNoOutlook)

	cacao, err := c.Outlook(ledger.CategoryCacao)
	require.NoError(t, err)
	assert.Len(t, cacao.Forecasts, 12)
	assert.Equal(t, month(2025, time.August), cacao.Forecasts[0].Month)
	assert.Equal(t, month(2026, time.July), cacao.Horizon())
}

func TestBestAndWorstMonth(t *testing.T) {
	tests := []struct {
		category   ledger.Category
		best       time.Time
		bestPrice  string
		worst      time.Time
		worstPrice string
	}{
		{ledger.CategoryCacao, month(2026, time.July), "175.00", month(2025, time.August), "142.00"},
		{ledger.CategoryBanano, month(2026, time.April), "31.00", month(2025, time.December), "23.00"},
		{ledger.CategoryMaiz, month(2025, time.October), "25.00", month(2026, time.February), "16.00"},
		{ledger.CategoryArroz, month(2026, time.February), "42.00", month(2026, time.May), "32.00"},
		{ledger.CategoryCafe, month(2026, time.June), "370.00", month(2026, time.January), "305.00"},
	}
	c := Default()
	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			o, err := c.Outlook(tt.category)
			require.NoError(t, err)

			best, ok := o.BestMonth()
			require.True(t, ok)
			assert.Equal(t, tt.best, best.Month)
			assert.Equal(t, tt.bestPrice, best.Price.String())

			worst, ok := o.WorstMonth()
			require.True(t, ok)
			assert.Equal(t, tt.worst, worst.Month)
			assert.Equal(t, tt.worstPrice, worst.Price.String())
		})
	}
}

func TestTiesKeepEarlierMonth(t *testing.T) {
	o := Outlook{Forecasts: monthly(2026, time.January,
		point{"10.00", 50, up},
		point{"12.00", 50, up},
		point{"12.00", 60, up},
		point{"10.00", 70, down},
	)}
	best, _ := o.BestMonth()
	worst, _ := o.WorstMonth()
	assert.Equal(t, month(2026, time.February), best.Month)
	assert.Equal(t, month(2026, time.January), worst.Month)

	_, ok := Outlook{}.BestMonth()
	assert.False(t, ok)
}

func TestPotentialGain(t *testing.T) {
	c := Default()

	cacao, _ := c.Outlook(ledger.CategoryCacao)
	g, err := cacao.PotentialGain()
	require.NoError(t, err)
	assert.Equal(t, "33.00", g.Amount.String())
	assert.Equal(t, "23.2", g.Percent.String())
	assert.Equal(t, money.Fiat, g.Amount.Denomination())

	banano, _ := c.Outlook(ledger.CategoryBanano)
	g, err = banano.PotentialGain()
	require.NoError(t, err)
	assert.Equal(t, "8.00", g.Amount.String())
	assert.Equal(t, "34.8", g.Percent.String())
}

func TestGainFromNow(t *testing.T) {
	c := Default()

	cacao, _ := c.Outlook(ledger.CategoryCacao)
	g, err := cacao.GainFromNow()
	require.NoError(t, err)
	assert.Equal(t, "140.00", g.From.String())
	assert.Equal(t, "35.00", g.Amount.String())
	assert.Equal(t, "25", g.Percent.String())

	cafe, _ := c.Outlook(ledger.CategoryCafe)
	g, err = cafe.GainFromNow()
	require.NoError(t, err)
	assert.Equal(t, "50.00", g.Amount.String())
	assert.Equal(t, "15.6", g.Percent.String())

	_, err = Outlook{Category: ledger.CategoryMaiz}.GainFromNow()
	assert.ErrorIs(t, err, ErrNoOutlook)
}

func TestSuggestedPrice(t *testing.T) {
	arroz, err := Default().Outlook(ledger.CategoryArroz)
	require.NoError(t, err)

	price, f, err := arroz.SuggestedPrice()
	require.NoError(t, err)
	assert.Equal(t, "42.00", price.String())
	assert.Equal(t, 90, f.Confidence)
	assert.Equal(t, TrendUp, f.Trend)
}

func TestExpired(t *testing.T) {
	cacao, _ := Default().Outlook(ledger.CategoryCacao)
	assert.False(t, cacao.Expired(time.Date(2026, 7, 31, 23, 0, 0, 0, time.UTC)))
	assert.True(t, cacao.Expired(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)))
}

func TestNewRejectsInvalidOutlooks(t *testing.T) {
	valid := func() Outlook {
		return Outlook{
			Category:  ledger.CategoryCafe,
			Reference: money.MustParseFiat("300.00"),
			Forecasts: monthly(2026, time.November, point{"310.00", 80, up}, point{"320.00", 82, up}),
		}
	}
	_, err := New(valid())
	require.NoError(t, err)

	tests := map[string]func(o *Outlook){
		"unknown category":  func(o *Outlook) { o.Category = "TRIGO" },
		"native reference":  func(o *Outlook) { o.Reference = money.MustParseNative("0.12") },
		"no forecasts":      func(o *Outlook) { o.Forecasts = nil },
		"zero price":        func(o *Outlook) { o.Forecasts[1].Price = money.MustParseFiat("0") },
		"confidence bounds": func(o *Outlook) { o.Forecasts[0].Confidence = 101 },
		"month order":       func(o *Outlook) { o.Forecasts[1].Month = o.Forecasts[0].Month },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			o := valid()
			mutate(&o)
			_, err := New(o)
			assert.ErrorIs(t, err, ErrInvalidOutlook)
		})
	}

	_, err = New(valid(), valid())
	assert.ErrorIs(t, err, ErrInvalidOutlook)
}

func TestLoadForecastsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forecasts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
outlooks:
  - category: platano
    unit: caja
    reference: "8.50"
    best_months: [2, 3]
    worst_months: [8]
    harvest: all year
    forecasts:
      - {month: "2026-11", price: "8.75", confidence: 80, trend: up}
      - {month: "2026-12", price: 9.2, confidence: 75, trend: UP}
      - {month: "2027-01", price: "8.10", confidence: 70, trend: down}
`), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	o, err := c.Outlook(ledger.CategoryPlatano)
	require.NoError(t, err)
	assert.Equal(t, "caja", o.Unit)
	assert.Equal(t, []time.Month{time.February, time.March}, o.Season.Best)

	best, _ := o.BestMonth()
	assert.Equal(t, month(2026, time.December), best.Month)
	assert.Equal(t, "9.20", best.Price.String())
	g, err := o.GainFromNow()
	require.NoError(t, err)
	assert.Equal(t, "0.70", g.Amount.String())
	assert.Equal(t, "8.2", g.Percent.String())
}

func TestLoadRejectsBadForecasts(t *testing.T) {
	cases := map[string]string{
		"bad month": `{month: "11/2026", price: "1.00", confidence: 50, trend: up}`,
		"bad trend": `{month: "2026-11", price: "1.00", confidence: 50, trend: flat}`,
		"bad price": `{month: "2026-11", price: "1.001", confidence: 50, trend: up}`,
	}
	for name, forecast := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "forecasts.yaml")
			body := "outlooks:\n  - category: maiz\n    reference: \"18.00\"\n    forecasts:\n      - " + forecast + "\n"
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := Load(path)
			assert.ErrorIs(t, err, ErrInvalidOutlook)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
