// cmd/agroledger/guide.go
package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rovshanmuradov/agro-ledger/internal/catalog"
	"github.com/rovshanmuradov/agro-ledger/internal/config"
	"github.com/rovshanmuradov/agro-ledger/internal/ledger"
	"github.com/rovshanmuradov/agro-ledger/internal/money"
)

var guideFlags struct {
	category  string
	forecasts string
	rate      string
}

var guideCmd = &cobra.Command{
	Use:   "guide",
	Short: "Show price forecasts and the best month to sell each crop",
	Long: `guide reads the price forecasts (forecasts_file, or the built-in table)
and shows, per crop category, the best and worst forecast month, the spread
between them and the gain over today's reference price. It needs no ledger
connection.`,
	Example: `  agroledger guide
  agroledger guide --category cacao
  agroledger guide --forecasts forecasts.yaml --rate 3000`,
	Args: cobra.NoArgs,
	RunE: runGuide,
}

func init() {
	f := guideCmd.Flags()
	f.StringVar(&guideFlags.category, "category", "", "show the monthly forecast of one category")
	f.StringVar(&guideFlags.forecasts, "forecasts", "", "forecasts file; forecasts_file from the config when empty")
	f.StringVar(&guideFlags.rate, "rate", "", "fiat per native unit; reference_rate from the config when empty")
	rootCmd.AddCommand(guideCmd)
}

func runGuide(cmd *cobra.Command, _ []string) error {
	// конфиг необязателен: без него работают встроенные прогнозы и курс по умолчанию
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		cfg = config.Default()
	}
	if guideFlags.forecasts != "" {
		cfg.ForecastsFile = guideFlags.forecasts
	}
	if guideFlags.rate != "" {
		cfg.ReferenceRate = guideFlags.rate
	}
	cat, err := cfg.Catalog()
	if err != nil {
		return err
	}
	conv, err := cfg.Converter()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	now := time.Now()
	if guideFlags.category == "" {
		return printGuide(out, cat, now)
	}
	c, err := ledger.ParseCategory(guideFlags.category)
	if err != nil {
		return err
	}
	o, err := cat.Outlook(c)
	if err != nil {
		return err
	}
	return printOutlook(out, o, conv, now)
}

// printGuide prints one line per category, PLATANO included when it has no forecast.
func printGuide(out io.Writer, cat *catalog.Catalog, now time.Time) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tREFERENCE\tBEST\tWORST\tSPREAD\tFROM NOW")
	var expired []string
	for _, c := range ledger.Categories {
		o, err := cat.Outlook(c)
		if err != nil {
			fmt.Fprintf(tw, "%s\t-\tno forecast\t\t\t\n", c)
			continue
		}
		best, _ := o.BestMonth()
		worst, _ := o.WorstMonth()
		spread, err := o.PotentialGain()
		if err != nil {
			return err
		}
		fromNow, err := o.GainFromNow()
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s/%s\t%s %s\t%s %s\t%s\t%s\n",
			c, o.Reference, unitOf(o),
			best.Month.Format(catalog.MonthLayout), best.Price,
			worst.Month.Format(catalog.MonthLayout), worst.Price,
			formatGain(spread), formatGain(fromNow))
		if o.Expired(now) {
			expired = append(expired, string(c))
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(expired) > 0 {
		fmt.Fprintf(out, "\nforecast horizon has passed for %s; load newer forecasts with --forecasts\n", strings.Join(expired, ", "))
	}
	return nil
}

// printOutlook prints the monthly forecast of one category with native prices.
func printOutlook(out io.Writer, o catalog.Outlook, conv *money.Converter, now time.Time) error {
	best, _ := o.BestMonth()
	worst, _ := o.WorstMonth()

	fmt.Fprintf(out, "%s  reference %s/%s\n", o.Category, o.Reference, unitOf(o))
	if len(o.Season.Best) > 0 {
		fmt.Fprintf(out, "sell in     %s\n", joinMonths(o.Season.Best))
	}
	if len(o.Season.Worst) > 0 {
		fmt.Fprintf(out, "avoid       %s\n", joinMonths(o.Season.Worst))
	}
	if o.Season.Harvest != "" {
		fmt.Fprintf(out, "harvest     %s\n", o.Season.Harvest)
	}
	fmt.Fprintln(out)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MONTH\tPRICE\tNATIVE\tCONFIDENCE\tTREND\t")
	for _, f := range o.Forecasts {
		native, err := conv.FiatToNative(f.Price)
		if err != nil {
			return err
		}
		mark := ""
		switch f.Month {
		case best.Month:
			mark = "best"
		case worst.Month:
			mark = "worst"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d%%\t%s\t%s\n",
			f.Month.Format(catalog.MonthLayout), f.Price, native, f.Confidence, f.Trend, mark)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fromNow, err := o.GainFromNow()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nsell in %s at %s: %s over today's reference\n",
		best.Month.Format(catalog.MonthLayout), best.Price, formatGain(fromNow))
	if o.Expired(now) {
		fmt.Fprintf(out, "forecast horizon ended %s\n", o.Horizon().Format(catalog.MonthLayout))
	}
	return nil
}

func formatGain(g catalog.Gain) string {
	sign := "+"
	if g.Amount.Sign() < 0 {
		sign = ""
	}
	return fmt.Sprintf("%s%s (%s%s%%)", sign, g.Amount, sign, g.Percent)
}

func unitOf(o catalog.Outlook) string {
	if o.Unit == "" {
		return "unit"
	}
	return o.Unit
}

func joinMonths(ms []time.Month) string {
	names := make([]string, len(ms))
	for i, m := range ms {
		names[i] = m.String()
	}
	return strings.Join(names, ", ")
}
