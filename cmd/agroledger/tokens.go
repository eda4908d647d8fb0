// cmd/agroledger/tokens.go
package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rovshanmuradov/agro-ledger/internal/ledger"
	"github.com/rovshanmuradov/agro-ledger/internal/money"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Show marketplace totals",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			snap, err := c.Snapshot(ctx)
			if err != nil {
				return err
			}
			printSnapshot(cmd.OutOrStdout(), snap, c.Converter())
			return nil
		})
	},
}

var tokensFlags struct {
	mine     bool
	category string
	location string
	sortBy   string
	desc     bool
}

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "List available tokens, or your own with --mine",
	Args:  cobra.NoArgs,
	RunE:  runTokens,
}

func init() {
	f := tokensCmd.Flags()
	f.BoolVar(&tokensFlags.mine, "mine", false, "list tokens issued by this account")
	f.StringVar(&tokensFlags.category, "category", "", "only this crop category")
	f.StringVar(&tokensFlags.location, "location", "", "location substring")
	f.StringVar(&tokensFlags.sortBy, "sort", string(ledger.SortByID), "sort key: id, price, deadline, created, quantity")
	f.BoolVar(&tokensFlags.desc, "desc", false, "sort descending")
}

func runTokens(cmd *cobra.Command, _ []string) error {
	filter := ledger.Filter{Location: tokensFlags.location}
	if tokensFlags.category != "" {
		cat, err := ledger.ParseCategory(tokensFlags.category)
		if err != nil {
			return err
		}
		filter.Category = cat
	}

	return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
		c, err := a.client()
		if err != nil {
			return err
		}
		var tokens []ledger.CropToken
		if tokensFlags.mine {
			tokens, err = c.MyTokens(ctx)
		} else {
			tokens, err = c.AvailableTokens(ctx)
		}
		if err != nil {
			return err
		}
		now := time.Now()
		tokens = ledger.Sort(filter.Apply(tokens, now), ledger.SortKey(tokensFlags.sortBy), tokensFlags.desc)
		printTokens(cmd.OutOrStdout(), tokens, c.Converter(), now)
		return nil
	})
}

func printSnapshot(out io.Writer, snap ledger.Snapshot, conv *money.Converter) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer tw.Flush()
	fmt.Fprintf(tw, "Tokens\t%d\n", snap.Total)
	fmt.Fprintf(tw, "Available\t%d\n", snap.Available)
	fmt.Fprintf(tw, "Sold\t%d\n", snap.Sold)
	fmt.Fprintf(tw, "Sell rate\t%.1f%%\n", snap.SellRate())
	fmt.Fprintf(tw, "Volume\t%s\t%s\n", snap.Volume, fiatOf(conv, snap.Volume))
}

func printTokens(out io.Writer, tokens []ledger.CropToken, conv *money.Converter, now time.Time) {
	if len(tokens) == 0 {
		fmt.Fprintln(out, "no tokens")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer tw.Flush()
	fmt.Fprintln(tw, "ID\tCATEGORY\tQTY\tUNIT\tTOTAL\tFIAT\tDELIVER BY\tLOCATION\tSTATUS")
	for _, t := range tokens {
		total := t.TotalPrice()
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Category, t.Quantity, t.UnitPrice, total, fiatOf(conv, total),
			t.DeadlineText, t.Location, t.Label(now))
	}
}

func fiatOf(conv *money.Converter, native money.Amount) string {
	fiat, err := conv.NativeToFiat(native)
	if err != nil {
		return "-"
	}
	return fiat.String()
}
