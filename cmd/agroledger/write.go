// cmd/agroledger/write.go
package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/rovshanmuradov/agro-ledger/internal/catalog"
	"github.com/rovshanmuradov/agro-ledger/internal/ledger"
	"github.com/rovshanmuradov/agro-ledger/internal/money"
	"github.com/rovshanmuradov/agro-ledger/internal/transaction"
)

const deadlineLayout = "2006-01-02"

var issueFlags struct {
	category   string
	quantity   uint64
	price      string
	deadline   string
	location   string
	contentRef string
	suggest    bool
}

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a crop token",
	Example: `  agroledger issue --category cacao --quantity 20 --price 12.50 \
    --deadline 2026-12-15 --location "Quevedo, Los Rios"
  agroledger issue --category cafe --quantity 10 --suggest \
    --deadline 2027-06-30 --location "Loja"`,
	Args: cobra.NoArgs,
	RunE: runIssue,
}

func init() {
	f := issueCmd.Flags()
	f.StringVar(&issueFlags.category, "category", "", "crop category")
	f.Uint64Var(&issueFlags.quantity, "quantity", 0, "quantity in units")
	f.StringVar(&issueFlags.price, "price", "", "unit price in fiat, e.g. 12.50")
	f.StringVar(&issueFlags.deadline, "deadline", "", "delivery date, YYYY-MM-DD")
	f.StringVar(&issueFlags.location, "location", "", "delivery location")
	f.StringVar(&issueFlags.contentRef, "content-ref", "", "reference of the attached document; generated when empty")
	f.BoolVar(&issueFlags.suggest, "suggest", false, "price at the best forecast month instead of --price")
	for _, name := range []string{"category", "quantity", "deadline", "location"} {
		_ = issueCmd.MarkFlagRequired(name)
	}
	issueCmd.MarkFlagsMutuallyExclusive("price", "suggest")
	issueCmd.MarkFlagsOneRequired("price", "suggest")

	acquireCmd.Flags().StringVar(&expectFiat, "expect", "", "fiat total you expect to pay; a mismatch is logged, the ledger price is paid")
}

func runIssue(cmd *cobra.Command, _ []string) error {
	cat, err := ledger.ParseCategory(issueFlags.category)
	if err != nil {
		return err
	}
	var price money.Amount
	if !issueFlags.suggest {
		if price, err = money.ParseFiat(issueFlags.price); err != nil {
			return err
		}
	}
	deadline, err := time.ParseInLocation(deadlineLayout, issueFlags.deadline, time.Local)
	if err != nil {
		return &ledger.ValidationError{Field: "deadline", Reason: "expected YYYY-MM-DD"}
	}
	// a date means the end of that day
	deadline = deadline.Add(24*time.Hour - time.Second)

	req := ledger.IssueRequest{
		Category:   cat,
		Quantity:   issueFlags.quantity,
		UnitPrice:  price,
		Deadline:   deadline,
		Location:   issueFlags.location,
		ContentRef: issueFlags.contentRef,
	}
	return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
		if issueFlags.suggest {
			forecasts, err := a.cfg.Catalog()
			if err != nil {
				return err
			}
			if req.UnitPrice, err = suggestPrice(cmd.OutOrStdout(), forecasts, cat); err != nil {
				return err
			}
		}
		c, err := a.client()
		if err != nil {
			return err
		}
		id, err := awaitWrite(ctx, cmd.OutOrStdout(), c.IssueAsync(ctx, req))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "issued token %s\n", id)
		return nil
	})
}

// suggestPrice берёт цену лучшего месяца прогноза для категории
func suggestPrice(out io.Writer, forecasts *catalog.Catalog, cat ledger.Category) (money.Amount, error) {
	o, err := forecasts.Outlook(cat)
	if err != nil {
		return money.Amount{}, err
	}
	price, best, err := o.SuggestedPrice()
	if err != nil {
		return money.Amount{}, err
	}
	fmt.Fprintf(out, "suggested unit price %s (forecast for %s, confidence %d%%)\n",
		price, best.Month.Format(catalog.MonthLayout), best.Confidence)
	return price, nil
}

var expectFiat string

var acquireCmd = &cobra.Command{
	Use:   "acquire <token-id>",
	Short: "Buy a token at the price recorded on the ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := ledger.ParseTokenID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			var hint money.Amount
			if expectFiat != "" {
				fiat, err := money.ParseFiat(expectFiat)
				if err != nil {
					return err
				}
				if hint, err = c.Converter().FiatToNative(fiat); err != nil {
					return err
				}
			}
			receipt, err := awaitWrite(ctx, cmd.OutOrStdout(), c.AcquireAsync(ctx, id, hint))
			if err != nil {
				return err
			}
			printReceipt(cmd, "acquired", id, receipt)
			return nil
		})
	},
}

var confirmCmd = &cobra.Command{
	Use:   "confirm <token-id>",
	Short: "Confirm delivery of a sold token",
	Args:  cobra.ExactArgs(1),
	RunE:  tokenWrite("delivery confirmed", (*ledger.Client).ConfirmDeliveryAsync),
}

var withdrawCmd = &cobra.Command{
	Use:   "withdraw <token-id>",
	Short: "Withdraw an unsold token you issued",
	Args:  cobra.ExactArgs(1),
	RunE:  tokenWrite("withdrawn", (*ledger.Client).WithdrawAsync),
}

func tokenWrite(done string, write func(*ledger.Client, context.Context, ledger.TokenID) *transaction.Pending[*ledger.Receipt]) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := ledger.ParseTokenID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			receipt, err := awaitWrite(ctx, cmd.OutOrStdout(), write(c, ctx, id))
			if err != nil {
				return err
			}
			printReceipt(cmd, done, id, receipt)
			return nil
		})
	}
}

func printReceipt(cmd *cobra.Command, what string, id ledger.TokenID, r *ledger.Receipt) {
	fmt.Fprintf(cmd.OutOrStdout(), "token %s %s (write %s, block %d)\n", id, what, r.Hash, r.BlockRef)
}

// progressEvery: как часто напоминать, что запись ещё ждёт леджер
var progressEvery = 5 * time.Second

// awaitWrite ждёт асинхронную запись и периодически печатает её статус.
// Прерывание ctx не отменяет уже отправленную запись.
func awaitWrite[T any](ctx context.Context, out io.Writer, p *transaction.Pending[T]) (T, error) {
	tick := time.NewTicker(progressEvery)
	defer tick.Stop()
	for {
		select {
		case <-p.Done():
			return p.Wait(ctx)
		case <-ctx.Done():
			fmt.Fprintf(out, "interrupted while the write is %s; see `agroledger history`\n", p.Status())
			return p.Wait(ctx)
		case <-tick.C:
			fmt.Fprintf(out, "waiting for the ledger (%s)...\n", p.Status())
		}
	}
}
