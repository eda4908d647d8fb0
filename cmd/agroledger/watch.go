// cmd/agroledger/watch.go
package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/agro-ledger/internal/events"
	"github.com/rovshanmuradov/agro-ledger/internal/market"
)

var (
	metricsAddr string
	dueWithin   time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the marketplace and serve Prometheus metrics until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), runWatch(cmd))
	},
}

func init() {
	watchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "listen address for /metrics; metrics_addr from the config when empty")
	watchCmd.Flags().DurationVar(&dueWithin, "due-within", market.DefaultAlertConfig().DueWithin, "warn about sold tokens whose delivery deadline is this close")
}

func runWatch(cmd *cobra.Command) func(ctx context.Context, a *app) error {
	return func(ctx context.Context, a *app) error {
		sync, err := a.session.Synchronizer()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		alertCfg := market.DefaultAlertConfig()
		alertCfg.DueWithin = dueWithin
		alerts := market.NewAlertManager(alertCfg, a.log.Logger)

		refreshed := a.bus.Subscribe(events.MarketRefreshed, events.On(func(_ context.Context, ev events.RefreshedEvent) error {
			snap := sync.View().Snapshot
			fmt.Fprintf(out, "%s v%d  mine=%d available=%d sold=%d/%d (%s)\n",
				ev.Timestamp().Format("15:04:05"), ev.Version, ev.MyTokens, ev.Available,
				snap.Sold, snap.Total, ev.Duration)
			for _, alert := range alerts.CheckView(sync.View(), time.Now()) {
				fmt.Fprintf(out, "  [%s] %s\n", alert.Severity, alert.Message)
			}
			return nil
		}))
		defer refreshed.Unsubscribe()

		notified := a.bus.Subscribe(events.AllEvents, events.On(func(_ context.Context, n events.NotificationEvent) error {
			fmt.Fprintf(out, "%s %s token=%d issuer=%s counterparty=%s\n",
				n.Timestamp().Format("15:04:05"), n.Type(), n.TokenID, n.Issuer, n.Counterparty)
			return nil
		}))
		defer notified.Unsubscribe()

		addr := metricsAddr
		if addr == "" {
			addr = a.cfg.MetricsAddr
		}
		a.log.Info("Watching marketplace", zap.String("metrics_addr", addr))

		err = a.metrics.Serve(ctx, addr)
		printSyncStats(out, sync.Stats())
		return err
	}
}

func printSyncStats(out io.Writer, st market.Stats) {
	fmt.Fprintf(out, "view v%d: %d refreshes, %d failed, %d notifications (%d coalesced), %d resubscriptions\n",
		st.Version, st.Refreshes, st.Failures, st.Notifications, st.Coalesced, st.Resubscriptions)
	if st.Throttled {
		fmt.Fprintln(out, "a coalesced refresh was still queued")
	}
	if st.LastError != nil {
		fmt.Fprintf(out, "last refresh error: %v\n", st.LastError)
	}
}
