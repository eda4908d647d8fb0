// cmd/agroledger/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	configPath string
	walletName string
	debug      bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&walletName, "wallet", "", "wallet name from wallets_file; private_key is used when empty")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(snapshotCmd, tokensCmd)
	rootCmd.AddCommand(issueCmd, acquireCmd, confirmCmd, withdrawCmd)
	rootCmd.AddCommand(watchCmd, simulateCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "agroledger",
	Short: "Client for the crop-token delivery marketplace",
	Long: `agroledger issues, buys and settles crop tokens: delivery contracts for
agricultural produce recorded on an external ledger. Prices are entered in
fiat and converted to the ledger's base units at the configured reference
rate; purchases always pay the price the ledger holds.`,
	SilenceUsage: true,
}
