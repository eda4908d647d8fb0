// cmd/agroledger/simulate.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/agro-ledger/internal/config"
	"github.com/rovshanmuradov/agro-ledger/internal/events"
	"github.com/rovshanmuradov/agro-ledger/internal/export"
	"github.com/rovshanmuradov/agro-ledger/internal/ledger"
	"github.com/rovshanmuradov/agro-ledger/internal/ledger/memledger"
	"github.com/rovshanmuradov/agro-ledger/internal/ledger/rpcledger"
	"github.com/rovshanmuradov/agro-ledger/internal/market"
	"github.com/rovshanmuradov/agro-ledger/internal/money"
	"github.com/rovshanmuradov/agro-ledger/internal/session"
	"github.com/rovshanmuradov/agro-ledger/internal/transaction"
	"github.com/rovshanmuradov/agro-ledger/internal/utils/metrics"
	"github.com/rovshanmuradov/agro-ledger/internal/wallet"
)

var simulateFlags struct {
	serve     string
	overRPC   bool
	exportDir string
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run an issue, buy and deliver scenario against an in-process ledger",
	Long: `simulate starts an in-process ledger that enforces the marketplace rules,
funds a verified farmer and a buyer, and walks one token from issuance to
delivery. With --rpc the sessions talk to the ledger through its JSON-RPC
gateway. With --serve the ledger is only exposed on the given address, and
the generated keys are printed so other commands can use it.`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().StringVar(&simulateFlags.serve, "serve", "", "serve the ledger's JSON-RPC gateway on this address and wait")
	simulateCmd.Flags().BoolVar(&simulateFlags.overRPC, "rpc", false, "run the scenario through the JSON-RPC gateway")
	simulateCmd.Flags().StringVar(&simulateFlags.exportDir, "export", "", "write the scenario's write history as JSON into this directory")
}

// simulation is a funded in-process marketplace.
type simulation struct {
	cfg     *config.Config
	log     *zap.Logger
	mem     *memledger.Ledger
	farmer  *wallet.Wallet
	buyer   *wallet.Wallet
	metrics *metrics.Collector
	bus     *events.Bus

	writes []transaction.Record
}

var oneNative = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func newSimulation(log *zap.Logger) (*simulation, error) {
	farmer, err := wallet.Generate()
	if err != nil {
		return nil, err
	}
	buyer, err := wallet.Generate()
	if err != nil {
		return nil, err
	}

	mem := memledger.New()
	mem.Verify(farmer.Address())
	mem.Fund(farmer.Address(), oneNative)
	mem.Fund(buyer.Address(), oneNative)

	return &simulation{
		cfg:     config.Default(),
		log:     log,
		mem:     mem,
		farmer:  farmer,
		buyer:   buyer,
		metrics: metrics.NewCollector(),
		bus:     events.NewBus(log, 256),
	}, nil
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfg := config.Default()
	cfg.LogFile = ""
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	sim, err := newSimulation(log.Logger)
	if err != nil {
		return err
	}
	defer sim.bus.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if simulateFlags.serve != "" {
		fmt.Fprintf(out, "farmer key: %s\nbuyer key:  %s\n", sim.farmer.PrivateKey, sim.buyer.PrivateKey)
		return sim.serve(ctx, simulateFlags.serve)
	}

	var rpcCfg *rpcledger.Config
	if simulateFlags.overRPC {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return err
		}
		srvCtx, stop := context.WithCancel(ctx)
		defer stop()
		go sim.serveListener(srvCtx, ln)

		addr := ln.Addr().String()
		rpcCfg = &rpcledger.Config{
			Endpoints:  []string{"http://" + addr},
			WSEndpoint: "ws://" + addr + rpcledger.WSPath,
		}
	}
	if err := sim.run(ctx, out, rpcCfg); err != nil {
		return err
	}
	if simulateFlags.exportDir != "" {
		return sim.exportWrites(out, simulateFlags.exportDir)
	}
	return nil
}

func (s *simulation) gateway() http.Handler {
	return rpcledger.NewGateway(s.mem, func(addr ledger.Address) ledger.AccountProvider {
		return s.mem.Account(addr)
	}, s.log)
}

func (s *simulation) serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.log.Info("Serving simulated ledger", zap.String("addr", ln.Addr().String()))
	return s.serveListener(ctx, ln)
}

func (s *simulation) serveListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.gateway(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *simulation) session(ctx context.Context, w *wallet.Wallet, rpcCfg *rpcledger.Config) (*session.Session, error) {
	dial := session.Memory(s.mem, w.Address())
	if rpcCfg != nil {
		dial = session.Remote(*rpcCfg, w, s.metrics, s.log)
	}
	conv, err := s.cfg.Converter()
	if err != nil {
		return nil, err
	}
	sess, err := session.New(dial, session.Options{
		Converter: conv,
		Client:    s.cfg.LedgerConfig(),
		Sync:      s.cfg.SyncConfig(),
		Confirm:   s.cfg.ConfirmConfig(),
		Bus:       s.bus,
		Metrics:   s.metrics,
	}, s.log.With(zap.String("account", string(w.Address()))))
	if err != nil {
		return nil, err
	}
	return sess, sess.Connect(ctx)
}

// run walks one token from issuance to delivery.
func (s *simulation) run(ctx context.Context, out io.Writer, rpcCfg *rpcledger.Config) error {
	farmerSess, err := s.session(ctx, s.farmer, rpcCfg)
	if err != nil {
		return fmt.Errorf("farmer session: %w", err)
	}
	defer farmerSess.Close(context.Background())
	buyerSess, err := s.session(ctx, s.buyer, rpcCfg)
	if err != nil {
		return fmt.Errorf("buyer session: %w", err)
	}
	defer buyerSess.Close(context.Background())

	farmer, _ := farmerSess.Client()
	buyer, _ := buyerSess.Client()
	buyerView, _ := buyerSess.Synchronizer()

	fmt.Fprintf(out, "farmer %s\nbuyer  %s\n\n", s.farmer.Address(), s.buyer.Address())

	id, err := farmer.Issue(ctx, ledger.IssueRequest{
		Category:  ledger.CategoryCacao,
		Quantity:  50,
		UnitPrice: money.MustParseFiat("4.00"),
		Deadline:  time.Now().AddDate(0, 0, 30),
		Location:  "Quevedo, Los Rios",
	})
	if err != nil {
		return fmt.Errorf("issue: %w", err)
	}
	fmt.Fprintf(out, "1. farmer issued token %s\n", id)

	token, err := waitForListing(ctx, buyerView.View, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "2. buyer sees token %s: %d x %s = %s (%s)\n",
		id, token.Quantity, token.UnitPrice, token.TotalPrice(), fiatOf(buyer.Converter(), token.TotalPrice()))

	// a stale hint from the buyer's screen; the ledger total is paid regardless
	hint := token.TotalPrice().MulInt(2)
	receipt, err := buyer.Acquire(ctx, id, hint)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	fmt.Fprintf(out, "3. buyer acquired token %s in block %d\n", id, receipt.BlockRef)

	if _, err := buyer.Acquire(ctx, id, money.Amount{}); err != nil {
		fmt.Fprintf(out, "   second purchase refused: %v\n", err)
	}

	if _, err := farmer.ConfirmDelivery(ctx, id); err != nil {
		return fmt.Errorf("confirm delivery: %w", err)
	}
	fmt.Fprintf(out, "4. farmer confirmed delivery of token %s\n\n", id)

	final, err := farmer.Token(ctx, id)
	if err != nil {
		return err
	}
	proceeds, err := farmer.NetProceeds(ctx, final)
	if err != nil {
		return err
	}
	snap, err := farmer.Snapshot(ctx)
	if err != nil {
		return err
	}
	printSnapshot(out, snap, farmer.Converter())
	fmt.Fprintf(out, "\nfarmer net proceeds  %s\n", proceeds)
	fmt.Fprintf(out, "farmer balance       %s\n", baseToNative(s.mem.BalanceOf(s.farmer.Address())))
	fmt.Fprintf(out, "buyer balance        %s\n", baseToNative(s.mem.BalanceOf(s.buyer.Address())))
	fmt.Fprintf(out, "platform fees        %s\n", baseToNative(s.mem.CollectedFees()))

	writes := append(farmer.Tracker().List(), buyer.Tracker().List()...)
	for _, rec := range writes {
		fmt.Fprintf(out, "write %s %-16s %-8s %s\n", rec.ID[:8], rec.Kind, rec.Status, rec.Account)
	}
	s.writes = writes
	return nil
}

func (s *simulation) exportWrites(out io.Writer, dir string) error {
	path, err := export.NewWriteExporter(s.log).ExportWrites(s.writes, export.ExportOptions{
		Format:    export.FormatJSON,
		OutputDir: dir,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "write history exported to %s\n", path)
	return nil
}

func waitForListing(ctx context.Context, view func() *market.View, id ledger.TokenID) (ledger.CropToken, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		for _, t := range view().Available {
			if t.ID == id {
				return t, nil
			}
		}
		select {
		case <-ctx.Done():
			return ledger.CropToken{}, fmt.Errorf("token %s never appeared in the buyer's view: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

func baseToNative(units *big.Int) string {
	native, err := money.ToNative(money.NewBaseUnits(units))
	if err != nil {
		return units.String()
	}
	return native.String()
}
