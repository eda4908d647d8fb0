// cmd/agroledger/app.go
package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/agro-ledger/internal/config"
	"github.com/rovshanmuradov/agro-ledger/internal/events"
	"github.com/rovshanmuradov/agro-ledger/internal/ledger"
	"github.com/rovshanmuradov/agro-ledger/internal/session"
	"github.com/rovshanmuradov/agro-ledger/internal/storage"
	"github.com/rovshanmuradov/agro-ledger/internal/storage/postgres"
	"github.com/rovshanmuradov/agro-ledger/internal/utils/logger"
	"github.com/rovshanmuradov/agro-ledger/internal/utils/metrics"
	"github.com/rovshanmuradov/agro-ledger/internal/wallet"
)

// app holds what every ledger-facing command needs.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Collector
	bus     *events.Bus
	journal storage.Journal
	session *session.Session
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	logCfg := logger.DefaultConfig()
	logCfg.LogFile = cfg.LogFile
	logCfg.Development = cfg.DebugLogging || debug
	logCfg.Secrets = []string{cfg.PrivateKey}
	return logger.New(logCfg)
}

// openApp loads configuration and connects a session for the selected wallet.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		metrics: metrics.NewCollector(),
		bus:     events.NewBus(log.Logger, 256),
	}
	if err := a.connect(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) connect(ctx context.Context) error {
	w, err := a.wallet()
	if err != nil {
		return err
	}
	// ключ из wallets_file не попадает в logCfg.Secrets
	a.log = a.log.Redact(w.PrivateKey.String())
	conv, err := a.cfg.Converter()
	if err != nil {
		return err
	}

	if a.cfg.PostgresURL != "" {
		journal, err := postgres.NewStorage(a.cfg.PostgresURL, a.log.Logger)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		if err := journal.RunMigrations(); err != nil {
			journal.Close()
			return fmt.Errorf("migrate journal: %w", err)
		}
		a.journal = journal
	}

	s, err := session.New(
		session.Remote(a.cfg.RPCConfig(), w, a.metrics, a.log.Logger),
		session.Options{
			Converter: conv,
			Client:    a.cfg.LedgerConfig(),
			Sync:      a.cfg.SyncConfig(),
			Confirm:   a.cfg.ConfirmConfig(),
			Journal:   a.journal,
			Bus:       a.bus,
			Metrics:   a.metrics,
		},
		a.log.WithAccount(string(w.Address())),
	)
	if err != nil {
		return err
	}
	a.session = s
	return s.Connect(ctx)
}

func (a *app) wallet() (*wallet.Wallet, error) {
	if walletName != "" {
		if a.cfg.WalletsFile == "" {
			return nil, errors.New("--wallet requires wallets_file in the configuration")
		}
		wallets, err := wallet.LoadWallets(a.cfg.WalletsFile)
		if err != nil {
			return nil, err
		}
		w, ok := wallets[walletName]
		if !ok {
			return nil, fmt.Errorf("wallet %q not found in %s", walletName, a.cfg.WalletsFile)
		}
		return w, nil
	}
	if a.cfg.PrivateKey == "" {
		return nil, errors.New("private_key is not configured (set AGRO_LEDGER_PRIVATE_KEY or use --wallet)")
	}
	return wallet.NewWallet(a.cfg.PrivateKey)
}

func (a *app) client() (*ledger.Client, error) {
	return a.session.Client()
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.session != nil {
		if err := a.session.Close(ctx); err != nil {
			a.log.LogError("Session close failed", err)
		}
	}
	if err := a.bus.Shutdown(ctx); err != nil {
		a.log.LogError("Event bus shutdown failed", err)
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.LogError("Journal close failed", err)
		}
	}
	_ = a.log.Sync()
}

// withApp runs fn against a connected app and tears it down afterwards.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	done := a.log.TrackPerformance("command")
	defer done()
	if err := fn(ctx, a); err != nil {
		a.log.Debug("Command failed", zap.Error(err))
		return err
	}
	return nil
}
