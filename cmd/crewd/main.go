package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pliakos/crewd/internal/collab"
	"github.com/pliakos/crewd/internal/config"
	"github.com/pliakos/crewd/internal/consensus"
	"github.com/pliakos/crewd/internal/executor"
	"github.com/pliakos/crewd/internal/loadbalance"
	"github.com/pliakos/crewd/internal/natsbus"
	"github.com/pliakos/crewd/internal/orchestrator"
	"github.com/pliakos/crewd/internal/store"
	"github.com/pliakos/crewd/internal/vault"
	"github.com/pliakos/crewd/internal/web"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("crewd %s\n", version)
	case "gateway":
		if err := runGateway(); err != nil {
			slog.Error("gateway failed", "error", err)
			os.Exit(1)
		}
	case "backup":
		if err := runBackup(os.Args[2:]); err != nil {
			slog.Error("backup failed", "error", err)
			os.Exit(1)
		}
	case "restore":
		if err := runRestore(os.Args[2:]); err != nil {
			slog.Error("restore failed", "error", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: crewd <command>\n\nCommands:\n  gateway    Start the crewd gateway service\n  backup     Archive the data directories to a .tar.zst file\n  restore    Restore the data directories from a backup archive\n  version    Print version\n")
}

func runGateway() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting crewd gateway", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS
	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "port", cfg.NATS.Port)

	client, err := natsbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer client.Close()

	// Credential vault
	var vlt *vault.Vault
	if cfg.Vault.Passphrase != "" {
		vlt = vault.New(cfg.Vault.Passphrase)
		slog.Info("vault enabled")
	} else {
		slog.Warn("vault passphrase not set, credentials kept in memory only")
	}

	// Load balancer
	lb := loadbalance.New(loadbalance.Strategy(cfg.Orchestrator.Balancer))
	slog.Info("load balancer configured", "strategy", lb.Strategy())

	// Execution backend
	var exec executor.Executor
	switch cfg.Executor.Backend {
	case "", "simulated":
		exec = executor.NewSimulated()
		slog.Info("using simulated executor")
	case "nats":
		exec = executor.NewNATS(client, cfg.Executor.Timeout)
		slog.Info("using nats executor", "timeout", cfg.Executor.Timeout)
	default:
		return fmt.Errorf("unknown executor backend: %s", cfg.Executor.Backend)
	}

	// Orchestrator
	orch := orchestrator.New(exec, db, client, lb, vlt, cfg.Orchestrator)
	orch.Start(ctx)

	// Consensus engine and collaboration protocols
	engine := consensus.New()
	protocols := collab.NewRegistry(&collab.Runtime{
		Exec:      exec,
		Consensus: engine,
		Store:     db,
		Client:    client,
	})

	// Web UI and REST API
	if cfg.Web.Enabled {
		srv := web.NewServer(db, bus, orch, protocols, engine, lb, cfg.Web, version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	cancel()

	orch.Wait()
	return nil
}
