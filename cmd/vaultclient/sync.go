package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vaultsync/vaultsync/internal/syncclient"
	"github.com/vaultsync/vaultsync/internal/syncclient/reconciler"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run a single reconciliation pass and exit",
		Long: `Sync performs one reconciliation tick — the same server<->local diff
watch runs on every poll interval — then exits. Useful for scripted or
cron-driven sync without a long-running daemon.`,
		RunE: runSync,
	}
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	st, err := openState(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	t := newTransport(cfg)
	clientID := syncclient.DeriveClientID(cfg.ClientName)
	rec := reconciler.New(cfg.SyncFolder, clientID, t, st, log)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := t.Health(ctx); err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	if err := rec.Tick(ctx); err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}
	fmt.Println("sync complete")
	return nil
}
