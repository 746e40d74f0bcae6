package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vaultsync/vaultsync/internal/logging"
	"github.com/vaultsync/vaultsync/internal/syncclient"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run the sync engine continuously (watcher + poll-interval reconciler)",
		Long: `Watch runs the file watcher and the poll-interval reconciler until
interrupted. Only one watch may run per state DB at a time (enforced by a
PID file lock next to the state DB).

While running, "vaultclient pause" and "vaultclient resume" signal this
process via SIGHUP to suspend or reactivate syncing without restarting it.`,
		RunE: runWatch,
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.New(logging.Options{Component: "vaultclient", Level: cfg.LogLevel})

	cleanup, err := writePIDFile(pidFilePath(cfg))
	if err != nil {
		return err
	}
	defer cleanup()

	engine, err := syncclient.New(cfg, log)
	if err != nil {
		return err
	}
	defer engine.Close()

	if isPausedOnDisk(pauseFlagPath(cfg)) {
		engine.Pause()
	}

	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	go func() {
		for range hupCh {
			if isPausedOnDisk(pauseFlagPath(cfg)) {
				engine.Pause()
			} else {
				engine.Resume()
			}
		}
	}()

	ctx := shutdownContext(context.Background(), log)
	log.Info().Str("sync_folder", cfg.SyncFolder).Str("server_url", cfg.ServerURL).Msg("watch started")
	err = engine.Run(ctx)
	signal.Stop(hupCh)
	close(hupCh)
	return err
}

func isPausedOnDisk(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
