// Command vaultsupervisor runs the process supervisor/load-balancer core:
// it spawns and health-checks N vaultserver workers and dispatches
// requests across the healthy subset.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/vaultsync/vaultsync/internal/config"
	"github.com/vaultsync/vaultsync/internal/logging"
	"github.com/vaultsync/vaultsync/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "", "path to supervisor config YAML")
	flag.Parse()

	cfg, err := config.LoadSupervisorConfig(*configPath)
	if err != nil {
		panic(err)
	}

	log := logging.New(logging.Options{Component: "vaultsupervisor", Level: cfg.LogLevel})
	log.Info().
		Int("min_instances", cfg.MinInstances).
		Int("max_instances", cfg.MaxInstances).
		Str("storage_root", cfg.Storage.Root).
		Msg("starting")

	sup := supervisor.New(cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	if err := sup.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("supervisor exited with error")
	}
	log.Info().Msg("supervisor stopped")
}
