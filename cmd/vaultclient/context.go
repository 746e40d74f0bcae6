package main

import (
	"github.com/rs/zerolog"

	"github.com/vaultsync/vaultsync/internal/config"
	"github.com/vaultsync/vaultsync/internal/logging"
	"github.com/vaultsync/vaultsync/internal/syncclient"
	"github.com/vaultsync/vaultsync/internal/syncclient/state"
	"github.com/vaultsync/vaultsync/internal/syncclient/transport"
)

// loadConfig reads the client config named by the persistent --config flag.
func loadConfig() (config.ClientConfig, error) {
	return config.LoadClientConfig(flagConfigPath)
}

// newLogger builds the process logger for a one-shot subcommand: the
// configured log level (info when unset) with console-formatted output.
// watch builds its own JSON logger at the same level (see watch.go).
func newLogger(cfg config.ClientConfig) zerolog.Logger {
	return logging.New(logging.Options{Component: "vaultclient", Level: cfg.LogLevel, Pretty: true})
}

// newTransport builds a transport.Client from config, deriving the same
// client_id the sync engine would use.
func newTransport(cfg config.ClientConfig) *transport.Client {
	return transport.New(cfg.ServerURL, syncclient.DeriveClientID(cfg.ClientName))
}

// openState opens the local state database for subcommands that need to
// inspect or mutate it directly (status, delete) without building a full
// Engine.
func openState(cfg config.ClientConfig) (*state.Store, error) {
	return state.Open(cfg.StateDBPath)
}

// pidFilePath derives the watch daemon's PID file path from the state DB
// path, so pause/resume/status can find a running watch without separate
// configuration.
func pidFilePath(cfg config.ClientConfig) string {
	return cfg.StateDBPath + ".pid"
}

// pauseFlagPath derives the on-disk pause flag's path the same way.
func pauseFlagPath(cfg config.ClientConfig) string {
	return cfg.StateDBPath + ".paused"
}
