package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vaultsync/vaultsync/internal/config"
)

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause syncing",
		Long: `Pause marks syncing paused and, if a watch daemon is running against
this state DB, signals it via SIGHUP to suspend immediately. Without a
running daemon the flag still takes effect the next time watch starts.`,
		RunE: runPause,
	}
}

func runPause(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := os.WriteFile(pauseFlagPath(cfg), []byte("paused\n"), 0o644); err != nil {
		return fmt.Errorf("writing pause flag: %w", err)
	}
	notifyWatch(cfg)
	fmt.Println("sync paused")
	return nil
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume syncing after a pause",
		RunE:  runResume,
	}
}

func runResume(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := os.Remove(pauseFlagPath(cfg)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clearing pause flag: %w", err)
	}
	notifyWatch(cfg)
	fmt.Println("sync resumed")
	return nil
}

// notifyWatch signals a running watch daemon to reload its pause flag.
// Non-fatal: if no daemon is running, the flag still takes effect the
// next time watch starts.
func notifyWatch(cfg config.ClientConfig) {
	if err := sendSIGHUP(pidFilePath(cfg)); err != nil {
		fmt.Printf("note: %v — takes effect on next watch start\n", err)
	}
}
