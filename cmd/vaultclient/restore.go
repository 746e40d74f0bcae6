package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <file> <version>",
		Short: "Restore a file to an earlier version",
		Long: `Restore creates a new version whose content is a copy of the named
earlier version; history is never rewritten, only appended to. The local
copy is refreshed on the next sync tick.`,
		Args: cobra.ExactArgs(2),
		RunE: runRestore,
	}
}

func runRestore(cmd *cobra.Command, args []string) error {
	fileName := args[0]
	version, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid version %q: %w", args[1], err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	t := newTransport(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	newVersion, err := t.Restore(ctx, fileName, version)
	if err != nil {
		return fmt.Errorf("restoring %s@%d: %w", fileName, version, err)
	}
	fmt.Printf("%s restored from version %d as version %d\n", fileName, version, newVersion)
	return nil
}
