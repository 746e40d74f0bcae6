package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <old-name> <new-name>",
		Short: "Rename a file on the server directly",
		Long: `Rename issues the server rename call immediately, bypassing the
reconciler's own heuristic rename detection. Useful when the size+mtime
heuristic would be ambiguous (e.g. the content changed along with the
name) and the user knows better.`,
		Args: cobra.ExactArgs(2),
		RunE: runRename,
	}
}

func runRename(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	t := newTransport(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := t.Rename(ctx, args[0], args[1]); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", args[0], args[1], err)
	}
	fmt.Printf("%s renamed to %s\n", args[0], args[1])
	return nil
}
