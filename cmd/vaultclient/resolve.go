package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newResolveCmd() *cobra.Command {
	var method, keepVersion string
	cmd := &cobra.Command{
		Use:   "resolve <conflict-id>",
		Short: "Mark a conflict as resolved",
		Long: `Resolve records that a conflict has been handled (manually, by the user
reconciling the winner and conflict copy themselves). It does not delete
or merge files; use restore to bring back a specific version if the
resolution means reverting to one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(args[0], method, keepVersion)
		},
	}
	cmd.Flags().StringVar(&method, "method", "manual", "resolution method recorded on the conflict")
	cmd.Flags().StringVar(&keepVersion, "keep-version", "", "version number the user chose to keep; sent with the request, but the server stores only the method")
	return cmd
}

func runResolve(id, method, keepVersion string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	t := newTransport(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := t.ResolveConflict(ctx, id, method, keepVersion); err != nil {
		return fmt.Errorf("resolving conflict %s: %w", id, err)
	}
	fmt.Printf("conflict %s marked resolved (%s)\n", id, method)
	return nil
}
