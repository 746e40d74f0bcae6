package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <file>",
		Short: "Delete a file from the server and the local sync folder",
		Args:  cobra.ExactArgs(1),
		RunE:  runDelete,
	}
}

func runDelete(cmd *cobra.Command, args []string) error {
	fileName := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	t := newTransport(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := t.Delete(ctx, fileName); err != nil {
		return fmt.Errorf("deleting %s: %w", fileName, err)
	}

	st, err := openState(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	// Suppress the reconciler re-downloading the file it just deleted, and
	// clear any deletion it had queued for the same name.
	_ = st.MarkRecentlyDeleted(fileName)
	_ = st.ClearPendingDeletion(fileName)

	localPath := filepath.Join(cfg.SyncFolder, fileName)
	if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing local copy: %w", err)
	}

	fmt.Printf("%s deleted\n", fileName)
	return nil
}
