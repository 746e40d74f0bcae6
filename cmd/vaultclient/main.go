// Command vaultclient is the client sync engine's operational surface:
// sync, watch, status, conflicts, resolve, restore, rename, delete, pause
// and resume.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var flagConfigPath string

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "vaultclient",
		Short:   "vaultsync client sync engine",
		Version: version,
	}
	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "vaultclient.yaml", "path to client config YAML")

	cmd.AddCommand(
		newSyncCmd(),
		newWatchCmd(),
		newStatusCmd(),
		newConflictsCmd(),
		newResolveCmd(),
		newRestoreCmd(),
		newRenameCmd(),
		newDeleteCmd(),
		newPauseCmd(),
		newResumeCmd(),
	)
	return cmd
}
