package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newConflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List recorded conflicts",
		RunE:  runConflicts,
	}
	cmd.AddCommand(newConflictsDiffCmd())
	return cmd
}

func newConflictsDiffCmd() *cobra.Command {
	var clientID string
	cmd := &cobra.Command{
		Use:   "diff <conflict-id>",
		Short: "Show the unified diff between a conflict's winner and loser",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConflictsDiff(args[0], clientID)
		},
	}
	cmd.Flags().StringVar(&clientID, "client-id", "", "losing client_id to diff against (defaults to the first recorded loser)")
	return cmd
}

func runConflictsDiff(conflictID, loserClientID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	t := newTransport(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	diff, err := t.Diff(ctx, conflictID, loserClientID)
	if err != nil {
		return fmt.Errorf("diffing conflict %s: %w", conflictID, err)
	}
	if !diff.HasChanges {
		fmt.Println("no differences")
		return nil
	}
	fmt.Print(diff.UnifiedDiff)
	fmt.Printf("+%d -%d\n", diff.Stats.LinesAdded, diff.Stats.LinesRemoved)
	return nil
}

func runConflicts(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	t := newTransport(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conflicts, err := t.ListConflicts(ctx)
	if err != nil {
		return fmt.Errorf("listing conflicts: %w", err)
	}
	if len(conflicts) == 0 {
		fmt.Println("no conflicts")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFILE\tSTATUS\tWINNER\tLOSERS\tWHEN")
	for _, c := range conflicts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			c.ID, c.FileName, c.Status, c.Winner.ClientID, len(c.Losers), formatTime(c.Timestamp))
	}
	return tw.Flush()
}
