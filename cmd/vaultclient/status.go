package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server reachability and locally tracked sync status",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	t := newTransport(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reachable := "unreachable"
	if err := t.Health(ctx); err == nil {
		reachable = "ok"
	}

	paused := "no"
	if isPausedOnDisk(pauseFlagPath(cfg)) {
		paused = "yes"
	}
	watching := "no"
	if _, err := readPIDFile(pidFilePath(cfg)); err == nil {
		watching = "yes"
	}

	fmt.Printf("server:       %s (%s)\n", cfg.ServerURL, reachable)
	fmt.Printf("sync folder:  %s\n", cfg.SyncFolder)
	fmt.Printf("watch daemon: %s\n", watching)
	fmt.Printf("paused:       %s\n\n", paused)

	st, err := openState(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	entries, err := st.ListSyncStatus()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no files tracked yet")
		return nil
	}

	var sizes map[string]int64
	if reachable == "ok" {
		if remote, err := t.ListFiles(ctx); err == nil {
			sizes = make(map[string]int64, len(remote))
			for _, f := range remote {
				sizes[f.Name] = f.Size
			}
		}
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tSTATUS\tVERSION\tSIZE\tUPDATED")
	for _, e := range entries {
		size := "-"
		if sizes != nil {
			if s, ok := sizes[e.FileName]; ok {
				size = formatSize(s)
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", e.FileName, e.Status, e.Version, size, formatTime(e.UpdatedAt))
	}
	return tw.Flush()
}
