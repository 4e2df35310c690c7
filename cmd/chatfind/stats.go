package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// statsCmd prints archive-wide statistics.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show archive statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStats()
	},
}

func runStats() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, idx, err := openArchive(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	defer idx.Close()

	stats, err := st.Stats(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("Archive: %s\n", cfg.DataDir)
	fmt.Printf("  conversations: %d\n", stats.Conversations)
	fmt.Printf("  messages:      %d\n", stats.Messages)
	fmt.Printf("  chunks:        %d (%d vectors indexed)\n", stats.Chunks, idx.Count())
	fmt.Printf("  on disk:       %s\n", formatBytes(archiveSize(cfg.StorePath(), cfg.VectorPath())))
	if stats.KeywordOnlyChunks > 0 {
		fmt.Printf("  keyword-only:  %d chunks without embeddings\n", stats.KeywordOnlyChunks)
	}
	if stats.EarliestTime > 0 {
		fmt.Printf("  date range:    %s to %s\n",
			formatUnix(stats.EarliestTime), formatUnix(stats.LatestTime))
	}
	if len(stats.Models) > 0 {
		fmt.Println("  models:")
		for _, m := range stats.Models {
			fmt.Printf("    %-30s %d\n", m.Model, m.Count)
		}
	}
	return nil
}

func formatUnix(ts float64) string {
	return time.Unix(int64(ts), 0).UTC().Format("2006-01-02")
}

// archiveSize sums the database files plus their WAL sidecars.
func archiveSize(paths ...string) int64 {
	var total int64
	for _, p := range paths {
		for _, f := range []string{p, p + "-wal", p + "-shm"} {
			if info, err := os.Stat(f); err == nil {
				total += info.Size()
			}
		}
	}
	return total
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGT"[exp])
}
