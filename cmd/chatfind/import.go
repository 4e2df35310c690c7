package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chatfind/internal/importer"
)

var importForce bool

// importCmd ingests an export archive into the local archive.
var importCmd = &cobra.Command{
	Use:   "import <archive>",
	Short: "Import an exported conversation archive",
	Long: `Import a ChatGPT-style export into the archive. The argument is either
the export ZIP or a bare conversations.json. Conversations already in the
archive are skipped unless --force re-imports them.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(args[0])
	},
}

func init() {
	importCmd.Flags().BoolVar(&importForce, "force", false, "re-import conversations that already exist")
}

func runImport(archivePath string) error {
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

	emb, err := newEmbedder(cfg, idx)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	imp := importer.New(st, idx, emb, newChunker(cfg), importer.Options{
		Workers:      cfg.Import.Workers,
		EmbedRetries: cfg.Import.EmbedRetries,
		EmbedTimeout: time.Duration(cfg.Import.EmbedTimeoutMS) * time.Millisecond,
	})

	start := time.Now()
	report, err := imp.Import(ctx, archivePath, importForce)
	if err != nil {
		return err
	}

	fmt.Printf("Imported %d of %d conversations in %s\n", report.Imported, report.Found, time.Since(start).Round(time.Millisecond))
	if report.Skipped > 0 {
		fmt.Printf("  skipped:  %d (already imported, use --force to replace)\n", report.Skipped)
	}
	if report.Failed > 0 {
		fmt.Printf("  failed:   %d\n", report.Failed)
	}
	fmt.Printf("  messages: %d\n", report.Messages)
	fmt.Printf("  chunks:   %d\n", report.Chunks)
	if report.FallbackLeaves > 0 {
		fmt.Printf("  threads recovered from a missing current leaf: %d\n", report.FallbackLeaves)
	}
	if report.DegradedChunks > 0 {
		fmt.Printf("  chunks degraded to keyword-only search: %d\n", report.DegradedChunks)
	}
	for _, f := range report.Failures {
		fmt.Printf("  failure: %s (%s): %s\n", f.ConversationID, f.Title, f.Reason)
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d conversation(s) failed to import", report.Failed)
	}
	return nil
}
