package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chatfind/internal/mcp"
	"chatfind/internal/retrieval"
	"chatfind/internal/search"
)

// serveCmd runs the MCP server on stdio.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the archive over the Model Context Protocol on stdio",
	Long: `Serve exposes the archive to AI assistants as MCP tools: JSON-RPC 2.0
requests are read from stdin and responses written to stdout, one message
per line. All diagnostics go to stderr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
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

	engine := search.New(st, idx, emb, search.Config{
		KeywordWeight:   cfg.Search.KeywordWeight,
		SemanticWeight:  cfg.Search.SemanticWeight,
		Timeout:         time.Duration(cfg.Search.TimeoutMS) * time.Millisecond,
		OverfetchFactor: cfg.Search.OverfetchFactor,
		DefaultLimit:    cfg.Search.DefaultLimit,
		MaxLimit:        cfg.Search.MaxLimit,
	})
	server := mcp.NewServer(engine, retrieval.New(st), st)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("serve: archive at %s, embedder %s, %d vectors", cfg.DataDir, emb.Name(), idx.Count())
	return server.Serve(ctx, os.Stdin, os.Stdout)
}
