package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"chatfind/internal/chunker"
	"chatfind/internal/config"
	"chatfind/internal/store"
	"chatfind/internal/vector"
	"chatfind/internal/version"
)

var (
	cfgFile string
	dataDir string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chatfind",
	Short: "chatfind - searchable archive for exported AI conversations",
	Long: `chatfind ingests exported conversation archives (ChatGPT-style ZIP or
conversations.json) into a local SQLite archive and makes them searchable by
keyword and by meaning. The serve command exposes the archive to AI
assistants over the Model Context Protocol on stdio.`,
	Version: version.Full(),
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("chatfind %s\n", version.Full())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: <data-dir>/config.json)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default: ~/.chatfind or CHATFIND_DATA_DIR)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig applies the global flags on top of the config file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
		cfg.Store.Path = ""
		cfg.Vector.Path = ""
	}
	if !verbose {
		log.SetFlags(0)
	}
	return cfg, nil
}

// openArchive opens the structured store and vector index, creating the
// data directory on first use.
func openArchive(cfg *config.Config) (*store.Store, *vector.Index, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data directory: %w", err)
	}
	st, err := store.New(cfg.StorePath())
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	idx, err := vector.Open(cfg.VectorPath())
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("open vector index: %w", err)
	}
	return st, idx, nil
}

// defaultTFIDFDims bounds the TF-IDF vocabulary.
const defaultTFIDFDims = 4096

// newEmbedder constructs the configured embedding backend. TF-IDF
// state, when present in the index, is loaded so search queries embed
// in the same vocabulary the chunks were embedded in.
func newEmbedder(cfg *config.Config, idx *vector.Index) (vector.Embedder, error) {
	switch cfg.Vector.EmbedProvider {
	case "tfidf":
		dims := cfg.Vector.EmbedDims
		if dims <= 0 {
			dims = defaultTFIDFDims
		}
		emb := vector.NewTFIDF(dims)
		name, state, err := idx.LoadEmbedderState(context.Background())
		if err != nil {
			return nil, fmt.Errorf("load embedder state: %w", err)
		}
		if len(state) > 0 && name == emb.Name() {
			if err := emb.Unmarshal(state); err != nil {
				return nil, fmt.Errorf("restore embedder state: %w", err)
			}
		}
		return emb, nil
	case "ollama":
		var baseURL, model string
		if cfg.Vector.Ollama != nil {
			baseURL = cfg.Vector.Ollama.BaseURL
			model = cfg.Vector.Ollama.Model
		}
		return vector.NewOllamaEmbedder(baseURL, model, cfg.Vector.EmbedDims), nil
	case "openai":
		var apiKey, model string
		if cfg.Vector.OpenAI != nil {
			apiKey = cfg.Vector.OpenAI.APIKey
			model = cfg.Vector.OpenAI.Model
		}
		if apiKey == "" {
			return nil, fmt.Errorf("openai embed provider requires vector.openai.api_key")
		}
		return vector.NewOpenAIEmbedder(apiKey, model, cfg.Vector.EmbedDims), nil
	default:
		return nil, fmt.Errorf("unknown embed provider %q", cfg.Vector.EmbedProvider)
	}
}

func newChunker(cfg *config.Config) *chunker.Chunker {
	return chunker.New(cfg.Chunk.Size, cfg.Chunk.Overlap)
}

func main() {
	log.SetOutput(os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
