package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"chatfind/internal/config"
)

// configCmd shows the effective configuration.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Config prints the configuration after file loading, environment
expansion and defaults, plus the paths in use. Use "config init" to write
a starter config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigShow()
	},
}

// configInitCmd writes a starter config file.
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file with defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigInit()
	},
}

// configMCPCmd prints MCP registration snippets for host applications.
var configMCPCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Print MCP server registration snippets",
	Long: `Prints the JSON fragment that registers this binary as an MCP
server in Claude Desktop's claude_desktop_config.json, plus the equivalent
"claude mcp add" command for Claude Code.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigMCP()
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configMCPCmd)
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return filepath.Join(config.DefaultDataDir(), "config.json")
}

func runConfigShow() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Never print secrets.
	if cfg.Vector.OpenAI != nil && cfg.Vector.OpenAI.APIKey != "" {
		cfg.Vector.OpenAI.APIKey = "<set>"
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("Config file: %s\n", configPath())
	fmt.Printf("Store:       %s\n", cfg.StorePath())
	fmt.Printf("Vectors:     %s\n\n", cfg.VectorPath())
	fmt.Println(string(data))
	return nil
}

func runConfigMCP() error {
	binary, err := os.Executable()
	if err != nil {
		binary = "chatfind"
	}
	serveArgs := []string{"serve"}
	if cfgFile != "" {
		serveArgs = append(serveArgs, "--config", cfgFile)
	}
	if dataDir != "" {
		serveArgs = append(serveArgs, "--data-dir", dataDir)
	}

	entry := map[string]any{
		"mcpServers": map[string]any{
			"chatfind": map[string]any{
				"command": binary,
				"args":    serveArgs,
			},
		},
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println("Claude Desktop (merge into claude_desktop_config.json):")
	fmt.Println(string(data))
	fmt.Println()
	fmt.Println("Claude Code:")
	fmt.Printf("  claude mcp add chatfind -- %s %s\n", binary, strings.Join(serveArgs, " "))
	return nil
}

func runConfigInit() error {
	path := configPath()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	cfg := config.Default()
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}
