package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var resetYes bool

// resetCmd deletes the archive databases.
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the archive and start over",
	Long: `Reset removes the conversation database and the vector index. The
config file is kept. This cannot be undone; re-import your exports to
rebuild the archive.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReset()
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetYes, "yes", false, "skip the confirmation prompt")
}

func runReset() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	targets := []string{cfg.StorePath(), cfg.VectorPath()}

	if !resetYes {
		fmt.Printf("This deletes the archive at %s. Type 'yes' to continue: ", cfg.DataDir)
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.TrimSpace(answer) != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	removed := 0
	for _, path := range targets {
		// SQLite leaves WAL and SHM files next to the database.
		for _, p := range []string{path, path + "-wal", path + "-shm"} {
			err := os.Remove(p)
			if err == nil {
				removed++
				continue
			}
			if !os.IsNotExist(err) {
				return fmt.Errorf("remove %s: %w", p, err)
			}
		}
	}
	if removed == 0 {
		fmt.Println("Nothing to remove.")
		return nil
	}
	fmt.Printf("Archive reset. Run 'chatfind import' to rebuild it.\n")
	return nil
}
