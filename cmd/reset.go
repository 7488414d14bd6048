package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/facelab/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetDB      bool
	resetExports bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (Catalog, Exported sample lists)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetExports {
			resetDB = true
			resetExports = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetDB {
			if confirm(reader, "⚠️  Are you sure you want to DROP all catalog tables?") {
				fmt.Println("🗑️  Clearing Catalog...")
				db, err := openCatalog(cmd.Context())
				if err != nil {
					utils.Die("Catalog unavailable", err, nil)
				}
				if err := db.Reset(cmd.Context()); err != nil {
					utils.Die("Failed to reset database", err, nil)
				}
			}
		}

		if resetExports {
			if confirm(reader, "⚠️  Are you sure you want to delete all exported sample lists in "+shmDir()+"?") {
				fmt.Println("🗑️  Clearing Exported Sample Lists...")
				removeExports(shmDir())
			}
		}

		fmt.Println("✨ System Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "catalog", false, "Clear PostgreSQL catalog")
	resetCmd.Flags().BoolVar(&resetExports, "exports", false, "Clear sample lists exported with load --export")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

// removeExports deletes the lists that load --export wrote to dir by default.
func removeExports(dir string) int {
	matches, _ := filepath.Glob(filepath.Join(dir, "facelab-*.shl"))
	removed := 0
	for _, path := range matches {
		if err := os.Remove(path); err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
			continue
		}
		removed++
	}
	return removed
}
