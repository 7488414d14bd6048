package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/facelab/internal/utils"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history <dataset_dir | dataset_id>",
	Short: "Show every recorded load of one dataset",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runHistory(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, target string) {
	ctx := cmd.Context()
	db, err := openCatalog(ctx)
	if err != nil {
		utils.Die("Catalog unavailable", err, nil)
	}

	id := target
	if info, err := os.Stat(target); err == nil && info.IsDir() {
		if id, err = utils.GenerateDatasetID(target); err != nil {
			utils.Die("Failed to generate dataset ID", err, nil)
		}
	} else if len(target) < 64 {
		// A short id as printed by list.
		datasets, err := db.ListDatasets(ctx)
		if err != nil {
			utils.Die("Failed to list datasets", err, nil)
		}
		for _, d := range datasets {
			if strings.HasPrefix(d.ID, target) {
				id = d.ID
				break
			}
		}
	}

	loads, err := db.History(ctx, id)
	if err != nil {
		utils.Die("Failed to read history", err, nil)
	}
	if len(loads) == 0 {
		fmt.Printf("No loads recorded for %s.\n", target)
		return
	}

	fmt.Printf("📂 %s\n", loads[0].Path)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "LOADED\tTYPE\tSAMPLES\tSOURCE\tTOOK")
	for _, l := range loads {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			l.LoadedAt.Local().Format("2006-01-02 15:04:05"), l.SampleType, l.Samples, l.Source, l.Duration.Round(time.Millisecond))
	}
	w.Flush()
}
