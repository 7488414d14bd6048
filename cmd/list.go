package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/facelab/internal/utils"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List datasets recorded in the catalog",
	Run: func(cmd *cobra.Command, args []string) {
		runList(cmd)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command) {
	ctx := cmd.Context()
	db, err := openCatalog(ctx)
	if err != nil {
		utils.Die("Catalog unavailable", err, nil)
	}
	datasets, err := db.ListDatasets(ctx)
	if err != nil {
		utils.Die("Failed to list datasets", err, nil)
	}

	if len(datasets) == 0 {
		fmt.Println("No datasets found in catalog.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tPATH\tLOADS\tLAST TYPE\tSAMPLES\tSOURCE\tLAST LOADED")
	fmt.Fprintln(w, "--\t----\t-----\t---------\t-------\t------\t-----------")

	for _, d := range datasets {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%s\t%s\n",
			d.ID[:min(12, len(d.ID))], d.Path, d.Loads, d.LastType, d.LastSamples, d.LastSource,
			d.LastLoaded.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}
