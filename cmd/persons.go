package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var personsOpts Options

var personsCmd = &cobra.Command{
	Use:   "persons",
	Short: "Count distinct persons in a packed faceset",
	Run: func(cmd *cobra.Command, args []string) {
		n, err := newLoader(personsOpts).PersonIDMaxCount(personsOpts.InputPath)
		if err != nil {
			dieOnLoadError(err)
		}
		fmt.Println(n)
	},
}

func init() {
	personsCmd.Flags().StringVarP(&personsOpts.InputPath, "input", "i", "", "Path to dataset directory containing faceset.pak")
	personsCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(personsCmd)
}
