package cmd

import (
	"fmt"
	"os"

	"github.com/andresmejia3/facelab/internal/worker"
	"github.com/spf13/cobra"
)

var workerClient string

// workerCmd is what ProcessSpawner re-executes: frames arrive on stdin and
// go back on FD 3. Clients register themselves in their package init, and
// this binary links samplelib through the load command.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run a worker client (started by the host, not by hand)",
	Hidden: true,
	Run: func(cmd *cobra.Command, args []string) {
		spec, err := worker.Lookup(workerClient)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		data := os.NewFile(3, "data")
		if data == nil {
			fmt.Fprintln(os.Stderr, "worker: FD 3 is not open")
			os.Exit(2)
		}
		if err := worker.Serve(spec, os.Stdin, data); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

func init() {
	workerCmd.Flags().StringVar(&workerClient, "client", "", "Registered client name")
	workerCmd.MarkFlagRequired("client")
	rootCmd.AddCommand(workerCmd)
}
