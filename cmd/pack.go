package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/andresmejia3/facelab/internal/packed"
	"github.com/andresmejia3/facelab/internal/utils"
	"github.com/spf13/cobra"
)

var packOpts Options

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Decode every face in a dataset and write faceset.pak",
	Long: "Decodes the face metadata of every image with the worker pool and stores samples and image bytes " +
		"in a single faceset.pak, which later loads skip decoding for. With --subdirs each subdirectory is a person.",
	Run: func(cmd *cobra.Command, args []string) {
		runPack(cmd, packOpts)
	},
}

func init() {
	packCmd.Flags().StringVarP(&packOpts.InputPath, "input", "i", "", "Path to dataset directory")
	packCmd.Flags().BoolVarP(&packOpts.Subdirs, "subdirs", "r", false, "Include subdirectories, one person per subdirectory")
	addPoolFlags(packCmd, &packOpts)

	packCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(packCmd)
}

func runPack(cmd *cobra.Command, opts Options) {
	if packed.Exists(opts.InputPath) {
		utils.Die("Refusing to overwrite", errors.New(packed.Path(opts.InputPath)+" already exists"), nil)
	}
	paths, err := utils.GetImagePaths(opts.InputPath, opts.Subdirs)
	if err != nil {
		utils.Die("Failed to list images", err, nil)
	}
	if len(paths) == 0 {
		utils.Die("Nothing to pack", fmt.Errorf("no images in %s", opts.InputPath), nil)
	}

	loader := newLoader(opts)
	fmt.Fprintf(os.Stderr, "⚙️  Decoding %d images with %d workers...\n", len(paths), loader.CPUNumber)
	start := time.Now()
	samples, err := loader.LoadFaceSamples(cmd.Context(), paths)
	if err != nil {
		dieOnLoadError(err)
	}
	if len(samples) == 0 {
		utils.Die("Nothing to pack", fmt.Errorf("none of %d images carry face metadata", len(paths)), nil)
	}

	if err := packed.Pack(opts.InputPath, samples); err != nil {
		utils.Die("Failed to write packed faceset", err, nil)
	}
	fmt.Printf("📦 Packed %d of %d images into %s in %s\n",
		len(samples), len(paths), packed.Path(opts.InputPath), time.Since(start).Round(time.Millisecond))
}
