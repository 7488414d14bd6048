package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/facelab/internal/dflimg"
	"github.com/andresmejia3/facelab/internal/mplib"
	"github.com/andresmejia3/facelab/internal/packed"
	"github.com/andresmejia3/facelab/internal/types"
	"github.com/andresmejia3/facelab/internal/utils"
	"github.com/spf13/cobra"
)

var inspectLimit int

var inspectCmd = &cobra.Command{
	Use:   "inspect <file|dataset>",
	Short: "Print the first entries of an exported sample list or a packed faceset",
	Long: "Given an exported list, attaches to it and prints its samples. Given a dataset directory, " +
		"opens its faceset.pak and reads each listed image back to check that it still carries face metadata.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runInspect(args[0], inspectLimit)
	},
}

func init() {
	inspectCmd.Flags().IntVarP(&inspectLimit, "limit", "n", 20, "Entries to print (0 for all)")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(path string, limit int) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		runInspectPack(path, limit)
		return
	}
	list, err := mplib.Attach(path)
	if err != nil {
		utils.Die("Failed to attach sample list", err, nil)
	}
	defer list.Close()

	fmt.Printf("%s: %d samples\n", path, list.Len())
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "#\tFILE\tTYPE\tFACE\tSHAPE\tSOURCE")
	for i, s := range list.All() {
		if limit > 0 && i >= limit {
			break
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%dx%dx%d\t%s\n",
			i, s.Filename, s.SampleType, s.FaceType, s.Shape[0], s.Shape[1], s.Shape[2], s.SourceFilename)
	}
	w.Flush()
}

// packEntry is one packed sample checked against its stored image.
type packEntry struct {
	Sample types.Sample
	Bytes  int
	Err    error
}

// checkPack reads back up to limit images of the pack in dir (0 for all).
func checkPack(dir string, limit int) (int, []packEntry, error) {
	r, err := packed.Open(dir)
	if err != nil {
		return 0, nil, err
	}
	defer r.Close()

	n := r.Len()
	if limit > 0 && limit < n {
		n = limit
	}
	entries := make([]packEntry, n)
	for i, s := range r.Samples()[:n] {
		entries[i].Sample = s
		data, err := r.Image(i)
		if err != nil {
			entries[i].Err = err
			continue
		}
		entries[i].Bytes = len(data)
		img, err := dflimg.Decode(data)
		switch {
		case err != nil:
			entries[i].Err = err
		case !img.HasData():
			entries[i].Err = errors.New("no face metadata")
		}
	}
	return r.Len(), entries, nil
}

func runInspectPack(dir string, limit int) {
	total, entries, err := checkPack(dir, limit)
	if err != nil {
		utils.Die("Failed to open packed faceset", err, nil)
	}

	fmt.Printf("%s: %d packed samples\n", packed.Path(dir), total)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "#\tFILE\tPERSON\tFACE\tBYTES\tIMAGE")
	bad := 0
	for i, e := range entries {
		status := "ok"
		if e.Err != nil {
			status = e.Err.Error()
			bad++
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n", i, e.Sample.Filename, e.Sample.PersonName, e.Sample.FaceType, e.Bytes, status)
	}
	w.Flush()
	if bad > 0 {
		fmt.Fprintf(os.Stderr, "⚠️  %d of %d checked images are unreadable\n", bad, len(entries))
	}
}
