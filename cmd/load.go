package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/facelab/internal/mplib"
	"github.com/andresmejia3/facelab/internal/packed"
	"github.com/andresmejia3/facelab/internal/progress"
	"github.com/andresmejia3/facelab/internal/samplelib"
	"github.com/andresmejia3/facelab/internal/store"
	"github.com/andresmejia3/facelab/internal/types"
	"github.com/andresmejia3/facelab/internal/utils"
	"github.com/andresmejia3/facelab/internal/worker"
	"github.com/spf13/cobra"
)

// autoExport is the --export value used when the flag is given without a path.
const autoExport = "auto"

// Options holds the flags shared by the dataset commands
type Options struct {
	InputPath  string
	SampleType string
	Subdirs    bool
	Export     string
	Catalog    bool
	InProcess  bool
	CPUNum     int
}

var loadOpts Options

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load a dataset and print a summary",
	Args:  cobra.NoArgs,
	Long: "Loads a dataset directory as plain images or decoded faces, using faceset.pak when present " +
		"and a pool of worker processes otherwise. The result can be exported for other processes to attach.",
	Run: func(cmd *cobra.Command, args []string) {
		runLoad(cmd, loadOpts)
	},
}

func init() {
	loadCmd.Flags().StringVarP(&loadOpts.InputPath, "input", "i", "", "Path to dataset directory")
	loadCmd.Flags().StringVarP(&loadOpts.SampleType, "type", "t", "face", "Sample type: image, face or face-temporal-sorted")
	loadCmd.Flags().BoolVarP(&loadOpts.Subdirs, "subdirs", "r", false, "Include images in subdirectories")
	loadCmd.Flags().StringVarP(&loadOpts.Export, "export", "e", "", "Write the sample list to FILE for other processes (no value: shared memory)")
	loadCmd.Flags().Lookup("export").NoOptDefVal = autoExport
	loadCmd.Flags().BoolVar(&loadOpts.Catalog, "catalog", false, "Record this load in the PostgreSQL catalog")
	addPoolFlags(loadCmd, &loadOpts)

	loadCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(loadCmd)
}

func addPoolFlags(cmd *cobra.Command, opts *Options) {
	cmd.Flags().BoolVar(&opts.InProcess, "in-process", false, "Decode in goroutines instead of worker processes")
	cmd.Flags().IntVarP(&opts.CPUNum, "cpu-num", "c", 0, "Worker processes (default: $FACELAB_CPU_NUM)")
}

// newLoader builds a loader from the configuration and command flags.
func newLoader(opts Options) *samplelib.Loader {
	l := &samplelib.Loader{
		Cache:           samplelib.NewCache(),
		CPUNumber:       cfg.CPUNumber,
		Timeout:         cfg.WorkerTimeout,
		MaxRespawns:     cfg.MaxRespawns,
		MaxItemAttempts: cfg.MaxItemAttempts,
		Progress:        progress.For(os.Stderr),
	}
	if opts.CPUNum > 0 {
		l.CPUNumber = opts.CPUNum
	}
	if opts.InProcess {
		l.Spawner = worker.LocalSpawner{}
	}
	return l
}

// dieOnLoadError maps loader failures to the error box.
func dieOnLoadError(err error) {
	switch {
	case errors.Is(err, samplelib.ErrDatasetNotFound):
		utils.Die("Dataset not found", err, nil)
	case errors.Is(err, samplelib.ErrPackedNotFound):
		utils.Die("No packed faceset", err, nil)
	case errors.Is(err, worker.ErrJobAborted):
		utils.Die("Worker pool gave up", err, nil)
	default:
		utils.Die("Failed to load dataset", err, nil)
	}
}

func runLoad(cmd *cobra.Command, opts Options) {
	ctx := cmd.Context()
	sampleType, err := types.ParseSampleType(opts.SampleType)
	if err != nil {
		utils.Die("Invalid --type", err, nil)
	}
	datasetID, err := utils.GenerateDatasetID(opts.InputPath)
	if err != nil {
		utils.Die("Failed to generate dataset ID", err, nil)
	}

	source := "files"
	if sampleType != types.SampleImage {
		source = "decoded"
		if packed.Exists(opts.InputPath) {
			source = "packed"
		}
	}
	loader := newLoader(opts)
	fmt.Fprintf(os.Stderr, "📂 Dataset %s (%s)\n", opts.InputPath, datasetID[:12])
	if source == "decoded" {
		fmt.Fprintf(os.Stderr, "⚙️  Decoding faces with %d workers...\n", loader.CPUNumber)
	}

	start := time.Now()
	list, err := loader.Load(ctx, sampleType, opts.InputPath, opts.Subdirs)
	if err != nil {
		dieOnLoadError(err)
	}
	elapsed := time.Since(start)

	printSummary(list, sampleType, elapsed)

	if opts.Export != "" {
		path := opts.Export
		if path == autoExport {
			path = exportPath(datasetID, sampleType)
		}
		if err := list.Export(path); err != nil {
			utils.Die("Failed to export samples", err, nil)
		}
		fmt.Fprintf(os.Stderr, "📤 Exported %d samples to %s\n", list.Len(), path)
	}

	if opts.Catalog {
		db, err := openCatalog(ctx)
		if err != nil {
			utils.Die("Catalog unavailable", err, nil)
		}
		err = db.RecordLoad(ctx, store.Load{
			DatasetID:  datasetID,
			Path:       opts.InputPath,
			SampleType: sampleType.String(),
			Samples:    list.Len(),
			Source:     source,
			Duration:   elapsed,
		})
		if err != nil {
			utils.Die("Failed to record load", err, nil)
		}
	}
}

func printSummary(list *mplib.SharedList, sampleType types.SampleType, elapsed time.Duration) {
	fmt.Printf("Loaded %d %s samples in %s\n", list.Len(), sampleType, elapsed.Round(time.Millisecond))
	if sampleType == types.SampleImage || list.Len() == 0 {
		return
	}

	byType := make(map[types.FaceType]int)
	persons := make(map[string]struct{})
	for _, s := range list.All() {
		byType[s.FaceType]++
		if s.PersonName != "" {
			persons[s.PersonName] = struct{}{}
		}
	}
	faceTypes := make([]types.FaceType, 0, len(byType))
	for ft := range byType {
		faceTypes = append(faceTypes, ft)
	}
	sort.Slice(faceTypes, func(i, j int) bool { return faceTypes[i] < faceTypes[j] })

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "FACE TYPE\tSAMPLES")
	fmt.Fprintln(w, "---------\t-------")
	for _, ft := range faceTypes {
		fmt.Fprintf(w, "%s\t%d\n", ft, byType[ft])
	}
	w.Flush()
	if len(persons) > 0 {
		fmt.Printf("Persons: %d\n", len(persons))
	}
}

// shmDir is where exported lists go by default: shared memory when the
// platform has it.
func shmDir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

func exportPath(datasetID string, t types.SampleType) string {
	return filepath.Join(shmDir(), fmt.Sprintf("facelab-%s-%s.shl", datasetID[:12], t))
}
