// Package samplelib turns a dataset directory into a ready sample list,
// taking the cheapest source available and remembering the answer.
package samplelib

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/andresmejia3/facelab/internal/mplib"
	"github.com/andresmejia3/facelab/internal/packed"
	"github.com/andresmejia3/facelab/internal/progress"
	"github.com/andresmejia3/facelab/internal/types"
	"github.com/andresmejia3/facelab/internal/utils"
	"github.com/andresmejia3/facelab/internal/worker"
	"github.com/rs/zerolog/log"
)

var (
	// ErrDatasetNotFound means the path does not exist or holds no images.
	ErrDatasetNotFound = errors.New("dataset not found")
	// ErrPackedNotFound means a packed container was required but is absent.
	ErrPackedNotFound = errors.New("packed faceset not found")
)

// Loader resolves datasets into sample lists. The zero value works with a
// private cache and child worker processes.
type Loader struct {
	Cache *Cache

	// CPUNumber is the worker count of the decode job (default: min(NumCPU, 8)).
	CPUNumber       int
	Timeout         time.Duration
	MaxRespawns     int
	MaxItemAttempts int
	Spawner         worker.Spawner
	// Client overrides the registered decode client name.
	Client   string
	Progress progress.Sink
	// Packed loads a packed container; defaults to packed.Load.
	Packed func(dir string) ([]types.Sample, error)
}

func (l *Loader) cache() *Cache {
	if l.Cache == nil {
		l.Cache = NewCache()
	}
	return l.Cache
}

func (l *Loader) cpuNumber() int {
	if l.CPUNumber > 0 {
		return l.CPUNumber
	}
	return min(runtime.NumCPU(), 8)
}

func (l *Loader) client() string {
	if l.Client != "" {
		return l.Client
	}
	return FaceSamplesClient
}

func (l *Loader) progress() progress.Sink {
	if l.Progress != nil {
		return l.Progress
	}
	return progress.Discard
}

func (l *Loader) loadPacked(dir string) ([]types.Sample, error) {
	if l.Packed != nil {
		return l.Packed(dir)
	}
	return packed.Load(dir)
}

// Load returns the samples of sampleType under path. Repeated calls with
// the same path and type return the same list without decoding again.
func (l *Loader) Load(ctx context.Context, sampleType types.SampleType, path string, subdirs bool) (*mplib.SharedList, error) {
	switch sampleType {
	case types.SampleImage:
		return l.cache().getOrBuild(sampleType, path, func() (*mplib.SharedList, error) {
			return l.loadImages(path, subdirs)
		})
	case types.SampleFace:
		return l.cache().getOrBuild(sampleType, path, func() (*mplib.SharedList, error) {
			return l.loadFaces(ctx, path, subdirs)
		})
	case types.SampleFaceTemporalSorted:
		return l.cache().getOrBuild(sampleType, path, func() (*mplib.SharedList, error) {
			faces, err := l.Load(ctx, types.SampleFace, path, subdirs)
			if err != nil {
				return nil, err
			}
			return mplib.NewSharedList(TemporalSorted(faces.Samples())), nil
		})
	default:
		return nil, fmt.Errorf("unsupported sample type %s", sampleType)
	}
}

func (l *Loader) imagePaths(path string, subdirs bool) ([]string, error) {
	paths, err := utils.GetImagePaths(path, subdirs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrDatasetNotFound)
	}
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%s has no images: %w", path, ErrDatasetNotFound)
	}
	return paths, nil
}

func (l *Loader) loadImages(path string, subdirs bool) (*mplib.SharedList, error) {
	paths, err := l.imagePaths(path, subdirs)
	if err != nil {
		return nil, err
	}
	sink := l.progress()
	sink.Start("Loading", len(paths))
	samples := make([]types.Sample, len(paths))
	for i, p := range paths {
		samples[i] = types.NewImageSample(p)
		sink.Advance(1)
	}
	sink.End()
	return mplib.NewSharedList(samples), nil
}

func (l *Loader) loadFaces(ctx context.Context, path string, subdirs bool) (*mplib.SharedList, error) {
	samples, err := l.loadPacked(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to load packed faceset, decoding files instead")
		samples = nil
	}
	if samples != nil {
		log.Info().Msgf("Loaded %d packed faces from %s", len(samples), path)
		return mplib.NewSharedList(samples), nil
	}

	paths, err := l.imagePaths(path, subdirs)
	if err != nil {
		return nil, err
	}
	samples, err = l.LoadFaceSamples(ctx, paths)
	if err != nil {
		return nil, err
	}
	return mplib.NewSharedList(samples), nil
}

// TemporalSorted returns a copy of samples stably ordered by source filename.
func TemporalSorted(samples []types.Sample) []types.Sample {
	sorted := slices.Clone(samples)
	slices.SortStableFunc(sorted, func(a, b types.Sample) int {
		return strings.Compare(a.SourceFilename, b.SourceFilename)
	})
	return sorted
}

// PersonIDMaxCount counts distinct person names in the packed container of path.
func (l *Loader) PersonIDMaxCount(path string) (int, error) {
	samples, err := l.loadPacked(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to load packed faceset")
	}
	if samples == nil {
		return 0, fmt.Errorf("%s: %w", path, ErrPackedNotFound)
	}
	persons := make(map[string]struct{})
	for _, s := range samples {
		persons[s.PersonName] = struct{}{}
	}
	return len(persons), nil
}
