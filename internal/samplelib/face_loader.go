package samplelib

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/andresmejia3/facelab/internal/dflimg"
	"github.com/andresmejia3/facelab/internal/types"
	"github.com/andresmejia3/facelab/internal/worker"
	"github.com/rs/zerolog/log"
)

// FaceSamplesClient is the worker client that decodes face metadata.
const FaceSamplesClient = "FaceSamplesLoader"

func init() {
	worker.Register(FaceSamplesClient, NewFaceSamplesClient(DecodeFace))
}

// DecodeFunc decodes the face at path. A nil sample with a nil error means
// the file has no face metadata.
type DecodeFunc func(path string) (*types.Sample, error)

// DecodeFace reads metadata embedded by the face extractor.
func DecodeFace(path string) (*types.Sample, error) {
	img, err := dflimg.Load(path)
	if err != nil {
		return nil, err
	}
	if !img.HasData() {
		return nil, nil
	}
	s, err := img.Sample(path)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// NewFaceSamplesClient builds the worker side of the face loading job.
// Items carry a file path; results carry a JSON sample, or nothing when the
// file is not a face image.
func NewFaceSamplesClient(decode DecodeFunc) worker.ClientSpec {
	return worker.ClientSpec{
		ProcessData: func(c *worker.Client, item types.WorkItem) ([]byte, error) {
			path := string(item.Data)
			s, err := decode(path)
			if err != nil {
				return nil, err
			}
			if s == nil {
				c.LogErr("FaceSamplesLoader: %s is not a dfl image file.", path)
				return nil, nil
			}
			return json.Marshal(s)
		},
		DataName: func(item types.WorkItem) string {
			return string(item.Data)
		},
	}
}

// faceJob is the host-side state of one face loading run.
type faceJob struct {
	paths   []string
	pending []int
	results []*types.Sample
	failed  int
}

func (l *Loader) newFaceJob(paths []string) (*faceJob, *worker.Host[[]*types.Sample]) {
	j := &faceJob{
		paths:   paths,
		pending: make([]int, len(paths)),
		results: make([]*types.Sample, len(paths)),
	}
	for i := range j.pending {
		j.pending[i] = i
	}
	sink := l.progress()

	h := &worker.Host[[]*types.Sample]{
		Name:            FaceSamplesClient,
		Client:          l.client(),
		Spawner:         l.Spawner,
		Timeout:         l.Timeout,
		MaxRespawns:     l.MaxRespawns,
		MaxItemAttempts: l.MaxItemAttempts,
		Hooks: worker.Hooks{
			ProcessInfo: func() []worker.ProcessInfo {
				infos := make([]worker.ProcessInfo, l.cpuNumber())
				for i := range infos {
					infos[i] = worker.ProcessInfo{ID: fmt.Sprintf("CPU%d", i)}
				}
				return infos
			},
			GetData: func(map[string]string) (types.WorkItem, bool) {
				if len(j.pending) == 0 {
					return types.WorkItem{}, false
				}
				idx := j.pending[0]
				j.pending = j.pending[1:]
				return types.WorkItem{Index: idx, Data: []byte(j.paths[idx])}, true
			},
			OnDataReturn: func(_ map[string]string, item types.WorkItem) {
				j.pending = append([]int{item.Index}, j.pending...)
			},
			OnResult: func(_ map[string]string, item types.WorkItem, res types.Result) {
				j.collect(item.Index, res)
				sink.Advance(1)
			},
			OnClientsInitialized: func() {
				sink.Start("Loading samples", len(paths))
			},
			OnClientsFinalized: sink.End,
		},
		GetResult: func() []*types.Sample {
			return j.results
		},
	}
	return j, h
}

func (j *faceJob) collect(idx int, res types.Result) {
	path := j.paths[idx]
	switch {
	case res.Failed():
		j.failed++
		log.Warn().Str("file", path).Str("reason", res.Err).Msg("Skipping face")
	case len(res.Data) == 0:
		// not a face image
	default:
		var s types.Sample
		if err := json.Unmarshal(res.Data, &s); err != nil {
			j.failed++
			log.Error().Err(err).Str("file", path).Msg("Malformed face result")
			return
		}
		s.Filename = path
		j.results[idx] = &s
	}
}

// LoadFaceSamples decodes paths on the worker pool and returns the faces
// found, in input order. Files without face metadata are left out.
func (l *Loader) LoadFaceSamples(ctx context.Context, paths []string) ([]types.Sample, error) {
	j, h := l.newFaceJob(paths)
	results, err := h.Run(ctx)
	if err != nil {
		return nil, err
	}

	samples := make([]types.Sample, 0, len(results))
	for _, s := range results {
		if s != nil {
			samples = append(samples, *s)
		}
	}
	log.Debug().
		Int("files", len(paths)).
		Int("faces", len(samples)).
		Int("failed", j.failed).
		Msg("Face samples decoded")
	return samples, nil
}
