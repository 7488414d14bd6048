package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andresmejia3/facelab/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// When set, the test binary acts as a worker process instead of running tests.
const helperEnv = "FACELAB_WORKER_HELPER"

func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		os.Exit(runHelperWorker())
	}
	os.Exit(m.Run())
}

// runHelperWorker upper-cases payloads. The payload "crash" kills the process
// the first time it is seen (tracked with a marker file shared across respawns).
func runHelperWorker() int {
	marker := os.Getenv("FACELAB_CRASH_MARKER")
	spec := ClientSpec{
		ProcessData: func(_ *Client, item types.WorkItem) ([]byte, error) {
			if string(item.Data) == "crash" && marker != "" {
				if _, err := os.Stat(marker); os.IsNotExist(err) {
					os.WriteFile(marker, nil, 0644)
					fmt.Fprintln(os.Stderr, "helper: simulated crash")
					os.Exit(3)
				}
			}
			return bytes.ToUpper(item.Data), nil
		},
	}
	if err := Serve(spec, os.Stdin, os.NewFile(3, "data")); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func helperSpawner(t *testing.T) (*countingSpawner, string) {
	t.Helper()
	marker := filepath.Join(t.TempDir(), "crashed")
	return &countingSpawner{
		inner: ProcessSpawner{
			Command: os.Args[0],
			Args:    []string{},
			Env:     []string{helperEnv + "=1", "FACELAB_CRASH_MARKER=" + marker},
		},
		byID: make(map[string]int),
	}, marker
}

func TestProcessSpawner_RunsJob(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns child processes")
	}
	words := []string{"alpha", "crash", "gamma", "delta", "epsilon"}
	results := make([]string, len(words))
	pending := []int{0, 1, 2, 3, 4}
	returned := 0

	spawner, marker := helperSpawner(t)
	h := &Host[[]string]{
		Name:         "ProcessJob",
		Client:       "helper",
		Spawner:      spawner,
		Timeout:      10 * time.Second,
		PollInterval: 10 * time.Millisecond,
		Hooks: Hooks{
			ProcessInfo: func() []ProcessInfo {
				return []ProcessInfo{{ID: "CPU0"}, {ID: "CPU1"}}
			},
			GetData: func(map[string]string) (types.WorkItem, bool) {
				if len(pending) == 0 {
					return types.WorkItem{}, false
				}
				idx := pending[0]
				pending = pending[1:]
				return types.WorkItem{Index: idx, Data: []byte(words[idx])}, true
			},
			OnDataReturn: func(_ map[string]string, item types.WorkItem) {
				returned++
				pending = append([]int{item.Index}, pending...)
			},
			OnResult: func(_ map[string]string, item types.WorkItem, res types.Result) {
				results[item.Index] = string(res.Data)
			},
		},
		GetResult: func() []string { return results },
	}

	got, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ALPHA", "CRASH", "GAMMA", "DELTA", "EPSILON"}, got)
	assert.FileExists(t, marker)
	assert.Equal(t, 1, returned)
	assert.Equal(t, 3, spawner.count("CPU0")+spawner.count("CPU1"))
}

func TestProcessSpawner_MissingExecutable(t *testing.T) {
	s := ProcessSpawner{Command: filepath.Join(t.TempDir(), "does-not-exist")}
	_, err := s.Spawn(context.Background(), "CPU0", "helper")
	assert.Error(t, err)
}
