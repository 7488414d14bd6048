package cmd

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/facelab/internal/dflimg"
	"github.com/andresmejia3/facelab/internal/mplib"
	"github.com/andresmejia3/facelab/internal/packed"
	"github.com/andresmejia3/facelab/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFaceDataset lays out person subdirectories of aligned faces plus one
// file without metadata.
func writeFaceDataset(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 16, 16)), nil))
	plain := buf.Bytes()

	for _, person := range []string{"alice", "bob"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, person), 0755))
		for i := 0; i < 3; i++ {
			face, err := dflimg.Embed(plain, dflimg.Metadata{
				FaceType:       "whole_face",
				SourceFilename: fmt.Sprintf("%s_%02d.png", person, 2-i),
			})
			require.NoError(t, err)
			name := filepath.Join(dir, person, fmt.Sprintf("%d.jpg", i))
			require.NoError(t, os.WriteFile(name, face, 0644))
		}
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alice", "screenshot.jpg"), plain, 0644))
	return dir
}

func execute(t *testing.T, args ...string) {
	t.Helper()
	t.Setenv("FACELAB_LOG_LEVEL", "error")
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
}

func TestPackThenLoadExport(t *testing.T) {
	dir := writeFaceDataset(t)

	execute(t, "pack", "-i", dir, "--subdirs", "--in-process", "--cpu-num", "2")
	require.True(t, packed.Exists(dir))

	samples, err := packed.Load(dir)
	require.NoError(t, err)
	require.Len(t, samples, 6)
	persons := map[string]int{}
	for _, s := range samples {
		persons[s.PersonName]++
	}
	assert.Equal(t, map[string]int{"alice": 3, "bob": 3}, persons)

	total, entries, err := checkPack(dir, 4)
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	require.Len(t, entries, 4)
	for _, e := range entries {
		assert.NoError(t, e.Err, e.Sample.Filename)
		assert.Positive(t, e.Bytes)
	}
	execute(t, "inspect", dir, "-n", "2")

	out := filepath.Join(t.TempDir(), "faces.shl")
	execute(t, "load", "-i", dir, "--type", "face-temporal-sorted", "--export="+out, "--in-process")

	list, err := mplib.Attach(out)
	require.NoError(t, err)
	defer list.Close()
	require.Equal(t, 6, list.Len())
	first := list.At(0)
	assert.Equal(t, "alice_00.png", first.SourceFilename)
	assert.Equal(t, types.FaceTypeWholeFace, first.FaceType)
	for i := 1; i < list.Len(); i++ {
		assert.LessOrEqual(t, list.At(i-1).SourceFilename, list.At(i).SourceFilename)
	}

	execute(t, "inspect", out, "-n", "2")
}

func TestCheckPack_FlagsImageWithoutMetadata(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8)), nil))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plain.jpg"), buf.Bytes(), 0644))
	require.NoError(t, packed.Pack(dir, []types.Sample{{
		SampleType: types.SampleFace,
		Filename:   filepath.Join(dir, "plain.jpg"),
		FaceType:   types.FaceTypeWholeFace,
	}}))

	total, entries, err := checkPack(dir, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, entries, 1)
	assert.ErrorContains(t, entries[0].Err, "no face metadata")

	_, _, err = checkPack(t.TempDir(), 0)
	assert.ErrorIs(t, err, packed.ErrNotFound)
}

func TestRemoveExports(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"facelab-abc-face.shl", "facelab-def-image.shl", "keep.shl"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}

	assert.Equal(t, 2, removeExports(dir))
	assert.FileExists(t, filepath.Join(dir, "keep.shl"))
	assert.NoFileExists(t, filepath.Join(dir, "facelab-abc-face.shl"))
}

func TestExportPath(t *testing.T) {
	id := "0123456789abcdef0123"
	path := exportPath(id, types.SampleFaceTemporalSorted)
	assert.Equal(t, "facelab-0123456789ab-face-temporal-sorted.shl", filepath.Base(path))
}
