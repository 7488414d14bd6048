package mplib

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/facelab/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSamples() []types.Sample {
	face := types.Sample{
		Filename:           "aligned/00001_0.jpg",
		SampleType:         types.SampleFace,
		FaceType:           types.FaceTypeWholeFace,
		Shape:              [3]int{256, 256, 3},
		Landmarks:          [][2]float32{{10.5, 20.25}, {30, 40}, {-1, 0.125}},
		SegIEPolys:         json.RawMessage(`[{"type":1,"pts":[[1,2],[3,4]]}]`),
		XSegMaskCompressed: []byte{0x89, 'P', 'N', 'G', 0, 1, 2},
		EyebrowsExpandMod:  1.5,
		SourceFilename:     "frames/00001.png",
		PersonName:         "alice",
	}
	return []types.Sample{
		face,
		types.NewImageSample("raw/plain.png"),
		{Filename: "aligned/00002_0.jpg", SampleType: types.SampleFace, FaceType: types.FaceTypeHalf},
	}
}

func TestSharedList_RoundTrip(t *testing.T) {
	in := testSamples()
	l := NewSharedList(in)

	require.Equal(t, len(in), l.Len())
	for i := range in {
		assert.Equal(t, in[i], l.At(i), "sample %d", i)
	}
	assert.Equal(t, in, l.Samples())
}

func TestSharedList_Empty(t *testing.T) {
	l := NewSharedList(nil)
	assert.Zero(t, l.Len())
	assert.Empty(t, l.Samples())
	assert.Panics(t, func() { l.At(0) })
}

func TestSharedList_AllStopsEarly(t *testing.T) {
	l := NewSharedList(testSamples())
	var seen []int
	for i := range l.All() {
		seen = append(seen, i)
		if i == 1 {
			break
		}
	}
	assert.Equal(t, []int{0, 1}, seen)
}

func TestSharedList_IndexOutOfRange(t *testing.T) {
	l := NewSharedList(testSamples())
	assert.Panics(t, func() { l.At(-1) })
	assert.Panics(t, func() { l.At(3) })
}

func TestSharedList_ExportAttach(t *testing.T) {
	in := testSamples()
	path := filepath.Join(t.TempDir(), "faces.shl")
	require.NoError(t, NewSharedList(in).Export(path))

	attached, err := Attach(path)
	require.NoError(t, err)
	require.Equal(t, len(in), attached.Len())
	for i, s := range attached.All() {
		assert.Equal(t, in[i], s)
	}
	require.NoError(t, attached.Close())
	assert.Zero(t, attached.Len())
	assert.NoError(t, attached.Close())
}

func TestAttach_RejectsGarbage(t *testing.T) {
	dir := t.TempDir()

	notList := filepath.Join(dir, "garbage")
	require.NoError(t, os.WriteFile(notList, []byte("definitely not a sample list"), 0644))
	_, err := Attach(notList)
	assert.Error(t, err)

	// A valid header whose offsets point past the end.
	buf := append([]byte{}, NewSharedList(testSamples()).Bytes()...)
	truncated := filepath.Join(dir, "truncated")
	require.NoError(t, os.WriteFile(truncated, buf[:len(buf)-10], 0644))
	_, err = Attach(truncated)
	assert.Error(t, err)

	_, err = Attach(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestDecodeSample_Truncated(t *testing.T) {
	rec := appendSample(nil, testSamples()[0])
	for _, n := range []int{0, 3, 10, len(rec) - 1} {
		_, err := decodeSample(rec[:n])
		assert.ErrorIs(t, err, errShortRecord, "length %d", n)
	}
}
