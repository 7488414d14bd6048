package dflimg

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/facelab/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plainJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func faceMeta() Metadata {
	eb := float32(1.25)
	return Metadata{
		FaceType:          "whole_face",
		Landmarks:         [][2]float32{{1, 2}, {3.5, 4.5}},
		SegIEPolys:        json.RawMessage(`[{"type":1,"pts":[[0,0],[5,5]]}]`),
		XSegMask:          []byte{1, 2, 3, 4},
		EyebrowsExpandMod: &eb,
		SourceFilename:    "00042.png",
	}
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestLoad_NonJPGIsAbsent(t *testing.T) {
	path := writeFile(t, "face.png", []byte("png bytes"))
	img, err := Load(path)
	assert.NoError(t, err)
	assert.Nil(t, img)
	assert.False(t, img.HasData())
}

func TestLoad_PlainJPEGHasNoData(t *testing.T) {
	path := writeFile(t, "plain.jpg", plainJPEG(t, 8, 6))
	img, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.False(t, img.HasData())
	assert.Equal(t, [3]int{6, 8, 3}, img.Shape())

	_, err = img.Sample(path)
	assert.Error(t, err)
}

func TestLoad_Unreadable(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.jpg"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "text.jpg", []byte("hello, not a jpeg")))
	assert.ErrorIs(t, err, ErrNotJPEG)
}

func TestEmbed_RoundTrip(t *testing.T) {
	raw := plainJPEG(t, 16, 12)
	withMeta, err := Embed(raw, faceMeta())
	require.NoError(t, err)

	// Still a valid JPEG
	_, err = jpeg.Decode(bytes.NewReader(withMeta))
	require.NoError(t, err)

	img, err := Load(writeFile(t, "face.jpg", withMeta))
	require.NoError(t, err)
	require.True(t, img.HasData())

	s, err := img.Sample("aligned/face.jpg")
	require.NoError(t, err)
	assert.Equal(t, types.Sample{
		Filename:           "aligned/face.jpg",
		SampleType:         types.SampleFace,
		FaceType:           types.FaceTypeWholeFace,
		Shape:              [3]int{12, 16, 3},
		Landmarks:          [][2]float32{{1, 2}, {3.5, 4.5}},
		SegIEPolys:         json.RawMessage(`[{"type":1,"pts":[[0,0],[5,5]]}]`),
		XSegMaskCompressed: []byte{1, 2, 3, 4},
		EyebrowsExpandMod:  1.25,
		SourceFilename:     "00042.png",
	}, s)
}

func TestEmbed_ReplacesExisting(t *testing.T) {
	first, err := Embed(plainJPEG(t, 8, 8), faceMeta())
	require.NoError(t, err)

	second, err := Embed(first, Metadata{FaceType: "half_face"})
	require.NoError(t, err)

	img, err := Decode(second)
	require.NoError(t, err)
	assert.Equal(t, "half_face", img.Metadata().FaceType)
	assert.Empty(t, img.Metadata().Landmarks)

	s, err := img.Sample("x.jpg")
	require.NoError(t, err)
	assert.Equal(t, float32(1.0), s.EyebrowsExpandMod)
}

func TestEmbed_SpansSegments(t *testing.T) {
	meta := faceMeta()
	meta.XSegMask = bytes.Repeat([]byte{0xAB, 0xCD, 0x01}, 50_000)

	out, err := Embed(plainJPEG(t, 8, 8), meta)
	require.NoError(t, err)

	segs, err := segments(out)
	require.NoError(t, err)
	n := 0
	for _, s := range segs {
		if s.marker == markerAPP15 {
			n++
		}
	}
	assert.Greater(t, n, 1)

	img, err := Decode(out)
	require.NoError(t, err)
	assert.Equal(t, meta.XSegMask, img.Metadata().XSegMask)
}

func TestDecode_CorruptMetadata(t *testing.T) {
	raw := plainJPEG(t, 4, 4)
	body := append(append([]byte{}, segmentID...), []byte("{not json")...)
	seg := []byte{0xFF, markerAPP15, 0, byte(2 + len(body))}
	bad := append(append(append([]byte{0xFF, markerSOI}, seg...), body...), raw[2:]...)

	_, err := Decode(bad)
	assert.ErrorContains(t, err, "corrupt face metadata")
}

func TestSample_UnknownFaceType(t *testing.T) {
	out, err := Embed(plainJPEG(t, 4, 4), Metadata{FaceType: "muzzle"})
	require.NoError(t, err)
	img, err := Decode(out)
	require.NoError(t, err)
	_, err = img.Sample("x.jpg")
	assert.Error(t, err)
}
