// Package dflimg reads and writes face metadata embedded in aligned JPEG faces.
//
// The metadata is a JSON document stored in one or more APP15 segments
// directly after the SOI marker, each prefixed with segmentID.
package dflimg

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/andresmejia3/facelab/internal/types"
)

const (
	markerSOI   = 0xD8
	markerEOI   = 0xD9
	markerSOS   = 0xDA
	markerAPP15 = 0xEF

	// Segment length is a u16 that counts itself.
	maxSegmentPayload = 0xFFFF - 2
)

var segmentID = []byte("FACELAB\x00")

var ErrNotJPEG = errors.New("not a JPEG file")

// Metadata is the face description written by the extractor.
type Metadata struct {
	FaceType          string          `json:"face_type"`
	Landmarks         [][2]float32    `json:"landmarks,omitempty"`
	SegIEPolys        json.RawMessage `json:"seg_ie_polys,omitempty"`
	XSegMask          []byte          `json:"xseg_mask,omitempty"`
	EyebrowsExpandMod *float32        `json:"eyebrows_expand_mod,omitempty"`
	SourceFilename    string          `json:"source_filename,omitempty"`
}

// Image is a parsed JPEG header plus its face metadata, if any.
type Image struct {
	shape [3]int
	meta  *Metadata
}

// Load parses the file at path. Files that are not ".jpg" are not face
// images and yield nil, nil; unreadable or malformed files are errors.
func Load(path string) (*Image, error) {
	if filepath.Ext(path) != ".jpg" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// Decode parses JPEG bytes up to the start of scan.
func Decode(data []byte) (*Image, error) {
	segs, err := segments(data)
	if err != nil {
		return nil, err
	}
	img := &Image{}
	var payload []byte
	for _, s := range segs {
		switch {
		case s.marker == markerAPP15 && bytes.HasPrefix(s.body, segmentID):
			payload = append(payload, s.body[len(segmentID):]...)
		case isSOF(s.marker):
			if len(s.body) < 6 {
				return nil, fmt.Errorf("short frame header")
			}
			h := int(binary.BigEndian.Uint16(s.body[1:3]))
			w := int(binary.BigEndian.Uint16(s.body[3:5]))
			img.shape = [3]int{h, w, int(s.body[5])}
		}
	}
	if payload != nil {
		img.meta = &Metadata{}
		if err := json.Unmarshal(payload, img.meta); err != nil {
			return nil, fmt.Errorf("corrupt face metadata: %w", err)
		}
	}
	return img, nil
}

// HasData reports whether the image carries face metadata.
func (img *Image) HasData() bool {
	return img != nil && img.meta != nil && img.meta.FaceType != ""
}

// Shape is [height, width, channels] from the frame header.
func (img *Image) Shape() [3]int {
	return img.shape
}

// Metadata returns the embedded metadata, nil when there is none.
func (img *Image) Metadata() *Metadata {
	return img.meta
}

// Sample converts the metadata into a face sample for filename.
func (img *Image) Sample(filename string) (types.Sample, error) {
	if !img.HasData() {
		return types.Sample{}, fmt.Errorf("%s has no face metadata", filename)
	}
	ft, err := types.ParseFaceType(img.meta.FaceType)
	if err != nil {
		return types.Sample{}, err
	}
	eyebrows := float32(1.0)
	if img.meta.EyebrowsExpandMod != nil {
		eyebrows = *img.meta.EyebrowsExpandMod
	}
	return types.Sample{
		Filename:           filename,
		SampleType:         types.SampleFace,
		FaceType:           ft,
		Shape:              img.shape,
		Landmarks:          img.meta.Landmarks,
		SegIEPolys:         img.meta.SegIEPolys,
		XSegMaskCompressed: img.meta.XSegMask,
		EyebrowsExpandMod:  eyebrows,
		SourceFilename:     img.meta.SourceFilename,
	}, nil
}

// Embed returns a copy of jpeg with meta stored in it, replacing any
// metadata already present.
func Embed(jpeg []byte, meta Metadata) ([]byte, error) {
	segs, err := segments(jpeg)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(jpeg)+len(payload)+64)
	out = append(out, 0xFF, markerSOI)
	chunk := maxSegmentPayload - len(segmentID)
	for len(payload) > 0 {
		n := min(chunk, len(payload))
		out = append(out, 0xFF, markerAPP15)
		out = binary.BigEndian.AppendUint16(out, uint16(2+len(segmentID)+n))
		out = append(out, segmentID...)
		out = append(out, payload[:n]...)
		payload = payload[n:]
	}

	// Everything after SOI except our old segments is kept as is.
	pos := 2
	for _, s := range segs {
		if s.marker == markerAPP15 && bytes.HasPrefix(s.body, segmentID) {
			out = append(out, jpeg[pos:s.start]...)
			pos = s.end
		}
	}
	return append(out, jpeg[pos:]...), nil
}

type segment struct {
	marker     byte
	body       []byte
	start, end int // whole segment, marker included
}

// segments walks the marker segments between SOI and SOS.
func segments(data []byte) ([]segment, error) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != markerSOI {
		return nil, ErrNotJPEG
	}
	var segs []segment
	i := 2
	for {
		if i+4 > len(data) {
			return nil, fmt.Errorf("truncated JPEG at offset %d", i)
		}
		if data[i] != 0xFF {
			return nil, fmt.Errorf("expected marker at offset %d", i)
		}
		marker := data[i+1]
		switch {
		case marker == 0xFF:
			i++ // fill byte
			continue
		case marker == markerEOI:
			return segs, nil
		case marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7):
			i += 2 // no length
			continue
		}
		n := int(binary.BigEndian.Uint16(data[i+2 : i+4]))
		if n < 2 || i+2+n > len(data) {
			return nil, fmt.Errorf("bad segment length %d at offset %d", n, i)
		}
		segs = append(segs, segment{
			marker: marker,
			body:   data[i+4 : i+2+n],
			start:  i,
			end:    i + 2 + n,
		})
		if marker == markerSOS {
			return segs, nil
		}
		i += 2 + n
	}
}

func isSOF(m byte) bool {
	return m >= 0xC0 && m <= 0xCF && m != 0xC4 && m != 0xC8 && m != 0xCC
}
