package types

import (
	"encoding/json"
	"fmt"
)

// WorkItem is a single unit of work sent to a worker for processing.
// Index is stable for the lifetime of a job and addresses the result slot.
type WorkItem struct {
	Index int    `json:"index"`
	Data  []byte `json:"data"`
}

// Result is what a worker sends back for a WorkItem.
// A non-empty Err is a data-level failure; nil Data with no Err means "no data".
type Result struct {
	Index int    `json:"index"`
	Data  []byte `json:"data,omitempty"`
	Err   string `json:"err,omitempty"`
}

// Failed reports whether the worker could not produce data for the item.
func (r Result) Failed() bool {
	return r.Err != ""
}

// SampleType tags which loading pipeline produced a Sample.
type SampleType int

const (
	SampleImage SampleType = iota
	SampleFace
	SampleFaceTemporalSorted

	SampleTypeQty
)

var sampleTypeNames = [...]string{"image", "face", "face-temporal-sorted"}

func (t SampleType) String() string {
	if t < 0 || t >= SampleTypeQty {
		return fmt.Sprintf("SampleType(%d)", int(t))
	}
	return sampleTypeNames[t]
}

// ParseSampleType accepts the names printed by SampleType.String.
func ParseSampleType(s string) (SampleType, error) {
	for i, name := range sampleTypeNames {
		if name == s {
			return SampleType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown sample type %q", s)
}

// FaceType is the crop/alignment convention of an extracted face.
type FaceType int

const (
	FaceTypeNone FaceType = iota - 1
	FaceTypeHalf
	FaceTypeMidFull
	FaceTypeFull
	FaceTypeFullNoAlign
	FaceTypeWholeFace
	FaceTypeHead
	FaceTypeHeadNoAlign
	FaceTypeMarkOnly
)

var faceTypeTags = map[FaceType]string{
	FaceTypeHalf:        "half_face",
	FaceTypeMidFull:     "midfull_face",
	FaceTypeFull:        "full_face",
	FaceTypeFullNoAlign: "full_face_no_align",
	FaceTypeWholeFace:   "whole_face",
	FaceTypeHead:        "head",
	FaceTypeHeadNoAlign: "head_no_align",
	FaceTypeMarkOnly:    "mark_only",
}

func (t FaceType) String() string {
	if tag, ok := faceTypeTags[t]; ok {
		return tag
	}
	return "none"
}

// ParseFaceType maps a metadata tag to a FaceType. Unknown tags are an error.
func ParseFaceType(tag string) (FaceType, error) {
	for t, s := range faceTypeTags {
		if s == tag {
			return t, nil
		}
	}
	return FaceTypeNone, fmt.Errorf("unknown face type %q", tag)
}

// Sample is one decoded face entry (or a bare image path for SampleImage).
type Sample struct {
	Filename           string          `json:"filename"`
	SampleType         SampleType      `json:"sample_type"`
	FaceType           FaceType        `json:"face_type"`
	Shape              [3]int          `json:"shape"` // [height, width, channels]
	Landmarks          [][2]float32    `json:"landmarks,omitempty"`
	SegIEPolys         json.RawMessage `json:"seg_ie_polys,omitempty"`
	XSegMaskCompressed []byte          `json:"xseg_mask,omitempty"`
	EyebrowsExpandMod  float32         `json:"eyebrows_expand_mod"`
	SourceFilename     string          `json:"source_filename,omitempty"`
	PersonName         string          `json:"person_name,omitempty"`
}

// NewImageSample wraps a path with no decoded metadata.
func NewImageSample(filename string) Sample {
	return Sample{
		Filename:          filename,
		SampleType:        SampleImage,
		FaceType:          FaceTypeNone,
		EyebrowsExpandMod: 1.0,
	}
}
