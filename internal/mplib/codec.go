package mplib

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/andresmejia3/facelab/internal/types"
)

var errShortRecord = errors.New("record truncated")

// appendSample encodes one sample. Layout (big endian):
// filename, sample type u8, face type i8, shape 3*u32, landmarks (u32 n + n*2 f32),
// seg polys, xseg mask, eyebrows f32, source filename, person name.
// Strings and byte fields are u32 length prefixed.
func appendSample(b []byte, s types.Sample) []byte {
	b = appendBytes(b, []byte(s.Filename))
	b = append(b, byte(s.SampleType), byte(int8(s.FaceType)))
	for _, d := range s.Shape {
		b = binary.BigEndian.AppendUint32(b, uint32(d))
	}
	b = binary.BigEndian.AppendUint32(b, uint32(len(s.Landmarks)))
	for _, p := range s.Landmarks {
		b = binary.BigEndian.AppendUint32(b, math.Float32bits(p[0]))
		b = binary.BigEndian.AppendUint32(b, math.Float32bits(p[1]))
	}
	b = appendBytes(b, s.SegIEPolys)
	b = appendBytes(b, s.XSegMaskCompressed)
	b = binary.BigEndian.AppendUint32(b, math.Float32bits(s.EyebrowsExpandMod))
	b = appendBytes(b, []byte(s.SourceFilename))
	b = appendBytes(b, []byte(s.PersonName))
	return b
}

func appendBytes(b, v []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(v)))
	return append(b, v...)
}

// reader decodes a record in place; the first error sticks.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = errShortRecord
		return nil
	}
	v := r.buf[r.off : r.off+n : r.off+n]
	r.off += n
	return v
}

func (r *reader) u8() byte {
	if v := r.next(1); v != nil {
		return v[0]
	}
	return 0
}

func (r *reader) u32() uint32 {
	if v := r.next(4); v != nil {
		return binary.BigEndian.Uint32(v)
	}
	return 0
}

func (r *reader) f32() float32 {
	return math.Float32frombits(r.u32())
}

// bytes returns a view into the buffer, nil when empty.
func (r *reader) bytes() []byte {
	n := int(r.u32())
	v := r.next(n)
	if len(v) == 0 {
		return nil
	}
	return v
}

func (r *reader) string() string {
	return string(r.bytes())
}

func decodeSample(b []byte) (types.Sample, error) {
	r := &reader{buf: b}
	var s types.Sample
	s.Filename = r.string()
	s.SampleType = types.SampleType(r.u8())
	s.FaceType = types.FaceType(int8(r.u8()))
	for i := range s.Shape {
		s.Shape[i] = int(r.u32())
	}
	n := int(r.u32())
	if r.err == nil && n*8 > len(b)-r.off {
		return types.Sample{}, errShortRecord
	}
	if n > 0 {
		s.Landmarks = make([][2]float32, n)
		for i := range s.Landmarks {
			s.Landmarks[i] = [2]float32{r.f32(), r.f32()}
		}
	}
	s.SegIEPolys = r.bytes()
	s.XSegMaskCompressed = r.bytes()
	s.EyebrowsExpandMod = r.f32()
	s.SourceFilename = r.string()
	s.PersonName = r.string()
	if r.err != nil {
		return types.Sample{}, r.err
	}
	return s, nil
}
