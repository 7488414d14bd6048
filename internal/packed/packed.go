// Package packed reads and writes faceset.pak, a single-file form of a face
// dataset that loads without decoding every image.
//
// Layout (big endian):
//
//	magic "FACEPAK1" | version u32 | table size u64 | zstd(JSON samples)
//	| offsets (n+1) x u64 | image bytes
package packed

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/facelab/internal/types"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	FileName = "faceset.pak"
	Version  = 1

	headerSize = 8 + 4 + 8
	readLimit  = 8
)

var magic = []byte("FACEPAK1")

// ErrNotFound means the directory has no packed container.
var ErrNotFound = errors.New("packed faceset not found")

// Path returns where the container for dir lives.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Exists reports whether dir has a container.
func Exists(dir string) bool {
	_, err := os.Stat(Path(dir))
	return err == nil
}

// Load returns the samples of the container in dir with filenames resolved
// against dir. A missing container is nil, nil.
func Load(dir string) ([]types.Sample, error) {
	r, err := Open(dir)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.Samples(), nil
}

// Reader gives access to the images stored in a container.
type Reader struct {
	f         *os.File
	samples   []types.Sample
	offsets   []uint64
	dataStart int64
}

// Open reads the header and sample table of the container in dir.
func Open(dir string) (*Reader, error) {
	f, err := os.Open(Path(dir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", dir, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	r, err := readIndex(f, dir)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", Path(dir), err)
	}
	return r, nil
}

func readIndex(f *os.File, dir string) (*Reader, error) {
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(f, hdr); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if !bytes.Equal(hdr[:8], magic) {
		return nil, errors.New("bad magic")
	}
	if v := binary.BigEndian.Uint32(hdr[8:12]); v != Version {
		return nil, fmt.Errorf("unsupported version %d", v)
	}
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	tableSize := binary.BigEndian.Uint64(hdr[12:20])
	if tableSize > uint64(info.Size()) {
		return nil, fmt.Errorf("sample table size %d exceeds file size", tableSize)
	}

	compressed := make([]byte, tableSize)
	if _, err := io.ReadFull(f, compressed); err != nil {
		return nil, fmt.Errorf("failed to read sample table: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	table, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress sample table: %w", err)
	}
	var samples []types.Sample
	if err := json.Unmarshal(table, &samples); err != nil {
		return nil, fmt.Errorf("failed to parse sample table: %w", err)
	}

	offsets := make([]uint64, len(samples)+1)
	if err := binary.Read(f, binary.BigEndian, offsets); err != nil {
		return nil, fmt.Errorf("failed to read offsets: %w", err)
	}
	dataStart := int64(headerSize) + int64(tableSize) + int64(8*len(offsets))
	if end := offsets[len(offsets)-1]; dataStart+int64(end) > info.Size() {
		return nil, fmt.Errorf("image data truncated: need %d bytes, have %d", dataStart+int64(end), info.Size())
	}

	for i := range samples {
		samples[i].Filename = filepath.Join(dir, samples[i].Filename)
	}
	return &Reader{f: f, samples: samples, offsets: offsets, dataStart: dataStart}, nil
}

// Samples returns the sample table. The slice is shared with the Reader.
func (r *Reader) Samples() []types.Sample {
	return r.samples
}

// Len is the number of samples.
func (r *Reader) Len() int {
	return len(r.samples)
}

// Image returns the stored file bytes of sample i.
func (r *Reader) Image(i int) ([]byte, error) {
	if i < 0 || i >= len(r.samples) {
		return nil, fmt.Errorf("sample %d out of range [0:%d]", i, len(r.samples))
	}
	start, end := r.offsets[i], r.offsets[i+1]
	if end < start {
		return nil, fmt.Errorf("corrupt offsets for sample %d", i)
	}
	buf := make([]byte, end-start)
	if _, err := r.f.ReadAt(buf, r.dataStart+int64(start)); err != nil {
		return nil, fmt.Errorf("failed to read image %d: %w", i, err)
	}
	return buf, nil
}

func (r *Reader) Close() error {
	return r.f.Close()
}

// Pack writes the container for dir from samples whose files live under dir.
// Filenames are stored relative to dir; a sample in a subdirectory without a
// person name takes the subdirectory name as its person.
func Pack(dir string, samples []types.Sample) error {
	table := make([]types.Sample, len(samples))
	for i, s := range samples {
		rel, err := filepath.Rel(dir, s.Filename)
		if err != nil || strings.HasPrefix(rel, "..") {
			return fmt.Errorf("%s is not inside %s", s.Filename, dir)
		}
		s.Filename = filepath.ToSlash(rel)
		if s.PersonName == "" {
			if person, _, ok := strings.Cut(s.Filename, "/"); ok {
				s.PersonName = person
			}
		}
		table[i] = s
	}

	images := make([][]byte, len(samples))
	g := new(errgroup.Group)
	g.SetLimit(readLimit)
	for i, s := range samples {
		g.Go(func() error {
			data, err := os.ReadFile(s.Filename)
			if err != nil {
				return err
			}
			images[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to read faces: %w", err)
	}

	raw, err := json.Marshal(table)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(12)))
	if err != nil {
		return err
	}
	compressed := enc.EncodeAll(raw, nil)
	enc.Close()

	tmp := Path(dir) + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := writeContainer(f, compressed, images); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, Path(dir)); err != nil {
		os.Remove(tmp)
		return err
	}
	log.Info().Str("dir", dir).Int("faces", len(samples)).Int("table_bytes", len(compressed)).Msg("Packed faceset")
	return nil
}

func writeContainer(w io.Writer, table []byte, images [][]byte) error {
	hdr := make([]byte, 0, headerSize)
	hdr = append(hdr, magic...)
	hdr = binary.BigEndian.AppendUint32(hdr, Version)
	hdr = binary.BigEndian.AppendUint64(hdr, uint64(len(table)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	if _, err := w.Write(table); err != nil {
		return err
	}

	offsets := make([]uint64, 0, len(images)+1)
	var off uint64
	for _, img := range images {
		offsets = append(offsets, off)
		off += uint64(len(img))
	}
	offsets = append(offsets, off)
	if err := binary.Write(w, binary.BigEndian, offsets); err != nil {
		return err
	}
	for _, img := range images {
		if _, err := w.Write(img); err != nil {
			return err
		}
	}
	return nil
}
