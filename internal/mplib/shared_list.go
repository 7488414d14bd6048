// Package mplib holds sample collections that many processes read without
// each keeping its own decoded copy.
package mplib

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"os"

	"github.com/andresmejia3/facelab/internal/types"
)

var magic = [8]byte{'F', 'L', 'S', 'H', 'L', 'S', 'T', '1'}

const headerSize = 16 // magic + u64 count

// SharedList is a read-only, indexable list of samples backed by one flat
// buffer: [magic][count][offsets (count+1) x u64][records]. Records are
// decoded on access, so a list attached from shared memory costs one mapping
// per process, not one copy.
//
// Byte fields of returned samples point into the buffer and must not be modified.
type SharedList struct {
	buf     []byte
	count   int
	records []byte
	unmap   func() error
}

// NewSharedList encodes samples into a fresh buffer.
func NewSharedList(samples []types.Sample) *SharedList {
	offsets := make([]uint64, 0, len(samples)+1)
	var records []byte
	for _, s := range samples {
		offsets = append(offsets, uint64(len(records)))
		records = appendSample(records, s)
	}
	offsets = append(offsets, uint64(len(records)))

	buf := make([]byte, 0, headerSize+8*len(offsets)+len(records))
	buf = append(buf, magic[:]...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(len(samples)))
	for _, off := range offsets {
		buf = binary.BigEndian.AppendUint64(buf, off)
	}
	buf = append(buf, records...)

	l, err := fromBytes(buf)
	if err != nil {
		// We just built it; a failure here is a codec bug.
		panic(fmt.Sprintf("mplib: %v", err))
	}
	return l
}

// fromBytes validates the header and offset table once so At never has to.
func fromBytes(buf []byte) (*SharedList, error) {
	if len(buf) < headerSize || [8]byte(buf[:8]) != magic {
		return nil, errors.New("not a shared sample list")
	}
	count := binary.BigEndian.Uint64(buf[8:16])
	tableEnd := uint64(headerSize) + 8*(count+1)
	if count > uint64(len(buf)) || tableEnd > uint64(len(buf)) {
		return nil, fmt.Errorf("sample count %d does not fit in %d bytes", count, len(buf))
	}
	l := &SharedList{buf: buf, count: int(count), records: buf[tableEnd:]}

	prev := uint64(0)
	for i := 0; i <= l.count; i++ {
		off := l.offset(i)
		if off < prev || off > uint64(len(l.records)) {
			return nil, fmt.Errorf("corrupt offset table at entry %d", i)
		}
		prev = off
	}
	return l, nil
}

func (l *SharedList) offset(i int) uint64 {
	p := headerSize + 8*i
	return binary.BigEndian.Uint64(l.buf[p : p+8])
}

// Len returns the number of samples.
func (l *SharedList) Len() int {
	return l.count
}

// At decodes sample i. It panics if i is out of range, like a slice index,
// or if the record is corrupt.
func (l *SharedList) At(i int) types.Sample {
	if i < 0 || i >= l.count {
		panic(fmt.Sprintf("mplib: index %d out of range [0:%d]", i, l.count))
	}
	s, err := decodeSample(l.records[l.offset(i):l.offset(i+1)])
	if err != nil {
		panic(fmt.Sprintf("mplib: sample %d: %v", i, err))
	}
	return s
}

// All iterates samples in order.
func (l *SharedList) All() iter.Seq2[int, types.Sample] {
	return func(yield func(int, types.Sample) bool) {
		for i := 0; i < l.count; i++ {
			if !yield(i, l.At(i)) {
				return
			}
		}
	}
}

// Samples decodes the whole list.
func (l *SharedList) Samples() []types.Sample {
	out := make([]types.Sample, 0, l.count)
	for _, s := range l.All() {
		out = append(out, s)
	}
	return out
}

// Bytes exposes the flat buffer.
func (l *SharedList) Bytes() []byte {
	return l.buf
}

// Export writes the buffer to path (typically under /dev/shm) so later
// processes can Attach to it.
func (l *SharedList) Export(path string) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, l.buf, 0644); err != nil {
		return fmt.Errorf("failed to write shared list: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to publish shared list: %w", err)
	}
	return nil
}

// Attach maps an exported list read-only.
func Attach(path string) (*SharedList, error) {
	buf, unmap, err := mapFile(path)
	if err != nil {
		return nil, err
	}
	l, err := fromBytes(buf)
	if err != nil {
		unmap()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	l.unmap = unmap
	return l, nil
}

// Close releases the mapping of an attached list. The list must not be used afterwards.
func (l *SharedList) Close() error {
	if l.unmap == nil {
		return nil
	}
	err := l.unmap()
	l.unmap = nil
	l.buf, l.records, l.count = nil, nil, 0
	return err
}
