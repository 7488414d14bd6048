//go:build !unix

package mplib

import "os"

// Without mmap every process reads its own copy of the flat buffer.
func mapFile(path string) ([]byte, func() error, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return buf, func() error { return nil }, nil
}
