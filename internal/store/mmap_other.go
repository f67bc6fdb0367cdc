//go:build !unix

package store

import (
	"fmt"
	"os"
)

// mapFile reads path into memory where mmap is unavailable.
func mapFile(path string) ([]byte, func() error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read vectors file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("%w: empty file", ErrCorruptVectors)
	}
	return data, func() error { return nil }, nil
}
