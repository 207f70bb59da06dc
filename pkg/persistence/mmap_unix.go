//go:build !windows

package persistence

import (
	"os"

	"golang.org/x/sys/unix"
)

// readFileMapped maps the file read-only instead of copying it through a
// buffer. Decoding copies what it keeps, so the mapping is released as soon
// as the caller is done. Empty files fall back to a plain read since mmap
// rejects zero-length mappings.
func readFileMapped(path string) (data []byte, release func(), err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	size := int(stat.Size())
	if size == 0 {
		return nil, func() {}, nil
	}

	data, err = unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		// Fall back to a plain read; some filesystems refuse mmap.
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, nil, err
		}
		return data, func() {}, nil
	}

	mapped := data
	return data, func() { _ = unix.Munmap(mapped) }, nil
}
