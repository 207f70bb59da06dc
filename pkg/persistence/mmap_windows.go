//go:build windows

package persistence

import "os"

// readFileMapped reads the whole file; Windows builds skip the mmap fast
// path.
func readFileMapped(path string) (data []byte, release func(), err error) {
	data, err = os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return data, func() {}, nil
}
