//go:build windows

package selflocate

import "os"

// Open resolves the running executable's path via the OS launch-path
// query (os.Executable wraps GetModuleFileNameW) and opens that path.
// Unlike Linux there is no memfd-style synthetic target to trip over:
// the returned path always names a real file on disk.
func Open() (*Self, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Self{f: f, size: info.Size()}, nil
}
