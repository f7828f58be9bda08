//go:build darwin

package selflocate

import "os"

// Open resolves the running executable's path via the OS launch-path
// query (os.Executable wraps _NSGetExecutablePath) and opens that path.
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
