//go:build linux

package selflocate

import "os"

// procSelfExe is opened directly rather than resolved with os.Readlink
// first: when the running binary was execveat'd from a memfd, the
// symlink's target text is a synthetic "/memfd:sfx (deleted)" string that
// is not a valid filesystem path, but the symlink itself still opens to
// the right inode. Resolving the link and re-opening the resolved string
// would fail in exactly the case this stub runtime exists to support.
const procSelfExe = "/proc/self/exe"

// Open opens the running executable via /proc/self/exe.
func Open() (*Self, error) {
	f, err := os.Open(procSelfExe)
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
