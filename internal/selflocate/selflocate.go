// Package selflocate finds and opens the file backing the currently
// running process, the first step every stub entrypoint takes before it
// can read its own trailer. The mechanism differs per OS (component F of
// the container design): Linux never trusts readlink("/proc/self/exe")
// because a memfd-backed process has no real path behind that symlink,
// only Open of the symlink itself works; Windows and macOS have no such
// trap and can round-trip through the OS's own launch-path query.
package selflocate

import "os"

// Self is the currently running executable, opened for random-access
// reads of its own trailer and appended payload.
type Self struct {
	f    *os.File
	size int64
}

// Close releases the underlying file handle.
func (s *Self) Close() error {
	return s.f.Close()
}

// Len reports the total size, in bytes, of the running executable.
func (s *Self) Len() int64 {
	return s.size
}

// ReadAt implements io.ReaderAt over the running executable's bytes.
func (s *Self) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}
