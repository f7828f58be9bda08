// Package linuxloader runs a decompressed native payload entirely in
// memory on Linux: a memfd holds the executable bytes, and execveat
// replaces the current process image with it directly. There is no
// fork and, deliberately, no tempfile fallback if the memfd path fails —
// this stub runtime never touches the filesystem to run a payload, full
// stop.
package linuxloader

import (
	"errors"
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// memfdName is cosmetic only: it shows up in /proc/<pid>/maps and
// similar introspection tools, never interpreted by the kernel.
const memfdName = "sfx"

// SysCallError wraps a failing raw syscall with the errno it returned,
// so callers can distinguish "payload rejected" (LoaderRejected) from
// "the OS refused to let us run it at all" (SysCallFailed).
type SysCallError struct {
	Syscall string
	Errno   error
}

func (e *SysCallError) Error() string {
	return fmt.Sprintf("linuxloader: %s: %v", e.Syscall, e.Errno)
}

func (e *SysCallError) Unwrap() error { return e.Errno }

// Exec writes payload into an anonymous memfd and replaces the calling
// process with it via execveat, forwarding argv0 (the outer process's
// own argv[0], never recomputed from /proc/self/exe) and the remaining
// arguments and environment unchanged. On success Exec never returns:
// the process image is gone. On failure it returns an error and the
// caller is still the original process.
func Exec(payload []byte, argv0 string, args []string, env []string) error {
	fd, err := writeMemfd(payload)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	argv := make([]string, 0, len(args)+1)
	argv = append(argv, argv0)
	argv = append(argv, args...)

	if err := execveat(fd, argv, env); err != nil {
		return &SysCallError{Syscall: "execveat", Errno: err}
	}

	return errors.New("linuxloader: execveat returned without replacing the process image")
}

// writeMemfd creates an anonymous memfd, writes payload into it in full,
// and fchmods it to 0700 so the kernel's execveat permission check
// passes. The returned fd is owned by the caller.
func writeMemfd(payload []byte) (int, error) {
	fd, err := unix.MemfdCreate(memfdName, unix.MFD_CLOEXEC)
	if err != nil {
		return -1, &SysCallError{Syscall: "memfd_create", Errno: err}
	}

	if err := writeAll(fd, payload); err != nil {
		unix.Close(fd)
		return -1, err
	}

	if err := unix.Fchmod(fd, 0700); err != nil {
		unix.Close(fd)
		return -1, &SysCallError{Syscall: "fchmod", Errno: err}
	}

	return fd, nil
}

func writeAll(fd int, data []byte) error {
	for len(data) > 0 {
		n, err := unix.Write(fd, data)
		if err != nil {
			return &SysCallError{Syscall: "write", Errno: err}
		}
		if n == 0 {
			return &SysCallError{Syscall: "write", Errno: errors.New("short write with no progress")}
		}
		data = data[n:]
	}
	return nil
}

// emptyPath is the "" pathname argument execveat requires alongside
// AT_EMPTY_PATH: the kernel still dereferences a valid, NUL-terminated
// pointer, it just treats a zero-length string specially rather than
// accepting a NULL pointer.
var emptyPath = [1]byte{0}

// execveat calls SYS_EXECVEAT with an empty pathname and AT_EMPTY_PATH,
// which the kernel interprets as "execute the file referred to by fd
// directly", the documented trick for running a memfd without ever
// linking it into the filesystem namespace. golang.org/x/sys/unix has no
// higher-level wrapper for this syscall, so it is invoked directly.
func execveat(fd int, argv []string, env []string) error {
	argvPtr, err := syscall.SlicePtrFromStrings(argv)
	if err != nil {
		return err
	}
	envPtr, err := syscall.SlicePtrFromStrings(env)
	if err != nil {
		return err
	}

	_, _, errno := unix.Syscall6(
		unix.SYS_EXECVEAT,
		uintptr(fd),
		uintptr(unsafe.Pointer(&emptyPath[0])),
		uintptr(unsafe.Pointer(&argvPtr[0])),
		uintptr(unsafe.Pointer(&envPtr[0])),
		unix.AT_EMPTY_PATH,
		0,
	)
	if errno != 0 {
		return errno
	}
	return nil
}
