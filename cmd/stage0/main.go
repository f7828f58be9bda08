//go:build linux && amd64

// Command stage0 is the two-stage outer loader wrapped around a
// musl-static stage-1 SFX when the packer cannot apply its usual
// post-build executable compression to a target (spec.md §4.G). It
// reads its own trailer, inflates the wrapped stage-1 image with
// internal/inflate, and execveats straight into it, exactly the way
// the stage-1 stub execveats into the final payload.
//
// Apart from internal/inflate it imports nothing beyond syscall and
// unsafe: no os, no os/exec, no fmt. Every OS request is a direct syscall so the wrapper adds as
// little weight and as few moving parts as possible ahead of the
// stage-1 binary it carries.
package main

import (
	"syscall"
	"unsafe"

	"xsfx-pack/internal/inflate"
)

const (
	stage0TrailerSize = 24
	stage0Magic       = 0x5346585F53543021

	sysMemfdCreate = 319
	sysExecveat    = 322

	mfdCloexec  = 0x0001
	atEmptyPath = 0x1000

	// maxUncompressedLen bounds the stage-1 image stage0 will ever
	// inflate into memory. A hostile trailer can set uncompressedLen
	// to anything; without a cap it flows straight into an allocation
	// size.
	maxUncompressedLen = 1 << 30
)

func main() {
	self, err := openSelf()
	if err != nil {
		exit(1)
	}

	size, err := fileSize(self)
	if err != nil {
		exit(1)
	}
	if size < stage0TrailerSize {
		exit(1)
	}

	tail := make([]byte, stage0TrailerSize)
	if _, err := preadFull(self, tail, size-stage0TrailerSize); err != nil {
		exit(1)
	}

	compressedLen := le64(tail[0:8])
	uncompressedLen := le64(tail[8:16])
	magic := le64(tail[16:24])
	if magic != stage0Magic {
		exit(1)
	}
	if compressedLen == 0 || compressedLen > uint64(size) {
		exit(1)
	}
	if uncompressedLen == 0 || uncompressedLen > maxUncompressedLen {
		exit(1)
	}

	payloadOffset := size - stage0TrailerSize - int64(compressedLen)
	if payloadOffset < 0 {
		exit(1)
	}

	compressed := make([]byte, compressedLen)
	if _, err := preadFull(self, compressed, payloadOffset); err != nil {
		exit(1)
	}
	closeFD(self)

	stage1, err := inflate.Inflate(compressed, int(uncompressedLen))
	if err != nil {
		exit(1)
	}
	if uint64(len(stage1)) != uncompressedLen {
		exit(1)
	}

	fd, err := memfdCreate("sfx-stage1")
	if err != nil {
		exit(1)
	}
	if err := writeFull(fd, stage1); err != nil {
		exit(1)
	}
	if err := fchmod(fd, 0700); err != nil {
		exit(1)
	}

	argv, err := buildArgv()
	if err != nil {
		exit(1)
	}
	envp := buildEnvp()

	execveat(fd, argv, envp)

	// execveat only returns on failure.
	exit(1)
}

func exit(code int) {
	syscall.Syscall(syscall.SYS_EXIT_GROUP, uintptr(code), 0, 0)
}

func openSelf() (int, error) {
	path := [...]byte{'/', 'p', 'r', 'o', 'c', '/', 's', 'e', 'l', 'f', '/', 'e', 'x', 'e', 0}
	fd, _, errno := syscall.Syscall(syscall.SYS_OPEN, uintptr(unsafe.Pointer(&path[0])), uintptr(syscall.O_RDONLY), 0)
	if errno != 0 {
		return -1, errno
	}
	return int(fd), nil
}

func fileSize(fd int) (int64, error) {
	var stat syscall.Stat_t
	_, _, errno := syscall.Syscall(syscall.SYS_FSTAT, uintptr(fd), uintptr(unsafe.Pointer(&stat)), 0)
	if errno != 0 {
		return 0, errno
	}
	return stat.Size, nil
}

func preadFull(fd int, buf []byte, offset int64) (int, error) {
	total := 0
	for total < len(buf) {
		n, _, errno := syscall.Syscall6(syscall.SYS_PREAD64, uintptr(fd),
			uintptr(unsafe.Pointer(&buf[total])), uintptr(len(buf)-total), uintptr(offset+int64(total)), 0, 0)
		if errno != 0 {
			return total, errno
		}
		if int(n) == 0 {
			return total, syscall.EIO
		}
		total += int(n)
	}
	return total, nil
}

func writeFull(fd int, buf []byte) error {
	total := 0
	for total < len(buf) {
		n, _, errno := syscall.Syscall(syscall.SYS_WRITE, uintptr(fd), uintptr(unsafe.Pointer(&buf[total])), uintptr(len(buf)-total))
		if errno != 0 {
			return errno
		}
		if int(n) == 0 {
			return syscall.EIO
		}
		total += int(n)
	}
	return nil
}

func closeFD(fd int) {
	syscall.Syscall(syscall.SYS_CLOSE, uintptr(fd), 0, 0)
}

func fchmod(fd int, mode uint32) error {
	_, _, errno := syscall.Syscall(syscall.SYS_FCHMOD, uintptr(fd), uintptr(mode), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func memfdCreate(name string) (int, error) {
	buf := append([]byte(name), 0)
	fd, _, errno := syscall.Syscall(sysMemfdCreate, uintptr(unsafe.Pointer(&buf[0])), uintptr(mfdCloexec), 0)
	if errno != 0 {
		return -1, errno
	}
	return int(fd), nil
}

// cStringArray builds a NUL-terminated, NULL-pointer-terminated array
// of C strings, the layout execveat expects for argv/envp. Each
// element's backing buffer must outlive the syscall; the returned
// []*byte points into every buffer, which keeps them all reachable.
func cStringArray(strs []string) ([]*byte, error) {
	bufs := make([][]byte, len(strs))
	for i, s := range strs {
		bufs[i] = append([]byte(s), 0)
	}
	ptrs := make([]*byte, len(strs)+1)
	for i, b := range bufs {
		ptrs[i] = &b[0]
	}
	ptrs[len(strs)] = nil
	return ptrs, nil
}

// readProcNulList reads a /proc/self/{cmdline,environ}-shaped file: a
// flat buffer of NUL-separated, NUL-terminated C strings. Reading
// these rather than os.Args/os.Environ keeps this loader off the os
// package entirely, matching the rest of its raw-syscall style.
func readProcNulList(path string) ([]string, error) {
	cpath := append([]byte(path), 0)
	fd, _, errno := syscall.Syscall(syscall.SYS_OPEN, uintptr(unsafe.Pointer(&cpath[0])), uintptr(syscall.O_RDONLY), 0)
	if errno != 0 {
		return nil, errno
	}
	defer closeFD(int(fd))

	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, _, errno := syscall.Syscall(syscall.SYS_READ, fd, uintptr(unsafe.Pointer(&chunk[0])), uintptr(len(chunk)))
		if errno != 0 {
			return nil, errno
		}
		if n == 0 {
			break
		}
		buf = append(buf, chunk[:n]...)
	}

	var out []string
	start := 0
	for i, b := range buf {
		if b == 0 {
			out = append(out, string(buf[start:i]))
			start = i + 1
		}
	}
	return out, nil
}

func buildArgv() ([]*byte, error) {
	// Re-execs the stage-1 image with argv unchanged: argv[0] is
	// whatever the outer process was invoked as.
	args, err := readProcNulList("/proc/self/cmdline")
	if err != nil {
		return nil, err
	}
	return cStringArray(args)
}

func buildEnvp() []*byte {
	env, err := readProcNulList("/proc/self/environ")
	if err != nil {
		env = nil
	}
	ptrs, _ := cStringArray(env)
	return ptrs
}

var emptyPath = [1]byte{0}

func execveat(fd int, argv, envp []*byte) {
	syscall.Syscall6(
		sysExecveat,
		uintptr(fd),
		uintptr(unsafe.Pointer(&emptyPath[0])),
		uintptr(unsafe.Pointer(&argv[0])),
		uintptr(unsafe.Pointer(&envp[0])),
		atEmptyPath,
		0,
	)
}

func le64(b []byte) uint64 {
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}
