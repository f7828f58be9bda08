//go:build darwin && cgo

package macholoader

/*
#cgo LDFLAGS: -framework CoreFoundation
#include <mach-o/dyld.h>
#include <mach-o/nlist.h>
#include <stdlib.h>
#include <string.h>

// callMain casts sym to a standard C main signature and invokes it.
// Invoking through a C trampoline keeps cgo from ever having to model
// a function pointer type with a variable argc/argv directly in Go.
static int callMain(void *sym, int argc, char **argv, char **envp) {
	int (*entry)(int, char **, char **) = (int (*)(int, char **, char **))sym;
	return entry(argc, argv, envp);
}
*/
import "C"

import (
	"errors"
	"fmt"
	"os"
	"unsafe"
)

// ErrLinkFailed wraps any failure from the NSObjectFileImage family:
// a malformed image NSCreateObjectFileImageFromMemory rejects,
// NSLinkModule refusing to resolve all symbols, or a missing _main.
var ErrLinkFailed = errors.New("macholoader: link failed")

// Run patches data to MH_BUNDLE, links it into the current process
// with NSLinkModule, looks up its _main symbol, and calls it with
// argv/envp built from args and the current process environment. It
// does not return on success: _main is expected to call exit itself,
// matching how a normal Mach-O executable's _start would behave. If
// _main does return, its return value is reported as the exit code.
func Run(data []byte, args []string) (int, error) {
	patched, err := PatchToBundle(data)
	if err != nil {
		return 0, err
	}

	cData := C.CBytes(patched)
	defer C.free(cData)

	var ofi C.NSObjectFileImage
	rc := C.NSCreateObjectFileImageFromMemory(cData, C.size_t(len(patched)), &ofi)
	if rc != C.NSObjectFileImageSuccess {
		return 0, fmt.Errorf("%w: NSCreateObjectFileImageFromMemory returned %d", ErrLinkFailed, int(rc))
	}

	module := C.NSLinkModule(ofi, C.CString("sfx-payload"), C.NSLINKMODULE_OPTION_PRIVATE|C.NSLINKMODULE_OPTION_RETURN_ON_ERROR)
	if module == nil {
		return 0, fmt.Errorf("%w: NSLinkModule failed", ErrLinkFailed)
	}

	cMainSym := C.CString("_main")
	defer C.free(unsafe.Pointer(cMainSym))

	sym := C.NSLookupSymbolInModule(module, cMainSym)
	if sym == nil {
		return 0, fmt.Errorf("%w: _main not found in payload", ErrLinkFailed)
	}

	entry := C.NSAddressOfSymbol(sym)
	if entry == nil {
		return 0, fmt.Errorf("%w: NSAddressOfSymbol returned nil for _main", ErrLinkFailed)
	}

	argv := buildCStringArray(args)
	defer freeCStringArray(argv)
	envp := buildCStringArray(os.Environ())
	defer freeCStringArray(envp)

	ret := C.callMain(entry, C.int(len(args)), argv, envp)
	return int(ret), nil
}

func buildCStringArray(strs []string) **C.char {
	arr := C.malloc(C.size_t(len(strs)+1) * C.size_t(unsafe.Sizeof(uintptr(0))))
	cArr := (*[1 << 20]*C.char)(arr)
	for i, s := range strs {
		cArr[i] = C.CString(s)
	}
	cArr[len(strs)] = nil
	return (**C.char)(arr)
}

func freeCStringArray(arr **C.char) {
	cArr := (*[1 << 20]*C.char)(unsafe.Pointer(arr))
	for i := 0; cArr[i] != nil; i++ {
		C.free(unsafe.Pointer(cArr[i]))
	}
	C.free(unsafe.Pointer(arr))
}
