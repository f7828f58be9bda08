// Package macholoader validates a Mach-O image and, on darwin, links and
// runs it as a bundle entirely in memory via the deprecated
// NSObjectFileImage family. There is no modern replacement for
// in-memory Mach-O linking in the public API: dlopen requires a path
// on disk, so this is the only mechanism available at all, deprecated
// or not (spec.md §4.E).
package macholoader

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrLoaderRejected is returned for any input that fails validation:
// too short, bad magic, or a filetype NSLinkModule cannot load.
var ErrLoaderRejected = errors.New("macholoader: rejected")

const (
	// MagicMachO64 is MH_MAGIC_64, the magic of a little-endian 64-bit
	// Mach-O. Big-endian and 32-bit images are out of scope: the stub
	// never targets anything but amd64/arm64 darwin.
	MagicMachO64 = 0xFEEDFACF

	// FiletypeExecute and FiletypeBundle are MH_EXECUTE and MH_BUNDLE.
	// NSCreateObjectFileImageFromMemory refuses MH_EXECUTE outright, so
	// every payload gets its filetype field rewritten before linking.
	FiletypeExecute = 2
	FiletypeBundle  = 8

	filetypeOffset = 12
	headerSize     = 32 // size of mach_header_64
)

// Validate checks that data begins with a 64-bit Mach-O header and
// returns its filetype field. It does not inspect load commands: the
// loader only ever needs to know whether a patch is required.
func Validate(data []byte) (filetype uint32, err error) {
	if len(data) < headerSize {
		return 0, fmt.Errorf("%w: image too small for mach_header_64 (%d bytes)", ErrLoaderRejected, len(data))
	}

	magic := binary.LittleEndian.Uint32(data[0:4])
	if magic != MagicMachO64 {
		return 0, fmt.Errorf("%w: bad magic %#x", ErrLoaderRejected, magic)
	}

	filetype = binary.LittleEndian.Uint32(data[filetypeOffset : filetypeOffset+4])
	return filetype, nil
}

// PatchToBundle returns a copy of data with its filetype field set to
// MH_BUNDLE. It requires the input to validate as MH_EXECUTE: patching
// anything else (a MH_BUNDLE that's already a bundle, a dylib, an
// object file) would silently change the payload's semantics instead
// of just unlocking NSLinkModule, so those are rejected rather than
// passed through unpatched.
func PatchToBundle(data []byte) ([]byte, error) {
	filetype, err := Validate(data)
	if err != nil {
		return nil, err
	}
	if filetype != FiletypeExecute {
		return nil, fmt.Errorf("%w: filetype %d is not MH_EXECUTE", ErrLoaderRejected, filetype)
	}

	patched := make([]byte, len(data))
	copy(patched, data)
	binary.LittleEndian.PutUint32(patched[filetypeOffset:filetypeOffset+4], FiletypeBundle)
	return patched, nil
}
