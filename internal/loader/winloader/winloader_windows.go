//go:build windows

package winloader

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// ErrImportResolutionFailed carries the dll!symbol pair that LoadLibrary
// or GetProcAddress rejected, per spec.md §7's taxonomy.
type ErrImportResolutionFailed struct {
	DLL    string
	Symbol string
	Err    error
}

func (e *ErrImportResolutionFailed) Error() string {
	if e.Symbol == "" {
		return fmt.Sprintf("winloader: load %s: %v", e.DLL, e.Err)
	}
	return fmt.Sprintf("winloader: resolve %s!%s: %v", e.DLL, e.Symbol, e.Err)
}

func (e *ErrImportResolutionFailed) Unwrap() error { return e.Err }

// Run parses, maps, relocates, resolves imports for, and jumps into a
// PE32+ image. It does not return on success: the PE entry point sets
// up its own CRT and calls ExitProcess. If the entry point does
// return anyway, Run returns its return value as an exit code.
func Run(image []byte) (int, error) {
	hdr, err := Parse(image)
	if err != nil {
		return 0, err
	}

	base, err := windows.VirtualAlloc(0, uintptr(hdr.SizeOfImage), windows.MEM_RESERVE|windows.MEM_COMMIT, windows.PAGE_READWRITE)
	if err != nil {
		return 0, fmt.Errorf("winloader: VirtualAlloc: %w", err)
	}

	if err := mapSections(base, image, hdr); err != nil {
		freeImage(base)
		return 0, err
	}
	if err := applyRelocations(base, hdr); err != nil {
		freeImage(base)
		return 0, err
	}
	if err := resolveImports(base, hdr); err != nil {
		freeImage(base)
		return 0, err
	}
	if err := setProtections(base, hdr); err != nil {
		freeImage(base)
		return 0, err
	}

	entry := base + uintptr(hdr.EntryPointRVA)
	ret, _, _ := syscall.SyscallN(entry)
	return int(int32(ret)), nil
}

func freeImage(base uintptr) {
	_ = windows.VirtualFree(base, 0, windows.MEM_RELEASE)
}

func mapSections(base uintptr, image []byte, hdr *Headers) error {
	hdrSize := int(hdr.SizeOfHeaders)
	if hdrSize > len(image) {
		hdrSize = len(image)
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(base)), hdrSize), image[:hdrSize])

	for _, s := range hdr.Sections {
		dest := unsafe.Slice((*byte)(unsafe.Pointer(base+uintptr(s.VirtualAddress))), s.VirtualSize)
		if s.RawDataSize > 0 {
			n := s.RawDataSize
			if n > s.VirtualSize {
				n = s.VirtualSize
			}
			copy(dest[:n], image[s.RawDataOffset:s.RawDataOffset+n])
		}
		// The remainder up to VirtualSize is already zero: VirtualAlloc
		// zero-fills committed pages.
	}
	return nil
}

func applyRelocations(base uintptr, hdr *Headers) error {
	if hdr.RelocDirRVA == 0 || hdr.RelocDirSize == 0 {
		return nil
	}

	delta := uint64(base) - hdr.ImageBase
	if delta == 0 {
		return nil
	}

	region := unsafe.Slice((*byte)(unsafe.Pointer(base+uintptr(hdr.RelocDirRVA))), hdr.RelocDirSize)
	var offset uint32
	for offset+8 <= hdr.RelocDirSize {
		blockRVA := le32(region, offset)
		blockSize := le32(region, offset+4)
		if blockSize < 8 {
			break
		}

		entryCount := (blockSize - 8) / 2
		for i := uint32(0); i < entryCount; i++ {
			entry := le16(region, offset+8+i*2)
			relocType := entry >> 12
			relocOffset := entry & 0x0FFF

			switch relocType {
			case imageRelBasedDir64:
				addr := base + uintptr(blockRVA) + uintptr(relocOffset)
				p := (*uint64)(unsafe.Pointer(addr))
				*p += delta
			case imageRelBasedAbsolute:
				// no-op padding entry
			default:
				return rejectf("unsupported relocation type %d", relocType)
			}
		}

		offset += blockSize
	}
	return nil
}

func resolveImports(base uintptr, hdr *Headers) error {
	if hdr.ImportDirRVA == 0 || hdr.ImportDirSize == 0 {
		return nil
	}

	const descSize = 20
	descBase := base + uintptr(hdr.ImportDirRVA)

	for descOff := uintptr(0); ; descOff += descSize {
		ilt := readPtrU32(descBase + descOff)
		nameRVA := readPtrU32(descBase + descOff + 12)
		iat := readPtrU32(descBase + descOff + 16)
		if ilt == 0 && nameRVA == 0 && iat == 0 {
			break
		}

		dllName := readCString(base + uintptr(nameRVA))
		h, err := windows.LoadLibrary(dllName)
		if err != nil {
			return &ErrImportResolutionFailed{DLL: dllName, Err: err}
		}

		lookupRVA := ilt
		if lookupRVA == 0 {
			lookupRVA = iat
		}

		for thunkOff := uintptr(0); ; thunkOff += 8 {
			thunk := readPtrU64(base + uintptr(lookupRVA) + thunkOff)
			if thunk == 0 {
				break
			}

			var proc uintptr
			if thunk&(1<<63) != 0 {
				ordinal := uint16(thunk & 0xFFFF)
				proc, err = windows.GetProcAddressByOrdinal(h, uintptr(ordinal))
				if err != nil {
					return &ErrImportResolutionFailed{DLL: dllName, Symbol: fmt.Sprintf("#%d", ordinal), Err: err}
				}
			} else {
				hintNameRVA := uint32(thunk & 0x7FFFFFFF)
				name := readCString(base + uintptr(hintNameRVA) + 2)
				proc, err = windows.GetProcAddress(h, name)
				if err != nil {
					return &ErrImportResolutionFailed{DLL: dllName, Symbol: name, Err: err}
				}
			}

			writePtrU64(base+uintptr(iat)+thunkOff, uint64(proc))
		}
	}
	return nil
}

func setProtections(base uintptr, hdr *Headers) error {
	for _, s := range hdr.Sections {
		if s.VirtualSize == 0 {
			continue
		}
		prot := sectionProtection(s.Characteristics)
		var old uint32
		if err := windows.VirtualProtect(base+uintptr(s.VirtualAddress), uintptr(s.VirtualSize), prot, &old); err != nil {
			return fmt.Errorf("winloader: VirtualProtect: %w", err)
		}
	}
	return nil
}

func le16(b []byte, off uint32) uint16 {
	return uint16(b[off]) | uint16(b[off+1])<<8
}

func le32(b []byte, off uint32) uint32 {
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}

func readPtrU32(addr uintptr) uint32 {
	return *(*uint32)(unsafe.Pointer(addr))
}

func readPtrU64(addr uintptr) uint64 {
	return *(*uint64)(unsafe.Pointer(addr))
}

func writePtrU64(addr uintptr, v uint64) {
	*(*uint64)(unsafe.Pointer(addr)) = v
}

func readCString(addr uintptr) string {
	var buf []byte
	for i := uintptr(0); ; i++ {
		b := *(*byte)(unsafe.Pointer(addr + i))
		if b == 0 {
			break
		}
		buf = append(buf, b)
	}
	return string(buf)
}
