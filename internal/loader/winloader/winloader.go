// Package winloader parses and, on windows, maps and runs a PE32+ image
// entirely from memory: no payload ever touches disk, no LoadLibrary of
// the payload itself, just VirtualAlloc, a manual section copy, base
// relocation, import resolution and a jump to the entry point.
//
// Parsing and validation are plain byte-slice functions with no OS
// dependency, so the same malformed-input rejection tests run on every
// host regardless of build target (component D's validation contract,
// spec.md §4.D). Only the mapping/execution half is windows-only.
//
// Only the import and base-relocation data directories are processed:
// TLS callbacks, SEH registration tables and delay-loaded imports are
// not handled, so a payload that depends on them fails or misbehaves.
package winloader

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrLoaderRejected is returned for any PE that fails the validation
// contract: bad magic, out-of-bounds header, oversized section table, a
// section whose virtual or raw range escapes the image, or an
// unsupported relocation type.
var ErrLoaderRejected = errors.New("winloader: rejected")

const (
	dosMagic         = 0x5A4D     // "MZ"
	ntSignature      = 0x00004550 // "PE\x00\x00"
	optMagicPE32Plus = 0x020B

	coffHeaderSize = 20
	sectionSize    = 40
	maxSections    = 96

	// dataDirImport and dataDirBaseReloc are the data-directory table
	// indices the loader cares about; the other 14 entries (exports,
	// resources, TLS, debug, ...) are never read, per spec.md §9's note
	// that TLS callbacks and delay-loaded imports are out of scope.
	dataDirImport    = 1
	dataDirBaseReloc = 5

	imageRelBasedAbsolute = 0
	imageRelBasedDir64    = 10

	// A generous but finite ceiling on SizeOfImage/SizeOfHeaders so a
	// hostile trailer can't make the loader attempt a multi-terabyte
	// VirtualAlloc before any section has been validated.
	maxReasonableImageSize = 1 << 31
)

// Section is a parsed IMAGE_SECTION_HEADER, trimmed to the fields the
// loader actually uses.
type Section struct {
	VirtualAddress  uint32
	VirtualSize     uint32
	RawDataOffset   uint32
	RawDataSize     uint32
	Characteristics uint32
}

// Headers is the subset of a parsed PE32+ image the loader needs to map
// and run it.
type Headers struct {
	ImageBase        uint64
	SizeOfImage      uint32
	SizeOfHeaders    uint32
	EntryPointRVA    uint32
	SectionAlignment uint32
	Sections         []Section
	ImportDirRVA     uint32
	ImportDirSize    uint32
	RelocDirRVA      uint32
	RelocDirSize     uint32
}

func rejectf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrLoaderRejected, fmt.Sprintf(format, args...))
}

func readU16(data []byte, off uint32) (uint16, error) {
	end := uint64(off) + 2
	if end > uint64(len(data)) {
		return 0, rejectf("read u16 out of bounds at %#x", off)
	}
	return binary.LittleEndian.Uint16(data[off:end]), nil
}

func readU32(data []byte, off uint32) (uint32, error) {
	end := uint64(off) + 4
	if end > uint64(len(data)) {
		return 0, rejectf("read u32 out of bounds at %#x", off)
	}
	return binary.LittleEndian.Uint32(data[off:end]), nil
}

func readU64(data []byte, off uint32) (uint64, error) {
	end := uint64(off) + 8
	if end > uint64(len(data)) {
		return 0, rejectf("read u64 out of bounds at %#x", off)
	}
	return binary.LittleEndian.Uint64(data[off:end]), nil
}

// Parse validates and parses a PE32+ image per spec.md §4.D's validation
// list, in order, so the first failing check is always the one reported.
func Parse(data []byte) (*Headers, error) {
	if len(data) < 64 {
		return nil, rejectf("image too small for DOS header (%d bytes)", len(data))
	}

	magic, err := readU16(data, 0)
	if err != nil || magic != dosMagic {
		return nil, rejectf("bad DOS magic")
	}

	lfanew, err := readU32(data, 60)
	if err != nil {
		return nil, err
	}
	if uint64(lfanew)+24 > uint64(len(data)) {
		return nil, rejectf("e_lfanew %#x out of bounds", lfanew)
	}

	sig, err := readU32(data, lfanew)
	if err != nil || sig != ntSignature {
		return nil, rejectf("bad NT signature")
	}

	coffOff := lfanew + 4
	numSections, err := readU16(data, coffOff+2)
	if err != nil {
		return nil, err
	}
	optHdrSize, err := readU16(data, coffOff+16)
	if err != nil {
		return nil, err
	}
	if optHdrSize < 112 {
		return nil, rejectf("optional header too small (%d bytes)", optHdrSize)
	}

	optOff := coffOff + coffHeaderSize
	optMagic, err := readU16(data, optOff)
	if err != nil || optMagic != optMagicPE32Plus {
		return nil, rejectf("not a PE32+ image")
	}

	entryRVA, err := readU32(data, optOff+16)
	if err != nil {
		return nil, err
	}
	imageBase, err := readU64(data, optOff+24)
	if err != nil {
		return nil, err
	}
	sectionAlign, err := readU32(data, optOff+32)
	if err != nil {
		return nil, err
	}
	sizeOfImage, err := readU32(data, optOff+56)
	if err != nil {
		return nil, err
	}
	sizeOfHeaders, err := readU32(data, optOff+60)
	if err != nil {
		return nil, err
	}
	if sizeOfImage == 0 || sizeOfImage > maxReasonableImageSize {
		return nil, rejectf("implausible SizeOfImage %#x", sizeOfImage)
	}
	if sizeOfHeaders == 0 || sizeOfHeaders > sizeOfImage {
		return nil, rejectf("implausible SizeOfHeaders %#x", sizeOfHeaders)
	}

	numDataDirs, err := readU32(data, optOff+108)
	if err != nil {
		return nil, err
	}
	dataDirOff := optOff + 112

	var importRVA, importSize, relocRVA, relocSize uint32
	if numDataDirs > dataDirImport {
		importRVA, err = readU32(data, dataDirOff+uint32(dataDirImport)*8)
		if err != nil {
			return nil, err
		}
		importSize, err = readU32(data, dataDirOff+uint32(dataDirImport)*8+4)
		if err != nil {
			return nil, err
		}
	}
	if numDataDirs > dataDirBaseReloc {
		relocRVA, err = readU32(data, dataDirOff+uint32(dataDirBaseReloc)*8)
		if err != nil {
			return nil, err
		}
		relocSize, err = readU32(data, dataDirOff+uint32(dataDirBaseReloc)*8+4)
		if err != nil {
			return nil, err
		}
	}

	if numSections > maxSections {
		return nil, rejectf("too many sections (%d)", numSections)
	}

	sectionsOff := optOff + uint32(optHdrSize)
	sections := make([]Section, 0, numSections)
	for i := uint16(0); i < numSections; i++ {
		base := sectionsOff + uint32(i)*sectionSize
		vsize, err := readU32(data, base+8)
		if err != nil {
			return nil, err
		}
		vaddr, err := readU32(data, base+12)
		if err != nil {
			return nil, err
		}
		rawSize, err := readU32(data, base+16)
		if err != nil {
			return nil, err
		}
		rawOff, err := readU32(data, base+20)
		if err != nil {
			return nil, err
		}
		chars, err := readU32(data, base+36)
		if err != nil {
			return nil, err
		}

		if uint64(vaddr)+uint64(vsize) > uint64(sizeOfImage) {
			return nil, rejectf("section %d exceeds SizeOfImage", i)
		}
		if uint64(rawOff)+uint64(rawSize) > uint64(len(data)) {
			return nil, rejectf("section %d raw data exceeds source buffer", i)
		}

		sections = append(sections, Section{
			VirtualAddress:  vaddr,
			VirtualSize:     vsize,
			RawDataOffset:   rawOff,
			RawDataSize:     rawSize,
			Characteristics: chars,
		})
	}

	return &Headers{
		ImageBase:        imageBase,
		SizeOfImage:      sizeOfImage,
		SizeOfHeaders:    sizeOfHeaders,
		EntryPointRVA:    entryRVA,
		SectionAlignment: sectionAlign,
		Sections:         sections,
		ImportDirRVA:     importRVA,
		ImportDirSize:    importSize,
		RelocDirRVA:      relocRVA,
		RelocDirSize:     relocSize,
	}, nil
}

// sectionProtection maps a section's Characteristics flags to the
// Win32 PAGE_* constant the final VirtualProtect pass should apply.
// Kept here (not in winloader_windows.go) so it can be unit tested
// without a windows build tag.
func sectionProtection(characteristics uint32) uint32 {
	const (
		imageSCNMemExecute = 0x20000000
		imageSCNMemRead    = 0x40000000
		imageSCNMemWrite   = 0x80000000
	)
	x := characteristics&imageSCNMemExecute != 0
	w := characteristics&imageSCNMemWrite != 0
	r := characteristics&imageSCNMemRead != 0

	switch {
	case x && w:
		return pageExecuteReadWrite
	case x && r:
		return pageExecuteRead
	case x:
		return pageExecute
	case w:
		return pageReadWrite
	case r:
		return pageReadOnly
	default:
		return pageNoAccess
	}
}

// Win32 PAGE_* constants, defined here rather than imported from
// golang.org/x/sys/windows so sectionProtection stays buildable (and
// testable) on every host OS.
const (
	pageNoAccess         = 0x01
	pageReadOnly         = 0x02
	pageReadWrite        = 0x04
	pageExecute          = 0x10
	pageExecuteRead      = 0x20
	pageExecuteReadWrite = 0x40
)
