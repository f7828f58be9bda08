// Package elf sanity-checks an ELF64 little-endian payload before the
// packer appends a trailer to it. It does not parse a payload back out
// of an existing executable: component A's trailer (internal/trailer)
// already records the compressed payload's exact length, so there is
// no appended-size-diff to recover the way the original self-extraction
// design here once did. What remains is the header-walking math that
// design needed, repointed at a pre-pack validation pass.
package elf

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidELF is returned for any payload that fails validation:
// bad magic, wrong class/endianness, or a program/section header table
// or aligned segment range that runs past the end of the file.
var ErrInvalidELF = errors.New("elf: invalid payload")

const (
	classOffset = 4
	dataOffset  = 5
	class64     = 2
	dataLE      = 1
)

// Validate checks that data begins with a 64-bit little-endian ELF
// header and that everything HeaderSize accounts for (the program and
// section header tables and the aligned segment ranges) fits within
// data. It does not care about the ELF type (EXEC, DYN, ...): the
// Linux loader execveats whatever the kernel itself would accept, so
// rejecting a valid but unusual e_type here would only be an extra
// restriction with no real payoff.
func Validate(data []byte) error {
	if len(data) < 0x40 {
		return fmt.Errorf("%w: too small for an ELF64 header (%d bytes)", ErrInvalidELF, len(data))
	}
	if data[0] != 0x7F || data[1] != 'E' || data[2] != 'L' || data[3] != 'F' {
		return fmt.Errorf("%w: bad magic", ErrInvalidELF)
	}
	if data[classOffset] != class64 {
		return fmt.Errorf("%w: not a 64-bit ELF", ErrInvalidELF)
	}
	if data[dataOffset] != dataLE {
		return fmt.Errorf("%w: not little-endian", ErrInvalidELF)
	}

	size, err := HeaderSize(data)
	if err != nil {
		return err
	}
	if size > uint64(len(data)) {
		return fmt.Errorf("%w: header tables describe %d bytes but payload is %d", ErrInvalidELF, size, len(data))
	}
	return nil
}

// HeaderSize computes the size, in bytes, that the headers of an ELF64
// file account for: the largest of the end of the program header
// table, the end of the section header table, and the end of each
// segment's file range (p_offset+p_filesz) rounded up to that
// segment's p_align. Validate rejects a payload shorter than this.
func HeaderSize(data []byte) (uint64, error) {
	size := uint64(0)

	phoff, err := readU64(data, 0x20)
	if err != nil {
		return 0, err
	}
	phentsize, err := readU16(data, 0x36)
	if err != nil {
		return 0, err
	}
	phnum, err := readU16(data, 0x38)
	if err != nil {
		return 0, err
	}
	size = max64(size, phoff+uint64(phentsize)*uint64(phnum))

	shoff, err := readU64(data, 0x28)
	if err != nil {
		return 0, err
	}
	shentsize, err := readU16(data, 0x3A)
	if err != nil {
		return 0, err
	}
	shnum, err := readU16(data, 0x3C)
	if err != nil {
		return 0, err
	}
	size = max64(size, shoff+uint64(shentsize)*uint64(shnum))

	for i := uint64(0); i < uint64(phnum); i++ {
		base := phoff + uint64(phentsize)*i
		pOffset, err := readU64(data, base+0x08)
		if err != nil {
			return 0, err
		}
		pFilesz, err := readU64(data, base+0x20)
		if err != nil {
			return 0, err
		}
		pAlign, err := readU64(data, base+0x30)
		if err != nil {
			return 0, err
		}
		if pAlign == 0 {
			pAlign = 1
		}
		size = max64(size, (pOffset+pFilesz+pAlign-1)/pAlign*pAlign)
	}

	return size, nil
}

func readU64(data []byte, off uint64) (uint64, error) {
	end := off + 8
	if end > uint64(len(data)) {
		return 0, fmt.Errorf("%w: read u64 out of bounds at %#x", ErrInvalidELF, off)
	}
	return binary.LittleEndian.Uint64(data[off:end]), nil
}

func readU16(data []byte, off uint64) (uint16, error) {
	end := off + 2
	if end > uint64(len(data)) {
		return 0, fmt.Errorf("%w: read u16 out of bounds at %#x", ErrInvalidELF, off)
	}
	return binary.LittleEndian.Uint16(data[off:end]), nil
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
