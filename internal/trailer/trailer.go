// Package trailer codes the fixed-size footers that terminate an xsfx
// container. A stage-1 SFX ends in a 16-byte Trailer; a stage-0 wrapper
// (see internal/inflate) ends in a 24-byte Stage0Trailer. Both are plain
// little-endian fixed layouts, read from the tail of the running
// executable by internal/selflocate.
package trailer

import (
	"encoding/binary"
	"errors"
	"io"
)

// Magic is the stage-1 trailer's constant tag, "SFXLZMA!" read as a
// little-endian u64.
const Magic uint64 = 0x5346584C5A4D4121

// Stage0Magic is the stage-0 wrapper trailer's constant tag, "SFX_ST0!"
// read as a little-endian u64.
const Stage0Magic uint64 = 0x5346585F53543021

// Size is the encoded byte length of a stage-1 Trailer.
const Size = 16

// Stage0Size is the encoded byte length of a Stage0Trailer.
const Stage0Size = 24

var (
	// ErrTooSmall is returned when fewer than Size (or Stage0Size) bytes
	// are available to decode a trailer from.
	ErrTooSmall = errors.New("trailer: region too small")
	// ErrBadMagic is returned when the decoded magic does not match the
	// expected constant.
	ErrBadMagic = errors.New("trailer: bad magic")
	// ErrBadLength is returned when a decoded length field is zero or
	// exceeds the total size of the container it was read from.
	ErrBadLength = errors.New("trailer: bad length")
)

// Trailer is the stage-1 SFX footer: the compressed payload's length in
// bytes, followed by the magic tag.
type Trailer struct {
	PayloadLen uint64
	Magic      uint64
}

// New builds a Trailer for a compressed payload of the given length.
func New(payloadLen uint64) Trailer {
	return Trailer{PayloadLen: payloadLen, Magic: Magic}
}

// Bytes encodes t as the 16-byte little-endian wire form.
func (t Trailer) Bytes() []byte {
	buf := make([]byte, Size)
	binary.LittleEndian.PutUint64(buf[0:8], t.PayloadLen)
	binary.LittleEndian.PutUint64(buf[8:16], t.Magic)
	return buf
}

// Decode parses a Trailer out of the last Size bytes of buf and validates
// it against totalLen, the full size of the container buf was read from
// (so PayloadLen can be checked against it).
func Decode(buf []byte, totalLen int64) (Trailer, error) {
	if len(buf) < Size {
		return Trailer{}, ErrTooSmall
	}
	tail := buf[len(buf)-Size:]
	t := Trailer{
		PayloadLen: binary.LittleEndian.Uint64(tail[0:8]),
		Magic:      binary.LittleEndian.Uint64(tail[8:16]),
	}
	if t.Magic != Magic {
		return Trailer{}, ErrBadMagic
	}
	if t.PayloadLen == 0 || totalLen < Size || t.PayloadLen > uint64(totalLen-Size) {
		return Trailer{}, ErrBadLength
	}
	return t, nil
}

// ReadFrom decodes a Trailer from the final Size bytes of r, where
// totalLen is the total readable length of r (used for PayloadLen bounds
// checking).
func ReadFrom(r io.ReaderAt, totalLen int64) (Trailer, error) {
	if totalLen < Size {
		return Trailer{}, ErrTooSmall
	}
	buf := make([]byte, Size)
	if _, err := r.ReadAt(buf, totalLen-Size); err != nil {
		return Trailer{}, err
	}
	return Decode(buf, totalLen)
}

// PayloadOffset returns the byte offset at which the compressed payload
// begins, given the total container size and a decoded Trailer.
func PayloadOffset(totalLen int64, t Trailer) int64 {
	return totalLen - Size - int64(t.PayloadLen)
}

// Stage0Trailer is the stage-0 outer-loader footer: the raw-deflate
// compressed length, the uncompressed length it must inflate to, and the
// magic tag.
type Stage0Trailer struct {
	CompressedLen   uint64
	UncompressedLen uint64
	Magic           uint64
}

// NewStage0 builds a Stage0Trailer for the given compressed/uncompressed
// lengths.
func NewStage0(compressedLen, uncompressedLen uint64) Stage0Trailer {
	return Stage0Trailer{
		CompressedLen:   compressedLen,
		UncompressedLen: uncompressedLen,
		Magic:           Stage0Magic,
	}
}

// Bytes encodes t as the 24-byte little-endian wire form.
func (t Stage0Trailer) Bytes() []byte {
	buf := make([]byte, Stage0Size)
	binary.LittleEndian.PutUint64(buf[0:8], t.CompressedLen)
	binary.LittleEndian.PutUint64(buf[8:16], t.UncompressedLen)
	binary.LittleEndian.PutUint64(buf[16:24], t.Magic)
	return buf
}

// DecodeStage0 parses a Stage0Trailer out of the last Stage0Size bytes of
// buf and validates it against totalLen.
func DecodeStage0(buf []byte, totalLen int64) (Stage0Trailer, error) {
	if len(buf) < Stage0Size {
		return Stage0Trailer{}, ErrTooSmall
	}
	tail := buf[len(buf)-Stage0Size:]
	t := Stage0Trailer{
		CompressedLen:   binary.LittleEndian.Uint64(tail[0:8]),
		UncompressedLen: binary.LittleEndian.Uint64(tail[8:16]),
		Magic:           binary.LittleEndian.Uint64(tail[16:24]),
	}
	if t.Magic != Stage0Magic {
		return Stage0Trailer{}, ErrBadMagic
	}
	if t.CompressedLen == 0 || totalLen < Stage0Size || t.CompressedLen > uint64(totalLen-Stage0Size) {
		return Stage0Trailer{}, ErrBadLength
	}
	if t.UncompressedLen == 0 {
		return Stage0Trailer{}, ErrBadLength
	}
	return t, nil
}

// ReadStage0From decodes a Stage0Trailer from the final Stage0Size bytes
// of r, where totalLen is the total readable length of r.
func ReadStage0From(r io.ReaderAt, totalLen int64) (Stage0Trailer, error) {
	if totalLen < Stage0Size {
		return Stage0Trailer{}, ErrTooSmall
	}
	buf := make([]byte, Stage0Size)
	if _, err := r.ReadAt(buf, totalLen-Stage0Size); err != nil {
		return Stage0Trailer{}, err
	}
	return DecodeStage0(buf, totalLen)
}

// Stage0PayloadOffset returns the byte offset at which the compressed
// payload begins, given the total container size and a decoded
// Stage0Trailer.
func Stage0PayloadOffset(totalLen int64, t Stage0Trailer) int64 {
	return totalLen - Stage0Size - int64(t.CompressedLen)
}
