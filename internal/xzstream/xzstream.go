// Package xzstream adapts github.com/ulikunitz/xz, a pure-Go XZ/LZMA2
// codec, to the container's compression contract: LZMA2 filter only (no
// BCJ pre-filter), streamed rather than buffered whole, so the stub never
// needs to hold two full copies of the payload in memory at once.
package xzstream

import (
	"errors"
	"io"

	"github.com/ulikunitz/xz"
)

// ErrDecompress wraps any failure surfaced by the underlying XZ reader,
// whether from a malformed stream or a CRC64 mismatch.
var ErrDecompress = errors.New("xzstream: decompression failed")

// dictCap is the maximum LZMA2 dictionary size the encoder will use,
// matching the original stub compressor's 64 MiB ceiling.
const dictCap = 64 << 20

// Decompress streams the XZ-framed LZMA2 region [offset, offset+length)
// of src and returns the fully inflated payload. The region is read
// through io.NewSectionReader so src can be any io.ReaderAt-backed source
// (the stubs pass the *os.File-backed selflocate.Self; tests pass an
// in-memory reader) without this function caring which.
func Decompress(src io.ReaderAt, offset, length int64) ([]byte, error) {
	sr := io.NewSectionReader(src, offset, length)
	zr, err := xz.NewReader(sr)
	if err != nil {
		return nil, errors.Join(ErrDecompress, err)
	}
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.Join(ErrDecompress, err)
	}
	return out, nil
}

// Compress writes data to w as an XZ stream with a CRC-64 check. The
// xz writer only ever emits the LZMA2 filter (it has no BCJ support), so
// the "no BCJ pre-filter" purity rule holds without further
// configuration; the LZMA2 dictionary capacity is sized to the input
// (rounded up to a power of two, never below the codec's 4 KiB minimum)
// and capped at 64 MiB to bound worst-case memory use on giant payloads.
func Compress(data []byte, w io.Writer) error {
	dictSize := nextPow2(len(data))
	if dictSize > dictCap {
		dictSize = dictCap
	}

	cfg := xz.WriterConfig{
		DictCap:  dictSize,
		CheckSum: xz.CRC64,
	}
	zw, err := cfg.NewWriter(w)
	if err != nil {
		return err
	}
	if _, err := zw.Write(data); err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

func nextPow2(n int) int {
	if n <= 0 {
		return 1 << 12
	}
	p := 1 << 12
	for p < n {
		p <<= 1
	}
	return p
}
