package winloader

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildMinimalPE assembles the smallest byte slice that passes Parse:
// a DOS header, an NT/COFF/optional header with one data directory
// table long enough to reach the base-relocation slot, and a single
// section header. It mirrors the builder pe_loader.rs's test module
// uses for its own "minimal PE" fixture.
func buildMinimalPE(t *testing.T, mutate func(b []byte)) []byte {
	t.Helper()

	const (
		lfanew        = 64
		coffOff       = lfanew + 4
		optOff        = coffOff + coffHeaderSize
		numDataDirs   = 6
		optHdrSize    = 112 + numDataDirs*8
		sectionsOff   = optOff + optHdrSize
		sectionRawOff = sectionsOff + sectionSize
	)

	buf := make([]byte, sectionRawOff+0x200)

	binary.LittleEndian.PutUint16(buf[0:], dosMagic)
	binary.LittleEndian.PutUint32(buf[60:], lfanew)

	binary.LittleEndian.PutUint32(buf[lfanew:], ntSignature)
	binary.LittleEndian.PutUint16(buf[coffOff+2:], 1) // NumberOfSections
	binary.LittleEndian.PutUint16(buf[coffOff+16:], uint16(optHdrSize))

	binary.LittleEndian.PutUint16(buf[optOff:], optMagicPE32Plus)
	binary.LittleEndian.PutUint32(buf[optOff+16:], 0x1000) // EntryPointRVA
	binary.LittleEndian.PutUint64(buf[optOff+24:], 0x140000000)
	binary.LittleEndian.PutUint32(buf[optOff+32:], 0x1000) // SectionAlignment
	binary.LittleEndian.PutUint32(buf[optOff+56:], 0x2000) // SizeOfImage, covers the section's 0x1000..0x1200
	binary.LittleEndian.PutUint32(buf[optOff+60:], uint32(sectionsOff)) // SizeOfHeaders
	binary.LittleEndian.PutUint32(buf[optOff+108:], numDataDirs)

	base := sectionsOff
	copy(buf[base:base+8], ".text\x00\x00\x00")
	binary.LittleEndian.PutUint32(buf[base+8:], 0x200)           // VirtualSize
	binary.LittleEndian.PutUint32(buf[base+12:], 0x1000)         // VirtualAddress
	binary.LittleEndian.PutUint32(buf[base+16:], 0x200)          // RawDataSize
	binary.LittleEndian.PutUint32(buf[base+20:], uint32(sectionRawOff)) // RawDataOffset
	binary.LittleEndian.PutUint32(buf[base+36:], 0x60000020)     // CODE|EXECUTE|READ

	if mutate != nil {
		mutate(buf)
	}
	return buf
}

func TestParseMinimalPE(t *testing.T) {
	buf := buildMinimalPE(t, nil)
	hdr, err := Parse(buf)
	require.NoError(t, err)
	require.Equal(t, uint64(0x140000000), hdr.ImageBase)
	require.Equal(t, uint32(0x1000), hdr.EntryPointRVA)
	require.Len(t, hdr.Sections, 1)
	require.Equal(t, uint32(0x1000), hdr.Sections[0].VirtualAddress)
}

func TestParseRejectsTooSmall(t *testing.T) {
	_, err := Parse(make([]byte, 10))
	require.ErrorIs(t, err, ErrLoaderRejected)
}

func TestParseRejectsEmpty(t *testing.T) {
	_, err := Parse(nil)
	require.ErrorIs(t, err, ErrLoaderRejected)
}

func TestParseRejectsBadDOSMagic(t *testing.T) {
	buf := buildMinimalPE(t, func(b []byte) {
		binary.LittleEndian.PutUint16(b[0:], 0x1234)
	})
	_, err := Parse(buf)
	require.ErrorIs(t, err, ErrLoaderRejected)
}

func TestParseRejectsBadNTSignature(t *testing.T) {
	buf := buildMinimalPE(t, func(b []byte) {
		binary.LittleEndian.PutUint32(b[64:], 0xDEADBEEF)
	})
	_, err := Parse(buf)
	require.ErrorIs(t, err, ErrLoaderRejected)
}

func TestParseRejectsBadOptionalMagic(t *testing.T) {
	buf := buildMinimalPE(t, func(b []byte) {
		binary.LittleEndian.PutUint16(b[64+4+coffHeaderSize:], 0x010B) // PE32, not PE32+
	})
	_, err := Parse(buf)
	require.ErrorIs(t, err, ErrLoaderRejected)
}

func TestParseRejectsOversizedLfanew(t *testing.T) {
	buf := buildMinimalPE(t, func(b []byte) {
		binary.LittleEndian.PutUint32(b[60:], uint32(len(b)+100))
	})
	_, err := Parse(buf)
	require.ErrorIs(t, err, ErrLoaderRejected)
}

func TestParseRejectsTooManySections(t *testing.T) {
	buf := buildMinimalPE(t, func(b []byte) {
		binary.LittleEndian.PutUint16(b[64+4+2:], maxSections+1)
	})
	_, err := Parse(buf)
	require.ErrorIs(t, err, ErrLoaderRejected)
}

func TestParseRejectsOptionalHeaderTooSmall(t *testing.T) {
	buf := buildMinimalPE(t, func(b []byte) {
		binary.LittleEndian.PutUint16(b[64+4+16:], 16)
	})
	_, err := Parse(buf)
	require.ErrorIs(t, err, ErrLoaderRejected)
}

func TestParseRejectsImplausibleSizeOfImage(t *testing.T) {
	buf := buildMinimalPE(t, func(b []byte) {
		const optOff = 64 + 4 + coffHeaderSize
		binary.LittleEndian.PutUint32(b[optOff+56:], 0)
	})
	_, err := Parse(buf)
	require.ErrorIs(t, err, ErrLoaderRejected)
}

func TestParseRejectsSectionExceedingImage(t *testing.T) {
	buf := buildMinimalPE(t, func(b []byte) {
		const optOff = 64 + 4 + coffHeaderSize
		binary.LittleEndian.PutUint32(b[optOff+56:], 0x1000) // shrink SizeOfImage below section range
	})
	_, err := Parse(buf)
	require.ErrorIs(t, err, ErrLoaderRejected)
}

func TestParseRejectsSectionRawDataExceedingSource(t *testing.T) {
	buf := buildMinimalPE(t, nil)
	truncated := buf[:len(buf)-0x100]
	_, err := Parse(truncated)
	require.ErrorIs(t, err, ErrLoaderRejected)
}

func TestParseRejectsTruncatedHeader(t *testing.T) {
	buf := buildMinimalPE(t, nil)
	_, err := Parse(buf[:70])
	require.ErrorIs(t, err, ErrLoaderRejected)
}

func TestSectionProtection(t *testing.T) {
	const (
		execute = 0x20000000
		read    = 0x40000000
		write   = 0x80000000
	)

	cases := []struct {
		name  string
		chars uint32
		want  uint32
	}{
		{"execute+write", execute | write, pageExecuteReadWrite},
		{"execute+read", execute | read, pageExecuteRead},
		{"execute only", execute, pageExecute},
		{"write only", write, pageReadWrite},
		{"read only", read, pageReadOnly},
		{"no flags", 0, pageNoAccess},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, sectionProtection(c.chars))
		})
	}
}
