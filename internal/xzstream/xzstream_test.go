package xzstream

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompressDecompressRoundtrip(t *testing.T) {
	original := []byte("Hello, decompression!")

	var buf bytes.Buffer
	require.NoError(t, Compress(original, &buf))

	got, err := Decompress(bytes.NewReader(buf.Bytes()), 0, int64(buf.Len()))
	require.NoError(t, err)
	require.Equal(t, original, got)
}

func TestRoundtripVariousSizes(t *testing.T) {
	for _, size := range []int{0, 1, 100, 1000, 10_000} {
		original := bytes.Repeat([]byte{0xAB}, size)

		var buf bytes.Buffer
		require.NoError(t, Compress(original, &buf))

		got, err := Decompress(bytes.NewReader(buf.Bytes()), 0, int64(buf.Len()))
		require.NoError(t, err, "size %d", size)
		require.Equal(t, original, got, "size %d", size)
	}
}

func TestDecompressEmbeddedInLargerBuffer(t *testing.T) {
	prefix := bytes.Repeat([]byte{0x11}, 64)
	original := []byte("payload embedded after a stub region")

	var compressed bytes.Buffer
	require.NoError(t, Compress(original, &compressed))

	suffix := []byte{0, 1, 2, 3}
	blob := append(append(append([]byte{}, prefix...), compressed.Bytes()...), suffix...)

	got, err := Decompress(bytes.NewReader(blob), int64(len(prefix)), int64(compressed.Len()))
	require.NoError(t, err)
	require.Equal(t, original, got)
}

func TestSecDecompressInvalidData(t *testing.T) {
	bad := bytes.Repeat([]byte{0xFF}, 100)
	_, err := Decompress(bytes.NewReader(bad), 0, int64(len(bad)))
	require.ErrorIs(t, err, ErrDecompress)
}

func TestSecDecompressEmptyInput(t *testing.T) {
	_, err := Decompress(bytes.NewReader(nil), 0, 0)
	require.ErrorIs(t, err, ErrDecompress)
}

func TestSecDecompressTruncatedStream(t *testing.T) {
	original := []byte("data to truncate")
	var buf bytes.Buffer
	require.NoError(t, Compress(original, &buf))

	truncated := buf.Bytes()[:buf.Len()/2]
	_, err := Decompress(bytes.NewReader(truncated), 0, int64(len(truncated)))
	require.ErrorIs(t, err, ErrDecompress)
}

func TestSecDecompressPartialHeader(t *testing.T) {
	partial := []byte{0xFD, 0x37, 0x7A, 0x58, 0x5A, 0x00}
	_, err := Decompress(bytes.NewReader(partial), 0, int64(len(partial)))
	require.ErrorIs(t, err, ErrDecompress)
}

func TestSecDecompressRandomBytes(t *testing.T) {
	random := make([]byte, 256)
	for i := range random {
		random[i] = byte(i*37 + 13)
	}
	_, err := Decompress(bytes.NewReader(random), 0, int64(len(random)))
	require.ErrorIs(t, err, ErrDecompress)
}
