package trailer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrailerRoundTrip(t *testing.T) {
	for _, size := range []uint64{0x1, 0x10, 0x100, 0x1000, 0xFFFFFFFF} {
		tr := New(size)
		buf := tr.Bytes()
		require.Len(t, buf, Size)

		total := int64(Size) + int64(size) + 100
		decoded, err := Decode(buf, total)
		require.NoError(t, err)
		require.Equal(t, size, decoded.PayloadLen)
		require.Equal(t, Magic, decoded.Magic)
	}
}

func TestTrailerPreservesStubOffset(t *testing.T) {
	stub := bytes.Repeat([]byte{0xAB}, 4096)
	payload := bytes.Repeat([]byte{0xCD}, 128)
	tr := New(uint64(len(payload)))

	sfx := append(append(append([]byte{}, stub...), payload...), tr.Bytes()...)

	decoded, err := ReadFrom(bytes.NewReader(sfx), int64(len(sfx)))
	require.NoError(t, err)

	offset := PayloadOffset(int64(len(sfx)), decoded)
	require.Equal(t, int64(len(stub)), offset)
	require.Equal(t, payload, sfx[offset:offset+int64(decoded.PayloadLen)])
}

func TestSecCorruptedTrailerMagic(t *testing.T) {
	tr := New(10)
	buf := tr.Bytes()
	buf[8] ^= 0xFF
	_, err := Decode(buf, 100)
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestSecPayloadLengthExceedsContainer(t *testing.T) {
	tr := New(1_000_000)
	buf := tr.Bytes()
	_, err := Decode(buf, 100)
	require.ErrorIs(t, err, ErrBadLength)
}

func TestSecZeroPayloadLength(t *testing.T) {
	tr := New(0)
	buf := tr.Bytes()
	_, err := Decode(buf, 100)
	require.ErrorIs(t, err, ErrBadLength)
}

func TestSecMaxPayloadLength(t *testing.T) {
	tr := New(^uint64(0))
	buf := tr.Bytes()
	_, err := Decode(buf, 100)
	require.ErrorIs(t, err, ErrBadLength)
}

func TestSecPayloadLengthEqualsContainer(t *testing.T) {
	tr := New(100)
	buf := tr.Bytes()
	_, err := Decode(buf, 100)
	require.ErrorIs(t, err, ErrBadLength)
}

func TestSecPayloadLengthEqualsContainerMinusTrailer(t *testing.T) {
	tr := New(100 - Size + 1)
	buf := tr.Bytes()
	_, err := Decode(buf, 100)
	require.ErrorIs(t, err, ErrBadLength)
}

func TestSecTooSmall(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3}, 100)
	require.ErrorIs(t, err, ErrTooSmall)

	_, err = ReadFrom(bytes.NewReader([]byte{1, 2, 3}), 3)
	require.ErrorIs(t, err, ErrTooSmall)
}

func TestSecEmptyTrailer(t *testing.T) {
	_, err := Decode(nil, 0)
	require.ErrorIs(t, err, ErrTooSmall)
}

func TestStage0TrailerRoundTrip(t *testing.T) {
	tr := NewStage0(1234, 5678)
	buf := tr.Bytes()
	require.Len(t, buf, Stage0Size)

	decoded, err := DecodeStage0(buf, int64(Stage0Size)+1234)
	require.NoError(t, err)
	require.Equal(t, uint64(1234), decoded.CompressedLen)
	require.Equal(t, uint64(5678), decoded.UncompressedLen)
	require.Equal(t, Stage0Magic, decoded.Magic)
}

func TestStage0PreservesPayloadOffset(t *testing.T) {
	outer := bytes.Repeat([]byte{0x11}, 512)
	payload := bytes.Repeat([]byte{0x22}, 64)
	tr := NewStage0(uint64(len(payload)), 256)

	blob := append(append(append([]byte{}, outer...), payload...), tr.Bytes()...)

	decoded, err := ReadStage0From(bytes.NewReader(blob), int64(len(blob)))
	require.NoError(t, err)

	offset := Stage0PayloadOffset(int64(len(blob)), decoded)
	require.Equal(t, int64(len(outer)), offset)
}

func TestSecStage0BadMagic(t *testing.T) {
	tr := NewStage0(10, 20)
	buf := tr.Bytes()
	buf[16] ^= 0xFF
	_, err := DecodeStage0(buf, 100)
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestSecStage0ZeroUncompressedLen(t *testing.T) {
	tr := NewStage0(10, 0)
	buf := tr.Bytes()
	_, err := DecodeStage0(buf, 100)
	require.ErrorIs(t, err, ErrBadLength)
}

func TestSecStage0CompressedLenExceedsContainer(t *testing.T) {
	tr := NewStage0(1_000_000, 20)
	buf := tr.Bytes()
	_, err := DecodeStage0(buf, 100)
	require.ErrorIs(t, err, ErrBadLength)
}

func TestSecStage0CompressedLenEqualsContainer(t *testing.T) {
	tr := NewStage0(100, 20)
	buf := tr.Bytes()
	_, err := DecodeStage0(buf, 100)
	require.ErrorIs(t, err, ErrBadLength)
}

func TestSecStage0CompressedLenEqualsContainerMinusTrailer(t *testing.T) {
	tr := NewStage0(100-Stage0Size+1, 20)
	buf := tr.Bytes()
	_, err := DecodeStage0(buf, 100)
	require.ErrorIs(t, err, ErrBadLength)
}
