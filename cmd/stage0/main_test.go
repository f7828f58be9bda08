//go:build linux && amd64

package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLe64(t *testing.T) {
	buf := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	require.Equal(t, uint64(0x0807060504030201), le64(buf))
}

func TestLe64Zero(t *testing.T) {
	require.Equal(t, uint64(0), le64(make([]byte, 8)))
}

func TestCStringArrayTerminatesWithNil(t *testing.T) {
	ptrs, err := cStringArray([]string{"a", "bb"})
	require.NoError(t, err)
	require.Len(t, ptrs, 3)
	require.Nil(t, ptrs[2])
	require.Equal(t, byte('a'), *ptrs[0])
	require.Equal(t, byte('b'), *ptrs[1])
}

func TestCStringArrayEmpty(t *testing.T) {
	ptrs, err := cStringArray(nil)
	require.NoError(t, err)
	require.Len(t, ptrs, 1)
	require.Nil(t, ptrs[0])
}
