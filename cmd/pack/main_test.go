package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitTarget(t *testing.T) {
	goos, goarch, ok := splitTarget("linux-amd64")
	require.True(t, ok)
	require.Equal(t, "linux", goos)
	require.Equal(t, "amd64", goarch)
}

func TestSplitTargetDarwinArm64(t *testing.T) {
	goos, goarch, ok := splitTarget("darwin-arm64")
	require.True(t, ok)
	require.Equal(t, "darwin", goos)
	require.Equal(t, "arm64", goarch)
}

func TestSplitTargetRejectsMissingSeparator(t *testing.T) {
	_, _, ok := splitTarget("linuxamd64")
	require.False(t, ok)
}

func TestLoadStubReportsMissingTarget(t *testing.T) {
	_, err := loadStub("plan9-386")
	require.Error(t, err)
}
