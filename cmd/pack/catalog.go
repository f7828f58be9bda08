package main

import (
	"embed"
	"fmt"
	"runtime"
)

// stubFS embeds whatever per-target stub binaries have been built into
// cmd/pack/stubs/ by the external cross-compilation pipeline (spec.md
// §1's boundary: this repo builds the stub runtime, not the matrix of
// compiled stub artifacts for every GOOS/GOARCH). stubs/README.txt is
// the only file guaranteed to exist, so a fresh checkout embeds
// cleanly even before any real stub has been dropped in.
//
//go:embed stubs
var stubFS embed.FS

// defaultTarget returns the host's own GOOS-GOARCH pair, the --target
// default for `pack build`.
func defaultTarget() string {
	return runtime.GOOS + "-" + runtime.GOARCH
}

// loadStub returns the catalogued stub bytes for target (a
// "GOOS-GOARCH" string, e.g. "linux-amd64", "windows-amd64",
// "darwin-arm64").
func loadStub(target string) ([]byte, error) {
	name := "stubs/" + target
	data, err := stubFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("no stub catalogued for target %q (expected %s, populated by the external build pipeline): %w", target, name, err)
	}
	return data, nil
}
