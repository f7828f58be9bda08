//go:build darwin && cgo

// See main_linux.go's package doc: same contract, macOS mechanism.
// Linking requires cgo (the NSObjectFileImage functions that
// internal/loader/macholoader calls are C API only), so this file
// carries the same build constraint as the loader it calls.
package main

import (
	"os"

	"xsfx-pack/internal/loader/macholoader"
	"xsfx-pack/internal/selflocate"
	"xsfx-pack/internal/trailer"
	"xsfx-pack/internal/xzstream"
)

func main() {
	code, err := run()
	if err != nil {
		os.Stderr.WriteString("SFX stub error\n")
		os.Exit(1)
	}
	os.Exit(code)
}

func run() (int, error) {
	self, err := selflocate.Open()
	if err != nil {
		return 0, err
	}
	defer self.Close()

	t, err := trailer.ReadFrom(self, self.Len())
	if err != nil {
		return 0, err
	}

	offset := trailer.PayloadOffset(self.Len(), t)
	payload, err := xzstream.Decompress(self, offset, int64(t.PayloadLen))
	if err != nil {
		return 0, err
	}

	return macholoader.Run(payload, os.Args)
}
