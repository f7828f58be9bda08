//go:build linux

// Command stub is the stage-1 SFX entrypoint: it locates its own
// executable, reads the trailing container trailer, decompresses the
// embedded payload, and runs it without ever writing it to disk. On
// Linux the payload replaces the stub's own process image via
// execveat, so apart from the one possible error line below, this
// binary never itself produces any of the payload's output: it simply
// stops existing and the payload's process starts in its place.
package main

import (
	"os"

	"xsfx-pack/internal/loader/linuxloader"
	"xsfx-pack/internal/selflocate"
	"xsfx-pack/internal/trailer"
	"xsfx-pack/internal/xzstream"
)

func main() {
	if err := run(); err != nil {
		os.Stderr.WriteString("SFX stub error\n")
		os.Exit(1)
	}
}

func run() error {
	self, err := selflocate.Open()
	if err != nil {
		return err
	}
	defer self.Close()

	t, err := trailer.ReadFrom(self, self.Len())
	if err != nil {
		return err
	}

	offset := trailer.PayloadOffset(self.Len(), t)
	payload, err := xzstream.Decompress(self, offset, int64(t.PayloadLen))
	if err != nil {
		return err
	}

	return linuxloader.Exec(payload, os.Args[0], os.Args[1:], os.Environ())
}
