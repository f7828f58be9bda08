//go:build windows

// See main_linux.go's package doc: same contract, Windows mechanism.
// Unlike the Linux stub, this one never replaces its own process image
// (there is no execveat equivalent the loader uses); it maps and jumps
// into the payload in-process and forwards the entry point's return
// value as its own exit code.
package main

import (
	"os"

	"xsfx-pack/internal/loader/winloader"
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

	return winloader.Run(payload)
}
