// Command pack builds and inspects self-extracting executables: it
// prepends a catalogued stub binary to an LZMA2-compressed payload and
// appends the container's trailer. Cross-compiling the stub catalog
// itself is a separate, external build pipeline (spec.md §1); this
// command only ever consumes it.
package main

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"xsfx-pack/internal/elf"
	"xsfx-pack/internal/trailer"
	"xsfx-pack/internal/xzstream"
)

func main() {
	app := &cli.App{
		Name:        "pack",
		Usage:       "build and inspect self-extracting executables",
		Description: "xsfx-pack compresses a payload and wraps it in a stub runtime that runs it entirely in memory",
		Version:     "v0.1.0",
		Compiled:    time.Now(),
		Commands: []*cli.Command{
			{
				Name:  "build",
				Usage: "compress a payload and attach a stub",
				Flags: []cli.Flag{
					&cli.PathFlag{
						Name:     "payload",
						Aliases:  []string{"p"},
						Usage:    "Input payload executable",
						Required: true,
					},
					&cli.StringFlag{
						Name:        "target",
						Aliases:     []string{"t"},
						Usage:       "GOOS-GOARCH of the catalogued stub to attach",
						DefaultText: defaultTarget(),
					},
					&cli.PathFlag{
						Name:     "output",
						Aliases:  []string{"o"},
						Usage:    "Output SFX path",
						Required: true,
					},
				},
				Before: func(cCtx *cli.Context) error {
					payload := cCtx.Path("payload")
					if _, err := os.Stat(payload); err != nil {
						_ = cli.ShowSubcommandHelp(cCtx)
						return cli.Exit(fmt.Sprintf("payload does not exist: %v", err), 2)
					}

					output := cCtx.Path("output")
					if _, err := os.Stat(output); !os.IsNotExist(err) {
						_ = cli.ShowSubcommandHelp(cCtx)
						return cli.Exit("output file already exists", 2)
					}

					return nil
				},
				Action: buildAction,
			},
			{
				Name:  "inspect",
				Usage: "report the stub/payload/trailer layout of an SFX",
				Flags: []cli.Flag{
					&cli.PathFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "SFX to inspect",
						Required: true,
					},
				},
				Before: func(cCtx *cli.Context) error {
					if _, err := os.Stat(cCtx.Path("file")); err != nil {
						_ = cli.ShowSubcommandHelp(cCtx)
						return cli.Exit(fmt.Sprintf("file does not exist: %v", err), 2)
					}
					return nil
				},
				Action: inspectAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func buildAction(cCtx *cli.Context) error {
	payloadPath := cCtx.Path("payload")
	outputPath := cCtx.Path("output")
	target := cCtx.String("target")
	if target == "" {
		target = defaultTarget()
	}

	spinner, _ := pterm.DefaultSpinner.Start("reading payload")
	payload, err := os.ReadFile(payloadPath)
	if err != nil {
		spinner.Fail(err)
		return err
	}

	if goos, _, ok := splitTarget(target); ok && goos == "linux" {
		if err := elf.Validate(payload); err != nil {
			spinner.Fail("payload failed ELF validation")
			return err
		}
	}

	spinner.UpdateText("loading stub for " + target)
	stub, err := loadStub(target)
	if err != nil {
		spinner.Fail(err)
		return err
	}

	spinner.UpdateText("compressing payload")
	buf := &bytes.Buffer{}
	if err := xzstream.Compress(payload, buf); err != nil {
		spinner.Fail(err)
		return err
	}

	t := trailer.New(uint64(buf.Len()))

	spinner.UpdateText("writing " + outputPath)
	out, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0755)
	if err != nil {
		spinner.Fail(err)
		return err
	}
	defer out.Close()

	if _, err := out.Write(stub); err != nil {
		spinner.Fail(err)
		return err
	}
	if _, err := out.Write(buf.Bytes()); err != nil {
		spinner.Fail(err)
		return err
	}
	if _, err := out.Write(t.Bytes()); err != nil {
		spinner.Fail(err)
		return err
	}

	spinner.Success(fmt.Sprintf("wrote %s: %d byte stub + %d byte payload + %d byte trailer",
		outputPath, len(stub), buf.Len(), trailer.Size))
	return nil
}

func inspectAction(cCtx *cli.Context) error {
	filePath := cCtx.Path("file")
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	totalLen := info.Size()

	t, err := trailer.ReadFrom(f, totalLen)
	if err != nil {
		pterm.Error.Printfln("%s: not a valid SFX trailer: %v", filePath, err)
		return err
	}

	payloadOffset := trailer.PayloadOffset(totalLen, t)
	stubSize := payloadOffset

	pterm.DefaultTable.WithData(pterm.TableData{
		{"field", "value"},
		{"file", filePath},
		{"total size", fmt.Sprintf("%d", totalLen)},
		{"stub size", fmt.Sprintf("%d", stubSize)},
		{"compressed payload size", fmt.Sprintf("%d", t.PayloadLen)},
		{"trailer magic", fmt.Sprintf("%#x", t.Magic)},
	}).Render()

	return nil
}

func splitTarget(target string) (goos, goarch string, ok bool) {
	for i := len(target) - 1; i >= 0; i-- {
		if target[i] == '-' {
			return target[:i], target[i+1:], true
		}
	}
	return "", "", false
}
