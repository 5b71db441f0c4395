// Command dfuload programs an Intel HEX image into a device running the
// DFU bootloader, or reads the application region back out.
//
// Usage:
//
//	dfuload [options] image.hex
//	dfuload [options] -read out.hex
//
// Options:
//
//	-vid id        USB vendor ID in hex (default: 0483)
//	-pid id        USB product ID in hex (default: df11)
//	-erase mode    "mass", "pages" or "none" (default: pages)
//	-verify        Read the image back after programming (default: true)
//	-manifest      Start the application when done (default: true)
//	-read file     Write the application region to file instead of programming
//	-v             Enable verbose (debug) logging
//	-json          Use JSON log format
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/google/gousb"
	"github.com/pkg/errors"

	"github.com/ardnew/dfuboot/flash"
	"github.com/ardnew/dfuboot/host"
	"github.com/ardnew/dfuboot/host/libusb"
	"github.com/ardnew/dfuboot/pkg"
)

const component = pkg.ComponentHost

func main() {
	vid := flag.String("vid", "0483", "USB vendor ID in hex")
	pid := flag.String("pid", "df11", "USB product ID in hex")
	erase := flag.String("erase", "pages", `erase mode: "mass", "pages" or "none"`)
	verify := flag.Bool("verify", true, "read the image back after programming")
	manifest := flag.Bool("manifest", true, "start the application when done")
	readFile := flag.String("read", "", "write the application region to this file")
	verbose := flag.Bool("v", false, "enable verbose (debug) logging")
	jsonLog := flag.Bool("json", false, "use JSON log format")
	flag.Parse()

	if *verbose {
		pkg.SetLogLevel(slog.LevelDebug)
	}
	if *jsonLog {
		pkg.SetLogFormat(pkg.LogFormatJSON)
	}

	if *readFile == "" && flag.NArg() < 1 {
		pkg.LogError(component, "missing image argument",
			"usage", "dfuload [options] image.hex | dfuload [options] -read out.hex")
		os.Exit(2)
	}

	vendor, err := parseID(*vid)
	if err != nil {
		pkg.LogError(component, "bad vendor ID", "error", err)
		os.Exit(2)
	}
	product, err := parseID(*pid)
	if err != nil {
		pkg.LogError(component, "bad product ID", "error", err)
		os.Exit(2)
	}

	dev, err := libusb.Open(vendor, product, host.WithProgress(printProgress))
	if err != nil {
		pkg.LogError(component, "open device", "error", err)
		os.Exit(1)
	}
	defer dev.Close()

	region := deviceRegion(dev)

	if *readFile != "" {
		err = read(dev, region, *readFile)
	} else {
		err = program(dev, region, flag.Arg(0), *erase, *verify, *manifest)
	}
	if err != nil {
		pkg.LogError(component, "failed", "error", err)
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		dev.Close()
		os.Exit(1)
	}
}

func parseID(s string) (gousb.ID, error) {
	v, err := strconv.ParseUint(s, 16, 16)
	return gousb.ID(v), err
}

// deviceRegion reads the memory layout from the interface string,
// falling back to the default geometry.
func deviceRegion(dev *libusb.Device) flash.Region {
	layout, err := dev.Layout()
	if err == nil {
		region, perr := flash.ParseLayout(layout)
		if perr == nil {
			pkg.LogInfo(component, "device layout", "layout", layout, "region", region)
			return region
		}
		err = perr
	}
	pkg.LogWarn(component, "using default layout", "error", err)
	return flash.DefaultRegion()
}

func program(dev *libusb.Device, region flash.Region, name, erase string, verify, manifest bool) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	segs, err := flash.ParseHex(f, region)
	if err != nil {
		return errors.Wrap(err, name)
	}
	if len(segs) == 0 {
		return errors.Errorf("%s: no data inside %s", name, region)
	}

	switch erase {
	case "mass":
		if err := dev.MassErase(); err != nil {
			return err
		}
	case "pages":
		for _, s := range segs {
			for page := region.PageBase(s.Address); page < s.End(); page += region.PageSize {
				if err := dev.ErasePage(page); err != nil {
					return err
				}
			}
		}
	case "none":
	default:
		return errors.Errorf("unknown erase mode %q", erase)
	}

	for _, s := range segs {
		if err := dev.WriteImage(s.Address, s.Data); err != nil {
			return err
		}
	}

	if verify {
		last := segs[len(segs)-1].End()
		image := make([]byte, last-region.Entry)
		n, err := dev.ReadImage(image)
		if err != nil {
			return errors.Wrap(err, "verify")
		}
		for _, s := range segs {
			off := s.Address - region.Entry
			if int(off)+len(s.Data) > n || !bytes.Equal(image[off:int(off)+len(s.Data)], s.Data) {
				return errors.Errorf("verify: segment at 0x%X differs", s.Address)
			}
		}
		pkg.LogInfo(component, "verified", "bytes", n)
	}

	if manifest {
		return dev.Manifest(region.Entry)
	}
	return nil
}

func read(dev *libusb.Device, region flash.Region, name string) error {
	image := make([]byte, region.Size())
	n, err := dev.ReadImage(image)
	if err != nil {
		return err
	}

	// Trailing erased bytes carry no image data.
	for n > 0 && image[n-1] == flash.ErasedValue {
		n--
	}
	segs := []flash.Segment{{Address: region.Entry, Data: image[:n]}}

	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := flash.EncodeHex(f, segs, region.Entry); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printProgress(p host.Progress) {
	fmt.Fprintf(os.Stderr, "\r%s %d/%d bytes", p.Op, p.Done, p.Total)
	if p.Done == p.Total {
		fmt.Fprintln(os.Stderr)
	}
}
