package flash

import (
	"fmt"
	"io"

	"github.com/marcinbor85/gohex"

	"github.com/ardnew/dfuboot/pkg"
)

// hexLineLength is the number of data bytes per Intel HEX record written.
const hexLineLength = 16

// Segment is a contiguous run of image bytes.
type Segment struct {
	Address uint32
	Data    []byte
}

// End returns one past the last address of the segment.
func (s Segment) End() uint32 {
	return s.Address + uint32(len(s.Data))
}

// ParseHex reads an Intel HEX image and returns its data segments clipped
// to region. Bytes outside region are dropped, so images that also carry
// bootloader or configuration words can be loaded unchanged.
func ParseHex(r io.Reader, region Region) ([]Segment, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, fmt.Errorf("parse hex: %w", err)
	}

	var segs []Segment
	for _, ds := range mem.GetDataSegments() {
		start, data := ds.Address, ds.Data
		if start < region.Entry {
			skip := region.Entry - start
			if uint32(len(data)) <= skip {
				continue
			}
			data = data[skip:]
			start = region.Entry
		}
		n := region.Clip(start, len(data))
		if n == 0 {
			continue
		}
		if n < len(data) {
			pkg.LogWarn(pkg.ComponentFlash, "hex segment clipped at region end",
				"addr", start, "dropped", len(data)-n)
		}
		segs = append(segs, Segment{Address: start, Data: data[:n]})
	}
	return segs, nil
}

// LoadHex programs an Intel HEX image into mem. Every page touched by the
// image is erased first. It returns the number of bytes programmed.
func LoadHex(r io.Reader, mem Memory, region Region) (int, error) {
	segs, err := ParseHex(r, region)
	if err != nil {
		return 0, err
	}

	erased := make(map[uint32]bool)
	for _, s := range segs {
		for page := region.PageBase(s.Address); page < s.End(); page += region.PageSize {
			if erased[page] {
				continue
			}
			if err := mem.Erase(page); err != nil {
				return 0, err
			}
			erased[page] = true
		}
	}

	total := 0
	for _, s := range segs {
		for off := 0; off < len(s.Data); off += int(region.BlockSize) {
			end := off + int(region.BlockSize)
			if end > len(s.Data) {
				end = len(s.Data)
			}
			if err := mem.Write(s.Address+uint32(off), s.Data[off:end]); err != nil {
				return total, err
			}
			total += end - off
		}
	}
	pkg.LogInfo(pkg.ComponentFlash, "hex image loaded", "segments", len(segs), "bytes", total)
	return total, nil
}

// EncodeHex writes segments as an Intel HEX image with entry as the start
// address record.
func EncodeHex(w io.Writer, segs []Segment, entry uint32) error {
	mem := gohex.NewMemory()
	mem.SetStartAddress(entry)
	for _, s := range segs {
		if err := mem.AddBinary(s.Address, s.Data); err != nil {
			return fmt.Errorf("add segment 0x%X: %w", s.Address, err)
		}
	}
	if err := mem.DumpIntelHex(w, hexLineLength); err != nil {
		return fmt.Errorf("dump hex: %w", err)
	}
	return nil
}

// DumpHex reads region from mem and writes the pages that are not blank
// as an Intel HEX image.
func DumpHex(w io.Writer, mem Memory, region Region) error {
	segs, err := ReadSegments(mem, region)
	if err != nil {
		return err
	}
	return EncodeHex(w, segs, region.Entry)
}

// ReadSegments reads region from mem and returns the non-blank pages,
// merging adjacent pages into one segment.
func ReadSegments(mem Memory, region Region) ([]Segment, error) {
	var segs []Segment
	page := make([]byte, region.PageSize)
	for addr := region.Entry; addr < region.End; addr += region.PageSize {
		if err := mem.Read(addr, page); err != nil {
			return nil, err
		}
		if Blank(page) {
			continue
		}
		if n := len(segs); n > 0 && segs[n-1].End() == addr {
			segs[n-1].Data = append(segs[n-1].Data, page...)
			continue
		}
		segs = append(segs, Segment{Address: addr, Data: append([]byte(nil), page...)})
	}
	return segs, nil
}

// Blank reports whether every byte of data is ErasedValue.
func Blank(data []byte) bool {
	for _, b := range data {
		if b != ErasedValue {
			return false
		}
	}
	return true
}
