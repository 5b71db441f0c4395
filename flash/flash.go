package flash

import (
	"fmt"
	"strings"
)

// Default geometry of the application area.
const (
	DefaultEntry     = 0x4000 // First address of the resident application
	DefaultEnd       = 0x8000 // One past the last programmable address
	DefaultPageSize  = 64     // Erase granularity in bytes
	DefaultBlockSize = 32     // Write latch size in bytes
)

// ErasedValue is the content of every byte of an erased page.
const ErasedValue = 0xFF

// Memory is the set of primitives the command executor drives.
//
// Implementations operate synchronously: each call returns once the
// hardware cycle has completed. They perform no range checks beyond what
// the hardware itself enforces; callers validate addresses against a
// [Region] first.
type Memory interface {
	// Erase sets every byte of the page starting at addr to ErasedValue.
	Erase(addr uint32) error

	// Write programs one block of at most the write block size at addr.
	Write(addr uint32, data []byte) error

	// Read copies len(buf) bytes starting at addr into buf.
	Read(addr uint32, buf []byte) error
}

// Region describes the part of program memory the bootloader may modify.
type Region struct {
	Entry     uint32 // First programmable address, where the application starts
	End       uint32 // One past the last programmable address
	PageSize  uint32 // Erase page size
	BlockSize uint32 // Write block size
}

// DefaultRegion returns the region of a 32 KiB part with the bootloader in
// the first 16 KiB.
func DefaultRegion() Region {
	return Region{
		Entry:     DefaultEntry,
		End:       DefaultEnd,
		PageSize:  DefaultPageSize,
		BlockSize: DefaultBlockSize,
	}
}

// Contains reports whether addr lies in [Entry, End).
func (r Region) Contains(addr uint32) bool {
	return addr >= r.Entry && addr < r.End
}

// Size returns the number of programmable bytes.
func (r Region) Size() uint32 {
	if r.End <= r.Entry {
		return 0
	}
	return r.End - r.Entry
}

// Pages returns the number of erase pages in the region.
func (r Region) Pages() int {
	if r.PageSize == 0 {
		return 0
	}
	return int(r.Size() / r.PageSize)
}

// PageBase returns the start of the page containing addr.
func (r Region) PageBase(addr uint32) uint32 {
	if r.PageSize == 0 {
		return addr
	}
	return addr - addr%r.PageSize
}

// Clip returns n reduced so that [addr, addr+n) does not pass End.
func (r Region) Clip(addr uint32, n int) int {
	if addr >= r.End {
		return 0
	}
	if avail := r.End - addr; uint32(n) > avail {
		return int(avail)
	}
	return n
}

// Validate checks that the geometry is usable.
func (r Region) Validate() error {
	switch {
	case r.PageSize == 0 || r.BlockSize == 0:
		return fmt.Errorf("flash region: zero page or block size")
	case r.End <= r.Entry:
		return fmt.Errorf("flash region: end 0x%X not above entry 0x%X", r.End, r.Entry)
	case r.Entry%r.PageSize != 0 || r.End%r.PageSize != 0:
		return fmt.Errorf("flash region: bounds not aligned to %d byte pages", r.PageSize)
	case r.PageSize%r.BlockSize != 0:
		return fmt.Errorf("flash region: page size %d not a multiple of block size %d", r.PageSize, r.BlockSize)
	}
	return nil
}

// String returns the region in DfuSe memory layout notation.
func (r Region) String() string {
	return fmt.Sprintf("0x%04X/%d*%03dBg", r.Entry, r.Pages(), r.PageSize)
}

// ParseLayout reads a DfuSe memory layout string such as
// "@Internal Flash /0x4000/256*064Bg" into a region. Only the first
// sector group is used. The block size is DefaultBlockSize, or the page
// size when that is smaller.
func ParseLayout(s string) (Region, error) {
	i := strings.Index(s, "0x")
	if i < 0 {
		return Region{}, fmt.Errorf("layout %q: no start address", s)
	}
	var (
		entry, pages, size uint32
		unit               rune
	)
	if _, err := fmt.Sscanf(s[i:], "0x%x/%d*%d%c", &entry, &pages, &size, &unit); err != nil {
		return Region{}, fmt.Errorf("layout %q: %w", s, err)
	}
	switch unit {
	case 'B':
	case 'K':
		size <<= 10
	case 'M':
		size <<= 20
	default:
		return Region{}, fmt.Errorf("layout %q: unknown size unit %q", s, unit)
	}
	r := Region{
		Entry:     entry,
		End:       entry + pages*size,
		PageSize:  size,
		BlockSize: min(DefaultBlockSize, size),
	}
	return r, r.Validate()
}
