package flash

import (
	"fmt"
	"sync"

	"github.com/ardnew/dfuboot/pkg"
)

// Emulated is an in-memory NOR flash covering addresses [0, region.End).
//
// Programming follows the table-write sequence of the hardware it stands
// in for: [Emulated.Stage] loads the write latch and [Emulated.Commit]
// runs one program cycle. A program cycle can only clear bits, so writing
// over data that was not erased yields the AND of old and new bytes.
type Emulated struct {
	region Region
	mem    []byte

	latch     []byte
	latchAddr uint32
	latchLen  int
	latched   bool

	erases int
	writes int

	mutex sync.Mutex
}

// NewEmulated returns a fully erased memory for region.
func NewEmulated(region Region) *Emulated {
	e := &Emulated{
		region: region,
		mem:    make([]byte, region.End),
		latch:  make([]byte, region.BlockSize),
	}
	for i := range e.mem {
		e.mem[i] = ErasedValue
	}
	return e
}

// Region returns the geometry the memory was created with.
func (e *Emulated) Region() Region {
	return e.region
}

// Erase implements [Memory]. addr must be page aligned.
func (e *Emulated) Erase(addr uint32) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if addr%e.region.PageSize != 0 {
		return fmt.Errorf("erase 0x%X: %w", addr, pkg.ErrAlignment)
	}
	end := uint64(addr) + uint64(e.region.PageSize)
	if end > uint64(len(e.mem)) {
		return fmt.Errorf("erase 0x%X: %w", addr, pkg.ErrOutOfRange)
	}
	for i := addr; i < uint32(end); i++ {
		e.mem[i] = ErasedValue
	}
	e.erases++
	pkg.LogDebug(pkg.ComponentFlash, "page erased", "addr", addr)
	return nil
}

// Write implements [Memory] as a single stage and commit.
func (e *Emulated) Write(addr uint32, data []byte) error {
	if err := e.Stage(addr, data); err != nil {
		return err
	}
	return e.Commit()
}

// Stage loads data into the write latch for a later [Emulated.Commit].
// A second Stage before Commit replaces the latch contents.
func (e *Emulated) Stage(addr uint32, data []byte) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if len(data) > len(e.latch) {
		return fmt.Errorf("stage %d bytes at 0x%X: %w", len(data), addr, pkg.ErrBlockSize)
	}
	if uint64(addr)+uint64(len(data)) > uint64(len(e.mem)) {
		return fmt.Errorf("stage 0x%X: %w", addr, pkg.ErrOutOfRange)
	}
	e.latchLen = copy(e.latch, data)
	e.latchAddr = addr
	e.latched = true
	return nil
}

// Commit programs the latched block.
func (e *Emulated) Commit() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if !e.latched {
		return fmt.Errorf("commit: %w", pkg.ErrInvalidState)
	}
	for i := 0; i < e.latchLen; i++ {
		e.mem[e.latchAddr+uint32(i)] &= e.latch[i]
	}
	e.latched = false
	e.writes++
	return nil
}

// Read implements [Memory].
func (e *Emulated) Read(addr uint32, buf []byte) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if uint64(addr)+uint64(len(buf)) > uint64(len(e.mem)) {
		return fmt.Errorf("read 0x%X: %w", addr, pkg.ErrOutOfRange)
	}
	copy(buf, e.mem[addr:])
	return nil
}

// Counts returns the number of completed erase and program cycles.
func (e *Emulated) Counts() (erases, writes int) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.erases, e.writes
}
