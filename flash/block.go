package flash

import (
	"fmt"

	"github.com/ardnew/dfuboot/pkg"
)

// BlockDevice is the block storage interface implemented by tinygo's
// machine.Flash and by tinygo.org/x/drivers/flash.Device.
type BlockDevice interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	EraseBlockSize() int64
	EraseBlocks(start, length int64) error
}

// Block adapts a [BlockDevice] to [Memory]. Memory address addr maps to
// device offset addr-base.
type Block struct {
	dev  BlockDevice
	base uint32
}

// NewBlock returns a Memory backed by dev, with device offset 0 at base.
func NewBlock(dev BlockDevice, base uint32) *Block {
	return &Block{dev: dev, base: base}
}

func (b *Block) offset(addr uint32) (int64, error) {
	if addr < b.base {
		return 0, fmt.Errorf("address 0x%X below device base 0x%X: %w", addr, b.base, pkg.ErrOutOfRange)
	}
	return int64(addr - b.base), nil
}

// Erase implements [Memory]. It erases the device block containing addr.
func (b *Block) Erase(addr uint32) error {
	off, err := b.offset(addr)
	if err != nil {
		return err
	}
	size := b.dev.EraseBlockSize()
	if size <= 0 {
		return fmt.Errorf("erase 0x%X: %w", addr, pkg.ErrInvalidParameter)
	}
	if err := b.dev.EraseBlocks(off/size, 1); err != nil {
		return fmt.Errorf("erase 0x%X: %w: %v", addr, pkg.ErrEraseFailed, err)
	}
	return nil
}

// Write implements [Memory].
func (b *Block) Write(addr uint32, data []byte) error {
	off, err := b.offset(addr)
	if err != nil {
		return err
	}
	n, err := b.dev.WriteAt(data, off)
	if err != nil {
		return fmt.Errorf("write 0x%X: %w: %v", addr, pkg.ErrWriteFailed, err)
	}
	if n != len(data) {
		return fmt.Errorf("write 0x%X: short write %d of %d: %w", addr, n, len(data), pkg.ErrWriteFailed)
	}
	return nil
}

// Read implements [Memory].
func (b *Block) Read(addr uint32, buf []byte) error {
	off, err := b.offset(addr)
	if err != nil {
		return err
	}
	n, err := b.dev.ReadAt(buf, off)
	if err != nil {
		return fmt.Errorf("read 0x%X: %w", addr, err)
	}
	if n != len(buf) {
		return fmt.Errorf("read 0x%X: short read %d of %d", addr, n, len(buf))
	}
	return nil
}
