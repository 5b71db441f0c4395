//go:build tinygo

package flash

import "machine"

// NewMachine returns a Memory over the on-chip flash of the running
// target. Addresses are absolute; the first byte of the data area is at
// machine.FlashDataStart.
func NewMachine() *Block {
	return NewBlock(machine.Flash, uint32(machine.FlashDataStart()))
}

// MachineRegion returns a region spanning the on-chip data area, with
// pages sized to the device erase block.
func MachineRegion() Region {
	start := uint32(machine.FlashDataStart())
	return Region{
		Entry:     start,
		End:       uint32(machine.FlashDataEnd()),
		PageSize:  uint32(machine.Flash.EraseBlockSize()),
		BlockSize: uint32(machine.Flash.WriteBlockSize()),
	}
}
