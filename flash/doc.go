// Package flash provides the program memory primitives of the bootloader.
//
// A [Memory] erases pages, writes blocks and reads bytes. It does no
// address validation of its own; the DFU command executor checks every
// address against a [Region] before calling it.
//
// # Backends
//
//   - [Emulated]: in-memory NOR flash with a stage/commit write latch
//   - [Block]: any block device with ReadAt/WriteAt/EraseBlocks
//   - NewMachine and NewSPI (tinygo only): on-chip flash and external
//     SPI NOR through tinygo.org/x/drivers/flash
//
// # Images
//
// [LoadHex], [DumpHex] and [ParseHex] move Intel HEX images in and out of
// a Memory using github.com/marcinbor85/gohex.
package flash
