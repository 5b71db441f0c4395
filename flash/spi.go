//go:build tinygo

package flash

import (
	"fmt"
	"machine"

	"tinygo.org/x/drivers"
	spiflash "tinygo.org/x/drivers/flash"
)

// NewSPI configures an external SPI NOR chip and returns a Memory over it.
// Device offset 0 appears at base.
func NewSPI(bus drivers.SPI, sdo, sdi, sck, cs machine.Pin, base uint32) (*Block, Region, error) {
	dev := spiflash.NewSPI(bus, sdo, sdi, sck, cs)
	if err := dev.Configure(&spiflash.DeviceConfig{
		Identifier: spiflash.DefaultDeviceIdentifier,
	}); err != nil {
		return nil, Region{}, fmt.Errorf("configure spi flash: %w", err)
	}
	region := Region{
		Entry:     base,
		End:       base + uint32(dev.Size()),
		PageSize:  uint32(dev.EraseBlockSize()),
		BlockSize: uint32(dev.WriteBlockSize()),
	}
	return NewBlock(dev, base), region, nil
}
