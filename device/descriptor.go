package device

import (
	"encoding/binary"

	"github.com/ardnew/dfuboot/flash"
	"github.com/ardnew/dfuboot/pkg"
)

// Descriptor types (USB 2.0 Table 9-5, DFU 1.1 section 4.1.3).
const (
	DescriptorTypeDevice          = 0x01
	DescriptorTypeConfiguration   = 0x02
	DescriptorTypeString          = 0x03
	DescriptorTypeInterface       = 0x04
	DescriptorTypeEndpoint        = 0x05
	DescriptorTypeDeviceQualifier = 0x06
	DescriptorTypeDFUFunctional   = 0x21
)

// Interface class codes of a DFU-mode device.
const (
	ClassAppSpecific  = 0xFE
	SubClassDFU       = 0x01
	ProtocolDFUMode   = 0x02
	ConfigAttrDefault = 0x80 // Bus-powered, the only required attribute bit
)

// DFU functional descriptor attribute bits.
const (
	DFUAttrCanDnload             = 0x01
	DFUAttrCanUpload             = 0x02
	DFUAttrManifestationTolerant = 0x04
	DFUAttrWillDetach            = 0x08
)

// Descriptor sizes in bytes.
const (
	DeviceDescriptorSize        = 18
	ConfigurationDescriptorSize = 9
	InterfaceDescriptorSize     = 9
	DFUFunctionalDescriptorSize = 9
)

// LangIDUSEnglish is the language ID for US English.
const LangIDUSEnglish = 0x0409

// DeviceDescriptor represents a USB device descriptor.
type DeviceDescriptor struct {
	USBVersion        uint16 // bcdUSB
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	DeviceVersion     uint16 // bcdDevice
	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialNumberIndex uint8
	NumConfigurations uint8
}

// MarshalTo serializes the device descriptor to buf.
// Returns the number of bytes written (always 18 if buf is large enough).
func (d *DeviceDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < DeviceDescriptorSize {
		return 0
	}
	buf[0] = DeviceDescriptorSize
	buf[1] = DescriptorTypeDevice
	binary.LittleEndian.PutUint16(buf[2:], d.USBVersion)
	buf[4] = d.DeviceClass
	buf[5] = d.DeviceSubClass
	buf[6] = d.DeviceProtocol
	buf[7] = d.MaxPacketSize0
	binary.LittleEndian.PutUint16(buf[8:], d.VendorID)
	binary.LittleEndian.PutUint16(buf[10:], d.ProductID)
	binary.LittleEndian.PutUint16(buf[12:], d.DeviceVersion)
	buf[14] = d.ManufacturerIndex
	buf[15] = d.ProductIndex
	buf[16] = d.SerialNumberIndex
	buf[17] = d.NumConfigurations
	return DeviceDescriptorSize
}

// ParseDeviceDescriptor parses a device descriptor from data into out.
func ParseDeviceDescriptor(data []byte, out *DeviceDescriptor) error {
	if len(data) < DeviceDescriptorSize {
		return pkg.ErrDescriptorTooShort
	}
	if data[1] != DescriptorTypeDevice {
		return pkg.ErrDescriptorTypeMismatch
	}
	out.USBVersion = binary.LittleEndian.Uint16(data[2:])
	out.DeviceClass = data[4]
	out.DeviceSubClass = data[5]
	out.DeviceProtocol = data[6]
	out.MaxPacketSize0 = data[7]
	out.VendorID = binary.LittleEndian.Uint16(data[8:])
	out.ProductID = binary.LittleEndian.Uint16(data[10:])
	out.DeviceVersion = binary.LittleEndian.Uint16(data[12:])
	out.ManufacturerIndex = data[14]
	out.ProductIndex = data[15]
	out.SerialNumberIndex = data[16]
	out.NumConfigurations = data[17]
	return nil
}

// ConfigurationDescriptor represents the header of a configuration.
type ConfigurationDescriptor struct {
	TotalLength        uint16 // Length of the configuration and everything after it
	NumInterfaces      uint8
	ConfigurationValue uint8
	ConfigurationIndex uint8
	Attributes         uint8
	MaxPower           uint8 // 2 mA units
}

// MarshalTo serializes the configuration descriptor to buf.
// Returns the number of bytes written (always 9 if buf is large enough).
func (c *ConfigurationDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < ConfigurationDescriptorSize {
		return 0
	}
	buf[0] = ConfigurationDescriptorSize
	buf[1] = DescriptorTypeConfiguration
	binary.LittleEndian.PutUint16(buf[2:], c.TotalLength)
	buf[4] = c.NumInterfaces
	buf[5] = c.ConfigurationValue
	buf[6] = c.ConfigurationIndex
	buf[7] = c.Attributes
	buf[8] = c.MaxPower
	return ConfigurationDescriptorSize
}

// InterfaceDescriptor represents a USB interface descriptor.
type InterfaceDescriptor struct {
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	InterfaceIndex    uint8
}

// MarshalTo serializes the interface descriptor to buf.
// Returns the number of bytes written (always 9 if buf is large enough).
func (i *InterfaceDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < InterfaceDescriptorSize {
		return 0
	}
	buf[0] = InterfaceDescriptorSize
	buf[1] = DescriptorTypeInterface
	buf[2] = i.InterfaceNumber
	buf[3] = i.AlternateSetting
	buf[4] = i.NumEndpoints
	buf[5] = i.InterfaceClass
	buf[6] = i.InterfaceSubClass
	buf[7] = i.InterfaceProtocol
	buf[8] = i.InterfaceIndex
	return InterfaceDescriptorSize
}

// DFUFunctionalDescriptor represents the DFU functional descriptor that
// follows the DFU interface descriptor.
type DFUFunctionalDescriptor struct {
	Attributes    uint8
	DetachTimeout uint16 // Milliseconds
	TransferSize  uint16 // Maximum bytes per control write
	DFUVersion    uint16 // bcdDFUVersion
}

// MarshalTo serializes the functional descriptor to buf.
// Returns the number of bytes written (always 9 if buf is large enough).
func (f *DFUFunctionalDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < DFUFunctionalDescriptorSize {
		return 0
	}
	buf[0] = DFUFunctionalDescriptorSize
	buf[1] = DescriptorTypeDFUFunctional
	buf[2] = f.Attributes
	binary.LittleEndian.PutUint16(buf[3:], f.DetachTimeout)
	binary.LittleEndian.PutUint16(buf[5:], f.TransferSize)
	binary.LittleEndian.PutUint16(buf[7:], f.DFUVersion)
	return DFUFunctionalDescriptorSize
}

// StringDescriptorTo writes s to buf as a UTF-16LE string descriptor.
// Returns the number of bytes written, or 0 if buf is too small.
func StringDescriptorTo(buf []byte, s string) int {
	runes := []rune(s)
	if limit := (255 - 2) / 2; len(runes) > limit {
		runes = runes[:limit]
	}
	length := 2 + len(runes)*2
	if len(buf) < length {
		return 0
	}
	buf[0] = uint8(length)
	buf[1] = DescriptorTypeString
	for i, r := range runes {
		binary.LittleEndian.PutUint16(buf[2+i*2:], uint16(r))
	}
	return length
}

// LanguageDescriptorTo writes string descriptor zero listing langIDs.
// Returns the number of bytes written, or 0 if buf is too small.
func LanguageDescriptorTo(buf []byte, langIDs ...uint16) int {
	length := 2 + len(langIDs)*2
	if len(buf) < length {
		return 0
	}
	buf[0] = uint8(length)
	buf[1] = DescriptorTypeString
	for i, id := range langIDs {
		binary.LittleEndian.PutUint16(buf[2+i*2:], id)
	}
	return length
}

// Descriptors holds the serialized descriptor tables the standard request
// handler serves. Configurations is indexed by descriptor index, so entry
// 0 answers GET_DESCRIPTOR(CONFIGURATION, 0).
type Descriptors struct {
	Device         []byte
	Configurations [][]byte
	Strings        [][]byte
}

// Lookup returns the descriptor of the given type and index, or nil if
// the device has none.
func (d *Descriptors) Lookup(descType, index uint8) []byte {
	switch descType {
	case DescriptorTypeDevice:
		return d.Device
	case DescriptorTypeConfiguration:
		if int(index) < len(d.Configurations) {
			return d.Configurations[index]
		}
	case DescriptorTypeString:
		if int(index) < len(d.Strings) {
			return d.Strings[index]
		}
	}
	return nil
}

// NumConfigurations returns bNumConfigurations of the device descriptor.
func (d *Descriptors) NumConfigurations() uint8 {
	if len(d.Device) < DeviceDescriptorSize {
		return 0
	}
	return d.Device[17]
}

// DescriptorConfig parameterizes [BootDescriptors].
type DescriptorConfig struct {
	VendorID      uint16
	ProductID     uint16
	DeviceVersion uint16
	Manufacturer  string
	Product       string
	SerialNumber  string
	Configuration string
	Layout        string // Interface string, in DfuSe memory layout notation
	TransferSize  uint16
	DetachTimeout uint16
	MaxPower      uint8
}

// FlashLayout returns the DfuSe interface string describing region.
func FlashLayout(region flash.Region) string {
	return "@Internal Flash /" + region.String()
}

// DefaultDescriptorConfig returns the identity of the reference board,
// which enumerates as an STM32-compatible DFU device.
func DefaultDescriptorConfig() DescriptorConfig {
	return DescriptorConfig{
		VendorID:      0x0483,
		ProductID:     0xDF11,
		DeviceVersion: 0x011A,
		Manufacturer:  "ardnew",
		Product:       "DFU-Bootloader",
		SerialNumber:  "1",
		Configuration: "Default",
		Layout:        FlashLayout(flash.DefaultRegion()),
		TransferSize:  64,
		DetachTimeout: 0x00FF,
		MaxPower:      50,
	}
}

// String descriptor indices used by BootDescriptors.
const (
	stringLanguage = iota
	stringManufacturer
	stringProduct
	stringSerial
	stringConfiguration
	stringInterface
)

// BootDescriptors builds the descriptor tables of a single-configuration
// DFU-mode device from cfg.
func BootDescriptors(cfg DescriptorConfig) *Descriptors {
	dev := DeviceDescriptor{
		USBVersion:        0x0100,
		MaxPacketSize0:    MaxPacketSize0,
		VendorID:          cfg.VendorID,
		ProductID:         cfg.ProductID,
		DeviceVersion:     cfg.DeviceVersion,
		ManufacturerIndex: stringManufacturer,
		ProductIndex:      stringProduct,
		SerialNumberIndex: stringSerial,
		NumConfigurations: 1,
	}
	devBuf := make([]byte, DeviceDescriptorSize)
	dev.MarshalTo(devBuf)

	total := ConfigurationDescriptorSize + InterfaceDescriptorSize + DFUFunctionalDescriptorSize
	cfgBuf := make([]byte, total)
	n := (&ConfigurationDescriptor{
		TotalLength:        uint16(total),
		NumInterfaces:      1,
		ConfigurationValue: 1,
		ConfigurationIndex: stringConfiguration,
		Attributes:         ConfigAttrDefault,
		MaxPower:           cfg.MaxPower,
	}).MarshalTo(cfgBuf)
	n += (&InterfaceDescriptor{
		InterfaceClass:    ClassAppSpecific,
		InterfaceSubClass: SubClassDFU,
		InterfaceProtocol: ProtocolDFUMode,
		InterfaceIndex:    stringInterface,
	}).MarshalTo(cfgBuf[n:])
	(&DFUFunctionalDescriptor{
		Attributes:    DFUAttrCanDnload | DFUAttrCanUpload | DFUAttrWillDetach,
		DetachTimeout: cfg.DetachTimeout,
		TransferSize:  cfg.TransferSize,
		DFUVersion:    0x011A,
	}).MarshalTo(cfgBuf[n:])

	strs := make([][]byte, stringInterface+1)
	lang := make([]byte, 4)
	LanguageDescriptorTo(lang, LangIDUSEnglish)
	strs[stringLanguage] = lang
	for i, s := range []string{
		stringManufacturer:  cfg.Manufacturer,
		stringProduct:       cfg.Product,
		stringSerial:        cfg.SerialNumber,
		stringConfiguration: cfg.Configuration,
		stringInterface:     cfg.Layout,
	} {
		if i == stringLanguage {
			continue
		}
		buf := make([]byte, 2+2*len([]rune(s)))
		strs[i] = buf[:StringDescriptorTo(buf, s)]
	}

	return &Descriptors{
		Device:         devBuf,
		Configurations: [][]byte{cfgBuf},
		Strings:        strs,
	}
}
