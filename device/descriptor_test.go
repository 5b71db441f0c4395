package device

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ardnew/dfuboot/flash"
	"github.com/ardnew/dfuboot/pkg"
)

func TestDeviceDescriptor_RoundTrip(t *testing.T) {
	want := DeviceDescriptor{
		USBVersion:        0x0200,
		MaxPacketSize0:    64,
		VendorID:          0x1234,
		ProductID:         0x5678,
		DeviceVersion:     0x0100,
		ManufacturerIndex: 1,
		ProductIndex:      2,
		SerialNumberIndex: 3,
		NumConfigurations: 1,
	}

	var buf [DeviceDescriptorSize]byte
	if n := want.MarshalTo(buf[:]); n != DeviceDescriptorSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, DeviceDescriptorSize)
	}
	var got DeviceDescriptor
	if err := ParseDeviceDescriptor(buf[:], &got); err != nil {
		t.Fatalf("ParseDeviceDescriptor() error = %v", err)
	}
	if got != want {
		t.Errorf("round-trip = %+v, want %+v", got, want)
	}
}

func TestParseDeviceDescriptor_Errors(t *testing.T) {
	var out DeviceDescriptor
	if err := ParseDeviceDescriptor(make([]byte, 10), &out); !errors.Is(err, pkg.ErrDescriptorTooShort) {
		t.Errorf("short error = %v, want %v", err, pkg.ErrDescriptorTooShort)
	}
	data := make([]byte, DeviceDescriptorSize)
	data[1] = DescriptorTypeConfiguration
	if err := ParseDeviceDescriptor(data, &out); !errors.Is(err, pkg.ErrDescriptorTypeMismatch) {
		t.Errorf("type error = %v, want %v", err, pkg.ErrDescriptorTypeMismatch)
	}
}

func TestMarshalTo_ShortBuffer(t *testing.T) {
	buf := make([]byte, 4)
	if n := (&DeviceDescriptor{}).MarshalTo(buf); n != 0 {
		t.Errorf("DeviceDescriptor.MarshalTo() = %d, want 0", n)
	}
	if n := (&ConfigurationDescriptor{}).MarshalTo(buf); n != 0 {
		t.Errorf("ConfigurationDescriptor.MarshalTo() = %d, want 0", n)
	}
	if n := (&InterfaceDescriptor{}).MarshalTo(buf); n != 0 {
		t.Errorf("InterfaceDescriptor.MarshalTo() = %d, want 0", n)
	}
	if n := (&DFUFunctionalDescriptor{}).MarshalTo(buf); n != 0 {
		t.Errorf("DFUFunctionalDescriptor.MarshalTo() = %d, want 0", n)
	}
	if n := StringDescriptorTo(buf, "long"); n != 0 {
		t.Errorf("StringDescriptorTo() = %d, want 0", n)
	}
}

func TestStringDescriptorTo(t *testing.T) {
	var buf [16]byte
	n := StringDescriptorTo(buf[:], "DFU")
	want := []byte{8, DescriptorTypeString, 'D', 0, 'F', 0, 'U', 0}
	if !bytes.Equal(buf[:n], want) {
		t.Errorf("StringDescriptorTo() = %X, want %X", buf[:n], want)
	}
}

func TestLanguageDescriptorTo(t *testing.T) {
	var buf [4]byte
	n := LanguageDescriptorTo(buf[:], LangIDUSEnglish)
	want := []byte{4, DescriptorTypeString, 0x09, 0x04}
	if !bytes.Equal(buf[:n], want) {
		t.Errorf("LanguageDescriptorTo() = %X, want %X", buf[:n], want)
	}
}

func TestBootDescriptors(t *testing.T) {
	desc := BootDescriptors(DefaultDescriptorConfig())

	wantDevice := []byte{
		0x12, 0x01, 0x00, 0x01, 0x00, 0x00, 0x00, 0x40,
		0x83, 0x04, 0x11, 0xDF, 0x1A, 0x01, 0x01, 0x02,
		0x03, 0x01,
	}
	if !bytes.Equal(desc.Device, wantDevice) {
		t.Errorf("Device = %X, want %X", desc.Device, wantDevice)
	}
	if got := desc.NumConfigurations(); got != 1 {
		t.Errorf("NumConfigurations() = %d, want 1", got)
	}

	wantConfig := []byte{
		// Configuration
		0x09, 0x02, 0x1B, 0x00, 0x01, 0x01, 0x04, 0x80, 0x32,
		// Interface: application specific, DFU, DFU mode
		0x09, 0x04, 0x00, 0x00, 0x00, 0xFE, 0x01, 0x02, 0x05,
		// DFU functional: download, upload, will detach
		0x09, 0x21, 0x0B, 0xFF, 0x00, 0x40, 0x00, 0x1A, 0x01,
	}
	if got := desc.Lookup(DescriptorTypeConfiguration, 0); !bytes.Equal(got, wantConfig) {
		t.Errorf("configuration = %X, want %X", got, wantConfig)
	}

	var buf [128]byte
	n := StringDescriptorTo(buf[:], "@Internal Flash /0x4000/256*064Bg")
	if got := desc.Lookup(DescriptorTypeString, 5); !bytes.Equal(got, buf[:n]) {
		t.Errorf("interface string = %X, want %X", got, buf[:n])
	}
}

func TestDescriptors_Lookup(t *testing.T) {
	desc := BootDescriptors(DefaultDescriptorConfig())

	tests := []struct {
		name     string
		descType uint8
		index    uint8
		wantNil  bool
	}{
		{"device", DescriptorTypeDevice, 0, false},
		{"configuration 0", DescriptorTypeConfiguration, 0, false},
		{"configuration 1", DescriptorTypeConfiguration, 1, true},
		{"language", DescriptorTypeString, 0, false},
		{"interface string", DescriptorTypeString, 5, false},
		{"string 6", DescriptorTypeString, 6, true},
		{"device qualifier", DescriptorTypeDeviceQualifier, 0, true},
		{"endpoint", DescriptorTypeEndpoint, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := desc.Lookup(tt.descType, tt.index)
			if (got == nil) != tt.wantNil {
				t.Errorf("Lookup(0x%02X, %d) = %X, want nil %v", tt.descType, tt.index, got, tt.wantNil)
			}
		})
	}
}

func TestFlashLayout(t *testing.T) {
	region := flash.Region{Entry: 0x0800, End: 0x1000, PageSize: 128, BlockSize: 64}
	if got, want := FlashLayout(region), "@Internal Flash /0x0800/16*128Bg"; got != want {
		t.Errorf("FlashLayout() = %q, want %q", got, want)
	}
}
