package device

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ardnew/dfuboot/pkg"
)

func newTestHandler() (*StandardRequestHandler, *Device) {
	dev := NewDevice()
	dev.Reset()
	return NewStandardRequestHandler(dev, BootDescriptors(DefaultDescriptorConfig())), dev
}

func TestStandardRequestHandler_HandleSetup(t *testing.T) {
	tests := []struct {
		name    string
		setup   SetupPacket
		want    []byte
		wantErr error
	}{
		{
			name:  "GET_STATUS",
			setup: NewSetup(RequestIn, RequestGetStatus, 0, 0, 2),
			want:  []byte{0, 0},
		},
		{
			name:  "GET_CONFIGURATION",
			setup: NewSetup(RequestIn, RequestGetConfiguration, 0, 0, 1),
			want:  []byte{0},
		},
		{
			name:  "GET_INTERFACE",
			setup: NewSetup(RequestIn|RecipientInterface, RequestGetInterface, 0, 0, 1),
			want:  []byte{0},
		},
		{
			name:  "GET_DESCRIPTOR language",
			setup: NewSetup(RequestIn, RequestGetDescriptor, 0x0300, 0, 255),
			want:  []byte{4, DescriptorTypeString, 0x09, 0x04},
		},
		{
			name:    "GET_DESCRIPTOR device qualifier",
			setup:   NewSetup(RequestIn, RequestGetDescriptor, 0x0600, 0, 10),
			wantErr: pkg.ErrInvalidRequest,
		},
		{
			name:  "SET_FEATURE",
			setup: NewSetup(RequestOut, RequestSetFeature, 1, 0, 0),
		},
		{
			name:  "CLEAR_FEATURE",
			setup: NewSetup(RequestOut|RecipientEndpoint, RequestClearFeature, 0, 0x81, 0),
		},
		{
			name:  "SET_INTERFACE",
			setup: NewSetup(RequestOut|RecipientInterface, RequestSetInterface, 0, 0, 0),
		},
		{
			name:    "SET_DESCRIPTOR",
			setup:   NewSetup(RequestOut, RequestSetDescriptor, 0x0100, 0, 18),
			wantErr: pkg.ErrInvalidRequest,
		},
		{
			name:    "SYNCH_FRAME",
			setup:   NewSetup(RequestIn|RecipientEndpoint, RequestSynchFrame, 0, 1, 2),
			wantErr: pkg.ErrInvalidRequest,
		},
		{
			name:    "class request",
			setup:   NewSetup(RequestIn|RequestTypeClass|RecipientInterface, 0x03, 0, 0, 6),
			wantErr: pkg.ErrInvalidRequest,
		},
		{
			name:    "SET_CONFIGURATION out of range",
			setup:   NewSetup(RequestOut, RequestSetConfiguration, 2, 0, 0),
			wantErr: pkg.ErrInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler()
			got, err := h.HandleSetup(&tt.setup)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("HandleSetup() error = %v, want %v", err, tt.wantErr)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("HandleSetup() = %X, want %X", got, tt.want)
			}
		})
	}
}

func TestStandardRequestHandler_SetAddressStaged(t *testing.T) {
	h, dev := newTestHandler()
	setup := NewSetup(RequestOut, RequestSetAddress, 0x0085, 0, 0)

	if _, err := h.HandleSetup(&setup); err != nil {
		t.Fatalf("HandleSetup() error = %v", err)
	}
	if got := dev.State(); got != StateAddressPending {
		t.Errorf("State() = %v, want %v", got, StateAddressPending)
	}
	if got := dev.Address(); got != 0 {
		t.Errorf("Address() = %d, want 0 until the status stage", got)
	}
	if addr, _ := dev.CommitAddress(); addr != 5 {
		t.Errorf("committed address = %d, want 5", addr)
	}
}

func TestStandardRequestHandler_SetConfigurationStaged(t *testing.T) {
	h, dev := newTestHandler()
	setup := NewSetup(RequestOut, RequestSetConfiguration, 1, 0, 0)

	if _, err := h.HandleSetup(&setup); err != nil {
		t.Fatalf("HandleSetup() error = %v", err)
	}
	if got := dev.State(); got != StateConfigurationPending {
		t.Errorf("State() = %v, want %v", got, StateConfigurationPending)
	}
	if got := dev.Configuration(); got != 0 {
		t.Errorf("Configuration() = %d, want 0 until the status stage", got)
	}
}
