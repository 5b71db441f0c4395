package device

import (
	"github.com/ardnew/dfuboot/pkg"
)

// StandardRequestHandler services the USB enumeration requests. It only
// resolves descriptors and stages address and configuration changes; the
// control engine applies them after the status stage.
type StandardRequestHandler struct {
	device      *Device
	descriptors *Descriptors

	// Scratch for the short fixed replies, referenced by returned slices.
	responseBuf [2]byte
}

// NewStandardRequestHandler creates a handler serving desc for dev.
func NewStandardRequestHandler(dev *Device, desc *Descriptors) *StandardRequestHandler {
	return &StandardRequestHandler{device: dev, descriptors: desc}
}

// HandleSetup processes a standard SETUP request.
//
// It returns the data to send for a device-to-host request, which the
// caller clips to wLength. A non-nil error means the request is not
// supported and must be stalled.
func (h *StandardRequestHandler) HandleSetup(setup *SetupPacket) ([]byte, error) {
	if !setup.IsStandard() {
		return nil, pkg.ErrInvalidRequest
	}

	switch setup.Request {
	case RequestGetDescriptor:
		return h.getDescriptor(setup)

	case RequestGetConfiguration:
		h.responseBuf[0] = h.device.Configuration()
		return h.responseBuf[:1], nil

	case RequestSetAddress:
		h.device.StageAddress(uint8(setup.Value & 0x7F))
		return nil, nil

	case RequestSetConfiguration:
		value := uint8(setup.Value)
		if value > h.descriptors.NumConfigurations() {
			pkg.LogWarn(pkg.ComponentControl, "invalid configuration", "value", value)
			return nil, pkg.ErrInvalidRequest
		}
		h.device.StageConfiguration(value)
		return nil, nil

	case RequestGetStatus:
		h.responseBuf[0], h.responseBuf[1] = 0, 0
		return h.responseBuf[:2], nil

	case RequestGetInterface:
		h.responseBuf[0] = 0
		return h.responseBuf[:1], nil

	case RequestClearFeature, RequestSetFeature, RequestSetInterface:
		return nil, nil

	default:
		// SET_DESCRIPTOR, SYNCH_FRAME and reserved codes.
		return nil, pkg.ErrInvalidRequest
	}
}

// getDescriptor resolves a GET_DESCRIPTOR request. Unknown types, such as
// the DEVICE_QUALIFIER a full-speed-only device must refuse, are errors.
func (h *StandardRequestHandler) getDescriptor(setup *SetupPacket) ([]byte, error) {
	desc := h.descriptors.Lookup(setup.DescriptorType(), setup.DescriptorIndex())
	if desc == nil {
		pkg.LogDebug(pkg.ComponentControl, "descriptor not found",
			"type", setup.DescriptorType(), "index", setup.DescriptorIndex())
		return nil, pkg.ErrInvalidRequest
	}
	return desc, nil
}
