package device

import (
	"fmt"

	"github.com/ardnew/dfuboot/pkg"
)

// EndpointHandler services one endpoint number in one configuration.
// Init prepares the endpoint after a bus reset or configuration change;
// Setup, In and Out are invoked when a SETUP, IN or OUT transaction
// completes on it.
type EndpointHandler interface {
	Init() error
	Setup() error
	In() error
	Out() error
}

// NopEndpoint is the handler of endpoints the device does not use.
type NopEndpoint struct{}

// Init implements [EndpointHandler].
func (NopEndpoint) Init() error { return nil }

// Setup implements [EndpointHandler].
func (NopEndpoint) Setup() error { return nil }

// In implements [EndpointHandler].
func (NopEndpoint) In() error { return nil }

// Out implements [EndpointHandler].
func (NopEndpoint) Out() error { return nil }

// EndpointTable selects the handler for a (configuration, endpoint) pair.
// Configuration 0 is the unconfigured device.
type EndpointTable struct {
	handlers [MaxConfigurations + 1][MaxEndpoints]EndpointHandler
}

// NewEndpointTable returns a table with ep0 on endpoint 0 of every
// configuration and [NopEndpoint] everywhere else.
func NewEndpointTable(ep0 EndpointHandler) *EndpointTable {
	t := &EndpointTable{}
	for cfg := range t.handlers {
		t.handlers[cfg][0] = ep0
	}
	return t
}

// Set installs h for endpoint ep of configuration cfg.
func (t *EndpointTable) Set(cfg, ep uint8, h EndpointHandler) error {
	if int(cfg) >= len(t.handlers) {
		return fmt.Errorf("configuration %d: %w", cfg, pkg.ErrInvalidParameter)
	}
	if ep >= MaxEndpoints {
		return fmt.Errorf("endpoint %d: %w", ep, pkg.ErrInvalidEndpoint)
	}
	t.handlers[cfg][ep] = h
	return nil
}

// Get returns the handler for endpoint ep of configuration cfg. It never
// returns nil.
func (t *EndpointTable) Get(cfg, ep uint8) EndpointHandler {
	if int(cfg) >= len(t.handlers) || ep >= MaxEndpoints {
		return NopEndpoint{}
	}
	if h := t.handlers[cfg][ep]; h != nil {
		return h
	}
	return NopEndpoint{}
}

// InitAll runs Init for endpoints first through MaxEndpoints-1 of cfg and
// returns the first error.
func (t *EndpointTable) InitAll(cfg, first uint8) error {
	for ep := first; ep < MaxEndpoints; ep++ {
		if err := t.Get(cfg, ep).Init(); err != nil {
			return fmt.Errorf("init endpoint %d of configuration %d: %w", ep, cfg, err)
		}
	}
	return nil
}
