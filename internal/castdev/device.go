// Package castdev discovers cast receivers on the local network and wraps
// the cast protocol client behind a small controller interface so the
// session logic stays testable without a device on the network.
package castdev

import (
	"context"
	"fmt"
	"strings"
)

// unnamedDevice is shown for receivers that advertise no usable name. It is
// display-only and never participates in name matching.
const unnamedDevice = "(unnamed receiver)"

// Device is a cast receiver reachable on the local network.
type Device struct {
	Addr string
	Port int
	Name string
	UUID string
}

func (d Device) String() string {
	return fmt.Sprintf("%s (%s:%d)", d.Name, d.Addr, d.Port)
}

// Selector narrows discovery results to a single device. Zero value matches
// the first device found.
type Selector struct {
	// Name matches case-insensitively on a substring of the device name.
	Name string
	// Address matches the device address exactly and takes precedence
	// over Name.
	Address string
}

func (s Selector) empty() bool {
	return s.Name == "" && s.Address == ""
}

func (s Selector) String() string {
	switch {
	case s.Address != "":
		return "address " + s.Address
	case s.Name != "":
		return "name " + s.Name
	default:
		return "first device"
	}
}

// ErrNoDevicesFound indicates discovery completed without seeing any
// receiver on the network.
var ErrNoDevicesFound = fmt.Errorf("no cast devices found on the network")

// DeviceNotFoundError indicates devices were discovered but none matched
// the selector. Found carries the candidates for error reporting.
type DeviceNotFoundError struct {
	Selector Selector
	Found    []Device
}

func (e *DeviceNotFoundError) Error() string {
	names := make([]string, len(e.Found))
	for i, d := range e.Found {
		names[i] = d.String()
	}
	return fmt.Sprintf("no cast device matched %s (discovered: %s)",
		e.Selector, strings.Join(names, ", "))
}

// Discoverer lists cast receivers visible on the network. Implemented by
// MDNSDiscoverer; tests substitute fakes.
type Discoverer interface {
	Discover(ctx context.Context) ([]Device, error)
}

// Resolve runs discovery and picks the device matching the selector.
func Resolve(ctx context.Context, d Discoverer, sel Selector) (Device, error) {
	devices, err := d.Discover(ctx)
	if err != nil {
		return Device{}, fmt.Errorf("device discovery: %w", err)
	}
	if len(devices) == 0 {
		return Device{}, ErrNoDevicesFound
	}

	if sel.empty() {
		return devices[0], nil
	}

	for _, dev := range devices {
		if matches(dev, sel) {
			return dev, nil
		}
	}
	return Device{}, &DeviceNotFoundError{Selector: sel, Found: devices}
}

func matches(d Device, sel Selector) bool {
	if sel.Address != "" {
		return d.Addr == sel.Address
	}
	if d.Name == unnamedDevice {
		return false
	}
	return strings.Contains(strings.ToLower(d.Name), strings.ToLower(sel.Name))
}
