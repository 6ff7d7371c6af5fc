package castdev

import (
	"context"
	"net"
	"time"

	"github.com/vishen/go-chromecast/dns"

	"github.com/deskcast/deskcast/internal/logging"
)

// DefaultDiscoveryWindow bounds how long mDNS discovery collects responses
// before returning what it has seen.
const DefaultDiscoveryWindow = 5 * time.Second

// MDNSDiscoverer finds cast receivers via multicast DNS.
type MDNSDiscoverer struct {
	logger logging.Logger
	iface  *net.Interface
	window time.Duration
}

// NewMDNSDiscoverer creates a discoverer collecting responses for the given
// window on all interfaces. A zero window uses DefaultDiscoveryWindow.
func NewMDNSDiscoverer(logger logging.Logger, window time.Duration) *MDNSDiscoverer {
	if window <= 0 {
		window = DefaultDiscoveryWindow
	}
	return &MDNSDiscoverer{logger: logger, window: window}
}

// Discover collects receiver announcements until the window elapses or the
// context is cancelled, deduplicated by device UUID.
func (m *MDNSDiscoverer) Discover(ctx context.Context) ([]Device, error) {
	ctx, cancel := context.WithTimeout(ctx, m.window)
	defer cancel()

	entries, err := dns.DiscoverCastDNSEntries(ctx, m.iface)
	if err != nil {
		return nil, err
	}

	var devices []Device
	seen := make(map[string]bool)
	for entry := range entries {
		dev := entryToDevice(entry)
		if dev.UUID != "" && seen[dev.UUID] {
			continue
		}
		seen[dev.UUID] = true
		m.logger.Debug("Discovered cast device",
			"name", dev.Name, "addr", dev.Addr, "port", dev.Port, "uuid", dev.UUID)
		devices = append(devices, dev)
	}
	return devices, nil
}

// entryToDevice maps an mDNS entry to a Device. Receivers differ in which
// identity fields they populate, so both name and address fall through an
// ordered list of candidates.
func entryToDevice(e dns.CastEntry) Device {
	name := unnamedDevice
	for _, candidate := range []string{e.DeviceName, e.InfoFields["fn"], e.Device, e.Name} {
		if candidate != "" {
			name = candidate
			break
		}
	}

	var addr string
	switch {
	case len(e.AddrV4) > 0:
		addr = e.AddrV4.String()
	case len(e.AddrV6) > 0:
		addr = e.AddrV6.String()
	default:
		addr = e.Host
	}

	return Device{Addr: addr, Port: e.Port, Name: name, UUID: e.UUID}
}
