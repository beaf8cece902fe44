package adapter

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/holodroid23-tech/pos-hardware/device"
)

// Connection pairs a device with its live transport handle. Lifetime
// is the connected session; connections are never persisted.
type Connection struct {
	Device  device.Device
	Adapter Adapter
}

// DialFunc builds an unopened adapter for a device. Injected so the
// manager stays independent of which transports the host carries.
type DialFunc func(device.Device) (Adapter, error)

// DefaultDial routes USB/serial and Bluetooth devices to their
// adapters. Embedded (native SDK) devices need a dialer supplied by
// the payment layer.
func DefaultDial(dev device.Device) (Adapter, error) {
	switch dev.ConnectionType {
	case device.ConnUSB:
		if strings.HasPrefix(dev.Address, "/dev/") || strings.HasPrefix(dev.Address, "COM") {
			return NewSerialAdapter(dev.Address), nil
		}
		return NewUSBAdapterAuto()
	case device.ConnBluetooth:
		return NewBLEAdapter(dev.Address), nil
	default:
		return nil, fmt.Errorf("no dialer for connection type %q", dev.ConnectionType)
	}
}

// Manager opens and holds at most one live Connection per device id.
type Manager struct {
	mu       sync.Mutex
	registry *device.Registry
	conns    map[string]*Connection
	dial     DialFunc
	logger   *log.Logger
}

// NewManager creates a connection manager over the given registry.
func NewManager(registry *device.Registry, dial DialFunc) *Manager {
	if dial == nil {
		dial = DefaultDial
	}
	return &Manager{
		registry: registry,
		conns:    make(map[string]*Connection),
		dial:     dial,
		logger:   log.New(os.Stdout, "[CONNECT] ", log.LstdFlags|log.Lmsgprefix),
	}
}

// SetLogger replaces the default logger.
func (m *Manager) SetLogger(l *log.Logger) { m.logger = l }

// Connect opens a transport handle for the device and retains it. A
// prior connection for the same id is torn down first; a concurrent
// connect for the same id waits rather than producing two handles.
// On success the device is marked connected and idle in the registry.
func (m *Manager) Connect(dev device.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.conns[dev.ID]; ok {
		m.logger.Printf("Replacing existing connection for %s", dev.ID)
		if err := old.Adapter.Close(); err != nil {
			m.logger.Printf("Error tearing down old connection for %s: %v", dev.ID, err)
		}
		delete(m.conns, dev.ID)
	}

	a, err := m.dial(dev)
	if err != nil {
		m.markOffline(dev)
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	if err := a.Open(); err != nil {
		a.Close()
		m.markOffline(dev)
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	dev.Connected = true
	dev.Status = device.StatusIdle
	m.conns[dev.ID] = &Connection{Device: dev, Adapter: a}

	if err := m.registry.Upsert(dev); err != nil {
		m.logger.Printf("Error persisting device %s: %v", dev.ID, err)
	}
	m.logger.Printf("Connected %s via %s", dev.ID, a.Kind())
	return nil
}

// Disconnect releases the transport handle and marks the device
// offline. Calling it without an active connection is a no-op.
func (m *Manager) Disconnect(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[id]
	if !ok {
		return nil
	}

	err := conn.Adapter.Close()
	delete(m.conns, id)

	dev := conn.Device
	dev.Connected = false
	dev.Status = device.StatusOffline
	if uerr := m.registry.Upsert(dev); uerr != nil {
		m.logger.Printf("Error persisting device %s: %v", id, uerr)
	}

	if err != nil {
		return fmt.Errorf("failed to release transport for %s: %w", id, err)
	}
	m.logger.Printf("Disconnected %s", id)
	return nil
}

// Get returns the live connection for a device id, if any.
func (m *Manager) Get(id string) (*Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[id]
	return conn, ok
}

// CloseAll disconnects every live connection.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Disconnect(id); err != nil {
			m.logger.Printf("Error disconnecting %s: %v", id, err)
		}
	}
}

func (m *Manager) markOffline(dev device.Device) {
	dev.Connected = false
	dev.Status = device.StatusOffline
	if err := m.registry.Upsert(dev); err != nil {
		m.logger.Printf("Error persisting device %s: %v", dev.ID, err)
	}
}
