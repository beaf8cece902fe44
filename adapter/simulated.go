package adapter

import (
	"errors"
	"sync"
	"time"

	"github.com/holodroid23-tech/pos-hardware/device"
)

// SimulatedAdapter is an in-memory transport for environments without
// real hardware. It records every write so callers can inspect what
// would have reached a printer.
type SimulatedAdapter struct {
	mu     sync.Mutex
	isOpen bool
	writes [][]byte

	// FailWrites makes the next write attempts fail until Reconnect
	// is called; used to exercise the dispatcher's recovery path.
	FailWrites bool

	chunkSize  int
	chunkDelay time.Duration
}

// NewSimulatedAdapter creates a simulated transport with unbounded
// writes.
func NewSimulatedAdapter() *SimulatedAdapter {
	return &SimulatedAdapter{}
}

// NewSimulatedChunkedAdapter creates a simulated transport that, like
// BLE, bounds single writes to size bytes.
func NewSimulatedChunkedAdapter(size int, delay time.Duration) *SimulatedAdapter {
	return &SimulatedAdapter{chunkSize: size, chunkDelay: delay}
}

// Open marks the adapter as connected
func (a *SimulatedAdapter) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.isOpen {
		return errors.New("device already open")
	}
	a.isOpen = true
	return nil
}

// Write records the data
func (a *SimulatedAdapter) Write(data []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.isOpen {
		return 0, errors.New("device not open")
	}
	if a.FailWrites {
		return 0, errors.New("simulated link drop")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	a.writes = append(a.writes, buf)
	return len(data), nil
}

// Read returns no data
func (a *SimulatedAdapter) Read(buf []byte) (int, error) {
	return 0, nil
}

// Close marks the adapter as disconnected
func (a *SimulatedAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.isOpen = false
	return nil
}

// IsOpen returns whether the adapter is open
func (a *SimulatedAdapter) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isOpen
}

// Kind reports bluetooth when chunked so the dispatcher treats the
// adapter like a BLE link, usb otherwise.
func (a *SimulatedAdapter) Kind() device.ConnectionType {
	if a.chunkSize > 0 {
		return device.ConnBluetooth
	}
	return device.ConnUSB
}

// ChunkSize returns the configured write bound, if any.
func (a *SimulatedAdapter) ChunkSize() int { return a.chunkSize }

// ChunkDelay returns the configured inter-chunk pause.
func (a *SimulatedAdapter) ChunkDelay() time.Duration { return a.chunkDelay }

// Reconnect clears a simulated link drop.
func (a *SimulatedAdapter) Reconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.FailWrites = false
	a.isOpen = true
	return nil
}

// Writes returns a copy of everything written so far.
func (a *SimulatedAdapter) Writes() [][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([][]byte, len(a.writes))
	copy(out, a.writes)
	return out
}

// Payload returns all written bytes joined in order.
func (a *SimulatedAdapter) Payload() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []byte
	for _, w := range a.writes {
		out = append(out, w...)
	}
	return out
}
