package adapter

import (
	"errors"
	"time"

	"github.com/holodroid23-tech/pos-hardware/device"
)

// Errors shared by the transport backends.
var (
	// ErrTransportUnavailable means no serial or BLE support exists on
	// this host.
	ErrTransportUnavailable = errors.New("no usable transport available on this host")

	// ErrDiscoveryCancelled means the caller abandoned discovery.
	ErrDiscoveryCancelled = errors.New("device discovery cancelled")

	// ErrDiscoveryTimedOut means the native reader discovery produced
	// no event within the allowed window.
	ErrDiscoveryTimedOut = errors.New("reader discovery timed out")

	// ErrNoWritableCharacteristic means a BLE peripheral exposes no
	// characteristic that accepts writes.
	ErrNoWritableCharacteristic = errors.New("no writable characteristic found")

	// ErrConnectionFailed means the transport handle could not be opened.
	ErrConnectionFailed = errors.New("failed to open device connection")
)

// Adapter defines the interface for device communication transports
type Adapter interface {
	// Open opens the connection to the device
	Open() error

	// Write sends data to the device
	Write(data []byte) (int, error)

	// Read reads data from the device
	Read(buf []byte) (int, error)

	// Close closes the connection to the device
	Close() error

	// IsOpen returns whether the connection is open
	IsOpen() bool

	// Kind returns the transport this adapter speaks
	Kind() device.ConnectionType
}

// ChunkedWriter is implemented by adapters whose transport bounds the
// size of a single write. The dispatcher splits payloads into
// ChunkSize pieces and pauses ChunkDelay between them.
type ChunkedWriter interface {
	ChunkSize() int
	ChunkDelay() time.Duration
}

// Reconnecter is implemented by adapters that can reestablish a dropped
// link. The dispatcher attempts one Reconnect before giving up on a
// failed write.
type Reconnecter interface {
	Reconnect() error
}
