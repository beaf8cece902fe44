// Package payment drives card collection on a terminal device through
// a linear state machine, with a simulated backend for environments
// without real hardware.
package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/holodroid23-tech/pos-hardware/adapter"
	"github.com/holodroid23-tech/pos-hardware/device"
)

var (
	// ErrNoReaderDetected means discovery finished with zero readers.
	ErrNoReaderDetected = errors.New("no card reader detected")

	// ErrPaymentDeclined means the card was rejected by the processor.
	ErrPaymentDeclined = errors.New("payment declined")

	// ErrDebugBuildRestricted means the processor refused the request
	// because this is not a production build.
	ErrDebugBuildRestricted = errors.New("payment restricted in debug builds")

	// ErrSessionActive means a payment session is already in flight.
	ErrSessionActive = errors.New("a payment session is already active")

	// ErrNotCancellable means the flow is past the point where the
	// caller may cancel.
	ErrNotCancellable = errors.New("payment cannot be cancelled at this step")
)

// StatusFunc receives intermediate hardware messages while a payment
// is collected ("waiting for card", "processing", ...).
type StatusFunc func(status, message string)

// TerminalBackend is the seam over the embedded payment SDK.
type TerminalBackend interface {
	// Initialize applies the simulated/real mode switch to the SDK.
	Initialize(simulated bool) error

	// Connect opens a session on the reader with the given identifier.
	Connect(ctx context.Context, readerID string) error

	// Collect runs one card collection, relaying status updates.
	Collect(ctx context.Context, amount float64, onStatus StatusFunc) error
}

// SimulatedBackend is a scripted TerminalBackend and reader source for
// hardware-free environments and tests.
type SimulatedBackend struct {
	mu          sync.Mutex
	initialized bool
	simulated   bool

	// Readers overrides the discovered reader list. nil means one
	// default simulated reader; an empty non-nil slice means none.
	Readers []device.Device

	// DiscoveryDelay is how long discovery waits before emitting its
	// event. Zero means near-immediate.
	DiscoveryDelay time.Duration

	// Outcome is returned by Collect after the status script runs.
	// nil approves the payment.
	Outcome error
}

// NewSimulatedBackend creates a backend with one default reader.
func NewSimulatedBackend() *SimulatedBackend {
	return &SimulatedBackend{}
}

// Initialize records the mode switch.
func (b *SimulatedBackend) Initialize(simulated bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initialized = true
	b.simulated = simulated
	return nil
}

// StartDiscovery emits the configured reader list after the configured
// delay, satisfying adapter.ReaderSource.
func (b *SimulatedBackend) StartDiscovery(ctx context.Context) (<-chan []device.Device, func(), error) {
	b.mu.Lock()
	if !b.initialized {
		b.mu.Unlock()
		return nil, nil, errors.New("backend not initialized")
	}
	readers := b.Readers
	if readers == nil {
		readers = []device.Device{{
			ID:             "sim-reader-" + uuid.NewString()[:8],
			Name:           "Simulated Reader",
			Kind:           device.KindTerminal,
			ConnectionType: device.ConnEmbedded,
			Status:         device.StatusOffline,
			Provider:       "simulated",
		}}
	}
	delay := b.DiscoveryDelay
	b.mu.Unlock()

	ch := make(chan []device.Device, 1)
	timer := time.AfterFunc(delay, func() { ch <- readers })
	return ch, func() { timer.Stop() }, nil
}

// Connect opens a simulated reader session.
func (b *SimulatedBackend) Connect(ctx context.Context, readerID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return errors.New("backend not initialized")
	}
	return nil
}

// Collect replays the status script and returns the configured
// outcome.
func (b *SimulatedBackend) Collect(ctx context.Context, amount float64, onStatus StatusFunc) error {
	if onStatus != nil {
		onStatus("waiting_for_card", "Waiting for card")
		onStatus("processing", fmt.Sprintf("Processing $%.2f", amount))
	}

	b.mu.Lock()
	outcome := b.Outcome
	b.mu.Unlock()
	return outcome
}

// ReaderSession satisfies adapter.Adapter for embedded SDK sessions so
// the connection manager can hold terminal handles like any other
// transport. The handle is an opaque session token; raw reads and
// writes are not meaningful for terminals.
type ReaderSession struct {
	backend  TerminalBackend
	readerID string
	mu       sync.Mutex
	isOpen   bool
}

const readerConnectTimeout = 30 * time.Second

// NewReaderSession creates an unopened session for the given reader.
func NewReaderSession(backend TerminalBackend, readerID string) *ReaderSession {
	return &ReaderSession{backend: backend, readerID: readerID}
}

// Open delegates to the SDK's connect call.
func (s *ReaderSession) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isOpen {
		return errors.New("session already open")
	}

	ctx, cancel := context.WithTimeout(context.Background(), readerConnectTimeout)
	defer cancel()
	if err := s.backend.Connect(ctx, s.readerID); err != nil {
		return fmt.Errorf("reader connect failed: %w", err)
	}
	s.isOpen = true
	return nil
}

// Write is not meaningful for a reader session
func (s *ReaderSession) Write(data []byte) (int, error) {
	return 0, errors.New("raw writes not supported on a reader session")
}

// Read is not meaningful for a reader session
func (s *ReaderSession) Read(buf []byte) (int, error) {
	return 0, errors.New("raw reads not supported on a reader session")
}

// Close releases the session token.
func (s *ReaderSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isOpen = false
	return nil
}

// IsOpen returns whether the session is open
func (s *ReaderSession) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isOpen
}

// Kind returns the transport type
func (s *ReaderSession) Kind() device.ConnectionType {
	return device.ConnEmbedded
}

// Dial wraps a manager DialFunc so embedded devices open reader
// sessions on the given backend while everything else uses next.
func Dial(backend TerminalBackend, next adapter.DialFunc) adapter.DialFunc {
	return func(dev device.Device) (adapter.Adapter, error) {
		if dev.ConnectionType == device.ConnEmbedded {
			return NewReaderSession(backend, dev.ID), nil
		}
		return next(dev)
	}
}
