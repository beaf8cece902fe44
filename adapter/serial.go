package adapter

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/holodroid23-tech/pos-hardware/device"
)

// Most thermal printers speak 9600 8N1 over their USB-serial bridge.
const (
	serialBaudRate    = 9600
	serialReadTimeout = 3 * time.Second
)

// SerialAdapter manages a printer reached over a USB-serial port.
type SerialAdapter struct {
	name   string
	mu     sync.Mutex
	port   serial.Port
	isOpen bool
}

// NewSerialAdapter creates an adapter for the named port. The port is
// not opened until Open is called.
func NewSerialAdapter(name string) *SerialAdapter {
	return &SerialAdapter{name: name}
}

// ListSerialPorts enumerates the serial ports present on this host.
func ListSerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	return ports, nil
}

// Open opens the port and acquires a writable stream.
func (a *SerialAdapter) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.isOpen {
		return errors.New("port already open")
	}

	mode := &serial.Mode{
		BaudRate: serialBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(a.name, mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", a.name, err)
	}
	port.SetReadTimeout(serialReadTimeout)

	a.port = port
	a.isOpen = true
	return nil
}

// Write sends data to the printer in a single write.
func (a *SerialAdapter) Write(data []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return 0, errors.New("port not open")
	}

	n, err := a.port.Write(data)
	if err != nil {
		return n, fmt.Errorf("serial write failed: %w", err)
	}
	return n, nil
}

// Read reads status bytes from the printer.
func (a *SerialAdapter) Read(buf []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return 0, errors.New("port not open")
	}

	n, err := a.port.Read(buf)
	if err != nil {
		return n, fmt.Errorf("serial read failed: %w", err)
	}
	return n, nil
}

// Close releases the writer and closes the port. Safe to call when the
// port was never opened.
func (a *SerialAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return nil
	}

	err := a.port.Close()
	a.port = nil
	a.isOpen = false
	if err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	return nil
}

// IsOpen returns whether the port is open
func (a *SerialAdapter) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isOpen
}

// Kind returns the transport type
func (a *SerialAdapter) Kind() device.ConnectionType {
	return device.ConnUSB
}
