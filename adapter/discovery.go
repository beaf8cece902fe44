package adapter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"

	"github.com/holodroid23-tech/pos-hardware/device"
)

// ReaderDiscoveryTimeout bounds how long native payment-SDK discovery
// may wait for a discovered-readers event.
const ReaderDiscoveryTimeout = 10 * time.Second

const bleScanWindow = 5 * time.Second

// PrinterTransport is a discovery backend for one printer transport.
// Available is the capability probe consulted before Discover is used.
type PrinterTransport interface {
	Name() string
	Available() bool
	Discover(ctx context.Context) ([]device.Device, error)
}

// ReaderSource starts native payment-reader discovery. The returned
// channel delivers the discovered-readers event; stop releases the
// underlying listener and must be called on every exit path.
type ReaderSource interface {
	StartDiscovery(ctx context.Context) (readers <-chan []device.Device, stop func(), err error)
}

// Discovery enumerates candidate devices per transport, honoring
// platform availability.
type Discovery struct {
	serial  PrinterTransport
	blue    PrinterTransport
	readers ReaderSource
	paper   device.PaperSize

	// readerTimeout defaults to ReaderDiscoveryTimeout; tests shorten it.
	readerTimeout time.Duration

	logger *log.Logger
}

// NewDiscovery builds a Discovery over the given backends. Either
// printer transport and the reader source may be nil when the host
// lacks them.
func NewDiscovery(serial, blue PrinterTransport, readers ReaderSource, paper device.PaperSize) *Discovery {
	return &Discovery{
		serial:        serial,
		blue:          blue,
		readers:       readers,
		paper:         paper,
		readerTimeout: ReaderDiscoveryTimeout,
		logger:        log.New(os.Stdout, "[DISCOVERY] ", log.LstdFlags|log.Lmsgprefix),
	}
}

// SetReaderTimeout overrides the native discovery timeout.
func (d *Discovery) SetReaderTimeout(t time.Duration) { d.readerTimeout = t }

// SetLogger replaces the default logger.
func (d *Discovery) SetLogger(l *log.Logger) { d.logger = l }

// Discover enumerates candidate devices of the given kind. An absent
// transport yields an empty result and a logged diagnostic, never an
// error.
func (d *Discovery) Discover(ctx context.Context, kind device.Kind) ([]device.Device, error) {
	switch kind {
	case device.KindPrinter:
		return d.discoverPrinters(ctx)
	case device.KindTerminal:
		return d.discoverTerminals(ctx)
	default:
		d.logger.Printf("No discovery backend for device kind %q", kind)
		return nil, nil
	}
}

// discoverPrinters prefers Bluetooth when both transports are usable
// and falls back to whichever one is.
func (d *Discovery) discoverPrinters(ctx context.Context) ([]device.Device, error) {
	var transport PrinterTransport
	switch {
	case d.blue != nil && d.blue.Available():
		transport = d.blue
	case d.serial != nil && d.serial.Available():
		transport = d.serial
	default:
		d.logger.Println("No printer transport available on this host")
		return []device.Device{}, nil
	}

	devs, err := transport.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s discovery failed: %w", transport.Name(), err)
	}
	for i := range devs {
		if devs[i].PaperSize == "" {
			devs[i].PaperSize = d.paper
		}
	}
	d.logger.Printf("Found %d printer(s) via %s", len(devs), transport.Name())
	return devs, nil
}

// discoverTerminals runs the native SDK handshake when a reader source
// is present: start discovery, then wait for the discovered-readers
// event or the timeout, whichever fires first. Without a native SDK it
// falls back to a generic Bluetooth scan.
func (d *Discovery) discoverTerminals(ctx context.Context) ([]device.Device, error) {
	if d.readers == nil {
		if d.blue == nil || !d.blue.Available() {
			d.logger.Println("No terminal discovery backend available on this host")
			return []device.Device{}, nil
		}
		devs, err := d.blue.Discover(ctx)
		if err != nil {
			return nil, fmt.Errorf("bluetooth terminal discovery failed: %w", err)
		}
		for i := range devs {
			devs[i].Kind = device.KindTerminal
			devs[i].PaperSize = ""
		}
		return devs, nil
	}

	ctx, cancel := context.WithTimeout(ctx, d.readerTimeout)
	defer cancel()

	events, stop, err := d.readers.StartDiscovery(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start reader discovery: %w", err)
	}
	defer stop()

	select {
	case readers := <-events:
		d.logger.Printf("Found %d reader(s)", len(readers))
		return readers, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ErrDiscoveryCancelled
		}
		return nil, ErrDiscoveryTimedOut
	}
}

// SerialTransport discovers printers on USB-serial ports.
type SerialTransport struct{}

// Name identifies the transport in diagnostics
func (SerialTransport) Name() string { return "serial" }

// Available probes whether the host exposes any serial ports.
func (SerialTransport) Available() bool {
	ports, err := ListSerialPorts()
	return err == nil && len(ports) > 0
}

// Discover lists one candidate printer per serial port.
func (SerialTransport) Discover(ctx context.Context) ([]device.Device, error) {
	ports, err := ListSerialPorts()
	if err != nil {
		return nil, err
	}

	devs := make([]device.Device, 0, len(ports))
	for _, port := range ports {
		devs = append(devs, device.Device{
			ID:             "serial:" + port,
			Name:           port,
			Kind:           device.KindPrinter,
			ConnectionType: device.ConnUSB,
			Status:         device.StatusOffline,
			Address:        port,
		})
	}
	return devs, nil
}

// BLETransport discovers printers by scanning for BLE advertisements,
// biased toward known thermal-printer service UUIDs.
type BLETransport struct{}

// Name identifies the transport in diagnostics
func (BLETransport) Name() string { return "bluetooth" }

// Available probes whether the host BLE stack initializes.
func (BLETransport) Available() bool {
	return ensureBLEDevice() == nil
}

// Discover scans for nearby peripherals for a fixed window.
func (BLETransport) Discover(ctx context.Context) ([]device.Device, error) {
	if err := ensureBLEDevice(); err != nil {
		return nil, err
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		devs []device.Device
	)

	handler := func(a ble.Advertisement) {
		mu.Lock()
		defer mu.Unlock()

		addr := strings.ToLower(a.Addr().String())
		if seen[addr] {
			return
		}
		seen[addr] = true

		name := a.LocalName()
		if name == "" {
			name = addr
		}
		devs = append(devs, device.Device{
			ID:             addr,
			Name:           name,
			Kind:           device.KindPrinter,
			ConnectionType: device.ConnBluetooth,
			Status:         device.StatusOffline,
			Address:        addr,
		})
	}

	// Advertisements matching a known printer service pass outright;
	// named connectable peripherals pass too, so unknown printers are
	// biased against rather than excluded.
	filter := func(a ble.Advertisement) bool {
		if !a.Connectable() {
			return false
		}
		for _, u := range a.Services() {
			for _, p := range printerServiceUUIDs {
				if u.Equal(p) {
					return true
				}
			}
		}
		return a.LocalName() != ""
	}

	scanCtx, cancel := context.WithTimeout(ctx, bleScanWindow)
	defer cancel()

	err := ble.Scan(scanCtx, false, handler, filter)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("BLE scan failed: %w", err)
	}
	return devs, nil
}

// StaticTransport serves a fixed device list; it backs simulated
// hardware setups and tests.
type StaticTransport struct {
	Devices []device.Device
}

// Name identifies the transport in diagnostics
func (StaticTransport) Name() string { return "simulated" }

// Available always reports true
func (StaticTransport) Available() bool { return true }

// Discover returns the configured devices.
func (t StaticTransport) Discover(ctx context.Context) ([]device.Device, error) {
	out := make([]device.Device, len(t.Devices))
	copy(out, t.Devices)
	return out, nil
}
