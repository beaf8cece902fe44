package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"

	"github.com/holodroid23-tech/pos-hardware/device"
)

// BLE writes are capped at 20 bytes so payloads fit the default ATT
// MTU on older peripherals; a short pause between chunks keeps slow
// printer buffers from overflowing.
const (
	bleChunkSize   = 20
	bleChunkDelay  = 10 * time.Millisecond
	bleDialTimeout = 30 * time.Second
)

// Service UUIDs advertised by common BLE thermal printers. Used to
// bias scanning toward relevant peripherals, not to exclude unknown
// printers.
var printerServiceUUIDs = []ble.UUID{
	ble.UUID16(0x18f0),
	ble.MustParse("e7810a71-73ae-499d-8c15-faa9aef0c3f2"),
	ble.UUID16(0xff00),
	ble.UUID16(0xae30),
}

// Generic GAP/GATT/Device-Information services; their characteristics
// never accept print data.
var genericServiceUUIDs = []ble.UUID{
	ble.UUID16(0x1800),
	ble.UUID16(0x1801),
	ble.UUID16(0x180a),
}

var (
	bleDeviceOnce sync.Once
	bleDeviceErr  error
)

// ensureBLEDevice initializes the host BLE stack once. Subsequent
// calls return the cached result.
func ensureBLEDevice() error {
	bleDeviceOnce.Do(func() {
		d, err := linux.NewDevice()
		if err != nil {
			bleDeviceErr = fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
			return
		}
		ble.SetDefaultDevice(d)
	})
	return bleDeviceErr
}

func isGenericService(u ble.UUID) bool {
	for _, g := range genericServiceUUIDs {
		if u.Equal(g) {
			return true
		}
	}
	return false
}

// BLEAdapter manages a printer reached over Bluetooth Low Energy GATT.
type BLEAdapter struct {
	addr   string
	mu     sync.Mutex
	client ble.Client
	char   *ble.Characteristic
	noRsp  bool
	isOpen bool
}

// NewBLEAdapter creates an adapter for the peripheral at the given
// MAC address.
func NewBLEAdapter(addr string) *BLEAdapter {
	return &BLEAdapter{addr: addr}
}

// Open connects to the GATT server and selects a write characteristic.
func (a *BLEAdapter) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.openLocked()
}

func (a *BLEAdapter) openLocked() error {
	if a.isOpen {
		return errors.New("peripheral already connected")
	}

	if err := ensureBLEDevice(); err != nil {
		return err
	}

	ctx := ble.WithSigHandler(context.WithTimeout(context.Background(), bleDialTimeout))
	client, err := ble.Dial(ctx, ble.NewAddr(a.addr))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		client.CancelConnection()
		return fmt.Errorf("failed to discover GATT profile: %w", err)
	}

	// Pick the first writable characteristic outside the generic
	// GAP/GATT/DIS services.
	for _, svc := range profile.Services {
		if isGenericService(svc.UUID) {
			continue
		}
		for _, c := range svc.Characteristics {
			if c.Property&(ble.CharWrite|ble.CharWriteNR) == 0 {
				continue
			}
			a.char = c
			a.noRsp = c.Property&ble.CharWriteNR != 0
			a.client = client
			a.isOpen = true
			return nil
		}
	}

	client.CancelConnection()
	return ErrNoWritableCharacteristic
}

// Write sends one chunk to the selected characteristic, without
// response when the peripheral supports it.
func (a *BLEAdapter) Write(data []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isOpen {
		return 0, errors.New("peripheral not connected")
	}

	if err := a.client.WriteCharacteristic(a.char, data, a.noRsp); err != nil {
		return 0, fmt.Errorf("BLE write failed: %w", err)
	}
	return len(data), nil
}

// Read is not supported; BLE printers report status via notifications,
// which this adapter does not consume.
func (a *BLEAdapter) Read(buf []byte) (int, error) {
	return 0, errors.New("read not supported over BLE")
}

// Close disconnects from the GATT server. Safe to call when never
// connected.
func (a *BLEAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closeLocked()
}

func (a *BLEAdapter) closeLocked() error {
	if !a.isOpen {
		return nil
	}

	err := a.client.CancelConnection()
	a.client = nil
	a.char = nil
	a.isOpen = false
	if err != nil {
		return fmt.Errorf("failed to disconnect GATT server: %w", err)
	}
	return nil
}

// IsOpen returns whether the peripheral is connected
func (a *BLEAdapter) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isOpen
}

// Kind returns the transport type
func (a *BLEAdapter) Kind() device.ConnectionType {
	return device.ConnBluetooth
}

// ChunkSize returns the maximum single-write size.
func (a *BLEAdapter) ChunkSize() int { return bleChunkSize }

// ChunkDelay returns the pause between consecutive chunk writes.
func (a *BLEAdapter) ChunkDelay() time.Duration { return bleChunkDelay }

// Reconnect tears down a dropped link and dials the peripheral again.
func (a *BLEAdapter) Reconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.isOpen {
		// Best effort; the link is likely already gone.
		a.client.CancelConnection()
		a.client = nil
		a.char = nil
		a.isOpen = false
	}
	return a.openLocked()
}
