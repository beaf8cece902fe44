// Package dispatch writes encoded receipt bytes to a connected device
// via the correct transport, falling back to an OS-level print intent
// when nothing is connected.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/holodroid23-tech/pos-hardware/adapter"
	"github.com/holodroid23-tech/pos-hardware/device"
)

// Dispatcher routes encoded byte streams to connected devices.
type Dispatcher struct {
	registry *device.Registry
	manager  *adapter.Manager
	intent   IntentFunc
	logger   *log.Logger
}

// New creates a dispatcher over the given registry and connection
// manager.
func New(registry *device.Registry, manager *adapter.Manager) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		manager:  manager,
		intent:   LaunchIntent,
		logger:   log.New(os.Stdout, "[DISPATCH] ", log.LstdFlags|log.Lmsgprefix),
	}
}

// SetIntentFunc replaces the external print-intent launcher.
func (d *Dispatcher) SetIntentFunc(fn IntentFunc) { d.intent = fn }

// SetLogger replaces the default logger.
func (d *Dispatcher) SetLogger(l *log.Logger) { d.logger = l }

// Print writes payload to the device. The device is busy for the
// duration and idle again afterward even when the write fails. With no
// live connection for the id, the payload is handed to the external
// print intent instead; that path reports success on handoff alone.
func (d *Dispatcher) Print(ctx context.Context, deviceID string, payload []byte) bool {
	conn, ok := d.manager.Get(deviceID)
	if !ok {
		d.logger.Printf("No connection for %s, dispatching external print intent", deviceID)
		if err := d.intent(payload); err != nil {
			d.logger.Printf("External print intent failed: %v", err)
			return false
		}
		return true
	}

	d.registry.SetStatus(deviceID, device.StatusBusy)
	defer d.registry.SetStatus(deviceID, device.StatusIdle)

	var err error
	if cw, chunked := conn.Adapter.(adapter.ChunkedWriter); chunked && cw.ChunkSize() > 0 {
		err = d.writeChunked(ctx, conn.Adapter, cw, payload)
	} else {
		_, err = conn.Adapter.Write(payload)
	}

	if err != nil {
		d.logger.Printf("Print to %s failed: %v", deviceID, err)
		return false
	}
	d.logger.Printf("Printed %d bytes to %s", len(payload), deviceID)
	return true
}

// writeChunked writes the payload in strictly sequential fixed-size
// chunks, pausing between them so the peripheral's buffer keeps up.
// A dropped link gets one reconnect attempt before the write fails.
func (d *Dispatcher) writeChunked(ctx context.Context, a adapter.Adapter, cw adapter.ChunkedWriter, payload []byte) error {
	size := cw.ChunkSize()
	delay := cw.ChunkDelay()
	reconnected := false

	for _, chunk := range Chunks(payload, size) {
		_, err := a.Write(chunk)
		if err != nil && !reconnected {
			rc, can := a.(adapter.Reconnecter)
			if !can {
				return err
			}
			d.logger.Printf("Chunk write failed (%v), attempting reconnect", err)
			if rerr := rc.Reconnect(); rerr != nil {
				return fmt.Errorf("reconnect failed: %w", rerr)
			}
			reconnected = true
			_, err = a.Write(chunk)
		}
		if err != nil {
			return err
		}

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// Chunks splits b into ceil(len(b)/size) pieces of at most size bytes,
// preserving order.
func Chunks(b []byte, size int) [][]byte {
	if size <= 0 {
		return [][]byte{b}
	}
	out := make([][]byte, 0, (len(b)+size-1)/size)
	for off := 0; off < len(b); off += size {
		end := off + size
		if end > len(b) {
			end = len(b)
		}
		out = append(out, b[off:end])
	}
	return out
}
