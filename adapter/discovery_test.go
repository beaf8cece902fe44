package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holodroid23-tech/pos-hardware/device"
)

// fakeReaderSource emits a scripted discovered-readers event after a
// delay, or never when silent.
type fakeReaderSource struct {
	readers []device.Device
	delay   time.Duration
	silent  bool
	stopped bool
}

func (f *fakeReaderSource) StartDiscovery(ctx context.Context) (<-chan []device.Device, func(), error) {
	ch := make(chan []device.Device, 1)
	if !f.silent {
		timer := time.AfterFunc(f.delay, func() { ch <- f.readers })
		return ch, func() { timer.Stop(); f.stopped = true }, nil
	}
	return ch, func() { f.stopped = true }, nil
}

func TestDiscoverNoTransports(t *testing.T) {
	d := NewDiscovery(nil, nil, nil, device.Paper58mm)

	devs, err := d.Discover(context.Background(), device.KindPrinter)
	require.NoError(t, err, "missing transports must not be an error")
	assert.Empty(t, devs)

	devs, err = d.Discover(context.Background(), device.KindTerminal)
	require.NoError(t, err)
	assert.Empty(t, devs)
}

func TestDiscoverPrintersAppliesPaperSize(t *testing.T) {
	static := StaticTransport{Devices: []device.Device{
		{ID: "sim-1", Name: "Sim", Kind: device.KindPrinter, ConnectionType: device.ConnBluetooth},
	}}
	d := NewDiscovery(nil, static, nil, device.Paper80mm)

	devs, err := d.Discover(context.Background(), device.KindPrinter)
	require.NoError(t, err)
	require.Len(t, devs, 1)
	assert.Equal(t, device.Paper80mm, devs[0].PaperSize)
}

func TestDiscoverTerminalsEvent(t *testing.T) {
	src := &fakeReaderSource{
		readers: []device.Device{{
			ID:             "rdr-1",
			Name:           "Reader",
			Kind:           device.KindTerminal,
			ConnectionType: device.ConnEmbedded,
			Provider:       "stripe",
		}},
		delay: 10 * time.Millisecond,
	}
	d := NewDiscovery(nil, nil, src, device.Paper58mm)

	devs, err := d.Discover(context.Background(), device.KindTerminal)
	require.NoError(t, err)
	require.Len(t, devs, 1)
	assert.Equal(t, "rdr-1", devs[0].ID)
	assert.True(t, src.stopped, "listener must be released after success")
}

func TestDiscoverTerminalsTimeout(t *testing.T) {
	src := &fakeReaderSource{silent: true}
	d := NewDiscovery(nil, nil, src, device.Paper58mm)
	d.SetReaderTimeout(50 * time.Millisecond)

	_, err := d.Discover(context.Background(), device.KindTerminal)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDiscoveryTimedOut)
	assert.True(t, src.stopped, "listener must be released after timeout")
}

func TestDiscoverTerminalsCancelled(t *testing.T) {
	src := &fakeReaderSource{silent: true}
	d := NewDiscovery(nil, nil, src, device.Paper58mm)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := d.Discover(ctx, device.KindTerminal)
	assert.ErrorIs(t, err, ErrDiscoveryCancelled)
}

func TestDiscoverUnknownKind(t *testing.T) {
	d := NewDiscovery(nil, nil, nil, device.Paper58mm)

	devs, err := d.Discover(context.Background(), device.KindScanner)
	require.NoError(t, err)
	assert.Empty(t, devs)
}
