package dispatch

import (
	"bytes"
	"context"
	"encoding/base64"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holodroid23-tech/pos-hardware/adapter"
	"github.com/holodroid23-tech/pos-hardware/device"
)

func setup(t *testing.T, sim *adapter.SimulatedAdapter) (*device.Registry, *adapter.Manager, *Dispatcher) {
	t.Helper()
	reg, err := device.Open(filepath.Join(t.TempDir(), "devices.json"))
	require.NoError(t, err)

	mgr := adapter.NewManager(reg, func(device.Device) (adapter.Adapter, error) {
		return sim, nil
	})
	return reg, mgr, New(reg, mgr)
}

func printerDevice(id string) device.Device {
	return device.Device{
		ID:             id,
		Name:           "Sim",
		Kind:           device.KindPrinter,
		ConnectionType: device.ConnUSB,
		PaperSize:      device.Paper58mm,
	}
}

func TestPrintSingleWrite(t *testing.T) {
	sim := adapter.NewSimulatedAdapter()
	reg, mgr, d := setup(t, sim)

	require.NoError(t, mgr.Connect(printerDevice("p1")))

	payload := bytes.Repeat([]byte{0xAB}, 100)
	ok := d.Print(context.Background(), "p1", payload)
	require.True(t, ok)

	writes := sim.Writes()
	require.Len(t, writes, 1, "USB path is a single write of the full buffer")
	assert.Equal(t, payload, writes[0])

	dev, _ := reg.Get("p1")
	assert.Equal(t, device.StatusIdle, dev.Status, "device must be idle after printing")
}

func TestPrintChunked(t *testing.T) {
	sim := adapter.NewSimulatedChunkedAdapter(20, 0)
	_, mgr, d := setup(t, sim)

	require.NoError(t, mgr.Connect(printerDevice("p1")))

	payload := bytes.Repeat([]byte{0xCD}, 53)
	ok := d.Print(context.Background(), "p1", payload)
	require.True(t, ok)

	writes := sim.Writes()
	// ceil(53/20) = 3 chunks, in order, each at most 20 bytes
	require.Len(t, writes, 3)
	assert.Len(t, writes[0], 20)
	assert.Len(t, writes[1], 20)
	assert.Len(t, writes[2], 13)
	assert.Equal(t, payload, sim.Payload())
}

func TestPrintChunkedReconnects(t *testing.T) {
	sim := adapter.NewSimulatedChunkedAdapter(20, 0)
	_, mgr, d := setup(t, sim)

	require.NoError(t, mgr.Connect(printerDevice("p1")))
	sim.FailWrites = true

	payload := bytes.Repeat([]byte{0xEE}, 40)
	ok := d.Print(context.Background(), "p1", payload)
	require.True(t, ok, "one reconnect attempt should recover the job")
	assert.Equal(t, payload, sim.Payload())
}

func TestPrintFailureLeavesIdle(t *testing.T) {
	sim := adapter.NewSimulatedAdapter()
	reg, mgr, d := setup(t, sim)

	require.NoError(t, mgr.Connect(printerDevice("p1")))
	sim.FailWrites = true

	ok := d.Print(context.Background(), "p1", []byte("job"))
	assert.False(t, ok)

	dev, _ := reg.Get("p1")
	assert.Equal(t, device.StatusIdle, dev.Status, "failed prints must not leave the device busy")
}

func TestPrintFallsBackToIntent(t *testing.T) {
	sim := adapter.NewSimulatedAdapter()
	_, _, d := setup(t, sim)

	var handed []byte
	d.SetIntentFunc(func(payload []byte) error {
		handed = append([]byte(nil), payload...)
		return nil
	})

	payload := []byte("receipt bytes")
	ok := d.Print(context.Background(), "unconnected", payload)
	require.True(t, ok, "intent handoff counts as success")
	assert.Equal(t, payload, handed)
	assert.Empty(t, sim.Writes())
}

func TestChunks(t *testing.T) {
	cases := []struct {
		n    int
		want int
	}{
		{0, 0},
		{1, 1},
		{20, 1},
		{21, 2},
		{40, 2},
		{41, 3},
		{400, 20},
	}

	for _, tc := range cases {
		got := Chunks(bytes.Repeat([]byte{1}, tc.n), 20)
		assert.Len(t, got, tc.want, "n=%d", tc.n)
		for _, c := range got {
			assert.LessOrEqual(t, len(c), 20)
		}
	}
}

func TestBuildIntentURI(t *testing.T) {
	payload := []byte{0x1B, 0x40, 'h', 'i'}
	uri := BuildIntentURI(payload)

	require.True(t, strings.HasPrefix(uri, "rawbt:base64,"))
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, "rawbt:base64,"))
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}
