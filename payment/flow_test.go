package payment

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holodroid23-tech/pos-hardware/adapter"
	"github.com/holodroid23-tech/pos-hardware/device"
)

func testFlow(t *testing.T, backend *SimulatedBackend) *Flow {
	t.Helper()
	reg, err := device.Open(filepath.Join(t.TempDir(), "devices.json"))
	require.NoError(t, err)

	disc := adapter.NewDiscovery(nil, nil, backend, device.Paper58mm)
	mgr := adapter.NewManager(reg, Dial(backend, adapter.DefaultDial))

	f := NewFlow(disc, mgr, backend)
	f.Simulated = true
	f.SetSuccessDelay(time.Millisecond)
	return f
}

func stepsOf(trs []Transition) []Step {
	var steps []Step
	for _, tr := range trs {
		if len(steps) == 0 || steps[len(steps)-1] != tr.Step {
			steps = append(steps, tr.Step)
		}
	}
	return steps
}

func TestCollectHappyPath(t *testing.T) {
	backend := NewSimulatedBackend()
	f := testFlow(t, backend)

	var trs []Transition
	f.OnTransition(func(tr Transition) { trs = append(trs, tr) })

	require.NoError(t, f.Collect(context.Background(), 24.30))
	assert.Equal(t, StepSuccess, f.Step())

	assert.Equal(t, []Step{
		StepInitializing,
		StepDiscovering,
		StepConnecting,
		StepProcessing,
		StepSuccess,
	}, stepsOf(trs), "steps must be visited strictly in order")

	// Intermediate hardware messages are relayed during processing
	var messages []string
	for _, tr := range trs {
		if tr.Step == StepProcessing && tr.Message != "" {
			messages = append(messages, tr.Message)
		}
	}
	assert.Contains(t, messages, "Waiting for card")
}

func TestCollectNoReaders(t *testing.T) {
	backend := NewSimulatedBackend()
	backend.Readers = []device.Device{}
	f := testFlow(t, backend)

	err := f.Collect(context.Background(), 10)
	assert.ErrorIs(t, err, ErrNoReaderDetected)
	assert.Equal(t, StepError, f.Step())
	assert.Contains(t, f.Message(), "No card reader detected")
}

func TestCollectDiscoveryTimeout(t *testing.T) {
	backend := NewSimulatedBackend()
	backend.DiscoveryDelay = time.Hour
	f := testFlow(t, backend)
	f.discovery.SetReaderTimeout(50 * time.Millisecond)

	err := f.Collect(context.Background(), 10)
	assert.ErrorIs(t, err, adapter.ErrDiscoveryTimedOut)
	assert.Equal(t, StepError, f.Step())
}

func TestCollectDeclined(t *testing.T) {
	backend := NewSimulatedBackend()
	backend.Outcome = ErrPaymentDeclined
	f := testFlow(t, backend)

	err := f.Collect(context.Background(), 10)
	assert.ErrorIs(t, err, ErrPaymentDeclined)
	assert.Equal(t, StepError, f.Step())
	assert.Equal(t, "Payment declined.", f.Message())
}

func TestCollectDeclinedDemoMode(t *testing.T) {
	backend := NewSimulatedBackend()
	backend.Outcome = ErrPaymentDeclined
	f := testFlow(t, backend)
	f.DemoMode = true

	require.NoError(t, f.Collect(context.Background(), 10))
	assert.Equal(t, StepSuccess, f.Step())
}

func TestCollectDebugBuildMessage(t *testing.T) {
	backend := NewSimulatedBackend()
	backend.Outcome = ErrDebugBuildRestricted
	f := testFlow(t, backend)

	err := f.Collect(context.Background(), 10)
	assert.ErrorIs(t, err, ErrDebugBuildRestricted)
	assert.Contains(t, f.Message(), "debug builds")
	assert.Contains(t, f.Message(), "release build")
}

func TestRetryResetsToInitializing(t *testing.T) {
	backend := NewSimulatedBackend()
	backend.Readers = []device.Device{}
	f := testFlow(t, backend)

	require.Error(t, f.Collect(context.Background(), 10))
	require.Equal(t, StepError, f.Step())

	// Reader shows up; retry restarts the whole flow
	backend.Readers = nil

	var trs []Transition
	f.OnTransition(func(tr Transition) { trs = append(trs, tr) })

	require.NoError(t, f.Retry(context.Background()))
	assert.Equal(t, StepSuccess, f.Step())
	require.NotEmpty(t, trs)
	assert.Equal(t, StepInitializing, trs[0].Step, "retry must restart from initializing")
}

func TestSingleActiveSession(t *testing.T) {
	backend := NewSimulatedBackend()
	f := testFlow(t, backend)
	f.SetSuccessDelay(200 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- f.Collect(context.Background(), 10) }()

	// Give the first session time to start
	time.Sleep(50 * time.Millisecond)
	err := f.Collect(context.Background(), 20)
	assert.ErrorIs(t, err, ErrSessionActive)

	require.NoError(t, <-done)
}

func TestCancelRules(t *testing.T) {
	backend := NewSimulatedBackend()
	f := testFlow(t, backend)

	// Initial step is initializing: cancellable
	assert.NoError(t, f.Cancel())

	f.mu.Lock()
	f.step = StepProcessing
	f.mu.Unlock()
	assert.ErrorIs(t, f.Cancel(), ErrNotCancellable)

	f.mu.Lock()
	f.step = StepError
	f.mu.Unlock()
	assert.NoError(t, f.Cancel())
}

func TestCancelledBeforeDiscovery(t *testing.T) {
	backend := NewSimulatedBackend()
	f := testFlow(t, backend)

	// Cancel mid-session while still initializing.
	f.OnTransition(func(tr Transition) {
		if tr.Step == StepInitializing {
			require.NoError(t, f.Cancel())
		}
	})

	err := f.Collect(context.Background(), 10)
	assert.ErrorIs(t, err, adapter.ErrDiscoveryCancelled)
	assert.Equal(t, StepError, f.Step())
}

func TestCancelDoesNotLeakIntoNextSession(t *testing.T) {
	backend := NewSimulatedBackend()
	f := testFlow(t, backend)

	cancelOnce := true
	f.OnTransition(func(tr Transition) {
		if tr.Step == StepInitializing && cancelOnce {
			cancelOnce = false
			require.NoError(t, f.Cancel())
		}
	})

	err := f.Collect(context.Background(), 10)
	require.ErrorIs(t, err, adapter.ErrDiscoveryCancelled)

	// The error step is cancellable; a user backing out here must not
	// poison the session that follows.
	require.NoError(t, f.Cancel())

	assert.NoError(t, f.Collect(context.Background(), 20))
	assert.Equal(t, StepSuccess, f.Step())
}

func TestReaderSession(t *testing.T) {
	backend := NewSimulatedBackend()
	require.NoError(t, backend.Initialize(true))

	s := NewReaderSession(backend, "sim-reader-1")
	assert.False(t, s.IsOpen())

	require.NoError(t, s.Open())
	assert.True(t, s.IsOpen())
	assert.Equal(t, device.ConnEmbedded, s.Kind())

	_, err := s.Write([]byte("raw"))
	assert.Error(t, err)

	require.NoError(t, s.Close())
	assert.False(t, s.IsOpen())
}
