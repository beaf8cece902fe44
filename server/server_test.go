package server

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSink records dispatched jobs
type mockSink struct {
	mu   sync.Mutex
	jobs [][]byte
	ids  []string
}

func (m *mockSink) Print(ctx context.Context, deviceID string, payload []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, deviceID)
	m.jobs = append(m.jobs, append([]byte(nil), payload...))
	return true
}

func (m *mockSink) Jobs() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.jobs))
	copy(out, m.jobs)
	return out
}

func TestNewServer(t *testing.T) {
	sink := &mockSink{}
	address := "localhost:9100"

	srv := New(sink, "p1", address)

	assert.NotNil(t, srv)
	assert.Equal(t, address, srv.Address())
	assert.False(t, srv.IsRunning())
}

func TestServerStartStop(t *testing.T) {
	sink := &mockSink{}
	srv := New(sink, "p1", "localhost:9101")

	// Test start async (non-blocking)
	err := srv.StartAsync()
	require.NoError(t, err)
	assert.True(t, srv.IsRunning())

	// Test double start
	err = srv.StartAsync()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	// Test stop
	err = srv.Stop()
	require.NoError(t, err)
	assert.False(t, srv.IsRunning())

	// Test double stop (should not error)
	err = srv.Stop()
	assert.NoError(t, err)
}

func TestServerDispatchesJob(t *testing.T) {
	sink := &mockSink{}
	address := "localhost:9102"
	srv := New(sink, "p1", address)

	require.NoError(t, srv.StartAsync())
	defer srv.Stop()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	conn, err := net.Dial("tcp", address)
	require.NoError(t, err)

	job := []byte{0x1B, 0x40, 'h', 'e', 'l', 'l', 'o', 0x1D, 0x56, 0x41, 0x03}
	_, err = conn.Write(job)
	require.NoError(t, err)

	// Job is submitted when the client closes its side
	require.NoError(t, conn.Close())
	time.Sleep(100 * time.Millisecond)

	jobs := sink.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, job, jobs[0])
	assert.Equal(t, []string{"p1"}, sink.ids)
}

func TestServerMultipleConnections(t *testing.T) {
	sink := &mockSink{}
	address := "localhost:9103"
	srv := New(sink, "p1", address)

	require.NoError(t, srv.StartAsync())
	defer srv.Stop()

	time.Sleep(100 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := net.Dial("tcp", address)
			if err != nil {
				t.Errorf("dial: %v", err)
				return
			}
			conn.Write([]byte{byte('a' + i)})
			conn.Close()
		}(i)
	}
	wg.Wait()
	time.Sleep(200 * time.Millisecond)

	assert.Len(t, sink.Jobs(), 3, "each connection is one job")
}

func TestServerEmptyJobIgnored(t *testing.T) {
	sink := &mockSink{}
	address := "localhost:9104"
	srv := New(sink, "p1", address)

	require.NoError(t, srv.StartAsync())
	defer srv.Stop()

	time.Sleep(100 * time.Millisecond)

	conn, err := net.Dial("tcp", address)
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	time.Sleep(100 * time.Millisecond)

	assert.Empty(t, sink.Jobs())
}
