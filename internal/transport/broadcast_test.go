package transport

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (r *received) handle(_ net.Addr, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
}

func (r *received) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

// startLoopbackListener stands in for the swarm on 127.0.0.1
func startLoopbackListener(t *testing.T) (int, *received) {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	r := &received{}
	go func() { done <- Serve(ctx, conn, r.handle) }()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return conn.LocalAddr().(*net.UDPAddr).Port, r
}

func TestBroadcasterSendsOnePayload(t *testing.T) {
	port, r := startLoopbackListener(t)

	b, err := NewBroadcaster(context.Background(), Options{Address: "127.0.0.1", Port: port}, nil)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Send(context.Background(), []byte("takeoff")))

	require.Eventually(t, func() bool { return r.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	r.mu.Lock()
	assert.Equal(t, []byte("takeoff"), r.payloads[0])
	r.mu.Unlock()
	assert.Equal(t, net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), b.Destination())
}

func TestBroadcasterPacing(t *testing.T) {
	port, r := startLoopbackListener(t)

	b, err := NewBroadcaster(context.Background(), Options{Address: "127.0.0.1", Port: port, RatePerSec: 50, Burst: 1}, nil)
	require.NoError(t, err)
	defer b.Close()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Send(context.Background(), []byte{byte(i)}))
	}

	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	require.Eventually(t, func() bool { return r.count() == 3 }, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcasterPacingHonoursContext(t *testing.T) {
	b, err := NewBroadcaster(context.Background(), Options{Address: "127.0.0.1", Port: 9, RatePerSec: 0.001, Burst: 1}, nil)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Send(context.Background(), []byte{1}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, b.Send(ctx, []byte{2}))
}

func TestBroadcasterSendAfterClose(t *testing.T) {
	b, err := NewBroadcaster(context.Background(), Options{Address: "127.0.0.1", Port: 9}, nil)
	require.NoError(t, err)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Send(context.Background(), []byte{1}), net.ErrClosed)
}

func TestNewBroadcasterRejectsBadAddress(t *testing.T) {
	_, err := NewBroadcaster(context.Background(), Options{Address: "not a host", Port: 37020}, nil)
	assert.Error(t, err)
}
