// Package transport puts serialized datagrams on the wire as UDP
// broadcasts. Delivery is fire-and-forget.
package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Sender writes one payload to the swarm
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

// Options configures a Broadcaster
type Options struct {
	Address string
	Port    int
	// RatePerSec paces sends when positive. Zero sends immediately.
	RatePerSec float64
	Burst      int
}

// Broadcaster sends datagrams to a broadcast address from an unbound UDP
// socket with SO_BROADCAST enabled
type Broadcaster struct {
	mu      sync.Mutex
	conn    net.PacketConn
	dest    *net.UDPAddr
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewBroadcaster opens the socket used for every send
func NewBroadcaster(ctx context.Context, opts Options, logger *zap.Logger) (*Broadcaster, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dest, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(opts.Address, strconv.Itoa(opts.Port)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve broadcast address %s:%d: %w", opts.Address, opts.Port, err)
	}

	lc := net.ListenConfig{Control: enableBroadcast}
	conn, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("failed to open broadcast socket: %w", err)
	}

	b := &Broadcaster{
		conn:   conn,
		dest:   dest,
		logger: logger,
	}
	if opts.RatePerSec > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}

	logger.Info("Broadcast transport ready",
		zap.String("local", conn.LocalAddr().String()),
		zap.String("destination", dest.String()))
	return b, nil
}

// Destination returns the broadcast address datagrams are sent to
func (b *Broadcaster) Destination() string {
	return b.dest.String()
}

// Send writes payload once. It only waits for the pacing limiter, never for
// a reply.
func (b *Broadcaster) Send(ctx context.Context, payload []byte) error {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("send paced out: %w", err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return net.ErrClosed
	}

	n, err := b.conn.WriteTo(payload, b.dest)
	if err != nil {
		return fmt.Errorf("failed to send to %s: %w", b.dest, err)
	}
	if n != len(payload) {
		return fmt.Errorf("short write to %s: %d of %d bytes", b.dest, n, len(payload))
	}

	b.logger.Debug("Datagram sent", zap.String("destination", b.dest.String()), zap.Int("bytes", n))
	return nil
}

// Close releases the socket
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}
