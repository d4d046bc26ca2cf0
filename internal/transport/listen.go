package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
)

// maxDatagram bounds a single UDP payload
const maxDatagram = 65507

// Handler receives each datagram read by Listen
type Handler func(from net.Addr, payload []byte)

// Listen reads datagrams arriving on port until ctx is cancelled
func Listen(ctx context.Context, port int, handle Handler) error {
	lc := net.ListenConfig{Control: enableBroadcast}
	conn, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", port, err)
	}
	return Serve(ctx, conn, handle)
}

// Serve reads from conn until ctx is cancelled, then closes it
func Serve(ctx context.Context, conn net.PacketConn, handle Handler) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("failed to read datagram: %w", err)
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		handle(from, payload)
	}
}
