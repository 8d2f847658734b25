// Package udp implements the shared broadcast-capable UDP socket the
// reactor's sender and receiver tasks operate on. Adapted from a
// request/response UDP transport into a connectionless broadcast one: no
// packet history is kept, and SO_BROADCAST is enabled at bind time so the
// caller may subsequently write to an IPv4 limited-broadcast address.
package udp

import (
	"errors"
	"net"
	"time"

	"golang.org/x/xerrors"
)

// maxDatagramSize generously bounds a single read; the protocol itself
// never sends datagrams anywhere near this large.
const maxDatagramSize = 65535

// ErrTimeout is returned by Recv when no datagram arrived before the
// deadline.
var ErrTimeout = errors.New("udp: read timeout")

// Socket is a UDP socket shared by two goroutines: one that periodically
// writes, one that blocks reading. net.UDPConn's methods are safe for
// concurrent use, and closing it from another goroutine is the documented
// way to unblock a pending read.
type Socket struct {
	conn *net.UDPConn
}

// Bind opens a UDP socket on localAddr with SO_BROADCAST enabled.
func Bind(localAddr string) (*Socket, error) {
	addr, err := net.ResolveUDPAddr("udp4", localAddr)
	if err != nil {
		return nil, xerrors.Errorf("udp: resolve %s: %w", localAddr, err)
	}

	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, xerrors.Errorf("udp: listen %s: %w", localAddr, err)
	}

	if err := enableBroadcast(conn); err != nil {
		conn.Close()
		return nil, xerrors.Errorf("udp: enable SO_BROADCAST: %w", err)
	}

	return &Socket{conn: conn}, nil
}

// Send writes payload to dest, typically the broadcast address.
func (s *Socket) Send(dest string, payload []byte) error {
	addr, err := net.ResolveUDPAddr("udp4", dest)
	if err != nil {
		return xerrors.Errorf("udp: resolve %s: %w", dest, err)
	}

	_, err = s.conn.WriteToUDP(payload, addr)
	return err
}

// Recv blocks until a datagram arrives or timeout elapses. On a timeout it
// returns ErrTimeout so the caller can distinguish "nothing yet" from a real
// failure.
func (s *Socket) Recv(timeout time.Duration) ([]byte, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	buf := make([]byte, maxDatagramSize)
	n, _, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, ErrTimeout
		}
		return nil, err
	}
	return buf[:n], nil
}

// Close unblocks any goroutine blocked in Recv and releases the socket.
func (s *Socket) Close() error {
	return s.conn.Close()
}

// LocalAddr returns the address the socket is bound to.
func (s *Socket) LocalAddr() string {
	return s.conn.LocalAddr().String()
}
