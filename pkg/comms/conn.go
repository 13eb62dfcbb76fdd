package comms

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// FramedConn carries newline-terminated text frames over one stream
// connection to a single remote node.
type FramedConn struct {
	conn net.Conn
	ip   string

	wmu    sync.Mutex
	closed atomic.Bool
}

// NewFramedConn wraps conn. ip is the remote node's address and identifies
// the peer.
func NewFramedConn(conn net.Conn, ip string) *FramedConn {
	return &FramedConn{conn: conn, ip: ip}
}

// RemoteIP returns the address of the remote node
func (c *FramedConn) RemoteIP() string {
	return c.ip
}

// Send writes payload as one frame. Concurrent calls are serialized so
// frames never interleave on the wire.
func (c *FramedConn) Send(payload string) error {
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}
	if c.closed.Load() {
		return fmt.Errorf("%w: %s", ErrClosed, c.ip)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("%w: write to %s: %v", ErrConnectionFailure, c.ip, err)
	}
	return nil
}

// ReadLoop decodes frames and passes each to onFrame in stream order. It
// returns when the connection is closed by either side (nil for a remote
// closure or local Close), on a read error, or with the first error onFrame
// returns.
func (c *FramedConn) ReadLoop(onFrame func(ip, frame string) error) error {
	fr := NewFrameReader(c.conn)
	for {
		frame, err := fr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || c.closed.Load() {
				return nil
			}
			return fmt.Errorf("%w: read from %s: %v", ErrConnectionFailure, c.ip, err)
		}
		if err := onFrame(c.ip, frame); err != nil {
			return err
		}
	}
}

// Close closes the underlying connection. Safe to call more than once.
func (c *FramedConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}

// Closed reports whether Close has been called
func (c *FramedConn) Closed() bool {
	return c.closed.Load()
}

// Dialer opens outbound connections to other nodes.
type Dialer interface {
	Dial(ip string) (*FramedConn, error)
}

// TCPDialer dials the well-known service port of other nodes
type TCPDialer struct {
	Port uint16
	// Source address for outgoing connections; empty lets the OS choose
	LocalIP string
	// Zero means no timeout
	Timeout time.Duration
}

// Dial connects to ip on the service port. It may block for the whole TCP
// handshake.
func (d *TCPDialer) Dial(ip string) (*FramedConn, error) {
	nd := &net.Dialer{Timeout: d.Timeout}
	if d.LocalIP != "" {
		nd.LocalAddr = &net.TCPAddr{IP: net.ParseIP(d.LocalIP)}
	}
	conn, err := nd.Dial("tcp", net.JoinHostPort(ip, strconv.Itoa(int(d.Port))))
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnectionFailure, ip, err)
	}
	return NewFramedConn(conn, ip), nil
}
