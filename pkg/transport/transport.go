// Package transport implements the UDP datagram I/O collaborator from
// SPEC_FULL.md §4.9: a thin wrapper over *net.UDPConn that tunes the kernel
// socket buffers through the raw file descriptor.
//
// Grounded on runZeroInc-conniver's and runZeroInc-sockstats's
// pkg/exporter/exporter.go, which pulls a raw fd from a net.Conn via
// github.com/higebu/netfd to drive TCP_INFO collection; here the same fd
// access is used for SO_RCVBUF/SO_SNDBUF tuning instead.
package transport

import (
	"context"
	"net"
	"time"

	"github.com/higebu/netfd"
	"golang.org/x/sys/unix"

	"github.com/rn-go/raknet/pkg/raknet"
)

// Config controls the socket buffer sizes applied at Listen/Dial time. Zero
// values leave the OS default untouched.
type Config struct {
	RecvBufBytes int
	SendBufBytes int
}

// Socket adapts a *net.UDPConn to the pipeline's Transport interface.
type Socket struct {
	conn *net.UDPConn
}

// Listen opens a UDP socket bound to laddr and applies cfg's buffer sizes.
func Listen(laddr *net.UDPAddr, cfg Config) (*Socket, error) {
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, &raknet.TransportError{Op: "listen", Err: err}
	}
	if err := tune(conn, cfg); err != nil {
		conn.Close()
		return nil, &raknet.TransportError{Op: "tune", Err: err}
	}
	return &Socket{conn: conn}, nil
}

// Dial opens a UDP socket connected to raddr and applies cfg's buffer
// sizes.
func Dial(raddr *net.UDPAddr, cfg Config) (*Socket, error) {
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, &raknet.TransportError{Op: "dial", Err: err}
	}
	if err := tune(conn, cfg); err != nil {
		conn.Close()
		return nil, &raknet.TransportError{Op: "tune", Err: err}
	}
	return &Socket{conn: conn}, nil
}

func tune(conn *net.UDPConn, cfg Config) error {
	if cfg.RecvBufBytes == 0 && cfg.SendBufBytes == 0 {
		return nil
	}
	fd := netfd.GetFdFromConn(conn)
	if fd < 0 {
		return nil
	}
	if cfg.RecvBufBytes > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, cfg.RecvBufBytes); err != nil {
			return err
		}
	}
	if cfg.SendBufBytes > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, cfg.SendBufBytes); err != nil {
			return err
		}
	}
	return nil
}

// ReadFrom reads one datagram, honoring ctx's deadline if set.
func (s *Socket) ReadFrom(ctx context.Context) ([]byte, *net.UDPAddr, error) {
	if dl, ok := ctx.Deadline(); ok {
		s.conn.SetReadDeadline(dl)
	} else {
		s.conn.SetReadDeadline(time.Time{})
	}
	buf := make([]byte, 65535)
	n, addr, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, nil, &raknet.TransportError{Op: "read", Err: err}
	}
	return buf[:n], addr, nil
}

// WriteTo writes one datagram to addr, honoring ctx's deadline if set. If
// the socket was created with Dial, addr is informational only; the kernel
// route is fixed by the connected 4-tuple.
func (s *Socket) WriteTo(ctx context.Context, b []byte, addr *net.UDPAddr) error {
	if dl, ok := ctx.Deadline(); ok {
		s.conn.SetWriteDeadline(dl)
	} else {
		s.conn.SetWriteDeadline(time.Time{})
	}
	var err error
	if addr != nil && s.conn.RemoteAddr() == nil {
		_, err = s.conn.WriteToUDP(b, addr)
	} else {
		_, err = s.conn.Write(b)
	}
	if err != nil {
		return &raknet.TransportError{Op: "write", Err: err}
	}
	return nil
}

// Close releases the underlying socket.
func (s *Socket) Close() error { return s.conn.Close() }

// LocalAddr reports the bound local address.
func (s *Socket) LocalAddr() *net.UDPAddr { return s.conn.LocalAddr().(*net.UDPAddr) }
