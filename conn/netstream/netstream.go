// Package netstream is the reference implementation of the conn.Stream,
// conn.Resolver, and conn.Dialer contracts over a real TCP socket. It is
// not part of the connection engine itself; a caller may substitute any
// other transport that satisfies those contracts (TLS, a Unix socket, an
// in-memory pipe for tests).
package netstream

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/pzhenzhou/respcore/conn"
)

// Dialer is a conn.Dialer that opens a TCP connection with SO_REUSEADDR
// and SO_REUSEPORT set on the socket before connect(2).
type Dialer struct{}

func (Dialer) Dial(ctx context.Context, addr string) (conn.Stream, error) {
	dialer := &net.Dialer{
		Control: func(_, _ string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				if err := syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
					ctrlErr = fmt.Errorf("netstream: SO_REUSEADDR: %w", err)
					return
				}
				if err := syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
					ctrlErr = fmt.Errorf("netstream: SO_REUSEPORT: %w", err)
					return
				}
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}
	return dialer.DialContext(ctx, "tcp", addr)
}

// Resolver is a conn.Resolver backed by net.DefaultResolver.
type Resolver struct{}

func (Resolver) Resolve(ctx context.Context, host string, port int) ([]string, error) {
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	addrs := make([]string, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, net.JoinHostPort(ip.String(), fmtPort(port)))
	}
	return addrs, nil
}

func fmtPort(p int) string {
	return fmt.Sprintf("%d", p)
}
