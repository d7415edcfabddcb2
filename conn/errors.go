package conn

import (
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
)

var (
	// ErrNotConnected is returned by Exec when the connection is down and
	// the request is not eligible for replay (RetryOnDisconnect is
	// false).
	ErrNotConnected = errors.New("conn: not connected")
	// ErrOperationCanceled is delivered to every outstanding waiter when
	// Close runs.
	ErrOperationCanceled = errors.New("conn: operation canceled")
	// ErrIdleTimeout is delivered to every inflight waiter when the
	// idle-check task declares the connection stalled; unflushed requests
	// carrying RetryOnDisconnect are retained for replay instead.
	ErrIdleTimeout = errors.New("conn: idle timeout, no data received")
	// ErrReadInterrupted marks a request whose reply was partially
	// consumed before a disconnect; per design, it is never replayed.
	ErrReadInterrupted = errors.New("conn: reply interrupted by disconnect")
	// ErrResolveTimeout is returned when Resolver.Resolve fails for any
	// reason (including exceeding Options.ResolveTimeout) or returns no
	// address.
	ErrResolveTimeout = errors.New("conn: host resolution timed out")
	// ErrConnectTimeout is returned when dialing fails for any reason,
	// including exceeding Options.ConnectTimeout.
	ErrConnectTimeout = errors.New("conn: connect timed out")
	// ErrHandshakeFailed is returned when the HELLO request cannot be
	// written, its reply cannot be decoded, or the reply is a server error.
	// Any other reply shape is accepted.
	ErrHandshakeFailed = errors.New("conn: HELLO handshake failed")
)

// IsRetryableIOError classifies a transport-level error as one that
// justifies tearing the connection down and reconnecting, rather than one
// indicating a programmer or protocol error that should simply surface.
func IsRetryableIOError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		if netErr.Err != nil {
			msg := netErr.Err.Error()
			return strings.Contains(msg, "use of closed network connection") ||
				strings.Contains(msg, "connection reset by peer") ||
				strings.Contains(msg, "broken pipe") ||
				strings.Contains(msg, "connection refused")
		}
		return netErr.Op == "read" || netErr.Op == "write" || netErr.Op == "dial"
	}
	var syscallErr *os.SyscallError
	if errors.As(err, &syscallErr) {
		return errors.Is(syscallErr.Err, syscall.ECONNREFUSED) ||
			errors.Is(syscallErr.Err, syscall.ECONNRESET) ||
			errors.Is(syscallErr.Err, syscall.EPIPE)
	}
	return false
}
