package network

import (
	"context"
	"net"
	"time"

	"hermeshub/internal/config"
	"hermeshub/internal/errors"
	"hermeshub/internal/logging"

	"go.uber.org/zap"
)

// Dial opens a tuned TCP connection to addr, giving up after timeout or when
// ctx is done.
func Dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.NewNetworkError("dial", addr, err)
	}

	if err := OptimizeTCPConnection(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// SetIODeadline bounds the next reads and writes on conn. A zero timeout
// clears any deadline.
func SetIODeadline(conn net.Conn, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return errors.NewNetworkError("set_deadline", conn.RemoteAddr().String(), err)
	}
	return nil
}

// SetReadTimeout bounds the next reads on conn. A zero timeout clears it.
func SetReadTimeout(conn net.Conn, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return errors.NewNetworkError("set_read_deadline", conn.RemoteAddr().String(), err)
	}
	return nil
}

// CloseOnCancel closes conn as soon as ctx is done, unblocking any pending
// read or write. The returned function detaches the hook.
func CloseOnCancel(ctx context.Context, conn net.Conn) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		conn.Close()
	})
}

// OptimizeTCPConnection applies TCP optimizations to a connection
func OptimizeTCPConnection(conn net.Conn) error {
	tcpConn, isTCP := conn.(*net.TCPConn)
	if !isTCP {
		return nil // Not a TCP connection, skip optimizations
	}

	// Enable keep-alive to detect dead connections
	if err := tcpConn.SetKeepAlive(true); err != nil {
		return errors.NewNetworkError("set_keepalive", conn.RemoteAddr().String(), err)
	}

	if err := tcpConn.SetKeepAlivePeriod(30 * time.Second); err != nil {
		logging.L().Warn("Failed to set TCP keepalive period", zap.Error(err))
	}

	// Chunk streams flush in large pieces; small control replies must not wait
	if err := tcpConn.SetNoDelay(true); err != nil {
		logging.L().Warn("Failed to disable Nagle's algorithm", zap.Error(err))
	}

	if err := tcpConn.SetReadBuffer(config.TCPBufferSize); err != nil {
		logging.L().Warn("Failed to set TCP read buffer", zap.Error(err))
	}

	if err := tcpConn.SetWriteBuffer(config.TCPBufferSize); err != nil {
		logging.L().Warn("Failed to set TCP write buffer", zap.Error(err))
	}

	return nil
}
