package transport

import (
	stderrors "errors"
	"log/slog"
	"net"
	"time"

	"linkprobe/internal/errors"
)

// drainWindow bounds each read while discarding stale inbound bytes.
const drainWindow = 10 * time.Millisecond

// tcpHandle is a Handle for a serial line exported over TCP by a network
// serial bridge (ser2net and similar radio gateways).
type tcpHandle struct {
	name         string
	conn         net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func openTCP(endpoint, addr string, s Settings) (Handle, error) {
	conn, err := net.DialTimeout("tcp", addr, DefaultDialTimeout)
	if err != nil {
		return nil, errors.NewTransportError("dial", endpoint, err)
	}

	if err := OptimizeTCPConnection(conn); err != nil {
		slog.Warn("Failed to optimize TCP connection", "endpoint", endpoint, "error", err)
	}

	slog.Debug("TCP endpoint opened", "endpoint", endpoint, "remote", conn.RemoteAddr().String())

	return &tcpHandle{
		name:         endpoint,
		conn:         conn,
		readTimeout:  s.readTimeout(),
		writeTimeout: s.WriteTimeout,
	}, nil
}

// OptimizeTCPConnection applies TCP options suited to a byte-stream bridge
func OptimizeTCPConnection(conn net.Conn) error {
	tcpConn, isTCP := conn.(*net.TCPConn)
	if !isTCP {
		return nil // Not a TCP connection, skip optimizations
	}

	// Enable keep-alive to detect dead bridges
	if err := tcpConn.SetKeepAlive(true); err != nil {
		return errors.NewTransportError("set_keepalive", conn.RemoteAddr().String(), err)
	}

	if err := tcpConn.SetKeepAlivePeriod(30 * time.Second); err != nil {
		slog.Warn("Failed to set TCP keepalive period", "error", err)
	}

	// Small writes must leave immediately or the trial measures Nagle, not the link
	if err := tcpConn.SetNoDelay(true); err != nil {
		slog.Warn("Failed to disable Nagle's algorithm", "error", err)
	}

	return nil
}

func (h *tcpHandle) Name() string {
	return h.name
}

func (h *tcpHandle) Write(p []byte) (int, error) {
	if h.writeTimeout > 0 {
		if err := h.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
			return 0, errors.NewTransportError("set_write_deadline", h.name, err)
		}
	}

	n, err := h.conn.Write(p)
	if err != nil {
		return n, errors.NewTransportError("write", h.name, err)
	}
	return n, nil
}

func (h *tcpHandle) ReadAvailable(p []byte) (int, error) {
	if err := h.conn.SetReadDeadline(time.Now().Add(h.readTimeout)); err != nil {
		return 0, errors.NewTransportError("set_read_deadline", h.name, err)
	}

	n, err := h.conn.Read(p)
	if err != nil {
		if isTimeout(err) {
			return n, nil
		}
		return n, errors.NewTransportError("read", h.name, err)
	}
	return n, nil
}

// ResetInputBuffer discards whatever the bridge already delivered by reading
// until a short window passes with nothing new.
func (h *tcpHandle) ResetInputBuffer() error {
	scratch := make([]byte, 4096)
	discarded := 0

	for {
		if err := h.conn.SetReadDeadline(time.Now().Add(drainWindow)); err != nil {
			return errors.NewTransportError("reset_input", h.name, err)
		}

		n, err := h.conn.Read(scratch)
		discarded += n
		if err != nil {
			if isTimeout(err) {
				break
			}
			return errors.NewTransportError("reset_input", h.name, err)
		}
	}

	if discarded > 0 {
		slog.Debug("Discarded stale inbound bytes", "endpoint", h.name, "bytes", discarded)
	}
	return nil
}

func (h *tcpHandle) Close() error {
	if err := h.conn.Close(); err != nil {
		return errors.NewTransportError("close", h.name, err)
	}
	return nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}
