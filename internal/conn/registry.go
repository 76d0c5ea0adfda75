// Package conn tracks accepted client connections: the socket, its receive
// buffer and activity timestamps. All methods except Count and Port are
// meant to be called from the scheduler goroutine only.
package conn

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/me/hostbridge/internal/clock"
	"github.com/me/hostbridge/internal/codec"
)

// ErrUnknownConnection is returned for ids that are not (or no longer) registered.
var ErrUnknownConnection = errors.New("unknown connection")

// Config holds connection registry configuration.
type Config struct {
	AcceptTimeout  time.Duration `yaml:"accept_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleGrace      time.Duration `yaml:"idle_grace"`
	ReadBufferSize int           `yaml:"read_buffer_size"`
	MaxFrameBytes  int           `yaml:"max_frame_bytes"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		AcceptTimeout:  time.Millisecond,
		ReadTimeout:    10 * time.Millisecond,
		WriteTimeout:   5 * time.Second,
		IdleGrace:      300 * time.Second,
		ReadBufferSize: 8192,
		MaxFrameBytes:  codec.DefaultMaxFrameBytes,
	}
}

// Connection is one accepted client socket.
type Connection struct {
	ID           string
	RemoteAddr   string
	ConnectedAt  time.Time
	LastActivity time.Time

	conn net.Conn
	buf  []byte
}

// Buffered returns the number of bytes waiting for a delimiter.
func (c *Connection) Buffered() int { return len(c.buf) }

// ReadResult reports the outcome of one bounded read.
type ReadResult struct {
	Frames     [][]byte // complete frames, in arrival order
	WouldBlock bool     // no data within the read bound; connection kept
	Closed     bool     // connection was closed and removed
	FrameErr   error    // oversize frame discarded; connection kept
}

// Registry owns the listener and every accepted connection.
type Registry struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger
	framer codec.Framer

	listener *net.TCPListener
	conns    map[string]*Connection
	active   atomic.Int64
}

// NewRegistry creates an empty Registry.
func NewRegistry(cfg Config, clk clock.Clock, logger *slog.Logger) *Registry {
	return &Registry{
		cfg:    cfg,
		clock:  clk,
		logger: logger.With("component", "connections"),
		framer: codec.Framer{MaxFrameBytes: cfg.MaxFrameBytes},
		conns:  make(map[string]*Connection),
	}
}

// Listen binds the TCP listener. Use port 0 for an ephemeral port.
func (r *Registry) Listen(host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	r.listener = ln.(*net.TCPListener)
	r.logger.Info("listening", "addr", ln.Addr().String())
	return nil
}

// Port returns the bound port, or 0 when not listening.
func (r *Registry) Port() int {
	if r.listener == nil {
		return 0
	}
	return r.listener.Addr().(*net.TCPAddr).Port
}

// Accept attempts a bounded accept. It returns ("", nil) when no client is
// waiting.
func (r *Registry) Accept() (string, error) {
	if r.listener == nil {
		return "", errors.New("registry is not listening")
	}
	if err := r.listener.SetDeadline(time.Now().Add(r.cfg.AcceptTimeout)); err != nil {
		return "", fmt.Errorf("accept deadline: %w", err)
	}
	c, err := r.listener.Accept()
	if err != nil {
		if isTimeout(err) {
			return "", nil
		}
		return "", fmt.Errorf("accept: %w", err)
	}
	if tcp, ok := c.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}
	return r.Adopt(c), nil
}

// Adopt registers an already-established connection and returns its id.
func (r *Registry) Adopt(c net.Conn) string {
	now := r.clock.Now()
	entry := &Connection{
		ID:           "conn_" + uuid.New().String()[:8],
		RemoteAddr:   c.RemoteAddr().String(),
		ConnectedAt:  now,
		LastActivity: now,
		conn:         c,
	}
	r.conns[entry.ID] = entry
	r.active.Store(int64(len(r.conns)))
	r.logger.Info("connection accepted", "conn_id", entry.ID, "remote", entry.RemoteAddr)
	return entry.ID
}

// Read performs one bounded read on the connection and extracts any
// complete frames.
func (r *Registry) Read(id string) (ReadResult, error) {
	c, ok := r.conns[id]
	if !ok {
		return ReadResult{Closed: true}, ErrUnknownConnection
	}

	size := r.cfg.ReadBufferSize
	if size <= 0 {
		size = 8192
	}
	chunk := make([]byte, size)
	if err := c.conn.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout)); err != nil {
		r.remove(c, "deadline", err)
		return ReadResult{Closed: true}, nil
	}
	n, err := c.conn.Read(chunk)
	if n > 0 {
		c.buf = append(c.buf, chunk[:n]...)
		c.LastActivity = r.clock.Now()
	}

	var res ReadResult
	if n > 0 {
		frames, rest, ferr := r.framer.Split(c.buf)
		c.buf = rest
		res.Frames = frames
		if ferr != nil {
			r.logger.Warn("frame discarded", "conn_id", id, "error", ferr)
			res.FrameErr = ferr
		}
	}

	switch {
	case err == nil:
		return res, nil
	case isTimeout(err):
		if n > 0 {
			return res, nil
		}
		if r.clock.Now().Sub(c.LastActivity) >= r.cfg.IdleGrace {
			r.remove(c, "idle", nil)
			res.Closed = true
			return res, nil
		}
		res.WouldBlock = true
		return res, nil
	case errors.Is(err, io.EOF):
		r.remove(c, "eof", nil)
	default:
		r.remove(c, "read error", err)
	}
	res.Closed = true
	return res, nil
}

// Write sends b in full, looping over partial writes.
func (r *Registry) Write(id string, b []byte) error {
	c, ok := r.conns[id]
	if !ok {
		return ErrUnknownConnection
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("write deadline: %w", err)
	}
	for len(b) > 0 {
		n, err := c.conn.Write(b)
		if err != nil {
			return fmt.Errorf("write %s: %w", id, err)
		}
		b = b[n:]
	}
	return nil
}

// Live reports whether id is a registered connection.
func (r *Registry) Live(id string) bool {
	_, ok := r.conns[id]
	return ok
}

// Get returns the connection for id.
func (r *Registry) Get(id string) (*Connection, bool) {
	c, ok := r.conns[id]
	return c, ok
}

// Drop closes and removes a connection. Unknown ids are ignored.
func (r *Registry) Drop(id, reason string) {
	if c, ok := r.conns[id]; ok {
		r.remove(c, reason, nil)
	}
}

// Reap closes connections idle for longer than the grace period and
// returns how many were removed.
func (r *Registry) Reap() int {
	now := r.clock.Now()
	removed := 0
	for _, c := range r.conns {
		if now.Sub(c.LastActivity) >= r.cfg.IdleGrace {
			r.remove(c, "reaped", nil)
			removed++
		}
	}
	return removed
}

// IDs returns the registered connection ids, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of live connections. Safe from any goroutine.
func (r *Registry) Count() int {
	return int(r.active.Load())
}

// Close closes every connection and the listener.
func (r *Registry) Close() error {
	for _, c := range r.conns {
		r.remove(c, "shutdown", nil)
	}
	if r.listener == nil {
		return nil
	}
	err := r.listener.Close()
	r.listener = nil
	return err
}

func (r *Registry) remove(c *Connection, reason string, cause error) {
	c.conn.Close()
	delete(r.conns, c.ID)
	r.active.Store(int64(len(r.conns)))
	attrs := []any{"conn_id", c.ID, "reason", reason}
	if n := c.Buffered(); n > 0 {
		attrs = append(attrs, "unframed_bytes", n)
	}
	if cause != nil {
		attrs = append(attrs, "error", cause)
	}
	r.logger.Info("connection closed", attrs...)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
