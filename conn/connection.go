// Package conn implements the per-connection state machine described by
// spec §3/§4.4: Connecting -> Connected -> Disconnecting -> Disconnected,
// with buffered send, half-close shutdown, and force-close.
//
// Grounded on original_source/network/{include,src}/TcpConnection.{h,cc}
// for the state machine and write-drain logic, adapted from that
// implementation's shared_ptr-pinned-callback style to the Go idiom: a
// *Connection captured by a closure posted to its owning Reactor is kept
// alive by the closure itself, so no manual reference counting is
// needed (spec §9's "shared-pointer lifetimes" note).
package conn

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/zbh255/bilog"
	"golang.org/x/sys/unix"

	"github.com/momentics/rrpc/buffer"
	"github.com/momentics/rrpc/log"
	"github.com/momentics/rrpc/netutil"
	"github.com/momentics/rrpc/reactor"
)

// State is one point in the connection lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Connection owns one TCP socket, its poll handle, and its input/output
// buffers. All mutation of its buffers and state happens on the owning
// Reactor's thread; Send may be called from any thread.
type Connection struct {
	r      *reactor.Reactor
	fd     int
	handle *reactor.PollHandle
	name   string

	localAddr netutil.Address
	peerAddr  netutil.Address

	inputBuf  *buffer.Buffer
	outputBuf *buffer.Buffer

	state   int32
	faulted int32

	highWaterMark       int
	highWaterMarkCalled bool

	context any
	logger  bilog.Logger

	ConnectionCallback    func(*Connection)
	MessageCallback       func(*Connection, *buffer.Buffer)
	WriteCompleteCallback func(*Connection)
	CloseCallback         func(*Connection)
	HighWaterMarkCallback func(*Connection, int)
}

// New constructs a Connection bound to r, in the Connecting state. The
// connection does not begin reading until Establish is called.
func New(r *reactor.Reactor, fd int, local, peer netutil.Address) *Connection {
	c := &Connection{
		r:             r,
		fd:            fd,
		name:          peer.String(),
		localAddr:     local,
		peerAddr:      peer,
		inputBuf:      buffer.New(),
		outputBuf:     buffer.New(),
		state:         int32(StateConnecting),
		highWaterMark: 64 * 1024 * 1024,
		logger:        log.Default,
	}
	netutil.SetKeepAlive(fd, true)
	netutil.SetTCPNoDelay(fd, true)
	c.handle = reactor.NewPollHandle(r, fd)
	c.handle.OnRead = c.handleRead
	c.handle.OnWrite = c.handleWrite
	c.handle.OnClose = c.handleClose
	c.handle.OnError = c.handleError
	return c
}

// Name returns the connection's identifying string, its peer address.
func (c *Connection) Name() string { return c.name }

// Fd returns the underlying file descriptor.
func (c *Connection) Fd() int { return c.fd }

// LocalAddr returns the local endpoint.
func (c *Connection) LocalAddr() netutil.Address { return c.localAddr }

// PeerAddr returns the remote endpoint.
func (c *Connection) PeerAddr() netutil.Address { return c.peerAddr }

// Reactor returns the owning reactor.
func (c *Connection) Reactor() *reactor.Reactor { return c.r }

// State returns the current lifecycle state.
func (c *Connection) State() State { return State(atomic.LoadInt32(&c.state)) }

func (c *Connection) setState(s State) { atomic.StoreInt32(&c.state, int32(s)) }

// SetContext attaches application-defined bookkeeping to the connection
// (e.g. an RPC server's per-peer state), mirroring
// TcpConnection::setContext in the original source.
func (c *Connection) SetContext(v any) { c.context = v }

// Context returns the previously attached application context, if any.
func (c *Connection) Context() any { return c.context }

// SetLogger overrides the connection's diagnostic logger.
func (c *Connection) SetLogger(l bilog.Logger) { c.logger = l }

// SetNoDelay toggles TCP_NODELAY on the underlying socket, overriding the
// on-by-default setting applied at construction.
func (c *Connection) SetNoDelay(on bool) { netutil.SetTCPNoDelay(c.fd, on) }

// SetHighWaterMark configures the output-queue threshold, in bytes, above
// which HighWaterMarkCallback fires once until the queue drains back
// below it (spec §5 supplement, original source's highWaterMarkCallback).
func (c *Connection) SetHighWaterMark(n int) { c.highWaterMark = n }

// Establish transitions Connecting -> Connected on the owning reactor and
// begins read notifications. Only the server or client that created
// this connection should call it, exactly once.
func (c *Connection) Establish() {
	c.r.Post(func() {
		if c.State() != StateConnecting {
			panic("conn: establish called outside Connecting state")
		}
		c.setState(StateConnected)
		c.handle.EnableRead()
		if c.ConnectionCallback != nil {
			c.ConnectionCallback(c)
		}
	})
}

func (c *Connection) handleRead() {
	n, err := c.inputBuf.ReadFd(c.fd)
	switch {
	case err != nil:
		c.logger.ErrorFromString(fmt.Sprintf("conn %s: read error: %v", c.name, err))
		c.handleError()
	case n == 0:
		c.handleClose()
	case n < 0:
		// transient readiness noise (EAGAIN/EINTR); nothing to do.
	default:
		if c.MessageCallback != nil {
			c.MessageCallback(c, c.inputBuf)
		}
	}
}

func (c *Connection) handleWrite() {
	if !c.handle.IsWriting() {
		return
	}
	n, err := unix.Write(c.fd, c.outputBuf.Peek())
	if err != nil {
		if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			c.logger.ErrorFromString(fmt.Sprintf("conn %s: write error: %v", c.name, err))
		}
		return
	}
	c.outputBuf.Retrieve(n)
	if c.outputBuf.ReadableBytes() < c.highWaterMark {
		c.highWaterMarkCalled = false
	}
	if c.outputBuf.ReadableBytes() == 0 {
		c.handle.DisableWrite()
		if c.WriteCompleteCallback != nil {
			cb := c.WriteCompleteCallback
			c.r.Queue(func() { cb(c) })
		}
		if c.State() == StateDisconnecting {
			c.shutdownInLoop()
		}
	}
}

func (c *Connection) handleClose() {
	st := c.State()
	if st != StateConnected && st != StateDisconnecting {
		return
	}
	c.setState(StateDisconnected)
	c.handle.DisableAll()
	if c.ConnectionCallback != nil {
		c.ConnectionCallback(c)
	}
	if c.CloseCallback != nil {
		c.CloseCallback(c)
	}
	c.r.Queue(c.connectDestroyed)
}

func (c *Connection) connectDestroyed() {
	c.handle.Detach()
	netutil.Close(c.fd)
}

func (c *Connection) handleError() {
	err := netutil.SocketError(c.fd)
	c.logger.ErrorFromString(fmt.Sprintf("conn %s: socket error: %v", c.name, err))
}

// Send queues data for transmission. If called on the owning reactor's
// thread the write is attempted immediately (spec §4.4); otherwise the
// payload is copied and a task is posted to run on that thread.
func (c *Connection) Send(data []byte) {
	if len(data) == 0 {
		return
	}
	if c.r.IsInLoopThread() {
		c.sendInLoop(data)
		return
	}
	cp := append([]byte(nil), data...)
	c.r.Queue(func() { c.sendInLoop(cp) })
}

func (c *Connection) sendInLoop(data []byte) {
	if c.State() == StateDisconnected {
		return
	}
	if atomic.LoadInt32(&c.faulted) == 1 {
		return
	}

	wrote := 0
	fault := false

	if !c.handle.IsWriting() && c.outputBuf.ReadableBytes() == 0 {
		n, err := unix.Write(c.fd, data)
		switch {
		case err == nil:
			wrote = n
			if wrote == len(data) && c.WriteCompleteCallback != nil {
				cb := c.WriteCompleteCallback
				c.r.Queue(func() { cb(c) })
			}
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			wrote = 0
		case err == unix.EPIPE || err == unix.ECONNRESET:
			fault = true
		default:
			c.logger.ErrorFromString(fmt.Sprintf("conn %s: write error: %v", c.name, err))
		}
	}

	if fault {
		atomic.StoreInt32(&c.faulted, 1)
		return
	}

	remaining := data[wrote:]
	if len(remaining) > 0 {
		c.outputBuf.Append(remaining)
		if !c.handle.IsWriting() {
			c.handle.EnableWrite()
		}
		if !c.highWaterMarkCalled && c.HighWaterMarkCallback != nil &&
			c.outputBuf.ReadableBytes() >= c.highWaterMark {
			c.highWaterMarkCalled = true
			cb := c.HighWaterMarkCallback
			n := c.outputBuf.ReadableBytes()
			c.r.Queue(func() { cb(c, n) })
		}
	}
}

// Shutdown half-closes the connection: the write side closes once the
// output buffer fully drains, but reads keep delivering until the peer
// closes its side.
func (c *Connection) Shutdown() {
	c.r.Post(func() {
		if c.State() == StateConnected {
			c.setState(StateDisconnecting)
			c.shutdownInLoop()
		}
	})
}

func (c *Connection) shutdownInLoop() {
	if !c.handle.IsWriting() {
		netutil.ShutdownWrite(c.fd)
	}
}

// ForceClose schedules an immediate handleClose from Connected or
// Disconnecting.
func (c *Connection) ForceClose() {
	st := c.State()
	if st == StateConnected || st == StateDisconnecting {
		c.setState(StateDisconnecting)
		c.r.Post(c.forceCloseInLoop)
	}
}

func (c *Connection) forceCloseInLoop() {
	st := c.State()
	if st == StateConnected || st == StateDisconnecting {
		c.handleClose()
	}
}

// ForceCloseWithDelay transitions to Disconnecting immediately and
// schedules a ForceClose after d. Implemented with time.AfterFunc, the
// stdlib scheduler standing in for the "scheduler assumed available"
// primitive spec §4.4 describes.
func (c *Connection) ForceCloseWithDelay(d time.Duration) {
	st := c.State()
	if st == StateConnected || st == StateDisconnecting {
		c.setState(StateDisconnecting)
		time.AfterFunc(d, func() {
			c.r.Post(c.forceCloseInLoop)
		})
	}
}
