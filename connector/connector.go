// Package connector implements the active side of connection
// establishment: a non-blocking connect with exponential-backoff retry,
// self-connect detection, and hard/transient error classification.
//
// Grounded on original_source/network/src/Connector.cc. That
// implementation leaves its own retry scheduling commented out (see the
// commented runAfter/retryDelayMs_ lines); this package resolves that as
// an Open Question (spec §6) by actually scheduling the retry with
// time.AfterFunc rather than leaving it a no-op.
package connector

import (
	"fmt"
	"time"

	"github.com/zbh255/bilog"
	"golang.org/x/sys/unix"

	"github.com/momentics/rrpc/log"
	"github.com/momentics/rrpc/netutil"
	"github.com/momentics/rrpc/reactor"
)

const (
	initRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 30 * time.Second
)

type state int32

const (
	stateDisconnected state = iota
	stateConnecting
	stateConnected
)

// NewConnectionFunc is invoked on the owning reactor's thread once a
// connect attempt succeeds, with the newly connected, non-blocking fd.
type NewConnectionFunc func(fd int, local, peer netutil.Address)

// Connector manages repeated connection attempts to one server address.
type Connector struct {
	r          *reactor.Reactor
	serverAddr netutil.Address

	connect    bool
	st         state
	handle     *reactor.PollHandle
	retryDelay time.Duration
	logger     bilog.Logger

	NewConnectionCallback NewConnectionFunc
}

// New creates a Connector targeting serverAddr on r. It does not attempt
// to connect until Start is called.
func New(r *reactor.Reactor, serverAddr netutil.Address) *Connector {
	return &Connector{
		r:          r,
		serverAddr: serverAddr,
		st:         stateDisconnected,
		retryDelay: initRetryDelay,
		logger:     log.Default,
	}
}

// SetLogger overrides the connector's diagnostic logger.
func (c *Connector) SetLogger(l bilog.Logger) { c.logger = l }

// Start begins connecting, posting the actual attempt onto the reactor.
func (c *Connector) Start() {
	c.connect = true
	c.r.Post(c.startInLoop)
}

func (c *Connector) startInLoop() {
	if !c.connect {
		return
	}
	c.connectOnce()
}

// Stop cancels any future retry. An attempt still connecting when the
// queued stop task runs has its socket closed; one that completes first
// has its socket closed without NewConnectionCallback being invoked.
func (c *Connector) Stop() {
	c.connect = false
	c.r.Queue(func() {
		if c.st == stateConnecting {
			c.st = stateDisconnected
			fd := c.removeAndResetHandle()
			netutil.Close(fd)
		}
	})
}

// Restart resets backoff state and connects again immediately, e.g. after
// an established connection was later lost (spec §4.3, §8 scenario 6).
func (c *Connector) Restart() {
	c.r.Post(func() {
		c.st = stateDisconnected
		c.retryDelay = initRetryDelay
		c.connect = true
		c.startInLoop()
	})
}

func (c *Connector) connectOnce() {
	fd, err := netutil.NewNonblockingSocket(c.serverAddr.IsIPv6())
	if err != nil {
		c.logger.ErrorFromString(fmt.Sprintf("connector: socket: %v", err))
		return
	}
	err = netutil.Connect(fd, c.serverAddr)
	switch err {
	case nil, unix.EINPROGRESS, unix.EINTR, unix.EISCONN:
		c.connecting(fd)
	case unix.EAGAIN, unix.EADDRINUSE, unix.EADDRNOTAVAIL, unix.ECONNREFUSED, unix.ENETUNREACH:
		c.retry(fd)
	default:
		c.logger.ErrorFromString(fmt.Sprintf("connector: connect: %v", err))
		netutil.Close(fd)
	}
}

func (c *Connector) connecting(fd int) {
	c.st = stateConnecting
	c.handle = reactor.NewPollHandle(c.r, fd)
	c.handle.OnWrite = c.handleWrite
	c.handle.OnError = c.handleError
	c.handle.EnableWrite()
}

func (c *Connector) removeAndResetHandle() int {
	fd := c.handle.Fd()
	c.handle.DisableAll()
	c.handle.Detach()
	c.handle = nil
	return fd
}

func (c *Connector) handleWrite() {
	if c.st != stateConnecting {
		return
	}
	fd := c.removeAndResetHandle()
	if err := netutil.SocketError(fd); err != nil {
		c.logger.Info(fmt.Sprintf("connector: SO_ERROR = %v", err))
		c.retry(fd)
		return
	}
	if netutil.IsSelfConnect(fd) {
		c.logger.Info("connector: self connect detected")
		c.retry(fd)
		return
	}

	c.st = stateConnected
	if c.connect {
		local, _ := netutil.LocalAddr(fd)
		peer, _ := netutil.PeerAddr(fd)
		if c.NewConnectionCallback != nil {
			c.NewConnectionCallback(fd, local, peer)
		}
	} else {
		netutil.Close(fd)
	}
}

func (c *Connector) handleError() {
	if c.st != stateConnecting {
		return
	}
	fd := c.removeAndResetHandle()
	err := netutil.SocketError(fd)
	c.logger.Info(fmt.Sprintf("connector: handleError SO_ERROR = %v", err))
	c.retry(fd)
}

func (c *Connector) retry(fd int) {
	netutil.Close(fd)
	c.st = stateDisconnected
	if !c.connect {
		return
	}
	delay := c.retryDelay
	c.logger.Info(fmt.Sprintf("connector: retrying %s in %s", c.serverAddr, delay))
	c.retryDelay *= 2
	if c.retryDelay > maxRetryDelay {
		c.retryDelay = maxRetryDelay
	}
	time.AfterFunc(delay, func() {
		c.r.Post(c.startInLoop)
	})
}
