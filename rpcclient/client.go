// Package rpcclient implements client-side orchestration: a connector, at
// most one current connection guarded by a mutex, and an RPC channel
// through which calls are issued.
//
// Grounded on spec §4.8; the functional-options constructor shape and
// logger field follow nyan233-littlerpc's client.go (NewClient(logger)).
package rpcclient

import (
	"fmt"
	"sync"

	"github.com/zbh255/bilog"

	"github.com/momentics/rrpc/conn"
	"github.com/momentics/rrpc/connector"
	"github.com/momentics/rrpc/log"
	"github.com/momentics/rrpc/netutil"
	"github.com/momentics/rrpc/reactor"
	"github.com/momentics/rrpc/rpc"
)

// Client owns a reactor, a connector targeting one server address, and at
// most one current connection/channel pair.
type Client struct {
	cfg       *Config
	r         *reactor.Reactor
	connector *connector.Connector
	logger    bilog.Logger

	mu      sync.Mutex
	current *conn.Connection
	channel *rpc.Channel

	ConnectionCallback func(*conn.Connection)
}

// New builds a Client targeting cfg.ServerAddr, running its own private
// reactor.
func New(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("rpcclient: nil config")
	}
	for _, o := range opts {
		o(cfg)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default
	}

	r, err := reactor.New()
	if err != nil {
		return nil, fmt.Errorf("rpcclient: reactor: %w", err)
	}
	r.SetLogger(logger)

	addr, err := netutil.ParseAddress(cfg.ServerAddr)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: parse server addr: %w", err)
	}

	c := &Client{cfg: cfg, r: r, logger: logger}
	c.connector = connector.New(r, addr)
	c.connector.SetLogger(logger)
	c.connector.NewConnectionCallback = c.onConnected
	return c, nil
}

// Start runs the client's reactor loop and begins connecting. It blocks
// until Stop is called from another goroutine.
func (c *Client) Start() {
	c.connector.Start()
	c.r.Run()
}

// Stop tears down the current connection (if any) and quits the reactor.
func (c *Client) Stop() {
	c.connector.Stop()
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur != nil {
		cur.ForceClose()
	}
	c.r.Quit()
}

// Channel returns the client's current RPC channel, or nil if not
// currently connected. Callers should treat a nil channel as "the call
// will fail immediately."
func (c *Client) Channel() *rpc.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

// Call is a convenience wrapper issuing a call on the current channel, or
// invoking done immediately with a disconnected failure if there is
// none.
func (c *Client) Call(service, method string, request, response rpc.Message, done rpc.DoneFunc) {
	ch := c.Channel()
	if ch == nil {
		done(fmt.Errorf("rpcclient: not connected"))
		return
	}
	ch.Call(service, method, request, response, done)
}

func (c *Client) onConnected(fd int, local, peer netutil.Address) {
	connection := conn.New(c.r, fd, local, peer)
	connection.SetLogger(c.logger)
	if !c.cfg.NoDelay {
		connection.SetNoDelay(false)
	}
	channel := rpc.NewChannel(connection, nil)

	userCB := c.ConnectionCallback
	connection.ConnectionCallback = func(cc *conn.Connection) {
		if userCB != nil {
			userCB(cc)
		}
		if cc.State() == conn.StateDisconnected {
			c.onDisconnected(cc)
		}
	}

	c.mu.Lock()
	c.current = connection
	c.channel = channel
	c.mu.Unlock()

	connection.Establish()
}

// onDisconnected clears the current connection and, if reconnect is
// enabled, restarts the connector (spec §4.8).
func (c *Client) onDisconnected(cc *conn.Connection) {
	c.mu.Lock()
	if c.current == cc {
		c.current = nil
		c.channel = nil
	}
	c.mu.Unlock()

	if c.cfg.Reconnect {
		c.connector.Restart()
	}
}
