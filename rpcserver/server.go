// Package rpcserver implements server-side orchestration: accept on a
// main reactor, hand each new connection to a round-robin worker
// reactor, wire it into an RPC channel bound to the service registry,
// and track live connections by name.
//
// Grounded on spec §4.7; the teacher's server/server.go and
// server/hioload.go supplied the functional-options + facade shape
// (NewServer(cfg, opts...) building a struct that owns a listener and a
// pool), adapted here from momentics-hioload-ws's WebSocket upgrade path
// onto RPC channel wiring.
package rpcserver

import (
	"fmt"
	"sync"

	"github.com/zbh255/bilog"

	"github.com/momentics/rrpc/acceptor"
	"github.com/momentics/rrpc/conn"
	"github.com/momentics/rrpc/log"
	"github.com/momentics/rrpc/netutil"
	"github.com/momentics/rrpc/reactor"
	"github.com/momentics/rrpc/rpc"
)

// ConnectionFunc is invoked on a connection's owning worker reactor's
// thread once when it is established and once when it disconnects,
// letting the embedder observe those events beyond RPC dispatch itself.
type ConnectionFunc func(*conn.Connection)

// Server owns a main reactor, an acceptor, an optional worker pool, a
// service registry, and every live connection it has accepted.
type Server struct {
	cfg      *Config
	main     *reactor.Reactor
	pool     *reactor.Pool
	acceptor *acceptor.Acceptor
	registry *rpc.Registry
	logger   bilog.Logger

	mu    sync.Mutex
	conns map[string]*conn.Connection

	ConnectionCallback ConnectionFunc
}

// New builds a Server bound to cfg's listen address, wiring registry as
// the service dispatch table for every accepted channel.
func New(registry *rpc.Registry, cfg *Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("rpcserver: nil config")
	}
	for _, o := range opts {
		o(cfg)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default
	}

	main, err := reactor.New()
	if err != nil {
		return nil, fmt.Errorf("rpcserver: main reactor: %w", err)
	}
	main.SetLogger(logger)

	s := &Server{
		cfg:      cfg,
		main:     main,
		registry: registry,
		logger:   logger,
		conns:    make(map[string]*conn.Connection),
	}

	if cfg.WorkerCount > 0 {
		pool, err := reactor.NewPool(cfg.WorkerCount)
		if err != nil {
			return nil, fmt.Errorf("rpcserver: worker pool: %w", err)
		}
		s.pool = pool
	}

	return s, nil
}

// Start binds and listens, starts the worker pool (if any), and begins
// running the main reactor. Start blocks until Stop is called from
// another goroutine, mirroring the teacher's Serve/Shutdown split.
func (s *Server) Start() error {
	addr, err := netutil.ParseAddress(s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("rpcserver: parse listen addr: %w", err)
	}

	var startErr error
	s.main.Post(func() {
		a, err := acceptor.New(s.main, addr, s.cfg.ReusePort)
		if err != nil {
			startErr = err
			return
		}
		a.NewConnectionCallback = s.newConnection
		if err := a.Listen(s.cfg.Backlog); err != nil {
			startErr = err
			return
		}
		s.acceptor = a
	})

	if s.pool != nil {
		s.pool.Start()
	}

	s.main.Run()
	if startErr != nil {
		return startErr
	}
	return nil
}

// Stop tears down the acceptor, quits the main reactor, and stops the
// worker pool.
func (s *Server) Stop() {
	if s.acceptor != nil {
		s.main.Post(s.acceptor.Close)
	}
	s.main.Quit()
	if s.pool != nil {
		s.pool.Stop()
	}
}

// newConnection runs on the main reactor: it picks a worker (round-robin,
// or the main reactor itself if no pool was configured), constructs a
// Connection bound to that worker, wires an RPC channel to the registry,
// tracks the connection by name, and posts Establish onto the worker.
func (s *Server) newConnection(fd int, peer netutil.Address) {
	worker := s.main
	if s.pool != nil {
		worker = s.pool.Next()
	}

	worker.Post(func() {
		local, _ := netutil.LocalAddr(fd)
		c := conn.New(worker, fd, local, peer)
		c.SetLogger(s.logger)
		if !s.cfg.NoDelay {
			c.SetNoDelay(false)
		}

		rpc.NewChannel(c, s.registry)

		userCB := s.ConnectionCallback
		c.ConnectionCallback = func(cc *conn.Connection) {
			if userCB != nil {
				userCB(cc)
			}
			if cc.State() == conn.StateDisconnected {
				s.removeConnection(cc)
			}
		}

		s.mu.Lock()
		s.conns[c.Name()] = c
		s.mu.Unlock()

		c.Establish()
	})
}

// removeConnection queues a task onto the main reactor that erases the
// connection from the name map, matching spec §4.7's removal
// path (erase on main, destroy resources on the worker that already owns
// them via the connection's own close/connectDestroyed sequence).
func (s *Server) removeConnection(c *conn.Connection) {
	s.main.Queue(func() {
		s.mu.Lock()
		delete(s.conns, c.Name())
		s.mu.Unlock()
	})
}

// Connections returns a snapshot of currently tracked connection names.
func (s *Server) Connections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.conns))
	for name := range s.conns {
		names = append(names, name)
	}
	return names
}
