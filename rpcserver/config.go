package rpcserver

import "github.com/zbh255/bilog"

// Config holds a Server's tunables, filled in by DefaultConfig and
// overridden via Option, mirroring the functional-options config layer
// momentics-hioload-ws's server package uses.
type Config struct {
	ListenAddr string
	// WorkerCount is the size of the reactor pool that services accepted
	// connections. Zero means the main reactor also handles I/O (spec
	// §4.7).
	WorkerCount int
	ReusePort   bool
	Backlog     int
	// NoDelay controls TCP_NODELAY on every accepted connection. Default
	// on, matching muduo's TcpServer default (spec §5 supplement).
	NoDelay bool
	Logger  bilog.Logger
}

// DefaultConfig returns a Config with reasonable defaults: no worker
// pool, a backlog of 128, TCP_NODELAY on, and the package default logger.
func DefaultConfig(listenAddr string) *Config {
	return &Config{
		ListenAddr:  listenAddr,
		WorkerCount: 0,
		ReusePort:   false,
		Backlog:     128,
		NoDelay:     true,
	}
}
