package rpcserver

import "github.com/zbh255/bilog"

// Option customizes Server construction, in the functional-options style
// the teacher's server package uses for ServerOption.
type Option func(*Config)

// WithWorkerCount sets the size of the server's reactor pool.
func WithWorkerCount(n int) Option {
	return func(c *Config) { c.WorkerCount = n }
}

// WithReusePort enables SO_REUSEPORT on the listening socket, so multiple
// server processes may share one port.
func WithReusePort(on bool) Option {
	return func(c *Config) { c.ReusePort = on }
}

// WithBacklog overrides the listen backlog.
func WithBacklog(n int) Option {
	return func(c *Config) { c.Backlog = n }
}

// WithCustomLogger overrides the server's (and its connections') default
// logger.
func WithCustomLogger(l bilog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithNoDelay toggles TCP_NODELAY on every accepted connection.
func WithNoDelay(on bool) Option {
	return func(c *Config) { c.NoDelay = on }
}
