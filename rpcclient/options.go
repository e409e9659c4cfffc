package rpcclient

import "github.com/zbh255/bilog"

// Option customizes Client construction.
type Option func(*Config)

// WithReconnect toggles automatic reconnect on connection loss.
func WithReconnect(on bool) Option {
	return func(c *Config) { c.Reconnect = on }
}

// WithCustomLogger overrides the client's default logger.
func WithCustomLogger(l bilog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithNoDelay toggles TCP_NODELAY on the client's connection.
func WithNoDelay(on bool) Option {
	return func(c *Config) { c.NoDelay = on }
}
