package rpcclient

import "github.com/zbh255/bilog"

// Config holds a Client's tunables.
type Config struct {
	ServerAddr string
	// Reconnect enables restarting the connector after the current
	// connection closes (spec §4.8).
	Reconnect bool
	// NoDelay controls TCP_NODELAY on the client's connection. Default
	// on, matching muduo's TcpServer default (spec §5 supplement).
	NoDelay bool
	Logger  bilog.Logger
}

// DefaultConfig returns a Config that reconnects by default, with
// TCP_NODELAY on.
func DefaultConfig(serverAddr string) *Config {
	return &Config{
		ServerAddr: serverAddr,
		Reconnect:  true,
		NoDelay:    true,
	}
}
