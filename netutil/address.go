// Package netutil implements non-blocking TCP socket plumbing and
// address handling shared by the acceptor, connector, and connection.
//
// Grounded on original_source/network/{include,src}/InetAddress and
// SocketsOps, reworked in the idiom the teacher (momentics-hioload-ws)
// uses for its transport/tcp package: plain functions over the raw fd,
// backed by golang.org/x/sys/unix rather than the standard net package,
// so the reactor can own non-blocking fds directly.
package netutil

import (
	"fmt"
	"net"
	"strconv"
)

// Address is an immutable transport endpoint: an IP (v4 or v6) and a port.
type Address struct {
	ip   net.IP
	port uint16
}

// NewAddress constructs an Address from an IP and port.
func NewAddress(ip net.IP, port uint16) Address {
	return Address{ip: ip, port: port}
}

// ParseAddress parses "host:port" into an Address.
func ParseAddress(hostport string) (Address, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return Address{}, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Address{}, fmt.Errorf("netutil: invalid port %q: %w", portStr, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		resolved, err := net.ResolveIPAddr("ip", host)
		if err != nil {
			return Address{}, fmt.Errorf("netutil: resolve %q: %w", host, err)
		}
		ip = resolved.IP
	}
	return Address{ip: ip, port: uint16(port)}, nil
}

// IP returns the address's IP.
func (a Address) IP() net.IP { return a.ip }

// Port returns the address's port.
func (a Address) Port() uint16 { return a.port }

// IsIPv6 reports whether the address holds an IPv6 (non IPv4-mapped) IP.
func (a Address) IsIPv6() bool { return a.ip != nil && a.ip.To4() == nil }

// String renders "ip:port", bracketing IPv6 addresses.
func (a Address) String() string {
	if a.ip == nil {
		return fmt.Sprintf(":%d", a.port)
	}
	if a.IsIPv6() {
		return fmt.Sprintf("[%s]:%d", a.ip.String(), a.port)
	}
	return fmt.Sprintf("%s:%d", a.ip.String(), a.port)
}
