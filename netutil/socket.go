package netutil

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// NewNonblockingSocket creates a non-blocking TCP socket, IPv6-aware.
func NewNonblockingSocket(ipv6 bool) (int, error) {
	domain := unix.AF_INET
	if ipv6 {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("netutil: socket: %w", err)
	}
	return fd, nil
}

// SetReuseAddr toggles SO_REUSEADDR.
func SetReuseAddr(fd int, on bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, boolToInt(on))
}

// SetReusePort toggles SO_REUSEPORT.
func SetReusePort(fd int, on bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, boolToInt(on))
}

// SetTCPNoDelay toggles Nagle's algorithm.
func SetTCPNoDelay(fd int, on bool) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, boolToInt(on))
}

// SetKeepAlive toggles SO_KEEPALIVE.
func SetKeepAlive(fd int, on bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, boolToInt(on))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Bind binds fd to addr.
func Bind(fd int, addr Address) error {
	return unix.Bind(fd, toSockaddr(addr))
}

// Listen marks fd as passive with the given backlog.
func Listen(fd int, backlog int) error {
	return unix.Listen(fd, backlog)
}

// Accept accepts one pending connection on a non-blocking listening fd.
// Returns the new fd, the peer address, and an error. A nil error with
// fd == -1 never happens: EAGAIN is surfaced as unix.EAGAIN so callers
// can distinguish "no pending connection" from a hard failure.
func Accept(listenFd int) (int, Address, error) {
	nfd, sa, err := unix.Accept4(listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, Address{}, err
	}
	return nfd, fromSockaddr(sa), nil
}

// Connect starts a non-blocking connect to addr. A nil error means the
// connect completed synchronously (rare, usually loopback); EINPROGRESS
// is the expected case and is returned as-is so the connector can await
// writability.
func Connect(fd int, addr Address) error {
	return unix.Connect(fd, toSockaddr(addr))
}

// ShutdownWrite shuts down the write half of fd; the read half stays open.
func ShutdownWrite(fd int) error {
	return unix.Shutdown(fd, unix.SHUT_WR)
}

// Close closes fd.
func Close(fd int) error {
	return unix.Close(fd)
}

// SocketError reads and clears SO_ERROR, the idiom used to discover the
// outcome of a non-blocking connect on writable readiness.
func SocketError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno == 0 {
		return nil
	}
	return unix.Errno(errno)
}

// LocalAddr returns the local address bound to fd.
func LocalAddr(fd int) (Address, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return Address{}, err
	}
	return fromSockaddr(sa), nil
}

// PeerAddr returns the address of the peer connected to fd.
func PeerAddr(fd int) (Address, error) {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return Address{}, err
	}
	return fromSockaddr(sa), nil
}

// IsSelfConnect reports whether fd is a socket that connected to itself
// (the local and peer endpoints are identical) — a real, if rare,
// possibility for non-blocking active connects that a Connector must
// detect and treat as a failure to retry (spec §4.3, §8 scenario 6).
func IsSelfConnect(fd int) bool {
	local, err := LocalAddr(fd)
	if err != nil {
		return false
	}
	peer, err := PeerAddr(fd)
	if err != nil {
		return false
	}
	return local.Port() == peer.Port() && local.IP().Equal(peer.IP())
}

func toSockaddr(a Address) unix.Sockaddr {
	if a.IsIPv6() {
		sa := &unix.SockaddrInet6{Port: int(a.port)}
		copy(sa.Addr[:], a.ip.To16())
		return sa
	}
	sa := &unix.SockaddrInet4{Port: int(a.port)}
	ip4 := a.ip.To4()
	if ip4 == nil {
		ip4 = net.IPv4zero.To4()
	}
	copy(sa.Addr[:], ip4)
	return sa
}

func fromSockaddr(sa unix.Sockaddr) Address {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, v.Addr[:])
		return Address{ip: ip, port: uint16(v.Port)}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, v.Addr[:])
		return Address{ip: ip, port: uint16(v.Port)}
	default:
		return Address{}
	}
}
