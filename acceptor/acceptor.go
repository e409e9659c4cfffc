// Package acceptor implements the listening side of connection
// establishment: a bound, listening socket registered for read-readiness
// on a Reactor, handing off each accepted connection to a callback.
//
// Grounded on original_source/network/{include,src}/Acceptor.{h,cc},
// including its EMFILE recovery trick (spec §4.2), reworked onto this
// module's reactor/netutil packages instead of muduo's Socket/Channel.
package acceptor

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/momentics/rrpc/log"
	"github.com/momentics/rrpc/netutil"
	"github.com/momentics/rrpc/reactor"
)

// NewConnectionFunc is invoked on the owning reactor's thread once per
// accepted connection, with the new non-blocking fd and the peer address.
type NewConnectionFunc func(fd int, peer netutil.Address)

// Acceptor owns a listening socket bound to one Reactor.
type Acceptor struct {
	r      *reactor.Reactor
	fd     int
	handle *reactor.PollHandle

	listening bool
	idleFd    int

	NewConnectionCallback NewConnectionFunc
}

// New creates an Acceptor bound to listenAddr on r. If reusePort is true,
// SO_REUSEPORT is set so multiple acceptors (one per reactor, spec §4.7)
// may share the same port.
func New(r *reactor.Reactor, listenAddr netutil.Address, reusePort bool) (*Acceptor, error) {
	fd, err := netutil.NewNonblockingSocket(listenAddr.IsIPv6())
	if err != nil {
		return nil, err
	}
	if err := netutil.SetReuseAddr(fd, true); err != nil {
		netutil.Close(fd)
		return nil, fmt.Errorf("acceptor: setReuseAddr: %w", err)
	}
	if err := netutil.SetReusePort(fd, reusePort); err != nil {
		netutil.Close(fd)
		return nil, fmt.Errorf("acceptor: setReusePort: %w", err)
	}
	if err := netutil.Bind(fd, listenAddr); err != nil {
		netutil.Close(fd)
		return nil, fmt.Errorf("acceptor: bind: %w", err)
	}

	idleFd, err := unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		netutil.Close(fd)
		return nil, fmt.Errorf("acceptor: reserve idle fd: %w", err)
	}

	a := &Acceptor{r: r, fd: fd, idleFd: idleFd}
	a.handle = reactor.NewPollHandle(r, fd)
	a.handle.OnRead = a.handleRead
	return a, nil
}

// Listen marks the socket passive and arms read-readiness. Must be called
// on the owning reactor's thread.
func (a *Acceptor) Listen(backlog int) error {
	if !a.r.IsInLoopThread() {
		panic("acceptor: Listen called off the owning thread")
	}
	if err := netutil.Listen(a.fd, backlog); err != nil {
		return fmt.Errorf("acceptor: listen: %w", err)
	}
	a.listening = true
	a.handle.EnableRead()
	return nil
}

// Listening reports whether Listen has been called successfully.
func (a *Acceptor) Listening() bool { return a.listening }

// Close tears down the listening socket and detaches it from the reactor.
func (a *Acceptor) Close() {
	a.handle.DisableAll()
	a.handle.Detach()
	netutil.Close(a.fd)
	unix.Close(a.idleFd)
}

func (a *Acceptor) handleRead() {
	fd, peer, err := netutil.Accept(a.fd)
	if err == nil {
		if a.NewConnectionCallback != nil {
			a.NewConnectionCallback(fd, peer)
		} else {
			netutil.Close(fd)
		}
		return
	}

	log.Default.ErrorFromString(fmt.Sprintf("acceptor: accept: %v", err))
	if err == unix.EMFILE {
		// Out of file descriptors: sacrifice the reserved idle fd to
		// accept and immediately drop one pending connection, then
		// reopen /dev/null so we can do this again next time.
		unix.Close(a.idleFd)
		a.idleFd, _, _ = unix.Accept(a.fd)
		unix.Close(a.idleFd)
		a.idleFd, _ = unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
	}
}
