package acceptor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/rrpc/netutil"
	"github.com/momentics/rrpc/reactor"
)

func newRunningReactor(t *testing.T) *reactor.Reactor {
	t.Helper()
	r, err := reactor.New()
	require.NoError(t, err)
	go r.Run()
	t.Cleanup(r.Quit)
	time.Sleep(10 * time.Millisecond)
	return r
}

func TestAcceptorHandsOffNewConnection(t *testing.T) {
	r := newRunningReactor(t)
	loopback, err := netutil.ParseAddress("127.0.0.1:0")
	require.NoError(t, err)

	var a *Acceptor
	done := make(chan struct{})
	r.Post(func() {
		var err error
		a, err = New(r, loopback, false)
		require.NoError(t, err)
		close(done)
	})
	<-done

	accepted := make(chan int, 1)
	r.Post(func() {
		a.NewConnectionCallback = func(fd int, peer netutil.Address) {
			accepted <- fd
		}
		local, err := netutil.LocalAddr(a.fd)
		require.NoError(t, err)
		require.NoError(t, a.Listen(16))
		go dialAndClose(t, local)
	})

	select {
	case fd := <-accepted:
		require.Greater(t, fd, 0)
		unix.Close(fd)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accepted connection")
	}

	r.Post(a.Close)
}

func dialAndClose(t *testing.T, addr netutil.Address) {
	t.Helper()
	fd, err := netutil.NewNonblockingSocket(addr.IsIPv6())
	if err != nil {
		return
	}
	defer unix.Close(fd)
	_ = netutil.Connect(fd, addr)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if netutil.SocketError(fd) == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}
