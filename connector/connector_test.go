package connector

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

func listenOnLoopback(t *testing.T) (int, netutil.Address) {
	t.Helper()
	fd, err := netutil.NewNonblockingSocket(false)
	require.NoError(t, err)
	addr, err := netutil.ParseAddress("127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, netutil.Bind(fd, addr))
	require.NoError(t, netutil.Listen(fd, 16))
	local, err := netutil.LocalAddr(fd)
	require.NoError(t, err)
	return fd, local
}

func TestConnectorEstablishesConnection(t *testing.T) {
	r := newRunningReactor(t)
	listenFd, local := listenOnLoopback(t)
	defer unix.Close(listenFd)

	c := New(r, local)
	connected := make(chan int, 1)
	c.NewConnectionCallback = func(fd int, local, peer netutil.Address) {
		connected <- fd
	}
	c.Start()

	select {
	case fd := <-connected:
		require.Greater(t, fd, 0)
		unix.Close(fd)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connector to connect")
	}
}

func TestConnectorRetriesOnRefusal(t *testing.T) {
	r := newRunningReactor(t)
	// bind, learn the port, then close it so refuses connections.
	fd, addr := listenOnLoopback(t)
	unix.Close(fd)

	c := New(r, addr)
	c.retryDelay = 20 * time.Millisecond
	c.Start()

	// Just verify it doesn't panic and eventually keeps retrying without
	// ever calling NewConnectionCallback.
	fired := false
	c.NewConnectionCallback = func(fd int, local, peer netutil.Address) { fired = true }
	time.Sleep(150 * time.Millisecond)
	require.False(t, fired)
	c.Stop()
}
