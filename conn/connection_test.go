package conn

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/rrpc/buffer"
	"github.com/momentics/rrpc/netutil"
	"github.com/momentics/rrpc/reactor"
)

func newSocketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	return fds[0], fds[1]
}

func newRunningReactor(t *testing.T) *reactor.Reactor {
	t.Helper()
	r, err := reactor.New()
	require.NoError(t, err)
	go r.Run()
	t.Cleanup(r.Quit)
	// give Run a moment to pin its owner thread before tests post to it.
	time.Sleep(10 * time.Millisecond)
	return r
}

func TestEstablishTransitionsToConnected(t *testing.T) {
	r := newRunningReactor(t)
	a, b := newSocketPair(t)
	defer unix.Close(b)

	c := New(r, a, netutil.Address{}, netutil.Address{})

	var wg sync.WaitGroup
	wg.Add(1)
	c.ConnectionCallback = func(cc *Connection) {
		if cc.State() == StateConnected {
			wg.Done()
		}
	}
	c.Establish()
	wg.Wait()
	require.Equal(t, StateConnected, c.State())
}

func TestMessageCallbackFiresOnData(t *testing.T) {
	r := newRunningReactor(t)
	a, b := newSocketPair(t)
	defer unix.Close(b)

	c := New(r, a, netutil.Address{}, netutil.Address{})

	received := make(chan []byte, 1)
	c.MessageCallback = func(cc *Connection, buf *buffer.Buffer) {
		received <- buf.RetrieveAllBytes()
	}
	c.Establish()

	_, err := unix.Write(b, []byte("hello"))
	require.NoError(t, err)

	select {
	case data := <-received:
		require.Equal(t, "hello", string(data))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message callback")
	}
}

func TestCloseCallbackFiresOnPeerEOF(t *testing.T) {
	r := newRunningReactor(t)
	a, b := newSocketPair(t)

	c := New(r, a, netutil.Address{}, netutil.Address{})

	closed := make(chan struct{})
	c.CloseCallback = func(cc *Connection) { close(closed) }
	c.Establish()

	unix.Close(b)

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close callback")
	}
	require.Equal(t, StateDisconnected, c.State())
}

func TestSendFromOffThreadDeliversData(t *testing.T) {
	r := newRunningReactor(t)
	a, b := newSocketPair(t)
	defer unix.Close(b)

	c := New(r, a, netutil.Address{}, netutil.Address{})
	c.Establish()

	c.Send([]byte("payload"))

	buf := make([]byte, 32)
	require.Eventually(t, func() bool {
		n, err := unix.Read(b, buf)
		if err != nil {
			return false
		}
		return n > 0 && string(buf[:n]) == "payload"
	}, time.Second, 5*time.Millisecond)
}

func TestForceCloseTransitionsToDisconnected(t *testing.T) {
	r := newRunningReactor(t)
	a, b := newSocketPair(t)
	defer unix.Close(b)

	c := New(r, a, netutil.Address{}, netutil.Address{})
	c.Establish()
	time.Sleep(10 * time.Millisecond)

	c.ForceClose()

	require.Eventually(t, func() bool {
		return c.State() == StateDisconnected
	}, time.Second, 5*time.Millisecond)
}
