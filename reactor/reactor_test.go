package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestReactor(t *testing.T) *Reactor {
	t.Helper()
	r, err := New()
	require.NoError(t, err)
	go r.Run()
	t.Cleanup(r.Quit)
	// Give Run a moment to record its owner thread.
	deadline := time.Now().Add(time.Second)
	for !r.IsInLoopThread() && time.Now().Before(deadline) {
		done := make(chan struct{})
		r.Post(func() { close(done) })
		select {
		case <-done:
			return r
		case <-time.After(10 * time.Millisecond):
		}
	}
	return r
}

func TestPostRunsOnOwningThread(t *testing.T) {
	r := newTestReactor(t)
	done := make(chan struct{})
	r.Post(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("posted task never ran")
	}
}

func TestQueueOrderingIsFIFO(t *testing.T) {
	r := newTestReactor(t)
	var order []int
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		i := i
		r.Queue(func() {
			order = append(order, i)
			if i == 4 {
				close(done)
			}
		})
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queued tasks never ran")
	}
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestPollHandleReadCallback(t *testing.T) {
	r := newTestReactor(t)
	fds := make([]int, 2)
	require.NoError(t, unix.Pipe2(fds, unix.O_NONBLOCK))
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	h := NewPollHandle(r, fds[0])
	got := make(chan struct{}, 1)
	h.OnRead = func() {
		var buf [1]byte
		unix.Read(fds[0], buf[:])
		got <- struct{}{}
	}
	r.Post(h.EnableRead)

	_, err := unix.Write(fds[1], []byte{1})
	require.NoError(t, err)

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("read callback never fired")
	}
}
