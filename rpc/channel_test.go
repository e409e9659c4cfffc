package rpc

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/rrpc/conn"
	"github.com/momentics/rrpc/netutil"
	"github.com/momentics/rrpc/reactor"
)

// testMessage is a minimal JSON-encoded Message used only by these tests
// to stand in for the external message-schema runtime spec §1 excludes.
type testMessage struct {
	Name  string `json:"name,omitempty"`
	Count int    `json:"count,omitempty"`

	Status  bool   `json:"status,omitempty"`
	CpuInfo string `json:"cpu_info,omitempty"`
}

func (m *testMessage) ParseFrom(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, m)
}

func (m *testMessage) Serialize() ([]byte, error) {
	return json.Marshal(m)
}

type echoMethod struct{ name string }

func (m echoMethod) Name() string { return m.name }

type echoDescriptor struct{}

func (echoDescriptor) FullName() string { return "Echo" }
func (echoDescriptor) FindMethod(name string) MethodDescriptor {
	if name == "say" {
		return echoMethod{name: "say"}
	}
	return nil
}

type echoService struct{}

func (echoService) Descriptor() ServiceDescriptor { return echoDescriptor{} }
func (echoService) RequestPrototype(method string) Message {
	return &testMessage{}
}
func (echoService) ResponsePrototype(method string) Message {
	return &testMessage{}
}
func (echoService) CallMethod(method string, request, response Message, done DoneFunc) {
	req := request.(*testMessage)
	resp := response.(*testMessage)
	resp.Status = true
	resp.CpuInfo = fmt.Sprintf(" hight_ %d", req.Count)
	done(nil)
}

func newRunningReactor(t *testing.T) *reactor.Reactor {
	t.Helper()
	r, err := reactor.New()
	require.NoError(t, err)
	go r.Run()
	t.Cleanup(r.Quit)
	time.Sleep(10 * time.Millisecond)
	return r
}

// newChannelPair wires two Channels over a real socketpair, one acting as
// client (no registry) and one as server (with registry).
func newChannelPair(t *testing.T, registry *Registry) (client *Channel, server *Channel) {
	t.Helper()
	r := newRunningReactor(t)
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)

	clientConn := conn.New(r, fds[0], netutil.Address{}, netutil.Address{})
	serverConn := conn.New(r, fds[1], netutil.Address{}, netutil.Address{})
	clientConn.Establish()
	serverConn.Establish()

	client = NewChannel(clientConn, nil)
	server = NewChannel(serverConn, registry)
	return client, server
}

func TestEchoCall(t *testing.T) {
	registry := NewRegistry()
	registry.Register(echoService{})
	client, _ := newChannelPair(t, registry)

	req := &testMessage{Name: "cpu0", Count: 7}
	resp := &testMessage{}

	done := make(chan error, 1)
	client.Call("Echo", "say", req, resp, func(err error) { done <- err })

	select {
	case err := <-done:
		require.NoError(t, err)
		require.True(t, resp.Status)
		require.Equal(t, " hight_ 7", resp.CpuInfo)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echo response")
	}
}

func TestUnknownServiceReturnsNoService(t *testing.T) {
	registry := NewRegistry()
	client, _ := newChannelPair(t, registry)

	req := &testMessage{}
	resp := &testMessage{}
	done := make(chan error, 1)
	client.Call("missing.svc", "foo", req, resp, func(err error) { done <- err })

	select {
	case err := <-done:
		require.Error(t, err)
		require.Contains(t, err.Error(), NoService.String())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error response")
	}
}

func TestConcurrentCallsAllComplete(t *testing.T) {
	registry := NewRegistry()
	registry.Register(echoService{})
	client, _ := newChannelPair(t, registry)

	const goroutines = 10
	const perGoroutine = 100
	var wg sync.WaitGroup
	wg.Add(goroutines * perGoroutine)

	for g := 0; g < goroutines; g++ {
		go func(g int) {
			for i := 0; i < perGoroutine; i++ {
				req := &testMessage{Name: "cpu0", Count: i}
				resp := &testMessage{}
				client.Call("Echo", "say", req, resp, func(err error) {
					defer wg.Done()
					require.NoError(t, err)
				})
			}
		}(g)
	}

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for all concurrent calls to complete")
	}
}
