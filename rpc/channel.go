// Package rpc implements request/response correlation over one ordered
// byte stream: per-channel monotonic ids, a concurrent outstanding-call
// table, service/method lookup, and dispatch into user service handlers.
//
// Grounded on spec §4.6's channel design; no direct teacher analogue
// exists in momentics-hioload-ws (a WebSocket server, not an RPC
// multiplexer), so this package instead follows nyan233-littlerpc's
// server/event_drive.go dispatch shape (parse envelope, look up
// service+method, invoke, write response) adapted onto this module's
// codec/conn packages instead of littlerpc's own mux coder.
package rpc

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zbh255/bilog"

	"github.com/momentics/rrpc/buffer"
	"github.com/momentics/rrpc/codec"
	"github.com/momentics/rrpc/conn"
	"github.com/momentics/rrpc/log"
)

// pendingCall is one entry in the outstanding-call table: where to
// deposit the parsed response and what to run when it (or a failure)
// arrives.
type pendingCall struct {
	response Message
	done     func(err error)
}

// Channel binds one connection to request/response correlation, and
// optionally to a Registry for handling inbound requests. A Channel with
// a nil registry acts purely as a client-side call originator; a Channel
// with a registry can additionally dispatch inbound requests to services.
type Channel struct {
	conn     *conn.Connection
	registry *Registry
	logger   bilog.Logger

	nextID int64

	mu      sync.Mutex
	pending map[int64]*pendingCall
	torn    bool
}

// NewChannel binds a Channel to c. registry may be nil for a pure client
// channel that only originates calls.
func NewChannel(c *conn.Connection, registry *Registry) *Channel {
	ch := &Channel{
		conn:     c,
		registry: registry,
		logger:   log.Default,
		pending:  make(map[int64]*pendingCall),
	}
	c.MessageCallback = ch.onMessage
	c.CloseCallback = func(*conn.Connection) { ch.teardown() }
	return ch
}

// SetLogger overrides the channel's diagnostic logger.
func (ch *Channel) SetLogger(l bilog.Logger) { ch.logger = l }

// Call issues method on service, depositing the parsed response into
// response and invoking done exactly once when the outcome is known —
// on success, on an RPC-level failure, or at channel teardown. Call may
// be invoked from any thread; framing onto the wire is ordered by the
// connection's owning reactor (spec §4.6).
func (ch *Channel) Call(service, method string, request, response Message, done DoneFunc) {
	id := atomic.AddInt64(&ch.nextID, 1)

	reqBytes, err := request.Serialize()
	if err != nil {
		done(fmt.Errorf("rpc: serialize request: %w", err))
		return
	}

	ch.mu.Lock()
	if ch.torn {
		ch.mu.Unlock()
		done(fmt.Errorf("rpc: channel torn down"))
		return
	}
	ch.pending[id] = &pendingCall{response: response, done: done}
	ch.mu.Unlock()

	env := &Envelope{
		Type:    Request,
		ID:      id,
		Service: service,
		Method:  method,
		Request: reqBytes,
	}
	ch.send(env)
}

// send serializes env, frames it, and hands the wire bytes to the
// connection. Framing is stream-safe regardless of which thread calls
// send, since Connection.Send itself dispatches on/off-thread.
func (ch *Channel) send(env *Envelope) {
	payload, err := env.Serialize()
	if err != nil {
		ch.logger.ErrorFromString(fmt.Sprintf("rpc: serialize envelope: %v", err))
		return
	}
	wire, err := codec.Encode(payload)
	if err != nil {
		ch.logger.ErrorFromString(fmt.Sprintf("rpc: encode frame: %v", err))
		return
	}
	ch.conn.Send(wire)
}

// onMessage is installed as the connection's MessageCallback: it repeatedly
// peels frames off the input buffer and dispatches each envelope.
func (ch *Channel) onMessage(c *conn.Connection, buf *buffer.Buffer) {
	for {
		payload, code, ok := codec.TryDecodeOne(buf)
		if !ok {
			if code != codec.NoError {
				ch.logger.ErrorFromString(fmt.Sprintf("rpc: frame error %s on %s; stream frozen", code, c.Name()))
			}
			return
		}
		var env Envelope
		if err := env.ParseFrom(payload); err != nil {
			ch.logger.ErrorFromString(fmt.Sprintf("rpc: parse envelope: %v", err))
			ch.send(&Envelope{Type: Error, ErrCode: WrongProto})
			continue
		}
		ch.dispatch(&env)
	}
}

func (ch *Channel) dispatch(env *Envelope) {
	switch env.Type {
	case Request:
		ch.handleRequest(env)
	case Response, Error:
		ch.handleResponse(env)
	default:
		ch.logger.ErrorFromString(fmt.Sprintf("rpc: unknown envelope type %v", env.Type))
	}
}

// handleRequest implements spec §4.6's server-face dispatch, mapping
// every failure mode to the error taxonomy in the design table.
func (ch *Channel) handleRequest(env *Envelope) {
	respond := func(respBytes []byte, code ErrorCode) {
		out := &Envelope{ID: env.ID, ErrCode: code}
		if code == NoError {
			out.Type = Response
			out.Response = respBytes
		} else {
			out.Type = Error
		}
		ch.send(out)
	}

	if ch.registry == nil {
		respond(nil, NoService)
		return
	}
	svc, ok := ch.registry.Lookup(env.Service)
	if !ok {
		respond(nil, NoService)
		return
	}
	if svc.Descriptor().FindMethod(env.Method) == nil {
		respond(nil, NoMethod)
		return
	}

	reqProto := svc.RequestPrototype(env.Method)
	if err := reqProto.ParseFrom(env.Request); err != nil {
		respond(nil, InvalidRequest)
		return
	}
	respProto := svc.ResponsePrototype(env.Method)

	svc.CallMethod(env.Method, reqProto, respProto, func(err error) {
		if err != nil {
			respond(nil, InvalidRequest)
			return
		}
		respBytes, err := respProto.Serialize()
		if err != nil {
			ch.logger.ErrorFromString(fmt.Sprintf("rpc: serialize response: %v", err))
			return
		}
		respond(respBytes, NoError)
	})
}

// handleResponse implements spec §4.6's client-face resolution: an
// absent id is dropped and logged; a non-success envelope is treated as
// a failure signal without attempting to parse response bytes (spec §9's
// resolution of that open question).
func (ch *Channel) handleResponse(env *Envelope) {
	ch.mu.Lock()
	call, ok := ch.pending[env.ID]
	if ok {
		delete(ch.pending, env.ID)
	}
	ch.mu.Unlock()

	if !ok {
		ch.logger.Info(fmt.Sprintf("rpc: response id=%d has no outstanding call; dropped", env.ID))
		return
	}

	if env.Type == Error {
		call.done(fmt.Errorf("rpc: call failed: %s", env.ErrCode))
		return
	}
	if len(env.Response) > 0 && call.response != nil {
		if err := call.response.ParseFrom(env.Response); err != nil {
			call.done(fmt.Errorf("rpc: parse response: %w", err))
			return
		}
	}
	call.done(nil)
}

// teardown finalizes every surviving outstanding call with a cancellation
// error, so no done continuation is ever lost (spec §5, §7).
func (ch *Channel) teardown() {
	ch.mu.Lock()
	if ch.torn {
		ch.mu.Unlock()
		return
	}
	ch.torn = true
	calls := ch.pending
	ch.pending = make(map[int64]*pendingCall)
	ch.mu.Unlock()

	for id, call := range calls {
		id := id
		call.done(fmt.Errorf("rpc: channel torn down before response for id=%d", id))
	}
}
