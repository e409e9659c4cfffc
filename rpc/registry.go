package rpc

import (
	"fmt"
	"sync"

	"github.com/momentics/rrpc/codec"
)

// Message is the payload contract every request/response type must
// satisfy — reused from codec.Message so the channel and the wire codec
// share one notion of "a thing that (de)serializes to bytes."
type Message = codec.Message

// MethodDescriptor names one RPC method of a service.
type MethodDescriptor interface {
	Name() string
}

// ServiceDescriptor enumerates a service's methods by name (spec §6).
type ServiceDescriptor interface {
	FullName() string
	FindMethod(name string) MethodDescriptor
}

// DoneFunc is the completion continuation a service's callMethod invokes
// once it has populated the response (or decided to fail the call). It
// may run on any thread.
type DoneFunc func(err error)

// Service is a user-provided implementation exposing methods identified
// by name under a full service name (spec §3, §6).
type Service interface {
	Descriptor() ServiceDescriptor
	RequestPrototype(method string) Message
	ResponsePrototype(method string) Message
	CallMethod(method string, request, response Message, done DoneFunc)
}

// Registry is a server's frozen-after-startup name→service map. Reads
// after Start are lock-free by convention (spec §5); the mutex here
// guards the build phase only, and callers are expected to finish
// Register calls before wiring the registry into a channel.
type Registry struct {
	mu       sync.RWMutex
	services map[string]Service
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[string]Service)}
}

// Register adds svc under its descriptor's full name, replacing any
// previous entry with the same name.
func (r *Registry) Register(svc Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[svc.Descriptor().FullName()] = svc
}

// Lookup finds a service by full name.
func (r *Registry) Lookup(fullName string) (Service, bool) {
	svc, ok := r.services[fullName]
	return svc, ok
}

// String renders the registry's contents for diagnostics.
func (r *Registry) String() string {
	return fmt.Sprintf("rpc.Registry{%d services}", len(r.services))
}
