package control

import (
	"encoding/json"
	"fmt"
	"sync"

	mirageerrors "github.com/miragekit/core/internal/errors"
)

// Handler processes a decoded payload for one MessageType.
type Handler func(raw json.RawMessage) error

// Registry dispatches inbound control messages by MessageType. Unregistered
// types are logged and skipped by the caller (spec §9) rather than rejected
// here — Dispatch reports them as a distinguishable error so the caller can
// choose to log-and-continue instead of tearing down the connection.
type Registry struct {
	mu       sync.RWMutex
	handlers map[MessageType]Handler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[MessageType]Handler)}
}

// Register installs h for t, replacing any previous handler.
func (r *Registry) Register(t MessageType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

// ErrUnknownType marks a dispatch against a type with no registered handler.
type ErrUnknownType struct {
	Type MessageType
}

func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("control: no handler registered for message type %s (%d)", e.Type, uint16(e.Type))
}

// Dispatch looks up and invokes the handler for t with raw. If no handler is
// registered it returns *ErrUnknownType without touching raw, so forward
// compatible message types never fail a connection.
func (r *Registry) Dispatch(t MessageType, raw json.RawMessage) error {
	r.mu.RLock()
	h, ok := r.handlers[t]
	r.mu.RUnlock()
	if !ok {
		return &ErrUnknownType{Type: t}
	}
	if err := h(raw); err != nil {
		return mirageerrors.NewProtocolError(fmt.Sprintf("dispatch %s", t), err)
	}
	return nil
}

// IsUnknownType reports whether err is an *ErrUnknownType.
func IsUnknownType(err error) bool {
	_, ok := err.(*ErrUnknownType)
	return ok
}
