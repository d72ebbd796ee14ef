package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/synthome/cmdbus/src/types"
)

// HandlerRegistration is one (messageType, handler) binding owned by a
// named daemon. Registrations for the same type are ordered by priority,
// highest first, ties broken by registration order.
type HandlerRegistration struct {
	Type         string
	Handler      types.MessageHandler
	DaemonName   string
	Priority     int
	RegisteredAt time.Time

	seq uint64
}

// RegisterOptions controls handler registration.
type RegisterOptions struct {
	// Priority orders handlers for a shared type, highest first.
	Priority int
	// AllowReplace permits adding a handler for a type that already has
	// one. Without it, registration fails with HandlerConflictError.
	AllowReplace bool
}

// HandlerRegistry maps a message-type tag to an ordered set of handler
// registrations, keyed by owning daemon name.
type HandlerRegistry struct {
	logger zerolog.Logger

	mu       sync.RWMutex
	handlers map[string][]*HandlerRegistration
	nextSeq  uint64
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry(logger zerolog.Logger) *HandlerRegistry {
	return &HandlerRegistry{
		logger:   logger.With().Str("component", "handlers").Logger(),
		handlers: make(map[string][]*HandlerRegistration),
	}
}

// Register binds a handler to a message type on behalf of daemonName.
// Returns the registration handle, which is also the token for Unregister.
func (r *HandlerRegistry) Register(msgType string, handler types.MessageHandler, daemonName string, opts RegisterOptions) (*HandlerRegistration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.handlers[msgType]
	if len(existing) > 0 && !opts.AllowReplace {
		return nil, &types.HandlerConflictError{
			Type:     msgType,
			OwnedBy:  existing[0].DaemonName,
			Claiming: daemonName,
		}
	}

	r.nextSeq++
	reg := &HandlerRegistration{
		Type:         msgType,
		Handler:      handler,
		DaemonName:   daemonName,
		Priority:     opts.Priority,
		RegisteredAt: time.Now(),
		seq:          r.nextSeq,
	}

	list := append(existing, reg)
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Priority != list[j].Priority {
			return list[i].Priority > list[j].Priority
		}
		return list[i].seq < list[j].seq
	})
	r.handlers[msgType] = list

	registrationsActive.WithLabelValues(daemonName).Inc()
	r.logger.Debug().
		Str("type", msgType).
		Str("daemon", daemonName).
		Int("priority", opts.Priority).
		Msg("handler registered")
	return reg, nil
}

// Unregister removes exactly the given registration. When the list for its
// type becomes empty the type reverts to unhandled.
func (r *HandlerRegistry) Unregister(reg *HandlerRegistration) bool {
	if reg == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.handlers[reg.Type]
	for i, candidate := range list {
		if candidate == reg {
			r.handlers[reg.Type] = append(list[:i:i], list[i+1:]...)
			if len(r.handlers[reg.Type]) == 0 {
				delete(r.handlers, reg.Type)
			}
			registrationsActive.WithLabelValues(reg.DaemonName).Dec()
			return true
		}
	}
	return false
}

// UnregisterDaemon removes every registration owned by daemonName and
// returns how many were dropped.
func (r *HandlerRegistry) UnregisterDaemon(daemonName string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0
	for msgType, list := range r.handlers {
		kept := list[:0:0]
		for _, reg := range list {
			if reg.DaemonName == daemonName {
				dropped++
				continue
			}
			kept = append(kept, reg)
		}
		if len(kept) == 0 {
			delete(r.handlers, msgType)
		} else {
			r.handlers[msgType] = kept
		}
	}
	if dropped > 0 {
		registrationsActive.WithLabelValues(daemonName).Set(0)
	}
	return dropped
}

// Handlers returns a snapshot of the ordered registrations for a type.
// Mutating the live registry never corrupts a snapshot already handed out.
func (r *HandlerRegistry) Handlers(msgType string) []*HandlerRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.handlers[msgType]
	out := make([]*HandlerRegistration, len(list))
	copy(out, list)
	return out
}

// HasHandlers reports whether any handler is registered for a type.
func (r *HandlerRegistry) HasHandlers(msgType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[msgType]) > 0
}

// Types returns the currently handled message types.
func (r *HandlerRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}

// Len returns the total number of registrations across all types.
func (r *HandlerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, list := range r.handlers {
		n += len(list)
	}
	return n
}

// Clear drops every registration. Used by daemon teardown so a following
// start sees no residual handler state.
func (r *HandlerRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, list := range r.handlers {
		for _, reg := range list {
			registrationsActive.WithLabelValues(reg.DaemonName).Dec()
		}
	}
	r.handlers = make(map[string][]*HandlerRegistration)
}
