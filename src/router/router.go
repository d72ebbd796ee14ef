package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/synthome/cmdbus/src/registry"
	"github.com/synthome/cmdbus/src/types"
)

// Router resolves inbound envelopes against the handler registry, executes
// the winning handler under a timeout bound, and builds the reply envelope.
// One Router serves all connections; dispatches are independent and a
// failure in one never touches another client's in-flight dispatch.
type Router struct {
	handlers *registry.HandlerRegistry
	logger   zerolog.Logger

	mu             sync.RWMutex
	defaultTimeout time.Duration
	timeouts       map[string]time.Duration
}

// New creates a router over the given handler registry. defaultTimeout
// bounds every dispatch that has no per-type override.
func New(handlers *registry.HandlerRegistry, defaultTimeout time.Duration, logger zerolog.Logger) *Router {
	return &Router{
		handlers:       handlers,
		logger:         logger.With().Str("component", "router").Logger(),
		defaultTimeout: defaultTimeout,
		timeouts:       make(map[string]time.Duration),
	}
}

// SetTimeout overrides the dispatch timeout for one message type.
func (r *Router) SetTimeout(msgType string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeouts[msgType] = d
}

func (r *Router) timeoutFor(msgType string) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.timeouts[msgType]; ok {
		return d
	}
	return r.defaultTimeout
}

// Parse decodes a raw frame into an envelope. A malformed payload or a
// missing type yields a ProtocolError; the caller answers with
// FailureResponse and keeps the connection open.
func (r *Router) Parse(raw []byte) (types.Envelope, error) {
	var env types.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, &types.ProtocolError{Reason: fmt.Sprintf("malformed envelope: %v", err)}
	}
	if env.Type == "" {
		return env, &types.ProtocolError{Reason: "envelope missing required field \"type\""}
	}
	return env, nil
}

// PendingDispatch is one in-flight handler invocation racing its timeout.
// Created by Begin, resolved by Wait: whichever of "handler settles" or
// "timer fires" comes first wins and the loser is discarded.
type PendingDispatch struct {
	router  *Router
	env     types.Envelope
	reg     *registry.HandlerRegistration
	result  chan settledResult
	timer   *time.Timer
	timeout time.Duration
	start   time.Time
	settled *types.Response // resolved at Begin time (no handler)
}

type settledResult struct {
	res  types.Result
	name string
	err  error
}

// Begin initiates one dispatch: resolve the highest-priority handler and
// start its invocation. Begin returns only once the invocation is running,
// so callers that Begin in arrival order get handler initiation in arrival
// order; completion order is whatever the handlers make of it.
func (r *Router) Begin(ctx context.Context, env types.Envelope) *PendingDispatch {
	regs := r.handlers.Handlers(env.Type)
	if len(regs) == 0 {
		r.logger.Debug().Str("type", env.Type).Msg("no handler for type")
		dispatchesTotal.WithLabelValues(outcomeErrored).Inc()
		resp := r.FailureResponse(env, &types.RoutingError{Type: env.Type})
		return &PendingDispatch{settled: &resp}
	}

	// The snapshot keeps concurrent registry mutation from corrupting
	// this resolution.
	reg := regs[0]
	timeout := r.timeoutFor(env.Type)
	pd := &PendingDispatch{
		router:  r,
		env:     env,
		reg:     reg,
		result:  make(chan settledResult, 1),
		timer:   time.NewTimer(timeout),
		timeout: timeout,
		start:   time.Now(),
	}

	started := make(chan struct{})
	go r.invoke(ctx, reg, env, started, pd.result)
	<-started
	return pd
}

// Wait races the handler settling against the dispatch timeout and builds
// the reply envelope.
func (pd *PendingDispatch) Wait(ctx context.Context) types.Response {
	if pd.settled != nil {
		return *pd.settled
	}
	r := pd.router
	defer pd.timer.Stop()

	select {
	case settled := <-pd.result:
		dispatchDuration.WithLabelValues(pd.env.Type).Observe(time.Since(pd.start).Seconds())
		if settled.err != nil {
			dispatchesTotal.WithLabelValues(outcomeErrored).Inc()
			return r.FailureResponse(pd.env, settled.err)
		}
		dispatchesTotal.WithLabelValues(outcomeCompleted).Inc()
		return r.buildResponse(pd.env, settled.name, settled.res)
	case <-pd.timer.C:
		// The handler keeps running; its eventual result lands in the
		// buffered channel and is ignored. Handlers must tolerate that.
		r.logger.Warn().
			Str("type", pd.env.Type).
			Str("daemon", pd.reg.DaemonName).
			Dur("timeout", pd.timeout).
			Msg("dispatch timed out")
		dispatchesTotal.WithLabelValues(outcomeTimedOut).Inc()
		return r.FailureResponse(pd.env, &types.HandlerTimeoutError{Type: pd.env.Type, Timeout: pd.timeout})
	case <-ctx.Done():
		dispatchesTotal.WithLabelValues(outcomeErrored).Inc()
		return r.FailureResponse(pd.env, ctx.Err())
	}
}

// Dispatch routes one envelope start to finish. It never returns an error
// to the transport; every failure becomes a success:false response named
// after the request type.
func (r *Router) Dispatch(ctx context.Context, env types.Envelope) types.Response {
	return r.Begin(ctx, env).Wait(ctx)
}

// invoke runs the handler, converting panics into HandlerExecutionError.
// started is closed once the invocation is executing; the result channel
// is buffered so a late settle after timeout does not leak this goroutine.
func (r *Router) invoke(ctx context.Context, reg *registry.HandlerRegistration, env types.Envelope, started chan<- struct{}, out chan<- settledResult) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().
				Str("type", env.Type).
				Str("daemon", reg.DaemonName).
				Interface("panic", p).
				Msg("handler panicked")
			out <- settledResult{err: &types.HandlerExecutionError{
				Type:  env.Type,
				Cause: fmt.Errorf("panic: %v", p),
			}}
		}
	}()

	close(started)
	res := reg.Handler.Handle(ctx, env)
	out <- settledResult{res: res, name: reg.DaemonName}
}

// buildResponse assembles the reply envelope. The type is always the
// request type plus "_response"; this naming is a hard external contract.
func (r *Router) buildResponse(env types.Envelope, processedBy string, res types.Result) types.Response {
	return types.Response{
		Type:        types.ResponseType(env.Type),
		RequestID:   env.RequestID,
		ClientID:    env.ClientID,
		Timestamp:   types.Now(),
		ProcessedBy: processedBy,
		Success:     res.Success,
		Data:        res.Data,
		Error:       res.Error,
	}
}

// FailureResponse builds a success:false reply for any dispatch-level
// failure, still named after the request type when one is known.
func (r *Router) FailureResponse(env types.Envelope, err error) types.Response {
	return types.Response{
		Type:      types.ResponseType(env.Type),
		RequestID: env.RequestID,
		ClientID:  env.ClientID,
		Timestamp: types.Now(),
		Success:   false,
		Error:     err.Error(),
	}
}
