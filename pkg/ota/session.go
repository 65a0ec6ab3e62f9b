package ota

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/edgefleet/otawatch/pkg/storage"
)

// Agent is the update middleware. Once started it operates autonomously on
// its own goroutines, delivering events through the returned Session until
// the update concludes or the session is stopped.
//
// Implementations own the entire job/data protocol, image verification and
// slot handling; callers treat them as opaque services.
type Agent interface {
	Start(ctx context.Context, net NetworkParams, params AgentParams, store storage.Interface) (*Session, error)
}

// Session is the opaque handle for a running agent. A session obtained from
// Start remains valid until process exit; there is no release or reuse.
type Session struct {
	id         uuid.UUID
	deliveries chan Delivery

	mu      sync.Mutex
	lastErr AgentError

	stop     chan struct{}
	stopOnce sync.Once
	endOnce  sync.Once
}

// NewSession returns a Session for an agent implementation to deliver through.
func NewSession() *Session {
	return &Session{
		id:         uuid.New(),
		deliveries: make(chan Delivery),
		stop:       make(chan struct{}),
	}
}

// ID identifies the session. The value is opaque to consumers beyond display.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Deliveries is the stream of events awaiting response. The channel closes
// when the agent winds the session down.
func (s *Session) Deliveries() <-chan Delivery {
	return s.deliveries
}

// LastError reports the agent's most recently recorded error code.
func (s *Session) LastError() AgentError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// SetLastError records the agent's error code for later lookup.
func (s *Session) SetLastError(e AgentError) {
	s.mu.Lock()
	s.lastErr = e
	s.mu.Unlock()
}

// Stop asks the agent to end the current update session. Safe to call from
// any goroutine, any number of times.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Stopping is closed once a stop has been requested.
func (s *Session) Stopping() <-chan struct{} {
	return s.stop
}

// Notify delivers ev and blocks until the consumer responds or ctx is done.
// Agent implementations call this at each transition and honor a ResultStop
// response by ending the session.
//
// A requested stop never preempts delivery: consumers read the stream until
// End, so events notified after Stop, the terminal outcome included, still
// reach them. Agents that want to cut a session short react to ResultStop or
// watch Stopping between operations.
func (s *Session) Notify(ctx context.Context, ev *Event) (Result, error) {
	d, resp := NewDelivery(ev)
	select {
	case s.deliveries <- d:
	case <-ctx.Done():
		return ResultStop, errors.Wrap(ctx.Err(), "event delivery abandoned")
	}
	select {
	case r := <-resp:
		return r, nil
	case <-ctx.Done():
		return ResultStop, errors.Wrap(ctx.Err(), "event response abandoned")
	}
}

// End closes the delivery stream. Called by the agent once, after its final
// event; the session handle itself stays valid.
func (s *Session) End() {
	s.endOnce.Do(func() { close(s.deliveries) })
}
