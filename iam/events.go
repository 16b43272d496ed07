// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

package iam

import "sync"

// Event is a lifecycle notification emitted by a Service.  Each concrete
// event type carries its own payload, so handlers switch on the type rather
// than on string names.
type Event interface {
	// Type identifies the event kind for subscription routing.
	Type() EventType
}

// EventType identifies one kind of lifecycle event.
type EventType int

const (
	// EventReady fires when initialization completes, carrying the
	// resulting authenticated state.
	EventReady EventType = iota + 1

	// EventInitError fires when initialization fails.
	EventInitError

	// EventAuthSuccess fires after a successful login or code exchange.
	EventAuthSuccess

	// EventAuthError fires when authentication fails.
	EventAuthError

	// EventAuthRefreshSuccess fires after a successful token refresh.
	EventAuthRefreshSuccess

	// EventAuthRefreshError fires when a token refresh fails.
	EventAuthRefreshError

	// EventLogout fires when the session ends.
	EventLogout

	// EventTokenExpired fires when the access token is found expired
	// with no way to refresh it.
	EventTokenExpired
)

// Ready carries the authenticated state determined by Init.
type Ready struct {
	Authenticated bool
}

func (Ready) Type() EventType { return EventReady }

// InitError carries the error that stopped initialization.
type InitError struct {
	Err error
}

func (InitError) Type() EventType { return EventInitError }

// AuthSuccess signals a completed login or code exchange.
type AuthSuccess struct{}

func (AuthSuccess) Type() EventType { return EventAuthSuccess }

// AuthError carries an authentication failure.
type AuthError struct {
	Err error
}

func (AuthError) Type() EventType { return EventAuthError }

// AuthRefreshSuccess signals a completed token refresh.
type AuthRefreshSuccess struct{}

func (AuthRefreshSuccess) Type() EventType { return EventAuthRefreshSuccess }

// AuthRefreshError carries a token refresh failure.
type AuthRefreshError struct {
	Err error
}

func (AuthRefreshError) Type() EventType { return EventAuthRefreshError }

// Logout signals the end of the session.
type Logout struct{}

func (Logout) Type() EventType { return EventLogout }

// TokenExpired signals an expired access token with no refresh path.
type TokenExpired struct{}

func (TokenExpired) Type() EventType { return EventTokenExpired }

// Handler receives emitted events.  Handlers run synchronously on the
// goroutine that triggered the event and must not block.
type Handler func(Event)

// Subscription identifies a registered handler for later removal via Off.
type Subscription int

// dispatcher routes events to per-type handler sets.  Safe for concurrent
// use.
type dispatcher struct {
	mu       sync.Mutex
	next     Subscription
	handlers map[EventType]map[Subscription]Handler
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		handlers: map[EventType]map[Subscription]Handler{},
	}
}

func (d *dispatcher) on(t EventType, h Handler) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	if d.handlers[t] == nil {
		d.handlers[t] = map[Subscription]Handler{}
	}
	d.handlers[t][d.next] = h
	return d.next
}

func (d *dispatcher) off(t EventType, sub Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers[t], sub)
}

func (d *dispatcher) emit(e Event) {
	d.mu.Lock()
	registered := d.handlers[e.Type()]
	hs := make([]Handler, 0, len(registered))
	for _, h := range registered {
		hs = append(hs, h)
	}
	d.mu.Unlock()
	for _, h := range hs {
		h(e)
	}
}
