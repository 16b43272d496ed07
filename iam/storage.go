// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

package iam

import (
	"net/http"
	"sync"
	"time"
)

// SessionTokenCookie is the cookie name the access token is mirrored into
// for server-side middleware.
const SessionTokenCookie = "kcToken"

// SessionStore holds transient per-session values between the login
// redirect and the callback (the PKCE verifier and the return URL).  Values
// are scoped to one logical session; a verifier stored by one session is
// invisible to another.
type SessionStore interface {
	// Get returns the stored value and whether it was present.
	Get(key string) (string, bool)

	// Set stores a value, replacing any existing one.
	Set(key, value string)

	// Delete removes a value.  Deleting an absent key is a no-op.
	Delete(key string)
}

// MemorySessionStore is a mutex-guarded in-memory SessionStore, the default
// when none is injected.
type MemorySessionStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemorySessionStore creates an empty MemorySessionStore.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{values: map[string]string{}}
}

func (s *MemorySessionStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *MemorySessionStore) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

func (s *MemorySessionStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// CookieSink receives the session token cookie the service mirrors for
// server-side middleware.  Implementations typically write to an
// http.ResponseWriter or the platform's cookie jar.
type CookieSink interface {
	// SetCookie applies the cookie.  A cookie with Expires set to the
	// Unix epoch clears the value.
	SetCookie(cookie *http.Cookie)
}

// sessionTokenCookie mirrors the access token for middleware consumption.
// Deliberately not HttpOnly: the token is already held by this process and
// the cookie exists for same-origin server reads.
func sessionTokenCookie(accessToken string) *http.Cookie {
	return &http.Cookie{
		Name:  SessionTokenCookie,
		Value: accessToken,
		Path:  "/",
	}
}

func expiredSessionTokenCookie() *http.Cookie {
	return &http.Cookie{
		Name:    SessionTokenCookie,
		Value:   "",
		Path:    "/",
		Expires: time.Unix(0, 0),
	}
}

// MemoryCookieSink records the last cookie set, for tests and headless
// hosts.
type MemoryCookieSink struct {
	mu   sync.Mutex
	last *http.Cookie
}

func (s *MemoryCookieSink) SetCookie(cookie *http.Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = cookie
}

// Last returns the most recently set cookie, or nil.
func (s *MemoryCookieSink) Last() *http.Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
