// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DefaultExpirySkew defines a default time skew when checking a Token's
// expiration.
const DefaultExpirySkew = 10 * time.Second

// IdToken is an oidc id_token.
type IdToken string

// RedactedIdToken is the redacted string or json for an oidc id_token.
const RedactedIdToken = "[REDACTED: id_token]"

// String will redact the token.
func (t IdToken) String() string {
	return RedactedIdToken
}

// MarshalJSON will redact the token.
func (t IdToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedIdToken)
}

// Claims retrieves the IdToken claims.
func (t IdToken) Claims(claims interface{}) error {
	const op = "IdToken.Claims"
	if len(t) == 0 {
		return fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	if claims == nil {
		return fmt.Errorf("%s: claims interface is nil: %w", op, ErrNilParameter)
	}
	return UnmarshalClaims(string(t), claims)
}

// RefreshToken is an oauth refresh_token.
type RefreshToken string

// RedactedRefreshToken is the redacted string or json for an oauth
// refresh_token.
const RedactedRefreshToken = "[REDACTED: refresh_token]"

// String will redact the token.
func (t RefreshToken) String() string {
	return RedactedRefreshToken
}

// MarshalJSON will redact the token.
func (t RefreshToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedRefreshToken)
}

// Token holds the tokens from a completed authorization-code flow or a
// refresh.
type Token struct {
	AccessToken  string
	RefreshToken RefreshToken
	IdToken      IdToken
	Expiry       time.Time
}

// Expired reports whether the access token has expired, applying an expiry
// skew (see WithExpirySkew).  A zero Expiry never expires.
func (t *Token) Expired(opt ...Option) bool {
	if t.Expiry.IsZero() {
		return false
	}
	opts := getTokenOpts(opt...)
	return t.Expiry.Round(0).Before(time.Now().Add(opts.withExpirySkew))
}

// ExpiresWithin reports whether the access token will expire within d.
func (t *Token) ExpiresWithin(d time.Duration) bool {
	if t.Expiry.IsZero() {
		return false
	}
	return t.Expiry.Round(0).Before(time.Now().Add(d))
}

// Valid reports whether the token exists and has not expired.
func (t *Token) Valid() bool {
	if t == nil {
		return false
	}
	if t.AccessToken == "" {
		return false
	}
	return !t.Expired()
}

// AccessClaims unmarshals the access token's claims.  The signature is not
// verified: this is an accessor for a token the client itself received from
// the provider, not an authorization decision.
func (t *Token) AccessClaims(claims interface{}) error {
	const op = "Token.AccessClaims"
	if t == nil || t.AccessToken == "" {
		return fmt.Errorf("%s: access token is empty: %w", op, ErrInvalidParameter)
	}
	return UnmarshalClaims(t.AccessToken, claims)
}

// realmAccessClaims is the Keycloak-style role layout inside an access
// token.
type realmAccessClaims struct {
	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
	ResourceAccess map[string]struct {
		Roles []string `json:"roles"`
	} `json:"resource_access"`
}

// RealmRoles returns the realm-level roles carried by the access token.
func (t *Token) RealmRoles() ([]string, error) {
	var c realmAccessClaims
	if err := t.AccessClaims(&c); err != nil {
		return nil, err
	}
	return c.RealmAccess.Roles, nil
}

// ClientRoles returns the roles granted for the given client id by the
// access token.
func (t *Token) ClientRoles(clientId string) ([]string, error) {
	var c realmAccessClaims
	if err := t.AccessClaims(&c); err != nil {
		return nil, err
	}
	r, ok := c.ResourceAccess[clientId]
	if !ok {
		return nil, nil
	}
	return r.Roles, nil
}

// UnmarshalClaims decodes the payload of a compact JWT into claims without
// verifying the signature.
func UnmarshalClaims(token string, claims interface{}) error {
	const op = "oidc.UnmarshalClaims"
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return fmt.Errorf("%s: jwt is malformed, expected 3 parts got %d: %w", op, len(parts), ErrInvalidParameter)
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return fmt.Errorf("%s: unable to decode jwt payload: %w", op, err)
	}
	if err := json.Unmarshal(raw, claims); err != nil {
		return fmt.Errorf("%s: unable to unmarshal jwt payload: %w", op, err)
	}
	return nil
}
