package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthorized is returned by authenticators for bad credentials.
var ErrUnauthorized = errors.New("unauthorized")

// Caller identifies who is making an API request. A nil OwnerID with
// Operator set means a trusted service call that may touch any task.
type Caller struct {
	OwnerID  *string
	Operator bool
}

// Authenticator resolves the caller of a request. Session handling lives
// in the product's frontend layer; the orchestrator only needs identity.
type Authenticator interface {
	Authenticate(r *http.Request) (*Caller, error)
}

type callerKey struct{}

// WithCaller attaches a caller to the context.
func WithCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFromContext returns the authenticated caller, or nil.
func CallerFromContext(ctx context.Context) *Caller {
	c, _ := ctx.Value(callerKey{}).(*Caller)
	return c
}

// TokenAuthenticator authenticates service calls with a shared bearer
// token. The frontend asserts the acting owner via the X-Owner-ID
// header; without it the call is an operator call.
type TokenAuthenticator struct {
	token string
}

// NewTokenAuthenticator creates a bearer-token authenticator.
func NewTokenAuthenticator(token string) *TokenAuthenticator {
	return &TokenAuthenticator{token: token}
}

// Authenticate implements Authenticator.
func (a *TokenAuthenticator) Authenticate(r *http.Request) (*Caller, error) {
	presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || a.token == "" {
		return nil, ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(a.token)) != 1 {
		return nil, ErrUnauthorized
	}

	if owner := r.Header.Get("X-Owner-ID"); owner != "" {
		return &Caller{OwnerID: &owner}, nil
	}
	return &Caller{Operator: true}, nil
}
