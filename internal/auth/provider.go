// Package auth supplies bearer tokens for the answering service.
package auth

import (
	"context"
	"errors"
	"strings"
)

// ErrNoSession is returned when there is no signed-in user to mint a token
// for.
var ErrNoSession = errors.New("no authenticated user session")

// TokenProvider returns a bearer token that is valid for the request about
// to be made. Implementations must not hand back a cached token.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// ProviderFunc adapts a function to TokenProvider.
type ProviderFunc func(ctx context.Context) (string, error)

func (f ProviderFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticProvider hands out a fixed token, for service accounts and local
// backends that accept long-lived tokens.
type StaticProvider struct {
	token string
}

// NewStaticProvider creates a StaticProvider. An empty token yields
// ErrNoSession on every call.
func NewStaticProvider(token string) *StaticProvider {
	return &StaticProvider{token: strings.TrimSpace(token)}
}

func (p *StaticProvider) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.token == "" {
		return "", ErrNoSession
	}
	return p.token, nil
}
