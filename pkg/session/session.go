// Package session carries the signed-in user and active organization through
// context values. Identities are read from a context or from a bearer token;
// this package never issues tokens.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoIdentity is returned when the context carries no identity.
	ErrNoIdentity = errors.New("session: no identity in context")
	// ErrInvalidToken wraps token parsing and verification failures.
	ErrInvalidToken = errors.New("session: invalid token")
)

// Identity is the ambient user for outgoing requests.
type Identity struct {
	UserID         string `json:"userId"`
	OrganizationID string `json:"organizationId"`
	Name           string `json:"name,omitempty"`
	Email          string `json:"email,omitempty"`
	Role           string `json:"role,omitempty"`
	Token          string `json:"-"`
}

// Authenticated reports whether the identity can authorize requests.
func (i Identity) Authenticated() bool {
	return strings.TrimSpace(i.Token) != ""
}

type contextKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored in ctx.
func FromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// MustFromContext is FromContext returning ErrNoIdentity when absent.
func MustFromContext(ctx context.Context) (Identity, error) {
	id, ok := FromContext(ctx)
	if !ok {
		return Identity{}, ErrNoIdentity
	}
	return id, nil
}

// Claims are the token claims the console backend issues.
type Claims struct {
	OrganizationID string `json:"org_id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Role           string `json:"role"`
	jwt.RegisteredClaims
}

// FromToken decodes a bearer token into an Identity. When key is non-empty
// the HMAC signature and expiry are verified; otherwise the claims are read
// without verification, which is only suitable for display purposes.
func FromToken(raw string, key []byte) (Identity, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
	if raw == "" {
		return Identity{}, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	claims := &Claims{}
	if len(key) == 0 {
		if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
			return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}
	} else {
		_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			return key, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}
	}

	return Identity{
		UserID:         claims.Subject,
		OrganizationID: claims.OrganizationID,
		Name:           claims.Name,
		Email:          claims.Email,
		Role:           claims.Role,
		Token:          raw,
	}, nil
}
