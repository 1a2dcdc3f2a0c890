package common

import (
	"context"
	"slices"
	"strings"
)

type ctxKey string

const principalKey ctxKey = "auth/principal"

// Principal is the authenticated console user. Token is the raw bearer token
// forwarded to the retail backend on the user's behalf.
type Principal struct {
	UserID string
	Roles  []string
	Token  string
}

// HasRole reports whether the principal carries any of roles.
func (p Principal) HasRole(roles ...string) bool {
	for _, want := range roles {
		if slices.ContainsFunc(p.Roles, func(have string) bool { return strings.EqualFold(have, want) }) {
			return true
		}
	}
	return false
}

// WithPrincipal stores the authenticated principal on the provided context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom extracts the authenticated principal if present.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// UserID extracts the authenticated user identifier from the context if present.
func UserID(ctx context.Context) (string, bool) {
	p, ok := PrincipalFrom(ctx)
	if !ok || p.UserID == "" {
		return "", false
	}
	return p.UserID, true
}
