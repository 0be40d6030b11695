package auth

import (
	"context"
	"fmt"
	"strings"
)

// Role is the trust level of the caller.
type Role uint8

const (
	RoleUnknown Role = iota
	RoleBuyer
	RoleSeller
	RoleAdmin
	// RoleSystem is used for automated actors such as payment auto-confirmation.
	RoleSystem
)

var roleNames = [...]string{"unknown", "buyer", "seller", "admin", "system"}

func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return "unknown"
}

func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRole accepts the externally visible roles. "system" is never accepted
// from a token.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buyer":
		return RoleBuyer, nil
	case "seller":
		return RoleSeller, nil
	case "admin":
		return RoleAdmin, nil
	default:
		return RoleUnknown, fmt.Errorf("auth: unknown role %q", s)
	}
}

// Identity is the authenticated caller as supplied by the identity provider.
type Identity struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

// System is the identity used for automated transitions.
var System = Identity{UserID: "system", Role: RoleSystem}

func (i Identity) IsZero() bool { return i.UserID == "" }

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && !id.IsZero()
}
