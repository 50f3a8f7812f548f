package docstore

import (
	"context"
	"slices"
	"strings"
)

// Caller identifies who issued a request.
type Caller struct {
	UserID string
	Roles  []string
}

// Authenticated reports whether the caller carries a user id.
func (c Caller) Authenticated() bool {
	return strings.TrimSpace(c.UserID) != ""
}

func (c Caller) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// Authorizer decides whether caller may turn old into proposed. old is nil
// when no document is stored.
type Authorizer interface {
	Validate(ctx context.Context, caller Caller, old, proposed Document) bool
}

// AuthorizerFunc is an adapter to allow ordinary functions to be used as
// Authorizer.
type AuthorizerFunc func(ctx context.Context, caller Caller, old, proposed Document) bool

// Validate calls f(ctx, caller, old, proposed).
func (f AuthorizerFunc) Validate(ctx context.Context, caller Caller, old, proposed Document) bool {
	if f == nil {
		return false
	}
	return f(ctx, caller, old, proposed)
}

// AllowAll permits every write.
type AllowAll struct{}

func (AllowAll) Validate(context.Context, Caller, Document, Document) bool { return true }

// DenyAll rejects every write.
type DenyAll struct{}

func (DenyAll) Validate(context.Context, Caller, Document, Document) bool { return false }

const (
	DefaultOwnerField = "owner"
	AdminRole         = "admin"
)

// OwnerAuthorizer permits a write when the caller owns both the stored and
// the proposed document. Callers with the admin role bypass the check.
type OwnerAuthorizer struct {
	Field string
}

func (a OwnerAuthorizer) Validate(_ context.Context, caller Caller, old, proposed Document) bool {
	if !caller.Authenticated() {
		return false
	}
	if caller.HasRole(AdminRole) {
		return true
	}
	field := a.Field
	if field == "" {
		field = DefaultOwnerField
	}
	if old != nil && !ownedBy(old, field, caller.UserID) {
		return false
	}
	return ownedBy(proposed, field, caller.UserID)
}

func ownedBy(doc Document, field, userID string) bool {
	owner, ok := doc[field].(string)
	return ok && owner == userID
}
