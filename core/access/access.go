/*Package access provides utilities for access control.

An Authorization is attached to the request context by one of the middleware
implementations (JWT bearer token, session cookie, or the backdoor used in
tests). Handlers only ask whether the caller holds a named permission.
*/
package access

import (
	"context"
	"errors"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

const contextKeyAuthorization contextKey = "_authorization_"

// Permission is a named capability a caller may hold.
type Permission string

const (
	// PermissionAdmin allows everything, including editing entities that
	// are flagged as requiring admin.
	PermissionAdmin Permission = "ADMIN"
	// PermissionMasterDataEdit allows create/update/delete on exposed entities.
	PermissionMasterDataEdit Permission = "MASTER_DATA_EDIT"
)

// ErrPermissionDenied is returned by Check when the caller does not hold
// the required permission.
var ErrPermissionDenied = errors.New("permission denied")

// Authorization is a context object which stores the caller's identity and
// granted permissions.
type Authorization struct {
	Username    string       `json:"username,omitempty"`
	Permissions []Permission `json:"permissions"`
}

// HasPermission returns true if the authorization contains the requested
// permission. Admin implies all other permissions.
func (a *Authorization) HasPermission(p Permission) bool {
	if a == nil {
		return false
	}
	for _, has := range a.Permissions {
		if has == p || has == PermissionAdmin && p != PermissionAdmin {
			return true
		}
	}
	return false
}

// ContextWithAuthorization returns a new context with this authorization added to it
func (a *Authorization) ContextWithAuthorization(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKeyAuthorization, a)
}

// AuthorizationFromContext retrieves an authorization from the context
func AuthorizationFromContext(ctx context.Context) *Authorization {
	a, ok := ctx.Value(contextKeyAuthorization).(*Authorization)
	if ok {
		return a
	}
	return nil
}

// Check verifies that the context carries an authorization holding the
// requested permission. It returns ErrPermissionDenied otherwise and must be
// called before any storage access.
func Check(ctx context.Context, p Permission) error {
	auth := AuthorizationFromContext(ctx)
	if !auth.HasPermission(p) {
		return ErrPermissionDenied
	}
	return nil
}
