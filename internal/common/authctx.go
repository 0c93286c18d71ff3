package common

import "context"

type ctxKey string

const (
	userIDKey ctxKey = "auth/user-id"
	roleKey   ctxKey = "auth/role"
)

// WithUserID stores the authenticated user identifier on the provided context.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserID extracts the authenticated user identifier from the context if present.
func UserID(ctx context.Context) (string, bool) {
	v := ctx.Value(userIDKey)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// WithRole stores the employee role (cashier, manager) on the context.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey, role)
}

// Role returns the employee role attached by the auth middleware.
func Role(ctx context.Context) string {
	role, _ := ctx.Value(roleKey).(string)
	return role
}

const principalSlotKey ctxKey = "auth/principal-slot"

// Principal is the identity an outer middleware can observe after the request
// has passed through authentication further down the chain.
type Principal struct {
	UserID string
	Role   string
}

// WithPrincipalSlot attaches an empty Principal that RecordPrincipal fills in.
func WithPrincipalSlot(ctx context.Context) (context.Context, *Principal) {
	p := &Principal{}
	return context.WithValue(ctx, principalSlotKey, p), p
}

// RecordPrincipal copies the authenticated identity into the slot if one exists.
func RecordPrincipal(ctx context.Context, userID, role string) {
	if p, ok := ctx.Value(principalSlotKey).(*Principal); ok && p != nil {
		p.UserID = userID
		p.Role = role
	}
}
