package tenant

import (
	"context"
	"errors"
	"fmt"
)

type contextKey struct{}

// Tenant identifies the owner of jobs, plans and backup data
type Tenant struct {
	ID        string
	Namespace string // archive key prefix, "tenant/{id}/"
}

// Errors
var (
	ErrNoTenant           = errors.New("no tenant in context")
	ErrEmergencyDisabled  = errors.New("emergency backups are disabled for this tenant")
	ErrRestoreUnavailable = errors.New("no restore executor configured")
)

// New builds a tenant with its default namespace
func New(id string) *Tenant {
	return &Tenant{ID: id, Namespace: fmt.Sprintf("tenant/%s/", id)}
}

// WithTenant scopes a request context to the calling tenant
func WithTenant(ctx context.Context, t *Tenant) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

func FromContext(ctx context.Context) (*Tenant, error) {
	t, ok := ctx.Value(contextKey{}).(*Tenant)
	if !ok || t == nil {
		return nil, ErrNoTenant
	}
	return t, nil
}

// NamespaceKey places an archive key under the tenant's prefix so tenants
// sharing a destination never collide
func (t *Tenant) NamespaceKey(key string) string {
	ns := t.Namespace
	if ns == "" {
		ns = fmt.Sprintf("tenant/%s/", t.ID)
	}
	return ns + key
}
