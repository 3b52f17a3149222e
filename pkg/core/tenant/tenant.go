// Package tenant resolves the restaurant configuration that drives a call.
package tenant

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by a Store when no tenant owns the number.
	ErrNotFound = errors.New("tenant not found")
	// ErrAgentDisabled means the tenant exists but has switched the agent off.
	// The call is closed cleanly without opening a model session.
	ErrAgentDisabled = errors.New("agent disabled for tenant")
)

// Tenant is a read-only snapshot of a restaurant's configuration.
type Tenant struct {
	ID           int64
	Name         string
	Phone        string
	AgentEnabled bool
	Voice        string
	SystemPrompt string
	Menu         string
}

// Store looks tenants up by normalized phone digits.
type Store interface {
	FindTenantByNumber(ctx context.Context, digits string) (Tenant, error)
}

// Context is everything the call needs from tenant resolution.
type Context struct {
	// Tenant is nil when the call runs on the default configuration.
	Tenant            *Tenant
	Destination       string
	SystemInstruction string
	Voice             string
	Greeting          string
}

// TenantID returns the tenant id, or nil for the default configuration.
func (c Context) TenantID() *int64 {
	if c.Tenant == nil {
		return nil
	}
	id := c.Tenant.ID
	return &id
}
