package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vango-go/vai-phone/pkg/core/phone"
)

// Resolver turns a dialed number into a call Context.
type Resolver struct {
	Store   Store
	Prompts Prompts
	// Region is the default phone region used for normalization ("" = digits only).
	Region string
	Logger *slog.Logger
}

// Resolve performs a single store lookup for destination. A missing tenant
// or a failing lookup yields the default configuration; a disabled tenant
// yields ErrAgentDisabled.
func (r *Resolver) Resolve(ctx context.Context, destination string) (Context, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	digits := phone.Normalize(destination, r.Region)
	out := Context{Destination: digits}

	var found *Tenant
	if r.Store != nil && digits != "" {
		t, err := r.Store.FindTenantByNumber(ctx, digits)
		switch {
		case err == nil:
			found = &t
		case errors.Is(err, ErrNotFound):
			logger.Info("no tenant for number, using default configuration", "to", digits)
		default:
			if ctx.Err() != nil {
				return Context{}, fmt.Errorf("resolve tenant: %w", ctx.Err())
			}
			logger.Error("tenant lookup failed, using default configuration", "to", digits, "error", err)
		}
	}

	if found != nil && !found.AgentEnabled {
		logger.Info("agent disabled", "to", digits, "tenant_id", found.ID)
		return Context{Destination: digits, Tenant: found}, ErrAgentDisabled
	}

	out.Tenant = found
	out.SystemInstruction = r.Prompts.Instruction(found)
	out.Voice = r.Prompts.VoiceFor(found)
	out.Greeting = r.Prompts.withDefaults().Greeting
	return out, nil
}
