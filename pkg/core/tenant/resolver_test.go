package tenant

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

type fakeStore struct {
	tenants map[string]Tenant
	err     error
	calls   []string
}

func (f *fakeStore) FindTenantByNumber(_ context.Context, digits string) (Tenant, error) {
	f.calls = append(f.calls, digits)
	if f.err != nil {
		return Tenant{}, f.err
	}
	t, ok := f.tenants[digits]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return t, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolve_TenantFound(t *testing.T) {
	store := &fakeStore{tenants: map[string]Tenant{
		"212612345678": {ID: 7, Name: "Dar Tajine", AgentEnabled: true, Voice: "Kore", SystemPrompt: "You work at Dar Tajine.", Menu: "Tajine 60dh"},
	}}
	r := &Resolver{Store: store, Region: "MA", Logger: testLogger()}

	got, err := r.Resolve(context.Background(), "0612345678")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if len(store.calls) != 1 || store.calls[0] != "212612345678" {
		t.Fatalf("lookups=%v, want one lookup of 212612345678", store.calls)
	}
	if got.Tenant == nil || got.Tenant.ID != 7 {
		t.Fatalf("tenant=%+v, want id 7", got.Tenant)
	}
	if got.Voice != "Kore" {
		t.Fatalf("voice=%q, want Kore", got.Voice)
	}
	for _, want := range []string{"You work at Dar Tajine.", DefaultLanguageSuffix, "Here is the Menu:\nTajine 60dh", "create_order", "submit_demand"} {
		if !strings.Contains(got.SystemInstruction, want) {
			t.Fatalf("instruction missing %q:\n%s", want, got.SystemInstruction)
		}
	}
	if strings.Contains(got.SystemInstruction, "friendly AI restaurant assistant") {
		t.Fatalf("tenant prompt should replace default persona")
	}
	if got.Greeting != DefaultGreeting {
		t.Fatalf("greeting=%q", got.Greeting)
	}
}

func TestResolve_NotFoundUsesDefault(t *testing.T) {
	r := &Resolver{Store: &fakeStore{}, Logger: testLogger()}
	got, err := r.Resolve(context.Background(), "+1 555 0100")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if got.Tenant != nil {
		t.Fatalf("tenant=%+v, want nil", got.Tenant)
	}
	if got.Voice != DefaultVoice {
		t.Fatalf("voice=%q, want %q", got.Voice, DefaultVoice)
	}
	if !strings.HasPrefix(got.SystemInstruction, DefaultPersona) {
		t.Fatalf("instruction should start with default persona")
	}
	if strings.Contains(got.SystemInstruction, DefaultLanguageSuffix) {
		t.Fatalf("default configuration should not carry tenant suffix")
	}
	if got.TenantID() != nil {
		t.Fatalf("TenantID should be nil")
	}
}

func TestResolve_DisabledTenant(t *testing.T) {
	store := &fakeStore{tenants: map[string]Tenant{"5550100": {ID: 3, AgentEnabled: false}}}
	r := &Resolver{Store: store, Logger: testLogger()}
	got, err := r.Resolve(context.Background(), "555-0100")
	if !errors.Is(err, ErrAgentDisabled) {
		t.Fatalf("err=%v, want ErrAgentDisabled", err)
	}
	if got.SystemInstruction != "" {
		t.Fatalf("disabled tenant should not build an instruction")
	}
}

func TestResolve_LookupErrorFallsBack(t *testing.T) {
	r := &Resolver{Store: &fakeStore{err: errors.New("db down")}, Logger: testLogger()}
	got, err := r.Resolve(context.Background(), "5550100")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if got.Tenant != nil || got.SystemInstruction == "" {
		t.Fatalf("want default configuration, got %+v", got)
	}
}
