package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/vango-go/vai-phone/pkg/core/phone"
	"github.com/vango-go/vai-phone/pkg/core/tenant"
	"github.com/vango-go/vai-phone/pkg/core/tools"
	"github.com/vango-go/vai-phone/pkg/notify"
)

// openTestStore connects to VAI_PHONE_TEST_DATABASE_URL, migrates, and
// empties every table.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("VAI_PHONE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("VAI_PHONE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if _, err := s.pool.Exec(ctx, `TRUNCATE push_subscriptions, demands, orders, tenants RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return s
}

func TestStore_TenantRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.UpsertTenant(ctx, tenant.Tenant{Name: "Dar Tajine", Phone: "212522000000", AgentEnabled: true, Menu: "tajine"})
	if err != nil {
		t.Fatalf("UpsertTenant: %v", err)
	}
	got, err := s.FindTenantByNumber(ctx, "212522000000")
	if err != nil {
		t.Fatalf("FindTenantByNumber: %v", err)
	}
	if got.ID != id || got.Menu != "tajine" || !got.AgentEnabled {
		t.Fatalf("tenant=%+v", got)
	}
	if _, err := s.FindTenantByNumber(ctx, "1"); !errors.Is(err, tenant.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestStore_OrdersAndDemands(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	company, err := s.UpsertTenant(ctx, tenant.Tenant{Name: "Dar Tajine", Phone: "212522000000", AgentEnabled: true})
	if err != nil {
		t.Fatalf("UpsertTenant: %v", err)
	}

	if _, err := s.FindLatestOpenOrder(ctx, "212612345678", &company); !errors.Is(err, tools.ErrNoOpenOrder) {
		t.Fatalf("err=%v, want ErrNoOpenOrder", err)
	}

	first, err := s.CreateOrder(ctx, tools.Order{Status: tools.OrderReceived, Detail: "1 tajine", CustomerPhone: "212612345678", CompanyID: &company, Address: tools.AddressUnspecified})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	second, err := s.CreateOrder(ctx, tools.Order{Status: tools.OrderReceived, Detail: "2 tajines", CustomerPhone: "212612345678", CompanyID: &company, Address: tools.AddressUnspecified})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if second <= first {
		t.Fatalf("order ids not increasing: %d then %d", first, second)
	}

	latest, err := s.FindLatestOpenOrder(ctx, "212612345678", &company)
	if err != nil {
		t.Fatalf("FindLatestOpenOrder: %v", err)
	}
	if latest.ID != second {
		t.Fatalf("latest id=%d, want %d", latest.ID, second)
	}
	if _, err := s.FindLatestOpenOrder(ctx, "212612345678", nil); !errors.Is(err, tools.ErrNoOpenOrder) {
		t.Fatalf("nil company err=%v, want ErrNoOpenOrder", err)
	}

	demandID, err := s.CreateDemand(ctx, tools.Demand{OrderID: &latest.ID, CompanyID: &company, Content: "no onions", Status: tools.DemandNew})
	if err != nil || demandID == 0 {
		t.Fatalf("CreateDemand id=%d err=%v", demandID, err)
	}
}

func TestStore_Subscriptions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sub := notify.Subscription{Endpoint: "https://push/a", P256dh: "k", Auth: "a"}
	if err := s.SaveSubscription(ctx, sub); err != nil {
		t.Fatalf("SaveSubscription: %v", err)
	}
	sub.Auth = "b"
	if err := s.SaveSubscription(ctx, sub); err != nil {
		t.Fatalf("SaveSubscription again: %v", err)
	}
	subs, err := s.ListSubscriptions(ctx)
	if err != nil || len(subs) != 1 || subs[0].Auth != "b" {
		t.Fatalf("subs=%+v err=%v", subs, err)
	}
	if err := s.DeleteSubscription(ctx, sub.Endpoint); err != nil {
		t.Fatalf("DeleteSubscription: %v", err)
	}
	subs, _ = s.ListSubscriptions(ctx)
	if len(subs) != 0 {
		t.Fatalf("subs after delete=%d", len(subs))
	}
}

func TestStore_RenormalizePhones(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.UpsertTenant(ctx, tenant.Tenant{Name: "Dar Tajine", Phone: "+212 522-000000"}); err != nil {
		t.Fatalf("UpsertTenant: %v", err)
	}
	n, err := s.RenormalizePhones(ctx, func(raw string) string { return phone.Normalize(raw, "MA") })
	if err != nil {
		t.Fatalf("RenormalizePhones: %v", err)
	}
	if n != 1 {
		t.Fatalf("changed=%d, want 1", n)
	}
	if _, err := s.FindTenantByNumber(ctx, "212522000000"); err != nil {
		t.Fatalf("FindTenantByNumber after renormalize: %v", err)
	}
}
