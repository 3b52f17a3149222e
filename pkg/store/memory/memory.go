// Package memory is an in-process store for local runs and tests. Records
// are lost on exit.
package memory

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/vango-go/vai-phone/pkg/core/tenant"
	"github.com/vango-go/vai-phone/pkg/core/tools"
	"github.com/vango-go/vai-phone/pkg/notify"
)

type Store struct {
	mu            sync.Mutex
	now           func() time.Time
	nextID        int64
	tenants       map[int64]tenant.Tenant
	orders        []tools.Order
	demands       []tools.Demand
	subscriptions map[string]notify.Subscription
}

func New() *Store {
	return &Store{
		now:           time.Now,
		tenants:       make(map[int64]tenant.Tenant),
		subscriptions: make(map[string]notify.Subscription),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// UpsertTenant inserts t or updates the tenant with the same phone. The
// phone must already be normalized.
func (s *Store) UpsertTenant(_ context.Context, t tenant.Tenant) (int64, error) {
	if t.Phone == "" {
		return 0, errors.New("memory: tenant phone is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.tenants {
		if existing.Phone == t.Phone {
			t.ID = id
			s.tenants[id] = t
			return id, nil
		}
	}
	t.ID = s.id()
	s.tenants[t.ID] = t
	return t.ID, nil
}

func (s *Store) FindTenantByNumber(_ context.Context, digits string) (tenant.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, t := range s.tenants {
		if t.Phone == digits {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return tenant.Tenant{}, tenant.ErrNotFound
	}
	slices.Sort(ids)
	return s.tenants[ids[0]], nil
}

func (s *Store) CreateOrder(_ context.Context, o tools.Order) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.ID = s.id()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.now()
	}
	s.orders = append(s.orders, o)
	return o.ID, nil
}

func (s *Store) CreateDemand(_ context.Context, d tools.Demand) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = s.id()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	s.demands = append(s.demands, d)
	return d.ID, nil
}

func (s *Store) FindLatestOpenOrder(_ context.Context, customerPhone string, companyID *int64) (tools.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		best  tools.Order
		found bool
	)
	for _, o := range s.orders {
		if o.CustomerPhone != customerPhone || !sameID(o.CompanyID, companyID) {
			continue
		}
		if !slices.Contains(tools.OpenOrderStatuses, o.Status) {
			continue
		}
		if !found || o.CreatedAt.After(best.CreatedAt) || (o.CreatedAt.Equal(best.CreatedAt) && o.ID > best.ID) {
			best, found = o, true
		}
	}
	if !found {
		return tools.Order{}, tools.ErrNoOpenOrder
	}
	return best, nil
}

// SetOrderStatus changes an order's status.
func (s *Store) SetOrderStatus(_ context.Context, id int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.orders {
		if s.orders[i].ID == id {
			s.orders[i].Status = status
			return nil
		}
	}
	return errors.New("memory: order not found")
}

// Orders returns a copy of every stored order.
func (s *Store) Orders() []tools.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.orders)
}

// Demands returns a copy of every stored demand.
func (s *Store) Demands() []tools.Demand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.demands)
}

func (s *Store) SaveSubscription(_ context.Context, sub notify.Subscription) error {
	if sub.Endpoint == "" {
		return errors.New("memory: subscription endpoint is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub.Endpoint] = sub
	return nil
}

func (s *Store) ListSubscriptions(context.Context) ([]notify.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notify.Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out, nil
}

func (s *Store) DeleteSubscription(_ context.Context, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, endpoint)
	return nil
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
