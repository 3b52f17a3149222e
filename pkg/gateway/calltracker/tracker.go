// Package calltracker tracks live calls for graceful shutdown, readiness, and
// the per-tenant concurrent call cap.
package calltracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrDraining rejects new calls once shutdown started.
	ErrDraining = errors.New("server is draining")
	// ErrTenantAtCapacity rejects a call over the per-tenant cap.
	ErrTenantAtCapacity = errors.New("tenant call limit reached")
)

type Handle struct {
	// Tenant groups calls for the per-tenant cap. Empty is never capped.
	Tenant string
	Cancel func()
}

type Tracker struct {
	maxPerTenant int
	draining     atomic.Bool

	mu       sync.Mutex
	calls    map[string]*trackedCall
	byTenant map[string]int
	wg       sync.WaitGroup
}

type trackedCall struct {
	handle Handle
	once   sync.Once
}

// NewTracker returns a tracker; maxPerTenant <= 0 disables the cap.
func NewTracker(maxPerTenant int) *Tracker {
	return &Tracker{
		maxPerTenant: maxPerTenant,
		calls:        make(map[string]*trackedCall),
		byTenant:     make(map[string]int),
	}
}

// Register admits a call. The returned unregister func is idempotent.
func (t *Tracker) Register(callID string, h Handle) (unregister func(), err error) {
	if t == nil {
		return func() {}, nil
	}
	if t.draining.Load() {
		return nil, ErrDraining
	}

	entry := &trackedCall{handle: h}

	t.mu.Lock()
	// Checked again under mu so no wg.Add can follow SetDraining into Wait.
	if t.draining.Load() {
		t.mu.Unlock()
		return nil, ErrDraining
	}
	if h.Tenant != "" && t.maxPerTenant > 0 && t.byTenant[h.Tenant] >= t.maxPerTenant {
		t.mu.Unlock()
		return nil, ErrTenantAtCapacity
	}
	old := t.calls[callID]
	t.calls[callID] = entry
	if h.Tenant != "" {
		t.byTenant[h.Tenant]++
	}
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(callID, old)
	}
	return func() { t.unregister(callID, entry) }, nil
}

func (t *Tracker) unregister(callID string, entry *trackedCall) {
	entry.once.Do(func() {
		t.mu.Lock()
		if t.calls[callID] == entry {
			delete(t.calls, callID)
		}
		if tenant := entry.handle.Tenant; tenant != "" {
			t.byTenant[tenant]--
			if t.byTenant[tenant] <= 0 {
				delete(t.byTenant, tenant)
			}
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// TenantCount is the number of live calls for tenant.
func (t *Tracker) TenantCount(tenant string) int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byTenant[tenant]
}

func (t *Tracker) SetDraining(draining bool) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.draining.Store(draining)
	t.mu.Unlock()
}

func (t *Tracker) IsDraining() bool {
	if t == nil {
		return false
	}
	return t.draining.Load()
}

func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}

	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.calls {
		if entry.handle.Cancel == nil {
			continue
		}
		cancels = append(cancels, entry.handle.Cancel)
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered call unregistered or ctx is done.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
