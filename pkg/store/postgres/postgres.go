// Package postgres is the production store: tenants, orders, demands, and
// push subscriptions in PostgreSQL, with embedded goose migrations.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/vango-go/vai-phone/pkg/core/tenant"
	"github.com/vango-go/vai-phone/pkg/core/tools"
	"github.com/vango-go/vai-phone/pkg/notify"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Migrate applies pending migrations.
func (s *Store) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("postgres: migrations: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("postgres: migrate up: %w", err)
	}
	for _, r := range results {
		s.logger.Info("migration applied", "version", r.Source.Version, "duration_ms", r.Duration.Milliseconds())
	}
	return nil
}

func (s *Store) FindTenantByNumber(ctx context.Context, digits string) (tenant.Tenant, error) {
	var t tenant.Tenant
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, phone, agent_enabled, voice, system_prompt, menu
		FROM tenants WHERE phone = $1`, digits,
	).Scan(&t.ID, &t.Name, &t.Phone, &t.AgentEnabled, &t.Voice, &t.SystemPrompt, &t.Menu)
	if errors.Is(err, pgx.ErrNoRows) {
		return tenant.Tenant{}, tenant.ErrNotFound
	}
	if err != nil {
		return tenant.Tenant{}, fmt.Errorf("postgres: find tenant: %w", err)
	}
	return t, nil
}

// UpsertTenant inserts t or updates the tenant owning t.Phone.
func (s *Store) UpsertTenant(ctx context.Context, t tenant.Tenant) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO tenants (name, phone, agent_enabled, voice, system_prompt, menu)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (phone) DO UPDATE SET
			name = EXCLUDED.name,
			agent_enabled = EXCLUDED.agent_enabled,
			voice = EXCLUDED.voice,
			system_prompt = EXCLUDED.system_prompt,
			menu = EXCLUDED.menu,
			updated_at = now()
		RETURNING id`,
		t.Name, t.Phone, t.AgentEnabled, t.Voice, t.SystemPrompt, t.Menu,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: upsert tenant: %w", err)
	}
	return id, nil
}

// RenormalizePhones rewrites tenant and order phone columns with normalize
// and returns the number of rows changed.
func (s *Store) RenormalizePhones(ctx context.Context, normalize func(string) string) (int, error) {
	changed := 0
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, col := range []struct{ table, column string }{
			{"tenants", "phone"},
			{"orders", "customer_phone"},
			{"orders", "company_phone"},
			{"demands", "customer_phone"},
		} {
			n, err := renormalizeColumn(ctx, tx, col.table, col.column, normalize)
			if err != nil {
				return err
			}
			changed += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("postgres: renormalize: %w", err)
	}
	return changed, nil
}

func renormalizeColumn(ctx context.Context, tx pgx.Tx, table, column string, normalize func(string) string) (int, error) {
	rows, err := tx.Query(ctx, fmt.Sprintf(`SELECT id, %s FROM %s`, column, table))
	if err != nil {
		return 0, err
	}
	type change struct {
		id    int64
		value string
	}
	var changes []change
	for rows.Next() {
		var (
			id  int64
			raw string
		)
		if err := rows.Scan(&id, &raw); err != nil {
			rows.Close()
			return 0, err
		}
		if norm := normalize(raw); norm != raw && norm != "" {
			changes = append(changes, change{id: id, value: norm})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	for _, c := range changes {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET %s = $1 WHERE id = $2`, table, column), c.value, c.id); err != nil {
			return 0, fmt.Errorf("%s.%s id=%d: %w", table, column, c.id, err)
		}
	}
	return len(changes), nil
}

func (s *Store) CreateOrder(ctx context.Context, o tools.Order) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO orders (status, detail, customer_name, customer_phone, company_id, company_phone, address)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		o.Status, o.Detail, o.CustomerName, o.CustomerPhone, o.CompanyID, o.CompanyPhone, o.Address,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: create order: %w", err)
	}
	return id, nil
}

func (s *Store) CreateDemand(ctx context.Context, d tools.Demand) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO demands (order_id, company_id, customer_name, customer_phone, content, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		d.OrderID, d.CompanyID, d.CustomerName, d.CustomerPhone, d.Content, d.Status,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: create demand: %w", err)
	}
	return id, nil
}

func (s *Store) FindLatestOpenOrder(ctx context.Context, customerPhone string, companyID *int64) (tools.Order, error) {
	var o tools.Order
	err := s.pool.QueryRow(ctx, `
		SELECT id, status, detail, customer_name, customer_phone, company_id, company_phone, address, created_at
		FROM orders
		WHERE customer_phone = $1
		  AND company_id IS NOT DISTINCT FROM $2
		  AND status = ANY($3)
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		customerPhone, companyID, tools.OpenOrderStatuses,
	).Scan(&o.ID, &o.Status, &o.Detail, &o.CustomerName, &o.CustomerPhone, &o.CompanyID, &o.CompanyPhone, &o.Address, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return tools.Order{}, tools.ErrNoOpenOrder
	}
	if err != nil {
		return tools.Order{}, fmt.Errorf("postgres: find open order: %w", err)
	}
	return o, nil
}

func (s *Store) SaveSubscription(ctx context.Context, sub notify.Subscription) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO push_subscriptions (endpoint, p256dh, auth)
		VALUES ($1, $2, $3)
		ON CONFLICT (endpoint) DO UPDATE SET p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth`,
		sub.Endpoint, sub.P256dh, sub.Auth,
	)
	if err != nil {
		return fmt.Errorf("postgres: save subscription: %w", err)
	}
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context) ([]notify.Subscription, error) {
	rows, err := s.pool.Query(ctx, `SELECT endpoint, p256dh, auth FROM push_subscriptions ORDER BY endpoint`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list subscriptions: %w", err)
	}
	subs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (notify.Subscription, error) {
		var sub notify.Subscription
		err := row.Scan(&sub.Endpoint, &sub.P256dh, &sub.Auth)
		return sub, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list subscriptions: %w", err)
	}
	return subs, nil
}

func (s *Store) DeleteSubscription(ctx context.Context, endpoint string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM push_subscriptions WHERE endpoint = $1`, endpoint); err != nil {
		return fmt.Errorf("postgres: delete subscription: %w", err)
	}
	return nil
}
