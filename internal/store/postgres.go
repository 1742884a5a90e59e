package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"tskeyd/internal/license"
)

const schema = `
CREATE TABLE IF NOT EXISTS licenses (
	id SERIAL PRIMARY KEY,
	key VARCHAR(50) UNIQUE NOT NULL,
	status VARCHAR(20) NOT NULL DEFAULT 'active',
	created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
	expires_at TIMESTAMPTZ,
	device_id VARCHAR(64),
	device_info JSONB,
	activated_at TIMESTAMPTZ,
	last_check_at TIMESTAMPTZ,
	last_heartbeat_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS license_logs (
	id SERIAL PRIMARY KEY,
	license_key VARCHAR(50) NOT NULL,
	action VARCHAR(50) NOT NULL,
	device_id VARCHAR(64) NOT NULL DEFAULT '',
	ip_address VARCHAR(45) NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_licenses_key ON licenses (key);
CREATE INDEX IF NOT EXISTS idx_licenses_device ON licenses (device_id);
CREATE INDEX IF NOT EXISTS idx_license_logs_key ON license_logs (license_key);
`

// Postgres implements Store on top of a PostgreSQL database. Every mutation
// is a single conditional UPDATE, so row-level locking gives one total
// order of application per key.
type Postgres struct {
	db *sqlx.DB
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects to the database at dsn and verifies the connection.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Migrate creates tables and indexes if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const licenseColumns = `key, status, created_at, expires_at, device_id, device_info, activated_at, last_check_at, last_heartbeat_at`

func (p *Postgres) GetByKey(ctx context.Context, key string) (*license.License, error) {
	var lic license.License
	err := p.db.GetContext(ctx, &lic,
		`SELECT `+licenseColumns+` FROM licenses WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, license.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get license: %w", err)
	}
	return &lic, nil
}

func (p *Postgres) Insert(ctx context.Context, lic *license.License) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO licenses (key, status, created_at, expires_at) VALUES ($1, $2, $3, $4)`,
		lic.Key, lic.Status, lic.CreatedAt, lic.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert license: %w", err)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context, search string) ([]license.License, error) {
	var (
		out []license.License
		err error
	)
	if search != "" {
		err = p.db.SelectContext(ctx, &out,
			`SELECT `+licenseColumns+` FROM licenses WHERE key LIKE $1 ORDER BY created_at DESC`,
			"%"+search+"%")
	} else {
		err = p.db.SelectContext(ctx, &out,
			`SELECT `+licenseColumns+` FROM licenses ORDER BY created_at DESC`)
	}
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	return out, nil
}

func (p *Postgres) SetStatus(ctx context.Context, key string, status license.Status) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE licenses SET status = $2 WHERE key = $1`, key, status)
	if err != nil {
		return false, fmt.Errorf("set status: %w", err)
	}
	return matched(res)
}

func (p *Postgres) LatchExpiry(ctx context.Context, key string, now time.Time) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE licenses SET status = $2
		 WHERE key = $1 AND status = $3 AND expires_at IS NOT NULL AND expires_at <= $4`,
		key, license.StatusBlocked, license.StatusActive, now)
	if err != nil {
		return false, fmt.Errorf("latch expiry: %w", err)
	}
	return matched(res)
}

func (p *Postgres) TouchCheck(ctx context.Context, key string, now time.Time) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE licenses SET last_check_at = $2 WHERE key = $1`, key, now)
	if err != nil {
		return fmt.Errorf("touch check: %w", err)
	}
	return nil
}

func (p *Postgres) Bind(ctx context.Context, key, deviceID string, info json.RawMessage, now time.Time) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE licenses
		 SET device_id = $2, device_info = $3, activated_at = $4, status = $5
		 WHERE key = $1
		   AND status = $5
		   AND (device_id IS NULL OR device_id = '' OR device_id = $2)
		   AND (expires_at IS NULL OR expires_at > $4)`,
		key, deviceID, info, now, license.StatusActive)
	if err != nil {
		return false, fmt.Errorf("bind license: %w", err)
	}
	return matched(res)
}

func (p *Postgres) DeactivateBound(ctx context.Context, key, deviceID string) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE licenses SET status = $3
		 WHERE key = $1 AND (device_id IS NULL OR device_id = '' OR device_id = $2)`,
		key, deviceID, license.StatusBlocked)
	if err != nil {
		return false, fmt.Errorf("deactivate license: %w", err)
	}
	return matched(res)
}

func (p *Postgres) Heartbeat(ctx context.Context, key, deviceID string, now time.Time) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE licenses SET last_heartbeat_at = $3 WHERE key = $1 AND device_id = $2`,
		key, deviceID, now)
	if err != nil {
		return false, fmt.Errorf("heartbeat: %w", err)
	}
	return matched(res)
}

func (p *Postgres) Unbind(ctx context.Context, key string) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE licenses SET device_id = NULL, device_info = NULL, activated_at = NULL WHERE key = $1`,
		key)
	if err != nil {
		return false, fmt.Errorf("unbind license: %w", err)
	}
	return matched(res)
}

func (p *Postgres) Delete(ctx context.Context, key string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM licenses WHERE key = $1`, key)
	if err != nil {
		return false, fmt.Errorf("delete license: %w", err)
	}
	return matched(res)
}

func (p *Postgres) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := p.db.GetContext(ctx, &s, `
		SELECT count(*) AS total,
		       count(*) FILTER (WHERE status = 'active') AS active,
		       count(*) FILTER (WHERE status = 'blocked') AS blocked,
		       count(*) FILTER (WHERE status = 'expired') AS expired,
		       count(*) FILTER (WHERE device_id IS NOT NULL AND device_id <> '') AS bound
		FROM licenses`)
	if err != nil {
		return Stats{}, fmt.Errorf("license stats: %w", err)
	}
	return s, nil
}

func (p *Postgres) AppendLog(ctx context.Context, entry LogEntry) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO license_logs (license_key, action, device_id, ip_address, user_agent, message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.LicenseKey, entry.Action, entry.DeviceID, entry.IPAddress, entry.UserAgent, entry.Message, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

func (p *Postgres) Logs(ctx context.Context, key string, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []LogEntry
	err := p.db.SelectContext(ctx, &out,
		`SELECT id, license_key, action, device_id, ip_address, user_agent, message, created_at
		 FROM license_logs WHERE license_key = $1 ORDER BY id DESC LIMIT $2`,
		key, limit)
	if err != nil {
		return nil, fmt.Errorf("read logs: %w", err)
	}
	return out, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func matched(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
