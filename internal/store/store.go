// Package store persists license records. All state transitions are single
// conditional updates so that concurrent operations on the same key
// serialize at the storage layer; callers never read-then-write in two
// steps for anything that mutates binding or status.
package store

import (
	"context"
	"encoding/json"
	"time"

	"tskeyd/internal/license"
)

// Store is the persistence contract for license records. Mutating methods
// that enforce a precondition report matched=false when the precondition
// did not hold; callers re-read the row to classify the rejection.
type Store interface {
	// GetByKey returns the license or license.ErrNotFound.
	GetByKey(ctx context.Context, key string) (*license.License, error)

	// Insert stores a freshly generated license.
	Insert(ctx context.Context, lic *license.License) error

	// List returns licenses newest first, optionally filtered by a
	// substring match on the key.
	List(ctx context.Context, search string) ([]license.License, error)

	// SetStatus unconditionally overrides the status (admin block/unblock).
	SetStatus(ctx context.Context, key string, status license.Status) (bool, error)

	// LatchExpiry flips an active license whose expiry has passed to
	// blocked. Idempotent: a second call matches nothing.
	LatchExpiry(ctx context.Context, key string, now time.Time) (bool, error)

	// TouchCheck records a successful validation.
	TouchCheck(ctx context.Context, key string, now time.Time) error

	// Bind atomically binds the license to deviceID, keeping it active.
	// The update only matches an active, unexpired row that is unbound or
	// already bound to the same device.
	Bind(ctx context.Context, key, deviceID string, info json.RawMessage, now time.Time) (bool, error)

	// DeactivateBound sets status to blocked, leaving the binding in
	// place. Matches rows that are unbound or bound to deviceID.
	DeactivateBound(ctx context.Context, key, deviceID string) (bool, error)

	// Heartbeat updates last_heartbeat_at for the row matching both key
	// and device. A miss is not an error.
	Heartbeat(ctx context.Context, key, deviceID string, now time.Time) (bool, error)

	// Unbind clears device_id, device_info and activated_at together,
	// without touching status (admin operation).
	Unbind(ctx context.Context, key string) (bool, error)

	// Delete removes the license row (admin operation).
	Delete(ctx context.Context, key string) (bool, error)

	// Stats returns aggregate counts for the admin dashboard.
	Stats(ctx context.Context) (Stats, error)

	// AppendLog records an audit entry. Best effort: callers must not fail
	// a client operation on audit errors.
	AppendLog(ctx context.Context, entry LogEntry) error

	// Logs returns the newest audit entries for a key.
	Logs(ctx context.Context, key string, limit int) ([]LogEntry, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Stats are aggregate license counts.
type Stats struct {
	Total   int `json:"total" db:"total"`
	Active  int `json:"active" db:"active"`
	Blocked int `json:"blocked" db:"blocked"`
	Expired int `json:"expired" db:"expired"`
	Bound   int `json:"bound" db:"bound"`
}

// LogEntry is one audit record for a license operation.
type LogEntry struct {
	ID         int64     `json:"id" db:"id"`
	LicenseKey string    `json:"license_key" db:"license_key"`
	Action     string    `json:"action" db:"action"`
	DeviceID   string    `json:"device_id" db:"device_id"`
	IPAddress  string    `json:"ip_address" db:"ip_address"`
	UserAgent  string    `json:"user_agent" db:"user_agent"`
	Message    string    `json:"message" db:"message"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
