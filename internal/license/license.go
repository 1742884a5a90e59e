package license

import (
	"encoding/json"
	"regexp"
	"time"
)

// Status is the lifecycle state of a license.
type Status string

const (
	StatusActive  Status = "active"
	StatusBlocked Status = "blocked"
	StatusExpired Status = "expired"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusBlocked, StatusExpired:
		return true
	}
	return false
}

// KeyPrefix is the fixed prefix of every issued license key.
const KeyPrefix = "TS-"

var keyPattern = regexp.MustCompile(`^TS-[0-9A-F]{16}$`)

// ValidKeyFormat reports whether key matches the issued format,
// TS- followed by 16 uppercase hex characters.
func ValidKeyFormat(key string) bool {
	return keyPattern.MatchString(key)
}

// License is a single issued license key and its binding state.
// DeviceID, DeviceInfo and ActivatedAt are set and cleared together.
type License struct {
	Key             string          `db:"key" json:"key"`
	Status          Status          `db:"status" json:"status"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	ExpiresAt       *time.Time      `db:"expires_at" json:"expires_at,omitempty"`
	DeviceID        *string         `db:"device_id" json:"device_id,omitempty"`
	DeviceInfo      json.RawMessage `db:"device_info" json:"device_info,omitempty"`
	ActivatedAt     *time.Time      `db:"activated_at" json:"activated_at,omitempty"`
	LastCheckAt     *time.Time      `db:"last_check_at" json:"last_check_at,omitempty"`
	LastHeartbeatAt *time.Time      `db:"last_heartbeat_at" json:"last_heartbeat_at,omitempty"`
}

// Bound reports whether the license is bound to a device.
func (l *License) Bound() bool {
	return l.DeviceID != nil && *l.DeviceID != ""
}

// BoundToOther reports whether the license is bound to a device other than
// deviceID. An unbound license is never bound to another device.
func (l *License) BoundToOther(deviceID string) bool {
	return l.Bound() && *l.DeviceID != deviceID
}

// ExpiredBy reports whether the license carries an expiry that has passed
// as of now. Licenses without an expiry are perpetual.
func (l *License) ExpiredBy(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}
