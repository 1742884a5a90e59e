package license

import "time"

// The guards below encode the legal client-facing transitions. Admin
// operations (block, unblock, unbind, delete) bypass them by design.

// GuardCheck validates a check request against the current record.
// Returns ErrExpired when a stored expiry has passed; the caller is
// responsible for latching the status to blocked in the store.
func GuardCheck(l *License, deviceID string, now time.Time) error {
	switch l.Status {
	case StatusBlocked:
		return ErrBlocked
	case StatusExpired:
		return ErrExpired
	}
	if l.ExpiredBy(now) {
		return ErrExpired
	}
	if l.BoundToOther(deviceID) {
		return ErrDeviceMismatch
	}
	return nil
}

// GuardActivate validates an activation request. Re-activation by the
// already bound device passes; any other device is rejected.
func GuardActivate(l *License, deviceID string, now time.Time) error {
	switch l.Status {
	case StatusBlocked:
		return ErrBlocked
	case StatusExpired:
		return ErrExpired
	}
	if l.ExpiredBy(now) {
		return ErrExpired
	}
	if l.BoundToOther(deviceID) {
		return ErrDeviceMismatch
	}
	return nil
}

// GuardDeactivate validates a deactivation request. Status is not
// consulted, matching the device binding is the only requirement:
// deactivating an already blocked license is permitted and idempotent, and
// an expired license may still be deactivated (it ends blocked either way).
// Deployed clients rely on deactivate never failing on status, so the
// expired terminality that check and activate enforce does not apply here.
func GuardDeactivate(l *License, deviceID string) error {
	if l.BoundToOther(deviceID) {
		return ErrDeviceMismatch
	}
	return nil
}
