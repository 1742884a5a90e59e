// Package license holds the license domain model and the rules that govern
// it: the License record, its status lifecycle, and the guards applied to
// client-facing operations.
//
// # Lifecycle
//
// A license is created active and unbound. From there:
//
//	- active:  valid, optionally bound to a single device
//	- blocked: rejected for all client operations; only an admin unblock
//	  returns it to active
//	- expired: terminal for client operations; only admin delete/reset applies
//
// An expiry observed during check or activate is latched into the stored
// status (blocked) rather than reported transiently.
//
// # Device binding
//
// device_id, device_info and activated_at are set and cleared together.
// Activation is idempotent for the bound device and rejected for any other.
package license
