package license

import "errors"

// Guard rejections. These are expected business outcomes, not transport
// errors; callers map them to success=false responses with HTTP 200.
var (
	ErrNotFound       = errors.New("license not found")
	ErrBlocked        = errors.New("license is blocked")
	ErrExpired        = errors.New("license has expired")
	ErrDeviceMismatch = errors.New("license is bound to another device")
)
