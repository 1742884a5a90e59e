// Package services contains the license business logic sitting between the
// HTTP transport and the store.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tskeyd/internal/license"
	"tskeyd/internal/signature"
	"tskeyd/internal/store"
)

// ErrUnauthorized is returned for every request authentication failure.
// Bad signature, stale timestamp and malformed auth fields are deliberately
// indistinguishable to the caller.
var ErrUnauthorized = errors.New("request authentication failed")

// RequestMeta carries client request attributes recorded in the audit log.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// CheckResult is the outcome of a license check. Valid=false carries the
// rejecting sentinel in Denial; the HTTP layer returns it with status 200
// either way.
type CheckResult struct {
	Valid     bool
	Denial    error
	Status    license.Status
	ExpiresAt *time.Time
}

// LicenseService implements license verification, activation and the admin
// operations.
type LicenseService struct {
	store  store.Store
	codec  *signature.Codec
	replay *signature.ReplayGuard
	logger *slog.Logger
	now    func() time.Time
}

// NewLicenseService creates the service. The replay tolerance bounds how far
// a request timestamp may drift from server time.
func NewLicenseService(st store.Store, secret string, tolerance time.Duration, logger *slog.Logger) *LicenseService {
	return &LicenseService{
		store:  st,
		codec:  signature.NewCodec(secret),
		replay: signature.NewReplayGuard(tolerance),
		logger: logger,
		now:    time.Now,
	}
}

// Authorize validates the signature and timestamp of a client request
// payload. The payload must be the decoded request body including the
// signature and timestamp fields. Every failure maps to ErrUnauthorized.
func (s *LicenseService) Authorize(ctx context.Context, payload map[string]any) error {
	sig, ok := payload["signature"].(string)
	if !ok || sig == "" {
		s.rejectAuth(ctx, "missing signature")
		return ErrUnauthorized
	}
	ts, ok := timestampField(payload["timestamp"])
	if !ok {
		s.rejectAuth(ctx, "missing timestamp")
		return ErrUnauthorized
	}
	if !s.replay.IsFresh(ts) {
		s.rejectAuth(ctx, "stale timestamp")
		return ErrUnauthorized
	}
	if !s.codec.Verify(payload, sig) {
		s.rejectAuth(ctx, "bad signature")
		return ErrUnauthorized
	}
	return nil
}

func (s *LicenseService) rejectAuth(ctx context.Context, reason string) {
	s.logger.WarnContext(ctx, "request rejected", "reason", reason)
}

// timestampField accepts the integer forms a JSON decoder may produce.
func timestampField(v any) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case float64:
		return int64(t), true
	case int64:
		return t, true
	case int:
		return int64(t), true
	default:
		return 0, false
	}
}

// Check reports whether the license is usable from the given device. An
// active license past its expiry is latched to blocked before evaluation, so
// the rejection survives any later clock change.
func (s *LicenseService) Check(ctx context.Context, key, deviceID string, meta RequestMeta) (*CheckResult, error) {
	now := s.now().UTC()

	if _, err := s.store.LatchExpiry(ctx, key, now); err != nil {
		return nil, fmt.Errorf("latch expiry: %w", err)
	}

	lic, err := s.store.GetByKey(ctx, key)
	if errors.Is(err, license.ErrNotFound) {
		s.audit(ctx, key, "check", deviceID, meta, license.ErrNotFound.Error())
		return &CheckResult{Valid: false, Denial: license.ErrNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load license: %w", err)
	}

	result := &CheckResult{Status: lic.Status, ExpiresAt: lic.ExpiresAt}
	if guardErr := license.GuardCheck(lic, deviceID, now); guardErr != nil {
		result.Denial = guardErr
	} else {
		result.Valid = true
		if err := s.store.TouchCheck(ctx, key, now); err != nil {
			s.logger.ErrorContext(ctx, "touch last_check_at failed", "key", key, "error", err)
		}
	}

	auditMsg := ""
	if result.Denial != nil {
		auditMsg = result.Denial.Error()
	}
	s.audit(ctx, key, "check", deviceID, meta, auditMsg)
	return result, nil
}

// Activate binds the license to the device. The bind is a single conditional
// store update, so concurrent activations of a fresh key admit exactly one
// device. Re-activation from the already bound device succeeds.
func (s *LicenseService) Activate(ctx context.Context, key, deviceID string, deviceInfo json.RawMessage, meta RequestMeta) (*license.License, error) {
	now := s.now().UTC()

	if _, err := s.store.LatchExpiry(ctx, key, now); err != nil {
		return nil, fmt.Errorf("latch expiry: %w", err)
	}

	matched, err := s.store.Bind(ctx, key, deviceID, deviceInfo, now)
	if err != nil {
		return nil, fmt.Errorf("bind license: %w", err)
	}
	if !matched {
		guardErr := s.classifyActivateFailure(ctx, key, deviceID, now)
		s.audit(ctx, key, "activate", deviceID, meta, guardErr.Error())
		return nil, guardErr
	}

	lic, err := s.store.GetByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("reload license: %w", err)
	}
	s.audit(ctx, key, "activate", deviceID, meta, "")
	s.logger.InfoContext(ctx, "license activated", "key", key, "device_id", deviceID)
	return lic, nil
}

// classifyActivateFailure re-reads the license to explain a bind that
// matched no row. The state may have moved since the bind attempt; any
// answer consistent with some recent state is acceptable.
func (s *LicenseService) classifyActivateFailure(ctx context.Context, key, deviceID string, now time.Time) error {
	lic, err := s.store.GetByKey(ctx, key)
	if errors.Is(err, license.ErrNotFound) {
		return license.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load license: %w", err)
	}
	if guardErr := license.GuardActivate(lic, deviceID, now); guardErr != nil {
		return guardErr
	}
	// Lost a race with a concurrent bind to another device.
	return license.ErrDeviceMismatch
}

// Deactivate releases the license from the device. The key moves to blocked
// and keeps its device binding; only an admin unbind or unblock brings it
// back.
func (s *LicenseService) Deactivate(ctx context.Context, key, deviceID string, meta RequestMeta) error {
	matched, err := s.store.DeactivateBound(ctx, key, deviceID)
	if err != nil {
		return fmt.Errorf("deactivate license: %w", err)
	}
	if !matched {
		lic, err := s.store.GetByKey(ctx, key)
		if errors.Is(err, license.ErrNotFound) {
			return license.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load license: %w", err)
		}
		if guardErr := license.GuardDeactivate(lic, deviceID); guardErr != nil {
			s.audit(ctx, key, "deactivate", deviceID, meta, guardErr.Error())
			return guardErr
		}
		return license.ErrDeviceMismatch
	}
	s.audit(ctx, key, "deactivate", deviceID, meta, "")
	s.logger.InfoContext(ctx, "license deactivated", "key", key, "device_id", deviceID)
	return nil
}

// Heartbeat records liveness from the bound device. It is fire and forget:
// a heartbeat for an unknown key or a different device updates nothing and
// is not an error.
func (s *LicenseService) Heartbeat(ctx context.Context, key, deviceID string, meta RequestMeta) error {
	matched, err := s.store.Heartbeat(ctx, key, deviceID, s.now().UTC())
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if matched {
		s.audit(ctx, key, "heartbeat", deviceID, meta, "")
	}
	return nil
}

// Generate creates a new license key. days <= 0 produces a perpetual
// license.
func (s *LicenseService) Generate(ctx context.Context, days int) (*license.License, error) {
	key, err := license.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	now := s.now().UTC()
	lic := &license.License{
		Key:       key,
		Status:    license.StatusActive,
		CreatedAt: now,
	}
	if days > 0 {
		expires := now.AddDate(0, 0, days)
		lic.ExpiresAt = &expires
	}

	if err := s.store.Insert(ctx, lic); err != nil {
		return nil, fmt.Errorf("insert license: %w", err)
	}
	s.logger.InfoContext(ctx, "license generated", "key", key, "days", days)
	return lic, nil
}

// List returns all licenses, newest first, optionally filtered by a key
// substring.
func (s *LicenseService) List(ctx context.Context, search string) ([]license.License, error) {
	return s.store.List(ctx, search)
}

// Block forces the license to blocked regardless of its current state.
func (s *LicenseService) Block(ctx context.Context, key string) error {
	return s.setStatus(ctx, key, license.StatusBlocked, "block")
}

// Unblock returns the license to active. Expiry still applies on the next
// check.
func (s *LicenseService) Unblock(ctx context.Context, key string) error {
	return s.setStatus(ctx, key, license.StatusActive, "unblock")
}

func (s *LicenseService) setStatus(ctx context.Context, key string, status license.Status, action string) error {
	matched, err := s.store.SetStatus(ctx, key, status)
	if err != nil {
		return fmt.Errorf("%s license: %w", action, err)
	}
	if !matched {
		return license.ErrNotFound
	}
	s.audit(ctx, key, action, "", RequestMeta{}, "")
	s.logger.InfoContext(ctx, "license status changed", "key", key, "status", status)
	return nil
}

// Unbind clears the device binding so another device can activate. The
// status is left untouched.
func (s *LicenseService) Unbind(ctx context.Context, key string) error {
	matched, err := s.store.Unbind(ctx, key)
	if err != nil {
		return fmt.Errorf("unbind license: %w", err)
	}
	if !matched {
		return license.ErrNotFound
	}
	s.audit(ctx, key, "unbind", "", RequestMeta{}, "")
	return nil
}

// Delete removes the license permanently.
func (s *LicenseService) Delete(ctx context.Context, key string) error {
	matched, err := s.store.Delete(ctx, key)
	if err != nil {
		return fmt.Errorf("delete license: %w", err)
	}
	if !matched {
		return license.ErrNotFound
	}
	s.logger.InfoContext(ctx, "license deleted", "key", key)
	return nil
}

// Stats returns aggregate license counts.
func (s *LicenseService) Stats(ctx context.Context) (store.Stats, error) {
	return s.store.Stats(ctx)
}

// Logs returns the most recent audit entries for a key.
func (s *LicenseService) Logs(ctx context.Context, key string, limit int) ([]store.LogEntry, error) {
	return s.store.Logs(ctx, key, limit)
}

// audit records the operation in the license log. Audit failures are logged
// and swallowed; they never fail the request.
func (s *LicenseService) audit(ctx context.Context, key, action, deviceID string, meta RequestMeta, message string) {
	entry := store.LogEntry{
		LicenseKey: key,
		Action:     action,
		DeviceID:   deviceID,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
		Message:    message,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.AppendLog(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "audit log write failed", "key", key, "action", action, "error", err)
	}
}
