package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"tskeyd/internal/license"
)

// Memory is an in-process Store used by tests and by the memory database
// driver in development. A single mutex serializes every mutation, which
// provides the same per-key total order the conditional UPDATEs give the
// Postgres implementation.
type Memory struct {
	mu       sync.RWMutex
	licenses map[string]*license.License
	logs     []LogEntry
	nextLog  int64
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{licenses: make(map[string]*license.License), nextLog: 1}
}

func (m *Memory) GetByKey(_ context.Context, key string) (*license.License, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lic, ok := m.licenses[key]
	if !ok {
		return nil, license.ErrNotFound
	}
	return copyLicense(lic), nil
}

func (m *Memory) Insert(_ context.Context, lic *license.License) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.licenses[lic.Key] = copyLicense(lic)
	return nil
}

func (m *Memory) List(_ context.Context, search string) ([]license.License, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]license.License, 0, len(m.licenses))
	for _, lic := range m.licenses {
		if search != "" && !strings.Contains(lic.Key, search) {
			continue
		}
		out = append(out, *copyLicense(lic))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Key > out[j].Key
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) SetStatus(_ context.Context, key string, status license.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lic, ok := m.licenses[key]
	if !ok {
		return false, nil
	}
	lic.Status = status
	return true, nil
}

func (m *Memory) LatchExpiry(_ context.Context, key string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lic, ok := m.licenses[key]
	if !ok || lic.Status != license.StatusActive {
		return false, nil
	}
	if lic.ExpiresAt == nil || lic.ExpiresAt.After(now) {
		return false, nil
	}
	lic.Status = license.StatusBlocked
	return true, nil
}

func (m *Memory) TouchCheck(_ context.Context, key string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lic, ok := m.licenses[key]; ok {
		t := now
		lic.LastCheckAt = &t
	}
	return nil
}

func (m *Memory) Bind(_ context.Context, key, deviceID string, info json.RawMessage, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lic, ok := m.licenses[key]
	if !ok || lic.Status != license.StatusActive {
		return false, nil
	}
	if lic.BoundToOther(deviceID) {
		return false, nil
	}
	if lic.ExpiresAt != nil && !lic.ExpiresAt.After(now) {
		return false, nil
	}
	dev := deviceID
	t := now
	lic.DeviceID = &dev
	lic.DeviceInfo = append(json.RawMessage(nil), info...)
	lic.ActivatedAt = &t
	lic.Status = license.StatusActive
	return true, nil
}

func (m *Memory) DeactivateBound(_ context.Context, key, deviceID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lic, ok := m.licenses[key]
	if !ok || lic.BoundToOther(deviceID) {
		return false, nil
	}
	lic.Status = license.StatusBlocked
	return true, nil
}

func (m *Memory) Heartbeat(_ context.Context, key, deviceID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lic, ok := m.licenses[key]
	if !ok || lic.DeviceID == nil || *lic.DeviceID != deviceID {
		return false, nil
	}
	t := now
	lic.LastHeartbeatAt = &t
	return true, nil
}

func (m *Memory) Unbind(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lic, ok := m.licenses[key]
	if !ok {
		return false, nil
	}
	lic.DeviceID = nil
	lic.DeviceInfo = nil
	lic.ActivatedAt = nil
	return true, nil
}

func (m *Memory) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.licenses[key]; !ok {
		return false, nil
	}
	delete(m.licenses, key)
	return true, nil
}

func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var s Stats
	for _, lic := range m.licenses {
		s.Total++
		switch lic.Status {
		case license.StatusActive:
			s.Active++
		case license.StatusBlocked:
			s.Blocked++
		case license.StatusExpired:
			s.Expired++
		}
		if lic.Bound() {
			s.Bound++
		}
	}
	return s, nil
}

func (m *Memory) AppendLog(_ context.Context, entry LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = m.nextLog
	m.nextLog++
	m.logs = append(m.logs, entry)
	return nil
}

func (m *Memory) Logs(_ context.Context, key string, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []LogEntry
	for i := len(m.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if m.logs[i].LicenseKey == key {
			out = append(out, m.logs[i])
		}
	}
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func copyLicense(src *license.License) *license.License {
	dst := *src
	if src.ExpiresAt != nil {
		t := *src.ExpiresAt
		dst.ExpiresAt = &t
	}
	if src.DeviceID != nil {
		d := *src.DeviceID
		dst.DeviceID = &d
	}
	if src.DeviceInfo != nil {
		dst.DeviceInfo = append(json.RawMessage(nil), src.DeviceInfo...)
	}
	if src.ActivatedAt != nil {
		t := *src.ActivatedAt
		dst.ActivatedAt = &t
	}
	if src.LastCheckAt != nil {
		t := *src.LastCheckAt
		dst.LastCheckAt = &t
	}
	if src.LastHeartbeatAt != nil {
		t := *src.LastHeartbeatAt
		dst.LastHeartbeatAt = &t
	}
	return &dst
}
