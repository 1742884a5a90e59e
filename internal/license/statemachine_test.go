package license

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strptr(s string) *string { return &s }

func timeptr(t time.Time) *time.Time { return &t }

func TestGuardCheck(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		license  License
		deviceID string
		wantErr  error
	}{
		{
			name:     "active unbound perpetual",
			license:  License{Key: "TS-AAAAAAAAAAAAAAAA", Status: StatusActive},
			deviceID: "dev1",
			wantErr:  nil,
		},
		{
			name: "active bound to same device",
			license: License{
				Key:      "TS-AAAAAAAAAAAAAAAA",
				Status:   StatusActive,
				DeviceID: strptr("dev1"),
			},
			deviceID: "dev1",
			wantErr:  nil,
		},
		{
			name: "active bound to other device",
			license: License{
				Key:      "TS-AAAAAAAAAAAAAAAA",
				Status:   StatusActive,
				DeviceID: strptr("dev1"),
			},
			deviceID: "dev2",
			wantErr:  ErrDeviceMismatch,
		},
		{
			name:     "blocked",
			license:  License{Key: "TS-AAAAAAAAAAAAAAAA", Status: StatusBlocked},
			deviceID: "dev1",
			wantErr:  ErrBlocked,
		},
		{
			name:     "expired status is terminal",
			license:  License{Key: "TS-AAAAAAAAAAAAAAAA", Status: StatusExpired},
			deviceID: "dev1",
			wantErr:  ErrExpired,
		},
		{
			name: "expiry passed",
			license: License{
				Key:       "TS-AAAAAAAAAAAAAAAA",
				Status:    StatusActive,
				ExpiresAt: timeptr(now.Add(-time.Hour)),
			},
			deviceID: "dev1",
			wantErr:  ErrExpired,
		},
		{
			name: "expiry in the future",
			license: License{
				Key:       "TS-AAAAAAAAAAAAAAAA",
				Status:    StatusActive,
				ExpiresAt: timeptr(now.Add(time.Hour)),
			},
			deviceID: "dev1",
			wantErr:  nil,
		},
		{
			name: "blocked takes precedence over expiry",
			license: License{
				Key:       "TS-AAAAAAAAAAAAAAAA",
				Status:    StatusBlocked,
				ExpiresAt: timeptr(now.Add(-time.Hour)),
			},
			deviceID: "dev1",
			wantErr:  ErrBlocked,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := GuardCheck(&tt.license, tt.deviceID, now)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestGuardActivate(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		license  License
		deviceID string
		wantErr  error
	}{
		{
			name:     "first activation of unbound license",
			license:  License{Status: StatusActive},
			deviceID: "dev1",
			wantErr:  nil,
		},
		{
			name:     "idempotent re-activation by same device",
			license:  License{Status: StatusActive, DeviceID: strptr("dev1")},
			deviceID: "dev1",
			wantErr:  nil,
		},
		{
			name:     "activation by second device rejected",
			license:  License{Status: StatusActive, DeviceID: strptr("dev1")},
			deviceID: "dev2",
			wantErr:  ErrDeviceMismatch,
		},
		{
			name:     "blocked license cannot activate",
			license:  License{Status: StatusBlocked},
			deviceID: "dev1",
			wantErr:  ErrBlocked,
		},
		{
			name:     "expired license cannot activate",
			license:  License{Status: StatusActive, ExpiresAt: timeptr(now.Add(-time.Minute))},
			deviceID: "dev1",
			wantErr:  ErrExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := GuardActivate(&tt.license, tt.deviceID, now)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestGuardDeactivate(t *testing.T) {
	tests := []struct {
		name     string
		license  License
		deviceID string
		wantErr  error
	}{
		{
			name:     "bound to same device",
			license:  License{Status: StatusActive, DeviceID: strptr("dev1")},
			deviceID: "dev1",
			wantErr:  nil,
		},
		{
			name:     "bound to other device",
			license:  License{Status: StatusActive, DeviceID: strptr("dev1")},
			deviceID: "dev2",
			wantErr:  ErrDeviceMismatch,
		},
		{
			name:     "unbound license passes",
			license:  License{Status: StatusActive},
			deviceID: "dev1",
			wantErr:  nil,
		},
		{
			name:     "already blocked license passes",
			license:  License{Status: StatusBlocked, DeviceID: strptr("dev1")},
			deviceID: "dev1",
			wantErr:  nil,
		},
		{
			// Unlike check and activate, deactivation never fails on
			// status; deployed clients depend on that.
			name:     "expired license passes",
			license:  License{Status: StatusExpired, DeviceID: strptr("dev1")},
			deviceID: "dev1",
			wantErr:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := GuardDeactivate(&tt.license, tt.deviceID)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestExpiredBy(t *testing.T) {
	now := time.Now()

	perpetual := License{Status: StatusActive}
	assert.False(t, perpetual.ExpiredBy(now))

	future := License{Status: StatusActive, ExpiresAt: timeptr(now.Add(time.Second))}
	assert.False(t, future.ExpiredBy(now))

	past := License{Status: StatusActive, ExpiresAt: timeptr(now.Add(-time.Second))}
	assert.True(t, past.ExpiredBy(now))
}

func TestBoundToOther(t *testing.T) {
	unbound := License{}
	assert.False(t, unbound.BoundToOther("dev1"))

	empty := License{DeviceID: strptr("")}
	assert.False(t, empty.Bound())
	assert.False(t, empty.BoundToOther("dev1"))

	bound := License{DeviceID: strptr("dev1")}
	require.True(t, bound.Bound())
	assert.False(t, bound.BoundToOther("dev1"))
	assert.True(t, bound.BoundToOther("dev2"))
}
