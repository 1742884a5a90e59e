package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"tskeyd/internal/config"
	"tskeyd/internal/license"
	"tskeyd/internal/services"
	"tskeyd/internal/store"
)

const adminKey = "admin-test-key"

func newAdminTestServer(t *testing.T) *testServer {
	t.Helper()
	mem := store.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := services.NewLicenseService(mem, testSecret, 5*time.Minute, logger)

	hash, err := bcrypt.GenerateFromPassword([]byte(adminKey), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Server.RequestTimeout = 10 * time.Second
	cfg.Security.AdminKeyHash = string(hash)
	cfg.Security.AdminWhitelistEnabled = true
	cfg.Security.AdminWhitelist = []string{"127.0.0.1"}

	router := NewRouter(RouterDeps{
		Config:  cfg,
		Service: svc,
		Store:   mem,
		Logger:  logger,
	})
	return &testServer{router: router, store: mem}
}

func (ts *testServer) adminRequest(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "127.0.0.1:5555"
	req.Header.Set("X-Admin-Key", adminKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func TestAdminGenerate(t *testing.T) {
	ts := newAdminTestServer(t)

	w := ts.adminRequest(t, http.MethodPost, "/api/admin/generate", map[string]any{"days": 30})
	require.Equal(t, http.StatusCreated, w.Code)

	var lic license.License
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &lic))
	assert.True(t, license.ValidKeyFormat(lic.Key))
	assert.NotNil(t, lic.ExpiresAt)

	stored, err := ts.store.GetByKey(context.Background(), lic.Key)
	require.NoError(t, err)
	assert.Equal(t, license.StatusActive, stored.Status)
}

func TestAdminGeneratePerpetual(t *testing.T) {
	ts := newAdminTestServer(t)

	w := ts.adminRequest(t, http.MethodPost, "/api/admin/generate", map[string]any{})
	require.Equal(t, http.StatusCreated, w.Code)

	var lic license.License
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &lic))
	assert.Nil(t, lic.ExpiresAt)
}

func TestAdminGenerateValidation(t *testing.T) {
	ts := newAdminTestServer(t)
	w := ts.adminRequest(t, http.MethodPost, "/api/admin/generate", map[string]any{"days": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminListAndStats(t *testing.T) {
	ts := newAdminTestServer(t)
	ts.seed(t, seedActive("TS-00000000000000E1", time.Hour))
	ts.seed(t, seedActive("TS-00000000000000E2", 0))

	w := ts.adminRequest(t, http.MethodGet, "/api/admin/licenses", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.EqualValues(t, 2, body["count"])

	w = ts.adminRequest(t, http.MethodGet, "/api/admin/licenses?search=E1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decodeBody(t, w)["count"])

	w = ts.adminRequest(t, http.MethodGet, "/api/admin/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decodeBody(t, w)
	assert.EqualValues(t, 2, stats["total"])
	assert.EqualValues(t, 2, stats["active"])
}

func TestAdminBlockUnblock(t *testing.T) {
	ts := newAdminTestServer(t)
	ts.seed(t, seedActive("TS-00000000000000E3", time.Hour))

	w := ts.adminRequest(t, http.MethodPost, "/api/admin/block", map[string]any{"key": "TS-00000000000000E3"})
	require.Equal(t, http.StatusOK, w.Code)

	lic, err := ts.store.GetByKey(context.Background(), "TS-00000000000000E3")
	require.NoError(t, err)
	assert.Equal(t, license.StatusBlocked, lic.Status)

	w = ts.adminRequest(t, http.MethodPost, "/api/admin/unblock", map[string]any{"key": "TS-00000000000000E3"})
	require.Equal(t, http.StatusOK, w.Code)

	lic, err = ts.store.GetByKey(context.Background(), "TS-00000000000000E3")
	require.NoError(t, err)
	assert.Equal(t, license.StatusActive, lic.Status)
}

func TestAdminUnbindClearsBindingOnly(t *testing.T) {
	ts := newAdminTestServer(t)
	ts.seed(t, seedActive("TS-00000000000000E4", time.Hour))

	w := ts.post(t, "/license/activate", signedBody(t, "TS-00000000000000E4", "dev1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.adminRequest(t, http.MethodPost, "/api/admin/unbind", map[string]any{"key": "TS-00000000000000E4"})
	require.Equal(t, http.StatusOK, w.Code)

	lic, err := ts.store.GetByKey(context.Background(), "TS-00000000000000E4")
	require.NoError(t, err)
	assert.Nil(t, lic.DeviceID)
	assert.Equal(t, license.StatusActive, lic.Status, "unbind leaves status untouched")
}

func TestAdminDelete(t *testing.T) {
	ts := newAdminTestServer(t)
	ts.seed(t, seedActive("TS-00000000000000E5", time.Hour))

	w := ts.adminRequest(t, http.MethodPost, "/api/admin/delete", map[string]any{"key": "TS-00000000000000E5"})
	require.Equal(t, http.StatusOK, w.Code)

	_, err := ts.store.GetByKey(context.Background(), "TS-00000000000000E5")
	assert.ErrorIs(t, err, license.ErrNotFound)
}

func TestAdminKeyActionUnknownKey(t *testing.T) {
	ts := newAdminTestServer(t)
	w := ts.adminRequest(t, http.MethodPost, "/api/admin/block", map[string]any{"key": "TS-00000000000000FF"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminKeyValidation(t *testing.T) {
	ts := newAdminTestServer(t)
	w := ts.adminRequest(t, http.MethodPost, "/api/admin/block", map[string]any{"key": "not-a-key"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminLogs(t *testing.T) {
	ts := newAdminTestServer(t)
	ts.seed(t, seedActive("TS-00000000000000E6", time.Hour))

	w := ts.post(t, "/license/activate", signedBody(t, "TS-00000000000000E6", "dev1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	w = ts.post(t, "/license/check", signedBody(t, "TS-00000000000000E6", "dev1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.adminRequest(t, http.MethodGet, "/api/admin/logs/TS-00000000000000E6", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decodeBody(t, w)["count"])

	w = ts.adminRequest(t, http.MethodGet, "/api/admin/logs/TS-00000000000000E6?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decodeBody(t, w)["count"])
}

func TestAdminRequiresAuth(t *testing.T) {
	ts := newAdminTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code, "missing admin key")

	req = httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
	req.RemoteAddr = "203.0.113.5:5555"
	req.Header.Set("X-Admin-Key", adminKey)
	w = httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code, "ip outside whitelist")
}
