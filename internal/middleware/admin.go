package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"golang.org/x/crypto/bcrypt"

	apierrors "tskeyd/internal/errors"
)

// AdminGuardConfig controls access to the admin API.
type AdminGuardConfig struct {
	// KeyHash is the bcrypt hash the X-Admin-Key header is checked against.
	// Empty disables the admin API.
	KeyHash string

	// WhitelistEnabled restricts access to the IPs in Whitelist.
	WhitelistEnabled bool
	Whitelist        []string

	Logger *slog.Logger
}

// AdminGuard authenticates admin requests. The IP whitelist is checked
// first, then the admin key. Rejections are logged with the client address
// but the response never says which check failed.
func AdminGuard(cfg AdminGuardConfig) func(next http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(cfg.Whitelist))
	for _, ip := range cfg.Whitelist {
		allowed[strings.TrimSpace(ip)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.KeyHash == "" {
				render.Render(w, r, apierrors.ErrForbidden)
				return
			}

			ip := ClientIP(r)
			if cfg.WhitelistEnabled {
				if _, ok := allowed[ip]; !ok {
					cfg.Logger.WarnContext(r.Context(), "admin access denied",
						"reason", "ip_not_whitelisted",
						"remote_ip", ip,
						"path", r.URL.Path,
					)
					render.Render(w, r, apierrors.ErrForbidden)
					return
				}
			}

			key := r.Header.Get("X-Admin-Key")
			if key == "" || bcrypt.CompareHashAndPassword([]byte(cfg.KeyHash), []byte(key)) != nil {
				cfg.Logger.WarnContext(r.Context(), "admin access denied",
					"reason", "bad_admin_key",
					"remote_ip", ip,
					"path", r.URL.Path,
				)
				render.Render(w, r, apierrors.ErrForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the client address for a request, honoring proxy headers
// the same way RealIP does and stripping any port.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return strings.TrimSpace(xrip)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
