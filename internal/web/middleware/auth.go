package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/JonMunkholm/dropload/internal/logging"
)

// APIKeyAuth returns middleware that checks the X-API-Key header against
// keys. With no keys configured every request passes.
func APIKeyAuth(keys []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(keys) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				deny(w, r, http.StatusUnauthorized, "missing API key", "AUTH_MISSING_KEY")
				return
			}
			if !isValidAPIKey(key, keys) {
				deny(w, r, http.StatusForbidden, "invalid API key", "AUTH_INVALID_KEY")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func deny(w http.ResponseWriter, r *http.Request, status int, msg, code string) {
	logging.Category(r.Context(), logging.CategoryHTTP).Warn("auth: "+msg,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", r.RemoteAddr,
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `","code":"` + code + `"}`))
}

// isValidAPIKey compares key against every configured key in constant time.
func isValidAPIKey(key string, validKeys []string) bool {
	valid := 0
	for _, validKey := range validKeys {
		valid |= subtle.ConstantTimeCompare([]byte(key), []byte(validKey))
	}
	return valid == 1
}
