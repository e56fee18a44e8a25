package middleware

import (
	"crypto/subtle"
	"net/http"
)

// APIKey gates the internal API on the X-API-Key header. Keys are
// compared in constant time. No configured keys means no access.
func (m *Middleware) APIKey() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get("X-API-Key")
			if presented == "" {
				http.Error(w, `{"error":{"code":"unauthorized","message":"API key required"}}`, http.StatusUnauthorized)
				return
			}

			ok := false
			for _, key := range m.cfg.API.Keys {
				if len(key) == len(presented) &&
					subtle.ConstantTimeCompare([]byte(key), []byte(presented)) == 1 {
					ok = true
				}
			}
			if !ok {
				m.log.Warn().Str("ip", IPKey(r)).Msg("rejected API key")
				http.Error(w, `{"error":{"code":"unauthorized","message":"Invalid API key"}}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
