package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/labwatch/labwatch/internal/config"
)

// apiKeyMiddleware enforces shared-key authentication on every request.
//
//   - If mode != "apikey" or no key is configured, all requests pass through.
//   - Otherwise the configured header must carry exactly the expected key;
//     anything else is 401.
func apiKeyMiddleware(cfg config.AuthConfig) mux.MiddlewareFunc {
	header := cfg.EffectiveHeader()
	key := cfg.Key()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Mode != "apikey" || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if r.Header.Get(header) != key {
				jsonErr(w, http.StatusUnauthorized, "invalid api key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
