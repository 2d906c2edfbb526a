package middleware

import (
	"net/http"
	"net/url"
	"path"

	"github.com/samber/lo"
)

// CORS allows browser clients from origins matching one of the host
// patterns, using the same pattern syntax as the websocket origin check.
func CORS(patterns []string) func(http.Handler) http.Handler {
	allowed := func(origin string) bool {
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return lo.ContainsBy(patterns, func(p string) bool {
			ok, _ := path.Match(p, u.Host)
			return ok
		})
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && allowed(origin) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
