package middleware

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ideaforge/ideaforge/config"
)

// corsPolicy holds the header values joined once at construction.
type corsPolicy struct {
	origins     []string
	methods     string
	headers     string
	exposed     string
	credentials bool
	maxAge      string
}

func newCORSPolicy(cfg *config.CORSConfig) *corsPolicy {
	p := &corsPolicy{
		origins:     cfg.AllowedOrigins,
		methods:     strings.Join(cfg.AllowedMethods, ", "),
		headers:     strings.Join(cfg.AllowedHeaders, ", "),
		exposed:     strings.Join(cfg.ExposedHeaders, ", "),
		credentials: cfg.AllowCredentials,
	}
	if cfg.MaxAge > 0 {
		p.maxAge = strconv.Itoa(cfg.MaxAge)
	}
	return p
}

// CORS answers browser preflights and decorates responses for allowed
// origins. The origin is always echoed rather than "*", so a wildcard
// config still works with credentials. A preflight from a disallowed
// origin gets 204 without CORS headers and the browser blocks the call.
func CORS(cfg *config.CORSConfig) func(http.Handler) http.Handler {
	if cfg == nil || !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	p := newCORSPolicy(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()
			h.Add("Vary", "Origin")

			allowed := origin != "" && OriginAllowed(origin, p.origins)
			if allowed {
				h.Set("Access-Control-Allow-Origin", origin)
				if p.credentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
				if p.exposed != "" {
					h.Set("Access-Control-Expose-Headers", p.exposed)
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if allowed {
					if p.methods != "" {
						h.Set("Access-Control-Allow-Methods", p.methods)
					}
					if p.headers != "" {
						h.Set("Access-Control-Allow-Headers", p.headers)
					}
					if p.maxAge != "" {
						h.Set("Access-Control-Max-Age", p.maxAge)
					}
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// OriginAllowed reports whether origin matches an entry of allowed. Entries
// are exact origins, "*", or "*.example.com" for any subdomain.
func OriginAllowed(origin string, allowed []string) bool {
	origin = strings.TrimSpace(origin)
	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		switch {
		case entry == "*":
			return true
		case strings.EqualFold(entry, origin):
			return true
		case strings.HasPrefix(entry, "*."):
			u, err := url.Parse(origin)
			if err != nil || u.Hostname() == "" {
				continue
			}
			if strings.HasSuffix(strings.ToLower(u.Hostname()), strings.ToLower(entry[1:])) {
				return true
			}
		}
	}
	return false
}
