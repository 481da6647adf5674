package middleware

import (
	"net/http"
	"strings"
)

const (
	corsMethods = "GET, POST, PUT, OPTIONS"
	corsHeaders = "Content-Type, Authorization, X-API-Key, " + RequestIDHeader
	corsExposed = RequestIDHeader + ", X-RateLimit-Limit, X-RateLimit-Remaining, Retry-After"
	corsMaxAge  = "600"
)

// CORS returns middleware for browser cross-origin access to the API.
// Entries in allowedOrigins are exact origins, "*", or a subdomain wildcard
// such as "https://*.vercel.app". An empty list allows every origin.
//
// Preflights (OPTIONS carrying Access-Control-Request-Method) are answered
// here: 204 for allowed origins, 403 otherwise. Other requests pass through
// and only gain the allow and expose headers.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := newOriginSet(allowedOrigins)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			h := w.Header()
			h.Add("Vary", "Origin")
			ok := allowed.match(origin)
			if ok {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Expose-Headers", corsExposed)
			}

			if r.Method != http.MethodOptions || r.Header.Get("Access-Control-Request-Method") == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			h.Add("Vary", "Access-Control-Request-Method")
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", corsHeaders)
			h.Set("Access-Control-Max-Age", corsMaxAge)
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

type originSet struct {
	any   bool
	exact map[string]bool
	wild  []wildOrigin
}

// wildOrigin is "scheme://*.suffix" split into its scheme prefix and the
// ".suffix" a matching host must end with.
type wildOrigin struct {
	prefix string
	suffix string
}

func newOriginSet(origins []string) originSet {
	s := originSet{any: len(origins) == 0, exact: make(map[string]bool)}
	for _, o := range origins {
		o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
		if o == "*" {
			s.any = true
			continue
		}
		if scheme, host, ok := strings.Cut(o, "://*."); ok && host != "" {
			s.wild = append(s.wild, wildOrigin{prefix: scheme + "://", suffix: "." + host})
			continue
		}
		if o != "" {
			s.exact[o] = true
		}
	}
	return s
}

func (s originSet) match(origin string) bool {
	if s.any {
		return true
	}
	origin = strings.ToLower(origin)
	if s.exact[origin] {
		return true
	}
	for _, w := range s.wild {
		host, ok := strings.CutPrefix(origin, w.prefix)
		if ok && len(host) > len(w.suffix) && strings.HasSuffix(host, w.suffix) {
			return true
		}
	}
	return false
}
