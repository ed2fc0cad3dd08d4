package middleware

import (
	"net/http"
	"strings"
)

const (
	corsAllowedMethods = "GET, OPTIONS"
	corsAllowedHeaders = "Content-Type, X-Request-ID"
)

// Origins is an origin allowlist. An empty Origins allows every origin.
type Origins map[string]struct{}

// NewOrigins builds an allowlist. Pass nil to allow all origins.
func NewOrigins(list []string) Origins {
	out := make(Origins, len(list))
	for _, o := range list {
		if o = strings.TrimSpace(o); o != "" {
			out[o] = struct{}{}
		}
	}
	return out
}

// Allowed reports whether origin may use the API. Requests without an Origin
// header (curl, server-to-server) are always allowed.
func (o Origins) Allowed(origin string) bool {
	if origin == "" || len(o) == 0 {
		return true
	}
	_, ok := o[origin]
	return ok
}

// CheckOrigin is suitable for websocket.Upgrader.CheckOrigin.
func (o Origins) CheckOrigin(r *http.Request) bool {
	return o.Allowed(strings.TrimSpace(r.Header.Get("Origin")))
}

// CORS 为白名单内的来源附加跨域响应头
func CORS(origins Origins) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))

			// 预检请求直接应答
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if origin == "" || !origins.Allowed(origin) {
					http.Error(w, "cors preflight not allowed", http.StatusForbidden)
					return
				}
				setAllowOrigin(w, origins, origin)
				w.Header().Set("Access-Control-Allow-Methods", corsAllowedMethods)
				w.Header().Set("Access-Control-Allow-Headers", corsAllowedHeaders)
				w.Header().Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if origin != "" && origins.Allowed(origin) {
				setAllowOrigin(w, origins, origin)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func setAllowOrigin(w http.ResponseWriter, origins Origins, origin string) {
	if len(origins) == 0 {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Add("Vary", "Origin")
}
