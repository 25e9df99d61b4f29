package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSPolicy lists what browsers on an allowed origin may send and read.
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// corsHeaders is the precomputed header set for one policy.
type corsHeaders struct {
	origins     []string
	credentials bool
	methods     string
	headers     string
	exposed     string
	maxAge      string
}

func (p CORSPolicy) compile() corsHeaders {
	c := corsHeaders{
		origins:     trimAll(p.AllowedOrigins),
		credentials: p.AllowCredentials,
		methods:     strings.Join(trimAll(p.AllowedMethods), ", "),
		headers:     strings.Join(trimAll(p.AllowedHeaders), ", "),
		exposed:     strings.Join(trimAll(p.ExposedHeaders), ", "),
	}
	if secs := int(p.MaxAge.Seconds()); secs > 0 {
		c.maxAge = strconv.Itoa(secs)
	}
	return c
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin.
// A wildcard echoes the origin when credentials are allowed.
func (c corsHeaders) allowOrigin(origin string) (string, bool) {
	for _, o := range c.origins {
		switch {
		case o == "*" && c.credentials:
			return origin, true
		case o == "*":
			return "*", true
		case strings.EqualFold(o, origin):
			return origin, true
		}
	}
	return "", false
}

func (c corsHeaders) apply(h http.Header, allow string, preflight bool) {
	h.Set("Access-Control-Allow-Origin", allow)
	h.Add("Vary", "Origin")
	if c.credentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if !preflight {
		if c.exposed != "" {
			h.Set("Access-Control-Expose-Headers", c.exposed)
		}
		return
	}
	h.Add("Vary", "Access-Control-Request-Method")
	h.Add("Vary", "Access-Control-Request-Headers")
	if c.methods != "" {
		h.Set("Access-Control-Allow-Methods", c.methods)
	}
	if c.headers != "" {
		h.Set("Access-Control-Allow-Headers", c.headers)
	}
	if c.maxAge != "" {
		h.Set("Access-Control-Max-Age", c.maxAge)
	}
}

// WithCORS answers preflights and decorates responses for allowed origins.
// An empty origin list disables it.
func WithCORS(p CORSPolicy) Middleware {
	c := p.compile()
	if len(c.origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allow, ok := c.allowOrigin(origin)
			if origin == "" || !ok {
				next.ServeHTTP(w, r)
				return
			}
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			c.apply(w.Header(), allow, preflight)
			if preflight {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
