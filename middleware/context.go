package middleware

import (
	"net"
	"net/http"
	"strings"

	goCred "github.com/MrEthical07/goCred"
)

// Options selects where RequestContext finds the caller's identity.
type Options struct {
	// SessionCookie names the cookie carrying the session id. Empty skips it.
	SessionCookie string
	// SessionHeader names a header carrying the session id, checked when the
	// cookie is absent. Empty skips it.
	SessionHeader string
	// TrustForwardedFor takes the client IP from the first X-Forwarded-For
	// hop. Enable only behind a proxy that sets the header.
	TrustForwardedFor bool
}

// DefaultOptions reads the session id from the "SESSION" cookie or the
// X-Session-ID header and ignores X-Forwarded-For.
func DefaultOptions() Options {
	return Options{SessionCookie: "SESSION", SessionHeader: "X-Session-ID"}
}

// RequestContext attaches the client IP and session id of each request to
// its context.
func RequestContext(opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if ip := clientIP(r, opts.TrustForwardedFor); ip != "" {
				ctx = goCred.WithClientIP(ctx, ip)
			}
			if sid := sessionID(r, opts); sid != "" {
				ctx = goCred.WithSessionID(ctx, sid)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func sessionID(r *http.Request, opts Options) string {
	if opts.SessionCookie != "" {
		if c, err := r.Cookie(opts.SessionCookie); err == nil && c.Value != "" {
			return c.Value
		}
	}
	if opts.SessionHeader != "" {
		return strings.TrimSpace(r.Header.Get(opts.SessionHeader))
	}
	return ""
}

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	const bearer = "Bearer "
	value := r.Header.Get("Authorization")
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
