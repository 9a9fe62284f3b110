package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/AlexKimmel/fence/internal/auth"
	"github.com/AlexKimmel/fence/internal/ratelimit"
)

// Pace admits at most one request per policy interval for each client. The
// client comes from auth; per-client intervals in overrides win over policy.
func Pace(
	lim ratelimit.Limiter,
	policy ratelimit.Policy,
	overrides map[string]time.Duration,
	skipPaths map[string]struct{},
	onPaced func(clientID string),
	onError func(clientID string),
) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// allow ops endpoints without pacing
			if _, ok := skipPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			clientID, ok := auth.ClientIDFrom(r.Context())
			if !ok || clientID == "" {
				clientID = "anon"
			}

			p := policy
			if d, ok := overrides[clientID]; ok {
				p = ratelimit.Policy{Interval: d}
			}

			dec, err := lim.Allow(r.Context(), clientID, p)
			if err != nil {
				if onError != nil {
					onError(clientID)
				}
				writeJSON(w, http.StatusInternalServerError, "limiter_error", "internal pacing error")
				return
			}

			if dec.Interval > 0 {
				w.Header().Set("X-Pace-Interval", strconv.FormatInt(dec.Interval.Milliseconds(), 10))
				w.Header().Set("X-Pace-Next", strconv.FormatInt(dec.NextUnixMilli, 10))
			}

			if !dec.Allowed {
				if onPaced != nil {
					onPaced(clientID)
				}
				w.Header().Set("Retry-After", strconv.FormatInt(retryAfterSecs(dec.RetryAfter), 10))
				writeJSON(w, http.StatusTooManyRequests, "paced", "Too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// retryAfterSecs rounds up so a client honouring the header never comes back
// early.
func retryAfterSecs(d time.Duration) int64 {
	s := int64(d / time.Second)
	if d%time.Second != 0 {
		s++
	}
	if s < 1 {
		s = 1
	}
	return s
}

// local tiny JSON helper to avoid coupling to auth package
func writeJSON(w http.ResponseWriter, code int, errCode, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":{"code":"` + errCode + `","message":"` + msg + `"}}`))
}
