package auth

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type ctxKey int

const keyClientID ctxKey = 0

// Store resolves the client a request is paced as. Known secrets map to a
// client ID; requests without a secret are paced per remote host.
type Store struct {
	header   string
	bySecret map[string]string
}

// NewStatic creates a new static client store.
// header: HTTP header to read the secret from (e.g., "X-Client-ID")
// pairs: map of secret -> clientID
func NewStatic(header string, pairs map[string]string) *Store {
	h := header
	if h == "" {
		h = "X-Client-ID"
	}
	return &Store{header: h, bySecret: pairs}
}

func (s *Store) clientIDFor(secret string) (string, bool) {
	id, ok := s.bySecret[secret]
	return id, ok
}

// WithClientID injects the client ID into context.
func WithClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyClientID, id)
}

// ClientIDFrom extracts the client ID from context (if present).
func ClientIDFrom(ctx context.Context) (string, bool) {
	v := ctx.Value(keyClientID)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// Middleware tags each request with its client ID and rejects unknown
// secrets. It skips any path in skipPaths.
func (s *Store) Middleware(skipPaths map[string]struct{}) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hname := s.header

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skipPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			id := "anon:" + remoteHost(r.RemoteAddr)
			if secret := strings.TrimSpace(r.Header.Get(hname)); secret != "" {
				known, ok := s.clientIDFor(secret)
				if !ok {
					writeJSON(w, http.StatusUnauthorized, "invalid_client", "Client secret not recognized")
					return
				}
				id = known
			}
			next.ServeHTTP(w, r.WithContext(WithClientID(r.Context(), id)))
		})
	}
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, errCode, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":{"code":"` + errCode + `","message":"` + msg + `"}}`))
}
