package gateway

import "net/http"

// BodyLimit caps request bodies at maxBytes. Requests that announce a larger
// Content-Length are refused before the handler runs; others are cut off by
// http.MaxBytesReader while being read.
func BodyLimit(maxBytes int) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxBytes <= 0 || r.Body == nil {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength > int64(maxBytes) {
				writeJSON(w, http.StatusRequestEntityTooLarge, "body_too_large", "Request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))
			next.ServeHTTP(w, r)
		})
	}
}
