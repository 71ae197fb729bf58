package server

import "net/http"

// ReadOnlyMiddleware rejects every method other than GET and HEAD.
// Nothing on the ops surface mutates state.
func ReadOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead:
			next.ServeHTTP(w, r)
		default:
			w.Header().Set("Allow", "GET, HEAD")
			MethodNotAllowed(w, "read-only endpoint", r.URL.Path)
		}
	})
}
