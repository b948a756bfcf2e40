package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"recordsync/internal/server/service"
)

// CSRFHeader must repeat the session's CSRF token on unsafe requests.
const CSRFHeader = "X-CSRFToken"

type contextKey string

const sessionContextKey contextKey = "session"

func (r *Router) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		authz := req.Header.Get("Authorization")
		if authz == "" || !strings.HasPrefix(authz, "Bearer ") {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
			return
		}
		token := strings.TrimPrefix(authz, "Bearer ")
		sess, err := r.services.Auth.ParseToken(req.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}
		ctx := context.WithValue(req.Context(), sessionContextKey, sess)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

// csrfMiddleware rejects unsafe requests whose X-CSRFToken does not match
// the token bound to the session.
func (r *Router) csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, req)
			return
		}
		sess := getSession(req.Context())
		got := req.Header.Get(CSRFHeader)
		if sess.CSRF == "" || subtle.ConstantTimeCompare([]byte(got), []byte(sess.CSRF)) != 1 {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "csrf token mismatch"})
			return
		}
		next.ServeHTTP(w, req)
	})
}

func getSession(ctx context.Context) service.Session {
	if v := ctx.Value(sessionContextKey); v != nil {
		if s, ok := v.(service.Session); ok {
			return s
		}
	}
	return service.Session{}
}
