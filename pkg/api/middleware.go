package api

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"
)

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("status", ww.Status()).
			WithField("remote", r.RemoteAddr).
			WithField("duration", time.Since(start)).
			Debug("Request handled")
	})
}

// requireBasicAuth checks HTTP basic credentials against the configured
// bcrypt hashes.
func (s *server) requireBasicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok || !s.checkUser(username, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="onboardoor"`)
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{"authentication required"})

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *server) checkUser(username, password string) bool {
	hash, ok := s.users[username]
	if !ok {
		return false
	}

	return checkPassword(hash, password)
}

// checkPassword compares a bcrypt hash with a plaintext password.
func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword(
		[]byte(hash), []byte(password),
	) == nil
}
