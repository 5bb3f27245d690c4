package api

import (
	"net/http"
	"time"

	"commonroom/internal/metrics"
)

// client identifies the authenticated API caller for the duration of one
// request. With auth disabled (dev mode) every caller is a privileged
// anonymous client.
type client struct {
	Name       string
	Privileged bool
}

func (s *Server) authorized(next func(http.ResponseWriter, *http.Request, client), needPrivilege bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := s.authenticate(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid or missing api key")
			return
		}
		if needPrivilege && !c.Privileged {
			writeError(w, http.StatusForbidden, "committee key required")
			return
		}
		if !s.limiter(c.Name).Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r, c)
	}
}

func (s *Server) authenticate(r *http.Request) (client, bool) {
	if !s.cfg.Auth.Enabled {
		return client{Name: "anonymous", Privileged: true}, true
	}

	key := r.Header.Get(s.cfg.Auth.HeaderAPIKey)
	if key == "" {
		return client{}, false
	}
	for _, k := range s.cfg.Auth.APIKeys {
		if k.Key == key {
			return client{Name: k.Name, Privileged: k.Privileged}, true
		}
	}
	return client{}, false
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		metrics.IncHTTP(r.URL.Path)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
