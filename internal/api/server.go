// Package api exposes the booking workflows over HTTP for the web and bot
// clients. Callers authenticate with an API key; privileged keys (committee)
// unlock review, direct edits and exports.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"commonroom/internal/config"
	"commonroom/internal/models"
	"commonroom/internal/service"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Exporter writes an occupancy report and returns the file path.
type Exporter func(snapshot []models.Booking, from, to time.Time, dir string) (string, error)

type Server struct {
	cfg       config.APIConfig
	bookings  *service.BookingService
	users     *service.UserService
	exporter  Exporter
	exportDir string
	logger    *zerolog.Logger

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	httpSrv *http.Server
}

func NewServer(cfg config.APIConfig, bookings *service.BookingService, users *service.UserService, exporter Exporter, exportDir string, logger *zerolog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		bookings:  bookings,
		users:     users,
		exporter:  exporter,
		exportDir: exportDir,
		logger:    logger,
		limiters:  make(map[string]*rate.Limiter),
	}
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the routing table. Exposed separately so tests can drive it
// through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /api/v1/bookings", s.authorized(s.handleCreateBooking, false))
	mux.HandleFunc("GET /api/v1/bookings", s.authorized(s.handleListBookings, false))
	mux.HandleFunc("POST /api/v1/bookings/{id}/cancel", s.authorized(s.handleCancelBooking, false))
	mux.HandleFunc("POST /api/v1/bookings/{id}/approve", s.authorized(s.handleApproveBooking, true))
	mux.HandleFunc("POST /api/v1/bookings/{id}/reject", s.authorized(s.handleRejectBooking, true))
	mux.HandleFunc("POST /api/v1/bookings/{id}/edit", s.authorized(s.handleEditBooking, true))

	mux.HandleFunc("POST /api/v1/edit-requests", s.authorized(s.handleRequestEdit, false))
	mux.HandleFunc("POST /api/v1/edit-requests/{id}/approve", s.authorized(s.handleApproveEdit, true))
	mux.HandleFunc("POST /api/v1/edit-requests/{id}/reject", s.authorized(s.handleRejectEdit, true))

	mux.HandleFunc("POST /api/v1/users", s.authorized(s.handleRegisterUser, false))
	mux.HandleFunc("POST /api/v1/users/{phone}/approve", s.authorized(s.handleApproveUser, true))
	mux.HandleFunc("GET /api/v1/users/pending", s.authorized(s.handlePendingUsers, true))

	mux.HandleFunc("GET /api/v1/export", s.authorized(s.handleExport, true))

	return s.logRequests(mux)
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info().Str("addr", s.httpSrv.Addr).Msg("api server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) limiter(key string) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()

	if l, ok := s.limiters[key]; ok {
		return l
	}
	rps := s.cfg.RateLimit.RPS
	if rps <= 0 {
		rps = 10
	}
	burst := s.cfg.RateLimit.Burst
	if burst <= 0 {
		burst = 20
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	s.limiters[key] = l
	return l
}
