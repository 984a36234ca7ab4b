package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"marketbook/internal/config"
	"marketbook/internal/logging"
	"marketbook/internal/models"
	"marketbook/internal/service"

	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// BookingAPI is the booking surface the HTTP layer serves.
type BookingAPI interface {
	Quote(ctx context.Context, resourceID string, sel models.Selections) (models.Quote, error)
	RequestBooking(ctx context.Context, in service.RequestInput) (*models.Booking, error)
	RespondToBooking(ctx context.Context, bookingID, vendorID string, decision models.Decision) (*models.Booking, error)
	CancelBooking(ctx context.Context, bookingID, actorID string) (*models.Booking, error)
	MarkCompleted(ctx context.Context, bookingID string) (*models.Booking, error)
	GetBooking(ctx context.Context, bookingID string) (*models.Booking, error)
	ListByResource(ctx context.Context, resourceID string) []*models.Booking
	ListByRequester(ctx context.Context, requesterID string) []*models.Booking
	ListByVendor(ctx context.Context, vendorID string) []*models.Booking
	VendorStats(ctx context.Context, vendorID string) models.VendorStats
	Availability(ctx context.Context, resourceID string, window models.TimeSlot) ([]models.Claim, error)
}

// FeedReader serves recent lifecycle events per vendor.
type FeedReader interface {
	VendorFeed(ctx context.Context, vendorID string, limit int64) ([]models.BookingEvent, error)
}

// HTTPServer exposes the booking service as JSON over HTTP.
type HTTPServer struct {
	cfg      config.APIConfig
	svc      BookingAPI
	feed     FeedReader
	ready    func(context.Context) error
	location *time.Location
	server   *http.Server
	auth     *HTTPAuth
	logger   *zerolog.Logger
}

type Options struct {
	// Feed may be nil when Redis is not configured.
	Feed FeedReader
	// Ready backs /readyz; nil means always ready.
	Ready    func(context.Context) error
	Location *time.Location
}

func NewHTTPServer(cfg config.APIConfig, svc BookingAPI, opts Options, logger *zerolog.Logger) *HTTPServer {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	srv := &HTTPServer{
		cfg:      cfg,
		svc:      svc,
		feed:     opts.Feed,
		ready:    opts.Ready,
		location: opts.Location,
		auth:     NewHTTPAuth(cfg),
		logger:   logging.Component(logger, "http"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealthz)
	mux.HandleFunc("GET /readyz", srv.handleReadyz)

	mux.HandleFunc("POST /api/v1/quotes", srv.handleQuote)
	mux.HandleFunc("POST /api/v1/bookings", srv.handleCreateBooking)
	mux.HandleFunc("GET /api/v1/bookings/{id}", srv.handleGetBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/respond", srv.handleRespond)
	mux.HandleFunc("POST /api/v1/bookings/{id}/cancel", srv.handleCancel)
	mux.HandleFunc("POST /api/v1/bookings/{id}/complete", srv.handleComplete)

	mux.HandleFunc("GET /api/v1/resources/{id}/bookings", srv.handleResourceBookings)
	mux.HandleFunc("GET /api/v1/resources/{id}/availability", srv.handleAvailability)
	mux.HandleFunc("GET /api/v1/requesters/{id}/bookings", srv.handleRequesterBookings)
	mux.HandleFunc("GET /api/v1/vendors/{id}/bookings", srv.handleVendorBookings)
	mux.HandleFunc("GET /api/v1/vendors/{id}/stats", srv.handleVendorStats)
	mux.HandleFunc("GET /api/v1/vendors/{id}/feed", srv.handleVendorFeed)

	handler := loggingMiddleware(mux, srv.logger, recoverMiddleware(srv.logger, srv.auth.Wrap(mux)))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

// Handler returns the fully wrapped handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}
