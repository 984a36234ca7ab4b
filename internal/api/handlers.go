package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"marketbook/internal/domain"
	"marketbook/internal/models"
	"marketbook/internal/service"
)

const defaultFeedLimit = 50

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidSelection), errors.Is(err, domain.ErrInvalidSlot):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrResourceNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSlotUnavailable),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrDuplicateRequest),
		errors.Is(err, domain.ErrHoldNotFound),
		errors.Is(err, domain.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		writeError(w, code, "internal error")
		return
	}
	writeError(w, code, err.Error())
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type quoteRequest struct {
	ResourceID string            `json:"resource_id"`
	Selections models.Selections `json:"selections"`
}

func (s *HTTPServer) handleQuote(w http.ResponseWriter, r *http.Request) {
	var body quoteRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(body.ResourceID) == "" {
		writeError(w, http.StatusBadRequest, "resource_id is required")
		return
	}

	q, err := s.svc.Quote(r.Context(), body.ResourceID, body.Selections)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// bookingRequest accepts the slot either as RFC 3339 bounds or as a
// date with HH:MM start and end in the server's location.
type bookingRequest struct {
	RequestID   string            `json:"request_id"`
	ResourceID  string            `json:"resource_id"`
	RequesterID string            `json:"requester_id"`
	Slot        *models.TimeSlot  `json:"slot"`
	Date        string            `json:"date"`
	StartTime   string            `json:"start_time"`
	EndTime     string            `json:"end_time"`
	Selections  models.Selections `json:"selections"`
}

func (b bookingRequest) slot(loc *time.Location) (models.TimeSlot, error) {
	if b.Slot != nil {
		return *b.Slot, nil
	}
	if b.Date == "" {
		return models.TimeSlot{}, fmt.Errorf("slot or date is required")
	}
	return models.NewTimeSlot(b.Date, b.StartTime, b.EndTime, loc)
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var body bookingRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(body.ResourceID) == "" || strings.TrimSpace(body.RequesterID) == "" {
		writeError(w, http.StatusBadRequest, "resource_id and requester_id are required")
		return
	}
	slot, err := body.slot(s.location)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	b, err := s.svc.RequestBooking(r.Context(), service.RequestInput{
		RequestID:   body.RequestID,
		ResourceID:  body.ResourceID,
		RequesterID: body.RequesterID,
		Slot:        slot,
		Selections:  body.Selections,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.GetBooking(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type respondRequest struct {
	VendorID string          `json:"vendor_id"`
	Decision models.Decision `json:"decision"`
}

func (s *HTTPServer) handleRespond(w http.ResponseWriter, r *http.Request) {
	var body respondRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.VendorID == "" {
		writeError(w, http.StatusBadRequest, "vendor_id is required")
		return
	}
	if body.Decision != models.DecisionAccept && body.Decision != models.DecisionDecline {
		writeError(w, http.StatusBadRequest, "decision must be accept or decline")
		return
	}

	b, err := s.svc.RespondToBooking(r.Context(), r.PathValue("id"), body.VendorID, body.Decision)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type cancelRequest struct {
	ActorID string `json:"actor_id"`
}

func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	var body cancelRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.ActorID == "" {
		writeError(w, http.StatusBadRequest, "actor_id is required")
		return
	}

	b, err := s.svc.CancelBooking(r.Context(), r.PathValue("id"), body.ActorID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleComplete(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.MarkCompleted(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleResourceBookings(w http.ResponseWriter, r *http.Request) {
	writeBookings(w, s.svc.ListByResource(r.Context(), r.PathValue("id")))
}

func (s *HTTPServer) handleRequesterBookings(w http.ResponseWriter, r *http.Request) {
	writeBookings(w, s.svc.ListByRequester(r.Context(), r.PathValue("id")))
}

func (s *HTTPServer) handleVendorBookings(w http.ResponseWriter, r *http.Request) {
	writeBookings(w, s.svc.ListByVendor(r.Context(), r.PathValue("id")))
}

func writeBookings(w http.ResponseWriter, bookings []*models.Booking) {
	if bookings == nil {
		bookings = []*models.Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *HTTPServer) handleVendorStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.VendorStats(r.Context(), r.PathValue("id")))
}

// handleAvailability takes either ?date=YYYY-MM-DD (the whole day) or
// ?from=&to= in RFC 3339.
func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	window, err := s.window(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	claims, err := s.svc.Availability(r.Context(), r.PathValue("id"), window)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resource_id": r.PathValue("id"),
		"window":      window,
		"claims":      claims,
	})
}

func (s *HTTPServer) window(r *http.Request) (models.TimeSlot, error) {
	q := r.URL.Query()
	if date := strings.TrimSpace(q.Get("date")); date != "" {
		day, err := time.ParseInLocation(models.DateFormat, date, s.location)
		if err != nil {
			return models.TimeSlot{}, fmt.Errorf("invalid date format; expected YYYY-MM-DD")
		}
		return models.TimeSlot{Start: day, End: day.AddDate(0, 0, 1)}, nil
	}

	from, err := time.Parse(time.RFC3339, strings.TrimSpace(q.Get("from")))
	if err != nil {
		return models.TimeSlot{}, fmt.Errorf("from must be RFC 3339")
	}
	to, err := time.Parse(time.RFC3339, strings.TrimSpace(q.Get("to")))
	if err != nil {
		return models.TimeSlot{}, fmt.Errorf("to must be RFC 3339")
	}
	return models.TimeSlot{Start: from, End: to}, nil
}

func (s *HTTPServer) handleVendorFeed(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		writeError(w, http.StatusServiceUnavailable, "event feed is not configured")
		return
	}

	limit := int64(defaultFeedLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	evs, err := s.feed.VendorFeed(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if evs == nil {
		evs = []models.BookingEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs})
}
