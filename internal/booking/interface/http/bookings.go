package http

import (
	"net/http"

	"carpool/internal/booking/service"
	"carpool/pkg/logger"
)

// RequestBookingRequest represents the HTTP request for reserving seats
type RequestBookingRequest struct {
	Seats int `json:"seats"`
}

// RequestBooking handles POST /trips/{trip_id}/bookings
func (h *Handler) RequestBooking(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := callerID(w, r)
	if !ok {
		return
	}
	if !h.allow(w, requesterID) {
		return
	}
	tripID := r.PathValue("trip_id")

	var req RequestBookingRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	booking, err := h.bookings.RequestBooking(r.Context(), service.RequestBookingCommand{
		TripID:      tripID,
		RequesterID: requesterID,
		Seats:       req.Seats,
	})
	if err != nil {
		h.writeDomainError(w, "request_booking_failed", err, logger.LogFields{
			"trip_id":      tripID,
			"requester_id": requesterID,
		})
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

// ListTripBookings handles GET /trips/{trip_id}/bookings
func (h *Handler) ListTripBookings(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := callerID(w, r)
	if !ok {
		return
	}
	tripID := r.PathValue("trip_id")

	bookings, err := h.bookings.ListBookingsForTrip(r.Context(), tripID, ownerID)
	if err != nil {
		h.writeDomainError(w, "list_trip_bookings_failed", err, logger.LogFields{"trip_id": tripID})
		return
	}
	writeJSON(w, http.StatusOK, bookings)
}

// ListMyBookings handles GET /me/bookings
func (h *Handler) ListMyBookings(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := callerID(w, r)
	if !ok {
		return
	}
	bookings, err := h.bookings.ListMyBookings(r.Context(), requesterID)
	if err != nil {
		h.writeDomainError(w, "list_my_bookings_failed", err, logger.LogFields{"requester_id": requesterID})
		return
	}
	writeJSON(w, http.StatusOK, bookings)
}

// ResolveBookingRequest carries the owner's decision: CONFIRM or CANCEL.
type ResolveBookingRequest struct {
	Decision string `json:"decision"`
}

// ResolveBooking handles POST /bookings/{booking_id}/resolve
func (h *Handler) ResolveBooking(w http.ResponseWriter, r *http.Request) {
	resolverID, ok := callerID(w, r)
	if !ok {
		return
	}
	bookingID := r.PathValue("booking_id")

	var req ResolveBookingRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	booking, err := h.bookings.ResolveBooking(r.Context(), service.ResolveBookingCommand{
		BookingID:  bookingID,
		ResolverID: resolverID,
		Decision:   req.Decision,
	})
	if err != nil {
		h.writeDomainError(w, "resolve_booking_failed", err, logger.LogFields{
			"booking_id":  bookingID,
			"resolver_id": resolverID,
		})
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// CancelBooking handles POST /bookings/{booking_id}/cancel
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	bookingID := r.PathValue("booking_id")

	booking, err := h.bookings.CancelConfirmedBooking(r.Context(), bookingID, userID)
	if err != nil {
		h.writeDomainError(w, "cancel_booking_failed", err, logger.LogFields{"booking_id": bookingID})
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// WithdrawBooking handles POST /bookings/{booking_id}/withdraw
func (h *Handler) WithdrawBooking(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	bookingID := r.PathValue("booking_id")

	booking, err := h.bookings.WithdrawBooking(r.Context(), bookingID, userID)
	if err != nil {
		h.writeDomainError(w, "withdraw_booking_failed", err, logger.LogFields{"booking_id": bookingID})
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// BookingHistory handles GET /bookings/{booking_id}/events
func (h *Handler) BookingHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	bookingID := r.PathValue("booking_id")

	events, err := h.bookings.BookingHistory(r.Context(), bookingID, userID)
	if err != nil {
		h.writeDomainError(w, "booking_history_failed", err, logger.LogFields{"booking_id": bookingID})
		return
	}
	writeJSON(w, http.StatusOK, events)
}
